package rtc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/ChaoticNebula5/Janmitra/internal/log"
)

// signalMessage is the WebSocket signaling format.
// Types: "auth", "offer", "answer", "candidate", "ice-complete", "bye", "error".
type signalMessage struct {
	Type     string `json:"type"`
	Password string `json:"password,omitempty"`
	SDP      string `json:"sdp,omitempty"`
	// candidate
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Error         string  `json:"error,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Signaling negotiates connections over a WebSocket with trickle ICE:
// auth (optional), offer, candidates, then bye.
type Signaling struct {
	ICE      ICEProvider
	Password string
	// OnConnection is called with every negotiated connection.
	OnConnection func(*Connection)
}

type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(m signalMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(m)
}

func (w *wsWriter) fail(err error) {
	_ = w.send(signalMessage{Type: "error", Error: err.Error()})
}

func (s *Signaling) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("ws upgrade", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()
	ws := &wsWriter{conn: conn}

	if s.Password != "" && !CheckAuth(r, s.Password) {
		m, err := readSignal(conn)
		if err != nil || m.Type != "auth" || m.Password != s.Password {
			ws.fail(errors.New("unauthorized"))
			return
		}
	}

	var offerSDP string
	for offerSDP == "" {
		m, err := readSignal(conn)
		if err != nil {
			log.Debug("ws read before offer", "err", err)
			return
		}
		switch m.Type {
		case "offer":
			offerSDP = m.SDP
		case "bye":
			return
		}
	}

	ice := s.ICE
	if ice == nil {
		ice = StaticICE("")
	}
	servers, err := ice.ICEServers(r.Context())
	if err != nil {
		log.Warn("ice servers", "err", err)
	}
	pc, err := NewConnection(servers)
	if err != nil {
		ws.fail(err)
		return
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			_ = ws.send(signalMessage{Type: "ice-complete"})
			return
		}
		_ = ws.send(signalMessage{Type: "candidate", Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex})
	})

	answer, err := pc.AcceptOffer(SessionDescription{Type: "offer", SDP: offerSDP})
	if err != nil {
		ws.fail(err)
		_ = pc.Close()
		return
	}
	if err := ws.send(signalMessage{Type: "answer", SDP: answer.SDP}); err != nil {
		log.Warn("ws write answer", "conn", pc.ID(), "err", err)
		_ = pc.Close()
		return
	}
	log.Info("ws signaling connection", "conn", pc.ID())
	if s.OnConnection != nil {
		s.OnConnection(pc)
	}

	done := make(chan struct{})
	pc.OnDisconnected(func() { close(done) })
	go func() {
		// unblocks the reader below once the peer is gone
		<-done
		_ = conn.Close()
	}()
	for {
		m, err := readSignal(conn)
		if err != nil {
			return
		}
		switch m.Type {
		case "candidate":
			if m.Candidate == "" {
				continue
			}
			if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex}); err != nil {
				log.Debug("add ice candidate", "conn", pc.ID(), "err", err)
			}
		case "bye":
			_ = pc.Close()
			return
		}
	}
}

// readSignal reads the next text message. Non-JSON messages are skipped.
func readSignal(conn *websocket.Conn) (signalMessage, error) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return signalMessage{}, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		m.Type = strings.ToLower(m.Type)
		return m, nil
	}
}

// CheckAuth accepts the password as ?password=, a Bearer token or X-Auth-Token.
func CheckAuth(r *http.Request, password string) bool {
	if r == nil || password == "" {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" && q == password {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if strings.TrimSpace(ah[len("Bearer "):]) == password {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == password {
		return true
	}
	return false
}
