package rtc

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"gopkg.in/hraban/opus.v2"

	"github.com/ChaoticNebula5/Janmitra/internal/log"
)

const (
	// InputSampleRate is the PCM rate delivered to OnMicPCM callbacks.
	InputSampleRate = 16000

	controlLabel = "control"
)

var (
	ErrInvalidOffer  = errors.New("rtc: invalid offer")
	ErrNoDataChannel = errors.New("rtc: no open data channel")
	ErrNoLocalAnswer = errors.New("rtc: no local description")
)

// SessionDescription keeps webrtc types out of the HTTP layer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Connection is one browser peer: a remote microphone track, a local bot
// audio track and the data channels the client opens.
type Connection struct {
	id       string
	pc       *webrtc.PeerConnection
	outTrack *webrtc.TrackLocalStaticSample

	mu             sync.Mutex
	appChannel     *webrtc.DataChannel
	onMic          func(pcm []byte)
	onApp          func(data []byte)
	onControl      func(cmd string)
	onCandidate    func(*webrtc.ICECandidateInit)
	onConnected    []func()
	onDisconnected []func()
	connected      bool
	disconnected   bool
}

func NewConnection(servers []webrtc.ICEServer) (*Connection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	if len(servers) == 0 {
		servers = defaultICEServers()
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: OutputSampleRate, Channels: 1},
		"bot-audio", "janmitra",
	)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return nil, err
	}

	c := &Connection{
		id:       ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		pc:       pc,
		outTrack: outTrack,
	}
	pc.OnConnectionStateChange(c.handleState)
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Debug("ice state", "conn", c.id, "state", state.String())
	})
	pc.OnDataChannel(c.handleDataChannel)
	pc.OnTrack(c.handleTrack)
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.mu.Lock()
		fn := c.onCandidate
		c.mu.Unlock()
		if fn == nil {
			return
		}
		if cand == nil {
			fn(nil)
			return
		}
		init := cand.ToJSON()
		fn(&init)
	})
	return c, nil
}

func (c *Connection) ID() string { return c.id }

// Initialize answers offer after ICE gathering completes, so the answer
// carries every local candidate.
func (c *Connection) Initialize(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if err := c.setOffer(offer); err != nil {
		return SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return SessionDescription{}, ctx.Err()
	}
	return c.localAnswer()
}

// AcceptOffer answers offer immediately. Local candidates follow through
// OnICECandidate.
func (c *Connection) AcceptOffer(offer SessionDescription) (SessionDescription, error) {
	if err := c.setOffer(offer); err != nil {
		return SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return SessionDescription{}, err
	}
	return c.localAnswer()
}

func (c *Connection) setOffer(offer SessionDescription) error {
	if !strings.EqualFold(offer.Type, "offer") || offer.SDP == "" {
		return ErrInvalidOffer
	}
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP})
}

func (c *Connection) localAnswer() (SessionDescription, error) {
	local := c.pc.LocalDescription()
	if local == nil {
		return SessionDescription{}, ErrNoLocalAnswer
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

func (c *Connection) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

// OnICECandidate registers fn for trickled local candidates. fn(nil) marks
// the end of gathering.
func (c *Connection) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

// OnMicPCM registers fn for decoded 16kHz mono microphone audio.
func (c *Connection) OnMicPCM(fn func(pcm []byte)) {
	c.mu.Lock()
	c.onMic = fn
	c.mu.Unlock()
}

// OnAppMessage registers fn for messages on the application data channel.
func (c *Connection) OnAppMessage(fn func(data []byte)) {
	c.mu.Lock()
	c.onApp = fn
	c.mu.Unlock()
}

// OnControl registers fn for commands on the "control" data channel.
func (c *Connection) OnControl(fn func(cmd string)) {
	c.mu.Lock()
	c.onControl = fn
	c.mu.Unlock()
}

// OnConnected runs fn once the peer connects, immediately if it already has.
func (c *Connection) OnConnected(fn func()) {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		fn()
		return
	}
	c.onConnected = append(c.onConnected, fn)
	c.mu.Unlock()
}

// OnDisconnected runs fn once the peer is gone, immediately if it already is.
func (c *Connection) OnDisconnected(fn func()) {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		fn()
		return
	}
	c.onDisconnected = append(c.onDisconnected, fn)
	c.mu.Unlock()
}

// NewAudioSink returns a paced Opus writer on the bot audio track.
func (c *Connection) NewAudioSink() (AudioSink, error) {
	return NewOpusPacedWriter(c.outTrack)
}

// SendAppMessage sends v as JSON on the application data channel.
func (c *Connection) SendAppMessage(v any) error {
	c.mu.Lock()
	dc := c.appChannel
	c.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNoDataChannel
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return dc.SendText(string(data))
}

func (c *Connection) Close() error {
	err := c.pc.Close()
	c.markDisconnected()
	return err
}

func (c *Connection) handleState(state webrtc.PeerConnectionState) {
	log.Info("peer connection state", "conn", c.id, "state", state.String())
	switch state {
	case webrtc.PeerConnectionStateConnected:
		c.mu.Lock()
		if c.connected || c.disconnected {
			c.mu.Unlock()
			return
		}
		c.connected = true
		fns := c.onConnected
		c.onConnected = nil
		c.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
		c.markDisconnected()
		if state != webrtc.PeerConnectionStateClosed {
			_ = c.pc.Close()
		}
	}
}

func (c *Connection) markDisconnected() {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	fns := c.onDisconnected
	c.onDisconnected = nil
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Connection) handleDataChannel(dc *webrtc.DataChannel) {
	log.Debug("data channel opened", "conn", c.id, "label", dc.Label())
	if dc.Label() == controlLabel {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			cmd := strings.TrimSpace(strings.ToLower(string(msg.Data)))
			c.mu.Lock()
			fn := c.onControl
			c.mu.Unlock()
			if fn != nil {
				fn(cmd)
			}
		})
		return
	}
	c.mu.Lock()
	c.appChannel = dc
	c.mu.Unlock()
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.mu.Lock()
		fn := c.onApp
		c.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
}

func (c *Connection) handleTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if remote.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	log.Info("remote audio track", "conn", c.id, "codec", remote.Codec().MimeType)
	dec, err := opus.NewDecoder(InputSampleRate, 1)
	if err != nil {
		log.Error("opus decoder", "conn", c.id, "err", err)
		return
	}
	go c.readMic(remote, dec)
}

func (c *Connection) readMic(remote *webrtc.TrackRemote, dec *opus.Decoder) {
	// 120ms is the longest opus packet
	samples := make([]int16, InputSampleRate*120/1000)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			log.Debug("rtp read stopped", "conn", c.id, "err", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, samples)
		if err != nil {
			log.Debug("opus decode", "conn", c.id, "err", err)
			continue
		}
		c.mu.Lock()
		fn := c.onMic
		c.mu.Unlock()
		if fn == nil || n == 0 {
			continue
		}
		pcm := make([]byte, n*2)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(samples[i]))
		}
		fn(pcm)
	}
}
