package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ChaoticNebula5/Janmitra/internal/config"
	"github.com/ChaoticNebula5/Janmitra/internal/log"
	"github.com/ChaoticNebula5/Janmitra/internal/rtc"
)

const offerTimeout = 15 * time.Second

// SessionStarter takes ownership of a negotiated connection.
type SessionStarter func(conn *rtc.Connection)

// Server bundles HTTP router and dependencies.
type Server struct {
	Router http.Handler

	ice      rtc.ICEProvider
	password string
	start    SessionStarter
}

type offerResponse struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
	PCID string `json:"pc_id"`
}

// New constructs the HTTP server with routes. start may be nil, in which case
// negotiated connections are closed.
func New(cfg config.Config, start SessionStarter) *Server {
	s := &Server{
		ice:      iceProvider(cfg),
		password: cfg.AuthPassword,
		start:    start,
	}
	e := newRouter()

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// Single round-trip offer/answer with full ICE gathering.
	e.Any("/api/offer", s.handleOffer)
	e.Any("/call", s.handleOffer)

	// Trickle ICE over a WebSocket.
	e.GET("/ws", echo.WrapHandler(&rtc.Signaling{
		ICE:          s.ice,
		Password:     cfg.AuthPassword,
		OnConnection: s.startSession,
	}))

	s.Router = e
	return s
}

func iceProvider(cfg config.Config) rtc.ICEProvider {
	static := rtc.StaticICE(cfg.ICEServersJSON)
	if cfg.TwilioEnabled() {
		return rtc.NewTwilioICE(cfg.TwilioAccountSID, cfg.TwilioAuthToken, static)
	}
	return static
}

func (s *Server) handleOffer(c echo.Context) error {
	r := c.Request()
	if r.Method == http.MethodOptions {
		return c.NoContent(http.StatusNoContent)
	}
	if r.Method != http.MethodPost {
		return c.NoContent(http.StatusMethodNotAllowed)
	}
	if !rtcAuthOK(r, s.password) {
		return c.NoContent(http.StatusUnauthorized)
	}

	var offer rtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		log.Warn("invalid offer", "err", err)
		return c.NoContent(http.StatusBadRequest)
	}

	ctx, cancel := context.WithTimeout(r.Context(), offerTimeout)
	defer cancel()

	servers, err := s.ice.ICEServers(ctx)
	if err != nil {
		log.Warn("ice servers", "err", err)
	}
	conn, err := rtc.NewConnection(servers)
	if err != nil {
		log.Error("webrtc connection failed", "err", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	answer, err := conn.Initialize(ctx, offer)
	if err != nil {
		_ = conn.Close()
		if errors.Is(err, rtc.ErrInvalidOffer) {
			return c.NoContent(http.StatusBadRequest)
		}
		log.Error("webrtc handle offer failed", "conn", conn.ID(), "err", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	s.startSession(conn)
	return c.JSON(http.StatusOK, offerResponse{SDP: answer.SDP, Type: answer.Type, PCID: conn.ID()})
}

func (s *Server) startSession(conn *rtc.Connection) {
	if s.start == nil {
		log.Warn("no session starter, closing connection", "conn", conn.ID())
		_ = conn.Close()
		return
	}
	s.start(conn)
}

// rtcAuthOK accepts every request when no password is configured.
func rtcAuthOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	return rtc.CheckAuth(r, expected)
}
