package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v3"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

const defaultSTUN = "stun:stun.l.google.com:19302"

// ICEProvider supplies the ICE servers for a new connection.
type ICEProvider interface {
	ICEServers(ctx context.Context) ([]webrtc.ICEServer, error)
}

func defaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: []string{defaultSTUN}}}
}

// StaticICE is a JSON array of webrtc.ICEServer. Empty or invalid JSON
// falls back to a public STUN server.
type StaticICE string

func (s StaticICE) ICEServers(context.Context) ([]webrtc.ICEServer, error) {
	return parseICEServers(string(s)), nil
}

func parseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return defaultICEServers()
}

type tokenIceServer struct {
	URLs       string
	Username   string
	Credential string
}

type tokenCreator interface {
	createToken() ([]tokenIceServer, error)
}

type twilioTokens struct {
	client *twilio.RestClient
}

func (t twilioTokens) createToken() ([]tokenIceServer, error) {
	tok, err := t.client.Api.CreateToken(&twilioApi.CreateTokenParams{})
	if err != nil {
		return nil, err
	}
	if tok.IceServers == nil {
		return nil, nil
	}
	out := make([]tokenIceServer, 0, len(*tok.IceServers))
	for _, s := range *tok.IceServers {
		urls := s.Urls
		if urls == "" {
			urls = s.Url
		}
		out = append(out, tokenIceServer{URLs: urls, Username: s.Username, Credential: s.Credential})
	}
	return out, nil
}

// TwilioICE fetches short-lived TURN credentials from the Twilio Network
// Traversal Service for every connection.
type TwilioICE struct {
	tokens   tokenCreator
	fallback ICEProvider
}

func NewTwilioICE(accountSID, authToken string, fallback ICEProvider) *TwilioICE {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	if fallback == nil {
		fallback = StaticICE("")
	}
	return &TwilioICE{tokens: twilioTokens{client: client}, fallback: fallback}
}

func (t *TwilioICE) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	servers, err := t.tokens.createToken()
	if err != nil || len(servers) == 0 {
		fb, fbErr := t.fallback.ICEServers(ctx)
		if fbErr != nil {
			return nil, fbErr
		}
		if err != nil {
			return fb, fmt.Errorf("rtc: twilio token: %w", err)
		}
		return fb, nil
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		if s.URLs == "" {
			continue
		}
		srv := webrtc.ICEServer{URLs: []string{s.URLs}}
		if strings.HasPrefix(s.URLs, "turn") {
			srv.Username = s.Username
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out, nil
}
