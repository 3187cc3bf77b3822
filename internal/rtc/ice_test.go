package rtc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestStaticICE(t *testing.T) {
	servers, err := StaticICE(`[{"urls":["turn:turn.example.org:3478"],"username":"u","credential":"p"}]`).ICEServers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "turn:turn.example.org:3478" || servers[0].Username != "u" {
		t.Fatalf("unexpected servers %+v", servers)
	}

	for _, in := range []string{"", "not-json", "[]"} {
		servers, _ := StaticICE(in).ICEServers(context.Background())
		if len(servers) != 1 || servers[0].URLs[0] != defaultSTUN {
			t.Fatalf("%q: expected STUN fallback, got %+v", in, servers)
		}
	}
}

type fakeTokens struct {
	servers []tokenIceServer
	err     error
}

func (f fakeTokens) createToken() ([]tokenIceServer, error) { return f.servers, f.err }

func TestTwilioICE(t *testing.T) {
	ice := &TwilioICE{
		tokens: fakeTokens{servers: []tokenIceServer{
			{URLs: "stun:global.stun.twilio.com:3478"},
			{URLs: "turn:global.turn.twilio.com:3478?transport=udp", Username: "user", Credential: "secret"},
			{},
		}},
		fallback: StaticICE(""),
	}
	servers, err := ice.ICEServers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %+v", servers)
	}
	if servers[0].Username != "" {
		t.Fatalf("stun entries carry no credentials")
	}
	if servers[1].Username != "user" || servers[1].Credential != "secret" {
		t.Fatalf("unexpected turn entry %+v", servers[1])
	}
}

func TestTwilioICE_FallbackOnError(t *testing.T) {
	ice := &TwilioICE{tokens: fakeTokens{err: errors.New("401")}, fallback: StaticICE("")}
	servers, err := ice.ICEServers(context.Background())
	if err == nil {
		t.Fatalf("expected the token error to be reported")
	}
	if len(servers) != 1 || servers[0].URLs[0] != defaultSTUN {
		t.Fatalf("expected fallback servers, got %+v", servers)
	}
}

func TestCheckAuth(t *testing.T) {
	if CheckAuth(nil, "") {
		t.Fatalf("empty password never authorizes")
	}
	r := httptest.NewRequest(http.MethodGet, "/?password=secret", nil)
	if !CheckAuth(r, "secret") {
		t.Fatalf("expected query password accepted")
	}
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("Authorization", "bearer secret")
	if !CheckAuth(r2, "secret") {
		t.Fatalf("expected bearer accepted")
	}
	r3 := httptest.NewRequest(http.MethodGet, "/", nil)
	r3.Header.Set("X-Auth-Token", "nope")
	if CheckAuth(r3, "secret") {
		t.Fatalf("expected wrong token rejected")
	}
}

func dialSignaling(t *testing.T, s *Signaling) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestSignaling_RejectsBadAuth(t *testing.T) {
	conn := dialSignaling(t, &Signaling{Password: "secret"})
	if err := conn.WriteJSON(signalMessage{Type: "auth", Password: "wrong"}); err != nil {
		t.Fatal(err)
	}
	var m signalMessage
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatal(err)
	}
	if m.Type != "error" || m.Error != "unauthorized" {
		t.Fatalf("unexpected reply %+v", m)
	}
}

func TestSignaling_InvalidOffer(t *testing.T) {
	var got *Connection
	conn := dialSignaling(t, &Signaling{OnConnection: func(c *Connection) { got = c }})
	if err := conn.WriteJSON(signalMessage{Type: "offer", SDP: "v=0 garbage"}); err != nil {
		t.Fatal(err)
	}
	var m signalMessage
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatal(err)
	}
	if m.Type != "error" {
		t.Fatalf("expected error reply, got %+v", m)
	}
	if got != nil {
		t.Fatalf("no connection should be handed out")
	}
}
