package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omidkianifarkingkode/flowcast/config"
	"github.com/omidkianifarkingkode/flowcast/protocol"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	conf := &config.Server{}
	conf.ApplyDefaults()

	s, err := New(context.Background(), conf)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func dialPlayer(t *testing.T, ts *httptest.Server, playerID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?player_id=" + playerID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", playerID, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msgType uint16, payload interface{}) {
	t.Helper()
	frame, err := protocol.Encode(&protocol.Message{
		Header:  protocol.Header{Type: msgType, ID: protocol.NextID(), Timestamp: time.Now().UnixMilli()},
		Payload: payload,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// awaitType reads frames until one of the wanted type arrives. Other
// pushes in between are allowed.
func awaitType(t *testing.T, ws *websocket.Conn, want uint16) *protocol.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := ws.SetReadDeadline(deadline); err != nil {
			t.Fatal(err)
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for type 0x%04x: %v", want, err)
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode push: %v", err)
		}
		if msg.Header.Type == want {
			return msg
		}
	}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status %d", resp.StatusCode)
	}
}

func TestWS_RequiresPlayerID(t *testing.T) {
	_, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without player_id should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %+v", resp)
	}
}

func TestWS_PingAnsweredWithPong(t *testing.T) {
	_, ts := newTestServer(t)
	ws := dialPlayer(t, ts, "alice")

	send(t, ws, protocol.TypePing, nil)
	pong := awaitType(t, ws, protocol.TypePong)
	if pong.Header.Timestamp == 0 {
		t.Error("pong should carry a server timestamp")
	}
}

func TestWS_FullMatchFlow(t *testing.T) {
	_, ts := newTestServer(t)
	alice := dialPlayer(t, ts, "alice")
	bob := dialPlayer(t, ts, "bob")

	send(t, alice, protocol.TypeFindMatch, &protocol.FindMatchRequest{Mode: "duel"})
	// Give the first ticket time to land before the second request.
	time.Sleep(50 * time.Millisecond)
	send(t, bob, protocol.TypeFindMatch, &protocol.FindMatchRequest{Mode: "duel"})

	foundA := awaitType(t, alice, protocol.TypeMatchFound).Payload.(*protocol.MatchFound)
	foundB := awaitType(t, bob, protocol.TypeMatchFound).Payload.(*protocol.MatchFound)
	if foundA.MatchID != foundB.MatchID {
		t.Fatalf("players saw different matches: %s vs %s", foundA.MatchID, foundB.MatchID)
	}
	if foundA.ReadyDeadlineMs <= time.Now().UnixMilli() {
		t.Error("ready deadline should be in the future")
	}

	send(t, alice, protocol.TypeReady, &protocol.ReadyRequest{MatchID: foundA.MatchID})
	progress := awaitType(t, bob, protocol.TypeReadyAck).Payload.(*protocol.ReadyAcknowledged)
	if len(progress.ReadyPlayers) != 1 || progress.ReadyPlayers[0] != "alice" {
		t.Errorf("ready progress %v", progress.ReadyPlayers)
	}

	send(t, bob, protocol.TypeReady, &protocol.ReadyRequest{MatchID: foundB.MatchID})
	confA := awaitType(t, alice, protocol.TypeMatchConfirmed).Payload.(*protocol.MatchConfirmed)
	confB := awaitType(t, bob, protocol.TypeMatchConfirmed).Payload.(*protocol.MatchConfirmed)
	if confA.MatchID != foundA.MatchID || confB.MatchID != foundA.MatchID {
		t.Error("confirmation for a different match")
	}
}

func TestWS_CancelNotifiesPeer(t *testing.T) {
	_, ts := newTestServer(t)
	alice := dialPlayer(t, ts, "alice")
	bob := dialPlayer(t, ts, "bob")

	send(t, alice, protocol.TypeFindMatch, &protocol.FindMatchRequest{Mode: "duel"})
	time.Sleep(50 * time.Millisecond)
	send(t, bob, protocol.TypeFindMatch, &protocol.FindMatchRequest{Mode: "duel"})

	found := awaitType(t, alice, protocol.TypeMatchFound).Payload.(*protocol.MatchFound)
	awaitType(t, bob, protocol.TypeMatchFound)

	send(t, alice, protocol.TypeCancelMatch, &protocol.CancelMatchRequest{Mode: "duel"})

	cancelled := awaitType(t, alice, protocol.TypeTicketCancelled).Payload.(*protocol.TicketCancelled)
	if cancelled.Mode != "duel" {
		t.Errorf("cancel ack mode %s", cancelled.Mode)
	}
	aborted := awaitType(t, bob, protocol.TypeMatchAborted).Payload.(*protocol.MatchAborted)
	if aborted.MatchID != found.MatchID {
		t.Errorf("abort for match %s, expected %s", aborted.MatchID, found.MatchID)
	}
	if aborted.Reason != "peer_cancel" {
		t.Errorf("abort reason %s", aborted.Reason)
	}
}

func TestWS_UnknownMatchReadyGetsError(t *testing.T) {
	_, ts := newTestServer(t)
	ws := dialPlayer(t, ts, "alice")

	send(t, ws, protocol.TypeReady, &protocol.ReadyRequest{MatchID: "no-such-match"})
	notice := awaitType(t, ws, protocol.TypeError).Payload.(*protocol.ErrorNotice)
	if notice.Code != "not_found" {
		t.Errorf("error code %s", notice.Code)
	}
}

func TestWS_MalformedFrameGetsError(t *testing.T) {
	_, ts := newTestServer(t)
	ws := dialPlayer(t, ts, "alice")

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
		t.Fatal(err)
	}
	notice := awaitType(t, ws, protocol.TypeError).Payload.(*protocol.ErrorNotice)
	if notice.Code != "validation" {
		t.Errorf("error code %s", notice.Code)
	}
}
