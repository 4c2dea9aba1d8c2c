package dispatch

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/omidkianifarkingkode/flowcast/protocol"
	"github.com/omidkianifarkingkode/flowcast/server/registry"
)

func encode(t *testing.T, msg *protocol.Message) []byte {
	t.Helper()
	frame, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return frame
}

func testConn() *registry.Conn {
	return &registry.Conn{PlayerID: "alice"}
}

func TestDispatch_RoutesTypedPayload(t *testing.T) {
	m := NewMux(zerolog.Nop())

	var got *protocol.FindMatchRequest
	Register(m, protocol.TypeFindMatch, func(_ context.Context, conn *registry.Conn, header protocol.Header, payload *protocol.FindMatchRequest) error {
		if conn.PlayerID != "alice" {
			t.Errorf("wrong conn %s", conn.PlayerID)
		}
		if header.ID != 7 {
			t.Errorf("header id %d", header.ID)
		}
		got = payload
		return nil
	})

	frame := encode(t, &protocol.Message{
		Header:  protocol.Header{Type: protocol.TypeFindMatch, ID: 7, Timestamp: 1},
		Payload: &protocol.FindMatchRequest{Mode: "duel"},
	})
	if err := m.Dispatch(context.Background(), testConn(), frame); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got == nil || got.Mode != "duel" {
		t.Fatalf("handler got %+v", got)
	}
}

func TestDispatch_HeaderChainFirstClaimantWins(t *testing.T) {
	m := NewMux(zerolog.Nop())

	var order []string
	m.HandleHeader(func(_ context.Context, _ *registry.Conn, header protocol.Header) bool {
		order = append(order, "first")
		return header.Type == protocol.TypePong
	})
	m.HandleHeader(func(_ context.Context, _ *registry.Conn, _ protocol.Header) bool {
		order = append(order, "second")
		return true
	})

	pong := encode(t, &protocol.Message{Header: protocol.Header{Type: protocol.TypePong, ID: 1}})
	if err := m.Dispatch(context.Background(), testConn(), pong); err != nil {
		t.Fatal(err)
	}
	if len(order) != 1 || order[0] != "first" {
		t.Fatalf("claimed message ran the rest of the chain: %v", order)
	}

	order = nil
	ping := encode(t, &protocol.Message{Header: protocol.Header{Type: protocol.TypePing, ID: 2}})
	if err := m.Dispatch(context.Background(), testConn(), ping); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 {
		t.Fatalf("unclaimed header should fall through: %v", order)
	}
}

func TestDispatch_UnknownTypeDropped(t *testing.T) {
	m := NewMux(zerolog.Nop())

	// Hand-build a frame with an unassigned type.
	frame := make([]byte, protocol.HeaderSize)
	frame[0] = 0x7f
	frame[1] = 0x7f
	if err := m.Dispatch(context.Background(), testConn(), frame); err != nil {
		t.Fatalf("unknown type should be dropped, got %v", err)
	}
}

func TestDispatch_MalformedFrameErrors(t *testing.T) {
	m := NewMux(zerolog.Nop())
	if err := m.Dispatch(context.Background(), testConn(), []byte{0x01, 0x02}); err == nil {
		t.Fatal("truncated frame should error")
	}
}

func TestDispatch_UnregisteredKnownTypeDropped(t *testing.T) {
	m := NewMux(zerolog.Nop())
	frame := encode(t, &protocol.Message{
		Header:  protocol.Header{Type: protocol.TypeReady, ID: 1},
		Payload: &protocol.ReadyRequest{MatchID: "m-1"},
	})
	if err := m.Dispatch(context.Background(), testConn(), frame); err != nil {
		t.Fatalf("known type without handler should be dropped, got %v", err)
	}
}

func TestRegister_PanicsOnDuplicate(t *testing.T) {
	m := NewMux(zerolog.Nop())
	handler := func(context.Context, *registry.Conn, protocol.Header, *protocol.FindMatchRequest) error {
		return nil
	}
	Register(m, protocol.TypeFindMatch, handler)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Register(m, protocol.TypeFindMatch, handler)
}

func TestRegister_PanicsOnHeaderOnlyType(t *testing.T) {
	m := NewMux(zerolog.Nop())
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Register(m, protocol.TypePing, func(context.Context, *registry.Conn, protocol.Header, *protocol.FindMatchRequest) error {
		return nil
	})
}
