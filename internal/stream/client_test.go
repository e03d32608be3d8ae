package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/second-state/echokit-box/domain/entities"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// newTestBackend runs handler for every websocket connection and returns the
// ws:// address.
func newTestBackend(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// ackHello reads the hello command and answers with hello_ack. Returns the
// session id the client announced.
func ackHello(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("read hello: %v", err)
		return ""
	}
	if mt != websocket.TextMessage {
		t.Errorf("Expected text hello, got message type %d", mt)
	}
	var cmd ClientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		t.Errorf("decode hello: %v", err)
	}
	if cmd.Type != CommandHello {
		t.Errorf("Expected first message to be hello, got %q", cmd.Type)
	}
	ack, _ := EncodeServerMessage(ServerMessage{Type: ServerHelloAck})
	if err := conn.WriteMessage(websocket.BinaryMessage, ack); err != nil {
		t.Errorf("write ack: %v", err)
	}
	return cmd.SessionID
}

func TestConnectHandshake(t *testing.T) {
	gotSession := make(chan string, 1)
	addr := newTestBackend(t, func(conn *websocket.Conn) {
		gotSession <- ackHello(t, conn)
		conn.ReadMessage() // hold the connection open
	})

	client := NewClient(zap.NewNop())
	session := entities.NewSession()
	if err := client.Connect(context.Background(), addr, session); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Abort()

	if client.State() != StateActive {
		t.Errorf("Expected active state, got %v", client.State())
	}
	if got := <-gotSession; got != session.ID {
		t.Errorf("Expected session id %s announced, got %s", session.ID, got)
	}
}

func TestConnectHandshakeTimeout(t *testing.T) {
	addr := newTestBackend(t, func(conn *websocket.Conn) {
		// Swallow hello, never acknowledge.
		conn.ReadMessage()
		time.Sleep(time.Second)
	})

	client := NewClient(zap.NewNop(), WithHandshakeTimeout(100*time.Millisecond))
	err := client.Connect(context.Background(), addr, entities.NewSession())
	if !errors.Is(err, entities.ErrConnection) {
		t.Errorf("Expected ErrConnection on handshake timeout, got %v", err)
	}
	if client.State() != StateDisconnected {
		t.Errorf("Expected disconnected after failed handshake, got %v", client.State())
	}
}

func TestConnectHandshakeRejection(t *testing.T) {
	addr := newTestBackend(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
		reject, _ := EncodeServerMessage(ServerMessage{Type: ServerError, Code: 401})
		conn.WriteMessage(websocket.BinaryMessage, reject)
	})

	client := NewClient(zap.NewNop())
	err := client.Connect(context.Background(), addr, entities.NewSession())
	if !errors.Is(err, entities.ErrProtocol) {
		t.Errorf("Expected ErrProtocol on rejection, got %v", err)
	}
	if client.State() != StateDisconnected {
		t.Errorf("Expected disconnected after rejection, got %v", client.State())
	}
}

func TestSendFrameSequenceOrder(t *testing.T) {
	const frames = 20
	seqs := make(chan uint32, frames)
	addr := newTestBackend(t, func(conn *websocket.Conn) {
		ackHello(t, conn)
		for i := 0; i < frames; i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			seq, _, err := DecodeChunk(data)
			if err != nil {
				t.Errorf("DecodeChunk: %v", err)
				return
			}
			seqs <- seq
		}
	})

	client := NewClient(zap.NewNop())
	session := entities.NewSession()
	if err := client.Connect(context.Background(), addr, session); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Abort()

	for i := 0; i < frames; i++ {
		frame := entities.AudioFrame{Samples: []int16{int16(i), int16(-i)}, Captured: time.Now()}
		if err := client.SendFrame(frame); err != nil {
			t.Fatalf("SendFrame %d: %v", i, err)
		}
	}

	// Strictly increasing with no duplicates or gaps.
	for want := uint32(0); want < frames; want++ {
		select {
		case got := <-seqs:
			if got != want {
				t.Fatalf("Expected seq %d, got %d", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for seq %d", want)
		}
	}
}

func TestDownlinkEvents(t *testing.T) {
	addr := newTestBackend(t, func(conn *websocket.Conn) {
		ackHello(t, conn)
		for _, msg := range []ServerMessage{
			{Type: ServerASR, Text: "hello there"},
			{Type: ServerAudio, Data: []byte{1, 2, 3, 4}},
			{Type: ServerTurnEnd},
		} {
			payload, _ := EncodeServerMessage(msg)
			conn.WriteMessage(websocket.BinaryMessage, payload)
		}
		conn.ReadMessage()
	})

	client := NewClient(zap.NewNop())
	if err := client.Connect(context.Background(), addr, entities.NewSession()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Abort()

	want := []string{ServerASR, ServerAudio, ServerTurnEnd}
	events := client.Events()
	for _, wantType := range want {
		select {
		case evt := <-events:
			if evt.Err != nil {
				t.Fatalf("Unexpected failure event: %v", evt.Err)
			}
			if evt.Msg.Type != wantType {
				t.Fatalf("Expected %s, got %s", wantType, evt.Msg.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for %s", wantType)
		}
	}
}

func TestDrainSendsBye(t *testing.T) {
	bye := make(chan ClientCommand, 1)
	addr := newTestBackend(t, func(conn *websocket.Conn) {
		ackHello(t, conn)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage {
				var cmd ClientCommand
				json.Unmarshal(data, &cmd)
				bye <- cmd
				return
			}
		}
	})

	client := NewClient(zap.NewNop())
	session := entities.NewSession()
	if err := client.Connect(context.Background(), addr, session); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	client.SendFrame(entities.AudioFrame{Samples: []int16{1, 2}})
	client.Drain()

	select {
	case cmd := <-bye:
		if cmd.Type != CommandBye {
			t.Errorf("Expected bye, got %q", cmd.Type)
		}
		if cmd.SessionID != session.ID {
			t.Errorf("Expected session id %s, got %s", session.ID, cmd.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for bye")
	}
}

func TestConnectionDropReportsFailure(t *testing.T) {
	addr := newTestBackend(t, func(conn *websocket.Conn) {
		ackHello(t, conn)
		// Drop the transport without a close handshake.
		conn.UnderlyingConn().Close()
	})

	client := NewClient(zap.NewNop())
	if err := client.Connect(context.Background(), addr, entities.NewSession()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case evt := <-client.Events():
		if !errors.Is(evt.Err, entities.ErrConnection) {
			t.Errorf("Expected ErrConnection, got %v", evt.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for failure event")
	}
	if client.State() != StateDisconnected {
		t.Errorf("Expected disconnected after drop, got %v", client.State())
	}
}

func TestAbortReleasesWritePump(t *testing.T) {
	addr := newTestBackend(t, func(conn *websocket.Conn) {
		ackHello(t, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client := NewClient(zap.NewNop())
	if err := client.Connect(context.Background(), addr, entities.NewSession()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	during := runtime.NumGoroutine()
	client.Abort()

	// Both pumps and the server handler must exit promptly. In particular
	// the write pump must not linger until the next ping tick.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= during-3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("Pump goroutines still running after Abort: %d, was %d", runtime.NumGoroutine(), during)
}

func TestReconnectAfterDropKeepsNewSessionHealthy(t *testing.T) {
	dropping := newTestBackend(t, func(conn *websocket.Conn) {
		ackHello(t, conn)
		conn.UnderlyingConn().Close()
	})
	healthy := newTestBackend(t, func(conn *websocket.Conn) {
		ackHello(t, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client := NewClient(zap.NewNop())
	if err := client.Connect(context.Background(), dropping, entities.NewSession()); err != nil {
		t.Fatalf("Connect first session: %v", err)
	}
	select {
	case evt := <-client.Events():
		if !errors.Is(evt.Err, entities.ErrConnection) {
			t.Fatalf("Expected ErrConnection on first session, got %v", evt.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for first session to fail")
	}
	client.Abort()

	session := entities.NewSession()
	if err := client.Connect(context.Background(), healthy, session); err != nil {
		t.Fatalf("Connect second session: %v", err)
	}
	defer client.Abort()

	if err := client.SendFrame(entities.AudioFrame{Samples: []int16{1, 2}}); err != nil {
		t.Fatalf("SendFrame on second session: %v", err)
	}

	// The first connection's remains must not surface on the new session.
	select {
	case evt := <-client.Events():
		t.Fatalf("Unexpected event on fresh session: msg=%+v err=%v", evt.Msg, evt.Err)
	case <-time.After(300 * time.Millisecond):
	}
	if client.State() != StateActive {
		t.Errorf("Expected second session still active, got %v", client.State())
	}
}
