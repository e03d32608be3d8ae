package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/second-state/echokit-box/domain/entities"
)

func TestCommandEncoding(t *testing.T) {
	payload, err := EncodeCommand(ClientCommand{Type: CommandHello, SessionID: "s-1"})
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["type"] != CommandHello {
		t.Errorf("Expected type %s, got %s", CommandHello, decoded["type"])
	}
	if decoded["session_id"] != "s-1" {
		t.Errorf("Expected session id s-1, got %s", decoded["session_id"])
	}
}

func TestServerMessageDecode(t *testing.T) {
	payload, err := EncodeServerMessage(ServerMessage{Type: ServerASR, Text: "turn on the light"})
	if err != nil {
		t.Fatalf("EncodeServerMessage: %v", err)
	}
	msg, err := DecodeServerMessage(payload)
	if err != nil {
		t.Fatalf("DecodeServerMessage: %v", err)
	}
	if msg.Type != ServerASR || msg.Text != "turn on the light" {
		t.Errorf("Unexpected message %+v", msg)
	}
}

func TestServerMessageDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeServerMessage([]byte{0xc1, 0x00, 0x01})
	if !errors.Is(err, entities.ErrProtocol) {
		t.Errorf("Expected ErrProtocol, got %v", err)
	}

	// Structurally valid msgpack without a type field is still a protocol
	// error.
	empty, err := EncodeServerMessage(ServerMessage{})
	if err != nil {
		t.Fatalf("EncodeServerMessage: %v", err)
	}
	if _, err := DecodeServerMessage(empty); !errors.Is(err, entities.ErrProtocol) {
		t.Errorf("Expected ErrProtocol for missing type, got %v", err)
	}
}

func TestChunkFraming(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	framed := EncodeChunk(7, pcm)

	seq, payload, err := DecodeChunk(framed)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if seq != 7 {
		t.Errorf("Expected seq 7, got %d", seq)
	}
	if !bytes.Equal(payload, pcm) {
		t.Errorf("Expected payload %v, got %v", pcm, payload)
	}

	if _, _, err := DecodeChunk([]byte{0x00}); !errors.Is(err, entities.ErrProtocol) {
		t.Errorf("Expected ErrProtocol for short chunk, got %v", err)
	}
}
