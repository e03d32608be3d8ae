// Package stream owns the single outbound session to the backend: the
// websocket connection lifecycle, the handshake, ordered audio-chunk
// transmission and response-message reception.
package stream

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/second-state/echokit-box/domain/entities"
)

// Client command types, sent as JSON text messages.
const (
	CommandHello = "hello"
	CommandBye   = "bye"
)

// ClientCommand is an uplink control message.
type ClientCommand struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// EncodeCommand serializes a client command.
func EncodeCommand(cmd ClientCommand) ([]byte, error) {
	return json.Marshal(cmd)
}

// Server message types, received as msgpack binary messages.
const (
	ServerHelloAck = "hello_ack"
	ServerASR      = "asr"
	ServerAudio    = "audio"
	ServerTurnEnd  = "turn_end"
	ServerError    = "error"
	ServerBye      = "bye"
)

// ServerMessage is a decoded downlink message.
type ServerMessage struct {
	Type string `msgpack:"type"`

	// Text carries recognized speech for ServerASR.
	Text string `msgpack:"text,omitempty"`

	// Data carries decoded response audio for ServerAudio.
	Data []byte `msgpack:"data,omitempty"`

	// Code carries the backend failure code for ServerError.
	Code int `msgpack:"code,omitempty"`
}

// DecodeServerMessage parses a downlink payload. Unknown message types are
// not an error here; the controller ignores what it does not understand.
func DecodeServerMessage(payload []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("%w: %v", entities.ErrProtocol, err)
	}
	if msg.Type == "" {
		return ServerMessage{}, fmt.Errorf("%w: missing message type", entities.ErrProtocol)
	}
	return msg, nil
}

// EncodeServerMessage serializes a downlink message. The client only needs
// this for tests, but the layout is the single source of truth for both
// directions.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	return msgpack.Marshal(msg)
}

// chunkHeaderLen is the uplink binary header: a big-endian sequence number
// in front of the little-endian PCM payload.
const chunkHeaderLen = 4

// EncodeChunk frames one audio chunk for the uplink.
func EncodeChunk(seq uint32, pcm []byte) []byte {
	buf := make([]byte, chunkHeaderLen+len(pcm))
	binary.BigEndian.PutUint32(buf, seq)
	copy(buf[chunkHeaderLen:], pcm)
	return buf
}

// DecodeChunk splits an uplink binary frame into sequence number and PCM
// payload.
func DecodeChunk(payload []byte) (seq uint32, pcm []byte, err error) {
	if len(payload) < chunkHeaderLen {
		return 0, nil, fmt.Errorf("%w: short audio chunk (%d bytes)", entities.ErrProtocol, len(payload))
	}
	return binary.BigEndian.Uint32(payload), payload[chunkHeaderLen:], nil
}
