package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luciancaetano/nyxsignal"
)

// ErrNotObject is returned by Parse for valid JSON that is not an object.
var ErrNotObject = errors.New(nyxsignal.ErrNotJSONObject)

// Message is a structurally parsed client frame. Only the discriminator
// fields are decoded; everything else stays in Raw untouched.
type Message struct {
	// Type is the "type" field when it is a JSON string, empty otherwise.
	Type string
	// Room is the "room" field when it is a JSON string.
	Room string
	// HasRoom reports whether "room" was present and a string.
	HasRoom bool
	// Raw is the original frame with insignificant whitespace removed.
	// Key order and values are preserved.
	Raw []byte
}

// Parse decodes data as a JSON object and extracts "type" and "room".
func Parse(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Message{}, ErrNotObject
		}
		return Message{}, fmt.Errorf("%s: %w", nyxsignal.ErrInvalidMessageFormat, err)
	}
	// "null" decodes into a nil map without error
	if fields == nil {
		return Message{}, ErrNotObject
	}

	var msg Message
	if raw, ok := fields["type"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			msg.Type = s
		}
	}
	if raw, ok := fields["room"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			msg.Room = s
			msg.HasRoom = true
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return Message{}, fmt.Errorf("%s: %w", nyxsignal.ErrInvalidMessageFormat, err)
	}
	msg.Raw = buf.Bytes()
	return msg, nil
}

// IsJoin reports whether the frame asks to join a room, whatever its shape.
func (m Message) IsJoin() bool {
	return m.Type == nyxsignal.TypeJoin
}

// JoinRoom returns the requested room for a well-formed JOIN.
// The second value is false for any other frame or for a JOIN whose room is
// missing, empty or not a string.
func (m Message) JoinRoom() (string, bool) {
	if !m.IsJoin() || !m.HasRoom || m.Room == "" {
		return "", false
	}
	return m.Room, true
}

type notice struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// Notice encodes a relay-originated {"type":kind,"room":room} frame.
// HTML characters are not escaped so the room id round-trips byte for byte.
func Notice(kind, room string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(notice{Type: kind, Room: room}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Joined encodes the acknowledgment sent to a joining connection.
func Joined(room string) ([]byte, error) {
	return Notice(nyxsignal.TypeJoined, room)
}

// PeerJoined encodes the notice sent to the existing members of a room.
func PeerJoined(room string) ([]byte, error) {
	return Notice(nyxsignal.TypePeerJoined, room)
}
