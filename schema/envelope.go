package schema

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformed is returned when a queue value cannot be decoded into an Envelope.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the record carried by every queue entry.
type Envelope struct {
	MessageType string `json:"message_type"`
	Payload     string `json:"payload"`
}

// NewEnvelope creates an Envelope for the given type and payload.
func NewEnvelope(messageType, payload string) Envelope {
	return Envelope{MessageType: messageType, Payload: payload}
}

// Encode renders the envelope as base64 wrapped JSON, the form stored under queue/.
func (e Envelope) Encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

// DecodeEnvelope parses a stored queue value. A missing message_type is malformed.
func DecodeEnvelope(value []byte) (Envelope, error) {
	trimmed := strings.TrimSpace(string(value))
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: json: %v", ErrMalformed, err)
	}
	if env.MessageType == "" {
		return Envelope{}, fmt.Errorf("%w: missing message_type", ErrMalformed)
	}
	return env, nil
}
