package benor

import (
	"encoding/json"
	"fmt"

	"github.com/usernamenenad/bft-benor/core"
)

// wireMessage is the JSON representation of a protocol message, shared by the
// stream transports and the HTTP control surface.
type wireMessage struct {
	MessageType string `json:"type"`
	From        int    `json:"from"`
	Round       uint64 `json:"k"`
	Value       Value  `json:"x"`
}

// Codec serializes and deserializes Ben-Or messages using JSON.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Marshal(msg core.Message) ([]byte, error) {
	m, ok := msg.(*Message)
	if !ok {
		return nil, fmt.Errorf("unsupported message type: %T", msg)
	}
	return json.Marshal(wireMessage{
		MessageType: m.MessageType.String(),
		From:        int(m.From),
		Round:       uint64(m.Round),
		Value:       m.Value,
	})
}

func (c *Codec) Unmarshal(data []byte) (core.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	mt, ok := ParseMessageType(w.MessageType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown phase %q", ErrInvalidMessage, w.MessageType)
	}

	return &Message{
		MessageType: mt,
		From:        core.NodeId(w.From),
		Round:       core.Round(w.Round),
		Value:       w.Value,
	}, nil
}
