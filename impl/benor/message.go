package benor

import "github.com/usernamenenad/bft-benor/core"

type MessageType uint8

const (
	MessageTypePropose MessageType = iota
	MessageTypeVote
)

func (mt MessageType) String() string {
	switch mt {
	case MessageTypePropose:
		return "P"
	case MessageTypeVote:
		return "V"
	default:
		return "UNKNOWN"
	}
}

func ParseMessageType(s string) (MessageType, bool) {
	switch s {
	case "P":
		return MessageTypePropose, true
	case "V":
		return MessageTypeVote, true
	default:
		return 0, false
	}
}

type Message struct {
	MessageType MessageType
	From        core.NodeId
	Round       core.Round
	Value       Value
}

func NewPropose(from core.NodeId, round core.Round, value Value) *Message {
	return &Message{
		MessageType: MessageTypePropose,
		From:        from,
		Round:       round,
		Value:       value,
	}
}

func NewVote(from core.NodeId, round core.Round, value Value) *Message {
	return &Message{
		MessageType: MessageTypeVote,
		From:        from,
		Round:       round,
		Value:       value,
	}
}
