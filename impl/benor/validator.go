package benor

import (
	"errors"
	"fmt"
)

var ErrInvalidMessage = errors.New("invalid message")

type Validator struct {
	Config *Config
}

func NewValidator(config *Config) *Validator {
	return &Validator{
		Config: config,
	}
}

// ValidateMessage rejects messages that no honest peer could have produced for
// this peer set. It does not look at node state.
func (v *Validator) ValidateMessage(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil", ErrInvalidMessage)
	}

	switch msg.MessageType {
	case MessageTypePropose, MessageTypeVote:
	default:
		return fmt.Errorf("%w: unknown phase %d", ErrInvalidMessage, msg.MessageType)
	}

	if msg.Round == 0 {
		return fmt.Errorf("%w: round 0", ErrInvalidMessage)
	}

	if msg.From < 0 || uint64(msg.From) >= v.Config.N {
		return fmt.Errorf("%w: sender %d outside peer set of %d", ErrInvalidMessage, msg.From, v.Config.N)
	}

	if !msg.Value.IsValid() {
		return fmt.Errorf("%w: value %s", ErrInvalidMessage, msg.Value)
	}

	// Only votes may carry "?".
	if msg.MessageType == MessageTypePropose && !msg.Value.IsBinary() {
		return fmt.Errorf("%w: proposal of %s", ErrInvalidMessage, msg.Value)
	}

	return nil
}
