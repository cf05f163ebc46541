package benor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/usernamenenad/bft-benor/core"
)

var ErrDuplicateMessage = errors.New("duplicate message")

// Store is the round inbox of a node. Messages are grouped by round and phase and
// only the first message of each sender per group is kept.
type Store struct {
	mu       sync.RWMutex
	messages map[string][]core.Message
	senders  map[string]map[core.NodeId]struct{}
}

func NewStore() *Store {
	return &Store{
		messages: make(map[string][]core.Message),
		senders:  make(map[string]map[core.NodeId]struct{}),
	}
}

// Key identifies the inbox of one round and phase.
func Key(round core.Round, mt MessageType) string {
	return fmt.Sprintf("%d-%s", round, mt)
}

func (s *Store) AddMessage(msg core.Message) error {
	m, ok := msg.(*Message)
	if !ok {
		return fmt.Errorf("unsupported message type: %T", msg)
	}

	key := Key(m.Round, m.MessageType)

	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.senders[key]
	if !ok {
		from = make(map[core.NodeId]struct{})
		s.senders[key] = from
	}
	if _, seen := from[m.From]; seen {
		return fmt.Errorf("%w: %s from %d in round %d", ErrDuplicateMessage, m.MessageType, m.From, m.Round)
	}

	from[m.From] = struct{}{}
	s.messages[key] = append(s.messages[key], m)

	return nil
}

func (s *Store) GetMessagesByKey(key string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]core.Message, len(s.messages[key]))
	copy(msgs, s.messages[key])

	return msgs, nil
}
