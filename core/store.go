package core

// Store accumulates received protocol messages, grouped by key.
type Store interface {
	AddMessage(msg Message) error
	GetMessagesByKey(key string) ([]Message, error)
}
