package core

import "context"

type Message interface{}

// Transport carries messages between peers addressed by NodeId.
// Broadcast delivers to every peer and one copy to the sender itself.
type Transport interface {
	Broadcast(ctx context.Context, msg Message) error

	Send(ctx context.Context, nodeId NodeId, msg Message) error

	Subscribe() <-chan Message
}
