package core

import "context"

// Readiness is the barrier shared by the whole peer set. Each node marks itself
// ready once it is listening, and no node starts round 1 before AllReady holds.
type Readiness interface {
	SetReady(ctx context.Context, nodeId NodeId) error
	AllReady(ctx context.Context) (bool, error)
}
