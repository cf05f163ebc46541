package core

// NodeId is the index of a peer in the fixed peer set, in [0, N).
type NodeId int

// Represents a general node data interface
type Node interface {
	GetNodeId() NodeId
}
