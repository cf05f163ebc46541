package benor

import (
	"github.com/usernamenenad/bft-benor/core"
)

// Node is the immutable configuration of one peer.
type Node struct {
	id           core.NodeId
	initialValue Value
	faulty       bool
}

func NewNode(nodeId core.NodeId, initialValue Value, faulty bool) *Node {
	return &Node{
		id:           nodeId,
		initialValue: initialValue,
		faulty:       faulty,
	}
}

func (n *Node) GetNodeId() core.NodeId {
	return n.id
}

func (n *Node) InitialValue() Value {
	return n.initialValue
}

func (n *Node) IsFaulty() bool {
	return n.faulty
}
