package core

// Round is a protocol round number. The first round is 1; 0 means "not started".
type Round uint64
