package xlog

import "fmt"

// NewServerLogger returns the Logger a raft server with the given id
// logs through, prefixed so log lines from different servers in the
// same process (as in a test cluster) stay distinguishable.
func NewServerLogger(serverID uint64) *Logger {
	return NewLogger(fmt.Sprintf("raft.server.%d", serverID))
}
