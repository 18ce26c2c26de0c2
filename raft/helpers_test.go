package raft

import "github.com/gyuho/raftcore/raft/raftpb"

// mkEntry is a terse constructor for test log entries.
func mkEntry(index, term uint64, data string) raftpb.LogEntry {
	return raftpb.LogEntry{Index: index, Term: term, Data: []byte(data)}
}

// mkLog builds a Log from oldest-first entries, matching how a test
// case usually wants to describe a log.
func mkLog(entries ...raftpb.LogEntry) Log {
	var l Log
	return l.appended(entries...)
}
