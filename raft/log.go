package raft

import "github.com/gyuho/raftcore/raft/raftpb"

// lastLogIndexAndTerm returns the (index, term) of the last entry in
// the log, or (0, 0) for an empty log.
func (l Log) lastLogIndexAndTerm() (index, term uint64) {
	if len(l.entries) == 0 {
		return 0, 0
	}
	last := l.entries[0]
	return last.Index, last.Term
}

// lastIndex returns the index of the last entry, or 0 for an empty log.
func (l Log) lastIndex() uint64 {
	index, _ := l.lastLogIndexAndTerm()
	return index
}

// entryAt returns the entry at the given index and true, or the zero
// entry and false if index is out of range (including index == 0).
func (l Log) entryAt(index uint64) (raftpb.LogEntry, bool) {
	if index == 0 || index > uint64(len(l.entries)) {
		return raftpb.LogEntry{}, false
	}
	// entries is newest-first: index 1 is the last element.
	pos := uint64(len(l.entries)) - index
	return l.entries[pos], true
}

// termAt returns the term of the entry at index, or 0 if index is 0
// (the term a leaderless log has "before" its first entry).
func (l Log) termAt(index uint64) uint64 {
	if index == 0 {
		return 0
	}
	e, ok := l.entryAt(index)
	if !ok {
		return 0
	}
	return e.Term
}

// tailFrom returns the entries with index > sinceIndex, oldest first.
func (l Log) tailFrom(sinceIndex uint64) []raftpb.LogEntry {
	lastIdx := l.lastIndex()
	if sinceIndex >= lastIdx {
		return nil
	}
	count := lastIdx - sinceIndex
	out := make([]raftpb.LogEntry, count)
	// entries[0] is lastIdx; we want [sinceIndex+1 .. lastIdx] oldest first.
	for i := range out {
		// oldest-first position i corresponds to index sinceIndex+1+i,
		// which lives at newest-first position lastIdx - (sinceIndex+1+i).
		pos := lastIdx - (sinceIndex + 1 + uint64(i))
		out[i] = l.entries[pos]
	}
	return out
}

// appended returns a new Log with entries appended to the tail. Index
// and Term on the appended entries are trusted as given; callers that
// construct entries locally (the leader, in add_log) are responsible
// for stamping them with the correct index/term first.
func (l Log) appended(entries ...raftpb.LogEntry) Log {
	if len(entries) == 0 {
		return l
	}
	next := make([]raftpb.LogEntry, 0, len(l.entries)+len(entries))
	// newest-first: push the new entries (reverse order) in front.
	for i := len(entries) - 1; i >= 0; i-- {
		next = append(next, entries[i])
	}
	next = append(next, l.entries...)
	return Log{entries: next}
}

// truncatedAfter returns a new Log with every entry whose index is
// strictly greater than keepIndex removed. A leader never calls this
// (leaders only append); only a follower reconciling a leader's prefix
// does.
func (l Log) truncatedAfter(keepIndex uint64) Log {
	lastIdx := l.lastIndex()
	if keepIndex >= lastIdx {
		return l
	}
	drop := lastIdx - keepIndex
	if drop >= uint64(len(l.entries)) {
		return Log{}
	}
	return Log{entries: append([]raftpb.LogEntry(nil), l.entries[drop:]...)}
}

// size returns the number of entries currently in the log.
func (l Log) size() uint64 {
	return uint64(len(l.entries))
}

// NewLog builds a Log from entries given oldest-first — e.g. entries
// read back from durable storage while recovering a server after a
// restart. It is the only way to construct a non-empty Log from
// outside the package, since entries is unexported.
func NewLog(entries ...raftpb.LogEntry) Log {
	var l Log
	return l.appended(entries...)
}

// EntryAt is the exported form of entryAt, for a host applying
// committed entries to its state machine.
func (l Log) EntryAt(index uint64) (raftpb.LogEntry, bool) {
	return l.entryAt(index)
}

// LastIndex is the exported form of lastIndex.
func (l Log) LastIndex() uint64 {
	return l.lastIndex()
}

// EntriesFrom is the exported form of tailFrom: entries with index
// greater than sinceIndex, oldest first. A host persists its log by
// reconciling its durable store against EntriesFrom(0), the full log.
func (l Log) EntriesFrom(sinceIndex uint64) []raftpb.LogEntry {
	return l.tailFrom(sinceIndex)
}
