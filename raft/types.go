// Package raft implements the consensus core described in the Raft
// paper: leader election, log replication, and commit advancement for a
// fixed-size cluster. It is a pure state transformer — every exported
// entry point takes the current RaftState (and, where relevant, a
// clock reading and a message) and returns a new RaftState plus zero or
// more outbound messages. The package performs no I/O, starts no
// goroutines, and reads no global clock or global RNG.
//
// Everything the core needs from its environment — transport,
// serialization, persistence of current_term/voted_for/log, and the
// state machine that consumes committed entries — is supplied by the
// caller. See the top-level cmd/raftnode for a reference host loop that
// wires a transport and a durable store around this package.
package raft

import (
	"math/rand"
	"time"

	"github.com/gyuho/raftcore/raft/raftpb"
)

// NoServerID is the sentinel server ID meaning "no leader" /
// "no vote cast". Real server IDs are in [1, NumServers] per
// Configuration, so 0 is reserved and never assigned to a real server,
// mirroring how NextIndex 0 is never a valid log position either.
const NoServerID uint64 = 0

// Configuration holds the timing and membership parameters of a
// cluster. It does not change over the lifetime of a RaftState (dynamic
// membership change is out of scope).
type Configuration struct {
	// NumServers is the fixed size of the cluster. Servers are
	// identified by integers in [1, NumServers].
	NumServers uint16

	// ElectionTimeout is the base duration a Follower or Candidate waits
	// for activity from a leader (or for an election to resolve) before
	// starting a new election.
	ElectionTimeout time.Duration

	// ElectionTimeoutRange is the width of the jitter window added to
	// ElectionTimeout: the deadline is ElectionTimeout plus a value
	// drawn uniformly from [-Range/2, +Range/2].
	ElectionTimeoutRange time.Duration

	// HeartbeatTimeout is how often a Leader sends AppendEntries (empty
	// or not) to each follower.
	HeartbeatTimeout time.Duration
}

// Majority returns the number of servers that constitute a quorum:
// floor(NumServers/2) + 1.
func (c Configuration) Majority() int {
	return int(c.NumServers)/2 + 1
}

// jitteredElectionDeadline returns now plus ElectionTimeout, perturbed
// by a uniform random value in [-Range/2, +Range/2]. rnd is supplied by
// the caller (never a package-global) so election timing is
// deterministic under test.
func (c Configuration) jitteredElectionDeadline(now time.Time, rnd *rand.Rand) time.Time {
	jitter := time.Duration(0)
	if c.ElectionTimeoutRange > 0 {
		// rnd.Int63n panics on n<=0; guard and center the draw on 0.
		span := int64(c.ElectionTimeoutRange)
		jitter = time.Duration(rnd.Int63n(span)) - c.ElectionTimeoutRange/2
	}
	return now.Add(c.ElectionTimeout).Add(jitter)
}

// FollowerState is the role-specific state of a Follower.
type FollowerState struct {
	// VotedFor is the candidate this server voted for in the current
	// term, or NoServerID if it has not voted yet this term.
	VotedFor uint64

	// CurrentLeader is the server this follower currently believes is
	// leader, or NoServerID if unknown.
	CurrentLeader uint64

	// ElectionDeadline is the clock reading at which this server will
	// start a new election unless it hears from a leader or grants a
	// vote first.
	ElectionDeadline time.Time
}

// CandidateState is the role-specific state of a Candidate.
type CandidateState struct {
	// VoteCount is the number of votes received so far this term,
	// starting at 1 (the candidate's own self-vote).
	VoteCount uint32

	// ElectionDeadline is the clock reading at which this candidate
	// abandons the current election and starts a new one at a higher
	// term.
	ElectionDeadline time.Time
}

// ServerIndex is the leader's replication bookkeeping for one peer.
// Invariant: MatchIndex < NextIndex, and MatchIndex never decreases
// over the lifetime of a leader term.
type ServerIndex struct {
	ServerID uint64

	// NextIndex is the leader's guess of the next log index to send
	// this peer.
	NextIndex uint64

	// MatchIndex is the highest log index known to be replicated on
	// this peer.
	MatchIndex uint64

	// OutstandingRequest is true while an AppendEntries sent to this
	// peer has not yet been answered. At most one request is ever
	// in-flight per peer; this is the only ordering guarantee the
	// protocol needs between a leader and a given follower.
	OutstandingRequest bool

	// HeartbeatDeadline is the clock reading at which the leader must
	// send (or re-send) an AppendEntries to this peer.
	HeartbeatDeadline time.Time
}

// LeaderState is the role-specific state of a Leader: one ServerIndex
// per peer (every server but itself).
type LeaderState struct {
	Indices []ServerIndex
}

// indexOf returns the position of serverID's ServerIndex in
// ls.Indices, or -1 if serverID is not a tracked peer.
func (ls *LeaderState) indexOf(serverID uint64) int {
	for i := range ls.Indices {
		if ls.Indices[i].ServerID == serverID {
			return i
		}
	}
	return -1
}

// RoleKind tags which variant of Role is populated.
type RoleKind uint8

const (
	RoleFollower RoleKind = iota
	RoleCandidate
	RoleLeader
)

func (k RoleKind) String() string {
	switch k {
	case RoleFollower:
		return "Follower"
	case RoleCandidate:
		return "Candidate"
	case RoleLeader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// Role is a closed tagged union of Follower | Candidate | Leader.
// Exactly the field named by Kind is non-nil. Built and transitioned
// exclusively through Follower.Create/Become, Candidate.Become and
// Leader.Become in transitions.go.
type Role struct {
	Kind RoleKind

	Follower  *FollowerState
	Candidate *CandidateState
	Leader    *LeaderState
}

// Log is the ordered sequence of LogEntry, stored newest-first so the
// last index and term are read from the front in O(1). Appending and
// truncating return a new Log holding a fresh copy of the slice, so
// they cost O(n). Indices are contiguous starting at 1; term is
// non-decreasing walking from index 1 to the tail.
type Log struct {
	// entries holds the log newest-first: entries[0] is the last entry,
	// entries[len(entries)-1] is entry at index 1.
	entries []raftpb.LogEntry
}

// RaftState is the complete state of one Raft server. It is never
// mutated in place by a handler: each handler returns a new RaftState
// logically replacing the one it was given.
type RaftState struct {
	ID uint64

	// CurrentTerm only increases over the lifetime of a RaftState.
	CurrentTerm uint64

	Log Log

	// LogSize duplicates len(Log.entries). It is kept as a field rather
	// than always recomputed because a future on-disk log representation
	// may not support a cheap len(); for today's in-memory Log it is
	// recomputed on every mutation and never persisted on its own.
	LogSize uint64

	// CommitIndex only increases, and never exceeds the last log index.
	CommitIndex uint64

	Role Role

	Configuration Configuration

	// rnd is the jitter source threaded through every election-timeout
	// deadline computed for this state. It is seeded once, in
	// NewFollower, from a caller-supplied seed — never from a package
	// global — so election timing is reproducible under test.
	rnd *rand.Rand
}
