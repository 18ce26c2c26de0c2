package raft

import (
	"math/rand"
	"time"
)

// NewFollower creates a fresh RaftState: Follower role, term 0, empty
// log, with its first election deadline armed from now. seed is
// threaded into the state's jitter source so election timing is
// reproducible across a test run; production callers may seed from
// e.g. the server ID or a crypto-random int64.
func NewFollower(config Configuration, id uint64, now time.Time, seed int64) RaftState {
	st := RaftState{
		ID:            id,
		CurrentTerm:   0,
		Configuration: config,
		rnd:           rand.New(rand.NewSource(seed)),
	}
	st.Role = Role{
		Kind: RoleFollower,
		Follower: &FollowerState{
			VotedFor:         NoServerID,
			CurrentLeader:    NoServerID,
			ElectionDeadline: config.jitteredElectionDeadline(now, st.rnd),
		},
	}
	return st
}

// becomeFollower transitions state to Follower at the given term,
// recording currentLeader (NoServerID if unknown). If the state was a
// Candidate for this exact term, its self-vote is retained (a
// candidate always implicitly voted for itself); otherwise VotedFor is
// cleared. The election deadline is always reset with fresh jitter.
//
// This is also how a Candidate or Leader steps down on observing a
// higher term from a request or response: the caller is expected to
// have already bumped CurrentTerm to request.term / response.term
// before calling, or to pass that term in directly.
func becomeFollower(state RaftState, term uint64, currentLeader uint64, now time.Time) RaftState {
	votedFor := NoServerID
	if state.Role.Kind == RoleCandidate && state.CurrentTerm == term {
		votedFor = state.ID
	}

	next := state
	next.CurrentTerm = term
	next.Role = Role{
		Kind: RoleFollower,
		Follower: &FollowerState{
			VotedFor:         votedFor,
			CurrentLeader:    currentLeader,
			ElectionDeadline: state.Configuration.jitteredElectionDeadline(now, state.rnd),
		},
	}
	return next
}

// becomeCandidate transitions state to Candidate: term is incremented,
// the candidate votes for itself, and a fresh jittered election
// deadline is armed. Used both for a Follower starting its first
// election and for a Candidate whose election timed out without a
// decision (a fresh term, fresh election).
func becomeCandidate(state RaftState, now time.Time) RaftState {
	next := state
	next.CurrentTerm = state.CurrentTerm + 1
	next.Role = Role{
		Kind: RoleCandidate,
		Candidate: &CandidateState{
			VoteCount:        1, // self-vote
			ElectionDeadline: state.Configuration.jitteredElectionDeadline(now, state.rnd),
		},
	}
	return next
}

// becomeLeader transitions state to Leader. For every peer (every
// configured server ID other than state.ID) it initializes a
// ServerIndex with NextIndex = last log index + 1, MatchIndex = 0, no
// outstanding request, and a HeartbeatDeadline of now + heartbeat
// timeout.
//
// becomeLeader itself only arms the deadline; it emits no messages.
// HandleRequestVoteResponse, the only caller, immediately follows it
// with a round of buildAppendEntriesRequest calls so the initial
// (possibly empty) AppendEntries burst goes out the moment a majority
// is reached, rather than waiting on the next heartbeat firing.
func becomeLeader(state RaftState, now time.Time) RaftState {
	next := state
	lastIndex := state.Log.lastIndex()

	peers := make([]ServerIndex, 0, int(state.Configuration.NumServers)-1)
	for id := uint64(1); id <= uint64(state.Configuration.NumServers); id++ {
		if id == state.ID {
			continue
		}
		peers = append(peers, ServerIndex{
			ServerID:          id,
			NextIndex:         lastIndex + 1,
			MatchIndex:        0,
			OutstandingRequest: false,
			HeartbeatDeadline: now.Add(state.Configuration.HeartbeatTimeout),
		})
	}

	next.Role = Role{
		Kind:   RoleLeader,
		Leader: &LeaderState{Indices: peers},
	}
	return next
}
