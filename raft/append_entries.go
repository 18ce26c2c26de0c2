package raft

import (
	"time"

	"github.com/gyuho/raftcore/raft/raftpb"
)

// buildAppendEntriesRequest builds (and marks outstanding) an
// AppendEntries request for one peer of a Leader. If a request to this
// peer is already outstanding, it returns (state, nil): at most one
// request is ever in flight per peer. Panics (via Logger) if called on
// a non-Leader or an unknown peer.
func buildAppendEntriesRequest(state RaftState, peerID uint64, now time.Time, logger Logger) (RaftState, *raftpb.Message) {
	if state.Role.Kind != RoleLeader {
		logger.Panicf("raft: buildAppendEntriesRequest called on non-leader state (role=%s)", state.Role.Kind)
		return state, nil
	}

	next := state
	leader := *state.Role.Leader
	leader.Indices = append([]ServerIndex(nil), state.Role.Leader.Indices...)
	next.Role = Role{Kind: RoleLeader, Leader: &leader}

	idx := leader.indexOf(peerID)
	if idx < 0 {
		logger.Panicf("raft: buildAppendEntriesRequest: unknown peer %d", peerID)
		return state, nil
	}

	if leader.Indices[idx].OutstandingRequest {
		return state, nil
	}

	prevLogIndex := leader.Indices[idx].NextIndex - 1
	prevLogTerm := next.Log.termAt(prevLogIndex)
	entries := next.Log.tailFrom(prevLogIndex)

	leader.Indices[idx].OutstandingRequest = true
	leader.Indices[idx].HeartbeatDeadline = now.Add(next.Configuration.HeartbeatTimeout)

	msg := &raftpb.Message{
		Type: raftpb.MESSAGE_TYPE_APPEND_ENTRIES_REQUEST,
		To:   peerID,
		From: next.ID,
		AppendEntriesRequest: &raftpb.AppendEntriesRequest{
			LeaderTerm:   next.CurrentTerm,
			LeaderID:     next.ID,
			PrevLogIndex: prevLogIndex,
			PrevLogTerm:  prevLogTerm,
			Entries:      entries,
			LeaderCommit: next.CommitIndex,
		},
	}
	return next, msg
}

// HandleAppendEntriesRequest validates and applies an inbound
// AppendEntries request: rejects stale leader terms, steps down to
// Follower on an equal-or-greater term, checks the log-match
// invariant at PrevLogIndex/PrevLogTerm, truncates and appends on
// success, and advances the commit index from LeaderCommit.
func HandleAppendEntriesRequest(state RaftState, req *raftpb.AppendEntriesRequest, now time.Time, logger Logger) (RaftState, []raftpb.Message) {
	if logger == nil {
		logger = NewNoopLogger()
	}

	// 1. Stale leader term: reject, state unchanged.
	if req.LeaderTerm < state.CurrentTerm {
		lastIndex, lastTerm := state.Log.lastLogIndexAndTerm()
		return state, []raftpb.Message{{
			Type: raftpb.MESSAGE_TYPE_APPEND_ENTRIES_RESPONSE,
			To:   req.LeaderID,
			From: state.ID,
			AppendEntriesResponse: &raftpb.AppendEntriesResponse{
				Term:                 state.CurrentTerm,
				Result:               raftpb.APPEND_RESULT_LOG_FAILURE,
				ReceiverLastLogIndex: lastIndex,
				ReceiverLastLogTerm:  lastTerm,
			},
		}}
	}

	// 2. Valid (or newer) leader: step down to Follower at its term,
	// record it as current leader, refresh the election deadline.
	state = becomeFollower(state, req.LeaderTerm, req.LeaderID, now)

	// 3. Log match check.
	if req.PrevLogIndex > 0 {
		_, ok := matchingEntry(state.Log, req.PrevLogIndex, req.PrevLogTerm)
		if !ok {
			lastIndex, lastTerm := state.Log.lastLogIndexAndTerm()
			return state, []raftpb.Message{{
				Type: raftpb.MESSAGE_TYPE_APPEND_ENTRIES_RESPONSE,
				To:   req.LeaderID,
				From: state.ID,
				AppendEntriesResponse: &raftpb.AppendEntriesResponse{
					Term:                 state.CurrentTerm,
					Result:               raftpb.APPEND_RESULT_LOG_FAILURE,
					ReceiverLastLogIndex: lastIndex,
					ReceiverLastLogTerm:  lastTerm,
				},
			}}
		}
	}

	// 4. Append: truncate any entries past the match point, then
	// append the leader's entries.
	next := state
	next.Log = next.Log.truncatedAfter(req.PrevLogIndex).appended(req.Entries...)
	next.LogSize = next.Log.size()

	// 5. Advance commit index.
	if req.LeaderCommit > next.CommitIndex {
		next.CommitIndex = minUint64(req.LeaderCommit, next.Log.lastIndex())
	}

	// 6. Reply success.
	return next, []raftpb.Message{{
		Type: raftpb.MESSAGE_TYPE_APPEND_ENTRIES_RESPONSE,
		To:   req.LeaderID,
		From: next.ID,
		AppendEntriesResponse: &raftpb.AppendEntriesResponse{
			Term:                 next.CurrentTerm,
			Result:               raftpb.APPEND_RESULT_SUCCESS,
			ReceiverLastLogIndex: next.Log.lastIndex(),
		},
	}}
}

// matchingEntry reports whether the receiver's log has an entry at
// index with exactly the given term.
func matchingEntry(l Log, index, term uint64) (raftpb.LogEntry, bool) {
	e, ok := l.entryAt(index)
	if !ok || e.Term != term {
		return raftpb.LogEntry{}, false
	}
	return e, true
}

// HandleAppendEntriesResponse folds a peer's AppendEntries response
// into leader state: advances NextIndex/MatchIndex and the commit
// index on success, or backs NextIndex off on a log-mismatch failure.
// fromID is the peer that sent resp (Message.From at the call site).
func HandleAppendEntriesResponse(state RaftState, resp *raftpb.AppendEntriesResponse, fromID uint64, now time.Time, logger Logger) (RaftState, []raftpb.Message) {
	if logger == nil {
		logger = NewNoopLogger()
	}

	// 1. Higher term: step down, emit nothing.
	if resp.Term > state.CurrentTerm {
		return becomeFollower(state, resp.Term, NoServerID, now), nil
	}

	// Ignore: wrong role, stale term, or an unknown/no-longer-tracked
	// peer (e.g. after a step-down this response arrived late).
	if state.Role.Kind != RoleLeader || resp.Term < state.CurrentTerm {
		return state, nil
	}

	next := state
	leader := *state.Role.Leader
	leader.Indices = append([]ServerIndex(nil), state.Role.Leader.Indices...)
	next.Role = Role{Kind: RoleLeader, Leader: &leader}

	idx := leader.indexOf(fromID)
	if idx < 0 {
		logger.Warningf("raft: %d dropping append-entries response from untracked peer %d", state.ID, fromID)
		return state, nil
	}

	// 2. Clear outstanding flag regardless of outcome.
	leader.Indices[idx].OutstandingRequest = false

	switch resp.Result {
	case raftpb.APPEND_RESULT_SUCCESS:
		L := resp.ReceiverLastLogIndex
		if L+1 > leader.Indices[idx].NextIndex {
			leader.Indices[idx].NextIndex = L + 1
		} else {
			// A success for an index at or below NextIndex-1 can still
			// arrive (e.g. a retried heartbeat); never move NextIndex
			// backwards from a success reply.
			leader.Indices[idx].NextIndex = maxUint64(leader.Indices[idx].NextIndex, L+1)
		}
		if L > leader.Indices[idx].MatchIndex {
			leader.Indices[idx].MatchIndex = L
		}

		replicationCount := 1 // the leader itself
		for i := range leader.Indices {
			if leader.Indices[i].MatchIndex >= L {
				replicationCount++
			}
		}

		if replicationCount >= next.Configuration.Majority() && next.Log.termAt(L) == next.CurrentTerm {
			if L > next.CommitIndex {
				next.CommitIndex = L
			}
		}

	case raftpb.APPEND_RESULT_LOG_FAILURE:
		nextIndex, matchIndex := backOffTarget(next.Log, resp.ReceiverLastLogIndex, resp.ReceiverLastLogTerm)
		leader.Indices[idx].NextIndex = nextIndex
		leader.Indices[idx].MatchIndex = matchIndex

	case raftpb.APPEND_RESULT_TERM_FAILURE:
		// resp.Term <= state.CurrentTerm was already handled above;
		// a TermFailure that reaches here carries no information
		// beyond "clear outstanding", which has already happened.
	}

	return next, nil
}

// backOffTarget computes the leader's new (NextIndex, MatchIndex) for
// a peer that rejected an AppendEntries with LogFailure{R, T}: search
// the leader's own log for an entry at index R with term T; if found,
// the peer's log is known to match up to and including R.
//
// If not found, jump over the whole conflicting term: because term is
// non-decreasing along a log, any entry with a term strictly below T
// necessarily precedes every entry of term T, so the last such entry
// (at or before R) is a safe place to resume from. Its MatchIndex is
// only a heuristic lower bound, not a confirmed replication fact — the
// next successful AppendEntries response will correct it.
func backOffTarget(leaderLog Log, rejectedIndex, rejectedTerm uint64) (nextIndex, matchIndex uint64) {
	if e, ok := leaderLog.entryAt(rejectedIndex); ok && e.Term == rejectedTerm {
		return rejectedIndex + 1, rejectedIndex
	}

	for index := rejectedIndex; index >= 1; index-- {
		e, ok := leaderLog.entryAt(index)
		if !ok {
			break
		}
		if e.Term < rejectedTerm {
			return index + 1, index
		}
	}
	return 1, 0
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
