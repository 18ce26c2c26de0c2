package raft

import (
	"time"

	"github.com/gyuho/raftcore/raft/raftpb"
)

// buildRequestVoteRequests returns, for a Candidate state, one
// RequestVoteRequest addressed to every peer. Panics (via Logger) if
// called on a non-Candidate, since only a Candidate campaigns.
func buildRequestVoteRequests(state RaftState, logger Logger) []raftpb.Message {
	if state.Role.Kind != RoleCandidate {
		logger.Panicf("raft: buildRequestVoteRequests called on non-candidate state (role=%s)", state.Role.Kind)
		return nil
	}

	lastIndex, lastTerm := state.Log.lastLogIndexAndTerm()
	out := make([]raftpb.Message, 0, int(state.Configuration.NumServers)-1)
	for id := uint64(1); id <= uint64(state.Configuration.NumServers); id++ {
		if id == state.ID {
			continue
		}
		out = append(out, raftpb.Message{
			Type: raftpb.MESSAGE_TYPE_REQUEST_VOTE_REQUEST,
			To:   id,
			From: state.ID,
			RequestVoteRequest: &raftpb.RequestVoteRequest{
				CandidateTerm: state.CurrentTerm,
				CandidateID:   state.ID,
				LastLogIndex:  lastIndex,
				LastLogTerm:   lastTerm,
			},
		})
	}
	return out
}

// HandleRequestVoteRequest evaluates an inbound vote request: rejects
// stale candidate terms, steps down to Follower on a strictly greater
// term, then grants the vote only if not already committed to another
// candidate this term and the candidate's log is at least as
// up-to-date as the receiver's own.
func HandleRequestVoteRequest(state RaftState, req *raftpb.RequestVoteRequest, now time.Time, logger Logger) (RaftState, []raftpb.Message) {
	if logger == nil {
		logger = NewNoopLogger()
	}

	// 1. Stale term: reject without changing state.
	if req.CandidateTerm < state.CurrentTerm {
		return state, []raftpb.Message{{
			Type: raftpb.MESSAGE_TYPE_REQUEST_VOTE_RESPONSE,
			To:   req.CandidateID,
			From: state.ID,
			RequestVoteResponse: &raftpb.RequestVoteResponse{
				Term:        state.CurrentTerm,
				VoteGranted: false,
			},
		}}
	}

	// 2. Higher term: step down first, then evaluate the vote at the
	// new term.
	if req.CandidateTerm > state.CurrentTerm {
		state = becomeFollower(state, req.CandidateTerm, NoServerID, now)
	}

	// 3. Grant iff not already voted for someone else this term, and
	// the candidate's log is at least as up-to-date as ours.
	// A Candidate or Leader has voted for itself in its current term.
	votedFor := state.ID
	if state.Role.Kind == RoleFollower {
		votedFor = state.Role.Follower.VotedFor
	}
	canVote := votedFor == NoServerID || votedFor == req.CandidateID

	receiverLastIndex, receiverLastTerm := state.Log.lastLogIndexAndTerm()
	candidateUpToDate := req.LastLogTerm > receiverLastTerm ||
		(req.LastLogTerm == receiverLastTerm && req.LastLogIndex >= receiverLastIndex)

	if !canVote || !candidateUpToDate {
		return state, []raftpb.Message{{
			Type: raftpb.MESSAGE_TYPE_REQUEST_VOTE_RESPONSE,
			To:   req.CandidateID,
			From: state.ID,
			RequestVoteResponse: &raftpb.RequestVoteResponse{
				Term:        state.CurrentTerm,
				VoteGranted: false,
			},
		}}
	}

	// 4. Grant: record the vote, refresh the election deadline so a
	// server that just granted a vote does not immediately time out
	// and start a competing election, reply true.
	next := state
	next.Role = Role{
		Kind: RoleFollower,
		Follower: &FollowerState{
			VotedFor:         req.CandidateID,
			CurrentLeader:    state.Role.Follower.CurrentLeader,
			ElectionDeadline: state.Configuration.jitteredElectionDeadline(now, state.rnd),
		},
	}
	return next, []raftpb.Message{{
		Type: raftpb.MESSAGE_TYPE_REQUEST_VOTE_RESPONSE,
		To:   req.CandidateID,
		From: state.ID,
		RequestVoteResponse: &raftpb.RequestVoteResponse{
			Term:        next.CurrentTerm,
			VoteGranted: true,
		},
	}}
}

// HandleRequestVoteResponse folds a peer's vote response into
// Candidate state, transitioning to Leader once a majority of votes
// (including the candidate's own) has been counted. fromID identifies
// which peer sent resp (Message.From at the call site).
func HandleRequestVoteResponse(state RaftState, resp *raftpb.RequestVoteResponse, fromID uint64, now time.Time, logger Logger) (RaftState, []raftpb.Message) {
	if logger == nil {
		logger = NewNoopLogger()
	}

	// 1. Higher term: step down, emit nothing.
	if resp.Term > state.CurrentTerm {
		return becomeFollower(state, resp.Term, NoServerID, now), nil
	}

	// 2. Wrong role or stale term: ignore.
	if state.Role.Kind != RoleCandidate || resp.Term < state.CurrentTerm {
		return state, nil
	}

	if !resp.VoteGranted {
		return state, nil
	}

	next := state
	cand := *state.Role.Candidate
	cand.VoteCount++
	next.Role = Role{Kind: RoleCandidate, Candidate: &cand}

	if int(cand.VoteCount) < state.Configuration.Majority() {
		return next, nil
	}

	// 3. Majority reached: become Leader and emit the initial heartbeat
	// burst immediately (an empty AppendEntries to every peer), rather
	// than waiting for the caller's next heartbeat-timeout call — this
	// mirrors the "send heartbeats right away on winning" behavior
	// real clusters rely on to avoid a spurious second election.
	next = becomeLeader(next, now)
	peerIDs := make([]uint64, len(next.Role.Leader.Indices))
	for i := range next.Role.Leader.Indices {
		peerIDs[i] = next.Role.Leader.Indices[i].ServerID
	}

	outbound := make([]raftpb.Message, 0, len(peerIDs))
	for _, peerID := range peerIDs {
		var msg *raftpb.Message
		next, msg = buildAppendEntriesRequest(next, peerID, now, logger)
		if msg != nil {
			outbound = append(outbound, *msg)
		}
	}
	return next, outbound
}
