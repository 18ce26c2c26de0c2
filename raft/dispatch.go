package raft

import (
	"time"

	"github.com/gyuho/raftcore/raft/raftpb"
)

// HandleMessage dispatches an inbound Message to the appropriate
// handler in request_vote.go / append_entries.go. It is the single
// entry point a transport-facing host needs for anything that is not
// a timer event.
func HandleMessage(state RaftState, msg raftpb.Message, now time.Time, logger Logger) (RaftState, []raftpb.Message) {
	if logger == nil {
		logger = NewNoopLogger()
	}

	switch msg.Type {
	case raftpb.MESSAGE_TYPE_REQUEST_VOTE_REQUEST:
		return HandleRequestVoteRequest(state, msg.RequestVoteRequest, now, logger)
	case raftpb.MESSAGE_TYPE_REQUEST_VOTE_RESPONSE:
		return HandleRequestVoteResponse(state, msg.RequestVoteResponse, msg.From, now, logger)
	case raftpb.MESSAGE_TYPE_APPEND_ENTRIES_REQUEST:
		return HandleAppendEntriesRequest(state, msg.AppendEntriesRequest, now, logger)
	case raftpb.MESSAGE_TYPE_APPEND_ENTRIES_RESPONSE:
		return HandleAppendEntriesResponse(state, msg.AppendEntriesResponse, msg.From, now, logger)
	default:
		logger.Warningf("raft: %d ignoring message of unknown type %d from %d", state.ID, msg.Type, msg.From)
		return state, nil
	}
}

// HandleNewElectionTimeout fires when a Follower or Candidate's
// election deadline has passed (inclusive of now == deadline): it
// transitions to Candidate and emits a RequestVoteRequest to every
// peer. If the deadline has not yet passed, or the state is already
// Leader, state is returned unchanged with no outbound messages.
func HandleNewElectionTimeout(state RaftState, now time.Time, logger Logger) (RaftState, []raftpb.Message) {
	if logger == nil {
		logger = NewNoopLogger()
	}

	deadline, ok := electionDeadline(state)
	if !ok {
		return state, nil
	}
	if now.Before(deadline) {
		return state, nil
	}

	next := becomeCandidate(state, now)
	return next, buildRequestVoteRequests(next, logger)
}

// HandleHeartbeatTimeout fires for every peer whose heartbeat deadline
// has passed: it builds an AppendEntries request (possibly empty, a
// pure heartbeat) and sends it. A no-op on a non-Leader state.
func HandleHeartbeatTimeout(state RaftState, now time.Time, logger Logger) (RaftState, []raftpb.Message) {
	if logger == nil {
		logger = NewNoopLogger()
	}

	if state.Role.Kind != RoleLeader {
		return state, nil
	}

	peerIDs := make([]uint64, len(state.Role.Leader.Indices))
	for i := range state.Role.Leader.Indices {
		peerIDs[i] = state.Role.Leader.Indices[i].ServerID
	}

	next := state
	var outbound []raftpb.Message
	for _, peerID := range peerIDs {
		idx := next.Role.Leader.indexOf(peerID)
		if idx < 0 || next.Role.Leader.Indices[idx].HeartbeatDeadline.After(now) {
			continue
		}
		var msg *raftpb.Message
		next, msg = buildAppendEntriesRequest(next, peerID, now, logger)
		if msg != nil {
			outbound = append(outbound, *msg)
		}
	}
	return next, outbound
}

// TimeoutKind tags which deadline NextTimeoutEvent reports.
type TimeoutKind uint8

const (
	TimeoutElection TimeoutKind = iota
	TimeoutHeartbeat
)

func (k TimeoutKind) String() string {
	if k == TimeoutHeartbeat {
		return "HeartbeatTimeout"
	}
	return "ElectionTimeout"
}

// TimeoutEvent is the next deadline the caller should wake up for and
// call the matching Handle*Timeout function with.
type TimeoutEvent struct {
	Kind     TimeoutKind
	Deadline time.Time
}

// NextTimeoutEvent returns the earliest relevant deadline for state:
// the election deadline for a Follower or Candidate, or the earliest
// of all peer heartbeat deadlines for a Leader.
func NextTimeoutEvent(state RaftState) TimeoutEvent {
	if state.Role.Kind == RoleLeader {
		earliest := state.Role.Leader.Indices[0].HeartbeatDeadline
		for _, idx := range state.Role.Leader.Indices[1:] {
			if idx.HeartbeatDeadline.Before(earliest) {
				earliest = idx.HeartbeatDeadline
			}
		}
		return TimeoutEvent{Kind: TimeoutHeartbeat, Deadline: earliest}
	}

	deadline, _ := electionDeadline(state)
	return TimeoutEvent{Kind: TimeoutElection, Deadline: deadline}
}

// electionDeadline extracts the current election deadline from a
// Follower or Candidate state. ok is false for a Leader, which has no
// election deadline of its own.
func electionDeadline(state RaftState) (deadline time.Time, ok bool) {
	switch state.Role.Kind {
	case RoleFollower:
		return state.Role.Follower.ElectionDeadline, true
	case RoleCandidate:
		return state.Role.Candidate.ElectionDeadline, true
	default:
		return time.Time{}, false
	}
}

// AddLog is a Leader-only operation that appends data as a new entry
// at the tail of the log, stamped with the leader's current term. It
// returns no outbound messages; the caller is expected to follow up
// with a heartbeat-timeout call (immediately, or on its next natural
// firing) to actually replicate the entry.
//
// Calling AddLog on a non-Leader is a programmer error: the state is
// returned unchanged and the condition is reported through
// Logger.Panicf rather than an error return, since a well-behaved host
// never calls it off the leader it is currently tracking.
func AddLog(state RaftState, data []byte, logger Logger) RaftState {
	if logger == nil {
		logger = NewNoopLogger()
	}

	if state.Role.Kind != RoleLeader {
		logger.Panicf("raft: %d AddLog called while not leader (role=%s)", state.ID, state.Role.Kind)
		return state
	}

	next := state
	entry := raftpb.LogEntry{
		Index: state.Log.lastIndex() + 1,
		Term:  state.CurrentTerm,
		Data:  data,
	}
	next.Log = state.Log.appended(entry)
	next.LogSize = next.Log.size()
	return next
}
