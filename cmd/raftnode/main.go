// Command raftnode runs a single Raft server: it loads a cluster
// configuration, opens its durable store, and drives the pure raft
// core from a single goroutine, persisting every state change before
// any reply goes out over the wire.
package main

import (
	"context"
	"flag"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/gyuho/raftcore/internal/config"
	"github.com/gyuho/raftcore/internal/statemachine"
	"github.com/gyuho/raftcore/internal/storage"
	"github.com/gyuho/raftcore/internal/transport"
	"github.com/gyuho/raftcore/raft"
	"github.com/gyuho/raftcore/raft/raftpb"
	"github.com/gyuho/raftcore/xlog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the node's YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		xlog.NewLogger("raftnode").Fatalf("cannot load configuration: %v", err)
	}

	logger := xlog.NewServerLogger(cfg.Node.ID)

	// runID tags every line from this process invocation, so logs from
	// a crashed-and-restarted server aren't mistaken for a continuous
	// run when correlating across a cluster.
	runID := uuid.New().String()
	logger.Infof("raftnode: starting run %s for server %d", runID, cfg.Node.ID)

	store, err := storage.Open(filepath.Join(cfg.Node.DataDir, "raft.db"))
	if err != nil {
		logger.Fatalf("cannot open storage: %v", err)
	}
	defer store.Close()

	machine := statemachine.NewKV()

	peerAddrs := make(map[uint64]string)
	for _, p := range cfg.Cluster.Peers {
		peerAddrs[p.ID] = p.Address
	}
	sender := transport.NewSender(logger, peerAddrs)

	host := newHost(cfg, store, machine, sender, logger)

	mux := http.NewServeMux()
	mux.Handle(transport.MessagePath(), transport.NewHandler(logger, host.enqueue))

	go func() {
		if err := http.ListenAndServe(cfg.Node.Address, mux); err != nil {
			logger.Fatalf("http server stopped: %v", err)
		}
	}()

	host.run(context.Background())
}

// host owns the single goroutine that is ever allowed to call into the
// raft package for this server. Inbound messages and timer firings are
// both funneled through its inbox so no two calls into raft ever race.
type host struct {
	logger  *xlog.Logger
	store   *storage.Store
	machine *statemachine.KV
	sender  *transport.Sender

	inbox chan raftpb.Message
	state raft.RaftState
}

func newHost(cfg *config.Config, store *storage.Store, machine *statemachine.KV, sender *transport.Sender, logger *xlog.Logger) *host {
	raftConfig := cfg.RaftConfiguration()
	now := time.Now()

	state := raft.NewFollower(raftConfig, cfg.Node.ID, now, int64(cfg.Node.ID))
	state = recoverFromStorage(state, store, logger)

	return &host{
		logger:  logger,
		store:   store,
		machine: machine,
		sender:  sender,
		inbox:   make(chan raftpb.Message, 256),
		state:   state,
	}
}

// recoverFromStorage rebuilds the in-memory RaftState's persisted
// fields (term, vote, log) from the durable store, so a restarted
// process never forgets a vote or a previously-appended entry.
func recoverFromStorage(state raft.RaftState, store *storage.Store, logger *xlog.Logger) raft.RaftState {
	hs, err := store.GetHardState()
	if err != nil {
		logger.Fatalf("cannot recover hard state: %v", err)
	}
	if raftpb.IsEmptyHardState(hs) {
		return state
	}

	state.CurrentTerm = hs.CurrentTerm
	state.CommitIndex = hs.CommitIndex
	if state.Role.Kind == raft.RoleFollower {
		state.Role.Follower.VotedFor = hs.VotedFor
	}

	lastIndex, err := store.LastIndex()
	if err != nil {
		logger.Fatalf("cannot recover log length: %v", err)
	}
	if lastIndex == 0 {
		return state
	}

	entries, err := store.Entries(1, lastIndex+1)
	if err != nil {
		logger.Fatalf("cannot recover log entries: %v", err)
	}
	state.Log = raft.NewLog(entries...)
	state.LogSize = uint64(len(entries))
	return state
}

// enqueue is called from the HTTP handler's goroutine; it only ever
// touches the channel, never host.state directly.
func (h *host) enqueue(msg raftpb.Message) {
	select {
	case h.inbox <- msg:
	default:
		h.logger.Warningf("raftnode: inbox full, dropping message from %d", msg.From)
	}
}

// run is the server's single decision loop: every inbound message and
// every timer firing is handled here, one at a time, with the
// resulting state durably persisted before any reply is sent.
func (h *host) run(ctx context.Context) {
	timer := time.NewTimer(time.Until(raft.NextTimeoutEvent(h.state).Deadline))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.inbox:
			h.step(func(now time.Time) (raft.RaftState, []raftpb.Message) {
				return raft.HandleMessage(h.state, msg, now, h.logger)
			})

		case <-timer.C:
			ev := raft.NextTimeoutEvent(h.state)
			h.step(func(now time.Time) (raft.RaftState, []raftpb.Message) {
				if ev.Kind == raft.TimeoutHeartbeat {
					return raft.HandleHeartbeatTimeout(h.state, now, h.logger)
				}
				return raft.HandleNewElectionTimeout(h.state, now, h.logger)
			})
		}

		timer.Reset(time.Until(raft.NextTimeoutEvent(h.state).Deadline))
	}
}

// step runs one state transition, persists the result, applies any
// newly committed entries, and finally sends the outbound messages —
// in that order, since a reply must never go out before the state it
// depends on is durable.
func (h *host) step(transition func(now time.Time) (raft.RaftState, []raftpb.Message)) {
	prevCommit := h.state.CommitIndex
	next, outbound := transition(time.Now())

	if err := h.persistLog(next.Log); err != nil {
		h.logger.Fatalf("raftnode: failed to persist log: %v", err)
	}

	votedFor := raft.NoServerID
	if next.Role.Kind == raft.RoleFollower {
		votedFor = next.Role.Follower.VotedFor
	}
	if err := h.store.SetHardState(raftpb.HardState{
		CurrentTerm: next.CurrentTerm,
		VotedFor:    votedFor,
		CommitIndex: next.CommitIndex,
	}); err != nil {
		h.logger.Fatalf("raftnode: failed to persist hard state: %v", err)
	}

	h.state = next

	if next.CommitIndex > prevCommit {
		h.applyCommitted(prevCommit+1, next.CommitIndex)
	}

	if len(outbound) > 0 {
		h.sender.Send(context.Background(), outbound)
	}
}

func (h *host) applyCommitted(from, to uint64) {
	for index := from; index <= to; index++ {
		entry, ok := h.state.Log.EntryAt(index)
		if !ok {
			h.logger.Errorf("raftnode: committed index %d missing from in-memory log", index)
			continue
		}
		if err := h.machine.Apply(entry.Index, entry.Data); err != nil {
			h.logger.Errorf("raftnode: apply of index %d failed: %v", index, err)
		}
	}
}

// persistLog reconciles the durable store with log's current content:
// it truncates anything the store has beyond log's new last index,
// then (re-)writes every remaining entry. Append overwrites entries
// that already exist at a given index, so this is safe to call on
// every step even when nothing changed.
func (h *host) persistLog(log raft.Log) error {
	if err := h.store.Truncate(log.LastIndex()); err != nil {
		return err
	}
	return h.store.Append(log.EntriesFrom(0))
}
