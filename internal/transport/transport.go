// Package transport ships raftpb.Message over plain HTTP/1.1, one
// POST per message, using the binary wire format raftpb itself
// defines. It intentionally has none of the stream-connection or
// snapshot-sender machinery the project's own rafthttp package builds
// for its clustered key-value store: a single POST-per-message
// pipeline is all a fixed-size, snapshot-free Raft core needs.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"sync"
	"time"

	"github.com/gyuho/raftcore/raft"
	"github.com/gyuho/raftcore/raft/raftpb"
)

const messagePath = "/raft/message"

// Handler turns inbound POSTs into raft messages, dispatching each
// through dispatch and answering 204 No Content; replies from the core
// travel back as separate POSTs through a Sender.
type Handler struct {
	logger   raft.Logger
	dispatch func(raftpb.Message)
}

// NewHandler returns an http.Handler that unmarshals one raftpb.Message
// per POST body and passes it to dispatch. dispatch is expected to
// route the message into the host's own inbox (see cmd/raftnode); it
// must not block for long, since it runs on the request goroutine.
func NewHandler(logger raft.Logger, dispatch func(raftpb.Message)) *Handler {
	return &Handler{logger: logger, dispatch: dispatch}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := ioutil.ReadAll(req.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request: %v", err), http.StatusBadRequest)
		return
	}

	var msg raftpb.Message
	if err := msg.Unmarshal(body); err != nil {
		h.logger.Warningf("transport: dropping unparsable message: %v", err)
		http.Error(w, fmt.Sprintf("failed to unmarshal message: %v", err), http.StatusBadRequest)
		return
	}

	h.dispatch(msg)
	w.WriteHeader(http.StatusNoContent)
}

// Sender posts outbound messages to peer addresses over HTTP. Failed
// sends are logged and dropped; the transport never retries and never
// reports the failure to the core. A leader keeps OutstandingRequest
// set for a peer whose AppendEntries was dropped until a response from
// that peer arrives, so recovery from a dropped message comes from the
// core's election timeouts, not from the transport layer.
type Sender struct {
	logger      raft.Logger
	client      *http.Client
	mu          sync.RWMutex
	peerAddress map[uint64]string
}

// NewSender builds a Sender addressing peers by the given id->address
// map (the same map internal/config.Config.PeerAddress reads from).
func NewSender(logger raft.Logger, peerAddress map[uint64]string) *Sender {
	return &Sender{
		logger:      logger,
		client:      &http.Client{Timeout: 2 * time.Second},
		peerAddress: peerAddress,
	}
}

// Send delivers msgs, one HTTP POST per message, without waiting for
// responses to arrive in order — each is independent.
func (s *Sender) Send(ctx context.Context, msgs []raftpb.Message) {
	for _, msg := range msgs {
		go s.send(ctx, msg)
	}
}

func (s *Sender) send(ctx context.Context, msg raftpb.Message) {
	s.mu.RLock()
	addr, ok := s.peerAddress[msg.To]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warningf("transport: no known address for peer %d, dropping %s", msg.To, raftpb.DescribeMessage(msg))
		return
	}

	data, err := msg.Marshal()
	if err != nil {
		s.logger.Errorf("transport: cannot marshal %s: %v", raftpb.DescribeMessage(msg), err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+messagePath, bytes.NewReader(data))
	if err != nil {
		s.logger.Errorf("transport: cannot build request to %s: %v", addr, err)
		return
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warningf("transport: send to peer %d (%s) failed: %v", msg.To, addr, err)
		return
	}
	drainAndClose(resp)
}

func drainAndClose(resp *http.Response) {
	ioutil.ReadAll(resp.Body)
	resp.Body.Close()
}

// MessagePath is exposed so a host can mux Handler at the right route.
func MessagePath() string { return messagePath }
