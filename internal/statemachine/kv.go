// Package statemachine implements a minimal in-memory key-value store
// as a reference Apply target for committed log entries: every
// committed raftpb.LogEntry.Data is expected to decode into one Command
// and get applied in commit order.
package statemachine

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// CommandKind tags what a Command does.
type CommandKind uint8

const (
	CommandSet CommandKind = iota
	CommandDelete
)

// Command is the decoded form of a log entry's Data.
type Command struct {
	Kind  CommandKind
	Key   string
	Value string
}

// EncodeCommand serializes cmd for use as a raftpb.LogEntry.Data
// payload:
//
//	[0]              kind
//	[1:5]            keyLen (uint32 BE)
//	[5:5+keyLen]     key
//	[5+keyLen:+4]    valueLen (uint32 BE, 0 for delete)
//	[...]            value
func EncodeCommand(cmd Command) ([]byte, error) {
	if len(cmd.Key) == 0 {
		return nil, fmt.Errorf("statemachine: key cannot be empty")
	}
	if len(cmd.Key) > 1024 {
		return nil, fmt.Errorf("statemachine: key too large: %d bytes", len(cmd.Key))
	}

	keyLen := uint32(len(cmd.Key))
	var valueLen uint32
	if cmd.Kind == CommandSet {
		valueLen = uint32(len(cmd.Value))
		if valueLen > 1024*1024 {
			return nil, fmt.Errorf("statemachine: value too large: %d bytes", valueLen)
		}
	}

	buf := make([]byte, 1+4+keyLen+4+valueLen)
	buf[0] = byte(cmd.Kind)
	binary.BigEndian.PutUint32(buf[1:5], keyLen)
	copy(buf[5:5+keyLen], cmd.Key)
	valueOffset := 5 + keyLen
	binary.BigEndian.PutUint32(buf[valueOffset:valueOffset+4], valueLen)
	copy(buf[valueOffset+4:], cmd.Value)
	return buf, nil
}

// DecodeCommand is the inverse of EncodeCommand.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if len(data) < 5 {
		return cmd, fmt.Errorf("statemachine: command too short: %d bytes", len(data))
	}
	cmd.Kind = CommandKind(data[0])

	keyLen := int(binary.BigEndian.Uint32(data[1:5]))
	if keyLen <= 0 || keyLen > 1024 {
		return cmd, fmt.Errorf("statemachine: invalid key length: %d", keyLen)
	}
	if len(data) < 5+keyLen+4 {
		return cmd, fmt.Errorf("statemachine: message too short for key and value length")
	}
	cmd.Key = string(data[5 : 5+keyLen])

	valueOffset := 5 + keyLen
	valueLen := int(binary.BigEndian.Uint32(data[valueOffset : valueOffset+4]))
	if valueLen < 0 || valueLen > 1024*1024 {
		return cmd, fmt.Errorf("statemachine: invalid value length: %d", valueLen)
	}
	if len(data) < valueOffset+4+valueLen {
		return cmd, fmt.Errorf("statemachine: incomplete message for value")
	}
	cmd.Value = string(data[valueOffset+4 : valueOffset+4+valueLen])
	return cmd, nil
}

// KV is a trivial concurrency-safe in-memory key-value store. It has
// no knowledge of Raft: the host loop in cmd/raftnode is responsible
// for calling Apply exactly once, in order, for every newly committed
// entry.
type KV struct {
	mu   sync.RWMutex
	data map[string]string

	// appliedIndex is the index of the last entry Apply has consumed;
	// it lets the host resume applying from the right place after a
	// restart without re-applying (and double-counting) old commands.
	appliedIndex uint64
}

// NewKV returns an empty store.
func NewKV() *KV {
	return &KV{data: make(map[string]string)}
}

// Apply decodes and applies the entry at index, and advances
// AppliedIndex. Applying an index at or below the current
// AppliedIndex is a no-op, so a host can safely re-deliver the tail of
// its committed entries after a restart.
func (kv *KV) Apply(index uint64, data []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if index <= kv.appliedIndex {
		return nil
	}

	cmd, err := DecodeCommand(data)
	if err != nil {
		return err
	}

	switch cmd.Kind {
	case CommandSet:
		kv.data[cmd.Key] = cmd.Value
	case CommandDelete:
		delete(kv.data, cmd.Key)
	default:
		return fmt.Errorf("statemachine: unsupported command kind: %d", cmd.Kind)
	}

	kv.appliedIndex = index
	return nil
}

// Get returns the current value for key and whether it is present.
func (kv *KV) Get(key string) (string, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.data[key]
	return v, ok
}

// AppliedIndex returns the index of the last entry Apply has consumed.
func (kv *KV) AppliedIndex() uint64 {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return kv.appliedIndex
}
