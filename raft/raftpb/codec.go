package raftpb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Marshal encodes a Message into a flat byte slice. The format is a
// simple tagged binary encoding (not protobuf): a fixed header followed
// by the fields of whichever payload Type selects. It exists so a
// transport can move a Message over any io.Writer without the raft
// package itself importing encoding/*.
func (msg Message) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)

	writeUint8(buf, uint8(msg.Type))
	writeUint64(buf, msg.To)
	writeUint64(buf, msg.From)

	switch msg.Type {
	case MESSAGE_TYPE_REQUEST_VOTE_REQUEST:
		if msg.RequestVoteRequest == nil {
			return nil, fmt.Errorf("raftpb: Marshal: RequestVoteRequest type with nil payload")
		}
		req := msg.RequestVoteRequest
		writeUint64(buf, req.CandidateTerm)
		writeUint64(buf, req.CandidateID)
		writeUint64(buf, req.LastLogIndex)
		writeUint64(buf, req.LastLogTerm)

	case MESSAGE_TYPE_REQUEST_VOTE_RESPONSE:
		if msg.RequestVoteResponse == nil {
			return nil, fmt.Errorf("raftpb: Marshal: RequestVoteResponse type with nil payload")
		}
		resp := msg.RequestVoteResponse
		writeUint64(buf, resp.Term)
		writeBool(buf, resp.VoteGranted)

	case MESSAGE_TYPE_APPEND_ENTRIES_REQUEST:
		if msg.AppendEntriesRequest == nil {
			return nil, fmt.Errorf("raftpb: Marshal: AppendEntriesRequest type with nil payload")
		}
		req := msg.AppendEntriesRequest
		writeUint64(buf, req.LeaderTerm)
		writeUint64(buf, req.LeaderID)
		writeUint64(buf, req.PrevLogIndex)
		writeUint64(buf, req.PrevLogTerm)
		writeUint64(buf, req.LeaderCommit)
		writeUint64(buf, uint64(len(req.Entries)))
		for _, e := range req.Entries {
			writeUint64(buf, e.Index)
			writeUint64(buf, e.Term)
			writeUint64(buf, uint64(len(e.Data)))
			buf.Write(e.Data)
		}

	case MESSAGE_TYPE_APPEND_ENTRIES_RESPONSE:
		if msg.AppendEntriesResponse == nil {
			return nil, fmt.Errorf("raftpb: Marshal: AppendEntriesResponse type with nil payload")
		}
		resp := msg.AppendEntriesResponse
		writeUint64(buf, resp.Term)
		writeUint8(buf, uint8(resp.Result))
		writeUint64(buf, resp.ReceiverLastLogIndex)
		writeUint64(buf, resp.ReceiverLastLogTerm)

	default:
		return nil, fmt.Errorf("raftpb: Marshal: unknown message type %d", msg.Type)
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes a Message previously produced by Marshal.
func (msg *Message) Unmarshal(data []byte) error {
	buf := bytes.NewReader(data)

	typ, err := readUint8(buf)
	if err != nil {
		return err
	}
	msg.Type = MESSAGE_TYPE(typ)

	if msg.To, err = readUint64(buf); err != nil {
		return err
	}
	if msg.From, err = readUint64(buf); err != nil {
		return err
	}

	switch msg.Type {
	case MESSAGE_TYPE_REQUEST_VOTE_REQUEST:
		req := &RequestVoteRequest{}
		if req.CandidateTerm, err = readUint64(buf); err != nil {
			return err
		}
		if req.CandidateID, err = readUint64(buf); err != nil {
			return err
		}
		if req.LastLogIndex, err = readUint64(buf); err != nil {
			return err
		}
		if req.LastLogTerm, err = readUint64(buf); err != nil {
			return err
		}
		msg.RequestVoteRequest = req

	case MESSAGE_TYPE_REQUEST_VOTE_RESPONSE:
		resp := &RequestVoteResponse{}
		if resp.Term, err = readUint64(buf); err != nil {
			return err
		}
		if resp.VoteGranted, err = readBool(buf); err != nil {
			return err
		}
		msg.RequestVoteResponse = resp

	case MESSAGE_TYPE_APPEND_ENTRIES_REQUEST:
		req := &AppendEntriesRequest{}
		if req.LeaderTerm, err = readUint64(buf); err != nil {
			return err
		}
		if req.LeaderID, err = readUint64(buf); err != nil {
			return err
		}
		if req.PrevLogIndex, err = readUint64(buf); err != nil {
			return err
		}
		if req.PrevLogTerm, err = readUint64(buf); err != nil {
			return err
		}
		if req.LeaderCommit, err = readUint64(buf); err != nil {
			return err
		}
		entryNum, err := readUint64(buf)
		if err != nil {
			return err
		}
		if entryNum > 0 {
			req.Entries = make([]LogEntry, entryNum)
		}
		for i := range req.Entries {
			if req.Entries[i].Index, err = readUint64(buf); err != nil {
				return err
			}
			if req.Entries[i].Term, err = readUint64(buf); err != nil {
				return err
			}
			dataLen, err := readUint64(buf)
			if err != nil {
				return err
			}
			data := make([]byte, dataLen)
			if _, err := io.ReadFull(buf, data); err != nil {
				return err
			}
			req.Entries[i].Data = data
		}
		msg.AppendEntriesRequest = req

	case MESSAGE_TYPE_APPEND_ENTRIES_RESPONSE:
		resp := &AppendEntriesResponse{}
		if resp.Term, err = readUint64(buf); err != nil {
			return err
		}
		result, err := readUint8(buf)
		if err != nil {
			return err
		}
		resp.Result = APPEND_RESULT(result)
		if resp.ReceiverLastLogIndex, err = readUint64(buf); err != nil {
			return err
		}
		if resp.ReceiverLastLogTerm, err = readUint64(buf); err != nil {
			return err
		}
		msg.AppendEntriesResponse = resp

	default:
		return fmt.Errorf("raftpb: Unmarshal: unknown message type %d", msg.Type)
	}

	return nil
}

// MessageBinaryEncoder frame-length-prefixes marshaled Messages onto w,
// so a stream transport can tell where one message ends and the next
// begins.
type MessageBinaryEncoder struct {
	w io.Writer
}

// NewMessageBinaryEncoder returns a MessageBinaryEncoder writing to w.
func NewMessageBinaryEncoder(w io.Writer) *MessageBinaryEncoder {
	return &MessageBinaryEncoder{w: w}
}

// Encode marshals msg and writes it, length-prefixed, to the encoder's writer.
func (enc *MessageBinaryEncoder) Encode(msg Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	if err := binary.Write(enc.w, binary.BigEndian, uint64(len(data))); err != nil {
		return err
	}
	_, err = enc.w.Write(data)
	return err
}

// MessageBinaryDecoder reads length-prefixed Messages written by a
// MessageBinaryEncoder.
type MessageBinaryDecoder struct {
	r io.Reader
}

// NewMessageBinaryDecoder returns a MessageBinaryDecoder reading from r.
func NewMessageBinaryDecoder(r io.Reader) *MessageBinaryDecoder {
	return &MessageBinaryDecoder{r: r}
}

// Decode reads and unmarshals the next length-prefixed Message.
func (dec *MessageBinaryDecoder) Decode() (Message, error) {
	var size uint64
	if err := binary.Read(dec.r, binary.BigEndian, &size); err != nil {
		return Message{}, err
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(dec.r, data); err != nil {
		return Message{}, err
	}
	var msg Message
	err := msg.Unmarshal(data)
	return msg, err
}

func writeUint8(buf *bytes.Buffer, v uint8)   { buf.WriteByte(v) }
func writeUint64(buf *bytes.Buffer, v uint64) { binary.Write(buf, binary.BigEndian, v) }
func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readUint8(r *bytes.Reader) (uint8, error) {
	return r.ReadByte()
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}
