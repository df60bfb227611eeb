package crdt

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MessageKind enumerates the room-router envelope kinds of spec.md §6.
// No transport is implemented (out of scope); this is the stable
// contract a future transport would dispatch on.
type MessageKind string

const (
	MessageJoinRoom       MessageKind = "JoinRoom"
	MessageLeaveRoom      MessageKind = "LeaveRoom"
	MessageYrsUpdate      MessageKind = "YrsUpdate"
	MessageYrsSyncRequest MessageKind = "YrsSyncRequest"
)

// Update is the wire envelope for a batch of ops belonging to one room.
type Update struct {
	RoomID string
	Ops    []Op
}

// Encode serializes u as a small binary envelope: the room id and op
// count as varints, followed by one varint-length-prefixed JSON record
// per op. JSON keeps Op's any-typed Value field self-describing without
// a separate schema registry for the wire format.
func Encode(u Update) ([]byte, error) {
	var buf bytes.Buffer
	writeUvarintString(&buf, u.RoomID)
	writeUvarint(&buf, uint64(len(u.Ops)))
	for _, op := range u.Ops {
		rec, err := json.Marshal(op)
		if err != nil {
			return nil, fmt.Errorf("crdt: encoding op: %w", err)
		}
		writeUvarint(&buf, uint64(len(rec)))
		buf.Write(rec)
	}
	return buf.Bytes(), nil
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (Update, error) {
	r := bytes.NewReader(data)
	roomID, err := readUvarintString(r)
	if err != nil {
		return Update{}, fmt.Errorf("crdt: reading room id: %w", err)
	}
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return Update{}, fmt.Errorf("crdt: reading op count: %w", err)
	}
	ops := make([]Op, 0, count)
	for i := uint64(0); i < count; i++ {
		recLen, err := binary.ReadUvarint(r)
		if err != nil {
			return Update{}, fmt.Errorf("crdt: reading op length: %w", err)
		}
		rec := make([]byte, recLen)
		if _, err := io.ReadFull(r, rec); err != nil {
			return Update{}, fmt.Errorf("crdt: reading op record: %w", err)
		}
		var op Op
		if err := json.Unmarshal(rec, &op); err != nil {
			return Update{}, fmt.Errorf("crdt: decoding op: %w", err)
		}
		ops = append(ops, op)
	}
	return Update{RoomID: roomID, Ops: ops}, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], v)
	buf.Write(scratch[:n])
}

func writeUvarintString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readUvarintString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
