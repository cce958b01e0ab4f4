package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/blockberries/finalityberry/model"
)

// Errors
var (
	ErrWALClosed    = errors.New("WAL is closed")
	ErrWALCorrupted = errors.New("WAL is corrupted")
	ErrWALNotFound  = errors.New("WAL file not found")
)

// MessageType identifies the kind of entry recorded in the WAL.
type MessageType uint8

const (
	MsgTypeUnknown MessageType = iota
	// MsgTypeFinalizationMessage records an inbound vote before it is
	// handed to the multi-step aggregator.
	MsgTypeFinalizationMessage
	// MsgTypeConsensus records a consensus event emitted by the
	// multi-step aggregator for one step.
	MsgTypeConsensus
	// MsgTypeEndPoint marks that a finalization point has been fully
	// processed; segments containing only entries at or below a
	// checkpointed point may be pruned.
	MsgTypeEndPoint
)

// Message is one WAL entry: a step-addressed record plus its opaque
// encoded payload. Point is always populated so segments can be
// checkpointed by finalization point regardless of message type.
type Message struct {
	Type  MessageType
	Point model.FinalizationPoint
	Data  []byte
}

// Marshal encodes the message as a type byte, the point, and the
// payload, for framing by the file WAL's length+CRC wrapper.
func (m *Message) Marshal() ([]byte, error) {
	buf := make([]byte, 0, 1+8+len(m.Data))
	buf = append(buf, byte(m.Type))
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.Point))
	buf = append(buf, m.Data...)
	return buf, nil
}

// Unmarshal decodes a message previously produced by Marshal.
func (m *Message) Unmarshal(data []byte) error {
	if len(data) < 9 {
		return fmt.Errorf("%w: WAL entry too short", ErrWALCorrupted)
	}
	m.Type = MessageType(data[0])
	m.Point = model.FinalizationPoint(binary.BigEndian.Uint64(data[1:9]))
	m.Data = append([]byte(nil), data[9:]...)
	return nil
}

// NewFinalizationMessageEntry builds a WAL entry recording an inbound
// vote, encoding it with the message's own binary layout.
func NewFinalizationMessageEntry(fm *model.FinalizationMessage) *Message {
	return &Message{
		Type:  MsgTypeFinalizationMessage,
		Point: fm.StepIdentifier.Point,
		Data:  EncodeFinalizationMessage(fm),
	}
}

// NewConsensusEntry builds a WAL entry recording a consensus event.
func NewConsensusEntry(step model.StepIdentifier, target model.HeightHashPair, proof model.FinalizationProof) *Message {
	buf := make([]byte, 0, 24+8+model.HashSize)
	buf = appendStep(buf, step)
	buf = binary.BigEndian.AppendUint64(buf, target.Height)
	buf = append(buf, target.Hash[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(proof)))
	for _, m := range proof {
		entry := EncodeFinalizationMessage(m)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(entry)))
		buf = append(buf, entry...)
	}
	return &Message{Type: MsgTypeConsensus, Point: step.Point, Data: buf}
}

// NewEndPointEntry marks a finalization point as fully processed.
func NewEndPointEntry(point model.FinalizationPoint) *Message {
	return &Message{Type: MsgTypeEndPoint, Point: point}
}

// WAL is the interface for writing finalization-engine entries ahead of
// processing them, so a crashed node can replay unacknowledged votes on
// restart.
type WAL interface {
	// Write writes an entry to the WAL (buffered).
	Write(msg *Message) error
	// WriteSync writes an entry and ensures it is synced to disk before
	// returning.
	WriteSync(msg *Message) error
	// FlushAndSync flushes and syncs all pending writes.
	FlushAndSync() error
	// Start opens the WAL for writing, resuming the highest existing
	// segment.
	Start() error
	// Stop flushes, syncs and closes the WAL.
	Stop() error
	// Group returns the current segment group, for diagnostics.
	Group() *Group
	// Checkpoint discards segments whose entries are all at or below the
	// given finalization point, now that they're covered by a persisted
	// proof.
	Checkpoint(point model.FinalizationPoint) error
}

// Reader reads entries back out of the WAL, in the order they were
// written.
type Reader interface {
	Read() (*Message, error)
	Close() error
}

// Group describes a WAL's on-disk segment files.
type Group struct {
	Dir      string
	Prefix   string
	MaxSize  int64
	MinIndex int
	MaxIndex int
}

func appendStep(buf []byte, s model.StepIdentifier) []byte {
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.Point))
	buf = binary.BigEndian.AppendUint64(buf, s.Round)
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.SubRound))
	return buf
}

// EncodeFinalizationMessage encodes a finalization message as the fixed
// header laid out in model.FixedHeaderSize, a 4-byte VRF proof length,
// the proof and the hashes, for WAL and network framing alike. The
// result is 4 bytes longer than the message's Size.
func EncodeFinalizationMessage(fm *model.FinalizationMessage) []byte {
	buf := make([]byte, 0, fm.Size())
	buf = binary.BigEndian.AppendUint32(buf, fm.HashesCount())
	buf = append(buf, fm.Signer[:]...)
	buf = append(buf, fm.Signature[:]...)
	buf = appendStep(buf, fm.StepIdentifier)
	buf = binary.BigEndian.AppendUint64(buf, fm.Height)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(fm.SortitionHashProof)))
	buf = append(buf, fm.SortitionHashProof...)
	for _, h := range fm.Hashes {
		buf = append(buf, h[:]...)
	}
	return buf
}

// DecodeFinalizationMessage reverses EncodeFinalizationMessage.
func DecodeFinalizationMessage(data []byte) (*model.FinalizationMessage, error) {
	const minLen = 4 + model.PublicKeySize + 64 + 24 + 8 + 4
	if len(data) < minLen {
		return nil, fmt.Errorf("%w: finalization message entry too short", ErrWALCorrupted)
	}

	fm := &model.FinalizationMessage{}
	off := 0
	hashesCount := binary.BigEndian.Uint32(data[off:])
	off += 4
	copy(fm.Signer[:], data[off:])
	off += model.PublicKeySize
	copy(fm.Signature[:], data[off:])
	off += 64
	fm.StepIdentifier = model.StepIdentifier{
		Point:    model.FinalizationPoint(binary.BigEndian.Uint64(data[off:])),
		Round:    binary.BigEndian.Uint64(data[off+8:]),
		SubRound: model.SubRound(binary.BigEndian.Uint64(data[off+16:])),
	}
	off += 24
	fm.Height = binary.BigEndian.Uint64(data[off:])
	off += 8
	proofLen := binary.BigEndian.Uint32(data[off:])
	off += 4
	if len(data) < off+int(proofLen)+int(hashesCount)*model.HashSize {
		return nil, fmt.Errorf("%w: finalization message entry truncated", ErrWALCorrupted)
	}
	fm.SortitionHashProof = append([]byte(nil), data[off:off+int(proofLen)]...)
	off += int(proofLen)
	fm.Hashes = make([]model.Hash, hashesCount)
	for i := range fm.Hashes {
		hash, err := model.NewHash(data[off : off+model.HashSize])
		if err != nil {
			return nil, err
		}
		fm.Hashes[i] = hash
		off += model.HashSize
	}
	return fm, nil
}

// NopWAL discards every entry. Useful for tests and for nodes that
// accept the cost of replaying the full gossip backlog after a crash
// instead of persisting one.
type NopWAL struct{}

func (w *NopWAL) Write(msg *Message) error     { return nil }
func (w *NopWAL) WriteSync(msg *Message) error { return nil }
func (w *NopWAL) FlushAndSync() error          { return nil }
func (w *NopWAL) Start() error                 { return nil }
func (w *NopWAL) Stop() error                  { return nil }
func (w *NopWAL) Group() *Group                { return nil }
func (w *NopWAL) Checkpoint(model.FinalizationPoint) error { return nil }

var _ WAL = (*NopWAL)(nil)

// NopReader never has anything to read.
type NopReader struct{}

func (r *NopReader) Read() (*Message, error) { return nil, io.EOF }
func (r *NopReader) Close() error            { return nil }

var _ Reader = (*NopReader)(nil)
