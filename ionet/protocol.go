package ionet

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/blockberries/finalityberry/model"
	"github.com/blockberries/finalityberry/wal"
)

const (
	// maxFrameSize bounds a single length-prefixed frame, protecting a
	// peer from a corrupt or malicious length prefix.
	maxFrameSize = 16 << 20

	lengthPrefixSize = 4
)

// writeFrame writes a length-prefixed frame: 4 bytes big-endian length,
// then the payload.
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame too large: %d > %d", len(data), maxFrameSize)
	}
	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// readFrame reads back a frame written by writeFrame.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d > %d", length, maxFrameSize)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return data, nil
}

// PullRequest asks a peer for everything it has for Step that does not
// match one of KnownShortHashes.
type PullRequest struct {
	Step            model.StepIdentifier
	KnownShortHashes []model.ShortHash
}

// encodePullRequest lays out a request as step identifier (24 bytes)
// followed by a count and the short hash array.
func encodePullRequest(req PullRequest) []byte {
	buf := make([]byte, 0, 24+4+len(req.KnownShortHashes)*model.ShortHashSize)
	buf = binary.BigEndian.AppendUint64(buf, uint64(req.Step.Point))
	buf = binary.BigEndian.AppendUint64(buf, req.Step.Round)
	buf = binary.BigEndian.AppendUint64(buf, uint64(req.Step.SubRound))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(req.KnownShortHashes)))
	for _, h := range req.KnownShortHashes {
		buf = append(buf, h[:]...)
	}
	return buf
}

func decodePullRequest(data []byte) (PullRequest, error) {
	if len(data) < 28 {
		return PullRequest{}, fmt.Errorf("pull request too short")
	}
	step := model.StepIdentifier{
		Point:    model.FinalizationPoint(binary.BigEndian.Uint64(data[0:8])),
		Round:    binary.BigEndian.Uint64(data[8:16]),
		SubRound: model.SubRound(binary.BigEndian.Uint64(data[16:24])),
	}
	count := binary.BigEndian.Uint32(data[24:28])
	data = data[28:]
	if len(data) < int(count)*model.ShortHashSize {
		return PullRequest{}, fmt.Errorf("pull request truncated short hash list")
	}
	hashes := make([]model.ShortHash, count)
	for i := range hashes {
		copy(hashes[i][:], data[i*model.ShortHashSize:])
	}
	return PullRequest{Step: step, KnownShortHashes: hashes}, nil
}

// encodePullResponse concatenates each message's WAL-style encoding,
// length-prefixed so the reader can split the stream back into
// individual messages.
func encodePullResponse(proof model.FinalizationProof) []byte {
	var buf []byte
	for _, m := range proof {
		entry := wal.EncodeFinalizationMessage(m)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(entry)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, entry...)
	}
	return buf
}

func decodePullResponse(data []byte) (model.FinalizationProof, error) {
	var proof model.FinalizationProof
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("pull response truncated entry length")
		}
		entryLen := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < entryLen {
			return nil, fmt.Errorf("pull response truncated entry")
		}
		m, err := wal.DecodeFinalizationMessage(data[:entryLen])
		if err != nil {
			return nil, err
		}
		proof = append(proof, m)
		data = data[entryLen:]
	}
	return proof, nil
}

// encodePushBatch frames a batch of gossiped messages the same way a
// pull response is framed, for the unidirectional push path.
func encodePushBatch(proof model.FinalizationProof) []byte {
	return encodePullResponse(proof)
}

func decodePushBatch(data []byte) (model.FinalizationProof, error) {
	return decodePullResponse(data)
}
