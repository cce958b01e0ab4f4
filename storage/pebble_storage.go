package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/blockberries/finalityberry/chain"
	"github.com/blockberries/finalityberry/model"
	"github.com/blockberries/finalityberry/wal"
)

// Key prefixes. Proof and target entries are suffixed with the 8-byte
// big-endian finalization point, so pebble's lexicographic ordering
// keeps them sorted by point for forward scans.
var (
	keyMetaPoint  = []byte("m:point")
	keyMetaHeight = []byte("m:height")
	prefixProof   = []byte("p:")
	prefixTarget  = []byte("t:")
)

// nemesis values, per the finalization-point/finalized-height contract:
// a node with no prior history reports point 1, height 1.
const (
	nemesisPoint  model.FinalizationPoint = 1
	nemesisHeight uint64                  = 1
)

// PebbleProofStorage is the pebble-backed chain.ProofStorage: it
// durably records every finalized proof, the node's finalization
// point/height, and a forward index of finalized (height, hash) pairs.
type PebbleProofStorage struct {
	db  *pebble.DB
	log *zap.Logger
}

// Open opens (or creates) a pebble-backed proof store at path.
func Open(path string, log *zap.Logger) (*PebbleProofStorage, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := &pebble.Options{
		Cache:        pebble.NewCache(32 << 20),
		MemTableSize: 16 << 20,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open proof store: %w", err)
	}
	return &PebbleProofStorage{db: db, log: log}, nil
}

// Close closes the underlying database.
func (s *PebbleProofStorage) Close() error {
	return s.db.Close()
}

// FinalizationPoint returns the last finalized point, or the nemesis
// value 1 if the store is empty.
func (s *PebbleProofStorage) FinalizationPoint() (model.FinalizationPoint, error) {
	v, err := s.getUint64(keyMetaPoint)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return nemesisPoint, nil
	}
	return model.FinalizationPoint(v), nil
}

// FinalizedHeight returns the block height of the last finalized block,
// or the nemesis value 1 if the store is empty.
func (s *PebbleProofStorage) FinalizedHeight() (uint64, error) {
	v, err := s.getUint64(keyMetaHeight)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return nemesisHeight, nil
	}
	return v, nil
}

func (s *PebbleProofStorage) getUint64(key []byte) (uint64, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt metadata value for key %q", key)
	}
	return binary.BigEndian.Uint64(val), nil
}

// SaveProof persists proof for point/target, and advances the stored
// finalization point/height, all in one atomic batch.
func (s *PebbleProofStorage) SaveProof(point model.FinalizationPoint, target model.HeightHashPair, proof model.FinalizationProof) error {
	encoded, err := encodeProof(proof)
	if err != nil {
		return fmt.Errorf("encode proof: %w", err)
	}
	compressed, err := compress(encoded)
	if err != nil {
		return fmt.Errorf("compress proof: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(proofKey(point), compressed, nil); err != nil {
		return err
	}
	if err := batch.Set(targetKey(point), encodeTarget(target), nil); err != nil {
		return err
	}

	var pointBuf, heightBuf [8]byte
	binary.BigEndian.PutUint64(pointBuf[:], uint64(point))
	binary.BigEndian.PutUint64(heightBuf[:], target.Height)
	if err := batch.Set(keyMetaPoint, pointBuf[:], nil); err != nil {
		return err
	}
	if err := batch.Set(keyMetaHeight, heightBuf[:], nil); err != nil {
		return err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit proof batch: %w", err)
	}
	s.log.Debug("saved finalization proof",
		zap.Uint64("point", uint64(point)),
		zap.Uint64("height", target.Height),
		zap.Int("messages", len(proof)),
	)
	return nil
}

// LoadProof reads back a previously saved proof.
func (s *PebbleProofStorage) LoadProof(point model.FinalizationPoint) (model.FinalizationProof, error) {
	val, closer, err := s.db.Get(proofKey(point))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("no proof stored for point %d", point)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	decompressed, err := decompress(val)
	if err != nil {
		return nil, fmt.Errorf("decompress proof: %w", err)
	}
	return decodeProof(decompressed)
}

// LoadFinalizedHashesFrom forward-scans the target index starting at
// point, returning at most maxHashes entries in ascending point order.
func (s *PebbleProofStorage) LoadFinalizedHashesFrom(point model.FinalizationPoint, maxHashes int) ([]model.HeightHashPair, error) {
	if maxHashes <= 0 {
		return nil, nil
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: targetKey(point),
		UpperBound: append(append([]byte{}, prefixTarget...), 0xff),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []model.HeightHashPair
	for iter.First(); iter.Valid() && len(out) < maxHashes; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}
		target, err := decodeTarget(val)
		if err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	return out, iter.Error()
}

var _ chain.ProofStorage = (*PebbleProofStorage)(nil)

func proofKey(point model.FinalizationPoint) []byte {
	buf := make([]byte, len(prefixProof)+8)
	copy(buf, prefixProof)
	binary.BigEndian.PutUint64(buf[len(prefixProof):], uint64(point))
	return buf
}

func targetKey(point model.FinalizationPoint) []byte {
	buf := make([]byte, len(prefixTarget)+8)
	copy(buf, prefixTarget)
	binary.BigEndian.PutUint64(buf[len(prefixTarget):], uint64(point))
	return buf
}

func encodeTarget(t model.HeightHashPair) []byte {
	buf := make([]byte, 8+model.HashSize)
	binary.BigEndian.PutUint64(buf, t.Height)
	copy(buf[8:], t.Hash[:])
	return buf
}

func decodeTarget(data []byte) (model.HeightHashPair, error) {
	if len(data) != 8+model.HashSize {
		return model.HeightHashPair{}, fmt.Errorf("corrupt target entry: %d bytes", len(data))
	}
	hash, err := model.NewHash(data[8:])
	if err != nil {
		return model.HeightHashPair{}, err
	}
	return model.HeightHashPair{Height: binary.BigEndian.Uint64(data[:8]), Hash: hash}, nil
}

// encodeProof serializes a proof as a count followed by each message
// encoded with the same layout the WAL uses for finalization messages.
func encodeProof(proof model.FinalizationProof) ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(proof)))
	for _, m := range proof {
		entry := wal.EncodeFinalizationMessage(m)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(entry)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, entry...)
	}
	return buf, nil
}

func decodeProof(data []byte) (model.FinalizationProof, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("corrupt proof: too short")
	}
	count := binary.BigEndian.Uint32(data[:4])
	data = data[4:]

	proof := make(model.FinalizationProof, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("corrupt proof: truncated entry length")
		}
		entryLen := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < entryLen {
			return nil, fmt.Errorf("corrupt proof: truncated entry")
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

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
