package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/blockberries/finalityberry/model"
)

const (
	walFilePerm       = 0600
	walDirPerm        = 0700
	maxMsgSize        = 10 * 1024 * 1024
	defaultBufSize    = 64 * 1024
	defaultMaxSegSize = 64 * 1024 * 1024
)

// FileWAL is a segmented, file-based WAL. Segments rotate once they
// cross maxSegSize; a point index lets SearchForEndPoint jump straight
// to the segment containing a given finalization point instead of
// scanning from the start.
type FileWAL struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	buf  *bufio.Writer
	enc  *encoder
	log  *zap.Logger

	group        *Group
	started      bool
	segmentIndex int
	segmentSize  int64
	maxSegSize   int64

	pointIndex map[model.FinalizationPoint]int
}

// NewFileWAL creates a file-based WAL rooted at dir, with the default
// segment size.
func NewFileWAL(dir string, log *zap.Logger) (*FileWAL, error) {
	return NewFileWALWithOptions(dir, defaultMaxSegSize, log)
}

// NewFileWALWithOptions creates a file-based WAL with a custom maximum
// segment size.
func NewFileWALWithOptions(dir string, maxSegSize int64, log *zap.Logger) (*FileWAL, error) {
	if err := os.MkdirAll(dir, walDirPerm); err != nil {
		return nil, fmt.Errorf("create WAL directory: %w", err)
	}
	if maxSegSize <= 0 {
		maxSegSize = defaultMaxSegSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FileWAL{
		dir:        dir,
		maxSegSize: maxSegSize,
		log:        log,
		group: &Group{
			Dir:     dir,
			Prefix:  "wal",
			MaxSize: maxSegSize,
		},
	}, nil
}

// Start opens the current (or a fresh) segment for appending and builds
// the finalization-point index from whatever segments already exist.
func (w *FileWAL) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	w.pointIndex = make(map[model.FinalizationPoint]int)

	idx, err := w.findHighestSegmentIndex()
	if err != nil {
		return fmt.Errorf("find WAL segments: %w", err)
	}
	w.segmentIndex = idx
	w.group.MinIndex = w.findLowestSegmentIndex()
	w.group.MaxIndex = w.segmentIndex

	if err := w.buildIndex(); err != nil {
		return fmt.Errorf("build WAL index: %w", err)
	}
	if err := w.openSegment(w.segmentIndex); err != nil {
		return err
	}

	w.started = true
	return nil
}

func (w *FileWAL) buildIndex() error {
	for idx := w.group.MinIndex; idx <= w.group.MaxIndex; idx++ {
		path := w.segmentPath(idx)
		file, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		dec := newDecoder(bufio.NewReader(file))
		for {
			msg, err := dec.Decode()
			if err == io.EOF {
				break
			}
			if err != nil {
				w.log.Warn("stopping index scan at corrupted WAL segment", zap.Int("segment", idx), zap.Error(err))
				break
			}
			if msg.Type == MsgTypeEndPoint {
				w.pointIndex[msg.Point] = idx
			}
		}
		file.Close()
	}
	return nil
}

func (w *FileWAL) findHighestSegmentIndex() (int, error) {
	highest := -1
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, nil
	}
	for _, entry := range entries {
		var idx int
		if n, _ := fmt.Sscanf(entry.Name(), "wal-%05d", &idx); n == 1 && idx > highest {
			highest = idx
		}
	}
	if highest < 0 {
		return 0, nil
	}
	return highest, nil
}

func (w *FileWAL) findLowestSegmentIndex() int {
	lowest := -1
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		var idx int
		if n, _ := fmt.Sscanf(entry.Name(), "wal-%05d", &idx); n == 1 && (lowest < 0 || idx < lowest) {
			lowest = idx
		}
	}
	if lowest < 0 {
		return 0
	}
	return lowest
}

func (w *FileWAL) segmentPath(index int) string {
	return filepath.Join(w.dir, fmt.Sprintf("wal-%05d", index))
}

func (w *FileWAL) openSegment(index int) error {
	path := w.segmentPath(index)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, walFilePerm)
	if err != nil {
		return fmt.Errorf("open WAL segment %d: %w", index, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat WAL segment: %w", err)
	}

	w.file = file
	w.buf = bufio.NewWriterSize(file, defaultBufSize)
	w.enc = newEncoder(w.buf)
	w.segmentSize = info.Size()
	return nil
}

// Stop flushes, syncs and closes the current segment.
func (w *FileWAL) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil
	}
	w.started = false

	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

// Write appends msg to the current segment, buffered.
func (w *FileWAL) Write(msg *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write(msg, false)
}

// WriteSync appends msg and flushes/syncs before returning.
func (w *FileWAL) WriteSync(msg *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write(msg, true)
}

func (w *FileWAL) write(msg *Message, sync bool) error {
	if !w.started {
		return ErrWALClosed
	}

	if w.segmentSize >= w.maxSegSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("rotate WAL: %w", err)
		}
	}

	n, err := w.enc.Encode(msg)
	if err != nil {
		return err
	}
	w.segmentSize += int64(n)

	if msg.Type == MsgTypeEndPoint {
		w.pointIndex[msg.Point] = w.segmentIndex
	}

	if sync {
		return w.flushAndSync()
	}
	return nil
}

func (w *FileWAL) rotate() error {
	if err := w.flushAndSync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	w.segmentIndex++
	w.group.MaxIndex = w.segmentIndex
	return w.openSegment(w.segmentIndex)
}

// FlushAndSync flushes the buffer and fsyncs the current segment.
func (w *FileWAL) FlushAndSync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return ErrWALClosed
	}
	return w.flushAndSync()
}

func (w *FileWAL) flushAndSync() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// SearchForEndPoint returns a Reader positioned just after the
// MsgTypeEndPoint entry for point, using the point index for an O(1)
// segment lookup when available and falling back to a full scan if the
// index is stale.
func (w *FileWAL) SearchForEndPoint(point model.FinalizationPoint) (Reader, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil, false, ErrWALClosed
	}
	if err := w.buf.Flush(); err != nil {
		return nil, false, err
	}

	if segIdx, ok := w.pointIndex[point]; ok {
		if reader, found, err := w.searchSegmentForEndPoint(segIdx, point); err != nil {
			return nil, false, err
		} else if found {
			return reader, true, nil
		}
	}

	for idx := w.group.MinIndex; idx <= w.group.MaxIndex; idx++ {
		reader, found, err := w.searchSegmentForEndPoint(idx, point)
		if err != nil {
			return nil, false, err
		}
		if found {
			w.pointIndex[point] = idx
			return reader, true, nil
		}
	}
	return nil, false, nil
}

func (w *FileWAL) searchSegmentForEndPoint(segmentIndex int, point model.FinalizationPoint) (Reader, bool, error) {
	path := w.segmentPath(segmentIndex)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	reader := &fileReader{file: file, dec: newDecoder(bufio.NewReader(file))}
	for {
		msg, err := reader.Read()
		if err == io.EOF {
			reader.Close()
			return nil, false, nil
		}
		if err != nil {
			reader.Close()
			return nil, false, err
		}
		if msg.Type == MsgTypeEndPoint && msg.Point == point {
			return reader, true, nil
		}
	}
}

// Group returns the current segment group.
func (w *FileWAL) Group() *Group {
	return w.group
}

// Checkpoint deletes segments whose entries are all at or below
// checkpointPoint, i.e. points that proofStorage has already durably
// recorded. The current (still being written) segment is never deleted.
func (w *FileWAL) Checkpoint(checkpointPoint model.FinalizationPoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return ErrWALClosed
	}

	var toDelete []int
	for idx := w.group.MinIndex; idx < w.group.MaxIndex; idx++ {
		canDelete, err := w.canDeleteSegment(idx, checkpointPoint)
		if err != nil {
			continue
		}
		if !canDelete {
			break
		}
		toDelete = append(toDelete, idx)
	}

	for _, idx := range toDelete {
		if err := os.Remove(w.segmentPath(idx)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete WAL segment %d: %w", idx, err)
		}
		for p, segIdx := range w.pointIndex {
			if segIdx == idx {
				delete(w.pointIndex, p)
			}
		}
	}

	if len(toDelete) > 0 {
		w.group.MinIndex = toDelete[len(toDelete)-1] + 1
	}
	return nil
}

func (w *FileWAL) canDeleteSegment(segmentIndex int, checkpointPoint model.FinalizationPoint) (bool, error) {
	file, err := os.Open(w.segmentPath(segmentIndex))
	if err != nil {
		return false, err
	}
	defer file.Close()

	dec := newDecoder(bufio.NewReader(file))
	var maxPoint model.FinalizationPoint
	for {
		msg, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, err
		}
		if msg.Point > maxPoint {
			maxPoint = msg.Point
		}
	}
	return maxPoint <= checkpointPoint, nil
}

// SegmentCount returns the number of segments currently on disk.
func (w *FileWAL) SegmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.group.MaxIndex - w.group.MinIndex + 1
}

var _ WAL = (*FileWAL)(nil)

type encoder struct {
	w   io.Writer
	buf []byte
}

func newEncoder(w io.Writer) *encoder {
	return &encoder{w: w, buf: make([]byte, 8)}
}

// Encode writes one length-prefixed, CRC32-checked entry and returns the
// number of bytes written.
func (e *encoder) Encode(msg *Message) (int, error) {
	data, err := msg.Marshal()
	if err != nil {
		return 0, err
	}
	checksum := crc32.ChecksumIEEE(data)

	binary.BigEndian.PutUint32(e.buf[:4], uint32(len(data)))
	if _, err := e.w.Write(e.buf[:4]); err != nil {
		return 0, err
	}
	if _, err := e.w.Write(data); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint32(e.buf[:4], checksum)
	if _, err := e.w.Write(e.buf[:4]); err != nil {
		return 0, err
	}
	return 4 + len(data) + 4, nil
}

type decoder struct {
	r   io.Reader
	buf []byte
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{r: r, buf: make([]byte, 4)}
}

func (d *decoder) Decode() (*Message, error) {
	if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(d.buf[:4])
	if length > maxMsgSize {
		return nil, ErrWALCorrupted
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
		return nil, err
	}
	expectedCRC := binary.BigEndian.Uint32(d.buf[:4])
	actualCRC := crc32.ChecksumIEEE(data)
	if expectedCRC != actualCRC {
		return nil, fmt.Errorf("%w: CRC mismatch (expected %08x, got %08x)", ErrWALCorrupted, expectedCRC, actualCRC)
	}

	msg := &Message{}
	if err := msg.Unmarshal(data); err != nil {
		return nil, err
	}
	return msg, nil
}

type fileReader struct {
	file *os.File
	dec  *decoder
}

func (r *fileReader) Read() (*Message, error) { return r.dec.Decode() }
func (r *fileReader) Close() error            { return r.file.Close() }

var _ Reader = (*fileReader)(nil)

// OpenWALForReading opens a WAL directory for reading from the oldest
// segment forward.
func OpenWALForReading(dir string) (Reader, error) {
	segments := findSegments(dir)
	if len(segments) == 0 {
		return nil, ErrWALNotFound
	}
	return &multiSegmentReader{dir: dir, segments: segments, current: -1}, nil
}

func findSegments(dir string) []int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var segments []int
	for _, entry := range entries {
		var idx int
		if n, _ := fmt.Sscanf(entry.Name(), "wal-%05d", &idx); n == 1 {
			segments = append(segments, idx)
		}
	}
	sort.Ints(segments)
	return segments
}

type multiSegmentReader struct {
	dir      string
	segments []int
	current  int
	reader   *fileReader
}

func (r *multiSegmentReader) Read() (*Message, error) {
	for {
		if r.reader == nil {
			r.current++
			if r.current >= len(r.segments) {
				return nil, io.EOF
			}
			path := filepath.Join(r.dir, fmt.Sprintf("wal-%05d", r.segments[r.current]))
			file, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			r.reader = &fileReader{file: file, dec: newDecoder(bufio.NewReader(file))}
		}

		msg, err := r.reader.Read()
		if err == io.EOF {
			r.reader.Close()
			r.reader = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
}

func (r *multiSegmentReader) Close() error {
	if r.reader != nil {
		return r.reader.Close()
	}
	return nil
}

var _ Reader = (*multiSegmentReader)(nil)
