package wal

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/blockberries/finalityberry/model"
)

func sampleMessage(point model.FinalizationPoint, round uint64) *model.FinalizationMessage {
	return &model.FinalizationMessage{
		StepIdentifier: model.StepIdentifier{Point: point, Round: round, SubRound: model.SubRoundCountBestHashVotes},
		Height:         10,
		Hashes:         []model.Hash{model.MustNewHash(make([]byte, 32))},
	}
}

func TestFileWALBasic(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWAL(dir, nil)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start WAL: %v", err)
	}

	if err := w.Write(NewFinalizationMessageEntry(sampleMessage(1, 0))); err != nil {
		t.Fatalf("failed to write message: %v", err)
	}
	if err := w.Write(NewEndPointEntry(1)); err != nil {
		t.Fatalf("failed to write end-point entry: %v", err)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop WAL: %v", err)
	}

	walPath := filepath.Join(dir, "wal-00000")
	if _, err := os.Stat(walPath); os.IsNotExist(err) {
		t.Error("WAL segment file should exist")
	}
}

func TestFileWALWriteSync(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWAL(dir, nil)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start WAL: %v", err)
	}
	defer w.Stop()

	if err := w.WriteSync(NewEndPointEntry(1)); err != nil {
		t.Fatalf("failed to write sync message: %v", err)
	}
}

func TestFileWALReadWrite(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWAL(dir, nil)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start WAL: %v", err)
	}

	entries := []*Message{
		NewFinalizationMessageEntry(sampleMessage(1, 0)),
		NewFinalizationMessageEntry(sampleMessage(1, 0)),
		NewEndPointEntry(1),
		NewFinalizationMessageEntry(sampleMessage(2, 0)),
	}
	for _, e := range entries {
		if err := w.Write(e); err != nil {
			t.Fatalf("failed to write entry: %v", err)
		}
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop WAL: %v", err)
	}

	reader, err := OpenWALForReading(dir)
	if err != nil {
		t.Fatalf("failed to open WAL for reading: %v", err)
	}
	defer reader.Close()

	var read []*Message
	for {
		msg, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read entry: %v", err)
		}
		read = append(read, msg)
	}

	if len(read) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(read))
	}
	for i, want := range entries {
		if read[i].Type != want.Type {
			t.Errorf("entry %d: expected type %v, got %v", i, want.Type, read[i].Type)
		}
		if read[i].Point != want.Point {
			t.Errorf("entry %d: expected point %d, got %d", i, want.Point, read[i].Point)
		}
	}
}

func TestFileWALDecodeFinalizationMessage(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWAL(dir, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	original := sampleMessage(3, 7)
	if err := w.WriteSync(NewFinalizationMessageEntry(original)); err != nil {
		t.Fatalf("write: %v", err)
	}

	reader, err := OpenWALForReading(dir)
	if err != nil {
		t.Fatalf("open for reading: %v", err)
	}
	defer reader.Close()

	msg, err := reader.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	decoded, err := DecodeFinalizationMessage(msg.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.StepIdentifier != original.StepIdentifier {
		t.Errorf("step mismatch: got %v want %v", decoded.StepIdentifier, original.StepIdentifier)
	}
	if decoded.Height != original.Height {
		t.Errorf("height mismatch: got %d want %d", decoded.Height, original.Height)
	}
	if len(decoded.Hashes) != len(original.Hashes) || !decoded.Hashes[0].Equal(original.Hashes[0]) {
		t.Errorf("hashes mismatch")
	}
}

func TestFileWALSearchForEndPoint(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWAL(dir, nil)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start WAL: %v", err)
	}

	w.Write(NewFinalizationMessageEntry(sampleMessage(1, 0)))
	w.Write(NewEndPointEntry(1))
	w.Write(NewFinalizationMessageEntry(sampleMessage(2, 0)))
	w.Write(NewEndPointEntry(2))

	reader, found, err := w.SearchForEndPoint(1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !found {
		t.Error("expected to find end point 1")
	}
	if reader != nil {
		reader.Close()
	}

	reader, found, err = w.SearchForEndPoint(2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !found {
		t.Error("expected to find end point 2")
	}
	if reader != nil {
		reader.Close()
	}

	reader, found, err = w.SearchForEndPoint(99)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if found {
		t.Error("should not find end point 99")
	}
	if reader != nil {
		reader.Close()
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop WAL: %v", err)
	}
}

func TestFileWALWriteBeforeStart(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWAL(dir, nil)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}

	if err := w.Write(NewEndPointEntry(1)); err != ErrWALClosed {
		t.Errorf("expected ErrWALClosed, got %v", err)
	}
}

func TestFileWALDoubleStartStop(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWAL(dir, nil)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}

	if err := w.Start(); err != nil {
		t.Fatalf("failed to start WAL: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Errorf("double start should be a no-op, got: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop WAL: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("double stop should be a no-op, got: %v", err)
	}
}

func TestFileWALCheckpoint(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWALWithOptions(dir, 1<<20, nil)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start WAL: %v", err)
	}
	defer w.Stop()

	w.Write(NewEndPointEntry(1))
	w.rotate()
	w.Write(NewEndPointEntry(2))

	if err := w.Checkpoint(1); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if w.group.MinIndex == 0 {
		t.Errorf("expected checkpoint to advance MinIndex past the deleted segment")
	}
}

func TestOpenWALNotFound(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenWALForReading(dir)
	if err != ErrWALNotFound {
		t.Errorf("expected ErrWALNotFound, got %v", err)
	}
}
