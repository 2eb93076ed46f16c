package session

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/chunker"
)

func TestNewComputesChunkCount(t *testing.T) {
	s, err := New("video.mp4", 2*1024*1024+512*1024, 1024*1024, "archive")
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if s.TotalChunks != 3 {
		t.Fatalf("expected 3 chunks; got %d", s.TotalChunks)
	}
	if s.ID == "" {
		t.Fatal("expected a generated id")
	}
	if s.NextChunk() != 0 {
		t.Fatalf("expected a fresh session to start at chunk 0; got %d", s.NextChunk())
	}
}

func TestNewRejectsBadChunkSize(t *testing.T) {
	if _, err := New("f", 100, 0, "d"); !errors.Is(err, chunker.ErrChunkSize) {
		t.Fatalf("expected ErrChunkSize; got %v", err)
	}
}

func TestAckAdvancesNextChunk(t *testing.T) {
	s, err := New("f", 250, 100, "d")
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	s.Ack("etag-0")
	s.Ack("etag-1")

	if s.NextChunk() != 2 {
		t.Fatalf("expected next chunk 2; got %d", s.NextChunk())
	}
	if s.UploadedBytes() != 200 {
		t.Fatalf("expected 200 uploaded bytes; got %d", s.UploadedBytes())
	}
	if s.Complete() {
		t.Fatal("expected session incomplete at 2 of 3 chunks")
	}

	s.Ack("etag-2")
	if !s.Complete() {
		t.Fatal("expected session complete")
	}
	if s.UploadedBytes() != 250 {
		t.Fatalf("expected final chunk to cap uploaded bytes at file size; got %d", s.UploadedBytes())
	}
}

func TestTruncateReconcilesDownward(t *testing.T) {
	s, err := New("f", 500, 100, "d")
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	for i := 0; i < 4; i++ {
		s.Ack("etag")
	}

	s.Truncate(2)
	if s.NextChunk() != 2 {
		t.Fatalf("expected truncate to 2; got %d", s.NextChunk())
	}

	// Truncate never grows the acknowledged list.
	s.Truncate(10)
	if s.NextChunk() != 2 {
		t.Fatalf("expected truncate past the end to be a no-op; got %d", s.NextChunk())
	}

	s.Truncate(-1)
	if s.NextChunk() != 0 {
		t.Fatalf("expected negative truncate to clear; got %d", s.NextChunk())
	}
}

func TestSessionRoundTripsThroughJSON(t *testing.T) {
	s, err := New("notes.txt", 1000, 400, "archive")
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	s.Ack("a")
	s.RemoteID = "remote-17"

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("expected marshal to succeed; got %v", err)
	}

	var restored Session
	if err := json.Unmarshal(raw, &restored); err != nil {
		t.Fatalf("expected unmarshal to succeed; got %v", err)
	}
	if restored.NextChunk() != 1 || restored.RemoteID != "remote-17" || restored.TotalChunks != 3 {
		t.Fatalf("restored session lost state: %+v", restored)
	}
}
