package bdf

import (
	"bytes"
	"testing"
)

func TestWriteHeaderLength(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, 256, []string{"C1", "C2"}, -8388608, 8388607, -262144, 262144)
	if err := w.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	// 256 bytes for the fixed header + 256 per signal-header block, for
	// nchannels+1 (data + status) signals.
	want := 256 * (1 + 3)
	if got := buf.Len(); got != want {
		t.Errorf("header length = %d, want %d", got, want)
	}
}

func TestWriteRecordRequiresHeaderFirst(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, 256, []string{"C1"}, -8388608, 8388607, -262144, 262144)
	err := w.WriteRecord([][]int32{make([]int32, 256)}, make([]int32, 256))
	if err == nil {
		t.Fatal("expected an error when WriteRecord precedes WriteHeader")
	}
}

func TestWriteRecordRejectsWrongChannelCount(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, 4, []string{"C1", "C2"}, -8388608, 8388607, -262144, 262144)
	if err := w.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	err := w.WriteRecord([][]int32{make([]int32, 4)}, make([]int32, 4))
	if err == nil {
		t.Fatal("expected an error for a channel-count mismatch")
	}
}

func TestWriteRecordByteLayout(t *testing.T) {
	var buf bytes.Buffer
	sampleRate := 4
	w := New(&buf, sampleRate, []string{"C1", "C2"}, -8388608, 8388607, -262144, 262144)
	if err := w.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	buf.Reset() // isolate the record bytes from the header bytes

	ch1 := []int32{1, -1, 1000, -8388608}
	ch2 := []int32{0, 2, -2, 42}
	status := []int32{0, 1, 0, 7}

	if err := w.WriteRecord([][]int32{ch1, ch2}, status); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}

	want := (2 + 1) * sampleRate * bytesPerSample
	if got := buf.Len(); got != want {
		t.Fatalf("record length = %d, want %d", got, want)
	}

	// First 3 bytes are ch1's first sample, 24-bit little-endian two's
	// complement.
	got := buf.Bytes()[:3]
	want3 := []byte{0x01, 0x00, 0x00}
	if !bytes.Equal(got, want3) {
		t.Errorf("first sample bytes = % x, want % x", got, want3)
	}
}
