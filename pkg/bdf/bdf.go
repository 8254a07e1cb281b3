// Package bdf writes a minimal BioSemi Data Format (BDF) file: the 24-bit
// successor to EDF used by most EEG recording software. Only the fields
// spec.md §6 requires the Recorder to emit are implemented — a header
// describing nchannels+1 channels (data + status) and per-record raw
// (pre-gain) sample blocks; the full BDF feature set (annotations,
// multiple record durations, prefiltering strings) is out of scope
// (spec.md §1).
package bdf

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	recordDuration = 1.0 // seconds per data record
	bytesPerSample = 3   // BDF samples are 24-bit
)

// Writer appends fixed-duration (one-second) data records to a BDF file.
// WriteRecord accepts chunks of whatever size the Recorder decodes them in
// (not necessarily one second's worth); the Writer buffers across calls and
// only emits a record once sampleRate samples have accumulated per channel,
// so the header's declared "samples per record" field always matches what
// is actually on disk between record boundaries (required for the gain
// round-trip property on readback, spec.md §8).
type Writer struct {
	w          io.Writer
	nchannels  int // data channels, not counting status
	sampleRate int
	labels     []string
	digMin     int32
	digMax     int32
	physMin    float64
	physMax    float64
	wroteHead  bool

	pending       [][]int32 // per data channel, samples not yet flushed
	pendingStatus []int32
}

func New(w io.Writer, sampleRate int, labels []string, digMin, digMax int32, physMin, physMax float64) *Writer {
	return &Writer{
		w:          w,
		nchannels:  len(labels),
		sampleRate: sampleRate,
		labels:     labels,
		digMin:     digMin,
		digMax:     digMax,
		physMin:    physMin,
		physMax:    physMax,
		pending:    make([][]int32, len(labels)),
	}
}

func padField(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

// WriteHeader emits the BDF main header plus one signal-header block per
// channel (nchannels+1, the extra one being the status channel), matching
// the layout the original's psychic.BDFWriter.write_header() produces.
func (w *Writer) WriteHeader() error {
	total := w.nchannels + 1
	now := time.Now()

	var b strings.Builder
	b.WriteByte(0xFF)
	b.WriteString(padField("BIOSEMI", 7))
	b.WriteString(padField("", 80))                 // local patient id
	b.WriteString(padField("", 80))                  // local recording id
	b.WriteString(padField(now.Format("02.01.06"), 8))
	b.WriteString(padField(now.Format("15.04.05"), 8))
	b.WriteString(padField(fmt.Sprintf("%d", (256)*(total+1)), 8)) // bytes in header record
	b.WriteString(padField("24BIT", 44))
	b.WriteString(padField("-1", 8))           // number of data records (unknown, filled lazily)
	b.WriteString(padField(fmt.Sprintf("%g", recordDuration), 8))
	b.WriteString(padField(fmt.Sprintf("%d", total), 4))

	for _, l := range w.labels {
		b.WriteString(padField(l, 16))
	}
	b.WriteString(padField("Status", 16))

	for i := 0; i < total; i++ {
		b.WriteString(padField("active electrode", 80))
	}
	for i := 0; i < total; i++ {
		b.WriteString(padField("uV", 8))
	}
	for i := 0; i < total; i++ {
		b.WriteString(padField(fmt.Sprintf("%g", w.physMin), 8))
	}
	for i := 0; i < total; i++ {
		b.WriteString(padField(fmt.Sprintf("%g", w.physMax), 8))
	}
	for i := 0; i < total; i++ {
		b.WriteString(padField(fmt.Sprintf("%d", w.digMin), 8))
	}
	for i := 0; i < total; i++ {
		b.WriteString(padField(fmt.Sprintf("%d", w.digMax), 8))
	}
	for i := 0; i < total; i++ {
		b.WriteString(padField("", 80)) // prefiltering
	}
	for i := 0; i < total; i++ {
		b.WriteString(padField(fmt.Sprintf("%d", w.sampleRate), 8)) // samples per record
	}
	for i := 0; i < total; i++ {
		b.WriteString(padField("", 32)) // reserved
	}

	_, err := io.WriteString(w.w, b.String())
	w.wroteHead = err == nil
	return err
}

// WriteRecord appends samples is [channel][sampleIndex] raw (pre-gain)
// integers for the data channels, status is the per-sample marker vector
// appended as the extra status channel, buffering across calls and flushing
// a full one-second record to the underlying writer every time sampleRate
// samples have accumulated.
func (w *Writer) WriteRecord(samples [][]int32, status []int32) error {
	if !w.wroteHead {
		return fmt.Errorf("bdf: WriteHeader must be called first")
	}
	if len(samples) != w.nchannels {
		return fmt.Errorf("bdf: expected %d channels, got %d", w.nchannels, len(samples))
	}

	for i, ch := range samples {
		w.pending[i] = append(w.pending[i], ch...)
	}
	w.pendingStatus = append(w.pendingStatus, status...)

	for len(w.pendingStatus) >= w.sampleRate {
		if err := w.flushOneRecord(); err != nil {
			return err
		}
	}
	return nil
}

// flushOneRecord writes exactly sampleRate samples per channel (taken from
// the front of the pending buffers) and drops them from pending.
func (w *Writer) flushOneRecord() error {
	n := w.sampleRate
	buf := make([]byte, 0, (w.nchannels+1)*n*bytesPerSample)
	for i, ch := range w.pending {
		buf = append(buf, encode24(ch[:n])...)
		w.pending[i] = ch[n:]
	}
	buf = append(buf, encode24(w.pendingStatus[:n])...)
	w.pendingStatus = w.pendingStatus[n:]

	_, err := w.w.Write(buf)
	return err
}

// Flush emits any samples not yet forming a complete record, zero-padding
// the tail to sampleRate so the file's final record stays the fixed size
// the header declares. Call once, after the last WriteRecord, before
// closing the underlying file.
func (w *Writer) Flush() error {
	if len(w.pendingStatus) == 0 {
		return nil
	}
	pad := w.sampleRate - len(w.pendingStatus)
	for i, ch := range w.pending {
		w.pending[i] = append(ch, make([]int32, pad)...)
	}
	w.pendingStatus = append(w.pendingStatus, make([]int32, pad)...)
	return w.flushOneRecord()
}

func encode24(values []int32) []byte {
	out := make([]byte, len(values)*bytesPerSample)
	for i, v := range values {
		out[i*3+0] = byte(v)
		out[i*3+1] = byte(v >> 8)
		out[i*3+2] = byte(v >> 16)
	}
	return out
}
