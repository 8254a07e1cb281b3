package recorder

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kuleuven-neuro/bciserver/pkg/bcierr"
	"github.com/segmentio/parquet-go"
)

// maxDatasetChannels bounds the fixed-width Parquet schema below, large
// enough to cover both bundled devices (emulator's 8, the biosemi-like
// adapter's 32); unused trailing columns are left zero, the same
// fixed-schema tradeoff the teacher's CaptureSample (8 fixed I/Q pairs)
// makes for its own hardware's channel count.
const maxDatasetChannels = 32

// SampleRow is one decoded sample, mirrored to the optional dataset_file
// Parquet sink (spec.md §5's SUPPLEMENTED FEATURES) alongside the BDF
// dump. Grounded on parquet_writer.go's CaptureSample/GenericWriter
// adapter shape.
type SampleRow struct {
	Timestamp float64 `parquet:"timestamp"`
	Status    int32   `parquet:"status"`
	C1        int32   `parquet:"c1"`
	C2        int32   `parquet:"c2"`
	C3        int32   `parquet:"c3"`
	C4        int32   `parquet:"c4"`
	C5        int32   `parquet:"c5"`
	C6        int32   `parquet:"c6"`
	C7        int32   `parquet:"c7"`
	C8        int32   `parquet:"c8"`
	C9        int32   `parquet:"c9"`
	C10       int32   `parquet:"c10"`
	C11       int32   `parquet:"c11"`
	C12       int32   `parquet:"c12"`
	C13       int32   `parquet:"c13"`
	C14       int32   `parquet:"c14"`
	C15       int32   `parquet:"c15"`
	C16       int32   `parquet:"c16"`
	C17       int32   `parquet:"c17"`
	C18       int32   `parquet:"c18"`
	C19       int32   `parquet:"c19"`
	C20       int32   `parquet:"c20"`
	C21       int32   `parquet:"c21"`
	C22       int32   `parquet:"c22"`
	C23       int32   `parquet:"c23"`
	C24       int32   `parquet:"c24"`
	C25       int32   `parquet:"c25"`
	C26       int32   `parquet:"c26"`
	C27       int32   `parquet:"c27"`
	C28       int32   `parquet:"c28"`
	C29       int32   `parquet:"c29"`
	C30       int32   `parquet:"c30"`
	C31       int32   `parquet:"c31"`
	C32       int32   `parquet:"c32"`
}

func (row *SampleRow) set(i int, v int32) {
	switch i {
	case 0:
		row.C1 = v
	case 1:
		row.C2 = v
	case 2:
		row.C3 = v
	case 3:
		row.C4 = v
	case 4:
		row.C5 = v
	case 5:
		row.C6 = v
	case 6:
		row.C7 = v
	case 7:
		row.C8 = v
	case 8:
		row.C9 = v
	case 9:
		row.C10 = v
	case 10:
		row.C11 = v
	case 11:
		row.C12 = v
	case 12:
		row.C13 = v
	case 13:
		row.C14 = v
	case 14:
		row.C15 = v
	case 15:
		row.C16 = v
	case 16:
		row.C17 = v
	case 17:
		row.C18 = v
	case 18:
		row.C19 = v
	case 19:
		row.C20 = v
	case 20:
		row.C21 = v
	case 21:
		row.C22 = v
	case 22:
		row.C23 = v
	case 23:
		row.C24 = v
	case 24:
		row.C25 = v
	case 25:
		row.C26 = v
	case 26:
		row.C27 = v
	case 27:
		row.C28 = v
	case 28:
		row.C29 = v
	case 29:
		row.C30 = v
	case 30:
		row.C31 = v
	case 31:
		row.C32 = v
	}
}

// datasetSink mirrors decoded chunks to a Parquet file, one row per
// sample, via a GenericWriter[SampleRow] carrying channel/gain metadata
// and writing straight to the *os.File (no separate buffering adapter) —
// adapted from parquet_writer.go's NewParquetWriter, from I/Q RF samples
// to EEG samples.
type datasetSink struct {
	f      *os.File
	writer *parquet.GenericWriter[SampleRow]
}

type datasetMeta struct {
	Labels    []string `json:"labels"`
	Gain      float64  `json:"gain"`
	PhysMin   float64  `json:"physical_min"`
	SampleHz  float64  `json:"sample_rate"`
}

func (r *Recorder) openDataset() error {
	f, err := os.Create(r.datasetFile)
	if err != nil {
		return bcierr.NewDevice("open dataset file: %v", err)
	}
	if len(r.targetChannels) > maxDatasetChannels {
		f.Close()
		return bcierr.NewDevice("dataset sink supports at most %d channels, got %d", maxDatasetChannels, len(r.targetChannels))
	}

	meta := datasetMeta{Labels: r.targetLabels(), Gain: r.dev.Gain(), PhysMin: r.dev.PhysicalMin(), SampleHz: r.dev.SampleRate()}
	metaJSON, _ := json.Marshal(meta)

	writer := parquet.NewGenericWriter[SampleRow](f, parquet.KeyValueMetadata("recorder_config", string(metaJSON)))
	r.dataset = &datasetSink{f: f, writer: writer}
	return nil
}

// Write appends one row per sample in the chunk (raw pre-gain values,
// status, and absolute timestamp).
func (s *datasetSink) Write(raw [][]int32, status []int32, timestamps []float64) error {
	n := len(timestamps)
	rows := make([]SampleRow, n)
	for i := 0; i < n; i++ {
		rows[i].Timestamp = timestamps[i]
		rows[i].Status = status[i]
		for ch := 0; ch < len(raw) && ch < maxDatasetChannels; ch++ {
			rows[i].set(ch, raw[ch][i])
		}
	}
	_, err := s.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("dataset write: %w", err)
	}
	return nil
}

func (s *datasetSink) Close() error {
	if err := s.writer.Close(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
