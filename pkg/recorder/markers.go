package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"

	"github.com/kuleuven-neuro/bciserver/pkg/device"
)

// markerLogger writes one CSV line per placed marker
// (timestamp,received_at,code,index,relative_timestamp,chunk_start),
// mirroring recorder.py's markerlog.write calls in _add_markers. This is
// a diagnostic log, not part of the protocol contract.
type markerLogger struct {
	f *os.File
	w *csv.Writer
}

func newMarkerLogger(path string) (*markerLogger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"timestamp", "received_at", "code", "index", "relative_timestamp", "chunk_start"})
	return &markerLogger{f: f, w: w}, nil
}

func (l *markerLogger) record(m Marker, index int, relTimestamp, chunkStart float64) {
	_ = l.w.Write([]string{
		fmt.Sprintf("%f", m.Timestamp),
		fmt.Sprintf("%f", m.ReceivedAt),
		fmt.Sprintf("%d", m.Code),
		fmt.Sprintf("%d", index),
		fmt.Sprintf("%f", relTimestamp),
		fmt.Sprintf("%f", chunkStart),
	})
	l.w.Flush()
}

func (l *markerLogger) Close() error {
	l.w.Flush()
	return l.f.Close()
}

func (r *Recorder) openMarkerLog() {
	logger, err := newMarkerLogger("markers.log.csv")
	if err != nil {
		r.log.Printf("could not open marker debug log: %v", err)
		return
	}
	r.markerLog = logger
}

// addMarkers overlays pending markers onto status (spec.md §4.2.2): for
// each pending marker, searchsorted its timestamp against the chunk's
// timestamps; markers in the past clamp to index 0, markers in the
// future stay pending, and markers within the chunk are placed at their
// index (trigger) or fill from their index onward (switch). If the chunk
// holds no marker and the current kind is switch, the whole vector is
// filled with the current switch code.
func (r *Recorder) addMarkers(status []int32, timestamps []float64) {
	r.markerMu.Lock()
	defer r.markerMu.Unlock()

	n := len(status)

	if r.currentKind == device.Switch {
		for i := range status {
			status[i] = int32(r.currentCode)
		}
	}

	var future []Marker
	chunkStart := 0.0
	if n > 0 {
		chunkStart = timestamps[0]
	}

	for _, m := range r.pending {
		rel := m.Timestamp - nowSeconds(r.t0)
		idx := searchSorted(timestamps, rel)

		switch {
		case idx <= 0:
			r.currentKind = m.Kind
			r.currentCode = m.Code
			if n > 0 {
				if m.Kind == device.Trigger {
					status[0] = int32(m.Code)
				} else {
					for i := range status {
						status[i] = int32(m.Code)
					}
				}
			}
			if r.markerLog != nil {
				r.markerLog.record(m, 0, rel, chunkStart)
			}
		case idx >= n:
			future = append(future, m)
		default:
			r.currentKind = m.Kind
			r.currentCode = m.Code
			if m.Kind == device.Trigger {
				status[idx] = int32(m.Code)
			} else {
				for i := idx; i < n; i++ {
					status[i] = int32(m.Code)
				}
			}
			if r.markerLog != nil {
				r.markerLog.record(m, idx, rel, chunkStart)
			}
		}
	}

	r.pending = future
}

// searchSorted returns the insertion index of t into the (ascending)
// slice ts, matching numpy.searchsorted's default "left" behavior.
func searchSorted(ts []float64, t float64) int {
	return sort.Search(len(ts), func(i int) bool { return ts[i] >= t })
}
