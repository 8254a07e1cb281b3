package recorder

import "time"

// rateWindow keeps a moving average of estimated sample rates over the
// last ~10 seconds, mirroring recorder.py's
// collections.deque(maxlen=ceil(10/buffer_size_seconds)).
type rateWindow struct {
	values []float64
	cap    int
	next   int
	filled bool
}

func newRateWindow(bufferSizeSeconds float64) *rateWindow {
	n := int(10/bufferSizeSeconds + 0.999)
	if n < 1 {
		n = 1
	}
	return &rateWindow{values: make([]float64, n), cap: n}
}

func (w *rateWindow) add(v float64) {
	w.values[w.next] = v
	w.next = (w.next + 1) % w.cap
	if w.next == 0 {
		w.filled = true
	}
}

func (w *rateWindow) mean() float64 {
	n := w.cap
	if !w.filled {
		n = w.next
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += w.values[i]
	}
	return sum / float64(n)
}

// estimateTimestamps computes a timestamp per sample relative to T0,
// following one of the five strategies in spec.md §4.2.1, and logs the
// per-chunk drift diagnostic from the same section.
func (r *Recorder) estimateTimestamps(nsamples int, beginRead, endRead time.Time) []float64 {
	nominalRate := r.dev.SampleRate()
	dt := endRead.Sub(beginRead).Seconds()

	var estimatedRate float64
	if dt > 0 {
		estimatedRate = float64(nsamples) / dt
	} else {
		estimatedRate = nominalRate
	}
	r.window.add(estimatedRate)
	smoothedRate := r.window.mean()
	if smoothedRate <= 0 {
		smoothedRate = nominalRate
	}

	beginRel := beginRead.Sub(r.t0).Seconds()
	endRel := endRead.Sub(r.t0).Seconds()

	ts := make([]float64, nsamples)

	switch r.timingMode {
	case Fixed:
		for k := range ts {
			ts[k] = r.lastID + float64(k+1)/nominalRate
		}
	case EndReadRelative:
		last := float64(nsamples) / nominalRate
		base := endRel - last
		for k := range ts {
			ts[k] = base + float64(k+1)/nominalRate
		}
		if ts[0] <= r.lastID {
			for k := range ts {
				ts[k] += 1 / nominalRate
			}
		}
	case EstimatedSampleRate:
		base := beginRel
		if base < r.lastID {
			base = r.lastID
		}
		for k := range ts {
			ts[k] = base + float64(k+1)/estimatedRate
		}
	case SmoothedSampleRate:
		for k := range ts {
			ts[k] = r.lastID + float64(k+1)/smoothedRate
		}
	default: // BeginReadRelative, and the original's own fallback
		base := beginRel
		if base < r.lastID {
			base = r.lastID
		}
		for k := range ts {
			ts[k] = base + float64(k+1)/nominalRate
		}
	}

	if nsamples > 0 {
		r.lastID = ts[nsamples-1]
	}

	target := endRel * nominalRate
	drift := target - r.totalSamples(nsamples)
	r.log.Printf("dt=%.4f estimated_rate=%.2f smoothed_rate=%.2f drift=%.2f", dt, estimatedRate, smoothedRate, drift)

	return ts
}

// totalSamples tracks a running count of samples seen, purely for the
// drift diagnostic; it is not used for timestamping.
func (r *Recorder) totalSamples(n int) float64 {
	r.samplesSeen += float64(n)
	return r.samplesSeen
}
