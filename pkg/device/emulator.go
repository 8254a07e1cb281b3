package device

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"
)

// Emulator is a self-contained signal generator: no real hardware is
// touched. It produces multi-channel sine-wave samples framed with
// SimpleFrameDecoder, using the same integer phase-accumulator (DDS)
// technique the teacher's FIFO-based simulator used to avoid floating
// point phase drift over long runs.
type Emulator struct {
	mu sync.Mutex

	nchannels  int
	sampleRate float64
	targetHz   float64
	amplitude  float64

	playbackFile string

	out    chan []byte
	stopCh chan struct{}
	seq    uint32
	t0     time.Time
	rng    *rand.Rand
}

func NewEmulator() *Emulator {
	return &Emulator{
		nchannels:  8,
		sampleRate: 1000,
		targetHz:   10,
		amplitude:  100,
		rng:        rand.New(rand.NewSource(1)),
	}
}

func (e *Emulator) Open() (time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.t0 = time.Now()
	e.out = make(chan []byte, 64)
	e.stopCh = make(chan struct{})
	e.seq = 0

	go e.generate()

	return e.t0, nil
}

func (e *Emulator) Close() error {
	e.mu.Lock()
	stop := e.stopCh
	e.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	return nil
}

// generate runs in its own goroutine, producing one frame roughly every
// sample period and batching frames into chunks before handing them to
// ReadChunk — mirroring how a real device delivers data in bursts rather
// than one sample at a time.
func (e *Emulator) generate() {
	e.mu.Lock()
	rate := e.sampleRate
	nch := e.nchannels
	targetHz := e.targetHz
	amp := e.amplitude
	playback := e.playbackFile
	stop := e.stopCh
	e.mu.Unlock()

	if playback != "" {
		e.playbackLoop(playback, stop)
		return
	}

	const samplesPerBatch = 32
	period := time.Duration(float64(samplesPerBatch) / rate * float64(time.Second))
	if period <= 0 {
		period = time.Millisecond
	}

	tuningWord := uint32((targetHz / rate) * 4294967296.0)
	chanOffsets := make([]uint32, nch)
	for c := 0; c < nch; c++ {
		chanOffsets[c] = uint32(c) * (4294967296 / uint32(nch+1))
	}

	var phaseAcc uint32
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			batch := make([]byte, 0, samplesPerBatch*(8+nch*2))
			for s := 0; s < samplesPerBatch; s++ {
				samples := make([]int32, nch)
				for c := 0; c < nch; c++ {
					phase := phaseAcc + chanOffsets[c]
					rads := float64(phase) * (2.0 * math.Pi / 4294967296.0)
					val := amp*math.Cos(rads) + (e.rng.Float64()-0.5)
					if val > 2047 {
						val = 2047
					}
					if val < -2048 {
						val = -2048
					}
					samples[c] = int32(val)
				}
				e.mu.Lock()
				seq := e.seq
				e.seq++
				e.mu.Unlock()
				batch = append(batch, EncodeFrame(seq, samples)...)
				phaseAcc += tuningWord
			}
			select {
			case e.out <- batch:
			case <-stop:
				return
			}
		}
	}
}

// playbackLoop streams a previously captured raw frame file instead of
// generating sine waves, servicing the emulator's bdf_playback_file
// parameter (spec.md §6).
func (e *Emulator) playbackLoop(path string, stop chan struct{}) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return
	}
	const chunkSize = 4096
	offset := 0
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			end := offset + chunkSize
			if end > len(data) {
				end = len(data)
			}
			chunk := append([]byte{}, data[offset:end]...)
			offset = end
			if offset >= len(data) {
				offset = 0
			}
			select {
			case e.out <- chunk:
			case <-stop:
				return
			}
		}
	}
}

func (e *Emulator) ReadChunk(buf []byte) (int, time.Time, error) {
	e.mu.Lock()
	out := e.out
	e.mu.Unlock()
	if out == nil {
		return 0, time.Time{}, fmt.Errorf("emulator: not open")
	}
	batch, ok := <-out
	if !ok {
		return 0, time.Now(), fmt.Errorf("emulator: closed")
	}
	n := copy(buf, batch)
	return n, time.Now(), nil
}

func (e *Emulator) WriteMarker(code int, kind MarkerKind) error {
	return ErrMarkerUnsupported
}

func (e *Emulator) StatusAsMarkers() bool { return false }

func (e *Emulator) Decoder() FrameDecoder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &SimpleFrameDecoder{NChannels: e.nchannels}
}

func (e *Emulator) SampleRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sampleRate
}

func (e *Emulator) NChannels() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nchannels
}

func (e *Emulator) ChannelLabels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	labels := make([]string, e.nchannels)
	for i := range labels {
		labels[i] = fmt.Sprintf("CH%d", i+1)
	}
	return labels
}

func (e *Emulator) Gain() float64        { return 0.5 } // digital -> microvolts
func (e *Emulator) PhysicalMin() float64 { return 0 }
func (e *Emulator) CalibrationTime() time.Duration { return 0 }

func (e *Emulator) SetParameter(name string, values []string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch name {
	case "nchannels":
		if len(values) < 1 {
			return true, fmt.Errorf("missing value for nchannels")
		}
		n, err := strconv.Atoi(values[0])
		if err != nil || n <= 0 {
			return true, fmt.Errorf("invalid nchannels: %q", values[0])
		}
		e.nchannels = n
		return true, nil
	case "sample_rate":
		if len(values) < 1 {
			return true, fmt.Errorf("missing value for sample_rate")
		}
		r, err := strconv.ParseFloat(values[0], 64)
		if err != nil || r <= 0 {
			return true, fmt.Errorf("invalid sample_rate: %q", values[0])
		}
		e.sampleRate = r
		return true, nil
	case "bdf_playback_file":
		if len(values) < 1 {
			return true, fmt.Errorf("missing value for bdf_playback_file")
		}
		e.playbackFile = values[0]
		return true, nil
	}
	return false, nil
}

func (e *Emulator) GetParameter(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch name {
	case "nchannels":
		return strconv.Itoa(e.nchannels), true
	case "sample_rate":
		return strconv.FormatFloat(e.sampleRate, 'f', -1, 64), true
	case "bdf_playback_file":
		return e.playbackFile, true
	}
	return "", false
}
