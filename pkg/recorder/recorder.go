// Package recorder turns raw device bytes into timestamped,
// marker-annotated sample chunks and exposes them to a blocking consumer
// (the Classifier), optionally mirroring every chunk to a BDF file and/or
// a Parquet dataset file. Grounded on
// _examples/original_source/bciserver/eegdevices/recorder.py's Recorder
// class; the background-reader/decode-loop split follows the teacher's
// dummy_streamer.go + capture_test.go shape.
package recorder

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/kuleuven-neuro/bciserver/pkg/bcierr"
	"github.com/kuleuven-neuro/bciserver/pkg/bdf"
	"github.com/kuleuven-neuro/bciserver/pkg/device"
	"github.com/kuleuven-neuro/bciserver/pkg/events"
	"github.com/kuleuven-neuro/bciserver/pkg/reader"
)

// TimingMode selects one of the five timestamp-estimation strategies
// (spec.md §4.2.1).
type TimingMode string

const (
	Fixed               TimingMode = "fixed"
	EndReadRelative     TimingMode = "end_read_relative"
	BeginReadRelative   TimingMode = "begin_read_relative"
	EstimatedSampleRate TimingMode = "estimated_sample_rate"
	SmoothedSampleRate  TimingMode = "smoothed_sample_rate"
)

func validTimingMode(m string) bool {
	switch TimingMode(m) {
	case Fixed, EndReadRelative, BeginReadRelative, EstimatedSampleRate, SmoothedSampleRate:
		return true
	}
	return false
}

// Marker is a pending (code, kind, timestamp) request awaiting placement
// into the sample timeline (spec.md §3).
type Marker struct {
	Code       int
	Kind       device.MarkerKind
	Timestamp  float64 // seconds since Unix epoch
	ReceivedAt float64
}

// Chunk is one decoded batch of samples: channels selected by
// target_channels, already reference-subtracted and gain-applied,
// together with a parallel status/marker vector and timestamp vector
// (spec.md §3's Sample).
type Chunk struct {
	Channels   [][]float64 // [channel][sample], physical units
	Status     []int32
	Timestamps []float64 // seconds relative to T0
}

func (c *Chunk) N() int {
	if c == nil || len(c.Timestamps) == 0 {
		return 0
	}
	return len(c.Timestamps)
}

func (c *Chunk) append(raw [][]int32, status []int32, ts []float64, gain, physMin float64) {
	n := len(ts)
	if c.Channels == nil {
		c.Channels = make([][]float64, len(raw))
	}
	for ch := range raw {
		values := make([]float64, n)
		for i, v := range raw[ch] {
			values[i] = float64(v)*gain + physMin
		}
		c.Channels[ch] = append(c.Channels[ch], values...)
	}
	c.Status = append(c.Status, status...)
	c.Timestamps = append(c.Timestamps, ts...)
}

// Recorder owns a DeviceDriver and a BackgroundReader, decodes raw bytes
// into a sample stream, overlays markers, and mirrors the raw stream to
// BDF/Parquet. Exported operations mirror recorder.py's public surface.
type Recorder struct {
	log  *log.Logger
	dev  device.Driver
	sink events.Sink

	bufferSizeSeconds float64
	timingMode        TimingMode
	channelNames      []string
	targetChannels    []int
	referenceChannels []int

	bdfFile     string
	datasetFile string

	reader *reader.BackgroundReader

	stateMu  sync.Mutex
	running  bool
	capture  bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	t0          time.Time
	lastID      float64
	lastRaw     []int32
	lastSeq     int64
	window      *rateWindow
	calibTime   time.Duration
	samplesSeen float64

	calibMu     sync.Mutex
	calibrated  bool
	calibCh     chan struct{}

	markerMu      sync.Mutex
	pending       []Marker
	currentKind   device.MarkerKind
	currentCode   int

	dataMu   sync.Mutex
	dataCond *sync.Cond
	data     *Chunk

	bdfWriter   *bdf.Writer
	bdfHandle   *os.File
	dataset     *datasetSink
	markerLog   *markerLogger
}

// New constructs a Recorder bound to dev. sink receives asynchronous
// decoder errors; pass events.Nop{} if none are wanted yet.
func New(dev device.Driver, sink events.Sink, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.New(os.Stderr, "[recorder] ", log.LstdFlags)
	}
	nch := dev.NChannels()
	target := make([]int, nch)
	for i := range target {
		target[i] = i
	}
	r := &Recorder{
		log:               logger,
		dev:               dev,
		sink:              sink,
		bufferSizeSeconds: 0.5,
		timingMode:        BeginReadRelative,
		channelNames:      append([]string(nil), dev.ChannelLabels()...),
		targetChannels:    target,
		calibCh:           make(chan struct{}),
		currentKind:       device.Switch,
	}
	r.dataCond = sync.NewCond(&r.dataMu)
	return r
}

// Start opens the device, establishes T0, and launches the
// BackgroundReader and decode goroutine. Idempotent.
func (r *Recorder) Start() error {
	r.stateMu.Lock()
	if r.running {
		r.stateMu.Unlock()
		return nil
	}
	r.stateMu.Unlock()

	t0, err := r.dev.Open()
	if err != nil {
		return bcierr.NewDevice("open failed: %v", err)
	}
	r.t0 = t0
	r.lastID = 0
	r.lastSeq = -1
	r.calibTime = r.dev.CalibrationTime()
	r.window = newRateWindow(r.bufferSizeSeconds)

	if r.bdfFile != "" {
		if err := r.openBDF(); err != nil {
			r.dev.Close()
			return err
		}
	}
	if r.datasetFile != "" {
		if err := r.openDataset(); err != nil {
			r.closeSinks()
			r.dev.Close()
			return err
		}
	}
	r.openMarkerLog()

	frameSize := r.dev.Decoder().FrameSize()
	samplesPerBuf := int(r.bufferSizeSeconds * r.dev.SampleRate())
	if samplesPerBuf < 1 {
		samplesPerBuf = 1
	}
	bufSize := samplesPerBuf * frameSize
	if bufSize < frameSize {
		bufSize = frameSize
	}

	r.reader = reader.New(r.dev, 4, bufSize, r.log)
	r.reader.Start()

	r.stateMu.Lock()
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.stateMu.Unlock()

	go r.run()

	return nil
}

// StartCapture (re)starts delivering decoded chunks to Read; decoding and
// BDF mirroring continue unconditionally regardless of this flag.
func (r *Recorder) StartCapture() {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.capture {
		return
	}
	r.log.Println("starting data capture")
	r.capture = true
}

// StopCapture stops delivering decoded chunks; Read will return nothing
// new until StartCapture is called again.
func (r *Recorder) StopCapture() {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if !r.capture {
		return
	}
	r.log.Println("stopping data capture")
	r.capture = false
}

// Read returns all samples accumulated since the last Read. If block is
// true and none are available, it waits until data arrives or the
// recorder stops. If flush is true the internal buffer is cleared
// afterwards.
func (r *Recorder) Read(block, flush bool) *Chunk {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()

	if block {
		for r.data == nil && r.isRunning() {
			r.dataCond.Wait()
		}
	}

	d := r.data
	if flush {
		r.data = nil
	}
	return d
}

func (r *Recorder) isRunning() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.running
}

// Running reports whether the Recorder is started and its decode loop has
// not stopped (independent of the capture flag), so callers
// outside this package (the Classifier, in particular) can decide whether
// starting/stopping a dependent goroutine makes sense right now.
func (r *Recorder) Running() bool {
	return r.isRunning()
}

// WakeReaders unblocks any goroutine parked in Read(true, ...) without
// changing run state, mirroring the original's
// recorder.data_condition.notifyAll() call from classifier.stop() so a
// classifier shutting down never leaves its own Read() call stuck waiting
// on data that will never arrive.
func (r *Recorder) WakeReaders() {
	r.dataMu.Lock()
	r.dataCond.Broadcast()
	r.dataMu.Unlock()
}

// Flush discards all data collected thus far.
func (r *Recorder) Flush() {
	r.dataMu.Lock()
	r.data = nil
	r.dataMu.Unlock()
}

// CalibratedChan is closed once T0+calibration_time has elapsed — a
// one-shot signal consumers may select on instead of polling.
func (r *Recorder) CalibratedChan() <-chan struct{} {
	return r.calibCh
}

// SetMarker enqueues a marker, or if the device is configured with
// status_as_markers, writes directly to the hardware trigger line instead
// (spec.md §4.2). timestamp, when nil, is evaluated as time.Now() here —
// at call time, never via a once-evaluated default expression (spec.md
// §9's open question).
func (r *Recorder) SetMarker(code int, kind device.MarkerKind, timestamp *float64) error {
	now := time.Now()
	ts := nowSeconds(now)
	if timestamp != nil {
		ts = *timestamp
	}

	if r.dev.StatusAsMarkers() {
		if err := r.dev.WriteMarker(code, kind); err != nil {
			return bcierr.NewDevice("write marker: %v", err)
		}
		return nil
	}

	m := Marker{Code: code, Kind: kind, Timestamp: ts, ReceivedAt: nowSeconds(now)}
	r.markerMu.Lock()
	r.pending = append(r.pending, m)
	r.markerMu.Unlock()
	r.log.Printf("received marker code=%d kind=%s timestamp=%f", code, kind, ts)
	return nil
}

func nowSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Stop shuts down the decoder, BackgroundReader, BDF/dataset writers, and
// device, in that order. Idempotent.
func (r *Recorder) Stop() {
	r.stateMu.Lock()
	if !r.running {
		r.stateMu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	stateDone := r.doneCh
	r.stateMu.Unlock()

	r.dataMu.Lock()
	r.dataCond.Broadcast()
	r.dataMu.Unlock()

	// Stop the BackgroundReader first: it unblocks the decode goroutine's
	// Take() call so run() can observe stopCh/reader.Running()==false and
	// exit before we tear down the sinks and device it still writes to.
	if r.reader != nil {
		r.reader.Stop()
	}

	select {
	case <-stateDone:
	case <-time.After(2 * time.Second):
	}

	r.closeSinks()
	r.dev.Close()
	r.log.Println("recorder stopped")
}

func (r *Recorder) closeSinks() {
	if r.bdfHandle != nil {
		if r.bdfWriter != nil {
			if err := r.bdfWriter.Flush(); err != nil {
				r.log.Printf("flush bdf writer: %v", err)
			}
		}
		r.bdfHandle.Close()
		r.bdfHandle = nil
		r.bdfWriter = nil
	}
	if r.dataset != nil {
		r.dataset.Close()
		r.dataset = nil
	}
	if r.markerLog != nil {
		r.markerLog.Close()
		r.markerLog = nil
	}
}

// run is the decode loop (spec.md §4.2): consume BackgroundReader
// records, frame-decode, interpolate gaps, reference-subtract,
// timestamp, mirror to BDF/Parquet, overlay markers, gain-apply, and
// publish to the consumer slot.
func (r *Recorder) run() {
	defer close(r.doneCh)

	var carry []byte

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		records := r.reader.Take()
		if records == nil {
			if !r.reader.Running() {
				if err := r.reader.LastError(); err != nil {
					r.log.Printf("background reader failed: %v", err)
					r.sink.Error(bcierr.NewDevice("read failed: %v", err))
				}
				r.stateMu.Lock()
				r.running = false
				r.stateMu.Unlock()
				r.dataMu.Lock()
				r.dataCond.Broadcast()
				r.dataMu.Unlock()
				return
			}
			continue
		}

		for _, rec := range records {
			var err error
			carry, err = r.processRecord(rec, carry)
			if err != nil {
				r.log.Printf("decode error: %v", err)
				r.sink.Error(err)
			}
		}
	}
}

func (r *Recorder) processRecord(rec reader.Record, carry []byte) ([]byte, error) {
	decoded := r.dev.Decoder().Decode(carry, rec.Buf[:rec.N], r.lastSeq)
	if decoded.Resynced {
		r.log.Println("frame sync lost, resynchronized on preamble")
	}
	if decoded.Dropped > 0 {
		r.log.Printf("dropped %d frames (sequence gap)", decoded.Dropped)
	}
	if len(decoded.Frames) == 0 {
		return decoded.Remainder, nil
	}

	raw := r.expandFrames(decoded.Frames)
	nsamples := len(raw[0])

	begin := rec.Time.Add(-time.Duration(float64(nsamples)/r.dev.SampleRate() * float64(time.Second)))
	end := rec.Time

	target, ref := r.selectChannels(raw)
	status := make([]int32, nsamples)

	ts := r.estimateTimestamps(nsamples, begin, end)

	if r.bdfWriter != nil {
		if err := r.bdfWriter.WriteRecord(withReference(target, ref), status); err != nil {
			r.log.Printf("bdf write: %v", err)
		}
	}
	if r.dataset != nil {
		if err := r.dataset.Write(withReference(target, ref), status, ts); err != nil {
			r.log.Printf("dataset write: %v", err)
		}
	}

	r.addMarkers(status, ts)

	r.maybeCalibrate()

	r.stateMu.Lock()
	capturing := r.capture
	r.stateMu.Unlock()

	if capturing {
		chunk := &Chunk{}
		chunk.append(withReference(target, ref), status, ts, r.dev.Gain(), r.dev.PhysicalMin())

		r.dataMu.Lock()
		if r.data == nil {
			r.data = chunk
		} else {
			r.data.Channels = appendChannels(r.data.Channels, chunk.Channels)
			r.data.Status = append(r.data.Status, chunk.Status...)
			r.data.Timestamps = append(r.data.Timestamps, chunk.Timestamps...)
		}
		r.dataCond.Broadcast()
		r.dataMu.Unlock()
	}

	return decoded.Remainder, nil
}

func appendChannels(dst, src [][]float64) [][]float64 {
	if dst == nil {
		return src
	}
	for i := range dst {
		dst[i] = append(dst[i], src[i]...)
	}
	return dst
}

func withReference(target [][]int32, refMean []float64) [][]int32 {
	if refMean == nil {
		return target
	}
	out := make([][]int32, len(target))
	for ch := range target {
		vals := make([]int32, len(target[ch]))
		for i, v := range target[ch] {
			vals[i] = v - int32(refMean[i])
		}
		out[ch] = vals
	}
	return out
}

// expandFrames fills in gaps left by dropped sequence numbers via linear
// interpolation between the last-seen sample and the first new one
// (spec.md §4.2 step 3), and returns raw[channel][sample] for the whole
// record (all device channels, before target selection).
func (r *Recorder) expandFrames(frames []device.Frame) [][]int32 {
	nch := len(frames[0].Samples)
	raw := make([][]int32, nch)
	for ch := range raw {
		raw[ch] = make([]int32, 0, len(frames))
	}

	prev := r.lastRaw
	prevSeq := r.lastSeq

	for _, f := range frames {
		if prevSeq >= 0 && prev != nil {
			gap := int(int64(f.Seq) - prevSeq - 1)
			for g := 1; g <= gap; g++ {
				frac := float64(g) / float64(gap+1)
				for ch := 0; ch < nch; ch++ {
					v := float64(prev[ch]) + frac*float64(f.Samples[ch]-prev[ch])
					raw[ch] = append(raw[ch], int32(v))
				}
			}
		}
		for ch := 0; ch < nch; ch++ {
			raw[ch] = append(raw[ch], f.Samples[ch])
		}
		prev = f.Samples
		prevSeq = int64(f.Seq)
	}

	r.lastRaw = prev
	r.lastSeq = prevSeq

	return raw
}

// selectChannels applies target_channels and computes the reference
// mean (if reference_channels is set) per sample, returning the
// target-selected raw block and, if applicable, the per-sample mean to
// subtract.
func (r *Recorder) selectChannels(raw [][]int32) (target [][]int32, refMean []float64) {
	target = make([][]int32, len(r.targetChannels))
	for i, ch := range r.targetChannels {
		target[i] = raw[ch]
	}

	if len(r.referenceChannels) == 0 {
		return target, nil
	}

	n := len(raw[0])
	refMean = make([]float64, n)
	for _, ch := range r.referenceChannels {
		for i, v := range raw[ch] {
			refMean[i] += float64(v)
		}
	}
	for i := range refMean {
		refMean[i] /= float64(len(r.referenceChannels))
	}
	return target, refMean
}

func (r *Recorder) maybeCalibrate() {
	r.calibMu.Lock()
	defer r.calibMu.Unlock()
	if r.calibrated {
		return
	}
	if time.Since(r.t0) > r.calibTime {
		r.calibrated = true
		close(r.calibCh)
	}
}

func (r *Recorder) openBDF() error {
	f, err := os.Create(r.bdfFile)
	if err != nil {
		return bcierr.NewDevice("open bdf file: %v", err)
	}
	labels := r.targetLabels()
	w := bdf.New(f, int(r.dev.SampleRate()), labels, -8388608, 8388607, r.dev.PhysicalMin(), r.dev.PhysicalMin()+float64(16777215)*r.dev.Gain())
	if err := w.WriteHeader(); err != nil {
		f.Close()
		return bcierr.NewDevice("write bdf header: %v", err)
	}
	r.bdfHandle = f
	r.bdfWriter = w
	return nil
}

func (r *Recorder) targetLabels() []string {
	labels := make([]string, len(r.targetChannels))
	for i, ch := range r.targetChannels {
		if ch < len(r.channelNames) {
			labels[i] = r.channelNames[ch]
		} else {
			labels[i] = fmt.Sprintf("CH%d", ch+1)
		}
	}
	return labels
}
