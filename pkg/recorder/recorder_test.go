package recorder

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/kuleuven-neuro/bciserver/pkg/bcierr"
	"github.com/kuleuven-neuro/bciserver/pkg/device"
	"github.com/kuleuven-neuro/bciserver/pkg/events"
)

// fakeDriver is a minimal device.Driver for exercising Recorder logic
// that doesn't need a live BackgroundReader goroutine (timestamp
// estimation, marker placement, parameter handling).
type fakeDriver struct {
	nchannels  int
	sampleRate float64
	gain       float64
	physMin    float64
	labels     []string
	params     map[string]string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		nchannels:  4,
		sampleRate: 100,
		gain:       1,
		labels:     []string{"Fp1", "Fp2", "Cz", "Oz"},
		params:     make(map[string]string),
	}
}

func (f *fakeDriver) Open() (time.Time, error)                       { return time.Now(), nil }
func (f *fakeDriver) Close() error                                   { return nil }
func (f *fakeDriver) ReadChunk(buf []byte) (int, time.Time, error)   { return 0, time.Now(), io.EOF }
func (f *fakeDriver) WriteMarker(code int, kind device.MarkerKind) error {
	return device.ErrMarkerUnsupported
}
func (f *fakeDriver) StatusAsMarkers() bool           { return false }
func (f *fakeDriver) Decoder() device.FrameDecoder    { return &device.SimpleFrameDecoder{NChannels: f.nchannels} }
func (f *fakeDriver) SampleRate() float64             { return f.sampleRate }
func (f *fakeDriver) NChannels() int                  { return f.nchannels }
func (f *fakeDriver) ChannelLabels() []string         { return f.labels }
func (f *fakeDriver) Gain() float64                   { return f.gain }
func (f *fakeDriver) PhysicalMin() float64            { return f.physMin }
func (f *fakeDriver) CalibrationTime() time.Duration  { return 0 }
func (f *fakeDriver) SetParameter(name string, values []string) (bool, error) {
	if name != "demo_param" {
		return false, nil
	}
	f.params[name] = values[0]
	return true, nil
}
func (f *fakeDriver) GetParameter(name string) (string, bool) {
	v, ok := f.params[name]
	return v, ok
}

func newTestRecorder() *Recorder {
	return New(newFakeDriver(), events.Nop{}, log.New(io.Discard, "", 0))
}

func TestResolveChannelListByIndexAndName(t *testing.T) {
	r := newTestRecorder()
	idx, err := r.resolveChannelList([]string{"0", "Cz", "3"})
	if err != nil {
		t.Fatalf("resolveChannelList: %v", err)
	}
	if want := []int{0, 2, 3}; !equalInts(idx, want) {
		t.Errorf("got %v, want %v", idx, want)
	}
}

func TestResolveChannelListRejectsUnknownName(t *testing.T) {
	r := newTestRecorder()
	if _, err := r.resolveChannelList([]string{"not-a-channel"}); err == nil {
		t.Fatal("expected an error for an unknown channel name")
	}
}

func TestSetGetParameterRoundTrip(t *testing.T) {
	r := newTestRecorder()

	if err := r.SetParameter("timing_mode", []string{"smoothed_sample_rate"}); err != nil {
		t.Fatalf("SetParameter(timing_mode): %v", err)
	}
	v, err := r.GetParameter("timing_mode")
	if err != nil || v != "smoothed_sample_rate" {
		t.Fatalf("GetParameter(timing_mode) = %q, %v", v, err)
	}

	if err := r.SetParameter("timing_mode", []string{"bogus"}); err == nil {
		t.Fatal("expected an error for an invalid timing_mode")
	}

	if err := r.SetParameter("target_channels", []string{"Fp1", "Oz"}); err != nil {
		t.Fatalf("SetParameter(target_channels): %v", err)
	}
	if v, _ := r.GetParameter("nchannels"); v != "2" {
		t.Errorf("nchannels after target_channels = %q, want 2", v)
	}
}

func TestSetParameterForwardsToDevice(t *testing.T) {
	r := newTestRecorder()
	if err := r.SetParameter("demo_param", []string{"42"}); err != nil {
		t.Fatalf("SetParameter(demo_param): %v", err)
	}
	v, err := r.GetParameter("demo_param")
	if err != nil || v != "42" {
		t.Fatalf("GetParameter(demo_param) = %q, %v", v, err)
	}
}

func TestSetParameterUnknownNameIsEngineError(t *testing.T) {
	r := newTestRecorder()
	err := r.SetParameter("nonexistent", []string{"x"})
	if err == nil {
		t.Fatal("expected an error for an unrecognized parameter name")
	}
	if _, ok := err.(*bcierr.Engine); !ok {
		t.Errorf("got %T, want *bcierr.Engine", err)
	}
}

func TestEstimateTimestampsBeginReadRelative(t *testing.T) {
	r := newTestRecorder()
	r.t0 = time.Now().Add(-time.Second)
	r.window = newRateWindow(r.bufferSizeSeconds)

	begin := r.t0.Add(500 * time.Millisecond)
	end := begin.Add(100 * time.Millisecond) // 10 samples @ 100Hz

	ts := r.estimateTimestamps(10, begin, end)
	if len(ts) != 10 {
		t.Fatalf("got %d timestamps, want 10", len(ts))
	}
	// BeginReadRelative bases on begin-relative time, spaced by 1/sampleRate.
	for k := 1; k < len(ts); k++ {
		dt := ts[k] - ts[k-1]
		if dt < 0.0099 || dt > 0.0101 {
			t.Errorf("sample spacing[%d] = %v, want ~0.01", k, dt)
		}
	}
}

func TestEstimateTimestampsFixedModeIsContiguous(t *testing.T) {
	r := newTestRecorder()
	r.timingMode = Fixed
	r.t0 = time.Now()
	r.window = newRateWindow(r.bufferSizeSeconds)

	first := r.estimateTimestamps(5, r.t0, r.t0.Add(50*time.Millisecond))
	second := r.estimateTimestamps(5, r.t0.Add(50*time.Millisecond), r.t0.Add(100*time.Millisecond))

	if second[0] <= first[len(first)-1] {
		t.Errorf("fixed-mode timestamps are not strictly increasing across chunks: %v then %v", first, second)
	}
}

func TestAddMarkersPlacesTriggerWithinChunk(t *testing.T) {
	r := newTestRecorder()
	r.t0 = time.Now().Add(-10 * time.Second)

	// 1.0018 s after T0 lies between samples 1 and 2; searchSorted places
	// it at index 2. (An offset of exactly 1.002 does not survive the
	// round trip through epoch seconds, which have a resolution of about
	// 2.4e-7 s, and would land just past sample 2.)
	now := nowSeconds(time.Now())
	r.pending = []Marker{{Code: 5, Kind: device.Trigger, Timestamp: nowSeconds(r.t0) + 1.0018, ReceivedAt: now}}

	ts := []float64{1.0, 1.001, 1.002, 1.003, 1.004}
	status := make([]int32, len(ts))
	r.addMarkers(status, ts)

	if status[2] != 5 {
		t.Errorf("status = %v, want a 5 at index 2", status)
	}
	for i, v := range status {
		if i != 2 && v != 0 {
			t.Errorf("status[%d] = %d, want 0 (trigger marks only its own sample)", i, v)
		}
	}
	if len(r.pending) != 0 {
		t.Errorf("marker should have been consumed, %d still pending", len(r.pending))
	}
}

func TestAddMarkersFutureMarkerStaysPending(t *testing.T) {
	r := newTestRecorder()
	r.t0 = time.Now().Add(-10 * time.Second)

	r.pending = []Marker{{Code: 9, Kind: device.Trigger, Timestamp: nowSeconds(r.t0) + 100}}
	ts := []float64{1.0, 1.001, 1.002}
	status := make([]int32, len(ts))
	r.addMarkers(status, ts)

	for _, v := range status {
		if v != 0 {
			t.Errorf("status = %v, a future marker must not be placed yet", status)
		}
	}
	if len(r.pending) != 1 {
		t.Errorf("expected the future marker to remain pending, got %d pending", len(r.pending))
	}
}

func TestAddMarkersSwitchPersistsAcrossChunks(t *testing.T) {
	r := newTestRecorder()
	r.t0 = time.Now().Add(-10 * time.Second)

	r.pending = []Marker{{Code: 3, Kind: device.Switch, Timestamp: nowSeconds(r.t0) + 1.0}}
	ts1 := []float64{1.0, 1.001, 1.002}
	status1 := make([]int32, len(ts1))
	r.addMarkers(status1, ts1)
	for _, v := range status1 {
		if v != 3 {
			t.Fatalf("status1 = %v, want all 3s from the switch marker onward", status1)
		}
	}

	// A later chunk with no new marker keeps filling with the current
	// switch code.
	ts2 := []float64{1.003, 1.004}
	status2 := make([]int32, len(ts2))
	r.addMarkers(status2, ts2)
	for _, v := range status2 {
		if v != 3 {
			t.Errorf("status2 = %v, switch marker should persist across chunks", status2)
		}
	}
}

func TestSearchSortedMatchesLeftSemantics(t *testing.T) {
	ts := []float64{1, 2, 2, 3}
	cases := map[float64]int{
		0.5: 0,
		1:   0,
		1.5: 1,
		2:   1,
		2.5: 3,
		4:   4,
	}
	for v, want := range cases {
		if got := searchSorted(ts, v); got != want {
			t.Errorf("searchSorted(%v) = %d, want %d", v, got, want)
		}
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
