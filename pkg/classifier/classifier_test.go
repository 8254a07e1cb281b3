package classifier

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/kuleuven-neuro/bciserver/pkg/bcierr"
	"github.com/kuleuven-neuro/bciserver/pkg/device"
	"github.com/kuleuven-neuro/bciserver/pkg/events"
	"github.com/kuleuven-neuro/bciserver/pkg/recorder"
)

// fakeDriver is a minimal device.Driver fake, a reduced form of the one in
// the recorder package's own tests (which is not exported).
type fakeDriver struct {
	nchannels  int
	sampleRate float64
}

func (f *fakeDriver) Open() (time.Time, error)                     { return time.Now(), nil }
func (f *fakeDriver) Close() error                                 { return nil }
func (f *fakeDriver) ReadChunk(buf []byte) (int, time.Time, error) { return 0, time.Now(), io.EOF }
func (f *fakeDriver) WriteMarker(code int, kind device.MarkerKind) error {
	return device.ErrMarkerUnsupported
}
func (f *fakeDriver) StatusAsMarkers() bool { return false }
func (f *fakeDriver) Decoder() device.FrameDecoder {
	return &device.SimpleFrameDecoder{NChannels: f.nchannels}
}
func (f *fakeDriver) SampleRate() float64                                     { return f.sampleRate }
func (f *fakeDriver) NChannels() int                                          { return f.nchannels }
func (f *fakeDriver) ChannelLabels() []string                                 { return []string{"C1", "C2"} }
func (f *fakeDriver) Gain() float64                                           { return 1 }
func (f *fakeDriver) PhysicalMin() float64                                    { return 0 }
func (f *fakeDriver) CalibrationTime() time.Duration                          { return 0 }
func (f *fakeDriver) SetParameter(name string, values []string) (bool, error) { return false, nil }
func (f *fakeDriver) GetParameter(name string) (string, bool)                 { return "", false }

// recordingSink captures every push event for assertions.
type recordingSink struct {
	mu    sync.Mutex
	modes []string
}

func (s *recordingSink) Mode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes = append(s.modes, mode)
}
func (s *recordingSink) Result([]string, *float64) {}
func (s *recordingSink) Error(error)                {}

func (s *recordingSink) lastMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.modes) == 0 {
		return ""
	}
	return s.modes[len(s.modes)-1]
}

// stubPlugin is a Plugin whose Train/Apply outcomes are controlled by the
// test.
type stubPlugin struct {
	trainErr error
	applyErr error
}

func (p *stubPlugin) Train(data *recorder.Chunk) (Result, error) {
	if p.trainErr != nil {
		return Result{}, p.trainErr
	}
	return Result{Tokens: []string{"training-result", "ok"}}, nil
}
func (p *stubPlugin) Apply(data *recorder.Chunk) (Result, error) {
	if p.applyErr != nil {
		return Result{}, p.applyErr
	}
	return Result{Tokens: []string{"classification", "0"}}, nil
}
func (p *stubPlugin) SetParameter(name string, values []string) (bool, error) { return false, nil }
func (p *stubPlugin) GetParameter(name string) (string, bool)                 { return "", false }

func newTestClassifier(plugin Plugin) (*Classifier, *recorder.Recorder) {
	drv := &fakeDriver{nchannels: 2, sampleRate: 100}
	sink := &recordingSink{}
	rec := recorder.New(drv, events.Nop{}, log.New(io.Discard, "", 0))
	cls := New(rec, plugin, sink, log.New(io.Discard, "", 0))
	return cls, rec
}

func TestClassifierStartsIdleAndReportsMode(t *testing.T) {
	sink := &recordingSink{}
	drv := &fakeDriver{nchannels: 2, sampleRate: 100}
	rec := recorder.New(drv, events.Nop{}, log.New(io.Discard, "", 0))
	cls := New(rec, &stubPlugin{}, sink, log.New(io.Discard, "", 0))

	cls.Start()
	defer cls.Stop()

	deadline := time.After(time.Second)
	for sink.lastMode() != "idle" {
		select {
		case <-deadline:
			t.Fatal("classifier never reported idle mode")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestClassifierApplicationRefusedWithoutTraining(t *testing.T) {
	cls, _ := newTestClassifier(&stubPlugin{})
	errs := make(chan error, 1)
	sink := &errorCapturingSink{errs: errs}
	cls.sink = sink

	cls.Start()
	defer cls.Stop()

	if err := cls.ChangeState(Application); err != nil {
		t.Fatalf("ChangeState(Application): %v", err)
	}

	select {
	case err := <-errs:
		classErr, ok := err.(*bcierr.Classifier)
		if !ok {
			t.Fatalf("got %T, want *bcierr.Classifier", err)
		}
		_ = classErr
	case <-time.After(time.Second):
		t.Fatal("expected an error reporting application attempted before training")
	}

	deadline := time.After(time.Second)
	for cls.State() != Idle {
		select {
		case <-deadline:
			t.Fatalf("state = %q, want idle after a refused application attempt", cls.State())
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

type errorCapturingSink struct {
	errs chan error
}

func (s *errorCapturingSink) Mode(string)               {}
func (s *errorCapturingSink) Result([]string, *float64) {}
func (s *errorCapturingSink) Error(err error)            { s.errs <- err }

func TestClassifierChangeStateRejectsInvalidState(t *testing.T) {
	cls, _ := newTestClassifier(&stubPlugin{})
	if err := cls.ChangeState(State("bogus")); err == nil {
		t.Fatal("expected an error for an invalid state name")
	}
}

func TestClassifierChangeStateCoalesces(t *testing.T) {
	cls, _ := newTestClassifier(&stubPlugin{})
	// Fill the one-slot channel, then immediately overwrite with a second
	// request before anything drains it: only the latest should survive.
	cls.requestCh <- DataCollect
	if err := cls.ChangeState(Training); err != nil {
		t.Fatalf("ChangeState: %v", err)
	}
	select {
	case got := <-cls.requestCh:
		if got != Training {
			t.Errorf("coalesced request = %q, want training", got)
		}
	default:
		t.Fatal("expected a pending request after coalescing")
	}
}

func TestClassifierStopIsIdempotent(t *testing.T) {
	cls, _ := newTestClassifier(&stubPlugin{})
	cls.Start()
	cls.Stop()
	cls.Stop() // must not panic or deadlock
}
