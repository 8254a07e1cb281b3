// Package classifier implements the four-state classifier state machine
// (idle / data-collect / training / application) that consumes decoded
// chunks from a Recorder and hands them to a concrete Plugin's Train/Apply
// methods, reporting mode transitions and results through an events.Sink.
// Grounded on
// _examples/original_source/bciserver/classifiers/classifier.py's
// Classifier base class; threading.Event/state_event becomes a coalescing
// one-shot request channel per spec.md §9's design note (prefer a bounded
// one-shot signal over an untyped Event to avoid spurious-wakeup bugs).
package classifier

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/kuleuven-neuro/bciserver/pkg/bcierr"
	"github.com/kuleuven-neuro/bciserver/pkg/events"
	"github.com/kuleuven-neuro/bciserver/pkg/recorder"
)

// State is one of the four classifier states (spec.md §3/§4.3).
type State string

const (
	Idle        State = "idle"
	DataCollect State = "data-collect"
	Training    State = "training"
	Application State = "application"
)

func validState(s State) bool {
	switch s {
	case Idle, DataCollect, Training, Application:
		return true
	}
	return false
}

// Result is what a Plugin's Train/Apply produces: a list of response
// tokens (e.g. ["training-result", "<base64-blob>"]) and an optional
// timestamp, forwarded verbatim to events.Sink.Result.
type Result struct {
	Tokens    []string
	Timestamp *float64
}

// Plugin is what a concrete classifier provides; the state machine owns
// all threading and handoff, plugins never touch it (spec.md §9's
// interface re-architecture of the source's subclassing model).
type Plugin interface {
	Train(data *recorder.Chunk) (Result, error)
	Apply(data *recorder.Chunk) (Result, error)
	SetParameter(name string, values []string) (handled bool, err error)
	GetParameter(name string) (value string, ok bool)
}

// Classifier drives Plugin through the four-state machine, consuming from
// a Recorder via its blocking Read.
type Classifier struct {
	log    *log.Logger
	rec    *recorder.Recorder
	sink   events.Sink
	plugin Plugin

	mu               sync.Mutex
	state            State
	prevState        State
	trainingComplete bool
	running          bool

	requestCh chan State
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func New(rec *recorder.Recorder, plugin Plugin, sink events.Sink, logger *log.Logger) *Classifier {
	if logger == nil {
		logger = log.New(os.Stderr, "[classifier] ", log.LstdFlags)
	}
	return &Classifier{
		log:       logger,
		rec:       rec,
		sink:      sink,
		plugin:    plugin,
		state:     Idle,
		prevState: Idle,
		requestCh: make(chan State, 1),
	}
}

// Start launches the state-machine goroutine. The caller's Recorder must
// already be running.
func (c *Classifier) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go c.run()
}

// ChangeState requests a state transition (spec.md §4.3's
// change_state/state_event). The request channel coalesces: only the
// most recent pending request survives if the consumer hasn't caught up.
func (c *Classifier) ChangeState(next State) error {
	if !validState(next) {
		return bcierr.NewEngine(bcierr.ErrInvalidMode, "invalid mode %q", next)
	}
	select {
	case c.requestCh <- next:
	default:
		select {
		case <-c.requestCh:
		default:
		}
		c.requestCh <- next
	}
	return nil
}

func (c *Classifier) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stop halts the state machine and unblocks any Recorder read it may be
// waiting on. Idempotent.
func (c *Classifier) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	done := c.doneCh
	c.mu.Unlock()

	_ = c.ChangeState(Idle)
	// The Application loop may be parked in rec.Read(true, ...) waiting on
	// data that will never arrive once we've asked it to stop; wake it the
	// same way the original's stop() notifies recorder.data_condition. The
	// broadcast alone only unblocks Read if the Recorder is also stopped or
	// delivers a chunk, so bound the join the same way recorder.Stop()
	// bounds its own shutdown wait, rather than risk a deadlock in
	// Engine.teardown (which stops the Classifier before the Recorder).
	c.rec.WakeReaders()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	c.log.Println("classifier stopped")
}

func (c *Classifier) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Classifier) transition(next State) {
	c.mu.Lock()
	c.prevState = c.state
	c.state = next
	c.mu.Unlock()
}

// waitRequest blocks until the next ChangeState call or Stop.
func (c *Classifier) waitRequest() (State, bool) {
	select {
	case req := <-c.requestCh:
		c.transition(req)
		return req, true
	case <-c.stopCh:
		return Idle, false
	}
}

// pollRequest returns immediately: a pending request if any, else ok=false.
func (c *Classifier) pollRequest() (State, bool) {
	select {
	case req := <-c.requestCh:
		c.transition(req)
		return req, true
	default:
		return "", false
	}
}

func (c *Classifier) run() {
	defer close(c.doneCh)

	for c.isRunning() {
		c.mu.Lock()
		state := c.state
		prev := c.prevState
		c.mu.Unlock()

		switch state {
		case Idle:
			c.rec.StopCapture()
			c.sink.Mode(string(Idle))
			if _, ok := c.waitRequest(); !ok {
				return
			}

		case DataCollect:
			if prev != DataCollect {
				c.rec.Flush()
			}
			select {
			case <-c.rec.CalibratedChan():
			case <-c.stopCh:
				return
			}
			c.rec.StartCapture()
			c.sink.Mode(string(DataCollect))
			if _, ok := c.waitRequest(); !ok {
				return
			}

		case Training:
			c.rec.StopCapture()
			c.sink.Mode(string(Training))

			data := c.rec.Read(false, true)
			result, err := c.plugin.Train(data)
			if err != nil {
				c.log.Printf("training failed: %v", err)
				c.sink.Error(bcierr.NewClassifier("training failed: %v", err))
			} else {
				c.mu.Lock()
				c.trainingComplete = true
				c.mu.Unlock()
				c.sink.Result(result.Tokens, result.Timestamp)
			}
			c.transition(Idle)

		case Application:
			c.mu.Lock()
			complete := c.trainingComplete
			c.mu.Unlock()
			if !complete {
				c.log.Println("cannot enter application state without prior training")
				c.sink.Error(bcierr.NewClassifier("application requires prior training"))
				c.transition(Idle)
				continue
			}
			if prev != Application {
				c.sink.Mode(string(Application))
			}
			c.rec.StartCapture()

			for {
				if _, ok := c.pollRequest(); ok {
					break
				}
				data := c.rec.Read(true, true)
				if data == nil {
					if !c.isRunning() {
						return
					}
					continue
				}
				result, err := c.plugin.Apply(data)
				if err != nil {
					c.sink.Error(bcierr.NewClassifier("apply failed: %v", err))
					continue
				}
				c.sink.Result(result.Tokens, result.Timestamp)
			}

		default:
			c.log.Printf("classifier in invalid state %q", state)
			if _, ok := c.waitRequest(); !ok {
				return
			}
		}
	}
}

// SetParameter/GetParameter forward to the active Plugin; the state
// machine itself exposes no parameters of its own.
func (c *Classifier) SetParameter(name string, values []string) error {
	handled, err := c.plugin.SetParameter(name, values)
	if err != nil {
		return bcierr.NewClassifier("%v", err)
	}
	if !handled {
		return bcierr.NewEngine(bcierr.ErrUnknownClassParam, "unknown classifier parameter %q", name)
	}
	return nil
}

func (c *Classifier) GetParameter(name string) (string, error) {
	val, ok := c.plugin.GetParameter(name)
	if !ok {
		return "", bcierr.NewEngine(bcierr.ErrUnknownClassParam, "unknown classifier parameter %q", name)
	}
	return val, nil
}
