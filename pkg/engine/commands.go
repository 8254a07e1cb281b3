package engine

import (
	"fmt"

	"github.com/kuleuven-neuro/bciserver/pkg/bcierr"
	"github.com/kuleuven-neuro/bciserver/pkg/classifier"
	"github.com/kuleuven-neuro/bciserver/pkg/device"
	"github.com/kuleuven-neuro/bciserver/pkg/protocol"
	"github.com/kuleuven-neuro/bciserver/pkg/recorder"
)

var _ protocol.Commands = (*Engine)(nil)

func (e *Engine) Ping() string { return "PONG" }

func (e *Engine) DeviceProvide() []string { return e.devices.Names() }

// DeviceSet selects and constructs a device driver, replacing any Recorder
// (and tearing down any Classifier riding on it) already in place — a
// client switching devices mid-session, not just mid-connection (spec.md
// §3's Recorder lifecycle: "destroyed on disconnect or device switch").
func (e *Engine) DeviceSet(name string) error {
	drv, ok, err := e.devices.New(name)
	if !ok {
		return bcierr.NewEngine(bcierr.ErrUnknownDevice, "recording device %q not available", name)
	}
	if err != nil {
		return bcierr.NewEngine(bcierr.ErrDeviceOpenFailed, "recording device %q unavailable: %v", name, err)
	}

	e.mu.Lock()
	oldCls, oldRec := e.cls, e.rec
	e.cls, e.classifierName = nil, ""
	e.rec = recorder.New(drv, e, e.log)
	e.deviceName = name
	e.mu.Unlock()

	if oldCls != nil {
		oldCls.Stop()
	}
	if oldRec != nil {
		oldRec.Stop()
	}

	return nil
}

func (e *Engine) DeviceOpen() error {
	e.mu.Lock()
	rec, cls := e.rec, e.cls
	e.mu.Unlock()

	if rec == nil {
		return bcierr.NewEngine(bcierr.ErrNoDeviceSelected, "please specify a recording device first")
	}
	if err := rec.Start(); err != nil {
		return err
	}
	if cls != nil {
		cls.Start()
	}
	return nil
}

func (e *Engine) DeviceParamSet(name string, values []string) error {
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()

	if rec == nil {
		return bcierr.NewEngine(bcierr.ErrNoDeviceSelected, "please specify a recording device first")
	}
	return rec.SetParameter(name, values)
}

func (e *Engine) DeviceParamGet(name string) (string, error) {
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()

	if rec == nil {
		return "", bcierr.NewEngine(bcierr.ErrNoDeviceSelected, "please specify a recording device first")
	}
	return rec.GetParameter(name)
}

func (e *Engine) ClassifierProvide() []string { return e.classifiers.Names() }

// ClassifierSet requires a device to already be selected, mirroring
// engine.py's set_classifier (it attaches the classifier to the current
// Recorder, it does not stand alone).
func (e *Engine) ClassifierSet(name string) error {
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()

	if rec == nil {
		return bcierr.NewEngine(bcierr.ErrNoDeviceSelected, "please specify a recording device first")
	}

	plugin, ok := e.classifiers.New(name)
	if !ok {
		return bcierr.NewEngine(bcierr.ErrUnknownClassifier, "classifier %q not available", name)
	}

	newCls := classifier.New(rec, plugin, e, e.log)

	e.mu.Lock()
	old := e.cls
	e.cls = newCls
	e.classifierName = name
	e.mu.Unlock()

	if old != nil {
		old.Stop()
	}

	// Mirrors engine.py's set_classifier: if the Recorder is already
	// running (DEVICE OPEN happened first), the classifier attaches live
	// instead of waiting for a future DeviceOpen call.
	if rec.Running() {
		newCls.Start()
	}

	return nil
}

func (e *Engine) ClassifierParamSet(name string, values []string) error {
	e.mu.Lock()
	cls := e.cls
	e.mu.Unlock()

	if cls == nil {
		return bcierr.NewEngine(bcierr.ErrNoClassifierSelected, "please specify a classifier first")
	}
	return cls.SetParameter(name, values)
}

func (e *Engine) ClassifierParamGet(name string) (string, error) {
	e.mu.Lock()
	cls := e.cls
	e.mu.Unlock()

	if cls == nil {
		return "", bcierr.NewEngine(bcierr.ErrNoClassifierSelected, "please specify a classifier first")
	}
	return cls.GetParameter(name)
}

func (e *Engine) ModeSet(mode string) error {
	e.mu.Lock()
	cls := e.cls
	e.mu.Unlock()

	if cls == nil {
		return bcierr.NewEngine(bcierr.ErrNoClassifierForMode, "please specify a classifier first")
	}
	return cls.ChangeState(classifier.State(mode))
}

func (e *Engine) ModeGet() (string, error) {
	e.mu.Lock()
	cls := e.cls
	e.mu.Unlock()

	if cls == nil {
		return "", bcierr.NewEngine(bcierr.ErrNoClassifierForMode, "please specify a classifier first")
	}
	return string(cls.State()), nil
}

func (e *Engine) MarkerSet(kind string, code int, timestamp *float64) error {
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()

	if rec == nil {
		return bcierr.NewEngine(bcierr.ErrNoDeviceSelected, "please specify a recording device first")
	}

	k := device.Trigger
	if kind == "switch" {
		k = device.Switch
	}
	return rec.SetMarker(code, k, timestamp)
}

// --- events.Sink ---

func (e *Engine) Mode(mode string) {
	e.writeLine(fmt.Sprintf("MODE PROVIDE %s", protocol.EncodeString(mode)))
	if e.monitor != nil {
		e.monitor.broadcast(map[string]any{"type": "mode", "mode": mode})
	}
}

func (e *Engine) Result(tokens []string, timestamp *float64) {
	line := fmt.Sprintf("RESULT PROVIDE %s", protocol.EncodeStrings(tokens))
	if timestamp != nil {
		line += " " + protocol.EncodeFloat(*timestamp)
	}
	e.writeLine(line)
	if e.monitor != nil {
		e.monitor.broadcast(map[string]any{"type": "result", "tokens": tokens, "timestamp": timestamp})
	}
}

func (e *Engine) Error(err error) {
	e.writeLine(formatErrorLine(err))
	if e.monitor != nil {
		e.monitor.broadcast(map[string]any{"type": "error", "message": err.Error()})
	}
}
