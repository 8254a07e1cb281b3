// Package engine implements the Engine: it owns at most one Recorder and
// one Classifier, accepts one TCP client at a time, and wires the
// protocol.Dispatcher to them. Grounded on
// _examples/original_source/bciserver/engine.py's Engine class; the
// cyclic engine↔recorder/classifier references of the source become the
// one-way events.Sink this type implements (spec.md §9).
package engine

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kuleuven-neuro/bciserver/pkg/bcierr"
	"github.com/kuleuven-neuro/bciserver/pkg/classifier"
	"github.com/kuleuven-neuro/bciserver/pkg/device"
	"github.com/kuleuven-neuro/bciserver/pkg/protocol"
	"github.com/kuleuven-neuro/bciserver/pkg/recorder"
)

// Engine owns device/classifier registries, the single active Recorder
// and Classifier, and the TCP accept loop.
type Engine struct {
	log         *log.Logger
	devices     *device.Registry
	classifiers *classifier.Registry

	mu             sync.Mutex
	rec            *recorder.Recorder
	deviceName     string
	cls            *classifier.Classifier
	classifierName string

	connMu sync.Mutex
	conn   net.Conn
	writer *bufio.Writer

	monitor *monitorHub

	running bool
}

func New(devices *device.Registry, classifiers *classifier.Registry, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		log:         logger,
		devices:     devices,
		classifiers: classifiers,
	}
}

// EnableMonitor turns on the optional read-only WebSocket monitor
// broadcast (spec.md §4's DOMAIN STACK). Call before Run.
func (e *Engine) EnableMonitor() {
	e.monitor = newMonitorHub(e.log)
}

// ServeMonitor starts the monitor's HTTP/WebSocket listener on addr,
// exposing it at /monitor. It blocks until the listener fails, so callers
// typically launch it in its own goroutine alongside Run. A no-op error
// is returned immediately if EnableMonitor was never called.
func (e *Engine) ServeMonitor(addr string) error {
	if e.monitor == nil {
		return fmt.Errorf("engine: monitor not enabled")
	}
	mux := http.NewServeMux()
	mux.Handle("/monitor", e.monitor)
	e.log.Printf("serving monitor websocket on %s/monitor", addr)
	return http.ListenAndServe(addr, mux)
}

// Run listens on addr and accepts one client connection at a time,
// polling the socket with a 1-second timeout so shutdown stays
// responsive (spec.md §5).
func (e *Engine) Run(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("engine: listen: %w", err)
	}
	defer ln.Close()

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("engine: expected *net.TCPListener")
	}

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	e.log.Printf("awaiting network connection on %s", addr)

	for e.isRunning() {
		tcpLn.SetDeadline(time.Now().Add(time.Second))
		conn, err := tcpLn.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !e.isRunning() {
				return nil
			}
			return fmt.Errorf("engine: accept: %w", err)
		}

		e.handleConn(conn)
		e.teardown()
	}

	return nil
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Stop ends the accept loop and tears down the current session.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.teardown()
	e.log.Println("stopped")
}

func (e *Engine) teardown() {
	e.mu.Lock()
	cls := e.cls
	rec := e.rec
	e.cls = nil
	e.rec = nil
	e.classifierName = ""
	e.deviceName = ""
	e.mu.Unlock()

	if cls != nil {
		cls.Stop()
	}
	if rec != nil {
		rec.Stop()
	}
}

func (e *Engine) handleConn(conn net.Conn) {
	e.connMu.Lock()
	e.conn = conn
	e.writer = bufio.NewWriter(conn)
	e.connMu.Unlock()

	e.log.Printf("client connected: %s", conn.RemoteAddr())

	defer func() {
		e.connMu.Lock()
		e.conn = nil
		e.writer = nil
		e.connMu.Unlock()
		conn.Close()
		e.log.Println("client disconnected")
	}()

	dispatcher := protocol.NewDispatcher(e)
	scanner := bufio.NewScanner(conn)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		reply, hasReply, err := dispatcher.HandleLine(line)
		if err != nil {
			e.writeLine(formatErrorLine(err))
			continue
		}
		if hasReply {
			e.writeLine(reply)
		}
	}
}

func (e *Engine) writeLine(line string) {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	if e.writer == nil {
		return
	}
	e.writer.WriteString(line)
	e.writer.WriteString("\r\n")
	e.writer.Flush()
}

func formatErrorLine(err error) string {
	code := 0
	msg := err.Error()

	switch e := err.(type) {
	case *bcierr.Engine:
		code, msg = e.Code, e.Msg
	case *bcierr.Protocol:
		code, msg = e.Code, e.Msg
	case *bcierr.Device:
		msg = e.Msg
	case *bcierr.Classifier:
		msg = e.Msg
	}

	return fmt.Sprintf("ERROR %03d %s", code, protocol.EncodeString(msg))
}
