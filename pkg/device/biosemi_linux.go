//go:build linux

package device

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// BiosemiLike models a serial/USB EEG amplifier with a parallel-port
// hardware trigger line, grounded on the original's biosemi.py device and
// on the teacher's raw-device-file I/O idiom (pkg/dma/dma.go,
// hardware_control.go's readPCIeBytes/writePCIeBytes open-write-close
// pattern). The actual per-device wire framing is out of scope (spec.md
// §1); this driver reads framed samples via SimpleFrameDecoder from a
// configurable character-device path, same as a real amplifier would
// expose through a kernel driver node.
type BiosemiLike struct {
	mu sync.Mutex

	dataPath   string
	port       string
	statusMark bool

	nchannels  int
	sampleRate float64

	fd     int
	opened bool
}

func NewBiosemiLike() *BiosemiLike {
	return &BiosemiLike{
		dataPath:   "/dev/bci0",
		nchannels:  32,
		sampleRate: 2048,
		fd:         -1,
	}
}

// RegisterBiosemiLike adds the biosemi-like driver to reg on platforms
// that support it (linux only, for the raw device-file I/O it uses for
// data reads and trigger-port writes).
func RegisterBiosemiLike(reg *Registry) {
	reg.Register("biosemi-like", func() (Driver, error) {
		return NewBiosemiLike(), nil
	})
}

func (b *BiosemiLike) Open() (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fd, err := unix.Open(b.dataPath, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return time.Time{}, fmt.Errorf("biosemi: open %s: %w", b.dataPath, err)
	}
	b.fd = fd
	b.opened = true
	return time.Now(), nil
}

func (b *BiosemiLike) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return nil
	}
	b.opened = false
	return unix.Close(b.fd)
}

func (b *BiosemiLike) ReadChunk(buf []byte) (int, time.Time, error) {
	b.mu.Lock()
	fd := b.fd
	opened := b.opened
	b.mu.Unlock()
	if !opened {
		return 0, time.Time{}, fmt.Errorf("biosemi: not open")
	}

	for {
		n, err := unix.Read(fd, buf)
		ts := time.Now()
		if err == unix.EAGAIN || err == unix.EINTR {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			return 0, ts, fmt.Errorf("biosemi: read: %w", err)
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		return n, ts, nil
	}
}

// WriteMarker raises the parallel-port trigger line, holds it for ~5ms for
// a one-shot trigger, then clears it — the atomic raise/sleep/clear
// sequence required by spec.md §5. Switch markers stay raised until the
// next marker write clears or replaces them.
func (b *BiosemiLike) WriteMarker(code int, kind MarkerKind) error {
	b.mu.Lock()
	port := b.port
	b.mu.Unlock()
	if port == "" {
		return ErrMarkerUnsupported
	}

	if err := writeTriggerByte(port, byte(code)); err != nil {
		return fmt.Errorf("biosemi: trigger write: %w", err)
	}
	if kind == Trigger {
		time.Sleep(5 * time.Millisecond)
		if err := writeTriggerByte(port, 0); err != nil {
			return fmt.Errorf("biosemi: trigger clear: %w", err)
		}
	}
	return nil
}

func writeTriggerByte(port string, value byte) error {
	fd, err := unix.Open(port, unix.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	_, err = unix.Write(fd, []byte{value})
	return err
}

func (b *BiosemiLike) StatusAsMarkers() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusMark
}

func (b *BiosemiLike) Decoder() FrameDecoder {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &SimpleFrameDecoder{NChannels: b.nchannels}
}

func (b *BiosemiLike) SampleRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sampleRate
}

func (b *BiosemiLike) NChannels() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nchannels
}

func (b *BiosemiLike) ChannelLabels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	// 10-20 system prefix for the first channels, falling back to a
	// generic label, mirroring the original's configurable channel_names.
	tens20 := []string{"Fp1", "Fp2", "F3", "F4", "C3", "C4", "P3", "P4", "O1", "O2", "F7", "F8", "T7", "T8", "P7", "P8", "Fz", "Cz", "Pz"}
	labels := make([]string, b.nchannels)
	for i := range labels {
		if i < len(tens20) {
			labels[i] = tens20[i]
		} else {
			labels[i] = fmt.Sprintf("CH%d", i+1)
		}
	}
	return labels
}

func (b *BiosemiLike) Gain() float64                    { return 31.25e-3 } // 24-bit ADC, microvolts per LSB
func (b *BiosemiLike) PhysicalMin() float64              { return -262144 }
func (b *BiosemiLike) CalibrationTime() time.Duration    { return 2 * time.Second }

func (b *BiosemiLike) SetParameter(name string, values []string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "port":
		if len(values) < 1 {
			return true, fmt.Errorf("missing value for port")
		}
		b.port = values[0]
		return true, nil
	case "status_as_markers":
		if len(values) < 1 {
			return true, fmt.Errorf("missing value for status_as_markers")
		}
		v, err := strconv.ParseBool(values[0])
		if err != nil {
			return true, fmt.Errorf("invalid status_as_markers: %q", values[0])
		}
		b.statusMark = v
		return true, nil
	case "data_path":
		if len(values) < 1 {
			return true, fmt.Errorf("missing value for data_path")
		}
		b.dataPath = values[0]
		return true, nil
	}
	return false, nil
}

func (b *BiosemiLike) GetParameter(name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "port":
		return b.port, true
	case "status_as_markers":
		return strconv.FormatBool(b.statusMark), true
	case "data_path":
		return b.dataPath, true
	}
	return "", false
}
