//go:build !linux

package device

import "fmt"

// ErrBiosemiUnsupported is reported through Registry.RegisterUnavailable on
// platforms without the parallel-port trigger support BiosemiLike needs,
// mirroring the original's per-device ImportError handling
// (eegdevices/__init__.py).
var ErrBiosemiUnsupported = fmt.Errorf("biosemi: hardware trigger I/O requires linux")

// RegisterBiosemiLike records the driver as unavailable on this platform.
func RegisterBiosemiLike(reg *Registry) {
	reg.RegisterUnavailable("biosemi-like", ErrBiosemiUnsupported)
}
