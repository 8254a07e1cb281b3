package recorder

import (
	"strconv"

	"github.com/kuleuven-neuro/bciserver/pkg/bcierr"
)

// SetParameter handles the Recorder-level parameter set (spec.md §6):
// bdf_file, dataset_file, timing_mode, buffer_size_seconds,
// channel_names, target_channels, reference_channels. Unrecognized names
// are forwarded to the active DeviceDriver's SetParameter, mirroring
// recorder.py's set_parameter returning False to let the Engine retry the
// name against something else (here: the device directly).
func (r *Recorder) SetParameter(name string, values []string) error {
	switch name {
	case "bdf_file":
		if len(values) < 1 {
			return bcierr.NewDevice("missing value for bdf_file")
		}
		r.bdfFile = values[0]
		return nil

	case "dataset_file":
		if len(values) < 1 {
			return bcierr.NewDevice("missing value for dataset_file")
		}
		r.datasetFile = values[0]
		return nil

	case "timing_mode":
		if len(values) < 1 || !validTimingMode(values[0]) {
			return bcierr.NewDevice("invalid timing_mode")
		}
		r.timingMode = TimingMode(values[0])
		return nil

	case "buffer_size_seconds":
		if r.isRunning() {
			return bcierr.NewDevice("cannot set buffer_size_seconds while device is open")
		}
		if len(values) < 1 {
			return bcierr.NewDevice("missing value for buffer_size_seconds")
		}
		v, err := strconv.ParseFloat(values[0], 64)
		if err != nil || v <= 0 {
			return bcierr.NewDevice("invalid value for buffer_size_seconds")
		}
		r.bufferSizeSeconds = v
		return nil

	case "channel_names":
		if len(values) != r.dev.NChannels() {
			return bcierr.NewDevice("number of channel names must equal device channel count (%d)", r.dev.NChannels())
		}
		r.channelNames = append([]string(nil), values...)
		return nil

	case "target_channels":
		if r.isRunning() {
			return bcierr.NewDevice("cannot set target_channels while device is open")
		}
		idx, err := r.resolveChannelList(values)
		if err != nil {
			return err
		}
		r.targetChannels = idx
		return nil

	case "reference_channels":
		idx, err := r.resolveChannelList(values)
		if err != nil {
			return err
		}
		r.referenceChannels = idx
		return nil

	default:
		handled, err := r.dev.SetParameter(name, values)
		if err != nil {
			return bcierr.NewDevice("%v", err)
		}
		if !handled {
			return bcierr.NewEngine(bcierr.ErrUnknownDeviceParam, "unknown device parameter %q", name)
		}
		return nil
	}
}

// resolveChannelList turns a mix of channel-name and integer-index
// tokens into channel indices, matching recorder.py's set_parameter
// handling of target_channels.
func (r *Recorder) resolveChannelList(values []string) ([]int, error) {
	if len(values) < 1 {
		return nil, bcierr.NewDevice("specify at least one channel")
	}
	out := make([]int, 0, len(values))
	for _, v := range values {
		if n, err := strconv.Atoi(v); err == nil {
			out = append(out, n)
			continue
		}
		idx := -1
		for i, label := range r.channelNames {
			if label == v {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, bcierr.NewDevice("channel %q is not a valid channel for this device", v)
		}
		out = append(out, idx)
	}
	return out, nil
}

// GetParameter returns a string form of the named parameter, falling
// through to the device when the name is not Recorder-level.
func (r *Recorder) GetParameter(name string) (string, error) {
	switch name {
	case "bdf_file":
		if r.bdfFile == "" {
			return "<none>", nil
		}
		return r.bdfFile, nil
	case "dataset_file":
		if r.datasetFile == "" {
			return "<none>", nil
		}
		return r.datasetFile, nil
	case "timing_mode":
		return string(r.timingMode), nil
	case "buffer_size_seconds":
		return strconv.FormatFloat(r.bufferSizeSeconds, 'g', -1, 64), nil
	case "nchannels":
		return strconv.Itoa(len(r.targetChannels)), nil
	case "channel_names":
		return joinLabels(r.targetLabels()), nil
	default:
		val, ok := r.dev.GetParameter(name)
		if !ok {
			return "", bcierr.NewEngine(bcierr.ErrUnknownDeviceParam, "unknown device parameter %q", name)
		}
		return val, nil
	}
}

func joinLabels(labels []string) string {
	out := ""
	for i, l := range labels {
		if i > 0 {
			out += ","
		}
		out += l
	}
	return out
}
