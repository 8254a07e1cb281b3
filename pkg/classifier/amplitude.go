package classifier

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"
	"strconv"

	"github.com/kuleuven-neuro/bciserver/pkg/bcierr"
	"github.com/kuleuven-neuro/bciserver/pkg/recorder"
)

// AmplitudeThreshold is a small, concrete classifier plug-in: it trains a
// mean/standard-deviation baseline over the spectral bins of one
// configured channel of the data-collect buffer and, in application
// mode, flags a chunk as "active" when that channel's mean spectral
// magnitude exceeds the trained mean by more than a configurable number
// of standard deviations. It stands in for the true SSVEP/P300 numerics
// (explicitly out of scope, spec.md §1) while still exercising the real
// train(Dataset)→Result / apply(Dataset)→Result contract end to end
// (spec.md §9). Its FFT-based power feature is grounded on dsp.go's
// Blackman-windowed radix-2 FFT, adapted from RF I/Q power estimation to
// a single-channel EEG power estimate.
type AmplitudeThreshold struct {
	channel   int
	nsigma    float64
	mean      float64
	stddev    float64
	trained   bool
}

// NewAmplitudeThreshold constructs the plug-in with its defaults:
// channel 0, 3 standard deviations above baseline.
func NewAmplitudeThreshold() Plugin {
	return &AmplitudeThreshold{channel: 0, nsigma: 3}
}

func (p *AmplitudeThreshold) Train(data *recorder.Chunk) (Result, error) {
	if data == nil || data.N() == 0 {
		return Result{}, bcierr.NewClassifier("first collect some data")
	}
	if p.channel >= len(data.Channels) {
		return Result{}, bcierr.NewClassifier("channel %d out of range", p.channel)
	}

	power := windowedPower(data.Channels[p.channel])

	var mean float64
	for _, v := range power {
		mean += v
	}
	mean /= float64(len(power))

	var variance float64
	for _, v := range power {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(power))

	p.mean = mean
	p.stddev = math.Sqrt(variance)
	p.trained = true

	blob := make([]byte, 16)
	binary.LittleEndian.PutUint64(blob[0:8], math.Float64bits(p.mean))
	binary.LittleEndian.PutUint64(blob[8:16], math.Float64bits(p.stddev))

	return Result{Tokens: []string{"training-result", base64.StdEncoding.EncodeToString(blob)}}, nil
}

func (p *AmplitudeThreshold) Apply(data *recorder.Chunk) (Result, error) {
	if !p.trained {
		return Result{}, bcierr.NewClassifier("first collect some data")
	}
	if data == nil || data.N() == 0 || p.channel >= len(data.Channels) {
		return Result{Tokens: []string{"classification", "0"}}, nil
	}

	power := windowedPower(data.Channels[p.channel])
	var mean float64
	for _, v := range power {
		mean += v
	}
	mean /= float64(len(power))

	active := "0"
	if p.stddev > 0 && mean > p.mean+p.nsigma*p.stddev {
		active = "1"
	}

	ts := data.Timestamps[len(data.Timestamps)-1]
	return Result{Tokens: []string{"classification", active}, Timestamp: &ts}, nil
}

func (p *AmplitudeThreshold) SetParameter(name string, values []string) (bool, error) {
	switch name {
	case "channel":
		if len(values) < 1 {
			return true, bcierr.NewClassifier("missing value for channel")
		}
		n, err := strconv.Atoi(values[0])
		if err != nil {
			return true, bcierr.NewClassifier("invalid value for channel")
		}
		p.channel = n
		return true, nil
	case "nsigma":
		if len(values) < 1 {
			return true, bcierr.NewClassifier("missing value for nsigma")
		}
		v, err := strconv.ParseFloat(values[0], 64)
		if err != nil {
			return true, bcierr.NewClassifier("invalid value for nsigma")
		}
		p.nsigma = v
		return true, nil
	default:
		return false, nil
	}
}

func (p *AmplitudeThreshold) GetParameter(name string) (string, bool) {
	switch name {
	case "channel":
		return strconv.Itoa(p.channel), true
	case "nsigma":
		return fmt.Sprintf("%g", p.nsigma), true
	default:
		return "", false
	}
}

// windowedPower computes the Blackman-windowed magnitude spectrum of one
// channel's samples, one value per FFT bin, using the next power-of-two
// length ≤ len(x) (dsp.go's computeFFT); callers reduce it to a scalar
// by averaging the bins.
func windowedPower(x []float64) []float64 {
	n := nextPow2Floor(len(x))
	if n < 2 {
		return []float64{0}
	}

	window := make([]float64, n)
	for i := range window {
		window[i] = 0.42 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1)) +
			0.08*math.Cos(4*math.Pi*float64(i)/float64(n-1))
	}

	input := make([]complex128, n)
	for i := range input {
		input[i] = complex(x[i]*window[i], 0)
	}
	spectrum := fftRadix2(input)

	power := make([]float64, n)
	for i, c := range spectrum {
		power[i] = cmplx.Abs(c)
	}
	return power
}

func nextPow2Floor(n int) int {
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}

// fftRadix2 is the same iterative Cooley-Tukey FFT as dsp.go's fft,
// carried over verbatim since the algorithm itself is domain-agnostic.
func fftRadix2(x []complex128) []complex128 {
	n := len(x)
	if n <= 1 {
		return x
	}

	result := make([]complex128, n)
	bits := 0
	for temp := n; temp > 1; temp >>= 1 {
		bits++
	}
	for i := 0; i < n; i++ {
		j := 0
		for k := 0; k < bits; k++ {
			if i&(1<<k) != 0 {
				j |= 1 << (bits - 1 - k)
			}
		}
		result[j] = x[i]
	}

	for size := 2; size <= n; size *= 2 {
		half := size / 2
		tableStep := n / size
		for i := 0; i < n; i += size {
			k := 0
			for j := i; j < i+half; j++ {
				angle := -2 * math.Pi * float64(k) / float64(n)
				w := cmplx.Exp(complex(0, angle))
				t := result[j+half] * w
				result[j+half] = result[j] - t
				result[j] = result[j] + t
				k += tableStep
			}
		}
	}

	return result
}
