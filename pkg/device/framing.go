package device

import "encoding/binary"

// preamble marks the start of a frame so the decoder can resynchronize
// after a corrupted or truncated read, mirroring the "scan for re-sync on
// the preamble+next-preamble heuristic" failure semantics of spec.md §4.2.3.
var preamble = [4]byte{0xAA, 0x55, 0xAA, 0x55}

// SimpleFrameDecoder decodes frames of the form
// [preamble(4)][seq uint32 LE][nchannels * int16 LE]. It is the reference
// framing scheme used by the emulator and the biosemi-like device in this
// repository; real hardware would supply its own FrameDecoder.
type SimpleFrameDecoder struct {
	NChannels int
}

func (d *SimpleFrameDecoder) FrameSize() int {
	return len(preamble) + 4 + d.NChannels*2
}

func (d *SimpleFrameDecoder) Decode(carry []byte, chunk []byte, lastSeq int64) DecodeResult {
	buf := append(append([]byte{}, carry...), chunk...)
	frameSize := d.FrameSize()

	var result DecodeResult
	i := 0
	for {
		// Find the next preamble at or after i.
		start := indexOfPreamble(buf, i)
		if start < 0 {
			// No preamble found; keep the tail in case it holds a
			// partial preamble for the next call.
			tailStart := len(buf)
			if tailStart > len(preamble)-1 {
				tailStart = len(buf) - (len(preamble) - 1)
			}
			result.Remainder = append([]byte{}, buf[tailStart:]...)
			return result
		}
		if start != i {
			result.Resynced = true
		}
		if start+frameSize > len(buf) {
			result.Remainder = append([]byte{}, buf[start:]...)
			return result
		}

		seq := binary.LittleEndian.Uint32(buf[start+4 : start+8])
		samples := make([]int32, d.NChannels)
		for c := 0; c < d.NChannels; c++ {
			off := start + 8 + c*2
			samples[c] = int32(int16(binary.LittleEndian.Uint16(buf[off : off+2])))
		}

		if lastSeq >= 0 {
			expected := uint32(lastSeq) + 1
			switch {
			case seq == uint32(lastSeq):
				// Duplicate frame: discard and resynchronize.
				i = start + frameSize
				continue
			case seq > expected:
				result.Dropped += int(seq - expected)
			}
		}
		lastSeq = int64(seq)

		result.Frames = append(result.Frames, Frame{Seq: seq, Samples: samples})
		i = start + frameSize
	}
}

func indexOfPreamble(buf []byte, from int) int {
	for i := from; i+len(preamble) <= len(buf); i++ {
		if buf[i] == preamble[0] && buf[i+1] == preamble[1] && buf[i+2] == preamble[2] && buf[i+3] == preamble[3] {
			return i
		}
	}
	return -1
}

// EncodeFrame is the inverse of SimpleFrameDecoder.Decode, used by the
// emulator's generator and by tests to build synthetic device output.
func EncodeFrame(seq uint32, samples []int32) []byte {
	buf := make([]byte, len(preamble)+4+len(samples)*2)
	copy(buf, preamble[:])
	binary.LittleEndian.PutUint32(buf[4:8], seq)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[8+i*2:], uint16(int16(s)))
	}
	return buf
}
