package frame

import (
	"encoding/binary"
	"fmt"
	"math"
)

// VibrationSize is the number of header+payload bytes this codec decodes.
// Frames may arrive with trailing bytes beyond this; they are ignored.
const VibrationSize = 28

var vibrationHeader = [2]byte{0x55, 0x61}

// Vibration is a decoded vibration sensor notification frame.
type Vibration struct {
	VX, VY, VZ    int16   // mm/s
	ADX, ADY, ADZ float64 // degrees
	Temp          float64 // °C
	DX, DY, DZ    int16   // µm
	HZX, HZY, HZZ int16   // Hz
}

// DecodeVibration decodes the first VibrationSize bytes of b. It fails with
// ErrMalformed when b is shorter than VibrationSize or its header does not
// match 0x55 0x61. Extra trailing bytes are ignored.
func DecodeVibration(b []byte) (Vibration, error) {
	if len(b) < VibrationSize {
		return Vibration{}, fmt.Errorf("%w: vibration frame length %d, want at least %d", ErrMalformed, len(b), VibrationSize)
	}
	if b[0] != vibrationHeader[0] || b[1] != vibrationHeader[1] {
		return Vibration{}, fmt.Errorf("%w: vibration frame header %#x %#x", ErrMalformed, b[0], b[1])
	}
	var words [13]uint16
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(b[2+2*i:])
	}
	s16 := func(u uint16) int16 { return int16(u) }
	deg := func(u uint16) float64 { return float64(s16(u)) / 32768 * 180 }
	return Vibration{
		VX: s16(words[0]), VY: s16(words[1]), VZ: s16(words[2]),
		ADX: deg(words[3]), ADY: deg(words[4]), ADZ: deg(words[5]),
		Temp: float64(s16(words[6])) / 100,
		DX:   s16(words[7]), DY: s16(words[8]), DZ: s16(words[9]),
		HZX: s16(words[10]), HZY: s16(words[11]), HZZ: s16(words[12]),
	}, nil
}

// Amplitude returns the scalar amplitude the hit detector consumes, the
// Euclidean norm of the three velocity axes.
func (v Vibration) Amplitude() float64 {
	return math.Sqrt(float64(v.VX)*float64(v.VX) + float64(v.VY)*float64(v.VY) + float64(v.VZ)*float64(v.VZ))
}

// AmplitudeFallback computes a byte-energy proxy amplitude for a raw
// notification payload that failed to decode as a Vibration frame, so the
// detector's baseline still receives a sample. It mirrors the
// pseudo-RMS-of-bytes heuristic used before the frame format was known.
func AmplitudeFallback(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range b {
		f := float64(v)
		sumSq += f * f
	}
	return math.Sqrt(sumSq / float64(len(b)))
}
