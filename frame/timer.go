// Package frame decodes the two wire formats this bridge consumes: the
// shot timer's 14-byte status/event frame and the vibration sensor's
// 28-byte notification payload.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed is returned when a frame's length or header does not match
// the expected wire format.
var ErrMalformed = errors.New("frame: malformed")

// TimerSize is the fixed length of a timer frame.
const TimerSize = 14

// Timer is a decoded 14-byte timer status/event frame.
//
//	b0 b1 b2 b3 b4  p1 p1 p2 p2 p3 p3 p4 p4  tail
type Timer struct {
	B0, B1, B2, B3, B4 byte
	P1, P2, P3, P4     uint16
	Tail               byte
}

// DecodeTimer decodes a 14-byte timer frame. It fails with ErrMalformed
// when b is not exactly TimerSize bytes.
func DecodeTimer(b []byte) (Timer, error) {
	if len(b) != TimerSize {
		return Timer{}, fmt.Errorf("%w: timer frame length %d, want %d", ErrMalformed, len(b), TimerSize)
	}
	return Timer{
		B0: b[0], B1: b[1], B2: b[2], B3: b[3], B4: b[4],
		P1:   binary.LittleEndian.Uint16(b[5:7]),
		P2:   binary.LittleEndian.Uint16(b[7:9]),
		P3:   binary.LittleEndian.Uint16(b[9:11]),
		P4:   binary.LittleEndian.Uint16(b[11:13]),
		Tail: b[13],
	}, nil
}

// Encode reproduces the 14 bytes this frame was decoded from.
func (t Timer) Encode() [TimerSize]byte {
	var b [TimerSize]byte
	b[0], b[1], b[2], b[3], b[4] = t.B0, t.B1, t.B2, t.B3, t.B4
	binary.LittleEndian.PutUint16(b[5:7], t.P1)
	binary.LittleEndian.PutUint16(b[7:9], t.P2)
	binary.LittleEndian.PutUint16(b[9:11], t.P3)
	binary.LittleEndian.PutUint16(b[11:13], t.P4)
	b[13] = t.Tail
	return b
}

// IsStatusEvent reports whether the frame's leading byte marks it as a
// status/event frame, as opposed to an unrecognized notification.
func (t Timer) IsStatusEvent() bool {
	return t.B0 == 0x01
}

// Shot holds the fields meaningful for a decoded 0x03 shot-record frame.
type Shot struct {
	ShotIndex byte
	T         float64 // seconds since T0
	Split     float64 // seconds since previous shot
	First     float64 // seconds of the first shot in the string
	Tail      byte
}

// DecodeShot extracts shot-record fields from a Timer frame already known
// to be a 0x03 subtype (B1 == 0x03). It does not itself check the subtype.
func DecodeShot(t Timer) Shot {
	return Shot{
		ShotIndex: t.B2,
		T:         float64(t.P1) / 100,
		Split:     float64(t.P2) / 100,
		First:     float64(t.P3) / 100,
		Tail:      t.Tail,
	}
}
