// Package packet implements the magnetometer wire format: one x/y/z sample
// serialised as three little-endian IEEE-754 float64 values followed by a
// single XOR checksum byte.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// Axes is the number of float64 values in a sample.
	Axes = 3
	// PayloadSize is the serialised size of a Sample without checksum.
	PayloadSize = Axes * 8
	// Size is the full packet size on the wire.
	Size = PayloadSize + 1
)

var (
	// ErrChecksum matches any *ChecksumError via errors.Is.
	ErrChecksum = errors.New("invalid packet checksum")
	// ErrShortPacket is returned when a buffer is not exactly one packet or payload long.
	ErrShortPacket = errors.New("packet has wrong length")
)

// ChecksumError reports a packet whose trailing byte does not equal the XOR
// of its payload.
type ChecksumError struct {
	Want byte // computed over the payload
	Got  byte // trailing byte received
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("invalid packet checksum: computed 0x%02x, received 0x%02x", e.Want, e.Got)
}

func (e *ChecksumError) Is(target error) bool { return target == ErrChecksum }

// Sample is one magnetic-field measurement.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Magnitude returns the Euclidean norm of the sample.
func (s Sample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

func (s Sample) String() string {
	return fmt.Sprintf("(%g, %g, %g)", s.X, s.Y, s.Z)
}

// Checksum XORs every byte of p.
func Checksum(p []byte) byte {
	var c byte
	for _, b := range p {
		c ^= b
	}
	return c
}

// Encode serialises s into a packet.
func Encode(s Sample) [Size]byte {
	var p [Size]byte
	putPayload(p[:PayloadSize], s)
	p[PayloadSize] = Checksum(p[:PayloadSize])
	return p
}

// AppendEncode appends the packet for s to dst.
func AppendEncode(dst []byte, s Sample) []byte {
	p := Encode(s)
	return append(dst, p[:]...)
}

// Decode validates the checksum of p and returns the sample it carries.
func Decode(p []byte) (Sample, error) {
	if len(p) != Size {
		return Sample{}, fmt.Errorf("%w: %d bytes, want %d", ErrShortPacket, len(p), Size)
	}
	want := Checksum(p[:PayloadSize])
	if got := p[PayloadSize]; got != want {
		return Sample{}, &ChecksumError{Want: want, Got: got}
	}
	return readPayload(p[:PayloadSize]), nil
}

// DecodePayload converts a checksum-stripped payload back into a Sample.
func DecodePayload(p []byte) (Sample, error) {
	if len(p) != PayloadSize {
		return Sample{}, fmt.Errorf("%w: %d bytes, want %d", ErrShortPacket, len(p), PayloadSize)
	}
	return readPayload(p), nil
}

// Payload returns the payload portion of a packet without copying.
func Payload(p []byte) []byte {
	return p[:PayloadSize]
}

func putPayload(p []byte, s Sample) {
	binary.LittleEndian.PutUint64(p[0:8], math.Float64bits(s.X))
	binary.LittleEndian.PutUint64(p[8:16], math.Float64bits(s.Y))
	binary.LittleEndian.PutUint64(p[16:24], math.Float64bits(s.Z))
}

func readPayload(p []byte) Sample {
	return Sample{
		X: math.Float64frombits(binary.LittleEndian.Uint64(p[0:8])),
		Y: math.Float64frombits(binary.LittleEndian.Uint64(p[8:16])),
		Z: math.Float64frombits(binary.LittleEndian.Uint64(p[16:24])),
	}
}
