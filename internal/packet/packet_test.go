package packet

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_WireBytes(t *testing.T) {
	got := Encode(Sample{X: 1, Y: 2, Z: 3})
	want := [Size]byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf0, 0x3f, // 1.0
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x40, // 2.0
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x08, 0x40, // 3.0
		0xc7,
	}
	assert.Equal(t, want, got)

	second := Encode(Sample{X: 4, Y: 5, Z: 6})
	assert.Equal(t, byte(0x5c), second[PayloadSize])
}

func TestDecode_RoundTrip(t *testing.T) {
	samples := []Sample{
		{},
		{X: 1, Y: 2, Z: 3},
		{X: -12.75, Y: 0.001, Z: 48213.5},
		{X: math.MaxFloat64, Y: -math.SmallestNonzeroFloat64, Z: math.Inf(1)},
		{X: math.Copysign(0, -1), Y: 1e-300, Z: -1e300},
	}
	for _, s := range samples {
		p := Encode(s)
		got, err := Decode(p[:])
		require.NoError(t, err, "sample %v", s)
		assert.Equal(t, math.Float64bits(s.X), math.Float64bits(got.X))
		assert.Equal(t, math.Float64bits(s.Y), math.Float64bits(got.Y))
		assert.Equal(t, math.Float64bits(s.Z), math.Float64bits(got.Z))
	}
}

func TestDecode_SingleBitFlipDetected(t *testing.T) {
	p := Encode(Sample{X: 23.4, Y: -7.1, Z: 51.9})
	for i := 0; i < PayloadSize; i++ {
		for bit := 0; bit < 8; bit++ {
			corrupt := p
			corrupt[i] ^= 1 << bit
			_, err := Decode(corrupt[:])
			require.Error(t, err, "byte %d bit %d", i, bit)
			assert.True(t, errors.Is(err, ErrChecksum), "byte %d bit %d: %v", i, bit, err)
		}
	}
}

func TestDecode_ChecksumErrorDetails(t *testing.T) {
	p := Encode(Sample{X: 1, Y: 2, Z: 3})
	p[PayloadSize] = 0x00

	_, err := Decode(p[:])
	var ce *ChecksumError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, byte(0xc7), ce.Want)
	assert.Equal(t, byte(0x00), ce.Got)
	assert.Contains(t, err.Error(), "0xc7")
}

func TestDecode_WrongLength(t *testing.T) {
	_, err := Decode(make([]byte, Size-1))
	assert.ErrorIs(t, err, ErrShortPacket)

	_, err = DecodePayload(make([]byte, Size))
	assert.ErrorIs(t, err, ErrShortPacket)
}

func TestDecodePayload(t *testing.T) {
	s := Sample{X: 9.5, Y: -3.25, Z: 0.125}
	p := Encode(s)
	got, err := DecodePayload(Payload(p[:]))
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestAppendEncode(t *testing.T) {
	var buf []byte
	buf = AppendEncode(buf, Sample{X: 1, Y: 2, Z: 3})
	buf = AppendEncode(buf, Sample{X: 4, Y: 5, Z: 6})
	require.Len(t, buf, 2*Size)

	first, err := Decode(buf[:Size])
	require.NoError(t, err)
	second, err := Decode(buf[Size:])
	require.NoError(t, err)
	assert.Equal(t, Sample{X: 1, Y: 2, Z: 3}, first)
	assert.Equal(t, Sample{X: 4, Y: 5, Z: 6}, second)
}

func TestSample_Magnitude(t *testing.T) {
	assert.InDelta(t, 5.0, Sample{X: 3, Y: 4}.Magnitude(), 1e-12)
	assert.InDelta(t, math.Sqrt(14), Sample{X: 1, Y: 2, Z: 3}.Magnitude(), 1e-12)
}

func TestChecksum_Empty(t *testing.T) {
	assert.Equal(t, byte(0), Checksum(nil))
}
