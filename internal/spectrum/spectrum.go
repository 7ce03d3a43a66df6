// Package spectrum turns a completed x/y/z capture into a single
// magnitude-versus-frequency curve: Hamming window per axis, real FFT per
// axis, Euclidean combination across axes, single-sided normalisation.
package spectrum

import (
	"errors"
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

var (
	ErrSampleRate   = errors.New("sample rate must be positive")
	ErrAxisMismatch = errors.New("axis lengths differ")
)

// Point is one bin of the spectrum.
type Point struct {
	Frequency float64 `json:"frequency"`
	Magnitude float64 `json:"magnitude"`
}

// Result is the spectrum of one capture. It holds Count/2+1 points spaced
// Resolution Hz apart, or none when the capture was empty.
type Result struct {
	SampleRate float64 `json:"sample_rate"`
	Count      int     `json:"count"`
	Resolution float64 `json:"resolution"`
	Points     []Point `json:"points"`
}

// Empty reports whether there was nothing to analyse.
func (r Result) Empty() bool { return len(r.Points) == 0 }

func (r Result) Frequencies() []float64 {
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Frequency
	}
	return out
}

func (r Result) Magnitudes() []float64 {
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Magnitude
	}
	return out
}

// Peak returns the strongest bin above DC. ok is false when there is no such
// bin.
func (r Result) Peak() (p Point, ok bool) {
	if len(r.Points) < 2 {
		return Point{}, false
	}
	mags := r.Magnitudes()[1:]
	i := floats.MaxIdx(mags)
	return r.Points[i+1], true
}

// Analyze computes the spectrum of the three axes sampled at sampleRate Hz.
// The inputs are not modified. An empty capture yields an empty Result and no
// error.
func Analyze(x, y, z []float64, sampleRate float64) (Result, error) {
	if len(x) != len(y) || len(y) != len(z) {
		return Result{}, fmt.Errorf("%w: %d/%d/%d", ErrAxisMismatch, len(x), len(y), len(z))
	}
	count := len(x)
	if count == 0 {
		return Result{SampleRate: sampleRate}, nil
	}
	if !(sampleRate > 0) {
		return Result{}, fmt.Errorf("%w: %v", ErrSampleRate, sampleRate)
	}

	fft := fourier.NewFFT(count)
	xm := axisMagnitudes(fft, x)
	ym := axisMagnitudes(fft, y)
	zm := axisMagnitudes(fft, z)

	half := count / 2
	df := sampleRate / float64(count)
	res := Result{
		SampleRate: sampleRate,
		Count:      count,
		Resolution: df,
		Points:     make([]Point, half+1),
	}
	axes := make([]float64, 3)
	for i := 0; i <= half; i++ {
		axes[0], axes[1], axes[2] = xm[i], ym[i], zm[i]
		mag := floats.Norm(axes, 2)
		if i == 0 {
			mag /= float64(count)
		} else {
			mag /= float64(half)
		}
		res.Points[i] = Point{Frequency: float64(i) * df, Magnitude: mag}
	}
	return res, nil
}

// axisMagnitudes windows a copy of seq and returns |X[k]| for k in 0..n/2.
func axisMagnitudes(fft *fourier.FFT, seq []float64) []float64 {
	w := make([]float64, len(seq))
	copy(w, seq)
	Hamming(w)

	coeff := fft.Coefficients(nil, w)
	mags := make([]float64, len(coeff))
	for i, c := range coeff {
		mags[i] = cmplx.Abs(c)
	}
	return mags
}

// Hamming applies the periodic Hamming window, w[k] = 0.54 - 0.46cos(2πk/N),
// to seq in place. The periodic form is the first N points of the symmetric
// window of length N+1. Sequences shorter than two samples are left unchanged.
func Hamming(seq []float64) []float64 {
	if len(seq) < 2 {
		return seq
	}
	return window.NewValues(window.Hamming, len(seq)+1)[:len(seq)].Transform(seq)
}
