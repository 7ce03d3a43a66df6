package transmit

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/banshee-data/magmon/internal/packet"
)

// LoadSamples reads whitespace-separated floats in x y z order. The number
// of values must be a multiple of three.
func LoadSamples(r io.Reader) ([]packet.Sample, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	var vals []float64
	for sc.Scan() {
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", len(vals)+1, err)
		}
		vals = append(vals, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}
	if len(vals)%packet.Axes != 0 {
		return nil, fmt.Errorf("%d values is not a whole number of x/y/z samples", len(vals))
	}

	out := make([]packet.Sample, len(vals)/packet.Axes)
	for i := range out {
		out[i] = packet.Sample{X: vals[3*i], Y: vals[3*i+1], Z: vals[3*i+2]}
	}
	return out, nil
}

// LoadSamplesFile loads samples from path.
func LoadSamplesFile(path string) ([]packet.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sample file: %w", err)
	}
	defer f.Close()
	s, err := LoadSamples(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Tone is one sinusoidal component of a synthetic field.
type Tone struct {
	Axis      int     // 0 = x, 1 = y, 2 = z
	Frequency float64 // Hz
	Amplitude float64
}

// Synthesize generates n samples at sampleRate Hz: a constant background
// field plus the given tones. It stands in for a sample file when testing a
// receiver without recorded data.
func Synthesize(n int, sampleRate float64, background packet.Sample, tones ...Tone) []packet.Sample {
	out := make([]packet.Sample, n)
	for i := range out {
		t := float64(i) / sampleRate
		v := [packet.Axes]float64{background.X, background.Y, background.Z}
		for _, tn := range tones {
			if tn.Axis < 0 || tn.Axis >= packet.Axes {
				continue
			}
			v[tn.Axis] += tn.Amplitude * math.Sin(2*math.Pi*tn.Frequency*t)
		}
		out[i] = packet.Sample{X: v[0], Y: v[1], Z: v[2]}
	}
	return out
}
