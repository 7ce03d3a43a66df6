// Package datalog writes and reads the receiver's plain-text capture log:
// a fixed header followed by one "HH:MM:SS \t x \t y \t z" line per sample.
package datalog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/magmon/internal/packet"
)

const (
	Title     = "MAGNETIC FIELD DATA \n\n"
	Columns   = "Time \t\t x \t\t y\t\t z \n"
	Separator = "---------------------------------------------------------\n"

	TimeLayout = "15:04:05"
)

var ErrNotStarted = errors.New("data log time base not set")

// Writer appends samples to a log. It is not safe for concurrent use; the
// acquisition reader is its only caller.
type Writer struct {
	w      *bufio.Writer
	c      io.Closer
	start  time.Time
	period time.Duration
	begun  bool
	lines  int
}

// Create truncates or creates path and writes the header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create data log: %w", err)
	}
	lw, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	lw.c = f
	return lw, nil
}

// New writes the header to w. If w is an io.Closer it is closed by Close.
func New(w io.Writer) (*Writer, error) {
	lw := &Writer{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		lw.c = c
	}
	for _, s := range []string{Title, Columns, Separator} {
		if _, err := lw.w.WriteString(s); err != nil {
			return nil, fmt.Errorf("failed to write data log header: %w", err)
		}
	}
	return lw, nil
}

// Begin sets the time base: sample n is stamped start + n/sampleRate.
func (lw *Writer) Begin(start time.Time, sampleRate float64) error {
	if !(sampleRate > 0) {
		return fmt.Errorf("invalid sample rate %v", sampleRate)
	}
	lw.start = start
	lw.period = time.Duration(float64(time.Second) / sampleRate)
	lw.begun = true
	return nil
}

// Write appends sample n.
func (lw *Writer) Write(n int, s packet.Sample) error {
	if !lw.begun {
		return ErrNotStarted
	}
	ts := lw.start.Add(time.Duration(n) * lw.period)
	_, err := fmt.Fprintf(lw.w, "%s \t %.2f \t %.2f \t %.2f\n", ts.Format(TimeLayout), s.X, s.Y, s.Z)
	if err != nil {
		return fmt.Errorf("failed to write data log line %d: %w", n, err)
	}
	lw.lines++
	return nil
}

// Lines returns the number of sample lines written.
func (lw *Writer) Lines() int { return lw.lines }

// Flush writes buffered lines to the underlying writer.
func (lw *Writer) Flush() error { return lw.w.Flush() }

// Close flushes and closes the underlying file, if any.
func (lw *Writer) Close() error {
	err := lw.w.Flush()
	if lw.c != nil {
		err = errors.Join(err, lw.c.Close())
		lw.c = nil
	}
	return err
}

// Entry is one parsed log line. Time carries only the clock time of day.
type Entry struct {
	Time   time.Time
	Sample packet.Sample
}

// Parse reads a log written by Writer. Header and blank lines are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || isHeader(line) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, fmt.Errorf("data log line %d: want 4 fields, got %d", lineNo, len(fields))
		}
		ts, err := time.Parse(TimeLayout, fields[0])
		if err != nil {
			return nil, fmt.Errorf("data log line %d: %w", lineNo, err)
		}
		var v [3]float64
		for i := range v {
			if v[i], err = strconv.ParseFloat(fields[i+1], 64); err != nil {
				return nil, fmt.Errorf("data log line %d: %w", lineNo, err)
			}
		}
		out = append(out, Entry{Time: ts, Sample: packet.Sample{X: v[0], Y: v[1], Z: v[2]}})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read data log: %w", err)
	}
	return out, nil
}

// ParseFile opens path and parses it.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data log: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Axes splits entries into x, y and z sequences.
func Axes(entries []Entry) (x, y, z []float64) {
	x = make([]float64, len(entries))
	y = make([]float64, len(entries))
	z = make([]float64, len(entries))
	for i, e := range entries {
		x[i], y[i], z[i] = e.Sample.X, e.Sample.Y, e.Sample.Z
	}
	return x, y, z
}

func isHeader(line string) bool {
	return strings.HasPrefix(line, "MAGNETIC") ||
		strings.HasPrefix(line, "Time") ||
		strings.HasPrefix(line, "---")
}
