package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/magmon/internal/datalog"
	"github.com/banshee-data/magmon/internal/db"
	"github.com/banshee-data/magmon/internal/packet"
	"github.com/banshee-data/magmon/internal/spectrum"
)

func setFlag(t *testing.T, p *string, v string) {
	t.Helper()
	old := *p
	*p = v
	t.Cleanup(func() { *p = old })
}

func TestLoadCapture_DataLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.txt")
	w, err := datalog.Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Begin(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), 25))
	for i := 0; i < 4; i++ {
		require.NoError(t, w.Write(i, packet.Sample{X: float64(i), Y: 1, Z: -1}))
	}
	require.NoError(t, w.Close())

	setFlag(t, dataLogPath, path)
	x, y, z, fs, err := loadCapture(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultSampleRate, fs)
	assert.Equal(t, []float64{0, 1, 2, 3}, x)
	assert.Equal(t, []float64{1, 1, 1, 1}, y)
	assert.Equal(t, []float64{-1, -1, -1, -1}, z)
}

func TestLoadCapture_Session(t *testing.T) {
	archive, err := db.NewDB(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	require.NoError(t, archive.CreateSession(&db.Session{ID: "s1", PortPath: "/dev/ttyUSB0", SampleRate: 50, BatchSize: 2}))
	require.NoError(t, archive.InsertSamples("s1", 0, []float64{1, 2}, []float64{3, 4}, []float64{5, 6}))

	setFlag(t, sessionID, "s1")
	x, y, z, fs, err := loadCapture(archive)
	require.NoError(t, err)
	assert.Equal(t, 50.0, fs)
	assert.Equal(t, []float64{1, 2}, x)
	assert.Equal(t, []float64{3, 4}, y)
	assert.Equal(t, []float64{5, 6}, z)

	var buf bytes.Buffer
	require.NoError(t, listSessions(&buf, archive))
	assert.Contains(t, buf.String(), "SESSION")
	assert.Contains(t, buf.String(), "s1")
	assert.Contains(t, buf.String(), "/dev/ttyUSB0")

	setFlag(t, sessionID, "missing")
	_, _, _, _, err = loadCapture(archive)
	assert.ErrorIs(t, err, db.ErrSessionNotFound)
}

func TestLoadCapture_NoSource(t *testing.T) {
	_, _, _, _, err := loadCapture(nil)
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	res, err := spectrum.Analyze([]float64{1, 0, -1, 0}, []float64{0, 0, 0, 0}, []float64{0, 0, 0, 0}, 4)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "spectrum.json")
	require.NoError(t, writeJSON(path, res))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got spectrum.Result
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 4, got.Count)
	assert.Len(t, got.Points, 3)
}
