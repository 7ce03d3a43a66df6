package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/banshee-data/magmon/internal/datalog"
	"github.com/banshee-data/magmon/internal/db"
	"github.com/banshee-data/magmon/internal/spectrum"
	"github.com/banshee-data/magmon/internal/version"
)

var (
	dataLogPath = flag.String("log", "", "Data log file to analyse")
	dbPath      = flag.String("db", "", "Archive database to read a session from")
	sessionID   = flag.String("session", "", "Archived session ID (with -db)")
	listOnly    = flag.Bool("list", false, "List archived sessions (with -db) and exit")
	sampleRate  = flag.Float64("fs", 0, "Sample rate in Hz; defaults to the session rate, or 25 for data logs")
	scaleFlag   = flag.String("scale", "linear", "Magnitude axis for -out: linear or log")
	outPNG      = flag.String("out", "", "Write the spectrum plot to this PNG file")
	outJSON     = flag.String("json", "", "Write the spectrum as JSON to this file (- for stdout)")
	store       = flag.Bool("store", false, "Save the computed spectrum back to the archived session")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const defaultSampleRate = 25.0

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("magspectrum"))
		return
	}

	scale, err := spectrum.ParseScale(*scaleFlag)
	if err != nil {
		log.Fatalf("Invalid -scale: %v", err)
	}

	var archive *db.DB
	if *dbPath != "" {
		archive, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer archive.Close()
	}

	if *listOnly {
		if archive == nil {
			log.Fatal("-list needs -db")
		}
		if err := listSessions(os.Stdout, archive); err != nil {
			log.Fatalf("Failed to list sessions: %v", err)
		}
		return
	}

	x, y, z, fs, err := loadCapture(archive)
	if err != nil {
		log.Fatalf("Failed to load capture: %v", err)
	}

	res, err := spectrum.Analyze(x, y, z, fs)
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}
	if res.Empty() {
		log.Printf("capture is empty; nothing to analyse")
		return
	}
	p, _ := res.Peak()
	log.Printf("%d samples at %.4g Hz: %d bins, %.4g Hz/bin, peak %.3f at %.4g Hz",
		res.Count, res.SampleRate, len(res.Points), res.Resolution, p.Magnitude, p.Frequency)

	if *store {
		if archive == nil || *sessionID == "" {
			log.Fatal("-store needs -db and -session")
		}
		if err := archive.InsertSpectrum(*sessionID, res); err != nil {
			log.Fatalf("Failed to store spectrum: %v", err)
		}
	}
	if *outPNG != "" {
		if err := spectrum.SavePNG(*outPNG, res, scale); err != nil {
			log.Fatalf("Failed to write plot: %v", err)
		}
		log.Printf("wrote %s (%s scale)", *outPNG, scale)
	}
	if *outJSON != "" {
		if err := writeJSON(*outJSON, res); err != nil {
			log.Fatalf("Failed to write JSON: %v", err)
		}
	}
}

// loadCapture reads the three axes from a data log or an archived session.
func loadCapture(archive *db.DB) (x, y, z []float64, fs float64, err error) {
	fs = *sampleRate
	switch {
	case *dataLogPath != "":
		entries, err := datalog.ParseFile(*dataLogPath)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		if fs == 0 {
			fs = defaultSampleRate
		}
		x, y, z = datalog.Axes(entries)
		return x, y, z, fs, nil

	case archive != nil && *sessionID != "":
		sess, err := archive.GetSession(*sessionID)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		samples, err := archive.SessionSamples(sess.ID)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		if fs == 0 {
			fs = sess.SampleRate
		}
		x = make([]float64, len(samples))
		y = make([]float64, len(samples))
		z = make([]float64, len(samples))
		for i, s := range samples {
			x[i], y[i], z[i] = s.X, s.Y, s.Z
		}
		return x, y, z, fs, nil
	}
	return nil, nil, nil, 0, errors.New("give -log, or -db with -session")
}

func listSessions(w io.Writer, archive *db.DB) error {
	sessions, err := archive.ListSessions(0)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tPORT\tFS\tSAMPLES\tFAULT")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%d\t%s\n",
			s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), s.PortPath, s.SampleRate, s.SampleCount, s.Fault)
	}
	return tw.Flush()
}

func writeJSON(path string, res spectrum.Result) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
