package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/banshee-data/magmon/internal/config"
	"github.com/banshee-data/magmon/internal/monitoring"
	"github.com/banshee-data/magmon/internal/packet"
	"github.com/banshee-data/magmon/internal/serialport"
	"github.com/banshee-data/magmon/internal/transmit"
	"github.com/banshee-data/magmon/internal/version"
)

const defaultPort = "/dev/ttyUSB1"

var (
	configFile  = flag.String("config", "", "JSON config file (see "+config.DefaultConfigPath+")")
	portPath    = flag.String("port", "", "Transmitter serial port (overrides config)")
	sampleFile  = flag.String("samples", "", "Whitespace separated x y z sample file (overrides config)")
	synthCount  = flag.Int("synth", 1500, "Number of synthetic samples to send when no sample file is given")
	synthRate   = flag.Float64("synth-rate", 25, "Sample rate in Hz used to synthesize tones")
	interval    = flag.Duration("interval", 0, "Delay on each half of the LED toggle (overrides config)")
	listPorts   = flag.Bool("list", false, "List serial ports and exit")
	verbose     = flag.Bool("verbose", false, "Log every indicator change")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

var tones toneList

func init() {
	flag.Var(&tones, "tone", "Synthetic tone as axis:freq:amplitude, e.g. z:3:1.5 (repeatable)")
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("magtx"))
		return
	}
	if *listPorts {
		ports, err := serialport.ListPorts()
		if err != nil {
			log.Fatalf("Failed to list ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}
	monitoring.SetVerbose(*verbose)

	cfg, err := config.LoadOrEmpty(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	samples, err := loadSamples(cfg)
	if err != nil {
		log.Fatalf("Failed to load samples: %v", err)
	}

	opts := cfg.TransmitterPort(defaultPort)
	if *portPath != "" {
		opts.Path = *portPath
	}
	port, err := serialport.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open transmitter port: %v", err)
	}

	tcfg := transmit.Config{Interval: cfg.GetInterval()}
	if *interval > 0 {
		tcfg.Interval = *interval
	}
	driver := transmit.NewDriver(port, samples, tcfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logIndicators(driver.Events())
	}()

	log.Printf("sending %d samples on %s every %s", len(samples), opts, 2*tcfg.Interval)
	err = driver.Serve(ctx)
	switch {
	case errors.Is(err, transmit.ErrExhausted):
		log.Printf("all %d samples sent", len(samples))
	case errors.Is(err, context.Canceled), err == nil:
	default:
		log.Printf("transmitter stopped: %v", err)
	}

	st := driver.Stats()
	if err := driver.Close(); err != nil {
		log.Printf("close: %v", err)
	}
	wg.Wait()
	log.Printf("sent %d packets (%d bytes), %d write errors", st.Packets, st.TotalBytes, st.Errors)
}

func loadSamples(cfg *config.Config) ([]packet.Sample, error) {
	path := cfg.GetSampleFile()
	if *sampleFile != "" {
		path = *sampleFile
	}
	if path != "" {
		return transmit.LoadSamplesFile(path)
	}
	if *synthCount <= 0 || *synthRate <= 0 {
		return nil, fmt.Errorf("synthetic samples need positive -synth and -synth-rate")
	}
	ts := []transmit.Tone(tones)
	if len(ts) == 0 {
		ts = []transmit.Tone{{Axis: 2, Frequency: *synthRate / 8, Amplitude: 1}}
	}
	return transmit.Synthesize(*synthCount, *synthRate, packet.Sample{X: 18, Y: -4, Z: 44}, ts...), nil
}

func logIndicators(events <-chan transmit.Stats) {
	var connected bool
	for st := range events {
		if st.Connected != connected {
			connected = st.Connected
			log.Printf("receiver connected: %v (next sample %d of %d)", connected, st.Index, st.Total)
		}
		monitoring.Debugf("packet %d checksum=0x%02x out_queue=%d led=%v", st.Packets, st.Checksum, st.OutQueue, st.LED)
	}
}

// toneList collects repeated -tone flags.
type toneList []transmit.Tone

func (l *toneList) String() string {
	parts := make([]string, len(*l))
	for i, t := range *l {
		parts[i] = fmt.Sprintf("%c:%g:%g", "xyz"[t.Axis], t.Frequency, t.Amplitude)
	}
	return strings.Join(parts, ",")
}

func (l *toneList) Set(v string) error {
	t, err := parseTone(v)
	if err != nil {
		return err
	}
	*l = append(*l, t)
	return nil
}

func parseTone(v string) (transmit.Tone, error) {
	fields := strings.Split(v, ":")
	if len(fields) != 3 {
		return transmit.Tone{}, fmt.Errorf("tone %q: want axis:freq:amplitude", v)
	}
	axis := strings.Index("xyz", strings.ToLower(fields[0]))
	if axis < 0 || len(fields[0]) != 1 {
		return transmit.Tone{}, fmt.Errorf("tone %q: axis must be x, y or z", v)
	}
	freq, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || freq < 0 {
		return transmit.Tone{}, fmt.Errorf("tone %q: invalid frequency", v)
	}
	amp, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return transmit.Tone{}, fmt.Errorf("tone %q: invalid amplitude", v)
	}
	return transmit.Tone{Axis: axis, Frequency: freq, Amplitude: amp}, nil
}
