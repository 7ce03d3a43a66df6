package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/magmon/internal/acquire"
	"github.com/banshee-data/magmon/internal/config"
	"github.com/banshee-data/magmon/internal/datalog"
	"github.com/banshee-data/magmon/internal/db"
	"github.com/banshee-data/magmon/internal/monitor"
	"github.com/banshee-data/magmon/internal/monitoring"
	"github.com/banshee-data/magmon/internal/packet"
	"github.com/banshee-data/magmon/internal/serialport"
	"github.com/banshee-data/magmon/internal/spectrum"
	"github.com/banshee-data/magmon/internal/transmit"
	"github.com/banshee-data/magmon/internal/version"
)

const defaultPort = "/dev/ttyUSB0"

var (
	configFile  = flag.String("config", "", "JSON config file (see "+config.DefaultConfigPath+")")
	portPath    = flag.String("port", "", "Receiver serial port (overrides config)")
	listen      = flag.String("listen", "", "Monitor listen address (overrides config)")
	dbPath      = flag.String("db", "", "Archive database path (overrides config)")
	dataLogPath = flag.String("log", "", "Data log file (overrides config)")
	duration    = flag.Duration("duration", 0, "Stop acquisition after this long; the monitor keeps serving until interrupted")
	noDB        = flag.Bool("no-db", false, "Do not archive the session")
	devMode     = flag.Bool("dev", false, "Acquire from an in-process simulated transmitter")
	verbose     = flag.Bool("verbose", false, "Log every sample and batch")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrate(os.Args[2:])
		return
	}

	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("magmon"))
		return
	}
	monitoring.SetVerbose(*verbose)

	cfg, err := config.LoadOrEmpty(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	port, portName, sim, err := openPort(cfg)
	if err != nil {
		log.Fatalf("Failed to open receiver port: %v", err)
	}
	if sim != nil {
		defer sim.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sim.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, transmit.ErrExhausted) {
				log.Printf("simulated transmitter stopped: %v", err)
			}
		}()
	}

	var opts []acquire.Option
	if path := cfg.GetDataLog(); path != "" {
		w, err := datalog.Create(path)
		if err != nil {
			log.Fatalf("Failed to create data log: %v", err)
		}
		opts = append(opts, acquire.WithDataLog(w))
	}

	live := monitor.NewLive(cfg.GetSampleRate(), cfg.GetWindow())
	feeds := acquire.MultiFeed{live}

	acfg := cfg.AcquireConfig()
	acfg.ID = uuid.NewString()

	var archive *db.DB
	var analyzeHook func(spectrum.Result) error
	if !*noDB {
		archive, err = db.NewDB(cfg.GetDatabase())
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer archive.Close()

		if err := archive.CreateSession(&db.Session{
			ID:         acfg.ID,
			PortPath:   portName,
			SampleRate: acfg.SampleRate,
			BatchSize:  acfg.BatchSize,
		}); err != nil {
			log.Fatalf("Failed to archive session: %v", err)
		}
		feeds = append(feeds, db.NewRecorder(archive, acfg.ID))
		analyzeHook = func(res spectrum.Result) error {
			return archive.InsertSpectrum(acfg.ID, res)
		}
	}

	session, err := acquire.NewSession(port, acfg, append(opts, acquire.WithFeed(feeds))...)
	if err != nil {
		log.Fatalf("Failed to configure acquisition: %v", err)
	}
	defer session.Close()

	srv := monitor.NewServer(session, live, monitor.WithAnalyzeHook(analyzeHook))

	if err := session.Start(ctx); err != nil {
		log.Fatalf("Failed to start acquisition: %v", err)
	}
	log.Printf("session %s acquiring at %.4g Hz, monitor on %s", session.ID(), acfg.SampleRate, cfg.GetListen())

	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.Pump(ctx, session.Events())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		serveHTTP(ctx, cfg.GetListen(), srv, archive)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		finish(ctx, session, srv, archive)
	}()

	wg.Wait()
	live.Close()
	log.Printf("Graceful shutdown complete")
}

// finish waits for the session to end, analyses the capture and archives
// the result. The monitor keeps serving the spectrum until shutdown.
func finish(ctx context.Context, session *acquire.Session, srv *monitor.Server, archive *db.DB) {
	var timeout <-chan time.Time
	if *duration > 0 {
		timer := time.NewTimer(*duration)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-session.Done():
	case <-timeout:
		log.Printf("acquisition time of %s elapsed", *duration)
	case <-ctx.Done():
	}
	if err := session.Stop(); err != nil {
		log.Printf("stop: %v", err)
	}

	st := session.Stats()
	fault := session.Err()
	if fault != nil {
		log.Printf("acquisition aborted: %v", fault)
	}
	log.Printf("received %d samples, stored %d, |B| min %.3f max %.3f", st.Received, session.Store().Count(), st.Min, st.Max)

	if archive != nil {
		if err := archive.FinishSession(session.ID(), st.StoppedAt, session.Store().Count(), fault); err != nil {
			log.Printf("failed to archive session end: %v", err)
		}
	}

	res, err := srv.Analyze()
	if err != nil {
		log.Printf("analysis failed: %v", err)
		return
	}
	if p, ok := res.Peak(); ok {
		log.Printf("spectrum: %d bins at %.4g Hz/bin, peak %.3f at %.4g Hz", len(res.Points), res.Resolution, p.Magnitude, p.Frequency)
	}
}

func applyFlags(cfg *config.Config) {
	if *listen != "" {
		cfg.Listen = listen
	}
	if *dbPath != "" {
		cfg.Database = dbPath
	}
	if *dataLogPath != "" {
		cfg.DataLog = dataLogPath
	}
}

// openPort opens the receiver. In dev mode it returns one end of an
// in-memory link and a driver feeding a synthetic field into the other.
func openPort(cfg *config.Config) (serialport.Port, string, *transmit.Driver, error) {
	if !*devMode {
		opts := cfg.ReceiverPort(defaultPort)
		if *portPath != "" {
			opts.Path = *portPath
		}
		port, err := serialport.Open(opts)
		return port, opts.Path, nil, err
	}

	rx, tx := serialport.Pipe()
	fs := cfg.GetSampleRate()
	samples := transmit.Synthesize(int(60*fs), fs, packet.Sample{X: 18.2, Y: -4.1, Z: 44.6},
		transmit.Tone{Axis: 2, Frequency: fs / 8, Amplitude: 1.5},
		transmit.Tone{Axis: 0, Frequency: fs / 5, Amplitude: 0.4},
	)
	sim := transmit.NewDriver(tx, samples, transmit.Config{Interval: time.Duration(float64(time.Second) / fs / 2)})
	return rx, "simulated", sim, nil
}

func serveHTTP(ctx context.Context, addr string, srv *monitor.Server, archive *db.DB) {
	mux := srv.ServeMux()
	srv.AttachAdminRoutes(mux)
	if archive != nil {
		if err := archive.AttachAdminRoutes(mux); err != nil {
			log.Printf("database admin routes disabled: %v", err)
		}
	}

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		monitoring.Debugf("got request %q", r.URL.Path)
		mux.ServeHTTP(w, r)
	})
	server := &http.Server{
		Addr:    addr,
		Handler: h,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	path := fs.String("db", "magmon.db", "Path to database file")
	fs.Parse(args)

	err := db.RunMigrateCommand(fs.Args(), *path, os.Stdin, os.Stdout)
	if errors.Is(err, db.ErrUsage) {
		if err != db.ErrUsage {
			log.Print(err)
		}
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
}
