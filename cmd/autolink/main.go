package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/shakedasido/AutoLink/internal/api"
	"github.com/shakedasido/AutoLink/internal/config"
	"github.com/shakedasido/AutoLink/internal/controller"
	"github.com/shakedasido/AutoLink/internal/db"
	"github.com/shakedasido/AutoLink/internal/docking"
	"github.com/shakedasido/AutoLink/internal/driver"
	"github.com/shakedasido/AutoLink/internal/geometry"
	"github.com/shakedasido/AutoLink/internal/markersource"
	"github.com/shakedasido/AutoLink/internal/monitor"
	"github.com/shakedasido/AutoLink/internal/posefilter"
	"github.com/shakedasido/AutoLink/internal/serialmux"
	"github.com/shakedasido/AutoLink/internal/version"
)

var (
	configFile  = flag.String("config", "", "Docking tuning JSON (built-in defaults when empty)")
	listen      = flag.String("listen", ":8080", "Listen address")
	dryRun      = flag.Bool("dry-run", false, "Loop commands back instead of opening the motor board")
	serialPort  = flag.String("serial-port", "", "Motor board serial port (overrides config)")
	udpAddr     = flag.String("udp-addr", "", "Detector UDP listen address (overrides config)")
	replayFile  = flag.String("replay", "", "Replay detector frames from a .jsonl capture instead of UDP")
	replayPaced = flag.Bool("paced", false, "Replay at the recorded frame rate")
	pcapFile    = flag.String("pcap", "", "Replay detector datagrams from a pcap file (requires the pcap build tag)")
	pcapPort    = flag.Int("pcap-port", 0, "UDP port to filter in --pcap (defaults to the --udp-addr port)")
	recordFile  = flag.String("record", "", "Record every detector frame to a .jsonl capture")
	dbFile      = flag.String("db", "autolink.db", "Docking journal sqlite file")
	traceDir    = flag.String("trace-dir", "traces", "Directory for per-session trace PNGs (empty disables)")
	autoDock    = flag.Bool("auto-dock", false, "Begin docking as soon as the wheelchair is in a feasible position")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), `autolink - wheelchair docking controller

Usage:
  autolink [flags]                  run the control loop and HTTP API
  autolink migrate <action>         manage the journal schema (see: autolink migrate help)
  autolink ctl <verb> [--addr a]    talk to a running instance (status, dock, stop, disconnect, sessions)

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if flag.NArg() > 0 {
		command := flag.Arg(0)
		args := flag.Args()[1:]
		switch command {
		case "migrate":
			if err := db.RunMigrateCommand(args, *dbFile, os.Stdin, os.Stdout); err != nil {
				log.Fatalf("migrate: %v", err)
			}
		case "ctl":
			if err := runCtl(args, os.Stdout); err != nil {
				log.Fatalf("ctl: %v", err)
			}
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
			printUsage()
			os.Exit(1)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("%s starting (auto-dock=%v, dry-run=%v)", version.String(), *autoDock, *dryRun)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// motor board link
	portPath := cfg.GetSerialPort()
	if *serialPort != "" {
		portPath = *serialPort
	}
	portOpts := serialmux.PortOptions{BaudRate: cfg.GetSerialBaudRate()}
	var boardMux serialmux.SerialMuxInterface
	var reloader api.SerialReloader
	if *dryRun {
		boardMux = serialmux.NewDisabledSerialMux()
	} else {
		initial, err := serialmux.RealFactory(portPath, portOpts)
		if err != nil {
			log.Fatalf("failed to open motor board on %s: %v", portPath, err)
		}
		mgr := serialmux.NewSerialPortManager(initial, serialmux.PortSnapshot{
			PortPath: portPath,
			Options:  portOpts,
			OpenedAt: time.Now(),
		}, serialmux.RealFactory)
		boardMux, reloader = mgr, mgr
	}
	defer boardMux.Close()

	if err := boardMux.Initialize(); err != nil {
		log.Fatalf("failed to initialize motor board: %v", err)
	}
	log.Printf("initialized motor board %s", portPath)

	drv := driver.NewSerialDriver(boardMux, nil, driver.DefaultAckTimeout)
	defer drv.Close()

	src, err := openSource(cfg)
	if err != nil {
		log.Fatalf("failed to open marker source: %v", err)
	}
	defer src.Close()

	journal, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer journal.Close()

	traces := monitor.NewStore(*traceDir, 0)

	ctl := controller.New(src, drv, controller.Options{
		Filter:   posefilter.ConfigFromTuning(cfg),
		Geometry: geometry.ConfigFromTuning(cfg),
		Docking:  docking.ConfigFromTuning(cfg),
		AutoDock: *autoDock,
		Journal:  journal,
		Traces:   traces,
	})

	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := boardMux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// control loop; a source failure ends the process
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ctl.Run(ctx); err != nil {
			log.Printf("control loop stopped: %v", err)
			stop()
		}
		log.Print("control loop terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		apiMux := api.NewServer(ctl, journal, reloader, cfg).ServeMux()
		mux.Handle("/api/", apiMux)

		boardMux.AttachAdminRoutes(mux)
		if err := journal.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach journal debug routes: %v", err)
		}
		traces.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
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
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// loadConfig returns the built-in defaults when path is empty.
func loadConfig(path string) (*config.DockingConfig, error) {
	if path == "" {
		return config.DefaultDockingConfig(), nil
	}
	return config.LoadDockingConfig(path)
}

// openSource picks the frame source from the flags: a pcap or JSONL replay
// when given, otherwise the live UDP listener. --record wraps whichever is
// chosen.
func openSource(cfg *config.DockingConfig) (markersource.Source, error) {
	addr := cfg.GetMarkerUDPAddr()
	if *udpAddr != "" {
		addr = *udpAddr
	}

	var src markersource.Source
	switch {
	case *pcapFile != "" && *replayFile != "":
		return nil, errors.New("--pcap and --replay are mutually exclusive")
	case *pcapFile != "":
		port := *pcapPort
		if port == 0 {
			p, err := portOf(addr)
			if err != nil {
				return nil, err
			}
			port = p
		}
		s, err := markersource.OpenPcap(*pcapFile, port)
		if err != nil {
			return nil, err
		}
		log.Printf("replaying pcap %s (udp port %d)", *pcapFile, port)
		src = s
	case *replayFile != "":
		s, err := markersource.OpenReplay(*replayFile)
		if err != nil {
			return nil, err
		}
		s.Paced = *replayPaced
		log.Printf("replaying %s (paced=%v)", *replayFile, s.Paced)
		src = s
	default:
		s, err := markersource.ListenUDP(addr, cfg.GetFrameTimeout())
		if err != nil {
			return nil, err
		}
		log.Printf("listening for detector frames on %s", addr)
		src = s
	}

	if *recordFile != "" {
		f, err := createCapture(*recordFile)
		if err != nil {
			src.Close()
			return nil, err
		}
		log.Printf("recording frames to %s", *recordFile)
		src = markersource.NewRecorder(src, f)
	}
	return src, nil
}

func createCapture(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	return f, nil
}

// portOf extracts the numeric port from a listen address like ":5600".
func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid UDP address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid UDP port in %q", addr)
	}
	return port, nil
}
