package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/codefionn/tilewall/internal/calibration"
	"github.com/codefionn/tilewall/internal/config"
	"github.com/codefionn/tilewall/internal/console"
	"github.com/codefionn/tilewall/internal/coordinator"
	"github.com/codefionn/tilewall/internal/discovery"
	"github.com/codefionn/tilewall/internal/lockfile"
	"github.com/codefionn/tilewall/internal/logger"
	"github.com/codefionn/tilewall/internal/marker"
	"github.com/codefionn/tilewall/internal/media"
	"github.com/codefionn/tilewall/internal/pprof"
	"github.com/codefionn/tilewall/internal/registry"
	"github.com/codefionn/tilewall/internal/server"
	"github.com/codefionn/tilewall/internal/session"
	"github.com/codefionn/tilewall/internal/store"
	"github.com/codefionn/tilewall/internal/stream"
	"github.com/codefionn/tilewall/internal/vision"
)

var (
	serveListen    string
	serveNoDisc    bool
	serveReplay    string
	serveNoConsole bool
	servePprof     bool
	serveCPUProf   string
	serveHeapProf  string
)

// serveCmd runs every server component until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the wall server",
	Long:  "Start the WebSocket server, the discovery responder, the calibration engine and the operator console.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveListen != "" {
			cfg.Server.ListenAddr = serveListen
		}
		if serveNoDisc {
			cfg.Discovery.Enabled = false
		}
		if serveReplay != "" {
			cfg.Calibration.Backend = "replay"
			cfg.Calibration.ReplayFile = serveReplay
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, stop)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides server.listen_addr)")
	serveCmd.Flags().BoolVar(&serveNoDisc, "no-discovery", false, "Disable the UDP discovery responder")
	serveCmd.Flags().StringVar(&serveReplay, "replay", "", "Calibrate from a replay script instead of a camera")
	serveCmd.Flags().BoolVar(&serveNoConsole, "no-console", false, "Do not read operator keys from stdin")
	serveCmd.Flags().BoolVar(&servePprof, "pprof", false, "Serve runtime profiles under /debug/pprof")
	serveCmd.Flags().StringVar(&serveCPUProf, "cpuprofile", "", "Write a CPU profile to this file")
	serveCmd.Flags().StringVar(&serveHeapProf, "heapprofile", "", "Write a heap profile to this file on exit")
}

func openDevice(cfg *config.Config) (vision.Device, error) {
	if cfg.Calibration.Backend == "replay" {
		return vision.LoadReplay(cfg.Calibration.ReplayFile)
	}
	return vision.NewOpenCVDevice(cfg.Calibration.Device)
}

func serve(ctx context.Context, cfg *config.Config, quit func()) error {
	log := logger.Global()
	defer log.Close()

	lock := lockfile.New(filepath.Join(filepath.Dir(cfg.StoragePath), "tilewall.lock"))
	if err := lock.TryAcquire(cfg.Server.ListenAddr); err != nil {
		return err
	}
	defer lock.Release()

	profiler, err := pprof.Start(pprof.Config{CPUProfile: serveCPUProf, HeapProfile: serveHeapProf})
	if err != nil {
		return err
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			log.Warn("Failed to write profiles: %v", err)
		}
	}()

	device, err := openDevice(cfg)
	if err != nil {
		return fmt.Errorf("failed to open calibration device: %w", err)
	}

	db, err := store.NewDatabase(cfg.StoragePath)
	if err != nil {
		return err
	}
	defer db.Close()

	codec, err := openCodec(cfg)
	if err != nil {
		return err
	}
	if _, builtin := codec.(*marker.Dictionary); builtin && cfg.Server.MarkerDictionary == "" {
		log.Warn("Using the built-in marker family; set server.marker_dictionary to an OpenCV DICT_6X6_250 export for ArUco-compatible markers")
	}
	reg := registry.New(registry.WithMaxMarkers(codec.Len()))
	sessions := session.NewStore(session.WithMaxSlots(cfg.Server.MaxSlots))

	engine := calibration.NewEngine(device, calibration.Options{
		Timeout:                cfg.CalibrationTimeout(),
		MaxFrames:              cfg.Calibration.MaxFrames,
		FrameInterval:          cfg.FrameInterval(),
		MaxConsecutiveFailures: cfg.Calibration.MaxConsecutiveFailures,
	}, log.WithPrefix("calibration"))
	defer engine.Close()

	launcher := stream.NewLauncher(stream.Options{
		FFmpegPath:     cfg.Stream.FFmpegPath,
		MulticastGroup: cfg.Stream.MulticastGroup,
		MulticastPort:  cfg.Stream.MulticastPort,
		Bitrate:        cfg.Stream.Bitrate,
		LocalAddr:      cfg.Stream.LocalAddr,
	}, log.WithPrefix("stream"))
	defer func() {
		if err := launcher.Stop(); err != nil {
			log.Warn("Failed to stop stream: %v", err)
		}
	}()

	coordCfg := coordinator.Config{
		Registry:     reg,
		Sessions:     sessions,
		Engine:       engine,
		Codec:        codec,
		Streamer:     launcher,
		History:      db,
		MarkerPixels: cfg.Server.MarkerPixels,
	}

	catalog, err := media.NewCatalog(cfg.Stream.MediaDir)
	if err != nil {
		log.Warn("Media catalog unavailable, video playback disabled: %v", err)
	} else {
		defer catalog.Close()
		coordCfg.Media = catalog
	}

	var operator *console.Console
	if !serveNoConsole && term.IsTerminal(int(os.Stdin.Fd())) {
		operator = console.New(os.Stdin, os.Stdout, engine, quit)
		coordCfg.Observers = append(coordCfg.Observers, operator)
	}

	coord := coordinator.New(ctx, coordCfg)

	srv := server.NewServer(server.Options{
		Addr:           cfg.Server.ListenAddr,
		MaxConnections: cfg.Server.MaxConnections,
		Pprof:          servePprof,
	}, server.Deps{
		Coordinator: coord,
		Registry:    reg,
		Sessions:    sessions,
		Engine:      engine,
		Codec:       codec,
		DB:          db,
		Media:       catalog,
		Streaming:   launcher,
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Discovery.Enabled {
		responder, err := discovery.Listen(cfg.Discovery.Addr, cfg.Discovery.Request, cfg.Discovery.Response)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return responder.Serve(gctx)
		})
	}

	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	if operator != nil {
		g.Go(func() error {
			fmt.Fprint(os.Stdout, "ESC cancels calibration, SPACE forces capture, q quits\r\n")
			return operator.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Server stopped")
	return nil
}
