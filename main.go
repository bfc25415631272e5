package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"GPA/sim"
)

func main() {
	flag.Parse()

	logConfig := zap.NewProductionConfig()
	if *devLogFlag {
		logConfig = zap.NewDevelopmentConfig()
	}
	logger, err := logConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(logger); err != nil {
		logger.Error("particle viewer stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

// run owns every resource for the lifetime of the window and releases them on
// all exit paths.
func run(logger *zap.Logger) error {
	cfg, err := sim.LoadConfig(*configPathFlag)
	if err != nil {
		return err
	}
	applyFlagOverrides(&cfg)

	backend, err := newBackend(*backendFlag, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	reg := prometheus.NewRegistry()
	metrics, err := sim.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	if *metricsAddrFlag != "" {
		srv, err := startMetricsServer(*metricsAddrFlag, reg, logger)
		if err != nil {
			return err
		}
		defer srv.stop()
	}

	driver, err := sim.New(backend, cfg, sim.WithLogger(logger), sim.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer driver.Release()

	g := newGame(driver, logger)
	if *recordDefaultPGO {
		recorder, err := startProfileRecorder("default.pgo", logger)
		if err != nil {
			return err
		}
		defer recorder.Stop()
		g.enableAutoWalk(pgoRecordDuration)
		time.AfterFunc(pgoRecordDuration, recorder.Stop)
	}

	ebiten.SetWindowSize(w*windowScale, h*windowScale)
	ebiten.SetWindowTitle("GPU Particle Attraction")
	ebiten.SetTPS(int(defaultTPS))
	if err := ebiten.RunGame(g); err != nil && !errors.Is(err, ebiten.Termination) {
		return err
	}
	return nil
}

// applyFlagOverrides copies explicitly set simulation flags over cfg.
func applyFlagOverrides(cfg *sim.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "particles":
			cfg.MaxParticleCount = *particlesFlag
		case "particle-size":
			cfg.ParticleSize = float32(*particleSizeFlag)
		case "attract-strength":
			cfg.AttractStrength = float32(*attractStrengthFlag)
		case "max-speed":
			cfg.MaxSpeed = float32(*maxSpeedFlag)
		case "avoid-wall-strength":
			cfg.AvoidWallStrength = float32(*avoidWallStrengthFlag)
		case "movement-thresh":
			cfg.MovementThreshold = float32(*movementThreshFlag)
		}
	})
}

// newBackend builds the requested compute backend.
func newBackend(name string, logger *zap.Logger) (sim.Backend, error) {
	switch name {
	case "cpu":
		backend := sim.NewCPUBackend(*workersFlag)
		logger.Info("CPU compute backend enabled")
		return backend, nil
	case "opencl":
		backend, err := sim.NewOpenCLBackend()
		if err != nil {
			return nil, fmt.Errorf("OpenCL initialization failed: %w", err)
		}
		logger.Info("OpenCL compute backend enabled", zap.String("device", backend.DeviceName()))
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

// metricsServer exposes a registry on /metrics until stopped.
type metricsServer struct {
	srv    *http.Server
	addr   net.Addr
	done   chan struct{}
	logger *zap.Logger
}

// startMetricsServer listens on addr and serves reg in the background.
func startMetricsServer(addr string, reg *prometheus.Registry, logger *zap.Logger) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening for metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	m := &metricsServer{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr:   ln.Addr(),
		done:   make(chan struct{}),
		logger: logger,
	}
	logger.Info("serving metrics", zap.String("addr", m.addr.String()))
	go func() {
		defer close(m.done)
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return m, nil
}

// stop shuts the server down and waits for the serve loop to exit.
func (m *metricsServer) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Warn("metrics server shutdown", zap.Error(err))
	}
	<-m.done
}
