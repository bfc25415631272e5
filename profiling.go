package main

import (
	"fmt"
	"os"
	"runtime/pprof"
	"sync"

	"go.uber.org/zap"
)

// profileRecorder captures a CPU profile while the viewer auto-walks the
// target, so the result can be used as default.pgo.
type profileRecorder struct {
	path   string
	file   *os.File
	once   sync.Once
	logger *zap.Logger
}

func startProfileRecorder(path string, logger *zap.Logger) (*profileRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating profile %q: %w", path, err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("starting CPU profile: %w", err)
	}
	logger.Info("recording CPU profile", zap.String("path", path))
	return &profileRecorder{path: path, file: f, logger: logger}, nil
}

// Stop ends the profile. Only the first call has any effect.
func (r *profileRecorder) Stop() {
	r.once.Do(func() {
		pprof.StopCPUProfile()
		if err := r.file.Close(); err != nil {
			r.logger.Warn("closing CPU profile", zap.String("path", r.path), zap.Error(err))
			return
		}
		r.logger.Info("CPU profile written", zap.String("path", r.path))
	})
}
