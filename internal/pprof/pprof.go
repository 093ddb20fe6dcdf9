// Package pprof exposes runtime profiles of the server, either on its own
// router or as files written at shutdown.
package pprof

import (
	"errors"
	"fmt"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"

	"github.com/julienschmidt/httprouter"
)

// Mount registers the /debug/pprof endpoints on router
func Mount(router *httprouter.Router) {
	router.HandlerFunc(http.MethodGet, "/debug/pprof/", netpprof.Index)
	router.HandlerFunc(http.MethodGet, "/debug/pprof/cmdline", netpprof.Cmdline)
	router.HandlerFunc(http.MethodGet, "/debug/pprof/profile", netpprof.Profile)
	router.HandlerFunc(http.MethodGet, "/debug/pprof/symbol", netpprof.Symbol)
	router.HandlerFunc(http.MethodGet, "/debug/pprof/trace", netpprof.Trace)
	for _, name := range []string{"goroutine", "heap", "allocs", "block", "mutex", "threadcreate"} {
		router.Handler(http.MethodGet, "/debug/pprof/"+name, netpprof.Handler(name))
	}
}

// Config selects the profiles written to disk. Empty paths are skipped.
type Config struct {
	CPUProfile  string
	HeapProfile string
	// GoroutineProfile is useful to find pumps that outlive their connection
	GoroutineProfile string
}

// Profiler records file-based profiles between Start and Stop
type Profiler struct {
	config  Config
	cpuFile *os.File

	mu      sync.Mutex
	stopped bool
}

// Start begins CPU profiling when configured
func Start(config Config) (*Profiler, error) {
	p := &Profiler{config: config}
	if config.CPUProfile == "" {
		return p, nil
	}

	f, err := create(config.CPUProfile)
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to start CPU profiling: %w", err)
	}
	p.cpuFile = f
	return p, nil
}

// Stop ends CPU profiling and writes the snapshot profiles. Later calls do
// nothing.
func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true

	var errs []error
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close CPU profile: %w", err))
		}
		p.cpuFile = nil
	}
	if p.config.HeapProfile != "" {
		runtime.GC()
		errs = append(errs, writeProfile("heap", p.config.HeapProfile))
	}
	if p.config.GoroutineProfile != "" {
		errs = append(errs, writeProfile("goroutine", p.config.GoroutineProfile))
	}
	return errors.Join(errs...)
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile file: %w", err)
	}
	return f, nil
}

func writeProfile(name, path string) error {
	profile := pprof.Lookup(name)
	if profile == nil {
		return fmt.Errorf("profile %q not found", name)
	}
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := profile.WriteTo(f, 0); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", name, err)
	}
	return nil
}
