// Package logging sets up the per-run structured log streams. Every process
// run gets its own directory with JSONL files split by concern: simulation
// events, warnings and errors, LLM traffic, and an optional full debug
// stream.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

type MultiError struct {
	errors []error
}

func (m *MultiError) Error() string {
	report := make([]string, 0, len(m.errors)+1)
	report = append(report, fmt.Sprintf("%d errors occurred", len(m.errors)))
	for _, err := range m.errors {
		report = append(report, err.Error())
	}
	return strings.Join(report, "; ")
}

type Config struct {
	BaseDir        string // e.g. "logs"
	AlsoToStderr   bool
	EnableDebugLog bool
}

// RunLogs owns the log streams of one simulation run.
type RunLogs struct {
	RunID  string
	RunDir string

	Log   *slog.Logger // use everywhere
	Sync  func()       // best-effort flush for crash paths
	Close func() error
}

// NewRunLogs creates the run directory and a logger fanning out to its
// streams. Records with type=llm_call or type=llm_error additionally land in
// llm.jsonl so model traffic can be replayed without grepping events.
func NewRunLogs(cfg Config) (*RunLogs, error) {
	if cfg.BaseDir == "" {
		cfg.BaseDir = "logs"
	}

	ts := time.Now().Format("2006-01-02_15-04-05")
	suffix, err := randomHex(4)
	if err != nil {
		return nil, err
	}
	runID := fmt.Sprintf("%s_%s", ts, suffix)
	runDir := filepath.Join(cfg.BaseDir, runID)

	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, err
	}

	var files []*os.File
	open := func(name string) (*os.File, error) {
		f, err := os.OpenFile(filepath.Join(runDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			for _, prev := range files {
				_ = prev.Close()
			}
			return nil, err
		}
		files = append(files, f)
		return f, nil
	}

	eventsF, err := open("events.jsonl")
	if err != nil {
		return nil, err
	}
	errorsF, err := open("errors.jsonl")
	if err != nil {
		return nil, err
	}
	llmF, err := open("llm.jsonl")
	if err != nil {
		return nil, err
	}

	hs := []slog.Handler{
		slog.NewJSONHandler(eventsF, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(errorsF, &slog.HandlerOptions{Level: slog.LevelWarn}),
		newTypeFilterHandler(
			slog.NewJSONHandler(llmF, &slog.HandlerOptions{Level: slog.LevelDebug}),
			"llm_call", "llm_error",
		),
	}

	if cfg.EnableDebugLog {
		debugF, err := open("debug.jsonl")
		if err != nil {
			return nil, err
		}
		hs = append(hs, slog.NewJSONHandler(debugF, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	if cfg.AlsoToStderr {
		hs = append(hs, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	base := slog.New(NewMultiHandler(hs...)).With(
		slog.String("run_id", runID),
		slog.String("run_dir", runDir),
	)

	syncFn := func() {
		for _, f := range files {
			_ = f.Sync()
		}
		_ = os.Stderr.Sync()
	}

	closeFn := func() error {
		var errs []error
		for _, f := range files {
			if err := f.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if errs != nil {
			return &MultiError{errs}
		}
		return nil
	}

	base.Info("run_start",
		slog.String("type", "run_start"),
		slog.String("ts", time.Now().Format(time.RFC3339Nano)),
		slog.Bool("debug_enabled", cfg.EnableDebugLog),
	)

	return &RunLogs{
		RunID:  runID,
		RunDir: runDir,
		Log:    base,
		Sync:   syncFn,
		Close:  closeFn,
	}, nil
}

// RecoverAndLog is the panic guard for the main/run entrypoint.
func RecoverAndLog(log *slog.Logger, syncFn func()) {
	if r := recover(); r != nil {
		log.Error("panic",
			slog.String("type", "panic"),
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())),
		)
		if syncFn != nil {
			syncFn()
		}
		panic(r)
	}
}

func randomHex(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

/******** typeFilterHandler ********/

// typeFilterHandler forwards only records whose "type" attribute matches one
// of the configured values.
type typeFilterHandler struct {
	inner slog.Handler
	types map[string]bool
}

func newTypeFilterHandler(inner slog.Handler, types ...string) *typeFilterHandler {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return &typeFilterHandler{inner: inner, types: set}
}

func (h *typeFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *typeFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	match := false
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "type" && h.types[a.Value.String()] {
			match = true
			return false
		}
		return true
	})
	if !match {
		return nil
	}
	return h.inner.Handle(ctx, r.Clone())
}

func (h *typeFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &typeFilterHandler{inner: h.inner.WithAttrs(attrs), types: h.types}
}

func (h *typeFilterHandler) WithGroup(name string) slog.Handler {
	return &typeFilterHandler{inner: h.inner.WithGroup(name), types: h.types}
}

/******** MultiHandler ********/

type MultiHandler struct {
	mu       sync.Mutex
	handlers []slog.Handler
}

func NewMultiHandler(h ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: h}
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	// Some handlers consume attrs, so clone per handler.
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	if errs != nil {
		return &MultiError{errs}
	}
	return nil
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: hs}
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: hs}
}
