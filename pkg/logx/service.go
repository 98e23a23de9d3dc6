package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	kit "folibot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig controls forwarding to the operator chat. Lines at or above
// MinLevel (default warn) go to ChatID, at most RatePerSec per second.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./folibot.log"

// Service owns the live zerolog root. Loggers it hands out follow Apply.
type Service struct {
	mu   sync.Mutex
	root atomic.Pointer[zerolog.Logger]
	file *os.File
	fwd  *forwarder
}

// New applies cfg and returns the service with a root Logger bound to it.
// sender may be nil, which disables Telegram forwarding.
func New(cfg Config, sender kit.Sender) (*Service, Logger) {
	s := &Service{fwd: newForwarder(sender)}
	s.Apply(cfg)
	return s, Logger{sink: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{sink: s} }

// Apply rebuilds the outputs. With nothing enabled it falls back to the
// console.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(os.Stdout))
	}
	if f := s.reopen(cfg.File); f != nil {
		outs = append(outs, zerolog.SyncWriter(f))
	}
	if s.fwd.configure(cfg.Telegram) {
		outs = append(outs, s.fwd)
	}
	if len(outs) == 0 {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(levelOr(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// reopen closes the current log file and opens the configured one. Errors
// go to stderr since the logger is what is being rebuilt.
func (s *Service) reopen(fc FileConfig) *os.File {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if !fc.Enabled {
		return nil
	}
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		return nil
	}
	s.file = f
	return f
}

// Close stops forwarding and closes the log file.
func (s *Service) Close() error {
	s.fwd.close()

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}
