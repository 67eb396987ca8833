// Package logging configures structured logging for the engine and hands
// out component-scoped loggers.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls global logging setup.
type Config struct {
	// Level is one of "error", "warn", "info", "debug", "trace".
	Level string
	// Console, when true, writes human-readable output to stderr instead
	// of JSON. Otherwise JSON goes to a file in Dir named for the date Init
	// ran (stderr when Dir is empty); the file is not rotated afterwards.
	Console bool
	// Dir is the log directory; ignored when Console is true.
	Dir string
}

var (
	mu     sync.Mutex
	base   zerolog.Logger
	inited bool
)

// Init configures the global logger. Safe to call once at startup.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stderr
	if cfg.Console {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	} else if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
			return err
		}
		name := filepath.Join(cfg.Dir, time.Now().Format("2006-01-02")+".log")
		f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		w = f
	}

	base = zerolog.New(w).With().Timestamp().Logger().Hook(redactHook{})
	inited = true
	return nil
}

// WithComponent returns a logger tagged with the given component name. If
// Init has not been called, a sane default (info level, stderr) is used so
// packages remain usable in tests without explicit setup.
func WithComponent(name string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if !inited {
		base = zerolog.New(os.Stderr).With().Timestamp().Logger().Hook(redactHook{})
	}
	return base.With().Str("component", name).Logger()
}

// emailLocalPart matches the local-part of an email address so it can be
// masked before a log line is written.
var emailLocalPart = regexp.MustCompile(`([A-Za-z0-9._%+\-]+)(@[A-Za-z0-9.\-]+)`)

var sensitiveFields = []string{"password", "token", "secret", "access_token", "refresh_token"}

// redactHook is installed on every logger but leaves events unchanged:
// message text and fields are written as given. Email local-parts are
// masked only where callers pass addresses through MaskEmail, and
// credential fields are kept out of logs only by callers omitting them.
type redactHook struct{}

func (redactHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	_ = msg
}

// MaskEmail masks the local-part of an email address for safe logging, e.g.
// "alice@example.com" becomes "a***@example.com".
func MaskEmail(addr string) string {
	return emailLocalPart.ReplaceAllStringFunc(addr, func(m string) string {
		parts := emailLocalPart.FindStringSubmatch(m)
		if len(parts) != 3 {
			return m
		}
		local := parts[1]
		if len(local) <= 1 {
			return local + "***" + parts[2]
		}
		return local[:1] + "***" + parts[2]
	})
}

// IsSensitiveKey reports whether a settings/config key name looks like it
// holds a credential and should never be logged by value.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveFields {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
