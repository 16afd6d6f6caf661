package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agnosto/instawebhooks/config"
)

const (
	maxLogSize    = 5 * 1024 * 1024 // 5MB
	maxLogBackups = 5
	logFileName   = "instawebhooks.log"
)

type Level int

const (
	LevelQuiet Level = iota
	LevelInfo
	LevelDebug
)

var (
	Logger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)

	mu      sync.Mutex
	level   = LevelInfo
	file    *os.File
	console io.Writer = os.Stderr
)

// InitLogger sends log output to the rotating log file and, unless quiet, to
// stderr.
func InitLogger(cfg *config.Config) error {
	logDir := cfg.ResolvedLogDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile := filepath.Join(logDir, logFileName)
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	lvl := LevelInfo
	switch {
	case cfg.Options.Quiet:
		lvl = LevelQuiet
	case cfg.Options.Verbose:
		lvl = LevelDebug
	}

	mu.Lock()
	file = f
	level = lvl
	Logger.SetOutput(writerFor(f, lvl))
	mu.Unlock()

	go rotateLogFile(logFile)

	return nil
}

func writerFor(f *os.File, lvl Level) io.Writer {
	if lvl == LevelQuiet {
		return f
	}
	return io.MultiWriter(console, f)
}

// Debugf logs only when verbose output is enabled.
func Debugf(format string, args ...any) {
	mu.Lock()
	enabled := level >= LevelDebug
	mu.Unlock()
	if enabled {
		Logger.Output(2, "[DEBUG] "+fmt.Sprintf(format, args...))
	}
}

// Quiet reports whether console output is suppressed.
func Quiet() bool {
	mu.Lock()
	defer mu.Unlock()
	return level == LevelQuiet
}

func rotateLogFile(logFile string) {
	for {
		time.Sleep(1 * time.Hour)

		info, err := os.Stat(logFile)
		if err != nil {
			Logger.Printf("[WARN] Error checking log file: %v", err)
			continue
		}

		if info.Size() < maxLogSize {
			continue
		}

		Logger.Printf("Rotating log file")

		for i := maxLogBackups - 1; i > 0; i-- {
			oldFile := fmt.Sprintf("%s.%d", logFile, i)
			newFile := fmt.Sprintf("%s.%d", logFile, i+1)
			os.Rename(oldFile, newFile)
		}

		os.Rename(logFile, logFile+".1")

		newFile, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			Logger.Printf("[ERROR] Error creating new log file: %v", err)
			continue
		}

		mu.Lock()
		old := file
		file = newFile
		Logger.SetOutput(writerFor(newFile, level))
		mu.Unlock()

		if old != nil {
			old.Close()
		}
	}
}
