package logger

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Rotator implements io.Writer and handles log file rotation based on size.
type Rotator struct {
	Filename   string
	MaxSize    int64 // Bytes
	MaxBackups int
	file       *os.File
	size       int64
	mu         sync.Mutex
}

// Level orders log prefixes. Lines without a known prefix are INFO.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
)

// ParseLevel maps WATCHER_LOG_LEVEL values to a Level. Unknown values are INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING", "ERROR":
		return LevelWarn
	default:
		return LevelInfo
	}
}

// Setup initializes the standard logger to write to both stdout and a rotating file,
// dropping lines below the requested level.
func Setup(filename string, maxSizeMB int64, maxBackups int, level string) {
	var out io.Writer = os.Stdout

	rotator := &Rotator{
		Filename:   filename,
		MaxSize:    maxSizeMB * 1024 * 1024,
		MaxBackups: maxBackups,
	}
	if err := rotator.openExistingOrNew(); err != nil {
		log.Printf("Failed to open log file, using stdout only: %v", err)
	} else {
		out = io.MultiWriter(os.Stdout, rotator)
	}

	log.SetOutput(&LevelFilter{Min: ParseLevel(level), Out: out})
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// LevelFilter drops log lines whose message prefix is below Min.
// It expects one line per Write, which is how the standard logger calls it.
type LevelFilter struct {
	Min Level
	Out io.Writer
}

func (f *LevelFilter) Write(p []byte) (int, error) {
	if lineLevel(p) < f.Min {
		return len(p), nil
	}
	return f.Out.Write(p)
}

var (
	debugTag = []byte("DEBUG")
	warnTags = [][]byte{[]byte("WARN"), []byte("CRITICAL"), []byte("ERROR"), []byte("⚠️")}
)

// lineLevel inspects the message part of a formatted log line. The header
// written by log flags ends with ": " when Lshortfile is set.
func lineLevel(p []byte) Level {
	msg := p
	if i := bytes.Index(p, []byte(".go:")); i >= 0 {
		if j := bytes.Index(p[i:], []byte(": ")); j >= 0 {
			msg = p[i+j+2:]
		}
	}
	msg = bytes.TrimLeft(msg, "[ ")
	if bytes.HasPrefix(msg, debugTag) {
		return LevelDebug
	}
	for _, tag := range warnTags {
		if bytes.HasPrefix(msg, tag) {
			return LevelWarn
		}
	}
	return LevelInfo
}

func (r *Rotator) openExistingOrNew() error {
	info, err := os.Stat(r.Filename)
	if os.IsNotExist(err) {
		return r.openNew()
	}
	if err != nil {
		return err
	}

	f, err := os.OpenFile(r.Filename, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = info.Size()
	return nil
}

func (r *Rotator) openNew() error {
	f, err := os.OpenFile(r.Filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = 0
	return nil
}

// Write satisfies the io.Writer interface. It checks size and rotates if needed.
func (r *Rotator) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err = r.openExistingOrNew(); err != nil {
			return 0, err
		}
	}

	if r.MaxSize > 0 && r.size+int64(len(p)) > r.MaxSize {
		if err := r.rotate(); err != nil {
			// Keep writing to whatever is open so lines are not lost.
			fmt.Fprintf(os.Stderr, "Log rotation failed: %v\n", err)
		}
	}

	n, err = r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close releases the current file.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// rotate closes the current file, shifts backups (log.1 -> log.2 ...) and opens a new file.
func (r *Rotator) rotate() error {
	if r.file != nil {
		r.file.Close()
	}

	if r.MaxBackups <= 0 {
		return r.openNew()
	}

	for i := r.MaxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", r.Filename, i)
		if _, err := os.Stat(oldPath); os.IsNotExist(err) {
			continue
		}
		os.Rename(oldPath, fmt.Sprintf("%s.%d", r.Filename, i+1))
	}

	if _, err := os.Stat(r.Filename); err == nil {
		os.Rename(r.Filename, r.Filename+".1")
	}

	return r.openNew()
}
