package logger

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"warning": LevelWarn,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestLevelFilter_DropsBelowMinimum(t *testing.T) {
	var buf bytes.Buffer
	l := log.New(&LevelFilter{Min: LevelInfo, Out: &buf}, "", log.LstdFlags|log.Lshortfile)

	l.Printf("DEBUG: noisy detail")
	l.Printf("cycle finished")
	l.Printf("WARN: price missing")

	out := buf.String()
	if strings.Contains(out, "noisy detail") {
		t.Error("debug line should be dropped at INFO")
	}
	if !strings.Contains(out, "cycle finished") || !strings.Contains(out, "price missing") {
		t.Errorf("expected info and warn lines, got %q", out)
	}

	buf.Reset()
	l.SetOutput(&LevelFilter{Min: LevelWarn, Out: &buf})
	l.Printf("cycle finished")
	l.Printf("CRITICAL: state corrupt")
	if out := buf.String(); strings.Contains(out, "cycle finished") || !strings.Contains(out, "state corrupt") {
		t.Errorf("unexpected output at WARN: %q", out)
	}
}

func TestRotator_RotatesAndKeepsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watcher.log")
	r := &Rotator{Filename: path, MaxSize: 10, MaxBackups: 2}
	defer r.Close()

	for _, line := range []string{"aaaaaaaa\n", "bbbbbbbb\n", "cccccccc\n", "dddddddd\n"} {
		if _, err := r.Write([]byte(line)); err != nil {
			t.Fatal(err)
		}
	}

	cur, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(cur) != "dddddddd\n" {
		t.Errorf("current log = %q", cur)
	}
	b1, _ := os.ReadFile(path + ".1")
	b2, _ := os.ReadFile(path + ".2")
	if string(b1) != "cccccccc\n" || string(b2) != "bbbbbbbb\n" {
		t.Errorf("unexpected backups %q %q", b1, b2)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("only two backups should be kept")
	}
}
