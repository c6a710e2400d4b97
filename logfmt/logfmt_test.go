package logfmt

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

func newLogger(f *Formatter) (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(f)
	log.SetLevel(logrus.DebugLevel)
	return log, &buf
}

func TestFormatPlain(t *testing.T) {
	log, buf := newLogger(&Formatter{DisableColors: true})

	log.WithFields(logrus.Fields{"method": "echo", "addr": "127.0.0.1:1"}).
		WithError(errors.New("boom")).Warn("request failed")

	line := buf.String()
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("line not terminated: %q", line)
	}
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[1] != "WARN" {
		t.Fatalf("unexpected level in %q", line)
	}
	want := "request failed  addr=127.0.0.1:1 error=boom method=echo\n"
	if !strings.HasSuffix(line, want) {
		t.Fatalf("got %q, want suffix %q", line, want)
	}
}

func TestFormatTimestamp(t *testing.T) {
	f := &Formatter{DisableColors: true, TimestampFormat: time.RFC3339}
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	entry.Level = logrus.InfoLevel
	entry.Message = "hello"

	out, err := f.Format(entry)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(out); got != "2024-01-02T03:04:05Z INFO hello\n" {
		t.Fatalf("got %q", got)
	}
}

func TestFormatColors(t *testing.T) {
	saved := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = saved }()

	log, buf := newLogger(&Formatter{})
	log.Error("bad")
	if !strings.Contains(buf.String(), "\x1b[31m") {
		t.Fatalf("expect red level, got %q", buf.String())
	}

	buf.Reset()
	log.SetFormatter(&Formatter{DisableColors: true})
	log.Error("bad")
	if strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expect no escape codes, got %q", buf.String())
	}
}
