package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestFormatter(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&Formatter{Source: "tracksync", Location: time.UTC})

	log.WithFields(logrus.Fields{"component": "cache", "count": 3}).
		WithError(errors.New("boom")).
		Warn("collection replaced")

	line := buf.String()
	for _, want := range []string{
		"Event Source: tracksync, ",
		"Event Type: WARNING, ",
		"Event ID: ",
		"Message: collection replaced",
		", component=cache, count=3, error=boom",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(line, "\n") || strings.Count(line, "\n") != 1 {
		t.Errorf("want exactly one line, got %q", line)
	}
}

func TestFormatterEventIDsDiffer(t *testing.T) {
	f := &Formatter{Source: "x"}
	entry := &logrus.Entry{Time: time.Now(), Level: logrus.InfoLevel, Message: "m", Data: logrus.Fields{}}

	a, err := f.Format(entry)
	if err != nil {
		t.Fatal(err)
	}
	first := string(a)
	b, err := f.Format(entry)
	if err != nil {
		t.Fatal(err)
	}
	if first == string(b) {
		t.Error("two records share an event id")
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Config{Level: "debug", Output: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer closer.Close()

	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", log.GetLevel())
	}
	log.Debug("hello")
	if !strings.Contains(buf.String(), "Event Source: tracksync") {
		t.Errorf("default source missing: %q", buf.String())
	}

	if _, _, err := New(Config{Level: "chatty"}); err == nil {
		t.Error("New() with bad level succeeded")
	}
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tracksync.log")
	log, closer, err := New(Config{File: path, Source: "daemon"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	log.Info("written to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "Message: written to file") {
		t.Errorf("log file = %q", data)
	}
}
