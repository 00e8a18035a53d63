package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetup_Stderr(t *testing.T) {
	var buf bytes.Buffer
	f, err := Setup(Options{Stderr: &buf, Debug: true})
	if err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	defer f.Close()

	f.New("observer").Printf("hello %d", 42)

	if !strings.Contains(buf.String(), "[observer] hello 42") {
		t.Errorf("Expected prefixed line, got %q", buf.String())
	}
	if !f.Debug() {
		t.Error("Expected debug to be enabled")
	}
}

func TestSetup_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "taskbridge.log")
	f, err := Setup(Options{File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}

	f.New("jobs").Println("job done")
	f.New("feed").Println("delivered")
	if err := f.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "[jobs] job done") || !strings.Contains(out, "[feed] delivered") {
		t.Errorf("Expected both components in log file, got %q", out)
	}
}

func TestDiscard(t *testing.T) {
	f := Discard()
	f.New("x").Println("nothing")
	if f.Debug() {
		t.Error("Discard factory should not enable debug")
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
}
