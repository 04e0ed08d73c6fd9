package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	return string(data)
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "reel.log")
	logs, err := Open(Options{File: path, Quiet: true})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer logs.Close()

	logs.Logger("daemon").Printf("Listening on %s", "127.0.0.1:8080")

	got := readLog(t, path)
	if !strings.Contains(got, "[daemon] ") || !strings.Contains(got, "Listening on 127.0.0.1:8080") {
		t.Errorf("log = %q", got)
	}
}

func TestDebugFollowsVerbosity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reel.log")
	logs, err := Open(Options{File: path, Quiet: true})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer logs.Close()

	debug := logs.Debug("livesync")
	debug.Println("hidden")
	if strings.Contains(readLog(t, path), "hidden") {
		t.Error("debug line written while not verbose")
	}

	logs.SetVerbose(true)
	if !logs.Verbose() {
		t.Fatal("Verbose() = false after SetVerbose(true)")
	}
	debug.Println("shown")
	if got := readLog(t, path); !strings.Contains(got, "[livesync] DEBUG shown") {
		t.Errorf("log = %q", got)
	}
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reel.log")
	logs, err := Open(Options{File: path, Quiet: true})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer logs.Close()

	logs.Logger("api").Println("first")
	if err := logs.Rotate(); err != nil {
		t.Fatalf("Rotate() failed: %v", err)
	}
	logs.Logger("api").Println("second")

	if got := readLog(t, path); strings.Contains(got, "first") || !strings.Contains(got, "second") {
		t.Errorf("current log = %q, want only the second line", got)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) < 2 {
		t.Errorf("expected a rotated backup, have %d files", len(entries))
	}
}

func TestDiscard(t *testing.T) {
	logs := Discard()
	logs.Logger("x").Println("nothing")
	if err := logs.Rotate(); err != nil {
		t.Errorf("Rotate() failed: %v", err)
	}
	if err := logs.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
}

func TestCloseStopsFileWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reel.log")
	logs, err := Open(Options{File: path, Quiet: true})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	logger := logs.Logger("api")
	logger.Println("before")

	if err := logs.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if !logs.Closed() {
		t.Error("Closed() = false after Close()")
	}
	if err := logs.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	logger.Println("after")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("log file reopened after Close (stat err = %v)", err)
	}
}
