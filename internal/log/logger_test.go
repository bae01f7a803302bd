package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ccrelay.log")

	New(path).Info("daemon reported ready", "socket", "/tmp/x.sock")
	New(path).Error("fallback to local compiler", "reason", "connect refused")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(b)
	if !strings.Contains(content, "daemon reported ready") {
		t.Errorf("missing info line in %q", content)
	}
	if !strings.Contains(content, "fallback to local compiler") {
		t.Errorf("missing error line in %q", content)
	}
	if strings.Count(content, "inv=") != 2 {
		t.Errorf("expected an invocation id on both lines: %q", content)
	}
}

func TestNewWithoutPathIsSilent(t *testing.T) {
	// Must not panic or create files anywhere.
	New("").Info("nothing to see")
}

func TestNewWithUnwritablePathDegradesToSilence(t *testing.T) {
	New("/proc/definitely/not/writable/ccrelay.log").Info("dropped")
}
