package terminology

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLines(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lines.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func collect(t *testing.T, path string) ([]string, int) {
	t.Helper()
	var lines []string
	skipped := 0
	err := ScanLines(context.Background(), path, &skipped, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return lines, skipped
}

// =========== ScanLines ===========

func TestScanLines_TerminatorsRemoved(t *testing.T) {
	lines, skipped := collect(t, writeLines(t, "a|b\r\n\nc|d\nlast"))
	if strings.Join(lines, ",") != "a|b,,c|d,last" {
		t.Errorf("unexpected lines %q", lines)
	}
	if skipped != 0 {
		t.Errorf("expected nothing skipped, got %d", skipped)
	}
}

func TestScanLines_OversizedLineSkipped(t *testing.T) {
	huge := strings.Repeat("x", maxLineSize+1024)
	lines, skipped := collect(t, writeLines(t, "first\n"+huge+"\nsecond\n"))
	if strings.Join(lines, ",") != "first,second" {
		t.Errorf("expected the lines around the oversized one, got %d lines", len(lines))
	}
	if skipped != 1 {
		t.Errorf("expected 1 skipped line, got %d", skipped)
	}
}

func TestScanLines_OversizedLastLine(t *testing.T) {
	huge := strings.Repeat("y", maxLineSize+1)
	lines, skipped := collect(t, writeLines(t, "first\n"+huge))
	if len(lines) != 1 || lines[0] != "first" {
		t.Errorf("unexpected lines count %d", len(lines))
	}
	if skipped != 1 {
		t.Errorf("expected 1 skipped line, got %d", skipped)
	}
}

func TestScanLines_LongLineWithinLimit(t *testing.T) {
	long := strings.Repeat("z", 200*1024)
	lines, skipped := collect(t, writeLines(t, long+"\nnext\n"))
	if len(lines) != 2 || lines[0] != long || lines[1] != "next" {
		t.Errorf("expected the long line intact, got %d lines", len(lines))
	}
	if skipped != 0 {
		t.Errorf("expected nothing skipped, got %d", skipped)
	}
}

func TestScanLines_NilSkipped(t *testing.T) {
	huge := strings.Repeat("x", maxLineSize+1)
	n := 0
	err := ScanLines(context.Background(), writeLines(t, huge+"\nok\n"), nil, func(string) error {
		n++
		return nil
	})
	if err != nil || n != 1 {
		t.Errorf("expected one line and no error, got %d, %v", n, err)
	}
}

func TestScanLines_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ScanLines(ctx, writeLines(t, "a\n"), nil, func(string) error { return nil })
	if err == nil {
		t.Fatal("expected context error")
	}
}
