package terminology

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxLineSize bounds a single record of a raw distribution file.
const maxLineSize = 4 << 20

// ScanLines calls fn for every line of path with the line terminator
// removed. Lines longer than maxLineSize are discarded and counted in
// skipped, which may be nil. Cancellation of ctx is checked between lines.
func ScanLines(ctx context.Context, path string, skipped *int, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	var line []byte
	oversized := false
	for n := 0; ; {
		chunk, rerr := r.ReadSlice('\n')
		if errors.Is(rerr, bufio.ErrBufferFull) {
			if !oversized && len(line)+len(chunk) > maxLineSize {
				oversized, line = true, line[:0]
			}
			if !oversized {
				line = append(line, chunk...)
			}
			continue
		}
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return fmt.Errorf("read %s: %w", filepath.Base(path), rerr)
		}
		if rerr != nil && len(chunk) == 0 && len(line) == 0 && !oversized {
			return nil
		}

		if oversized || len(line)+len(chunk) > maxLineSize {
			if skipped != nil {
				*skipped++
			}
		} else {
			if n%10000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++
			line = append(line, chunk...)
			if err := fn(strings.TrimRight(string(line), "\r\n")); err != nil {
				return err
			}
		}
		line, oversized = line[:0], false
		if rerr != nil {
			return nil
		}
	}
}

// FindFile returns the first existing path among dirs joined with each glob
// pattern, trying every pattern in a directory before moving to the next
// directory. Matches within one glob are taken in lexical order. It returns
// "" when nothing matches.
func FindFile(dirs []string, patterns ...string) string {
	for _, dir := range dirs {
		for _, pattern := range patterns {
			matches, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil || len(matches) == 0 {
				continue
			}
			sort.Strings(matches)
			for _, m := range matches {
				if fi, err := os.Stat(m); err == nil && !fi.IsDir() {
					return m
				}
			}
		}
	}
	return ""
}

// FileExists reports whether path names a regular file.
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
