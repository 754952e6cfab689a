package icd10

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/medterm/medterm/internal/domain/terminology"
)

// Field positions of the systematic codes file:
// level;type;X;chapter;parent;dotcode;code;short;long.
const (
	fieldLevel = iota
	fieldType
	_
	fieldChapter
	fieldParent
	fieldDotted
	fieldUndotted
	fieldShort
	fieldLong
	codeFields
)

// Group is one block of the groups file, e.g. A00-A09.
type Group struct {
	ID          string `json:"id"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Description string `json:"description"`
}

func parseText(ctx context.Context, dir string) (*terminology.ParseResult, error) {
	codesPath := filepath.Join(dir, CodesFile)
	if !terminology.FileExists(codesPath) {
		return nil, &terminology.DataNotFoundError{Ontology: terminology.OntologyICD10, File: CodesFile}
	}

	chapters, err := readChapters(ctx, filepath.Join(dir, ChaptersFile))
	if err != nil {
		return nil, err
	}
	groups, err := readGroups(ctx, filepath.Join(dir, GroupsFile))
	if err != nil {
		return nil, err
	}

	res := &terminology.ParseResult{
		Store:        terminology.NewStore(),
		SourceFormat: "TXT",
		Extras:       map[string]any{"groups.json": groups},
	}
	err = terminology.ScanLines(ctx, codesPath, &res.Skipped, func(line string) error {
		if strings.TrimSpace(line) == "" {
			return nil
		}
		c, ok := parseCodeLine(line, chapters)
		if !ok {
			res.Skipped++
			return nil
		}
		res.Store.Put(c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", CodesFile, err)
	}
	return res, nil
}

func parseCodeLine(line string, chapters map[string]string) (*terminology.Concept, bool) {
	parts := strings.Split(line, ";")
	if len(parts) < codeFields {
		return nil, false
	}
	code := strings.TrimSpace(parts[fieldDotted])
	if code == "" {
		return nil, false
	}
	level, err := strconv.Atoi(strings.TrimSpace(parts[fieldLevel]))
	if err != nil {
		return nil, false
	}

	short := strings.TrimSpace(parts[fieldShort])
	long := strings.TrimSpace(parts[fieldLong])
	if long == "" {
		long = short
	}
	chapter := strings.TrimSpace(parts[fieldChapter])

	c := &terminology.Concept{
		Code:          code,
		PreferredTerm: long,
		Category:      LevelName(level),
		Active:        true,
		ICD10: &terminology.ICD10Detail{
			UndottedCode:     strings.TrimSpace(parts[fieldUndotted]),
			Level:            level,
			LevelName:        LevelName(level),
			IsLeaf:           strings.TrimSpace(parts[fieldType]) == "T",
			Chapter:          chapter,
			ChapterName:      chapters[chapter],
			ShortDescription: short,
			LongDescription:  long,
		},
	}
	if short != "" && short != long {
		c.Synonyms = []string{short}
	}
	if parent := strings.TrimSpace(parts[fieldParent]); parent != "" {
		c.Parents = []string{parent}
	}
	return c, true
}

// readChapters returns chapter number → name. The file is optional.
func readChapters(ctx context.Context, path string) (map[string]string, error) {
	chapters := make(map[string]string)
	err := terminology.ScanLines(ctx, path, nil, func(line string) error {
		parts := strings.Split(line, ";")
		if len(parts) >= 2 {
			chapters[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", ChaptersFile, err)
	}
	return chapters, nil
}

// readGroups returns the blocks keyed by id. The file is optional.
func readGroups(ctx context.Context, path string) (map[string]Group, error) {
	groups := make(map[string]Group)
	err := terminology.ScanLines(ctx, path, nil, func(line string) error {
		parts := strings.Split(line, ";")
		if len(parts) < 4 {
			return nil
		}
		g := Group{
			ID:          strings.TrimSpace(parts[0]),
			Start:       strings.TrimSpace(parts[1]),
			End:         strings.TrimSpace(parts[2]),
			Description: strings.TrimSpace(parts[3]),
		}
		groups[g.ID] = g
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", GroupsFile, err)
	}
	return groups, nil
}
