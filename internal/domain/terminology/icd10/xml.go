package icd10

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/medterm/medterm/internal/domain/terminology"
)

type xmlTabular struct {
	Chapters []xmlChapter `xml:"chapter"`
}

type xmlChapter struct {
	Name     string       `xml:"name"`
	Desc     string       `xml:"desc"`
	Sections []xmlSection `xml:"section"`
	Diags    []xmlDiag    `xml:"diag"`
}

type xmlSection struct {
	Diags []xmlDiag `xml:"diag"`
}

type xmlDiag struct {
	Name      *string    `xml:"name"`
	Desc      *string    `xml:"desc"`
	Inclusion []xmlNotes `xml:"inclusionTerm"`
	Excludes1 []xmlNotes `xml:"excludes1"`
	Excludes2 []xmlNotes `xml:"excludes2"`
	Diags     []xmlDiag  `xml:"diag"`
}

type xmlNotes struct {
	Notes []string `xml:"note"`
}

func parseXML(ctx context.Context, path string) (*terminology.ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var doc xmlTabular
	if err := xml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &terminology.ParseResult{
		Store:        terminology.NewStore(),
		SourceFormat: "XML",
	}
	for _, ch := range doc.Chapters {
		w := xmlWalker{res: res, chapter: strings.TrimSpace(ch.Name), chapterName: strings.TrimSpace(ch.Desc)}
		for _, sec := range ch.Sections {
			w.walk(sec.Diags, "")
		}
		w.walk(ch.Diags, "")
	}
	return res, nil
}

type xmlWalker struct {
	res         *terminology.ParseResult
	chapter     string
	chapterName string
}

// walk adds diags in document order, parents before their children. A diag
// without a name or description is skipped together with its subtree.
func (w xmlWalker) walk(diags []xmlDiag, parent string) {
	for _, d := range diags {
		if d.Name == nil || d.Desc == nil || strings.TrimSpace(*d.Name) == "" {
			w.res.Skipped++
			continue
		}
		code := strings.TrimSpace(*d.Name)
		desc := strings.TrimSpace(*d.Desc)
		level := XMLLevel(code)

		var inclusion, exclusion []string
		for _, n := range d.Inclusion {
			inclusion = append(inclusion, n.Notes...)
		}
		for _, list := range [][]xmlNotes{d.Excludes1, d.Excludes2} {
			for _, n := range list {
				exclusion = append(exclusion, n.Notes...)
			}
		}

		c := &terminology.Concept{
			Code:          code,
			PreferredTerm: desc,
			Synonyms:      append([]string(nil), inclusion...),
			Category:      xmlLevelName(level),
			Active:        true,
			ICD10: &terminology.ICD10Detail{
				UndottedCode:     strings.ReplaceAll(code, ".", ""),
				Level:            level,
				LevelName:        xmlLevelName(level),
				IsLeaf:           len(d.Diags) == 0,
				Chapter:          w.chapter,
				ChapterName:      w.chapterName,
				ShortDescription: desc,
				LongDescription:  desc,
				InclusionTerms:   inclusion,
				ExclusionTerms:   exclusion,
			},
		}
		if parent != "" {
			c.Parents = []string{parent}
		}
		w.res.Store.Put(c)
		w.walk(d.Diags, code)
	}
}

// XMLLevel derives the depth of an ICD-10-CM code from its shape: a bare
// three-character category is 1, other undotted codes are 0 and dotted codes
// are 1 plus the number of characters after the dot.
func XMLLevel(code string) int {
	head, tail, dotted := strings.Cut(code, ".")
	if !dotted {
		if len(head) == categoryLen {
			return 1
		}
		return 0
	}
	return 1 + len(tail)
}

func xmlLevelName(level int) string {
	switch {
	case level <= 0:
		return "Block"
	case level == 1:
		return "Category"
	case level == 2:
		return "Subcategory"
	default:
		return "Detail"
	}
}
