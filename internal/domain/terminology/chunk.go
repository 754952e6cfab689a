package terminology

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"
)

// On-disk layout of a processed ontology directory.
const (
	PreprocessingVersion = "1.0"
	ManifestFile         = "metadata.json"
	SearchIndexFile      = "search_index.json.gz"
	chunkExt             = ".json.gz"
)

// ChunkInfo describes one chunk file.
type ChunkInfo struct {
	File      string `json:"file"`
	Partition string `json:"partition"`
	Count     int    `json:"count"`
}

// Manifest describes how the concepts of a processed ontology are laid out
// across chunk files. The loader reads exactly the chunks it lists.
type Manifest struct {
	Ontology             string         `json:"ontology"`
	TotalConcepts        int            `json:"total_concepts"`
	TotalChunks          int            `json:"total_chunks"`
	ChunkSize            int            `json:"chunk_size,omitempty"`
	PartitionKey         string         `json:"partition_key"`
	Partitions           map[string]int `json:"-"`
	Chunks               []ChunkInfo    `json:"chunks"`
	IndexTokens          int            `json:"index_tokens"`
	SkippedRecords       int            `json:"skipped_records"`
	SourceFormat         string         `json:"source_format,omitempty"`
	Sidecars             []string       `json:"sidecars,omitempty"`
	Generation           string         `json:"generation"`
	CreatedAt            time.Time      `json:"created_at"`
	PreprocessingVersion string         `json:"preprocessing_version"`
}

type manifestAlias Manifest

// MarshalJSON writes the partition counts under the manifest's partition key,
// e.g. "codes_by_level" or "concepts_by_class".
func (m Manifest) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(manifestAlias(m))
	if err != nil || m.PartitionKey == "" {
		return raw, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	parts, err := json.Marshal(m.Partitions)
	if err != nil {
		return nil, err
	}
	obj[m.PartitionKey] = parts
	return json.Marshal(obj)
}

// UnmarshalJSON reads the partition counts back from the partition key.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var a manifestAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = Manifest(a)
	if m.PartitionKey == "" {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if raw, ok := obj[m.PartitionKey]; ok {
		if err := json.Unmarshal(raw, &m.Partitions); err != nil {
			return fmt.Errorf("decode %s: %w", m.PartitionKey, err)
		}
	}
	return nil
}

// ProcessedDir is the directory holding the processed form of a raw
// ontology directory.
func ProcessedDir(dataDir string) string {
	return filepath.Clean(dataDir) + "_processed"
}

// WriteProcessed serializes a store, its index and the sidecar files into
// dir and returns the manifest describing them. The manifest itself is left
// for CommitManifest so a reader never sees one for a partial generation.
func WriteProcessed(dir, ontology string, s *Store, idx InvertedIndex, p Policy, sidecars map[string]any) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create processed dir: %w", err)
	}

	var (
		order  []string
		groups = make(map[string][]*Concept)
	)
	for i, code := range s.Codes() {
		c, _ := s.Get(code)
		label := p.partitionOf(c, i)
		if _, ok := groups[label]; !ok {
			order = append(order, label)
		}
		groups[label] = append(groups[label], c)
	}

	m := &Manifest{
		Ontology:             ontology,
		TotalConcepts:        s.Len(),
		ChunkSize:            p.ChunkSize,
		PartitionKey:         p.PartitionKey,
		Partitions:           make(map[string]int, len(order)),
		IndexTokens:          len(idx),
		Generation:           uuid.NewString(),
		CreatedAt:            time.Now().UTC(),
		PreprocessingVersion: PreprocessingVersion,
	}
	used := make(map[string]bool, len(order))
	for _, label := range order {
		file := p.ChunkPrefix + chunkFileLabel(label) + chunkExt
		for n := 2; used[file]; n++ {
			file = p.ChunkPrefix + chunkFileLabel(label) + "_" + strconv.Itoa(n) + chunkExt
		}
		used[file] = true
		if err := writeChunk(filepath.Join(dir, file), groups[label]); err != nil {
			return nil, err
		}
		m.Chunks = append(m.Chunks, ChunkInfo{File: file, Partition: label, Count: len(groups[label])})
		m.Partitions[label] = len(groups[label])
	}
	m.TotalChunks = len(m.Chunks)

	if err := writeGzipJSON(filepath.Join(dir, SearchIndexFile), idx); err != nil {
		return nil, err
	}
	for name, v := range sidecars {
		if err := writeJSON(filepath.Join(dir, name), v); err != nil {
			return nil, err
		}
		m.Sidecars = append(m.Sidecars, name)
	}
	sort.Strings(m.Sidecars)
	return m, nil
}

// CommitManifest atomically writes the manifest into dir.
func CommitManifest(dir string, m *Manifest) error {
	tmp := filepath.Join(dir, ManifestFile+".tmp")
	if err := writeJSON(tmp, m); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, ManifestFile)); err != nil {
		return fmt.Errorf("commit manifest: %w", err)
	}
	return nil
}

// ReadManifest reads and validates the manifest of a processed directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.PreprocessingVersion != PreprocessingVersion {
		return nil, fmt.Errorf("unsupported preprocessing version %q", m.PreprocessingVersion)
	}
	if m.TotalConcepts > 0 && len(m.Chunks) == 0 {
		return nil, fmt.Errorf("manifest lists %d concepts but no chunks", m.TotalConcepts)
	}
	return &m, nil
}

// ReadProcessed loads every chunk listed in the manifest and the search
// index. Chunks are decoded concurrently and merged in manifest order.
func ReadProcessed(ctx context.Context, dir string) (*Store, InvertedIndex, *Manifest, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, nil, nil, err
	}

	parts := make([][]*Concept, len(m.Chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range m.Chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			concepts, err := readChunk(filepath.Join(dir, ch.File))
			if err != nil {
				return err
			}
			if len(concepts) != ch.Count {
				return fmt.Errorf("chunk %s: expected %d concepts, found %d", ch.File, ch.Count, len(concepts))
			}
			parts[i] = concepts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	s := NewStore()
	for _, part := range parts {
		for _, c := range part {
			s.Put(c)
		}
	}
	if s.Len() != m.TotalConcepts {
		return nil, nil, nil, fmt.Errorf("manifest lists %d concepts, chunks hold %d", m.TotalConcepts, s.Len())
	}

	var idx InvertedIndex
	if err := readGzipJSON(filepath.Join(dir, SearchIndexFile), &idx); err != nil {
		if !os.IsNotExist(err) {
			return nil, nil, nil, err
		}
		idx = nil
	}
	return s, idx, m, nil
}

// writeChunk writes a JSON object of code → concept keeping slice order.
func writeChunk(path string, concepts []*Concept) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chunk: %w", err)
	}
	defer f.Close()

	zw, err := pgzip.NewWriterLevel(f, pgzip.BestSpeed)
	if err != nil {
		return fmt.Errorf("chunk writer: %w", err)
	}
	bw := bufio.NewWriter(zw)
	bw.WriteByte('{')
	for i, c := range concepts {
		if i > 0 {
			bw.WriteByte(',')
		}
		key, err := json.Marshal(c.Code)
		if err != nil {
			return err
		}
		val, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode concept %s: %w", c.Code, err)
		}
		bw.Write(key)
		bw.WriteByte(':')
		bw.Write(val)
	}
	bw.WriteByte('}')
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write chunk %s: %w", filepath.Base(path), err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close chunk %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// readChunk streams a chunk object and returns its concepts in file order.
func readChunk(path string) ([]*Concept, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := pgzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open chunk %s: %w", filepath.Base(path), err)
	}
	defer zr.Close()

	dec := json.NewDecoder(bufio.NewReader(zr))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("chunk %s: expected object", filepath.Base(path))
	}
	var out []*Concept
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", filepath.Base(path), err)
		}
		key, _ := tok.(string)
		c := &Concept{}
		if err := dec.Decode(c); err != nil {
			return nil, fmt.Errorf("chunk %s: concept %s: %w", filepath.Base(path), key, err)
		}
		if c.Code != key {
			return nil, fmt.Errorf("chunk %s: key %q holds concept %q", filepath.Base(path), key, c.Code)
		}
		out = append(out, c)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("chunk %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

func writeGzipJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zw, err := pgzip.NewWriterLevel(f, pgzip.BestSpeed)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}

func readGzipJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zr, err := pgzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer zr.Close()
	if err := json.NewDecoder(zr).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSidecar decodes an uncompressed sidecar file from a processed directory.
func ReadSidecar(dir, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

var chunkLabelReplacer = strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_")

func chunkFileLabel(label string) string {
	if label == "" {
		return "OTHER"
	}
	return chunkLabelReplacer.Replace(label)
}
