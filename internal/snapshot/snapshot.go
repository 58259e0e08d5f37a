// Package snapshot inspects an extracted export directory and records what it
// found in a manifest: per-file size, line count, SHA-256 and header fields.
//
// The manifest is the header snapshot the alias dictionary is built from, and
// a cheap way to tell whether two releases differ before loading anything.
package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"welletl/internal/parser/pipe"
)

// FileSummary describes one source file.
type FileSummary struct {
	Name         string   `json:"name"`
	SizeBytes    int64    `json:"size_bytes"`
	LineCount    int64    `json:"line_count"`
	SHA256       string   `json:"sha256"`
	HeaderFields []string `json:"header_fields"`
	SamplePath   string   `json:"sample_path,omitempty"`
}

// Manifest is the JSON document written by Inspect.
type Manifest struct {
	FetchedAt string        `json:"fetched_at"`
	ZipSHA256 *string       `json:"zip_sha256"`
	Files     []FileSummary `json:"files"`
}

// Headers returns file name -> header fields.
func (m Manifest) Headers() map[string][]string {
	out := make(map[string][]string, len(m.Files))
	for _, f := range m.Files {
		out[f.Name] = f.HeaderFields
	}
	return out
}

// Options configures Inspect.
type Options struct {
	// SamplesDir receives <base>.head.txt files with the first SampleLines
	// data lines of each file, byte for byte. Empty disables samples.
	SamplesDir  string
	SampleLines int

	// ZipPath, when set and present, is hashed into Manifest.ZipSHA256.
	ZipPath string

	// Workers bounds concurrent file inspection. <= 0 means 4.
	Workers int

	// Reader controls header decoding.
	Reader pipe.Options

	// Now stamps FetchedAt. nil means time.Now.
	Now func() time.Time

	Logger *zap.Logger
}

// FindFiles returns the *.txt files directly under dir, or, if there are
// none, every *.txt file below dir. The extension match is case-insensitive.
// Results are sorted.
func FindFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && isTxt(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	if len(out) > 0 {
		sort.Strings(out)
		return out, nil
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isTxt(d.Name()) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: walk: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

func isTxt(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".txt")
}

// Inspect summarizes every file FindFiles returns under dir. Files are
// processed concurrently; the manifest lists them sorted by name.
func Inspect(ctx context.Context, dir string, opt Options) (Manifest, error) {
	log := opt.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	workers := opt.Workers
	if workers <= 0 {
		workers = 4
	}
	if opt.Reader.Delimiter == 0 {
		opt.Reader = pipe.DefaultOptions()
	}

	files, err := FindFiles(dir)
	if err != nil {
		return Manifest{}, err
	}
	if opt.SamplesDir != "" {
		if err := os.MkdirAll(opt.SamplesDir, 0o755); err != nil {
			return Manifest{}, fmt.Errorf("snapshot: samples dir: %w", err)
		}
	}

	summaries := make([]FileSummary, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := summarize(path, opt)
			if err != nil {
				return err
			}
			summaries[i] = s
			log.Debug("inspected file",
				zap.String("file", s.Name),
				zap.Int64("lines", s.LineCount),
				zap.Int("columns", len(s.HeaderFields)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Manifest{}, err
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })

	m := Manifest{
		FetchedAt: now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Files:     summaries,
	}
	if opt.ZipPath != "" {
		if _, err := os.Stat(opt.ZipPath); err == nil {
			sum, _, err := hashFile(opt.ZipPath)
			if err != nil {
				return Manifest{}, err
			}
			m.ZipSHA256 = &sum
		}
	}
	log.Info("snapshot complete", zap.Int("files", len(summaries)))
	return m, nil
}

func summarize(path string, opt Options) (FileSummary, error) {
	name := filepath.Base(path)
	st, err := os.Stat(path)
	if err != nil {
		return FileSummary{}, fmt.Errorf("snapshot: stat %s: %w", name, err)
	}
	sum, lines, err := hashFile(path)
	if err != nil {
		return FileSummary{}, err
	}

	var header []string
	r, err := pipe.Open(path, opt.Reader)
	switch {
	case err == nil:
		header = append([]string(nil), r.Header()...)
		_ = r.Close()
	case errors.Is(err, pipe.ErrEmptyFile):
		header = []string{}
	default:
		return FileSummary{}, fmt.Errorf("snapshot: %w", err)
	}

	s := FileSummary{
		Name:         name,
		SizeBytes:    st.Size(),
		LineCount:    lines,
		SHA256:       sum,
		HeaderFields: header,
	}
	if opt.SamplesDir != "" && opt.SampleLines > 0 {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		dst := filepath.Join(opt.SamplesDir, base+".head.txt")
		if err := writeHead(path, dst, opt.SampleLines); err != nil {
			return FileSummary{}, err
		}
		s.SamplePath = dst
	}
	return s, nil
}

// hashFile returns the hex SHA-256 and the number of '\n' bytes in one pass.
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 1<<20)
	var lines int64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			lines += int64(bytes.Count(buf[:n], []byte{'\n'}))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("snapshot: read %s: %w", path, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), lines, nil
}

// writeHead copies up to n lines following the header from src to dst.
func writeHead(src, dst string, n int) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("snapshot: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("snapshot: create sample: %w", err)
	}
	br := bufio.NewReader(in)
	bw := bufio.NewWriter(out)

	if _, err := br.ReadBytes('\n'); err != nil && err != io.EOF {
		_ = out.Close()
		return fmt.Errorf("snapshot: sample %s: %w", src, err)
	}
	for written := 0; written < n; written++ {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := bw.Write(line); werr != nil {
				_ = out.Close()
				return fmt.Errorf("snapshot: sample write: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = out.Close()
			return fmt.Errorf("snapshot: sample %s: %w", src, err)
		}
	}
	if err := bw.Flush(); err != nil {
		_ = out.Close()
		return fmt.Errorf("snapshot: sample flush: %w", err)
	}
	return out.Close()
}

// WriteManifest writes m as indented JSON via a temp file and rename.
func WriteManifest(path string, m Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode manifest: %w", err)
	}
	b = append(b, '\n')
	return WriteFileAtomic(path, b)
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("snapshot: decode manifest: %w", err)
	}
	return m, nil
}

// WriteFileAtomic writes b to path.tmp and renames it over path.
func WriteFileAtomic(path string, b []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("snapshot: mkdir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("snapshot: rename %s: %w", tmp, err)
	}
	return nil
}
