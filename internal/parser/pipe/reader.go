// Package pipe reads the legacy pipe-delimited export format.
//
// The first record is the header. Every subsequent record is repaired to the
// header width (short rows are padded with "", long rows are truncated) and
// the repair is counted in Stats, never reported as an error. Field size is
// unbounded: the reader grows its buffers as needed and never truncates a
// multi-megabyte free-text field.
//
// The export has no quoting convention. One physical line is one record and
// double quotes are ordinary bytes, so `"x"` is kept as `"x"` and a quote can
// never join two lines.
package pipe

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrEmptyFile is returned by Open/NewReader when the input has no header row.
	ErrEmptyFile = errors.New("pipe: empty file")

	// ErrNotSeekable is returned by Reset when the underlying reader cannot seek.
	ErrNotSeekable = errors.New("pipe: reader is not seekable")
)

// Options controls how a file is decoded and split.
type Options struct {
	// Delimiter separates fields. Zero means '|'.
	Delimiter rune

	// Encoding names the single-byte codepage of the export: "latin1"
	// (default), "windows-1252" or "utf-8". See newLineDecoder for how lines
	// that are already UTF-8 are treated.
	Encoding string

	// TrimSpace trims surrounding whitespace from header and data fields.
	TrimSpace bool
}

// DefaultOptions matches the published export: '|' delimited, latin-1,
// trimmed fields.
func DefaultOptions() Options {
	return Options{
		Delimiter: '|',
		Encoding:  EncodingLatin1,
		TrimSpace: true,
	}
}

// Stats counts the repairs applied while reading. Rows counts data rows
// returned by Next (repaired or not).
type Stats struct {
	Rows      int64
	ShortRows int64
	LongRows  int64
}

// Repaired is the number of rows whose shape had to be fixed.
func (s Stats) Repaired() int64 { return s.ShortRows + s.LongRows }

// Reader yields header-width rows from one delimited file.
//
// When to use:
//   - Open a file by path with Open; wrap an existing stream with NewReader.
//   - Call Next until it returns io.EOF. Reset rewinds to the first data row.
//
// Edge cases:
//   - Blank lines are skipped.
//   - A UTF-8 byte order mark on the header is removed.
//   - A trailing "\r" is stripped, so CRLF files read like LF files.
//
// Concurrency:
//   - A Reader is not safe for concurrent use.
type Reader struct {
	src    io.Reader
	closer io.Closer
	opt    Options

	br     *bufio.Reader
	sep    string
	header []string
	stats  Stats
	phys   int
	line   int
}

// Open opens path and reads its header row.
func Open(path string, opt Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pipe: open %s: %w", path, err)
	}
	r, err := newReader(f, f, opt)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("pipe: %s: %w", path, err)
	}
	return r, nil
}

// NewReader reads the header row from src. Reset only works if src also
// implements io.Seeker.
func NewReader(src io.Reader, opt Options) (*Reader, error) {
	var c io.Closer
	if rc, ok := src.(io.Closer); ok {
		c = rc
	}
	return newReader(src, c, opt)
}

func newReader(src io.Reader, c io.Closer, opt Options) (*Reader, error) {
	if opt.Delimiter == 0 {
		opt.Delimiter = '|'
	}
	r := &Reader{src: src, closer: c, opt: opt}
	if err := r.start(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) start() error {
	dec, err := newLineDecoder(r.src, r.opt.Encoding)
	if err != nil {
		return err
	}
	r.br = bufio.NewReaderSize(dec, 64*1024)
	r.sep = string(r.opt.Delimiter)
	r.phys, r.line = 0, 0

	line, err := r.readLine()
	if err == io.EOF {
		return ErrEmptyFile
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	hdr := strings.Split(line, r.sep)
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if r.opt.TrimSpace {
			h = strings.TrimSpace(h)
		}
		hdr[i] = h
	}
	r.header = hdr
	return nil
}

// readLine returns the next non-blank physical line without its terminator.
func (r *Reader) readLine() (string, error) {
	for {
		line, err := r.br.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		if line == "" && err == io.EOF {
			return "", io.EOF
		}
		r.phys++
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			if err == io.EOF {
				return "", io.EOF
			}
			continue
		}
		r.line = r.phys
		return line, nil
	}
}

// Header returns the header row. The slice must not be modified.
func (r *Reader) Header() []string { return r.header }

// Stats returns the repair counters accumulated since the last Reset.
func (r *Reader) Stats() Stats { return r.stats }

// Line is the 1-based input line of the last record returned by Next.
func (r *Reader) Line() int { return r.line }

// Next returns the next data row, exactly len(Header()) fields wide. It
// returns io.EOF after the last row. Each returned slice is freshly allocated
// and may be retained by the caller.
func (r *Reader) Next() ([]string, error) {
	line, err := r.readLine()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("pipe: read: %w", err)
	}

	width := len(r.header)
	rec := strings.Split(line, r.sep)
	switch {
	case len(rec) < width:
		r.stats.ShortRows++
	case len(rec) > width:
		r.stats.LongRows++
	}

	row := make([]string, width)
	n := copy(row, rec)
	if r.opt.TrimSpace {
		for i := 0; i < n; i++ {
			row[i] = strings.TrimSpace(row[i])
		}
	}
	r.stats.Rows++
	return row, nil
}

// Reset rewinds to the first data row and clears Stats.
func (r *Reader) Reset() error {
	s, ok := r.src.(io.Seeker)
	if !ok {
		return ErrNotSeekable
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("pipe: rewind: %w", err)
	}
	r.stats = Stats{}
	return r.start()
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
