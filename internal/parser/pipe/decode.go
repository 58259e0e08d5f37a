package pipe

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	EncodingLatin1  = "latin1"
	EncodingWin1252 = "windows-1252"
	EncodingUTF8    = "utf-8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// codepage maps an encoding name to a decoder. nil means input is UTF-8.
func codepage(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EncodingLatin1, "latin-1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1, nil
	case EncodingWin1252, "cp1252", "windows1252":
		return charmap.Windows1252, nil
	case EncodingUTF8, "utf8":
		return nil, nil
	default:
		return nil, fmt.Errorf("pipe: unsupported encoding %q", name)
	}
}

// lineDecoder converts input to UTF-8 one physical line at a time.
//
// Releases of the export are not consistent: most lines are in the declared
// codepage but some contain text that was already UTF-8 encoded. A line that
// is valid UTF-8 and not pure ASCII is passed through untouched; every other
// non-ASCII line goes through the codepage decoder. In utf-8 mode invalid
// sequences become U+FFFD.
//
// Lines are read with bufio.Reader.ReadBytes so there is no line length limit.
type lineDecoder struct {
	br      *bufio.Reader
	dec     *encoding.Decoder
	pending []byte
	err     error
	started bool
}

func newLineDecoder(r io.Reader, enc string) (io.Reader, error) {
	cp, err := codepage(enc)
	if err != nil {
		return nil, err
	}
	d := &lineDecoder{br: bufio.NewReaderSize(r, 64*1024)}
	if cp != nil {
		d.dec = cp.NewDecoder()
	}
	return d, nil
}

func (d *lineDecoder) Read(p []byte) (int, error) {
	for len(d.pending) == 0 {
		if d.err != nil {
			return 0, d.err
		}
		line, err := d.br.ReadBytes('\n')
		if !d.started {
			line = bytes.TrimPrefix(line, utf8BOM)
			d.started = true
		}
		if len(line) > 0 {
			d.pending = d.convert(line)
		}
		if err != nil {
			d.err = err
		}
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *lineDecoder) convert(line []byte) []byte {
	if isASCII(line) {
		return line
	}
	if utf8.Valid(line) {
		return line
	}
	if d.dec == nil {
		return bytes.ToValidUTF8(line, []byte("\uFFFD"))
	}
	out, err := d.dec.Bytes(line)
	if err != nil {
		return bytes.ToValidUTF8(line, []byte("\uFFFD"))
	}
	return out
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
