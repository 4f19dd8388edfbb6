package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/adlens/adlens/agent/internal/config"
)

// maxPreambleLines bounds how far csvSource looks for the header row.
// Report downloads start with a title line and sometimes a date-range line.
const maxPreambleLines = 10

type csvSource struct {
	src config.Source
}

// Fetch re-reads the file and returns records [p.Offset, p.Offset+p.Limit).
// The query is ignored: a file holds exactly one pre-exported report.
func (s *csvSource) Fetch(ctx context.Context, _ Query, p Page) (Batch, error) {
	f, err := os.Open(s.src.Path)
	if err != nil {
		return Batch{}, fmt.Errorf("csv %q: %w", s.src.ID, err)
	}
	defer f.Close()

	dec, err := decoderFor(s.src.Encoding)
	if err != nil {
		return Batch{}, err
	}
	r := csv.NewReader(transform.NewReader(f, dec))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if d := s.src.Delimiter; d != "" {
		if d == `\t` || d == "tab" {
			r.Comma = '\t'
		} else {
			r.Comma = []rune(d)[0]
		}
	}

	cols, err := findHeader(r)
	if err != nil {
		return Batch{}, fmt.Errorf("csv %q: %w", s.src.ID, err)
	}

	var b Batch
	for n := 0; ; n++ {
		if n%1000 == 0 && ctx.Err() != nil {
			return b, ctx.Err()
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return b, nil
		}
		if err != nil {
			return b, fmt.Errorf("csv %q: read: %w", s.src.ID, err)
		}
		if isTotalRow(rec) {
			return b, nil
		}
		if n < p.Offset {
			continue
		}
		b.Read++
		row, err := cols.Parse(rec)
		if err != nil {
			skipRow(s.src.ID, n, err)
			b.Skipped++
		} else {
			b.Rows = append(b.Rows, row)
		}
		if b.Read >= p.Limit {
			return b, nil
		}
	}
}

// findHeader reads records until one has at least two recognised columns.
func findHeader(r *csv.Reader) (*ColumnMap, error) {
	for i := 0; i < maxPreambleLines; i++ {
		rec, err := r.Read()
		if err != nil {
			return nil, fmt.Errorf("find header: %w", err)
		}
		if cols := NewColumnMap(rec); cols.Known() >= 2 {
			return cols, nil
		}
	}
	return nil, fmt.Errorf("find header: no report header in the first %d lines", maxPreambleLines)
}

func isTotalRow(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	first := strings.TrimSpace(rec[0])
	return strings.HasPrefix(first, "Total") || strings.HasPrefix(first, "合計") || strings.HasPrefix(first, "総計")
}

// decoderFor returns the transformer that converts the named encoding to
// UTF-8. Spreadsheet exports in Japan are commonly Shift_JIS; report
// downloads are UTF-16 with a BOM.
func decoderFor(name string) (transform.Transformer, error) {
	var enc encoding.Encoding
	switch strings.ToLower(strings.ReplaceAll(name, "-", "_")) {
	case "", "utf_8", "utf8":
		return unicode.BOMOverride(transform.Nop), nil
	case "shift_jis", "sjis", "cp932":
		enc = japanese.ShiftJIS
	case "euc_jp":
		enc = japanese.EUCJP
	case "utf_16", "utf16":
		enc = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	default:
		return nil, fmt.Errorf("report: unsupported encoding %q", name)
	}
	return enc.NewDecoder(), nil
}
