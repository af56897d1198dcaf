package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSV renders the frame with a header row.
func (f *Frame) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(f.columns); err != nil {
		return nil, err
	}
	row := make([]string, len(f.columns))
	for i := 0; i < f.rows; i++ {
		for j, c := range f.columns {
			row[j] = Format(f.data[c][i])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ReadDelimited parses CSV or TSV text with a header row. Cells that parse
// as numbers become float64, empty cells become nil.
func ReadDelimited(r io.Reader, comma rune) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	data := make(map[string][]interface{}, len(header))
	for _, h := range header {
		data[h] = []interface{}{}
	}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		for i, h := range header {
			var cell string
			if i < len(rec) {
				cell = strings.TrimSpace(rec[i])
			}
			data[h] = append(data[h], parseCell(cell))
		}
	}
	f, err := New(header, data)
	if err != nil {
		return nil, err
	}
	if f.Len() == 0 {
		return nil, ErrEmpty
	}
	return f, nil
}

func parseCell(s string) interface{} {
	if s == "" {
		return nil
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil {
		return x
	}
	return s
}
