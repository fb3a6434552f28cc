package bulk

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxConsecutiveErrors stops a CSV parse that cannot make progress.
const maxConsecutiveErrors = 1000

func (p *rowParser) parseCSV(r io.Reader) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			p.fail(1, "", "empty file")
		} else {
			p.fail(1, "", fmt.Sprintf("read header: %v", err))
		}
		return
	}

	columns := make([]string, len(header))
	known := 0
	for i, h := range header {
		columns[i] = canonicalColumn(p.kind, normalizeHeader(h))
		if columns[i] != "" {
			known++
		}
	}
	if known == 0 {
		p.fail(1, "", "header has no recognized columns")
		return
	}

	consecutive := 0
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			line := 0
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.Line
				if errors.Is(perr.Err, csv.ErrFieldCount) {
					err = fmt.Errorf("expected %d columns, got %d", len(columns), len(fields))
				} else {
					err = perr.Err
				}
			}
			p.fail(line, firstField(fields), err.Error())
			consecutive++
			if consecutive >= maxConsecutiveErrors {
				p.fail(line, "", "too many consecutive errors, parsing stopped")
				return
			}
			continue
		}
		consecutive = 0

		line, _ := reader.FieldPos(0)
		cols := make(map[string]string, len(columns))
		for i, name := range columns {
			if name == "" {
				continue
			}
			cols[name] = strings.TrimSpace(fields[i])
		}
		p.addRow(line, cols)
	}
}

func firstField(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimSpace(fields[0])
}
