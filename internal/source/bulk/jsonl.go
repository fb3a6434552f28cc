package bulk

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
)

const maxLineSize = 4 * 1024 * 1024

func (p *rowParser) parseJSONL(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			p.fail(line, "", fmt.Sprintf("invalid json: %v", err))
			continue
		}

		cols := make(map[string]string, len(obj))
		exact := make(map[string]bool, len(obj))
		bad := ""
		for _, key := range slices.Sorted(maps.Keys(obj)) {
			v := obj[key]
			header := normalizeHeader(key)
			name := canonicalColumn(p.kind, header)
			if name == "" || v == nil {
				continue
			}
			s, ok := jsonScalar(v)
			if !ok {
				bad = key
				break
			}
			// the canonical key beats any alias for the same column
			if exact[name] {
				continue
			}
			if header == name {
				exact[name] = true
			} else if _, seen := cols[name]; seen {
				continue
			}
			cols[name] = strings.TrimSpace(s)
		}
		if bad != "" {
			p.fail(line, cols[columnExternalID], fmt.Sprintf("%s: unsupported value type", bad))
			continue
		}
		p.addRow(line, cols)
	}
	if err := scanner.Err(); err != nil {
		p.fail(line+1, "", fmt.Sprintf("read: %v", err))
	}
}

func jsonScalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}
