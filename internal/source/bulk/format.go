package bulk

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is a bulk file encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// ParseFormat accepts a format name as given on the command line or in a request.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "jsonl", "ndjson", "json":
		return FormatJSONL, nil
	}
	return "", fmt.Errorf("unsupported bulk format %q", s)
}

// FormatFromName picks the format from a file extension.
func FormatFromName(name string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot infer bulk format of %q", name)
	}
	return ParseFormat(ext)
}
