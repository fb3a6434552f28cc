package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/timmy/rostersync/internal/domain"
)

// PayloadHash hashes the canonical business fields of rec.
func PayloadHash(rec domain.Canonical) string {
	return hashFields(domain.Schema(rec.Kind()).Fields, rec.Field)
}

func hashFields(fields []string, get func(string) string) string {
	names := append([]string(nil), fields...)
	sort.Strings(names)
	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s=%q\n", name, get(name))
	}
	return hex.EncodeToString(h.Sum(nil))
}
