package provider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/timmy/rostersync/internal/domain"
)

// envelope is the provider list response body.
type envelope struct {
	Data       json.RawMessage `json:"data"`
	NextCursor *string         `json:"next_cursor"`
	Meta       *struct {
		NextCursor string `json:"next_cursor"`
	} `json:"meta"`
	Links *struct {
		Next string `json:"next"`
	} `json:"links"`
}

// wireFields maps a canonical field to the provider keys that may carry it,
// in lookup order.
var wireFields = map[domain.EntityKind]map[string][]string{
	domain.EntityPerson: {
		domain.FieldEmail:       {"email"},
		domain.FieldGivenName:   {"given_name", "first_name"},
		domain.FieldFamilyName:  {"family_name", "last_name"},
		domain.FieldDisplayName: {"display_name", "name"},
		domain.FieldRole:        {"role"},
		domain.FieldStatus:      {"status"},
	},
	domain.EntityCourse: {
		domain.FieldCode:        {"code", "course_code"},
		domain.FieldTitle:       {"title", "name"},
		domain.FieldDescription: {"description"},
		domain.FieldStartsOn:    {"starts_on", "start_date"},
		domain.FieldEndsOn:      {"ends_on", "end_date"},
		domain.FieldStatus:      {"status"},
	},
	domain.EntityEnrollment: {
		domain.FieldPersonExternalID: {"person_external_id", "person_id", "user_id"},
		domain.FieldCourseExternalID: {"course_external_id", "course_id"},
		domain.FieldRole:             {"role"},
		domain.FieldStatus:           {"status"},
		domain.FieldEnrolledAt:       {"enrolled_at"},
	},
	domain.EntityContentCompletion: {
		domain.FieldPersonExternalID: {"person_external_id", "person_id", "user_id"},
		domain.FieldCourseExternalID: {"course_external_id", "course_id"},
		domain.FieldContentID:        {"content_id"},
		domain.FieldStatus:           {"status"},
		domain.FieldScore:            {"score"},
		domain.FieldCompletedAt:      {"completed_at"},
	},
}

// decodePage parses a list response into raw items and the next cursor.
func decodePage(body []byte) ([]map[string]any, string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, "", fmt.Errorf("decode body: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, "", errors.New("missing data array")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var items []map[string]any
	if err := dec.Decode(&items); err != nil {
		return nil, "", fmt.Errorf("decode data: %w", err)
	}

	var next string
	switch {
	case env.NextCursor != nil && *env.NextCursor != "":
		next = *env.NextCursor
	case env.Meta != nil && env.Meta.NextCursor != "":
		next = env.Meta.NextCursor
	case env.Links != nil && env.Links.Next != "":
		next = env.Links.Next
	}
	return items, next, nil
}

// decodeRecord maps one provider item to a raw record. Field values that
// cannot be decoded mark the record invalid instead of failing the page.
func decodeRecord(kind domain.EntityKind, item map[string]any, observedAt time.Time) (*domain.RawRecord, error) {
	rec, err := domain.NewRawRecord(kind, domain.DataSourceProvider, observedAt)
	if err != nil {
		return nil, err
	}
	for _, key := range []string{"id", "external_id"} {
		if s, ok := scalar(item[key]); ok && s != "" {
			rec.ExternalID = strings.TrimSpace(s)
			break
		}
	}
	if rec.ExternalID == "" {
		rec.Invalid = "missing external id"
	}

	aliases := wireFields[kind]
	for _, field := range domain.Schema(kind).Fields {
		for _, key := range aliases[field] {
			v, present := item[key]
			if !present || v == nil {
				continue
			}
			s, ok := scalar(v)
			if !ok {
				rec.MarkInvalid(fmt.Sprintf("%s: unsupported value type", key))
			} else if err := rec.Set(field, s); err != nil {
				rec.MarkInvalid(err.Error())
			}
			break
		}
	}
	return rec, nil
}

func scalar(v any) (string, bool) {
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

// linkNext extracts the rel="next" target from an RFC 5988 Link header.
func linkNext(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			param = strings.TrimSpace(param)
			if strings.EqualFold(param, `rel="next"`) || strings.EqualFold(param, "rel=next") {
				return strings.Trim(target, "<>")
			}
		}
	}
	return ""
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
