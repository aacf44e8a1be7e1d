package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/artpar/jsonapi-server/internal/core/resources"
	"github.com/artpar/jsonapi-server/internal/core/schema"
)

// sqliteTimeLayouts are the text forms SQLite hands back for DATETIME
// columns written outside the store, e.g. by datetime('now').
var sqliteTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// decodeRow converts a scanned row into a model. Values are keyed by
// field name; BelongsTo fields hold the related id as a string.
func decodeRow(sch *schema.Schema, row map[string]any) *resources.Model {
	for key, val := range row {
		if b, ok := val.([]byte); ok {
			row[key] = string(b)
		}
	}

	m := resources.NewModel(sch.Type, idString(row["id"]))
	for _, f := range sch.Fields {
		column := f.Column()
		if f.Kind == schema.KindID || column == "" {
			continue
		}
		v, ok := row[column]
		if !ok {
			continue
		}

		switch f.Kind {
		case schema.KindBoolean:
			m.Values[f.Name] = toBool(v)
		case schema.KindDateTime:
			m.Values[f.Name] = formatTime(v)
		case schema.KindBelongsTo:
			if v == nil {
				m.Values[f.Name] = nil
			} else {
				m.Values[f.Name] = idString(v)
			}
		default:
			m.Values[f.Name] = v
		}
	}
	return m
}

func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(id, 10)
	case int:
		return strconv.Itoa(id)
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case string:
		return id
	case []byte:
		return string(id)
	default:
		return fmt.Sprint(id)
	}
}

func toBool(v any) any {
	switch val := v.(type) {
	case int64:
		return val != 0
	case int:
		return val != 0
	case float64:
		return val != 0
	case bool:
		return val
	case string:
		return val == "1" || val == "true"
	}
	return v
}

// formatTime renders DATETIME values as RFC 3339 in UTC. mattn/go-sqlite3
// returns time.Time for declared DATETIME columns and text otherwise.
func formatTime(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case string:
		if t, ok := parseTime(val); ok {
			return t.UTC().Format(time.RFC3339)
		}
		return val
	}
	return v
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
