package stores

import (
	"time"

	"github.com/oarkflow/date"
)

// parseFlexibleTime tolerates the timestamp formats different SQL
// drivers hand back for the same column.
func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func scanTime(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func sqlNullTimeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
