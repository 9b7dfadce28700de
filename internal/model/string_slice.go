package model

import (
	"database/sql/driver"
	"fmt"
	"slices"
	"strings"
)

// StringSlice stores a list of MIME types as a single comma separated column.

type StringSlice []string

// Value implements the driver.Valuer interface.
// MIME types never contain commas so any element that does is rejected.
func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "", nil
	}

	for _, v := range s {
		if strings.Contains(v, ",") {
			return "", fmt.Errorf("unsafe string, %s", v)
		}
	}

	return strings.Join(s, ","), nil
}

// Scan implements the sql.Scanner interface.
func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = []string{}
		return nil
	}

	str, ok := value.(string)
	if !ok {
		b, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan StringSlice, %v", value)
		}

		str = string(b)
	}

	if str == "" {
		*s = []string{}
		return nil
	}

	parts := strings.Split(str, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	*s = parts

	return nil
}

// Allows reports whether mime is accepted. An empty list accepts everything.
func (s StringSlice) Allows(mime string) bool {
	return len(s) == 0 || slices.Contains(s, mime)
}
