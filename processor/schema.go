package processor

import (
	"fmt"
	"strings"

	"fixturefeed/models"
)

// MissingColumnsError lists every required column absent from the feed
// header, in schema order.
type MissingColumnsError struct {
	SchemaVersion string
	Missing       []string
}

func (e *MissingColumnsError) Error() string {
	quoted := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		quoted[i] = fmt.Sprintf("%q", m)
	}
	return fmt.Sprintf("missing required columns: [%s]", strings.Join(quoted, ", "))
}

// ValidateColumns checks that every schema column appears verbatim in
// columns. Extra columns are allowed.
func ValidateColumns(columns []string, schema models.Schema) error {
	missing := schema.Missing(columns)
	if len(missing) == 0 {
		return nil
	}
	return &MissingColumnsError{SchemaVersion: schema.Version, Missing: missing}
}
