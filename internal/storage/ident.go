package storage

import (
	"errors"
	"fmt"
	"regexp"

	"powerdash/internal/schema"
)

// TablePrefix prefixes every dynamic table name.
const TablePrefix = "ds_"

// ErrInvalidIdent is returned by ValidateIdent.
var ErrInvalidIdent = errors.New("storage: invalid identifier")

var identRE = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidateIdent is the single gate every table or column name passes before
// it is concatenated into SQL text.
func ValidateIdent(name string) error {
	if !identRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdent, name)
	}
	return nil
}

// TableName derives the dynamic table name for a data source id. The result
// still has to pass ValidateIdent before use.
func TableName(dataSourceID string) string {
	return TablePrefix + schema.Normalize(dataSourceID)
}
