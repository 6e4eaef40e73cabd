package pii

import (
	"fmt"
	"strings"
)

// BlockedError is returned when the block action finds PII.
type BlockedError struct {
	// Types lists the entity types found, in catalog order.
	Types []string

	// Count is the number of findings.
	Count int
}

// Error implements the error interface.
func (e *BlockedError) Error() string {
	return fmt.Sprintf("PII detected: %d instance(s) of %s", e.Count, strings.Join(e.Types, ", "))
}
