package store

import (
	"fmt"

	"github.com/roach88/streampay/internal/ir"
)

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// parseAmount parses a base-10 TEXT column into dst.
func parseAmount(raw string, dst *ir.Amount) error {
	a, err := ir.ParseAmount(raw)
	if err != nil {
		return fmt.Errorf("corrupt amount column: %w", err)
	}
	*dst = a
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
