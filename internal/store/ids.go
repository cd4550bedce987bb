package store

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

// trailingDigits extracts the last contiguous run of digits in an incident
// id, accepting legacy formats like "TKT-2023-0042" whose suffix is the
// numeric part that matters for allocation (spec.md §4.1/§6.3).
var trailingDigits = regexp.MustCompile(`(\d+)\D*$`)

func suffixOf(incidentID string) (int, bool) {
	m := trailingDigits.FindStringSubmatch(incidentID)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// nextIncidentID returns the smallest unused 4-digit (or wider, once the
// suffix exceeds 9999) zero-padded id strictly greater than the maximum
// numeric suffix across all stored incident ids. Must be called with the
// writer lock held (from inside WriteTx).
func nextIncidentID(ctx context.Context, tx dbtx) (string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT incident_id FROM incidents`)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	max := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		if n, ok := suffixOf(id); ok && n > max {
			max = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	next := max + 1
	if next > 9999 {
		return fmt.Sprintf("%d", next), nil
	}
	return fmt.Sprintf("%04d", next), nil
}
