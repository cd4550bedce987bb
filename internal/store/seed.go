package store

import (
	"context"

	"github.com/deskline-ops/triagebot/internal/apperr"
)

// seedDefaultDepartments ensures every company has at least one department,
// seeding "Dispatchers" and "Operations" for any company that has none:
// companies carried over from a schema that predates departments (at Open)
// and newly created ones (from GetOrCreateCompany).
func (s *Store) seedDefaultDepartments(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM companies`)
	if err != nil {
		return apperr.Storagef(err, "list companies for department seeding")
	}
	var companyIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return apperr.Storagef(err, "scan company id")
		}
		companyIDs = append(companyIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, companyID := range companyIDs {
		depts, err := s.ListDepartments(ctx, companyID)
		if err != nil {
			return err
		}
		if len(depts) > 0 {
			continue
		}
		if _, err := s.CreateDepartment(ctx, companyID, "Dispatchers", false); err != nil {
			return err
		}
		if _, err := s.CreateDepartment(ctx, companyID, "Operations", false); err != nil {
			return err
		}
	}
	return nil
}
