package store

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/deskline-ops/triagebot/internal/apperr"
	"github.com/deskline-ops/triagebot/internal/clock"
)

// tableColumns reports the column names present on a table, via
// PRAGMA table_info. Used to detect pre-department legacy schemas without
// hard failing on sqlite versions or fixtures that never had them.
func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(`+table+`)`)
	if err != nil {
		return nil, apperr.Storagef(err, "inspect table %s", table)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, apperr.Storagef(err, "scan table_info row for %s", table)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// migrateLegacyTierSchema detects the tier-based incident columns from the
// schema this service superseded (claimed_by_t1_id, claimed_by_t2_id,
// t_escalated, tier) and folds them into the department model:
// Unclaimed/Claimed_T1 -> Awaiting_Claim/In_Progress against "Dispatchers",
// Escalated_*/Claimed_T2 -> Awaiting_Claim/In_Progress against "Operations".
func (s *Store) migrateLegacyTierSchema() error {
	ctx := context.Background()
	cols, err := s.tableColumns(ctx, "incidents")
	if err != nil {
		return err
	}
	if !cols["claimed_by_t1_id"] && !cols["claimed_by_t2_id"] && !cols["t_escalated"] && !cols["tier"] {
		return nil
	}
	log.Info().Msg("legacy tier-based incident schema detected, migrating to department model")

	// Departments must exist before we can point legacy rows at them.
	if err := s.seedDefaultDepartments(ctx); err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT incident_id, company_id, status, claimed_by_t1_id, claimed_by_t2_id FROM incidents
	`)
	if err != nil {
		return apperr.Storagef(err, "scan legacy incidents")
	}
	type legacyRow struct {
		incidentID string
		companyID  int64
		status     string
		t1, t2     sql.NullString
	}
	var legacyRows []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.incidentID, &r.companyID, &r.status, &r.t1, &r.t2); err != nil {
			rows.Close()
			return apperr.Storagef(err, "scan legacy incident row")
		}
		legacyRows = append(legacyRows, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range legacyRows {
		tier2 := r.status == "Escalated_Unclaimed_T2" || r.status == "Claimed_T2" || r.t2.Valid
		deptName := "Dispatchers"
		claimant := r.t1
		if tier2 {
			deptName = "Operations"
			claimant = r.t2
		}
		dept, err := s.getDepartmentByName(ctx, r.companyID, deptName)
		if err != nil {
			return err
		}

		newStatus := AwaitingClaim
		if claimant.Valid && claimant.String != "" {
			newStatus = InProgress
		}

		if err := s.WriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if err := s.SetIncidentDepartmentTx(ctx, tx, r.incidentID, dept.ID, clock.Now()); err != nil {
				return err
			}
			if err := s.SetIncidentStatusTx(ctx, tx, r.incidentID, newStatus); err != nil {
				return err
			}
			if claimant.Valid && claimant.String != "" {
				at := clock.Now()
				if err := s.InsertClaimTx(ctx, tx, r.incidentID, claimant.String, dept.ID, at); err != nil {
					return err
				}
				if err := s.UpsertParticipantActiveTx(ctx, tx, r.incidentID, claimant.String, dept.ID, at); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}

	if err := s.migrateLegacyParticipants(ctx); err != nil {
		return err
	}

	for _, stmt := range []string{
		`ALTER TABLE incidents DROP COLUMN claimed_by_t1_id`,
		`ALTER TABLE incidents DROP COLUMN claimed_by_t2_id`,
		`ALTER TABLE incidents DROP COLUMN t_escalated`,
		`ALTER TABLE incidents DROP COLUMN tier`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			log.Debug().Err(err).Str("stmt", stmt).Msg("legacy column drop skipped")
		}
	}
	return nil
}

// migrateLegacyParticipants rewrites tiered participant rows (keyed by a
// "tier" column rather than a department id) into department-neutral rows.
func (s *Store) migrateLegacyParticipants(ctx context.Context) error {
	cols, err := s.tableColumns(ctx, "participants")
	if err != nil {
		return err
	}
	if !cols["tier"] {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, i.company_id, p.tier FROM participants p
		JOIN incidents i ON i.incident_id = p.incident_id
		WHERE p.department_id IS NULL AND p.tier IS NOT NULL
	`)
	if err != nil {
		return apperr.Storagef(err, "scan legacy participant rows")
	}
	type row struct {
		id        int64
		companyID int64
		tier      string
	}
	var legacyRows []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.companyID, &r.tier); err != nil {
			rows.Close()
			return apperr.Storagef(err, "scan legacy participant row")
		}
		legacyRows = append(legacyRows, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range legacyRows {
		deptName := "Dispatchers"
		if r.tier == "2" || r.tier == "T2" {
			deptName = "Operations"
		}
		dept, err := s.getDepartmentByName(ctx, r.companyID, deptName)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE participants SET department_id = ? WHERE id = ?`, dept.ID, r.id); err != nil {
			return apperr.Storagef(err, "rewrite legacy participant %d", r.id)
		}
	}

	if _, err := s.db.Exec(`ALTER TABLE participants DROP COLUMN tier`); err != nil {
		log.Debug().Err(err).Msg("legacy participant tier column drop skipped")
	}
	return nil
}

func (s *Store) getDepartmentByName(ctx context.Context, companyID int64, name string) (*Department, error) {
	var d Department
	err := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, name, restricted_to_department_members FROM departments WHERE company_id = ? AND name = ?`,
		companyID, name,
	).Scan(&d.ID, &d.CompanyID, &d.Name, &d.RestrictedToDepartmentMember)
	if err == sql.ErrNoRows {
		return s.CreateDepartment(ctx, companyID, name, false)
	}
	if err != nil {
		return nil, apperr.Storagef(err, "get department %q for company %d", name, companyID)
	}
	return &d, nil
}
