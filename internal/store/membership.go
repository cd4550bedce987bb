package store

import (
	"context"
	"database/sql"

	"github.com/deskline-ops/triagebot/internal/apperr"
	"github.com/deskline-ops/triagebot/internal/clock"
)

// GetOrCreateCompany returns the company with the given name, creating it
// (with the default "Dispatchers" and "Operations" departments) if absent.
func (s *Store) GetOrCreateCompany(ctx context.Context, name string) (*Company, error) {
	var c Company
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM companies WHERE name = ?`, name).Scan(&c.ID, &c.Name)
	if err == nil {
		return &c, nil
	}
	if err != sql.ErrNoRows {
		return nil, apperr.Storagef(err, "lookup company %q", name)
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO companies (name) VALUES (?)`, name)
	if err != nil {
		return nil, apperr.Storagef(err, "create company %q", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Storagef(err, "read new company id")
	}
	if err := s.seedDefaultDepartments(ctx); err != nil {
		return nil, err
	}
	return &Company{ID: id, Name: name}, nil
}

// GetCompany fetches a company by id.
func (s *Store) GetCompany(ctx context.Context, id int64) (*Company, error) {
	var c Company
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM companies WHERE id = ?`, id).Scan(&c.ID, &c.Name)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("company %d not found", id)
	}
	if err != nil {
		return nil, apperr.Storagef(err, "get company %d", id)
	}
	return &c, nil
}

// CreateGroup creates a new group in pending status, attached to company.
func (s *Store) CreateGroup(ctx context.Context, companyID int64, chatRef string) (*Group, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (company_id, chat_ref, status) VALUES (?, ?, ?)`,
		companyID, chatRef, GroupPending)
	if err != nil {
		return nil, apperr.Storagef(err, "create group %q", chatRef)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Storagef(err, "read new group id")
	}
	return &Group{ID: id, CompanyID: companyID, ChatRef: chatRef, Status: GroupPending}, nil
}

// ActivateGroup transitions a pending group to active. Hands the
// already-activated group to the lifecycle core per spec.md §1's scope
// boundary with group onboarding.
func (s *Store) ActivateGroup(ctx context.Context, groupID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE groups SET status = ? WHERE id = ?`, GroupActive, groupID)
	if err != nil {
		return apperr.Storagef(err, "activate group %d", groupID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storagef(err, "read rows affected activating group %d", groupID)
	}
	if n == 0 {
		return apperr.NotFoundf("group %d not found", groupID)
	}
	return nil
}

// GetGroupByChatRef looks up a group by its platform chat reference.
func (s *Store) GetGroupByChatRef(ctx context.Context, chatRef string) (*Group, error) {
	var g Group
	err := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, chat_ref, status FROM groups WHERE chat_ref = ?`, chatRef,
	).Scan(&g.ID, &g.CompanyID, &g.ChatRef, &g.Status)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("group %q not found", chatRef)
	}
	if err != nil {
		return nil, apperr.Storagef(err, "get group %q", chatRef)
	}
	return &g, nil
}

// GetGroup fetches a group by id.
func (s *Store) GetGroup(ctx context.Context, id int64) (*Group, error) {
	var g Group
	err := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, chat_ref, status FROM groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.CompanyID, &g.ChatRef, &g.Status)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("group %d not found", id)
	}
	if err != nil {
		return nil, apperr.Storagef(err, "get group %d", id)
	}
	return &g, nil
}

// UpsertGroupMember records (group, user) membership, activating it.
func (s *Store) UpsertGroupMember(ctx context.Context, groupID int64, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, is_active) VALUES (?, ?, 1)
		ON CONFLICT(group_id, user_id) DO UPDATE SET is_active = 1
	`, groupID, userID)
	if err != nil {
		return apperr.Storagef(err, "upsert group member %d/%s", groupID, userID)
	}
	return nil
}

// GroupMembershipFor answers "(group, user) -> {group, company, is_active}"
// per spec.md §4.2's required membership query.
func (s *Store) GroupMembershipFor(ctx context.Context, groupID int64, userID string) (*GroupMembership, error) {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	var isMember bool
	err = s.db.QueryRowContext(ctx,
		`SELECT is_active FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID,
	).Scan(&isMember)
	if err == sql.ErrNoRows {
		return &GroupMembership{GroupID: g.ID, CompanyID: g.CompanyID, GroupStatus: g.Status, IsMember: false}, nil
	}
	if err != nil {
		return nil, apperr.Storagef(err, "get group membership %d/%s", groupID, userID)
	}
	return &GroupMembership{GroupID: g.ID, CompanyID: g.CompanyID, GroupStatus: g.Status, IsMember: isMember}, nil
}

// CreateDepartment creates a department inside a company.
func (s *Store) CreateDepartment(ctx context.Context, companyID int64, name string, restricted bool) (*Department, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO departments (company_id, name, restricted_to_department_members) VALUES (?, ?, ?)`,
		companyID, name, restricted)
	if err != nil {
		return nil, apperr.Storagef(err, "create department %q", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Storagef(err, "read new department id")
	}
	return &Department{ID: id, CompanyID: companyID, Name: name, RestrictedToDepartmentMember: restricted}, nil
}

// GetDepartment fetches a department by id.
func (s *Store) GetDepartment(ctx context.Context, id int64) (*Department, error) {
	var d Department
	err := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, name, restricted_to_department_members FROM departments WHERE id = ?`, id,
	).Scan(&d.ID, &d.CompanyID, &d.Name, &d.RestrictedToDepartmentMember)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("department %d not found", id)
	}
	if err != nil {
		return nil, apperr.Storagef(err, "get department %d", id)
	}
	return &d, nil
}

// ListDepartments returns every department belonging to a company.
func (s *Store) ListDepartments(ctx context.Context, companyID int64) ([]Department, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, name, restricted_to_department_members FROM departments WHERE company_id = ? ORDER BY name`,
		companyID)
	if err != nil {
		return nil, apperr.Storagef(err, "list departments for company %d", companyID)
	}
	defer rows.Close()

	var out []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.CompanyID, &d.Name, &d.RestrictedToDepartmentMember); err != nil {
			return nil, apperr.Storagef(err, "scan department row")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AddDepartmentMember adds a user to a department's member set.
func (s *Store) AddDepartmentMember(ctx context.Context, departmentID int64, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO department_members (department_id, user_id) VALUES (?, ?)
		ON CONFLICT(department_id, user_id) DO NOTHING
	`, departmentID, userID)
	if err != nil {
		return apperr.Storagef(err, "add department member %d/%s", departmentID, userID)
	}
	return nil
}

// IsDepartmentMember reports whether userID belongs to departmentID.
func (s *Store) IsDepartmentMember(ctx context.Context, departmentID int64, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM department_members WHERE department_id = ? AND user_id = ?`, departmentID, userID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperr.Storagef(err, "check department membership %d/%s", departmentID, userID)
	}
	return true, nil
}

// DepartmentRoster returns the handles of every member of a department,
// joined against the users table (falling back to the raw user id when a
// handle has never been recorded).
func (s *Store) DepartmentRoster(ctx context.Context, departmentID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dm.user_id, COALESCE(NULLIF(u.handle, ''), dm.user_id)
		FROM department_members dm
		LEFT JOIN users u ON u.id = dm.user_id
		WHERE dm.department_id = ?
		ORDER BY dm.user_id
	`, departmentID)
	if err != nil {
		return nil, apperr.Storagef(err, "list department roster %d", departmentID)
	}
	defer rows.Close()

	var handles []string
	for rows.Next() {
		var userID, handle string
		if err := rows.Scan(&userID, &handle); err != nil {
			return nil, apperr.Storagef(err, "scan roster row")
		}
		handles = append(handles, handle)
	}
	return handles, rows.Err()
}

// UpsertUser records or refreshes a platform user's display fields.
func (s *Store) UpsertUser(ctx context.Context, id, handle, displayName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, handle, display_name, last_seen_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET handle = excluded.handle, display_name = excluded.display_name, last_seen_at = excluded.last_seen_at
	`, id, handle, displayName, clock.Now())
	if err != nil {
		return apperr.Storagef(err, "upsert user %s", id)
	}
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, handle, display_name, global_role, last_seen_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Handle, &u.DisplayName, &u.GlobalRole, &u.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("user %s not found", id)
	}
	if err != nil {
		return nil, apperr.Storagef(err, "get user %s", id)
	}
	return &u, nil
}
