// Package roles maps (group, user, incident) onto the capability set the
// router must check before handing a mutation to the lifecycle engine.
package roles

import (
	"context"
	"fmt"

	"github.com/deskline-ops/triagebot/internal/apperr"
	"github.com/deskline-ops/triagebot/internal/store"
)

// Capability names an action a user may attempt on an incident.
type Capability string

const (
	SelectDepartment Capability = "select_department"
	Claim            Capability = "claim"
	Release          Capability = "release"
	Resolve          Capability = "resolve"
	ChangeDepartment Capability = "change_department"
	TransferTo       Capability = "transfer_to"
)

// Decision is the result of a capability check: Allow plus a machine-stable
// Reason for logging and for the alert text the router surfaces on denial.
type Decision struct {
	Allow  bool
	Reason string
}

func allow(reason string) Decision { return Decision{Allow: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allow: false, Reason: reason} }

// Resolver evaluates capabilities against group, department, and reporter
// membership loaded from the store. It holds no state of its own.
type Resolver struct {
	store *store.Store
}

func NewResolver(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// Can reports whether user may perform cap on inc within group. The
// incident's current department (if any) governs claim/release/resolve;
// group activation gates everything; reporter identity gates the initial
// department selection; membership of the current department gates
// transfers (restricted_to_department_members is not consulted).
func (r *Resolver) Can(ctx context.Context, groupID int64, userID string, inc *store.Incident, cap Capability) (Decision, error) {
	membership, err := r.store.GroupMembershipFor(ctx, groupID, userID)
	if err != nil {
		return Decision{}, err
	}
	if membership.GroupStatus != store.GroupActive {
		return deny("group_not_active"), nil
	}

	switch cap {
	case SelectDepartment:
		return r.canSelectDepartment(inc, userID)
	case Claim, Release, Resolve:
		return r.canActOnCurrentDepartment(ctx, inc, userID, cap)
	case ChangeDepartment, TransferTo:
		return r.canChangeDepartment(ctx, inc, userID)
	default:
		return deny(fmt.Sprintf("unknown_capability:%s", cap)), nil
	}
}

// canSelectDepartment implements spec.md §4.3's rule that only the original
// reporter may perform the first department assignment.
func (r *Resolver) canSelectDepartment(inc *store.Incident, userID string) (Decision, error) {
	if inc.Status != store.AwaitingDepartment {
		return deny("not_awaiting_department"), nil
	}
	if inc.CreatedByID != userID {
		return deny("not_reporter"), nil
	}
	return allow("reporter_initial_selection"), nil
}

func (r *Resolver) canActOnCurrentDepartment(ctx context.Context, inc *store.Incident, userID string, cap Capability) (Decision, error) {
	if inc.DepartmentID == nil {
		return deny("no_department_assigned"), nil
	}
	isMember, err := r.store.IsDepartmentMember(ctx, *inc.DepartmentID, userID)
	if err != nil {
		return Decision{}, err
	}
	if !isMember {
		return deny(fmt.Sprintf("not_department_member:%d", *inc.DepartmentID)), nil
	}
	return allow(fmt.Sprintf("%s_department_member", cap)), nil
}

// canChangeDepartment requires the actor be a member of the incident's
// *current* (source) department before it may be transferred elsewhere, per
// spec.md §4.4.2: that requirement holds unconditionally, regardless of
// whether the current department's own restricted_to_department_members
// flag is set. The flag is not read here; internal/render's picker only
// marks such departments with a lock prefix on their button label.
func (r *Resolver) canChangeDepartment(ctx context.Context, inc *store.Incident, userID string) (Decision, error) {
	if inc.DepartmentID == nil {
		// No department assigned yet; treated as an initial selection.
		return r.canSelectDepartment(inc, userID)
	}
	dept, err := r.store.GetDepartment(ctx, *inc.DepartmentID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return deny("current_department_missing"), nil
		}
		return Decision{}, err
	}
	isMember, err := r.store.IsDepartmentMember(ctx, dept.ID, userID)
	if err != nil {
		return Decision{}, err
	}
	if !isMember {
		return deny(fmt.Sprintf("not_department_member:%d", dept.ID)), nil
	}
	return allow("department_transfer_permitted"), nil
}

// LegacyRole derives the read-only Dispatcher/OpsManager label a reporting
// view may still want to show, from current department membership rather
// than any stored role column. Department membership is authoritative per
// spec.md §9; this exists only so legacy dashboards keep their vocabulary.
// Returns "" when the user belongs to neither seeded legacy department.
func (r *Resolver) LegacyRole(ctx context.Context, companyID int64, userID string) (string, error) {
	depts, err := r.store.ListDepartments(ctx, companyID)
	if err != nil {
		return "", err
	}
	var inOperations, inDispatchers bool
	for _, d := range depts {
		member, err := r.store.IsDepartmentMember(ctx, d.ID, userID)
		if err != nil {
			return "", err
		}
		if !member {
			continue
		}
		switch d.Name {
		case "Operations":
			inOperations = true
		case "Dispatchers":
			inDispatchers = true
		}
	}
	// OpsManager outranks Dispatcher, mirroring the source's ROLE_PRIORITY.
	if inOperations {
		return "OpsManager", nil
	}
	if inDispatchers {
		return "Dispatcher", nil
	}
	return "", nil
}
