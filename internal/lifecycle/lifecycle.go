// Package lifecycle implements C4: the incident state machine. Every
// exported method opens exactly one store.WriteTx, validates preconditions
// against the freshly read row, applies the transition, and appends at
// least one event, so each operation is atomic end to end.
package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/deskline-ops/triagebot/internal/apperr"
	"github.com/deskline-ops/triagebot/internal/clock"
	"github.com/deskline-ops/triagebot/internal/store"
)

const (
	minDescriptionLen = 5
	maxDescriptionLen = 3000
)

// Engine is the lifecycle core. It holds no state beyond the store handle.
type Engine struct {
	store *store.Store
}

func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

func metaJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// CreateIncident implements spec.md §4.4.1.
func (e *Engine) CreateIncident(ctx context.Context, groupID, companyID int64, reporterID, reporterHandle, description, sourceMessageID string) (*store.Incident, error) {
	if len(description) < minDescriptionLen || len(description) > maxDescriptionLen {
		return nil, apperr.Validationf("description must be between %d and %d characters", minDescriptionLen, maxDescriptionLen)
	}
	return e.store.CreateIncident(ctx, groupID, companyID, reporterID, reporterHandle, description, sourceMessageID, clock.Now())
}

// AssignDepartment implements spec.md §4.4.2, covering both the initial
// assignment (incident.DepartmentID == nil) and a later transfer.
func (e *Engine) AssignDepartment(ctx context.Context, incidentID string, departmentID int64, actorID string) (*store.Incident, error) {
	var out *store.Incident
	err := e.store.WriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		inc, err := e.store.GetIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		switch inc.Status {
		case store.AwaitingDepartment, store.AwaitingClaim, store.InProgress:
		default:
			return apperr.StateConflictf("incident %s cannot change department from %s", incidentID, inc.Status)
		}
		dept, err := e.store.GetDepartment(ctx, departmentID)
		if err != nil {
			return err
		}
		if dept.CompanyID != inc.CompanyID {
			return apperr.Validationf("department %d does not belong to company %d", departmentID, inc.CompanyID)
		}

		now := clock.Now()
		previousDepartmentID := inc.DepartmentID
		statusBefore := inc.Status

		if previousDepartmentID != nil {
			closedClaims, err := e.store.CloseActiveClaimsTx(ctx, tx, incidentID, now)
			if err != nil {
				return err
			}
			for _, c := range closedClaims {
				if err := e.store.FinalizeParticipantTx(ctx, tx, incidentID, c.UserID, c.DepartmentID, store.ParticipantTransferred, now); err != nil {
					return err
				}
			}
			if err := e.store.CloseActiveSessionTx(ctx, tx, incidentID, store.SessionTransferred, now); err != nil {
				return err
			}
		}

		if _, err := e.store.OpenSessionTx(ctx, tx, incidentID, departmentID, actorID, now); err != nil {
			return err
		}
		if err := e.store.SetIncidentDepartmentTx(ctx, tx, incidentID, departmentID, now); err != nil {
			return err
		}

		meta := metaJSON(map[string]any{
			"department_id":          departmentID,
			"previous_department_id": previousDepartmentID,
			"status_before":          statusBefore,
		})
		if err := e.store.AppendEventTx(ctx, tx, incidentID, store.EventDepartmentAssigned, actorID, now, meta); err != nil {
			return err
		}

		inc.DepartmentID = &departmentID
		inc.Status = store.AwaitingClaim
		inc.TDepartmentAssigned = &now
		out = inc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Claim implements spec.md §4.4.3.
func (e *Engine) Claim(ctx context.Context, incidentID, userID string) (*store.Incident, error) {
	var out *store.Incident
	err := e.store.WriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		inc, err := e.store.GetIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		if inc.Status != store.AwaitingClaim && inc.Status != store.InProgress {
			return apperr.StateConflictf("incident %s cannot be claimed from %s", incidentID, inc.Status)
		}
		if inc.DepartmentID == nil {
			return apperr.StateConflictf("incident %s has no department assigned", incidentID)
		}
		isMember, err := e.store.IsDepartmentMember(ctx, *inc.DepartmentID, userID)
		if err != nil {
			return err
		}
		if !isMember {
			return apperr.PermissionDeniedf("user %s is not a member of department %d", userID, *inc.DepartmentID)
		}
		existing, err := e.store.ActiveClaimForUserTx(ctx, tx, incidentID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.StateConflictf("user %s already has an active claim on %s", userID, incidentID)
		}

		now := clock.Now()
		if err := e.store.InsertClaimTx(ctx, tx, incidentID, userID, *inc.DepartmentID, now); err != nil {
			return err
		}
		if err := e.store.UpsertParticipantActiveTx(ctx, tx, incidentID, userID, *inc.DepartmentID, now); err != nil {
			return err
		}
		if err := e.store.SetIncidentStatusTx(ctx, tx, incidentID, store.InProgress); err != nil {
			return err
		}
		if err := e.store.TouchFirstLastClaimedTx(ctx, tx, incidentID, now); err != nil {
			return err
		}
		if err := e.store.MarkSessionClaimedTx(ctx, tx, incidentID, now); err != nil {
			return err
		}
		if inc.PendingResolutionByUserID != nil {
			if err := e.store.ClearPendingResolutionTx(ctx, tx, incidentID); err != nil {
				return err
			}
		}
		if err := e.store.AppendEventTx(ctx, tx, incidentID, store.EventClaim, userID, now, metaJSON(map[string]any{
			"department_id": *inc.DepartmentID,
		})); err != nil {
			return err
		}

		inc.Status = store.InProgress
		inc.PendingResolutionByUserID = nil
		out = inc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Release implements spec.md §4.4.4.
func (e *Engine) Release(ctx context.Context, incidentID, userID string) (*store.Incident, error) {
	var out *store.Incident
	err := e.store.WriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		inc, err := e.store.GetIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		if inc.Status != store.AwaitingClaim && inc.Status != store.InProgress {
			return apperr.StateConflictf("incident %s cannot be released from %s", incidentID, inc.Status)
		}
		claim, err := e.store.ActiveClaimForUserTx(ctx, tx, incidentID, userID)
		if err != nil {
			return err
		}
		if claim == nil {
			return apperr.StateConflictf("user %s has no active claim on %s", userID, incidentID)
		}

		now := clock.Now()
		if err := e.store.ReleaseClaimTx(ctx, tx, incidentID, userID, now); err != nil {
			return err
		}
		if err := e.store.FinalizeParticipantTx(ctx, tx, incidentID, userID, claim.DepartmentID, store.ParticipantReleased, now); err != nil {
			return err
		}

		remaining, err := e.store.CountActiveClaimsTx(ctx, tx, incidentID)
		if err != nil {
			return err
		}
		newStatus := inc.Status
		if remaining == 0 && inc.Status != store.AwaitingSummary {
			newStatus = store.AwaitingClaim
			if err := e.store.SetIncidentStatusTx(ctx, tx, incidentID, newStatus); err != nil {
				return err
			}
		}
		if err := e.store.AppendEventTx(ctx, tx, incidentID, store.EventRelease, userID, now, metaJSON(map[string]any{
			"department_id":    claim.DepartmentID,
			"remaining_claims": remaining,
		})); err != nil {
			return err
		}

		inc.Status = newStatus
		out = inc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RequestResolution implements spec.md §4.4.5.
func (e *Engine) RequestResolution(ctx context.Context, incidentID, userID string) (*store.Incident, error) {
	var out *store.Incident
	err := e.store.WriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		inc, err := e.store.GetIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		if inc.Status != store.InProgress {
			return apperr.StateConflictf("incident %s cannot request resolution from %s", incidentID, inc.Status)
		}
		claim, err := e.store.ActiveClaimForUserTx(ctx, tx, incidentID, userID)
		if err != nil {
			return err
		}
		if claim == nil {
			return apperr.PermissionDeniedf("user %s has no active claim on %s", userID, incidentID)
		}

		now := clock.Now()
		if err := e.store.SetPendingResolutionTx(ctx, tx, incidentID, userID, now); err != nil {
			return err
		}
		if err := e.store.AppendEventTx(ctx, tx, incidentID, store.EventResolutionRequested, userID, now, "{}"); err != nil {
			return err
		}

		inc.Status = store.AwaitingSummary
		inc.PendingResolutionByUserID = &userID
		inc.TResolutionRequested = &now
		out = inc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve implements spec.md §4.4.6.
func (e *Engine) Resolve(ctx context.Context, incidentID, userID, summary string) (*store.Incident, error) {
	if summary == "" {
		return nil, apperr.Validationf("resolution summary must not be empty")
	}
	var out *store.Incident
	err := e.store.WriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		inc, err := e.store.GetIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		if inc.Status != store.AwaitingSummary {
			return apperr.StateConflictf("incident %s cannot resolve from %s", incidentID, inc.Status)
		}
		if inc.PendingResolutionByUserID == nil || *inc.PendingResolutionByUserID != userID {
			return apperr.PermissionDeniedf("user %s is not the pending resolver for %s", userID, incidentID)
		}

		now := clock.Now()
		if err := e.finalizeTerminal(ctx, tx, inc, userID, summary, store.Resolved, store.SessionResolved, store.EventResolve, now, nil); err != nil {
			return err
		}
		inc.Status = store.Resolved
		out = inc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AutoClose implements spec.md §4.4.7. Scheduler-only: no user capability
// check, since it is never invoked from the router.
func (e *Engine) AutoClose(ctx context.Context, incidentID, summaryText, reason string) (*store.Incident, error) {
	var out *store.Incident
	err := e.store.WriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		inc, err := e.store.GetIncident(ctx, incidentID)
		if err != nil {
			return err
		}
		if inc.Status != store.AwaitingSummary {
			return apperr.StateConflictf("incident %s cannot auto-close from %s", incidentID, inc.Status)
		}

		now := clock.Now()
		pendingUserID := ""
		if inc.PendingResolutionByUserID != nil {
			pendingUserID = *inc.PendingResolutionByUserID
		}
		meta := map[string]any{
			"reason":          reason,
			"pending_user_id": pendingUserID,
			"department_id":   inc.DepartmentID,
		}
		if err := e.finalizeTerminal(ctx, tx, inc, pendingUserID, summaryText, store.Closed, store.SessionClosed, store.EventAutoClosed, now, meta); err != nil {
			return err
		}
		inc.Status = store.Closed
		out = inc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// finalizeTerminal performs the shared tail of resolve/auto_close: close
// every active claim, finalize every active participant (resolver gets
// *_self semantics only for a real resolve, others get *_other), close the
// active department session, stamp the incident row, and emit the event.
func (e *Engine) finalizeTerminal(ctx context.Context, tx *sql.Tx, inc *store.Incident, resolverID, summary string, status store.IncidentStatus, sessionStatus store.SessionStatus, eventType store.EventType, now time.Time, eventMeta map[string]any) error {
	resolverStatus, othersStatus := store.ParticipantResolvedSelf, store.ParticipantResolvedOther
	if eventType != store.EventResolve {
		resolverStatus, othersStatus = store.ParticipantClosed, store.ParticipantClosed
	}

	if _, err := e.store.CloseActiveClaimsTx(ctx, tx, inc.IncidentID, now); err != nil {
		return err
	}
	if err := e.store.FinalizeAllActiveParticipantsTx(ctx, tx, inc.IncidentID, resolverID, resolverStatus, othersStatus, now); err != nil {
		return err
	}
	if err := e.store.CloseActiveSessionTx(ctx, tx, inc.IncidentID, sessionStatus, now); err != nil {
		return err
	}
	if err := e.store.SetResolvedTx(ctx, tx, inc.IncidentID, resolverID, summary, status, now); err != nil {
		return err
	}

	meta := "{}"
	if eventMeta != nil {
		meta = metaJSON(eventMeta)
	}
	return e.store.AppendEventTx(ctx, tx, inc.IncidentID, eventType, resolverID, now, meta)
}
