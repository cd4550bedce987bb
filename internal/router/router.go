// Package router implements C7: it turns chatapi.Event values into
// lifecycle calls, checks capabilities via roles before every mutation, and
// keeps the pinned incident message in sync with the fresh snapshot via
// render + the chatapi.Adapter.
//
// Grounded on original_source/handlers.py's callback_handler (dispatch by
// action prefix, parts := strings.Split(data, ":")) and message_handler
// (resolver-reply association via the "ID:" line).
package router

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deskline-ops/triagebot/internal/apperr"
	"github.com/deskline-ops/triagebot/internal/chatapi"
	"github.com/deskline-ops/triagebot/internal/clock"
	"github.com/deskline-ops/triagebot/internal/config"
	"github.com/deskline-ops/triagebot/internal/lifecycle"
	"github.com/deskline-ops/triagebot/internal/render"
	"github.com/deskline-ops/triagebot/internal/roles"
	"github.com/deskline-ops/triagebot/internal/store"
)

// Router wires a single chatapi.Adapter to the lifecycle engine.
type Router struct {
	store    *store.Store
	resolver *roles.Resolver
	engine   *lifecycle.Engine
	adapter  chatapi.Adapter
	admin    config.AdminConfig
}

func New(s *store.Store, r *roles.Resolver, e *lifecycle.Engine, adapter chatapi.Adapter, admin config.AdminConfig) *Router {
	return &Router{store: s, resolver: r, engine: e, adapter: adapter, admin: admin}
}

// Handle dispatches one inbound event. It never returns an error to the
// caller: every failure is either logged (chat_error, storage_error) or
// surfaced to the user as an alert (validation/permission/state errors).
func (r *Router) Handle(ctx context.Context, evt chatapi.Event) {
	switch evt.Kind {
	case chatapi.EventCommand:
		r.handleCommand(ctx, evt)
	case chatapi.EventCallback:
		r.handleCallback(ctx, evt)
	case chatapi.EventMessage:
		r.handleMessage(ctx, evt)
	case chatapi.EventMembershipChange:
		// Group onboarding (pending -> active activation flow) lives outside
		// the core lifecycle per spec.md §1; nothing to do here.
	}
}

func (r *Router) group(ctx context.Context, evt chatapi.Event) (*store.Group, bool) {
	g, err := r.store.GetGroupByChatRef(ctx, evt.ChatRef)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil, false
		}
		log.Error().Err(err).Str("chat", evt.ChatRef).Msg("look up group")
		return nil, false
	}
	if g.Status != store.GroupActive {
		r.alert(ctx, evt, "This chat has not been activated yet.")
		return nil, false
	}
	return g, true
}

// sendBestEffort posts a follow-up message (department ping, resolution
// request, completion notice) that isn't on the critical path of the
// triggering action. A chat_error here is queued as a notification row for
// the scheduler's drain step to retry, instead of being dropped silently,
// per spec.md §6.1's glossary note that the notification queue exists for
// exactly this kind of cross-process follow-up.
func (r *Router) sendBestEffort(ctx context.Context, g *store.Group, chatRef, text, replyTo string) {
	if _, err := r.adapter.Send(ctx, chatRef, text, replyTo, nil); err != nil {
		if !apperr.Is(err, apperr.Chat) {
			log.Error().Err(err).Msg("send follow-up message")
			return
		}
		log.Warn().Err(err).Msg("queuing follow-up message for retry after chat error")
		queueErr := r.store.WriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return r.store.EnqueueNotificationTx(ctx, tx, uuid.NewString(), g.ID, "retry_send", text, clock.Now())
		})
		if queueErr != nil {
			log.Error().Err(queueErr).Msg("enqueue retry notification")
		}
	}
}

func (r *Router) alert(ctx context.Context, evt chatapi.Event, text string) {
	if evt.CallbackID != "" {
		_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, text, true)
		return
	}
	if _, err := r.adapter.Send(ctx, evt.ChatRef, text, evt.MessageID, nil); err != nil {
		log.Error().Err(err).Msg("send alert")
	}
}

// handleCommand dispatches /start, /help, /new_issue, /report.
func (r *Router) handleCommand(ctx context.Context, evt chatapi.Event) {
	switch evt.Command {
	case "start", "help":
		_, _ = r.adapter.Send(ctx, evt.ChatRef,
			"Reply to a message with /new_issue to open an incident. Platform admins can run /report.",
			"", nil)
	case "new_issue":
		r.handleNewIssue(ctx, evt)
	case "report":
		r.handleReport(ctx, evt)
	default:
		log.Debug().Str("command", evt.Command).Msg("unrecognized command")
	}
}

// handleNewIssue implements /new_issue: must be a reply, uses the replied
// message's text as the description, per spec.md §6.1.
func (r *Router) handleNewIssue(ctx context.Context, evt chatapi.Event) {
	g, ok := r.group(ctx, evt)
	if !ok {
		return
	}
	if strings.TrimSpace(evt.ReplyToText) == "" {
		r.alert(ctx, evt, "Reply to the message describing the issue with /new_issue.")
		return
	}

	inc, err := r.engine.CreateIncident(ctx, g.ID, g.CompanyID, evt.UserID, evt.Handle, evt.ReplyToText, evt.ReplyToID)
	if err != nil {
		r.alert(ctx, evt, userFacingReason(err))
		return
	}

	depts, err := r.store.ListDepartments(ctx, g.CompanyID)
	if err != nil {
		log.Error().Err(err).Msg("list departments")
		return
	}
	text, buttons := render.BuildDepartmentSelection(inc, depts, "Select the department that should handle this.", "select_department", "")
	messageID, err := r.adapter.Send(ctx, evt.ChatRef, text, evt.ReplyToID, buttons)
	if err != nil {
		log.Error().Err(err).Msg("send new incident message")
		return
	}
	if err := r.store.SetPinnedMessageID(ctx, inc.IncidentID, messageID); err != nil {
		log.Error().Err(err).Msg("record pinned message id")
	}
	if err := r.adapter.Pin(ctx, evt.ChatRef, messageID); err != nil {
		log.Error().Err(err).Msg("pin new incident message")
	}
}

func (r *Router) handleReport(ctx context.Context, evt chatapi.Event) {
	if !r.admin.IsPlatformAdmin(evt.UserID) {
		r.alert(ctx, evt, "Only platform admins can run /report.")
		return
	}
	_, _ = r.adapter.Send(ctx, evt.ChatRef, "Report generation is handled by the triagebot report command.", "", nil)
}

var callbackPattern = regexp.MustCompile(`^([a-z_]+):([^:]+)(?::(\d+))?$`)

// handleCallback dispatches a button press per the grammar in spec.md §6.1.
func (r *Router) handleCallback(ctx context.Context, evt chatapi.Event) {
	g, ok := r.group(ctx, evt)
	if !ok {
		return
	}

	m := callbackPattern.FindStringSubmatch(evt.CallbackData)
	if m == nil {
		_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, "Unknown action", true)
		return
	}
	action, incidentID, aux := m[1], m[2], m[3]

	inc, err := r.store.GetIncident(ctx, incidentID)
	if err != nil {
		_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, "Incident not found.", true)
		return
	}

	switch action {
	case "select_department", "reassign_department":
		r.handleDepartmentPick(ctx, evt, g, inc, aux)
	case "change_department":
		r.handleChangeDepartmentPrompt(ctx, evt, g, inc)
	case "restore_view":
		r.handleRestoreView(ctx, evt, g, inc)
	case "claim":
		r.handleCapability(ctx, evt, g, inc, roles.Claim, func() (*store.Incident, error) {
			return r.engine.Claim(ctx, inc.IncidentID, evt.UserID)
		}, "Joined")
	case "release":
		r.handleCapability(ctx, evt, g, inc, roles.Release, func() (*store.Incident, error) {
			return r.engine.Release(ctx, inc.IncidentID, evt.UserID)
		}, "Left")
	case "resolve":
		r.handleResolve(ctx, evt, g, inc)
	default:
		_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, "Unknown action", true)
	}
}

func (r *Router) handleDepartmentPick(ctx context.Context, evt chatapi.Event, g *store.Group, inc *store.Incident, aux string) {
	capability := roles.SelectDepartment
	if inc.DepartmentID != nil {
		capability = roles.ChangeDepartment
	}
	decision, err := r.resolver.Can(ctx, g.ID, evt.UserID, inc, capability)
	if err != nil {
		log.Error().Err(err).Msg("capability check")
		return
	}
	if !decision.Allow {
		_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, "You can't do that.", true)
		return
	}

	deptID, err := strconv.ParseInt(aux, 10, 64)
	if err != nil {
		_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, "Invalid department.", true)
		return
	}

	updated, err := r.engine.AssignDepartment(ctx, inc.IncidentID, deptID, evt.UserID)
	if err != nil {
		_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, userFacingReason(err), true)
		return
	}

	dept, err := r.store.GetDepartment(ctx, deptID)
	if err != nil {
		log.Error().Err(err).Msg("load assigned department")
		return
	}
	text, buttons := render.BuildUnclaimed(updated, dept.Name)
	if err := r.adapter.Edit(ctx, evt.ChatRef, evt.MessageID, text, buttons); err != nil {
		log.Error().Err(err).Msg("edit incident message")
	}
	_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, "Department selected", false)

	handles, err := r.store.DepartmentRoster(ctx, deptID)
	if err != nil {
		log.Error().Err(err).Msg("load department roster")
		return
	}
	if len(handles) > 0 {
		ping := render.BuildDepartmentPing(handles, inc.IncidentID)
		r.sendBestEffort(ctx, g, evt.ChatRef, ping, evt.MessageID)
	}
}

func (r *Router) handleChangeDepartmentPrompt(ctx context.Context, evt chatapi.Event, g *store.Group, inc *store.Incident) {
	decision, err := r.resolver.Can(ctx, g.ID, evt.UserID, inc, roles.ChangeDepartment)
	if err != nil {
		log.Error().Err(err).Msg("capability check")
		return
	}
	if !decision.Allow {
		_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, "Only members of the current department can transfer this issue.", true)
		return
	}
	depts, err := r.store.ListDepartments(ctx, g.CompanyID)
	if err != nil {
		log.Error().Err(err).Msg("list departments")
		return
	}
	text, buttons := render.BuildDepartmentSelection(inc, depts, "Select a new department to transfer this issue.",
		"reassign_department", fmt.Sprintf("restore_view:%s", inc.IncidentID))
	if err := r.adapter.Edit(ctx, evt.ChatRef, evt.MessageID, text, buttons); err != nil {
		log.Error().Err(err).Msg("edit incident message")
	}
	_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, "", false)
}

func (r *Router) handleRestoreView(ctx context.Context, evt chatapi.Event, g *store.Group, inc *store.Incident) {
	r.rerender(ctx, evt, g, inc)
	_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, "", false)
}

// handleCapability runs a generic claim/release mutation: check the
// capability, call the lifecycle op, re-render on success.
func (r *Router) handleCapability(ctx context.Context, evt chatapi.Event, g *store.Group, inc *store.Incident, cap roles.Capability, op func() (*store.Incident, error), ackText string) {
	decision, err := r.resolver.Can(ctx, g.ID, evt.UserID, inc, cap)
	if err != nil {
		log.Error().Err(err).Msg("capability check")
		return
	}
	if !decision.Allow {
		_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, "You can't do that.", true)
		return
	}
	updated, err := op()
	if err != nil {
		_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, userFacingReason(err), true)
		return
	}
	r.rerender(ctx, evt, g, updated)
	_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, ackText, false)
}

func (r *Router) handleResolve(ctx context.Context, evt chatapi.Event, g *store.Group, inc *store.Incident) {
	decision, err := r.resolver.Can(ctx, g.ID, evt.UserID, inc, roles.Resolve)
	if err != nil {
		log.Error().Err(err).Msg("capability check")
		return
	}
	if !decision.Allow {
		_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, "You can't do that.", true)
		return
	}
	updated, err := r.engine.RequestResolution(ctx, inc.IncidentID, evt.UserID)
	if err != nil {
		_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, userFacingReason(err), true)
		return
	}

	handle := handleOrID(evt)
	text := render.BuildAwaitingSummary(updated, handle)
	if err := r.adapter.Edit(ctx, evt.ChatRef, evt.MessageID, text, nil); err != nil {
		log.Error().Err(err).Msg("edit incident message")
	}

	request := render.BuildResolutionRequest(inc.IncidentID, handle)
	r.sendBestEffort(ctx, g, evt.ChatRef, request, evt.MessageID)
	_ = r.adapter.AnswerCallback(ctx, evt.CallbackID, "Please reply to the bot's message with your summary", false)
}

func (r *Router) rerender(ctx context.Context, evt chatapi.Event, g *store.Group, inc *store.Incident) {
	text, buttons, err := r.renderSnapshot(ctx, inc)
	if err != nil {
		log.Error().Err(err).Msg("render incident snapshot")
		return
	}
	if err := r.adapter.Edit(ctx, evt.ChatRef, evt.MessageID, text, buttons); err != nil {
		log.Error().Err(err).Msg("edit incident message")
	}
}

func (r *Router) renderSnapshot(ctx context.Context, inc *store.Incident) (string, chatapi.ButtonSet, error) {
	switch inc.Status {
	case store.AwaitingClaim:
		dept, err := r.store.GetDepartment(ctx, *inc.DepartmentID)
		if err != nil {
			return "", nil, err
		}
		text, buttons := render.BuildUnclaimed(inc, dept.Name)
		return text, buttons, nil
	case store.InProgress:
		dept, err := r.store.GetDepartment(ctx, *inc.DepartmentID)
		if err != nil {
			return "", nil, err
		}
		claims, err := r.store.ActiveClaims(ctx, inc.IncidentID)
		if err != nil {
			return "", nil, err
		}
		handles := make([]string, 0, len(claims))
		for _, c := range claims {
			handles = append(handles, c.Handle)
		}
		text, buttons := render.BuildClaimed(inc, handles, dept.Name)
		return text, buttons, nil
	default:
		return "", nil, apperr.StateConflictf("no rendered view for status %s", inc.Status)
	}
}

var idLinePattern = regexp.MustCompile(`(?mi)^id:\s*(\S+)`)
var digitGroupPattern = regexp.MustCompile(`\d{4,}`)

// handleMessage processes a resolver's reply to the resolution-request
// message. Per spec.md §4.7.7, the incident id is extracted preferring a
// literal "ID:" line, falling back to the first 4+ digit run.
func (r *Router) handleMessage(ctx context.Context, evt chatapi.Event) {
	if strings.TrimSpace(evt.ReplyToText) == "" {
		return
	}
	if !strings.Contains(strings.ToLower(evt.ReplyToText), "resolution summary") {
		return
	}

	incidentID := extractIncidentID(evt.ReplyToText)
	if incidentID == "" {
		log.Warn().Msg("could not extract incident id from resolution request message")
		return
	}

	inc, err := r.store.GetIncident(ctx, incidentID)
	if err != nil {
		_, _ = r.adapter.Send(ctx, evt.ChatRef, fmt.Sprintf("Incident %s not found.", incidentID), evt.MessageID, nil)
		return
	}
	if inc.Status != store.AwaitingSummary {
		_, _ = r.adapter.Send(ctx, evt.ChatRef, fmt.Sprintf("Incident %s is not awaiting a summary.", incidentID), evt.MessageID, nil)
		return
	}
	if inc.PendingResolutionByUserID == nil || *inc.PendingResolutionByUserID != evt.UserID {
		_, _ = r.adapter.Send(ctx, evt.ChatRef, "You are not authorized to resolve this incident.", evt.MessageID, nil)
		return
	}

	updated, err := r.engine.Resolve(ctx, incidentID, evt.UserID, evt.Text)
	if err != nil {
		_, _ = r.adapter.Send(ctx, evt.ChatRef, userFacingReason(err), evt.MessageID, nil)
		return
	}

	handle := handleOrID(evt)
	text := render.BuildResolved(updated, handle)
	if err := r.adapter.Edit(ctx, evt.ChatRef, updated.PinnedMessageID, text, nil); err != nil {
		log.Error().Err(err).Msg("edit resolved incident message")
	}
	if err := r.adapter.Unpin(ctx, evt.ChatRef, updated.PinnedMessageID); err != nil {
		log.Error().Err(err).Msg("unpin resolved incident message")
	}

	g, err := r.store.GetGroup(ctx, updated.GroupID)
	if err != nil {
		log.Error().Err(err).Msg("load group for resolve confirmation")
		return
	}
	r.sendBestEffort(ctx, g, evt.ChatRef, fmt.Sprintf("%s has been marked as resolved!", incidentID), evt.MessageID)
}

func extractIncidentID(text string) string {
	if m := idLinePattern.FindStringSubmatch(text); m != nil {
		return strings.Trim(m[1], ".,")
	}
	if m := digitGroupPattern.FindString(text); m != "" {
		return m
	}
	return ""
}

func handleOrID(evt chatapi.Event) string {
	if evt.Handle != "" {
		return evt.Handle
	}
	return evt.UserID
}

// userFacingReason renders an apperr into the text shown as a button alert
// or a plain reply, never the raw wrapped storage/chat error.
func userFacingReason(err error) string {
	switch {
	case apperr.Is(err, apperr.Validation):
		return "That's not valid: " + reasonOf(err)
	case apperr.Is(err, apperr.PermissionDenied):
		return "You can't do that."
	case apperr.Is(err, apperr.StateConflict):
		return "This incident has already moved on: " + reasonOf(err)
	case apperr.Is(err, apperr.NotFound):
		return "Incident not found."
	default:
		return "Something went wrong. Please try again."
	}
}

func reasonOf(err error) string {
	var e *apperr.Error
	for err != nil {
		if asErr, ok := err.(*apperr.Error); ok {
			e = asErr
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return ""
	}
	return e.Reason
}
