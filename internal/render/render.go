// Package render turns incident state into chat-ready text and buttons. It
// is pure: no storage, no network, no clock reads beyond what its callers
// pass in. Every builder HTML-escapes the user-controlled text it embeds
// (description, handles) so the markup a channel sends can never be
// corrupted by a reporter's own words.
//
// Grounded on the original message_builder.py: same section layout, same
// emoji-prefixed status lines, same button shapes and callback data
// convention.
package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/deskline-ops/triagebot/internal/chatapi"
	"github.com/deskline-ops/triagebot/internal/store"
)

const divider = "------------------------------"

func escape(v string) string {
	return html.EscapeString(v)
}

func formatDescription(description string) string {
	return "<i>" + escape(description) + "</i>"
}

func chunkButtons(buttons []chatapi.Button, perRow int) chatapi.ButtonSet {
	var rows chatapi.ButtonSet
	for i := 0; i < len(buttons); i += perRow {
		end := i + perRow
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, chatapi.ButtonRow(buttons[i:end]))
	}
	return rows
}

// BuildDepartmentSelection renders the department-picker prompt shown on
// incident creation and on every subsequent transfer. callbackPrefix is
// "select_department" for the initial pick, "reassign_department" for a
// transfer; backCallbackData, when non-empty, adds a trailing back row.
func BuildDepartmentSelection(inc *store.Incident, departments []store.Department, prompt, callbackPrefix, backCallbackData string) (string, chatapi.ButtonSet) {
	text := strings.Join([]string{
		"🚨 NEW TICKET",
		divider,
		"ID: " + escape(inc.IncidentID),
		"Status: 🗂️ Choose department",
		divider,
		"Reported by: " + escape(inc.CreatedByHandle),
		"Ticket:",
		formatDescription(inc.Description),
		divider,
		escape(prompt),
	}, "\n")

	buttons := make([]chatapi.Button, 0, len(departments))
	for _, dept := range departments {
		label := dept.Name
		if dept.RestrictedToDepartmentMember {
			label = "🔒 " + label
		}
		buttons = append(buttons, chatapi.Button{
			Label:        label,
			CallbackData: fmt.Sprintf("%s:%s:%d", callbackPrefix, inc.IncidentID, dept.ID),
		})
	}
	rows := chunkButtons(buttons, 2)
	if backCallbackData != "" {
		rows = append(rows, chatapi.ButtonRow{{Label: "⬅️ Back", CallbackData: backCallbackData}})
	}
	return text, rows
}

// BuildUnclaimed renders an incident sitting in Awaiting_Claim.
func BuildUnclaimed(inc *store.Incident, departmentName string) (string, chatapi.ButtonSet) {
	text := strings.Join([]string{
		"🚨 WAITING FOR DEPARTMENT",
		divider,
		"ID: " + escape(inc.IncidentID),
		"Department: " + escape(departmentName),
		"Status: 🔔 Awaiting response from department",
		divider,
		"Reported by: " + escape(inc.CreatedByHandle),
		"Ticket:",
		formatDescription(inc.Description),
		divider,
		"Tap Join if you're taking this. You can still change the department if it belongs elsewhere.",
	}, "\n")

	buttons := chatapi.ButtonSet{
		{{Label: "✅ Join", CallbackData: "claim:" + inc.IncidentID}},
		{{Label: "🔀 Change department", CallbackData: "change_department:" + inc.IncidentID}},
	}
	return text, buttons
}

// BuildClaimed renders an incident In_Progress, with every active claimant
// listed and still-open to more joiners from the same department.
func BuildClaimed(inc *store.Incident, claimerHandles []string, departmentName string) (string, chatapi.ButtonSet) {
	responders := "—"
	if len(claimerHandles) > 0 {
		responders = strings.Join(claimerHandles, ", ")
	}
	text := strings.Join([]string{
		"🚨 INCIDENT IN PROGRESS",
		divider,
		"ID: " + escape(inc.IncidentID),
		"Department: " + escape(departmentName),
		"Status: 🛠️ In progress",
		"Active: " + escape(responders),
		divider,
		"Reported by: " + escape(inc.CreatedByHandle),
		"Ticket:",
		formatDescription(inc.Description),
		divider,
		"Others from the department can join. Resolve when you've handled it, or move it to another department if needed.",
	}, "\n")

	buttons := chatapi.ButtonSet{
		{
			{Label: "✅ Join", CallbackData: "claim:" + inc.IncidentID},
			{Label: "❌ Leave", CallbackData: "release:" + inc.IncidentID},
		},
		{{Label: "🏁 Resolve", CallbackData: "resolve:" + inc.IncidentID}},
		{{Label: "🔀 Change department", CallbackData: "change_department:" + inc.IncidentID}},
	}
	return text, buttons
}

// BuildAwaitingSummary renders the state between a resolve request and the
// resolver's reply. No buttons: the next move is a plain-text reply.
func BuildAwaitingSummary(inc *store.Incident, resolverHandle string) string {
	return strings.Join([]string{
		"📄 INCIDENT AWAITING RESOLUTION SUMMARY",
		divider,
		"ID: " + escape(inc.IncidentID),
		"Resolver: " + escape(resolverHandle),
		"Status: ⌛ Awaiting summary",
		divider,
		"Reported by: " + escape(inc.CreatedByHandle),
		"Ticket:",
		formatDescription(inc.Description),
		divider,
		escape(resolverHandle) + ", please reply to this message with a short resolution summary (1–3 sentences).",
	}, "\n")
}

// BuildResolved renders the terminal Resolved state with its summary.
func BuildResolved(inc *store.Incident, resolverHandle string) string {
	return strings.Join([]string{
		"✅ INCIDENT RESOLVED",
		divider,
		"ID: " + escape(inc.IncidentID),
		"Status: ✅ Resolved",
		"Resolved by: " + escape(resolverHandle),
		divider,
		"Reported by: " + escape(inc.CreatedByHandle),
		"Ticket:",
		formatDescription(inc.Description),
		divider,
		"Resolution summary:",
		escape(inc.ResolutionSummary),
	}, "\n")
}

// BuildClosed renders the terminal Closed state reached via auto-close.
func BuildClosed(inc *store.Incident, closedBy, reason string) string {
	if closedBy == "" {
		closedBy = "System"
	}
	summary := inc.ResolutionSummary
	if summary == "" {
		summary = "No summary provided."
	}
	return strings.Join([]string{
		"❌ INCIDENT CLOSED",
		divider,
		"ID: " + escape(inc.IncidentID),
		"Status: ❌ Closed",
		"Closed by: " + escape(closedBy),
		"Reason: " + escape(reason),
		divider,
		"Reported by: " + escape(inc.CreatedByHandle),
		"Ticket:",
		formatDescription(inc.Description),
		divider,
		"Resolution summary:",
		escape(summary),
	}, "\n")
}

// BuildResolutionRequest is the follow-up message posted as a reply to the
// just-edited incident message, asking the resolver for a summary. Its
// "ID: <incident id>" line lets the message handler re-associate a later
// plain-text reply with this incident.
func BuildResolutionRequest(incidentID, userHandle string) string {
	return fmt.Sprintf(
		"%s, please reply to this message with a short resolution summary for %s.\nID: %s\nInclude what you did, the root cause (if known), and any follow-up actions.",
		escape(userHandle), incidentID, incidentID,
	)
}

// BuildUnclaimedReminder is the scheduler's nudge for a ticket that has sat
// in Awaiting_Claim past the configured threshold.
func BuildUnclaimedReminder(incidentID string, minutes int, departmentName string) string {
	deptLine := ""
	if departmentName != "" {
		deptLine = "Department: " + escape(departmentName) + "\n"
	}
	return fmt.Sprintf(
		"⏰ Unassigned ticket reminder\n%s\nIncident: %s\n%sUnassigned for: %d minutes\n%s\nPlease review the pinned ticket message and join if you are taking ownership.",
		divider, incidentID, deptLine, minutes, divider,
	)
}

// BuildAutoCloseNotice is the scheduler's concise follow-up when a summary
// timeout forces an auto-close.
func BuildAutoCloseNotice(incidentID, userHandle string, minutes int) string {
	return fmt.Sprintf(
		"Auto-closed %s after waiting %d minutes for %s's summary. Reopen manually if more details are needed.",
		incidentID, minutes, escape(userHandle),
	)
}

// BuildDepartmentPing tags every member of the department an incident was
// just assigned or transferred to.
func BuildDepartmentPing(departmentHandles []string, incidentID string) string {
	escaped := make([]string, len(departmentHandles))
	for i, h := range departmentHandles {
		escaped[i] = escape(h)
	}
	mentions := strings.Join(escaped, " ")
	return fmt.Sprintf("🔔 %s\nPlease review ticket %s and join if you are taking ownership.", mentions, incidentID)
}
