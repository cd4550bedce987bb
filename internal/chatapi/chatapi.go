// Package chatapi defines the abstract chat-platform contract the router
// drives and a concrete channel implements: outbound delivery
// (send/edit/pin/unpin/answer) plus the inbound event shapes a channel
// normalizes its platform's updates into.
//
// Generalizes the teacher's internal/channels.Channel interface (bare
// Name/Start/Stop/Send) with the edit/pin/unpin/callback-ack surface an
// incident tracker needs to update one message in place over its lifetime.
package chatapi

import "context"

// Button is one inline button. CallbackData follows the router's
// "<action>:<incident_id>[:<aux>]" convention.
type Button struct {
	Label        string
	CallbackData string
}

// ButtonRow is one row of buttons rendered together.
type ButtonRow []Button

// ButtonSet is the full button layout under a message, top to bottom.
type ButtonSet []ButtonRow

// Adapter is the channel-agnostic chat transport the router calls after
// every lifecycle mutation. A channel failure is always reported as an
// *apperr.Error with Kind Chat; the router does not roll back the
// lifecycle mutation that already landed when an adapter call fails.
type Adapter interface {
	Name() string

	// Send posts text with an optional button layout, threaded as a reply
	// to replyTo when non-empty. Returns the platform message id.
	Send(ctx context.Context, chatRef, text string, replyTo string, buttons ButtonSet) (messageID string, err error)

	// Edit replaces the text/buttons of an existing message in place.
	Edit(ctx context.Context, chatRef, messageID, text string, buttons ButtonSet) error

	// Pin and Unpin are idempotent: pinning an already-pinned message (or
	// unpinning one that isn't pinned) is not an error.
	Pin(ctx context.Context, chatRef, messageID string) error
	Unpin(ctx context.Context, chatRef, messageID string) error

	// AnswerCallback acknowledges a button press. alert requests a modal
	// pop-up on platforms that distinguish toast from alert acks.
	AnswerCallback(ctx context.Context, callbackID, ackText string, alert bool) error
}

// EventKind tags the shape of an inbound Event.
type EventKind string

const (
	EventCommand          EventKind = "command"
	EventCallback         EventKind = "callback"
	EventMessage          EventKind = "message"
	EventMembershipChange EventKind = "membership_change"
)

// Event is one inbound update a channel has normalized off its native
// platform shape. Only the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	ChatRef string // platform chat/channel identifier
	UserID  string
	Handle  string

	// command
	Command string
	Args    string

	// callback
	CallbackID   string // opaque ack token, e.g. Slack's interaction response_url
	CallbackData string
	MessageID    string

	// message
	Text         string
	ReplyToID    string // id of the message this one replies to, if any
	ReplyToText  string // text of that message, for incident-id extraction

	// membership_change
	IsMember bool
}
