// Package slack is the concrete chatapi.Adapter backed by the Slack Bolt
// Socket Mode protocol. It is the only channel wired into triagebot today;
// spec.md treats the wire transport as an external collaborator, so every
// other package talks to chatapi.Adapter, never to this one directly.
//
// Grounded on the teacher's cmd/channelbridge/main.go bridge: slackClient,
// slackPostMessage, slackPostCard, slackHandleAction's pin/unpin/edit
// branches, and startSlackSocketMode/runSlackSocketMode's event loop.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/deskline-ops/triagebot/internal/apperr"
	"github.com/deskline-ops/triagebot/internal/chatapi"
	"github.com/deskline-ops/triagebot/internal/config"
)

// Channel is a Slack-backed chatapi.Adapter. One Channel serves one
// workspace bot token.
type Channel struct {
	cfg    config.SlackConfig
	api    *slack.Client
	socket *socketmode.Client
	events chan chatapi.Event

	botUserID string
}

// New builds a Channel from config. The Slack client and socket-mode
// client are constructed eagerly; Start begins pumping inbound events.
func New(cfg config.SlackConfig) *Channel {
	opts := []slack.Option{slack.OptionAppLevelToken(cfg.AppToken)}
	if base := strings.TrimSpace(cfg.APIBase); base != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(base, "/")+"/"))
	}
	api := slack.New(cfg.BotToken, opts...)
	return &Channel{
		cfg:    cfg,
		api:    api,
		socket: socketmode.New(api),
		events: make(chan chatapi.Event, 64),
	}
}

func (c *Channel) Name() string { return "slack" }

// Events returns the channel of normalized inbound updates the router
// consumes. Call Start before reading from it.
func (c *Channel) Events() <-chan chatapi.Event { return c.events }

// Start resolves the bot's own user id (to detect @-mentions and replies
// to its own messages) and begins the Socket Mode event pump in the
// background. It returns once the bot identity is known.
func (c *Channel) Start(ctx context.Context) error {
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return apperr.Chatf(err, "slack auth.test")
	}
	c.botUserID = auth.UserID

	go c.socket.Run()
	go c.pump()
	return nil
}

func (c *Channel) Stop() error {
	close(c.events)
	return nil
}

func (c *Channel) pump() {
	for evt := range c.socket.Events {
		switch evt.Type {
		case socketmode.EventTypeEventsAPI:
			if evt.Request != nil {
				c.socket.Ack(*evt.Request)
			}
			outer, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok || outer.Type != slackevents.CallbackEvent {
				continue
			}
			c.handleInnerEvent(outer.InnerEvent.Data)
		case socketmode.EventTypeInteractive:
			if evt.Request != nil {
				c.socket.Ack(*evt.Request)
			}
			cb, ok := evt.Data.(slack.InteractionCallback)
			if ok {
				c.handleInteraction(cb)
			}
		case socketmode.EventTypeSlashCommand:
			if evt.Request != nil {
				c.socket.Ack(*evt.Request, map[string]any{"response_type": "ephemeral", "text": "accepted"})
			}
			cmd, ok := evt.Data.(slack.SlashCommand)
			if ok {
				c.handleSlashCommand(cmd)
			}
		}
	}
}

func (c *Channel) handleInnerEvent(data any) {
	switch ev := data.(type) {
	case *slackevents.MessageEvent:
		if ev == nil || ev.User == c.botUserID {
			return
		}
		evt := chatapi.Event{
			Kind:    chatapi.EventMessage,
			ChatRef: ev.Channel,
			UserID:  ev.User,
			Text:    ev.Text,
		}
		if ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp {
			evt.ReplyToID = ev.ThreadTimeStamp
		}
		c.emit(evt)
	case *slackevents.AppMentionEvent:
		if ev == nil {
			return
		}
		c.emit(chatapi.Event{
			Kind:    chatapi.EventMessage,
			ChatRef: ev.Channel,
			UserID:  ev.User,
			Text:    stripMention(ev.Text, c.botUserID),
		})
	}
}

func (c *Channel) handleInteraction(cb slack.InteractionCallback) {
	if len(cb.ActionCallback.BlockActions) == 0 {
		return
	}
	action := cb.ActionCallback.BlockActions[0]
	c.emit(chatapi.Event{
		Kind:         chatapi.EventCallback,
		ChatRef:      cb.Channel.ID,
		UserID:       cb.User.ID,
		Handle:       cb.User.Name,
		CallbackID:   cb.ResponseURL,
		CallbackData: action.Value,
		MessageID:    cb.Message.Timestamp,
	})
}

func (c *Channel) handleSlashCommand(cmd slack.SlashCommand) {
	name, args, _ := strings.Cut(strings.TrimSpace(cmd.Text), " ")
	if name == "" {
		name = strings.TrimPrefix(cmd.Command, "/")
	}
	c.emit(chatapi.Event{
		Kind:    chatapi.EventCommand,
		ChatRef: cmd.ChannelID,
		UserID:  cmd.UserID,
		Handle:  cmd.UserName,
		Command: name,
		Args:    args,
	})
}

func (c *Channel) emit(evt chatapi.Event) {
	select {
	case c.events <- evt:
	default:
		log.Warn().Str("channel", "slack").Msg("inbound event buffer full, dropping update")
	}
}

func stripMention(text, botUserID string) string {
	if botUserID == "" {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(strings.ReplaceAll(text, "<@"+botUserID+">", ""))
}

// Send implements chatapi.Adapter.
func (c *Channel) Send(ctx context.Context, chatRef, text, replyTo string, buttons chatapi.ButtonSet) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if blocks := toBlocks(buttons); len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	if replyTo != "" {
		opts = append(opts, slack.MsgOptionTS(replyTo))
	}
	_, ts, err := c.api.PostMessageContext(ctx, chatRef, opts...)
	if err != nil {
		return "", apperr.Chatf(err, "slack post message to %s", chatRef)
	}
	return ts, nil
}

// Edit implements chatapi.Adapter.
func (c *Channel) Edit(ctx context.Context, chatRef, messageID, text string, buttons chatapi.ButtonSet) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if blocks := toBlocks(buttons); len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	} else {
		opts = append(opts, slack.MsgOptionBlocks())
	}
	if _, _, _, err := c.api.UpdateMessageContext(ctx, chatRef, messageID, opts...); err != nil {
		return apperr.Chatf(err, "slack update message %s/%s", chatRef, messageID)
	}
	return nil
}

// Pin implements chatapi.Adapter. Slack returns an error for a message
// that is already pinned; that case is swallowed so the call is idempotent.
func (c *Channel) Pin(ctx context.Context, chatRef, messageID string) error {
	err := c.api.AddPinContext(ctx, chatRef, slack.ItemRef{Channel: chatRef, Timestamp: messageID})
	if err != nil && !strings.Contains(err.Error(), "already_pinned") {
		return apperr.Chatf(err, "slack pin %s/%s", chatRef, messageID)
	}
	return nil
}

// Unpin implements chatapi.Adapter, idempotent the same way as Pin.
func (c *Channel) Unpin(ctx context.Context, chatRef, messageID string) error {
	err := c.api.RemovePinContext(ctx, chatRef, slack.ItemRef{Channel: chatRef, Timestamp: messageID})
	if err != nil && !strings.Contains(err.Error(), "no_pin") {
		return apperr.Chatf(err, "slack unpin %s/%s", chatRef, messageID)
	}
	return nil
}

// AnswerCallback implements chatapi.Adapter. Slack has no standalone
// callback-ack RPC; callbackID carries the interaction's response_url and
// ackText is posted there as an ephemeral follow-up. alert widens it to a
// normal (non-ephemeral) message, the closest Slack equivalent to a modal.
func (c *Channel) AnswerCallback(ctx context.Context, callbackID, ackText string, alert bool) error {
	if callbackID == "" || ackText == "" {
		return nil
	}
	respType := "ephemeral"
	if alert {
		respType = "in_channel"
	}
	body, err := json.Marshal(map[string]string{"response_type": respType, "text": ackText})
	if err != nil {
		return apperr.Chatf(err, "encode slack callback ack")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackID, bytes.NewReader(body))
	if err != nil {
		return apperr.Chatf(err, "build slack callback ack request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return apperr.Chatf(err, "post slack callback ack")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apperr.Chatf(nil, "slack callback ack status %d", resp.StatusCode)
	}
	return nil
}

func toBlocks(buttons chatapi.ButtonSet) []slack.Block {
	var blocks []slack.Block
	for ri, row := range buttons {
		elements := make([]slack.BlockElement, 0, len(row))
		for bi, btn := range row {
			elements = append(elements, slack.NewButtonBlockElement(
				"triagebot_"+strconv.Itoa(ri)+"_"+strconv.Itoa(bi),
				btn.CallbackData,
				slack.NewTextBlockObject(slack.PlainTextType, btn.Label, false, false),
			))
		}
		blocks = append(blocks, slack.NewActionBlock("triagebot_row_"+strconv.Itoa(ri), elements...))
	}
	return blocks
}
