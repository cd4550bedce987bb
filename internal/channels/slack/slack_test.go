package slack

import (
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/deskline-ops/triagebot/internal/chatapi"
)

func TestStripMentionRemovesBotTag(t *testing.T) {
	got := stripMention("<@U123> new_issue please", "U123")
	if got != "new_issue please" {
		t.Fatalf("expected mention stripped, got %q", got)
	}
}

func TestStripMentionNoBotIDReturnsTrimmed(t *testing.T) {
	got := stripMention("  hello  ", "")
	if got != "hello" {
		t.Fatalf("expected trimmed text, got %q", got)
	}
}

func TestToBlocksBuildsOneRowPerButtonRow(t *testing.T) {
	buttons := chatapi.ButtonSet{
		{{Label: "Networking", CallbackData: "select_department:INC-1:1"}},
		{
			{Label: "Claim", CallbackData: "claim:INC-1"},
			{Label: "Release", CallbackData: "release:INC-1"},
		},
	}
	blocks := toBlocks(buttons)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 action blocks, got %d", len(blocks))
	}
	row, ok := blocks[1].(*slack.ActionBlock)
	if !ok {
		t.Fatalf("expected an ActionBlock, got %T", blocks[1])
	}
	if len(row.Elements.ElementSet) != 2 {
		t.Fatalf("expected 2 buttons in second row, got %d", len(row.Elements.ElementSet))
	}
}

func TestToBlocksEmptyButtonSetReturnsNoBlocks(t *testing.T) {
	if blocks := toBlocks(nil); len(blocks) != 0 {
		t.Fatalf("expected no blocks for an empty button set, got %d", len(blocks))
	}
}

func newTestChannel() *Channel {
	return &Channel{
		events:    make(chan chatapi.Event, 8),
		botUserID: "UBOT",
	}
}

func TestHandleInnerEventIgnoresOwnMessages(t *testing.T) {
	c := newTestChannel()
	c.handleInnerEvent(&slackevents.MessageEvent{Channel: "C1", User: "UBOT", Text: "hi"})
	select {
	case evt := <-c.events:
		t.Fatalf("expected no event for the bot's own message, got %+v", evt)
	default:
	}
}

func TestHandleInnerEventEmitsMessage(t *testing.T) {
	c := newTestChannel()
	c.handleInnerEvent(&slackevents.MessageEvent{
		Channel: "C1", User: "U1", Text: "the printer is on fire",
		TimeStamp: "100.1", ThreadTimeStamp: "99.0",
	})
	evt := <-c.events
	if evt.Kind != chatapi.EventMessage || evt.ChatRef != "C1" || evt.UserID != "U1" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.ReplyToID != "99.0" {
		t.Fatalf("expected thread reply id carried through, got %q", evt.ReplyToID)
	}
}

func TestHandleInnerEventEmitsAppMentionWithMentionStripped(t *testing.T) {
	c := newTestChannel()
	c.handleInnerEvent(&slackevents.AppMentionEvent{
		Channel: "C1", User: "U1", Text: "<@UBOT> new_issue",
	})
	evt := <-c.events
	if evt.Text != "new_issue" {
		t.Fatalf("expected mention stripped from text, got %q", evt.Text)
	}
}

func TestHandleInteractionEmitsCallback(t *testing.T) {
	c := newTestChannel()
	cb := slack.InteractionCallback{
		ActionCallback: slack.ActionCallbacks{
			BlockActions: []*slack.BlockAction{{Value: "claim:INC-1"}},
		},
	}
	cb.Channel.ID = "C1"
	cb.User.ID = "U1"
	cb.User.Name = "agent1"
	cb.ResponseURL = "https://hooks.slack.com/actions/x"
	cb.Message.Timestamp = "100.1"

	c.handleInteraction(cb)
	evt := <-c.events
	if evt.Kind != chatapi.EventCallback || evt.CallbackData != "claim:INC-1" || evt.CallbackID != cb.ResponseURL {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestHandleInteractionNoBlockActionsEmitsNothing(t *testing.T) {
	c := newTestChannel()
	c.handleInteraction(slack.InteractionCallback{})
	select {
	case evt := <-c.events:
		t.Fatalf("expected no event for an interaction with no block actions, got %+v", evt)
	default:
	}
}

func TestHandleSlashCommandSplitsNameAndArgs(t *testing.T) {
	c := newTestChannel()
	c.handleSlashCommand(slack.SlashCommand{
		Command: "/triage", Text: "new_issue", ChannelID: "C1", UserID: "U1", UserName: "reporter",
	})
	evt := <-c.events
	if evt.Command != "new_issue" || evt.Args != "" {
		t.Fatalf("unexpected command parse: %+v", evt)
	}
}

func TestHandleSlashCommandFallsBackToCommandNameWhenTextEmpty(t *testing.T) {
	c := newTestChannel()
	c.handleSlashCommand(slack.SlashCommand{Command: "/report", ChannelID: "C1", UserID: "admin1"})
	evt := <-c.events
	if evt.Command != "report" {
		t.Fatalf("expected command name derived from slash command, got %q", evt.Command)
	}
}

func TestEmitDropsWhenBufferFull(t *testing.T) {
	c := &Channel{events: make(chan chatapi.Event, 1)}
	c.emit(chatapi.Event{ChatRef: "first"})
	c.emit(chatapi.Event{ChatRef: "second"})

	evt := <-c.events
	if evt.ChatRef != "first" {
		t.Fatalf("expected the first event to have been kept, got %q", evt.ChatRef)
	}
	select {
	case evt := <-c.events:
		t.Fatalf("expected the second event dropped, got %+v", evt)
	default:
	}
}
