package rules

import (
	"testing"

	"github.com/hkdb/mailengine/internal/cache"
)

func TestMatchesAllLogicRequiresEveryCondition(t *testing.T) {
	r := &cache.Rule{
		ConditionLogic: cache.LogicAll,
		Conditions: []cache.RuleCondition{
			{Kind: cache.CondFromContains, Value: "boss@example.com"},
			{Kind: cache.CondSubjectContains, Value: "urgent"},
		},
	}
	msg := &cache.Message{FromEmail: "boss@example.com", Subject: "not very urgent at all"}
	if !matches(r, msg) {
		t.Fatalf("expected match when both conditions hold")
	}

	msg.Subject = "quarterly numbers"
	if matches(r, msg) {
		t.Fatalf("expected no match once one condition fails under LogicAll")
	}
}

func TestMatchesAnyLogicRequiresOneCondition(t *testing.T) {
	r := &cache.Rule{
		ConditionLogic: cache.LogicAny,
		Conditions: []cache.RuleCondition{
			{Kind: cache.CondFromContains, Value: "noreply@"},
			{Kind: cache.CondHasAttachment},
		},
	}
	msg := &cache.Message{FromEmail: "person@example.com", HasAttachments: true}
	if !matches(r, msg) {
		t.Fatalf("expected match via the attachment condition alone")
	}
}

func TestMatchesEmptyConditionsNeverMatch(t *testing.T) {
	r := &cache.Rule{ConditionLogic: cache.LogicAll}
	if matches(r, &cache.Message{}) {
		t.Fatalf("a rule with no conditions should never match")
	}
}

func TestMatchOneIsUnreadAndStarred(t *testing.T) {
	msg := &cache.Message{Flags: cache.Flags{Seen: false, Flagged: true}}
	if !matchOne(cache.RuleCondition{Kind: cache.CondIsUnread}, msg) {
		t.Fatalf("expected unread condition to match an unseen message")
	}
	if !matchOne(cache.RuleCondition{Kind: cache.CondIsStarred}, msg) {
		t.Fatalf("expected starred condition to match a flagged message")
	}
}

func TestContainsFoldIsCaseInsensitive(t *testing.T) {
	if !containsFold("Hello World", "WORLD") {
		t.Fatalf("expected case-insensitive substring match")
	}
	if containsFold("Hello World", "planet") {
		t.Fatalf("expected no match for an absent substring")
	}
}

func TestAnyContainsFold(t *testing.T) {
	if !anyContainsFold([]string{"a@example.com", "b@example.com"}, "B@EXAMPLE") {
		t.Fatalf("expected a match within the recipient list")
	}
	if anyContainsFold([]string{"a@example.com"}, "nope") {
		t.Fatalf("expected no match")
	}
}
