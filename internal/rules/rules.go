// Package rules evaluates the per-account filter rules stored in the cache
// (§4.8) against newly cached messages and applies their actions.
package rules

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkdb/mailengine/internal/cache"
	"github.com/hkdb/mailengine/internal/logging"
)

// Mover issues the IMAP-side move when the account is online; local moves
// always happen in the cache regardless of online state.
type Mover interface {
	MoveOnServer(ctx context.Context, accountID, folderPath, destPath string, uid uint32) error
}

// Forwarder enqueues a forwarded copy of a message for sending.
type Forwarder interface {
	Forward(ctx context.Context, accountID string, msg *cache.Message, to string) error
}

// Engine evaluates rules for one store, optionally talking to an online
// account for move/forward side effects.
type Engine struct {
	store     *cache.Store
	mover     Mover
	forwarder Forwarder
	log       zerolog.Logger
}

// New constructs a rule Engine.
func New(store *cache.Store, mover Mover, forwarder Forwarder) *Engine {
	return &Engine{store: store, mover: mover, forwarder: forwarder, log: logging.WithComponent("rules")}
}

// Apply evaluates every enabled rule for msg's account, in priority order,
// applying the actions of the first (or every, depending on StopOnMatch)
// matching rule.
func (e *Engine) Apply(ctx context.Context, accountID string, msg *cache.Message) {
	rules, err := e.store.ListRulesOrdered(accountID)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to load rules")
		return
	}

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if !matches(r, msg) {
			continue
		}
		if err := e.applyRule(ctx, accountID, msg, r); err != nil {
			e.log.Warn().Err(err).Str("rule", r.Name).Msg("rule actions failed, no cache effects persisted")
		}
		if r.StopOnMatch {
			return
		}
	}
}

func matches(r *cache.Rule, msg *cache.Message) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	switch r.ConditionLogic {
	case cache.LogicAny:
		for _, c := range r.Conditions {
			if matchOne(c, msg) {
				return true
			}
		}
		return false
	default: // LogicAll
		for _, c := range r.Conditions {
			if !matchOne(c, msg) {
				return false
			}
		}
		return true
	}
}

func matchOne(c cache.RuleCondition, msg *cache.Message) bool {
	switch c.Kind {
	case cache.CondFromContains:
		return containsFold(msg.FromEmail, c.Value) || containsFold(msg.FromName, c.Value)
	case cache.CondToContains:
		return anyContainsFold(msg.To, c.Value)
	case cache.CondSubjectContains:
		return containsFold(msg.Subject, c.Value)
	case cache.CondBodyContains:
		return containsFold(msg.BodyPlain, c.Value)
	case cache.CondHasAttachment:
		return msg.HasAttachments
	case cache.CondIsUnread:
		return !msg.Flags.Seen
	case cache.CondIsStarred:
		return msg.Flags.Flagged
	case cache.CondDateAfter:
		t, err := time.Parse(time.RFC3339, c.Value)
		return err == nil && msg.DateUTC.After(t)
	case cache.CondDateBefore:
		t, err := time.Parse(time.RFC3339, c.Value)
		return err == nil && msg.DateUTC.Before(t)
	default:
		return false
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func anyContainsFold(list []string, substr string) bool {
	for _, s := range list {
		if containsFold(s, substr) {
			return true
		}
	}
	return false
}

// applyRule resolves every action of a matched rule into a cache.RuleEffect,
// issues any external side effects (IMAP-side move, forward) outside the
// transaction, and commits all of the message's cache effects in one call
// to ApplyRuleEffects so a later action's failure rolls back earlier ones
// (§4.8).
func (e *Engine) applyRule(ctx context.Context, accountID string, msg *cache.Message, r *cache.Rule) error {
	var effects []cache.RuleEffect
	for _, a := range r.Actions {
		switch a.Kind {
		case cache.ActionMarkRead:
			msg.Flags.Seen = true
			effects = append(effects, cache.RuleEffect{Kind: a.Kind})
		case cache.ActionMarkStarred:
			msg.Flags.Flagged = true
			effects = append(effects, cache.RuleEffect{Kind: a.Kind})
		case cache.ActionDelete:
			effects = append(effects, cache.RuleEffect{Kind: a.Kind})
		case cache.ActionApplyTag:
			effects = append(effects, cache.RuleEffect{Kind: a.Kind, TagID: a.Value})
		case cache.ActionMoveToFolder:
			dest, err := e.store.GetFolderByPath(accountID, a.Value)
			if err != nil {
				return err
			}
			e.moveOnServer(ctx, accountID, msg, a.Value)
			effects = append(effects, cache.RuleEffect{Kind: a.Kind, DestFolderID: dest.ID})
		case cache.ActionForward:
			if e.forwarder == nil {
				continue
			}
			if err := e.forwarder.Forward(ctx, accountID, msg, a.Value); err != nil {
				e.log.Warn().Err(err).Msg("forward action failed")
			}
		}
	}
	return e.store.ApplyRuleEffects(accountID, msg, effects)
}

// moveOnServer issues the IMAP-side move for a move_to_folder action, if an
// online Mover is configured. Failure here doesn't block the cache-only
// move: the two are allowed to diverge temporarily for an offline or
// unreachable account, unlike the cache effects in ApplyRuleEffects, which
// must not.
func (e *Engine) moveOnServer(ctx context.Context, accountID string, msg *cache.Message, destPath string) {
	if e.mover == nil {
		return
	}
	srcFolder, err := e.store.GetFolder(msg.FolderID)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to resolve source folder for server-side move")
		return
	}
	if err := e.mover.MoveOnServer(ctx, accountID, srcFolder.Path, destPath, msg.UID); err != nil {
		e.log.Warn().Err(err).Msg("server-side move failed, applying cache-only move")
	}
}
