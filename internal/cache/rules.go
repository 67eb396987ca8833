package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const ruleSelectCols = `
	SELECT id, account_id, name, enabled, priority, condition_logic, conditions, actions,
		stop_on_match, created_at
	FROM rules`

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var logic, conditionsJSON, actionsJSON string
	err := row.Scan(&r.ID, &r.AccountID, &r.Name, &r.Enabled, &r.Priority, &logic,
		&conditionsJSON, &actionsJSON, &r.StopOnMatch, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.ConditionLogic = ConditionLogic(logic)
	_ = json.Unmarshal([]byte(conditionsJSON), &r.Conditions)
	_ = json.Unmarshal([]byte(actionsJSON), &r.Actions)
	return &r, nil
}

// SaveRule inserts or replaces a rule by id.
func (s *Store) SaveRule(r *Rule) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return err
	}
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO rules (id, account_id, name, enabled, priority, condition_logic, conditions,
			actions, stop_on_match, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, enabled=excluded.enabled, priority=excluded.priority,
			condition_logic=excluded.condition_logic, conditions=excluded.conditions,
			actions=excluded.actions, stop_on_match=excluded.stop_on_match`,
		r.ID, r.AccountID, r.Name, r.Enabled, r.Priority, string(r.ConditionLogic),
		string(conditions), string(actions), r.StopOnMatch, r.CreatedAt)
	return err
}

// ListRulesOrdered returns every enabled rule for an account, ordered by
// priority ascending then created_at — the evaluation order required by
// §4.8.
func (s *Store) ListRulesOrdered(accountID string) ([]*Rule, error) {
	rows, err := s.db.Query(ruleSelectCols+`
		WHERE account_id=? AND enabled=1 ORDER BY priority ASC, created_at ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRule removes a rule by id.
func (s *Store) DeleteRule(id string) error {
	_, err := s.db.Exec(`DELETE FROM rules WHERE id=?`, id)
	return err
}

// RuleEffect is one already-resolved cache-side effect of a matched rule's
// action on a single message, ready to be applied by ApplyRuleEffects.
// TagID and DestFolderID are populated only for the actions that need them.
type RuleEffect struct {
	Kind         RuleActionKind
	TagID        string
	DestFolderID string
}

// ApplyRuleEffects commits every cache-side effect of a matched rule's
// actions against one message in a single transaction: if any effect fails,
// none of them persist (§4.8, "if any step fails, no effects persist").
// msg.Flags must already reflect any mark_read/mark_starred action; server
// communication (forward, IMAP-side move) is the caller's responsibility
// and happens outside this transaction.
func (s *Store) ApplyRuleEffects(accountID string, msg *Message, effects []RuleEffect) error {
	if len(effects) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range effects {
		switch e.Kind {
		case ActionMarkRead, ActionMarkStarred:
			if _, err := tx.Exec(`
				UPDATE messages SET seen=?, flagged=?, deleted=?, draft=?, answered=?
				WHERE account_id=? AND folder_id=? AND uid=?`,
				msg.Flags.Seen, msg.Flags.Flagged, msg.Flags.Deleted, msg.Flags.Draft, msg.Flags.Answered,
				accountID, msg.FolderID, msg.UID); err != nil {
				return err
			}
		case ActionDelete:
			if _, err := tx.Exec(`DELETE FROM messages WHERE local_id=?`, msg.LocalID); err != nil {
				return err
			}
		case ActionApplyTag:
			if _, err := tx.Exec(`INSERT OR IGNORE INTO message_tags (message_local_id, tag_id) VALUES (?,?)`,
				msg.LocalID, e.TagID); err != nil {
				return err
			}
		case ActionMoveToFolder:
			if _, err := tx.Exec(`UPDATE messages SET folder_id=? WHERE local_id=?`, e.DestFolderID, msg.LocalID); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}
