package cache

import (
	"database/sql"
	"errors"
)

// UpsertOAuthToken inserts or replaces the sealed token pair for
// (account_id, provider_tag).
func (s *Store) UpsertOAuthToken(t *OAuthToken) error {
	_, err := s.db.Exec(`
		INSERT INTO oauth_tokens (account_id, provider_tag, access_token_sealed,
			refresh_token_sealed, expires_at, scope)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(account_id, provider_tag) DO UPDATE SET
			access_token_sealed=excluded.access_token_sealed,
			refresh_token_sealed=excluded.refresh_token_sealed,
			expires_at=excluded.expires_at, scope=excluded.scope`,
		t.AccountID, t.ProviderTag, t.AccessTokenSealed, t.RefreshTokenSealed, t.ExpiresAt, t.Scope)
	return err
}

// GetOAuthToken fetches the sealed token pair for one account/provider.
func (s *Store) GetOAuthToken(accountID, providerTag string) (*OAuthToken, error) {
	var t OAuthToken
	err := s.db.QueryRow(`
		SELECT account_id, provider_tag, access_token_sealed, refresh_token_sealed, expires_at, scope
		FROM oauth_tokens WHERE account_id=? AND provider_tag=?`, accountID, providerTag).
		Scan(&t.AccountID, &t.ProviderTag, &t.AccessTokenSealed, &t.RefreshTokenSealed, &t.ExpiresAt, &t.Scope)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// DeleteOAuthToken removes a token pair, e.g. on revoked-grant.
func (s *Store) DeleteOAuthToken(accountID, providerTag string) error {
	_, err := s.db.Exec(`DELETE FROM oauth_tokens WHERE account_id=? AND provider_tag=?`, accountID, providerTag)
	return err
}
