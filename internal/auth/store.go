package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// User is a kino account. Accounts are OAuth-only: the pair
// (provider, provider_user_id) identifies a person.
type User struct {
	ID             uuid.UUID
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
	Role           string
}

var errTokenNotFound = errors.New("auth: refresh token not found")

// upsertUser inserts the user on first sign-in and refreshes the
// profile fields on every later one.
func (s *Service) upsertUser(ctx context.Context, u User) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, provider, provider_user_id, email, name, avatar_url, role)
		VALUES ($1, $2, $3, $4, $5, $6, 'user')
		ON CONFLICT (provider, provider_user_id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url
		RETURNING id, role`,
		uuid.New(), u.Provider, u.ProviderUserID, u.Email, u.Name, u.AvatarURL)
	if err := row.Scan(&u.ID, &u.Role); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Service) saveRefreshToken(ctx context.Context, hash string, userID uuid.UUID, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)`,
		hash, userID, expiresAt)
	return err
}

// lookupRefreshToken resolves a raw cookie token to its user, if the
// token exists and has not expired.
func (s *Service) lookupRefreshToken(ctx context.Context, raw string) (uuid.UUID, string, error) {
	var (
		userID uuid.UUID
		role   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.role
		FROM refresh_tokens rt
		JOIN users u ON u.id = rt.user_id
		WHERE rt.token_hash = $1 AND rt.expires_at > now()`,
		HashToken(raw)).Scan(&userID, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, "", errTokenNotFound
	}
	if err != nil {
		return uuid.Nil, "", err
	}
	return userID, role, nil
}

func (s *Service) deleteRefreshToken(ctx context.Context, raw string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE token_hash = $1`, HashToken(raw))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errTokenNotFound
	}
	return nil
}
