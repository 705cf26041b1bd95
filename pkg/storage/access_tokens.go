package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/airtai/fastagency-sub000/pkg/credentials"
)

// AccessToken is a provisioned deployment credential, without its secret.
type AccessToken struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deploymentId"`
	UserID       int64     `json:"userId"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// CreateAccessToken stores a new access token for deploymentID, hashing the
// provided secret with a random salt.
func (s *Store) CreateAccessToken(ctx context.Context, deploymentID string, userID int64, name, secret string, ttl time.Duration) (*AccessToken, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	deploymentID = strings.TrimSpace(deploymentID)
	if deploymentID == "" {
		return nil, fmt.Errorf("deployment id is required")
	}
	if secret == "" {
		return nil, fmt.Errorf("secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "token-" + ulid.Make().String()
	}

	hash, err := credentials.HashSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}

	now := s.now().UTC()
	tok := &AccessToken{
		ID:           strings.ToLower(ulid.Make().String()),
		DeploymentID: deploymentID,
		UserID:       userID,
		Name:         name,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO access_tokens (id, deployment_id, user_id, name, token_hash, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), tok.ID, tok.DeploymentID, tok.UserID, tok.Name, hash, tok.CreatedAt, tok.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// ActiveAccessTokens returns the records of deploymentID that expire after
// now, newest first. It implements credentials.Lookup.
func (s *Store) ActiveAccessTokens(ctx context.Context, deploymentID string, now time.Time) ([]credentials.Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT deployment_id, token_hash, user_id, expires_at
		FROM access_tokens
		WHERE deployment_id = ? AND expires_at > ?
		ORDER BY created_at DESC
	`), deploymentID, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []credentials.Record
	for rows.Next() {
		var rec credentials.Record
		if err := rows.Scan(&rec.DeploymentID, &rec.TokenHash, &rec.UserID, &rec.ExpiresAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListAccessTokens returns every token of deploymentID, including expired ones.
func (s *Store) ListAccessTokens(ctx context.Context, deploymentID string) ([]AccessToken, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, deployment_id, user_id, name, created_at, expires_at
		FROM access_tokens
		WHERE deployment_id = ?
		ORDER BY created_at DESC
	`), deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []AccessToken
	for rows.Next() {
		var tok AccessToken
		var name sql.NullString
		if err := rows.Scan(&tok.ID, &tok.DeploymentID, &tok.UserID, &name, &tok.CreatedAt, &tok.ExpiresAt); err != nil {
			return nil, err
		}
		tok.Name = name.String
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}
