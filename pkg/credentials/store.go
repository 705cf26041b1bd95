// Package credentials verifies the deployment secrets presented by chat
// clients against the provisioned access-token records.
package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/airtai/fastagency-sub000/pkg/errors"
)

var (
	// ErrNotFound means the deployment has no active access token.
	ErrNotFound = errors.New("credentials: not found")
	// ErrInvalidCredentials means no active record matched the secret.
	ErrInvalidCredentials = errors.New("credentials: invalid credentials")
)

// Record is a provisioned access token scoping one deployment.
type Record struct {
	DeploymentID string
	TokenHash    string
	UserID       int64
	ExpiresAt    time.Time
}

// Expired reports whether the record is no longer usable at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Lookup loads the access-token records of a deployment that have not
// expired at now.
type Lookup interface {
	ActiveAccessTokens(ctx context.Context, deploymentID string, now time.Time) ([]Record, error)
}

// Store verifies secrets using a Lookup backend. It never mutates records.
type Store struct {
	lookup Lookup
	now    func() time.Time
}

// NewStore creates a credential store backed by lookup.
func NewStore(lookup Lookup) *Store {
	return &Store{lookup: lookup, now: time.Now}
}

// Verify returns the first active record of deploymentID whose hash matches
// secret. It returns ErrNotFound when the deployment has no active record and
// ErrInvalidCredentials when none of them match.
func (s *Store) Verify(ctx context.Context, deploymentID, secret string) (*Record, error) {
	deploymentID = strings.TrimSpace(deploymentID)
	if deploymentID == "" {
		return nil, ErrNotFound
	}

	now := s.now()
	records, err := s.lookup.ActiveAccessTokens(ctx, deploymentID, now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "load access tokens").
			WithContext("deployment_id", deploymentID)
	}

	active := 0
	for _, rec := range records {
		// The backend filters on expiry too; clock skew between it and us is
		// resolved in favour of rejecting.
		if rec.Expired(now) {
			continue
		}
		active++
		ok, err := VerifySecret(secret, rec.TokenHash)
		if err != nil {
			continue
		}
		if ok {
			matched := rec
			return &matched, nil
		}
	}
	if active == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrInvalidCredentials
}
