package callout

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/airtai/fastagency-sub000/pkg/subjects"
)

// Credential is the auth_token a chat client presents when connecting.
type Credential struct {
	DeploymentID string `json:"user"`
	Secret       string `json:"password"`
	ThreadID     string `json:"chat_uuid"`
}

// Encode renders the credential as the JSON auth_token string.
func (c Credential) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseCredential decodes and validates an auth_token string.
func ParseCredential(token string) (Credential, error) {
	var c Credential
	if strings.TrimSpace(token) == "" {
		return c, errors.New("empty auth_token")
	}
	if err := json.Unmarshal([]byte(token), &c); err != nil {
		return Credential{}, fmt.Errorf("decode auth_token: %w", err)
	}
	if c.DeploymentID == "" || c.Secret == "" || c.ThreadID == "" {
		return Credential{}, errors.New("auth_token requires user, password and chat_uuid")
	}
	if !subjects.ValidToken(c.DeploymentID) {
		return Credential{}, fmt.Errorf("%w: user", subjects.ErrInvalidToken)
	}
	if !subjects.ValidToken(c.ThreadID) {
		return Credential{}, fmt.Errorf("%w: chat_uuid", subjects.ErrInvalidToken)
	}
	return c, nil
}
