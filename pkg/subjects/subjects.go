// Package subjects builds the broker subject names shared by the relay and
// the auth callout. Both sides must agree on them exactly: the callout grants
// a connecting deployment the very subjects the relay publishes and consumes.
package subjects

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	// InitiateChat is shared by every new conversation.
	InitiateChat = "chat.server.initiate_chat"

	serverMessagesPrefix = "chat.server.messages"
	clientMessagesPrefix = "chat.client.messages"

	inboxPrefix = "_INBOX_"
)

// ErrInvalidToken is returned when a subject parameter is not a single literal token.
var ErrInvalidToken = errors.New("invalid subject token")

// ValidToken reports whether s can be used as one literal subject token.
func ValidToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r == '.' || r == '*' || r == '>' || unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// Thread identifies one conversation on the broker.
type Thread struct {
	UserID       string
	DeploymentID string
	ThreadID     string
}

// Validate checks every field is a usable subject token.
func (t Thread) Validate() error {
	for name, v := range map[string]string{
		"user id":       t.UserID,
		"deployment id": t.DeploymentID,
		"thread id":     t.ThreadID,
	} {
		if !ValidToken(v) {
			return fmt.Errorf("%w: %s %q", ErrInvalidToken, name, v)
		}
	}
	return nil
}

// ServerMessages is the client→server subject carrying turn input.
func (t Thread) ServerMessages() (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	return strings.Join([]string{serverMessagesPrefix, t.UserID, t.DeploymentID, t.ThreadID}, "."), nil
}

// ClientMessages is the server→client subject carrying turn output.
func (t Thread) ClientMessages() (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	return strings.Join([]string{clientMessagesPrefix, t.UserID, t.DeploymentID, t.ThreadID}, "."), nil
}

// InboxPrefix is the reply inbox prefix a thread's client connection uses.
func InboxPrefix(threadID string) (string, error) {
	if !ValidToken(threadID) {
		return "", fmt.Errorf("%w: thread id %q", ErrInvalidToken, threadID)
	}
	return inboxPrefix + threadID, nil
}

// ClientStreamSubjects is the subject filter of the stream holding server→client output.
func ClientStreamSubjects() []string {
	return []string{clientMessagesPrefix + ".>"}
}

// StreamManagement lists the JetStream API subjects a client needs to look up
// the named stream and run an ordered consumer on it. Every entry is scoped to
// that one stream.
func StreamManagement(stream string) ([]string, error) {
	if !ValidToken(stream) {
		return nil, fmt.Errorf("%w: stream %q", ErrInvalidToken, stream)
	}
	return []string{
		"$JS.API.INFO",
		"$JS.API.STREAM.INFO." + stream,
		"$JS.API.CONSUMER.CREATE." + stream + ".>",
		"$JS.API.CONSUMER.INFO." + stream + ".>",
		"$JS.API.CONSUMER.DELETE." + stream + ".>",
		"$JS.API.CONSUMER.MSG.NEXT." + stream + ".>",
	}, nil
}
