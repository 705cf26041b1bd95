package relay

import "context"

// Turn is the end-of-turn state handed to a Persister.
type Turn struct {
	ThreadID         string
	ConversationID   int64
	Message          string
	History          string
	SmartSuggestions []string
	Terminated       bool
}

// Persister stores the result of a finished turn.
//
//go:generate mockgen -package=relay -destination=mock_persister_test.go github.com/airtai/fastagency-sub000/pkg/relay Persister
type Persister interface {
	PersistTurn(ctx context.Context, turn Turn) error
}

// PersisterFunc adapts a function to a Persister.
type PersisterFunc func(ctx context.Context, turn Turn) error

func (f PersisterFunc) PersistTurn(ctx context.Context, turn Turn) error {
	return f(ctx, turn)
}

// Emitter pushes turn progress to the browser clients of a thread.
//
//go:generate mockgen -package=relay -destination=mock_emitter_test.go github.com/airtai/fastagency-sub000/pkg/relay Emitter
type Emitter interface {
	// NewMessageFromTeam carries the text accumulated so far in the turn.
	NewMessageFromTeam(threadID, text string)
	// StreamFromTeamFinished signals the turn is over.
	StreamFromTeamFinished(threadID string)
}
