package relay

import (
	"encoding/json"
	"strings"
)

// Kind classifies a message from the agent side.
type Kind string

const (
	KindPrint     Kind = "print"
	KindTerminate Kind = "terminate"
	KindError     Kind = "error"
)

const (
	// ErrorSuffix is appended to the text of an error message.
	ErrorSuffix = "\n\nOops! Something went wrong. Please try again later, and if the problem persists, contact support."
	// TimeoutMessage is stored when the agents stop answering.
	TimeoutMessage = "It looks like the agents are taking too long to respond. Please try again later."
)

// Envelope is a decoded message on a thread's server→client subject.
type Envelope struct {
	Kind Kind
	Text string
}

type wireEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Msg    *string `json:"msg"`
		Prompt *string `json:"prompt"`
	} `json:"data"`
}

// DecodeEnvelope parses data. Payloads that are not an envelope decode as a
// print fragment carrying the raw text, with ok set to false.
func DecodeEnvelope(data []byte) (env Envelope, ok bool) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil || w.Type == "" {
		return Envelope{Kind: KindPrint, Text: string(data)}, false
	}
	env.Kind = Kind(strings.ToLower(strings.TrimSpace(w.Type)))
	switch {
	case w.Data.Msg != nil:
		env.Text = *w.Data.Msg
	case w.Data.Prompt != nil:
		env.Text = *w.Data.Prompt
	}
	return env, true
}

// Terminal reports whether the envelope ends the turn.
func (e Envelope) Terminal() bool {
	return e.Kind == KindTerminate || e.Kind == KindError
}

// Reply is the final answer of a turn.
type Reply struct {
	Message          string   `json:"message"`
	SmartSuggestions []string `json:"smart_suggestions"`
}

// DecodeReply parses the final text of a turn. Text that is not a reply
// object becomes the message itself with no suggestions.
func DecodeReply(text string) (Reply, bool) {
	var r Reply
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &r); err == nil && r.Message != "" {
			if r.SmartSuggestions == nil {
				r.SmartSuggestions = []string{}
			}
			return r, true
		}
	}
	return Reply{Message: text, SmartSuggestions: []string{}}, false
}
