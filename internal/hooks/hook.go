// Package hooks implements the host-event entry points. Each hook is a
// short-lived invocation: read a JSON event from stdin, act, write a JSON
// payload to stdout. A hook that fails still emits a valid empty payload,
// because breaking the host's event pipeline is worse than skipping one
// injection.
package hooks

import (
	"encoding/json"
	"io"

	"github.com/google/uuid"
)

// Input is the event payload the host writes to the hook's stdin
type Input struct {
	CWD            string `json:"cwd"`
	SessionID      string `json:"session_id"`
	HookEventName  string `json:"hook_event_name"`
	Prompt         string `json:"prompt,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
}

// Output is the hook's response payload
type Output struct {
	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// HookSpecificOutput carries context to inject into the conversation
type HookSpecificOutput struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext,omitempty"`
}

// ReadInput decodes the event from r. A missing or unparseable payload
// yields a zero Input rather than an error; the hook degrades from there.
func ReadInput(r io.Reader) Input {
	var in Input
	data, err := io.ReadAll(r)
	if err == nil && len(data) > 0 {
		json.Unmarshal(data, &in)
	}
	if in.SessionID == "" {
		// Dedup is keyed by session; without an id every invocation would
		// share one bucket, so mint a throwaway instead.
		in.SessionID = uuid.NewString()
	}
	return in
}

// WriteOutput encodes the response to w
func WriteOutput(w io.Writer, out Output) error {
	return json.NewEncoder(w).Encode(out)
}

// ContextOutput builds a response injecting text for the given event.
// Empty text yields an empty payload.
func ContextOutput(event, text string) Output {
	if text == "" {
		return Output{}
	}
	return Output{HookSpecificOutput: &HookSpecificOutput{
		HookEventName:     event,
		AdditionalContext: text,
	}}
}
