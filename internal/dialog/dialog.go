package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when the engine answers without a query result.
var ErrEmptyResponse = errors.New("dialog: empty response")

// Request is one text turn sent to the dialog engine.
type Request struct {
	SessionPath     string
	Text            string
	LanguageCode    string
	SampleRateHertz int // Sample rate of the requested LINEAR16 reply audio
}

// Result is the converted engine response for one turn.
type Result struct {
	QueryText     string   // Text the engine matched against
	ResponseTexts []string // Text response segments, in engine order
	MatchedIntent string   // Display name, empty when no intent matched
	CurrentPage   string   // Display name of the current page
	OutputAudio   []byte   // Synthesized reply audio, may be empty
}

// AgentResponse joins all text segments into one reply string.
func (r *Result) AgentResponse() string {
	return strings.Join(r.ResponseTexts, "")
}

// Client defines the interface for dialog engines.
type Client interface {
	DetectIntent(ctx context.Context, req Request) (*Result, error)
}

// Agent identifies the dialog agent sessions are created on.
type Agent struct {
	ProjectID string
	Location  string
	AgentID   string
}

// SessionPath returns the resource name of the session sessionID on agent a.
func (a Agent) SessionPath(sessionID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/agents/%s/sessions/%s",
		a.ProjectID, a.Location, a.AgentID, sessionID)
}

// Endpoint returns the regional API endpoint for location. The global
// location is served by the un-prefixed host.
func Endpoint(location string) string {
	if location == "" || location == "global" {
		return "dialogflow.googleapis.com:443"
	}
	return location + "-dialogflow.googleapis.com:443"
}
