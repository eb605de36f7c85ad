// Package event defines the core event log data types.
package event

import (
	"fmt"
	"time"
)

// Kind classifies an event. The enumeration is closed: new kinds are added
// here, never compared as free-form strings elsewhere.
type Kind string

const (
	KindUserMessage       Kind = "user_message"
	KindAgentMessage      Kind = "agent_message"
	KindToolCall          Kind = "tool_call"
	KindToolResult        Kind = "tool_result"
	KindSystemEvent       Kind = "system_event"
	KindCompactionMarker  Kind = "compaction_marker"
	KindArtifactReference Kind = "artifact_reference"
	KindPersonaState      Kind = "persona_state"
	KindProbeResult       Kind = "probe_result"
	KindHumorAttempt      Kind = "humor_attempt"
	KindHumorAssociation  Kind = "humor_association"
	KindDebateSynthesis   Kind = "debate_synthesis"
	KindDebateTrace       Kind = "debate_trace"
)

var validKinds = map[Kind]bool{
	KindUserMessage:       true,
	KindAgentMessage:      true,
	KindToolCall:          true,
	KindToolResult:        true,
	KindSystemEvent:       true,
	KindCompactionMarker:  true,
	KindArtifactReference: true,
	KindPersonaState:      true,
	KindProbeResult:       true,
	KindHumorAttempt:      true,
	KindHumorAssociation:  true,
	KindDebateSynthesis:   true,
	KindDebateTrace:       true,
}

// Valid reports whether k is a member of the closed enumeration.
func (k Kind) Valid() bool { return validKinds[k] }

// ParseKind converts a string into a Kind, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// nonEvictable holds the kinds compaction must never remove from the live
// view. debate_synthesis joins the set only when configured; the compaction
// engine checks that separately.
var nonEvictable = map[Kind]bool{
	KindCompactionMarker: true,
	KindPersonaState:     true,
	KindSystemEvent:      true,
}

// NonEvictable reports whether events of this kind are permanently protected
// from eviction.
func (k Kind) NonEvictable() bool { return nonEvictable[k] }

// EmbeddingStatus tracks the async embedding lifecycle of an event.
type EmbeddingStatus string

const (
	EmbeddingPending  EmbeddingStatus = "pending"
	EmbeddingComplete EmbeddingStatus = "complete"
	EmbeddingFailed   EmbeddingStatus = "failed"
)

// DefaultImportance is assumed when metadata carries no importance score.
const DefaultImportance = 5

// Metadata holds the optional fields attached to an event.
type Metadata struct {
	TaskID          string          `json:"task_id,omitempty"`
	PremiseRef      string          `json:"premise_ref,omitempty"`
	SupersededBy    string          `json:"superseded_by,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	ArtifactID      string          `json:"artifact_id,omitempty"`
	EmbeddingStatus EmbeddingStatus `json:"embedding_status,omitempty"`
	Importance      int             `json:"importance,omitempty"`
}

// HasTag reports whether the metadata carries the given tag.
func (m Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ImportanceOrDefault returns the importance score, defaulting to 5.
func (m Metadata) ImportanceOrDefault() int {
	if m.Importance < 1 || m.Importance > 10 {
		return DefaultImportance
	}
	return m.Importance
}

// Event is one immutable, ordered record in a session's history. Corrections
// are new events referencing the old one, never mutations.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	TurnID     int       `json:"turn_id"`
	SessionKey string    `json:"session_key"`
	Kind       Kind      `json:"kind"`
	Content    string    `json:"content"`
	Tokens     int       `json:"tokens"`
	Metadata   Metadata  `json:"metadata"`
}

// EstimateTokens approximates the token count of text at ~4 bytes per token.
// Every component uses this same estimator so budgets computed in one place
// are comparable in another.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
