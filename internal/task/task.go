// Package task maintains the per-session working state: what the session is
// trying to do, under which constraints, and where it left off. The state is
// versioned; goals and constraints carry a content fingerprint so premise
// drift is detectable across compactions and restarts.
package task

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Phase describes where a session currently is in its work cycle.
type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseExecuting Phase = "executing"
	PhaseDebugging Phase = "debugging"
	PhaseReviewing Phase = "reviewing"
	PhaseIdle      Phase = "idle"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhasePlanning, PhaseExecuting, PhaseDebugging, PhaseReviewing, PhaseIdle:
		return true
	}
	return false
}

// State is the single live task state of a session. Structural updates go
// through Apply, which bumps the version and recomputes the premise
// fingerprint.
type State struct {
	Version        int               `json:"version"`
	TaskID         string            `json:"task_id"`
	Phase          Phase             `json:"phase"`
	Goals          []string          `json:"goals,omitempty"`
	Constraints    []string          `json:"constraints,omitempty"`
	OpenLoops      []string          `json:"open_loops,omitempty"`
	NextActions    []string          `json:"next_actions,omitempty"`
	KeyEvents      []string          `json:"key_events,omitempty"`
	PremiseVersion string            `json:"premise_version"`
	Extensions     map[string]string `json:"extensions,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
	UpdatedByTurn  int               `json:"updated_by_turn"`
}

// Update carries the fields of a structural state change. Nil slices leave
// the current value untouched; empty non-nil slices clear it.
type Update struct {
	TaskID      string
	Phase       Phase
	Goals       []string
	Constraints []string
	OpenLoops   []string
	NextActions []string
	KeyEvents   []string
	Extensions  map[string]string
}

// New returns a version-1 idle state for a task.
func New(taskID string) *State {
	s := &State{
		Version:   1,
		TaskID:    taskID,
		Phase:     PhaseIdle,
		UpdatedAt: time.Now().UTC(),
	}
	s.PremiseVersion = PremiseFingerprint(s.Goals, s.Constraints)
	return s
}

// PremiseFingerprint hashes goals and constraints into a short stable id.
// It changes exactly when the premise (not progress bookkeeping) changes.
func PremiseFingerprint(goals, constraints []string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(goals, "\n")))
	h.Write([]byte("---"))
	h.Write([]byte(strings.Join(constraints, "\n")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Apply merges an update into the state: version bump, fingerprint
// recompute, timestamp refresh. The receiver is modified in place.
func (s *State) Apply(u Update, turnID int) {
	if u.TaskID != "" {
		s.TaskID = u.TaskID
	}
	if u.Phase != "" {
		s.Phase = u.Phase
	}
	if u.Goals != nil {
		s.Goals = u.Goals
	}
	if u.Constraints != nil {
		s.Constraints = u.Constraints
	}
	if u.OpenLoops != nil {
		s.OpenLoops = u.OpenLoops
	}
	if u.NextActions != nil {
		s.NextActions = u.NextActions
	}
	if u.KeyEvents != nil {
		s.KeyEvents = u.KeyEvents
	}
	if u.Extensions != nil {
		if s.Extensions == nil {
			s.Extensions = make(map[string]string, len(u.Extensions))
		}
		for k, v := range u.Extensions {
			s.Extensions[k] = v
		}
	}

	s.Version++
	s.PremiseVersion = PremiseFingerprint(s.Goals, s.Constraints)
	s.UpdatedAt = time.Now().UTC()
	s.UpdatedByTurn = turnID
}

// Render produces the compact multi-line form injected into context packs.
func (s *State) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s (phase: %s, v%d, premise %s)\n", s.TaskID, s.Phase, s.Version, s.PremiseVersion)
	writeList(&b, "Goals", s.Goals)
	writeList(&b, "Constraints", s.Constraints)
	writeList(&b, "Open loops", s.OpenLoops)
	writeList(&b, "Next actions", s.NextActions)
	writeList(&b, "Key events", s.KeyEvents)
	return strings.TrimRight(b.String(), "\n")
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(label + ":\n")
	for _, it := range items {
		b.WriteString("- " + it + "\n")
	}
}
