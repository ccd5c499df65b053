package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nevindra/parley"
)

// Decision is the outcome of a conflict check.
type Decision string

const (
	DecisionNew       Decision = "NEW"
	DecisionSame      Decision = "SAME"
	DecisionOverwrite Decision = "OVERWRITE"
	DecisionIgnore    Decision = "IGNORE"
	DecisionConflict  Decision = "CONFLICT"
)

// DefaultMaxPending caps the pending-conflict queue.
const DefaultMaxPending = 20

// ConflictManager detects contradictions between stored facts and new
// claims, keeps a bounded pending queue, and persists it as a single JSON
// file written atomically (temp file + rename).
type ConflictManager struct {
	path       string
	maxPending int
	logger     *slog.Logger

	mu        sync.Mutex
	conflicts []parley.Conflict
	now       func() int64
}

// ConflictOption configures a ConflictManager.
type ConflictOption func(*ConflictManager)

// WithMaxPending overrides the pending-queue cap.
func WithMaxPending(n int) ConflictOption {
	return func(m *ConflictManager) { m.maxPending = n }
}

// WithConflictLogger sets a structured logger.
func WithConflictLogger(l *slog.Logger) ConflictOption {
	return func(m *ConflictManager) { m.logger = l }
}

// NewConflictManager loads the conflict file at path, creating state from
// scratch when the file does not exist. A corrupt file is an error so the
// caller can abort startup rather than silently lose resolutions.
func NewConflictManager(path string, opts ...ConflictOption) (*ConflictManager, error) {
	m := &ConflictManager{
		path:       path,
		maxPending: DefaultMaxPending,
		logger:     nopLogger,
		now:        parley.NowUnix,
	}
	for _, o := range opts {
		o(m)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, &parley.ErrStore{Op: "conflicts_load", Err: err}
	}
	if err := json.Unmarshal(data, &m.conflicts); err != nil {
		return nil, &parley.ErrStore{Op: "conflicts_load", Err: err}
	}
	return m, nil
}

// Check classifies a new fact against an existing one:
//
//	no existing fact          → NEW
//	identical text            → SAME
//	new > 0.9 and old < 0.5   → OVERWRITE
//	old > 0.9 and new < 0.5   → IGNORE
//	otherwise                 → CONFLICT (registered for review)
func (m *ConflictManager) Check(subject, newFact string, newConf float64, source, existingFact string, existingConf float64) Decision {
	if existingFact == "" {
		return DecisionNew
	}
	if newFact == existingFact {
		return DecisionSame
	}
	if newConf > 0.9 && existingConf < 0.5 {
		return DecisionOverwrite
	}
	if existingConf > 0.9 && newConf < 0.5 {
		return DecisionIgnore
	}
	m.register(subject, newFact, source, existingFact)
	return DecisionConflict
}

func (m *ConflictManager) register(subject, newFact, source, existingFact string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := parley.Conflict{
		ID:        shortID(),
		Subject:   subject,
		OptionA:   parley.ConflictOption{Fact: existingFact, Source: "Memory"},
		OptionB:   parley.ConflictOption{Fact: newFact, Source: source},
		Timestamp: m.now(),
		Status:    parley.ConflictPending,
	}
	m.conflicts = append(m.conflicts, c)
	m.pruneLocked()
	if err := m.saveLocked(); err != nil {
		m.logger.Error("conflicts: save failed", "error", err)
	}
	m.logger.Info("conflicts: registered", "id", c.ID, "subject", subject)
}

// Prune drops the oldest pending conflicts above the cap. Resolved conflicts
// are never pruned.
func (m *ConflictManager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := m.pruneLocked()
	if dropped > 0 {
		if err := m.saveLocked(); err != nil {
			m.logger.Error("conflicts: save failed", "error", err)
		}
	}
	return dropped
}

func (m *ConflictManager) pruneLocked() int {
	var pending, resolved []parley.Conflict
	for _, c := range m.conflicts {
		if c.Status == parley.ConflictPending {
			pending = append(pending, c)
		} else {
			resolved = append(resolved, c)
		}
	}
	if len(pending) <= m.maxPending {
		return 0
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Timestamp > pending[j].Timestamp })
	dropped := len(pending) - m.maxPending
	m.conflicts = append(pending[:m.maxPending], resolved...)
	m.logger.Info("conflicts: pruned", "dropped", dropped)
	return dropped
}

// Pending returns the pending conflicts, newest first.
func (m *ConflictManager) Pending() []parley.Conflict {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []parley.Conflict
	for _, c := range m.conflicts {
		if c.Status == parley.ConflictPending {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

// Resolve marks a conflict resolved. Choice "A" keeps the stored fact,
// "B" accepts the new one.
func (m *ConflictManager) Resolve(id, choice string) error {
	if choice != "A" && choice != "B" {
		return fmt.Errorf("conflicts: choice must be A or B, got %q", choice)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.conflicts {
		if m.conflicts[i].ID == id {
			m.conflicts[i].Status = parley.ConflictResolved
			m.conflicts[i].Resolution = choice
			return m.saveLocked()
		}
	}
	return parley.ErrNotFound
}

// BuildBriefing renders pending conflicts as questions for the persona
// prompt. Returns "" when nothing is pending.
func (m *ConflictManager) BuildBriefing() string {
	pending := m.Pending()
	if len(pending) == 0 {
		return ""
	}
	var b strings.Builder
	for _, c := range pending {
		fmt.Fprintf(&b, "Conflict ID %s: Regarding '%s', you previously said '%s', but recently (via %s) I heard '%s'. Which one is correct?\n",
			c.ID, c.Subject, c.OptionA.Fact, c.OptionB.Source, c.OptionB.Fact)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *ConflictManager) saveLocked() error {
	data, err := json.MarshalIndent(m.conflicts, "", "  ")
	if err != nil {
		return &parley.ErrStore{Op: "conflicts_save", Err: err}
	}
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &parley.ErrStore{Op: "conflicts_save", Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".conflicts-*.json")
	if err != nil {
		return &parley.ErrStore{Op: "conflicts_save", Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &parley.ErrStore{Op: "conflicts_save", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &parley.ErrStore{Op: "conflicts_save", Err: err}
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		os.Remove(tmp.Name())
		return &parley.ErrStore{Op: "conflicts_save", Err: err}
	}
	return nil
}

// shortID is an 8-char conflict handle, readable in briefing questions.
// Random (v4), not time-ordered: the leading hex of a v7 is a timestamp and
// would collide for every conflict registered in the same window.
func shortID() string {
	return uuid.NewString()[:8]
}
