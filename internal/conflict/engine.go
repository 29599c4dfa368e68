// Package conflict maintains the per-project index of active reservations and
// decides whether a requested reservation would contend with any of them.
package conflict

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/glob"
)

// Entry is the denormalized view of a reservation kept in the index.
type Entry struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	RequesterID string    `json:"requester_id"`
	Patterns    []string  `json:"patterns"`
	Exclusive   bool      `json:"exclusive"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Conflict is one (requested pattern, existing reservation) pair that contends.
type Conflict struct {
	ConflictID         string    `json:"conflict_id"`
	ProjectID          string    `json:"project_id"`
	RequestedPattern   string    `json:"requested_pattern"`
	OverlappingPattern string    `json:"overlapping_pattern"`
	Existing           Entry     `json:"existing_reservation"`
	DetectedAt         time.Time `json:"detected_at"`
}

// Result is the outcome of Check.
type Result struct {
	HasConflicts bool
	Conflicts    []Conflict
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used to skip expired entries and stamp conflicts.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator sets the conflict id generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithLogger sets the logger used to report skipped patterns.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPatternCache sets the compiled-pattern cache.
func WithPatternCache(c *glob.Cache) Option {
	return func(e *Engine) {
		if c != nil {
			e.patterns = c
		}
	}
}

// Engine indexes active reservations by project. It is safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	projects map[string]map[string]Entry // project -> reservation id -> entry
	patterns *glob.Cache
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// NewEngine returns an empty Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		projects: make(map[string]map[string]Entry),
		patterns: glob.NewCache(glob.DefaultCacheSize),
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds or replaces the entry for entry.ID in its project.
func (e *Engine) Register(entry Entry) {
	entry.Patterns = slices.Clone(entry.Patterns)

	e.mu.Lock()
	defer e.mu.Unlock()
	perProject, ok := e.projects[entry.ProjectID]
	if !ok {
		perProject = make(map[string]Entry)
		e.projects[entry.ProjectID] = perProject
	}
	perProject[entry.ID] = entry
}

// Remove deletes the entry for id. Unknown ids are ignored.
func (e *Engine) Remove(projectID, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	perProject, ok := e.projects[projectID]
	if !ok {
		return
	}
	delete(perProject, id)
	if len(perProject) == 0 {
		delete(e.projects, projectID)
	}
}

// Len returns the number of indexed entries in a project.
func (e *Engine) Len(projectID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.projects[projectID])
}

// Check reports every contending overlap between the requested patterns and the
// active entries in projectID that requesterID does not own.
//
// Contention: an exclusive request contends with any overlapping entry; a
// shared request contends only with an overlapping exclusive entry.
func (e *Engine) Check(ctx context.Context, projectID, requesterID string, patterns []string, exclusive bool) Result {
	now := e.now()

	e.mu.RLock()
	candidates := make([]Entry, 0, len(e.projects[projectID]))
	for _, entry := range e.projects[projectID] {
		if entry.RequesterID == requesterID || !entry.ExpiresAt.After(now) {
			continue
		}
		if !exclusive && !entry.Exclusive {
			continue
		}
		candidates = append(candidates, entry)
	}
	e.mu.RUnlock()

	// Oldest first keeps the conflict list stable across calls.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	var conflicts []Conflict
	for _, entry := range candidates {
		for _, requested := range patterns {
			for _, existing := range entry.Patterns {
				overlap, err := e.patterns.Overlap(requested, existing)
				if err != nil {
					e.logger.WarnContext(ctx, "skipping invalid pattern in conflict check",
						"project_id", projectID,
						"requested_pattern", requested,
						"existing_pattern", existing,
						"reservation_id", entry.ID,
						"error", err)
				}
				if !overlap {
					continue
				}
				conflicts = append(conflicts, Conflict{
					ConflictID:         e.newID(),
					ProjectID:          projectID,
					RequestedPattern:   requested,
					OverlappingPattern: existing,
					Existing:           cloneEntry(entry),
					DetectedAt:         now,
				})
			}
		}
	}
	return Result{HasConflicts: len(conflicts) > 0, Conflicts: conflicts}
}

func cloneEntry(e Entry) Entry {
	e.Patterns = slices.Clone(e.Patterns)
	return e
}
