// Package reservation owns the lease table, the conflict audit log and the
// expiration sweeper. All mutations serialize on one lock so that a conflict
// decision and the grant it authorizes are atomic.
package reservation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/conflict"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/events"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/glob"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/pagination"
)

// Store is the single in-process reservation table.
type Store struct {
	cfg      Config
	engine   *conflict.Engine
	patterns *glob.Cache
	sink     events.Sink
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
	codec    *pagination.Codec

	mu           sync.RWMutex
	reservations map[string]*core.Reservation
	conflicts    map[string]*core.ConflictRecord
	warned       map[string]struct{}

	sweepMu sync.Mutex
	sweeper *Sweeper
}

// Option configures a Store.
type Option func(*Store)

// WithConfig replaces the default limits.
func WithConfig(cfg Config) Option {
	return func(s *Store) { s.cfg = cfg.withDefaults() }
}

// WithClock sets the time source for expiry, stamps and cursors.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the reservation id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithSink sets where lifecycle events go. The sink must not block.
func WithSink(sink events.Sink) Option {
	return func(s *Store) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithLogger sets the logger shared with the conflict engine.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEngine supplies a prebuilt conflict engine. The store assumes it owns
// the engine's index.
func WithEngine(e *conflict.Engine) Option {
	return func(s *Store) { s.engine = e }
}

// WithPatternCache shares a compiled pattern cache with the store.
func WithPatternCache(c *glob.Cache) Option {
	return func(s *Store) {
		if c != nil {
			s.patterns = c
		}
	}
}

// NewStore builds an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		cfg:          DefaultConfig(),
		sink:         events.Discard{},
		now:          time.Now,
		newID:        uuid.NewString,
		logger:       slog.Default(),
		reservations: make(map[string]*core.Reservation),
		conflicts:    make(map[string]*core.ConflictRecord),
		warned:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.patterns == nil {
		s.patterns = glob.NewCache(glob.DefaultCacheSize)
	}
	if s.engine == nil {
		s.engine = conflict.NewEngine(
			conflict.WithClock(s.now),
			conflict.WithLogger(s.logger),
			conflict.WithPatternCache(s.patterns),
		)
	}
	s.codec = pagination.NewCodec(s.cfg.CursorExpiration, s.now)
	return s
}

// Config returns the effective limits.
func (s *Store) Config() Config { return s.cfg }

// CreateRequest asks for a new lease.
type CreateRequest struct {
	ProjectID  string    `json:"project_id"`
	AgentID    string    `json:"agent_id"`
	Patterns   []string  `json:"patterns"`
	Mode       core.Mode `json:"mode,omitempty"`
	TTLSeconds int       `json:"ttl_seconds,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
}

// CreateResult is the outcome of CreateReservation. A denied request is not
// an error: Granted is false and Conflicts lists every blocking overlap.
type CreateResult struct {
	Reservation *core.Reservation   `json:"reservation"`
	Conflicts   []conflict.Conflict `json:"conflicts"`
	Granted     bool                `json:"granted"`
	Error       core.ErrorCode      `json:"error,omitempty"`
}

// CreateReservation grants a lease unless an active reservation held by
// another agent contends with it.
func (s *Store) CreateReservation(ctx context.Context, req CreateRequest) (CreateResult, error) {
	denied := CreateResult{Conflicts: []conflict.Conflict{}}

	patterns := cleanPatterns(req.Patterns)
	switch {
	case len(patterns) == 0:
		denied.Error = core.CodeValidation
		return denied, core.ErrValidation.WithMessage("at least one pattern is required")
	case strings.TrimSpace(req.ProjectID) == "":
		denied.Error = core.CodeValidation
		return denied, core.ErrValidation.WithMessage("project id is required")
	case strings.TrimSpace(req.AgentID) == "":
		denied.Error = core.CodeValidation
		return denied, core.ErrValidation.WithMessage("agent id is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = core.ModeExclusive
	}
	if !mode.Valid() {
		denied.Error = core.CodeValidation
		return denied, core.ErrValidation.WithMessagef("unknown mode %q", mode)
	}
	ttl := s.clampTTL(req.TTLSeconds)

	s.mu.Lock()
	defer s.mu.Unlock()

	check := s.engine.Check(ctx, req.ProjectID, req.AgentID, patterns, mode == core.ModeExclusive)
	if check.HasConflicts {
		for _, c := range check.Conflicts {
			rec := s.recordConflictLocked(req.AgentID, patterns, mode, c)
			s.sink.Emit(core.ConflictsChannel(req.ProjectID), core.EventConflictDetected, conflictPayload(rec))
		}
		s.logger.WarnContext(ctx, "reservation denied",
			"project_id", req.ProjectID,
			"agent_id", req.AgentID,
			"mode", string(mode),
			"conflicts", len(check.Conflicts))
		denied.Conflicts = check.Conflicts
		denied.Error = core.CodeConflict
		return denied, nil
	}

	now := s.now()
	r := &core.Reservation{
		ID:         s.newID(),
		ProjectID:  req.ProjectID,
		AgentID:    req.AgentID,
		Patterns:   patterns,
		Mode:       mode,
		TTLSeconds: ttl,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(ttl) * time.Second),
		Metadata:   core.ReservationMetadata{Reason: req.Reason, TaskID: req.TaskID},
	}
	s.reservations[r.ID] = r
	s.engine.Register(entryFor(r))
	s.sink.Emit(core.ReservationsChannel(r.ProjectID), core.EventReservationAcquired, reservationPayload(r))
	s.logger.DebugContext(ctx, "reservation granted",
		"reservation_id", r.ID,
		"project_id", r.ProjectID,
		"agent_id", r.AgentID,
		"ttl_seconds", ttl)

	out := r.Clone()
	return CreateResult{Reservation: &out, Conflicts: []conflict.Conflict{}, Granted: true}, nil
}

// CheckResult describes who, if anyone, holds a path.
type CheckResult struct {
	Allowed       bool       `json:"allowed"`
	HeldBy        string     `json:"held_by,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Mode          core.Mode  `json:"mode,omitempty"`
	ReservationID string     `json:"reservation_id,omitempty"`
}

// CheckReservation reports whether agentID may touch filePath right now.
// The caller's own reservations always allow access; another agent's
// exclusive reservation denies it; another agent's shared reservation is
// reported but allows it.
func (s *Store) CheckReservation(ctx context.Context, projectID, agentID, filePath string) (CheckResult, error) {
	if strings.TrimSpace(filePath) == "" {
		return CheckResult{}, core.ErrValidation.WithMessage("file path is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()

	var own, exclusive, shared *core.Reservation
	for _, r := range s.sortedActiveLocked(projectID, now) {
		if !s.matchesAny(ctx, r, filePath) {
			continue
		}
		switch {
		case r.AgentID == agentID:
			if own == nil {
				own = r
			}
		case r.Exclusive():
			if exclusive == nil {
				exclusive = r
			}
		default:
			if shared == nil {
				shared = r
			}
		}
	}
	switch {
	case own != nil:
		return blockedBy(own, true), nil
	case exclusive != nil:
		return blockedBy(exclusive, false), nil
	case shared != nil:
		return blockedBy(shared, true), nil
	}
	return CheckResult{Allowed: true}, nil
}

func blockedBy(r *core.Reservation, allowed bool) CheckResult {
	exp := r.ExpiresAt
	return CheckResult{
		Allowed:       allowed,
		HeldBy:        r.AgentID,
		ExpiresAt:     &exp,
		Mode:          r.Mode,
		ReservationID: r.ID,
	}
}

// ReleaseResult is the outcome of ReleaseReservation.
type ReleaseResult struct {
	Released bool           `json:"released"`
	Error    core.ErrorCode `json:"error,omitempty"`
}

// ReleaseReservation drops a lease held by agentID and resolves the
// conflicts it was blocking.
func (s *Store) ReleaseReservation(ctx context.Context, reservationID, agentID string) (ReleaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.holderLocked(ctx, reservationID, agentID)
	if err != nil {
		return ReleaseResult{Error: core.CodeOf(err)}, err
	}
	s.removeLocked(r)
	s.sink.Emit(core.ReservationsChannel(r.ProjectID), core.EventReservationReleased, reservationPayload(r))
	s.resolveBlockedLocked(r, agentID, core.ResolutionReleased)
	s.logger.DebugContext(ctx, "reservation released",
		"reservation_id", r.ID, "project_id", r.ProjectID, "agent_id", agentID)
	return ReleaseResult{Released: true}, nil
}

// RenewResult is the outcome of RenewReservation.
type RenewResult struct {
	Renewed      bool              `json:"renewed"`
	NewExpiresAt *time.Time        `json:"new_expires_at,omitempty"`
	Reservation  *core.Reservation `json:"reservation,omitempty"`
	Error        core.ErrorCode    `json:"error,omitempty"`
}

// RenewReservation extends a lease. The extension is measured from the later
// of now and the current expiry, so a late renewal never shortens the lease.
// additionalTTLSeconds <= 0 reuses the reservation's current TTL.
func (s *Store) RenewReservation(ctx context.Context, reservationID, agentID string, additionalTTLSeconds int) (RenewResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.holderLocked(ctx, reservationID, agentID)
	if err != nil {
		return RenewResult{Error: core.CodeOf(err)}, err
	}
	if r.RenewCount >= s.cfg.MaxRenewals {
		err := core.ErrRenewalLimitReached.WithMessagef("reservation %s was renewed %d times", r.ID, r.RenewCount)
		return RenewResult{Error: core.CodeRenewalLimitReached}, err
	}

	ext := additionalTTLSeconds
	if ext <= 0 {
		ext = r.TTLSeconds
	}
	ext = min(ext, s.cfg.MaxTTLSeconds)

	now := s.now()
	base := r.ExpiresAt
	if now.After(base) {
		base = now
	}
	r.ExpiresAt = base.Add(time.Duration(ext) * time.Second)
	r.TTLSeconds = ext
	r.RenewCount++

	s.engine.Remove(r.ProjectID, r.ID)
	s.engine.Register(entryFor(r))
	delete(s.warned, r.ID)
	s.sink.Emit(core.ReservationsChannel(r.ProjectID), core.EventReservationRenewed, reservationPayload(r))

	exp := r.ExpiresAt
	out := r.Clone()
	return RenewResult{Renewed: true, NewExpiresAt: &exp, Reservation: &out}, nil
}

// GetReservation returns the active reservation with id, or nil when it is
// unknown or already expired.
func (s *Store) GetReservation(ctx context.Context, id string) *core.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok || !r.IsActive(s.now()) {
		return nil
	}
	out := r.Clone()
	return &out
}

// holderLocked resolves id for a mutation by agentID. A reservation that has
// expired but not yet been swept is expired on the spot and reported missing.
func (s *Store) holderLocked(ctx context.Context, id, agentID string) (*core.Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return nil, core.ErrNotFound.WithMessagef("reservation %s not found", id)
	}
	if now := s.now(); !r.IsActive(now) {
		s.expireLocked(ctx, r)
		return nil, core.ErrNotFound.WithMessagef("reservation %s has expired", id)
	}
	if r.AgentID != agentID {
		return nil, core.ErrNotHolder.WithMessagef("reservation %s is held by another agent", id)
	}
	return r, nil
}

// removeLocked drops r from the table, the engine index and the warning set.
func (s *Store) removeLocked(r *core.Reservation) {
	delete(s.reservations, r.ID)
	delete(s.warned, r.ID)
	s.engine.Remove(r.ProjectID, r.ID)
}

func (s *Store) expireLocked(ctx context.Context, r *core.Reservation) {
	s.removeLocked(r)
	s.sink.Emit(core.ReservationsChannel(r.ProjectID), core.EventReservationExpired, reservationPayload(r))
	s.resolveBlockedLocked(r, resolvedBySweeper, core.ResolutionExpired)
	s.logger.DebugContext(ctx, "reservation expired",
		"reservation_id", r.ID, "project_id", r.ProjectID, "agent_id", r.AgentID)
}

func (s *Store) clampTTL(ttl int) int {
	if ttl <= 0 {
		return s.cfg.DefaultTTLSeconds
	}
	return min(ttl, s.cfg.MaxTTLSeconds)
}

func (s *Store) matchesAny(ctx context.Context, r *core.Reservation, path string) bool {
	for _, p := range r.Patterns {
		ok, err := s.patterns.Match(p, path)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping invalid pattern",
				"reservation_id", r.ID, "pattern", p, "error", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// cleanPatterns trims, normalizes and drops blank patterns.
func cleanPatterns(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if n := glob.Normalize(p); n != "" {
			p = n
		}
		out = append(out, p)
	}
	return out
}

func entryFor(r *core.Reservation) conflict.Entry {
	return conflict.Entry{
		ID:          r.ID,
		ProjectID:   r.ProjectID,
		RequesterID: r.AgentID,
		Patterns:    r.Patterns,
		Exclusive:   r.Exclusive(),
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}
