package nsverify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sunsreach/nerris/internal/chat"
	"github.com/sunsreach/nerris/internal/metrics"
	"github.com/sunsreach/nerris/internal/models"
	"github.com/sunsreach/nerris/internal/nationstates"
	"github.com/sunsreach/nerris/internal/store"
)

const (
	codeLength = 8
	// 32 symbols without 0/O and 1/I; a byte masked to 5 bits is unbiased.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	DefaultTimeout = 60 * time.Second
	notifyTimeout  = 10 * time.Second
)

// NationFetcher reads nation profiles.
type NationFetcher interface {
	GetNation(ctx context.Context, name string) (*nationstates.Nation, error)
	VerificationURL() string
}

// AccountLookup finds already verified nations.
type AccountLookup interface {
	GetNation(ctx context.Context, name string) (*models.Nation, error)
}

// Pending is a verification waiting for its code.
type Pending struct {
	UserID      string
	Nation      string
	DisplayName string
	Code        string
	Status      chat.MessageRef
	Deadline    time.Time
}

// Identity is the result of a confirmed handshake.
type Identity struct {
	UserID      string
	Nation      string
	DisplayName string
	Region      string
	Status      chat.MessageRef
}

type entry struct {
	Pending
	seq   uint64
	timer *time.Timer
}

type VerifierOptions struct {
	Nations   NationFetcher
	Accounts  AccountLookup
	Messenger chat.Messenger
	Attempts  AttemptLog
	Metrics   metrics.Recorder
	Logger    *slog.Logger
	Timeout   time.Duration
}

// Verifier runs the code handshake. Pending entries live in memory only and
// expire after the configured timeout.
type Verifier struct {
	nations   NationFetcher
	accounts  AccountLookup
	messenger chat.Messenger
	attempts  AttemptLog
	metrics   metrics.Recorder
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]*entry
	seq     uint64
	closed  bool
	timers  sync.WaitGroup
}

func NewVerifier(opts VerifierOptions) *Verifier {
	v := &Verifier{
		nations:   opts.Nations,
		accounts:  opts.Accounts,
		messenger: opts.Messenger,
		attempts:  opts.Attempts,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		timeout:   opts.Timeout,
		now:       time.Now,
		pending:   make(map[string]*entry),
	}
	if v.metrics == nil {
		v.metrics = metrics.Nop{}
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	if v.timeout <= 0 {
		v.timeout = DefaultTimeout
	}
	return v
}

// NewCode returns a fresh one-time verification code.
func NewCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)&(len(codeAlphabet)-1)]
	}
	return string(buf), nil
}

// Begin starts a handshake for user on nationName and DMs the instructions.
// A previous pending entry for the same user is replaced.
func (v *Verifier) Begin(ctx context.Context, user chat.User, nationName string) (*Pending, error) {
	nation, err := v.nations.GetNation(ctx, nationName)
	if err != nil {
		return nil, err
	}

	switch _, err := v.accounts.GetNation(ctx, nation.ID); {
	case err == nil:
		return nil, &models.AccountAlreadyLinkedError{Nation: nation.Name}
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	code, err := NewCode()
	if err != nil {
		return nil, err
	}
	status, err := v.messenger.SendDM(ctx, user.ID, instructions(code, v.nations.VerificationURL()))
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, errors.New("verifier closed")
	}
	if old := v.pending[user.ID]; old != nil {
		v.stopLocked(old)
	}
	v.seq++
	e := &entry{
		Pending: Pending{
			UserID:      user.ID,
			Nation:      nation.ID,
			DisplayName: nation.Name,
			Code:        code,
			Status:      status,
			Deadline:    v.now().Add(v.timeout),
		},
		seq: v.seq,
	}
	seq := e.seq
	v.timers.Add(1)
	e.timer = time.AfterFunc(v.timeout, func() {
		defer v.timers.Done()
		v.expire(user.ID, seq)
	})
	v.pending[user.ID] = e
	count := len(v.pending)
	v.mu.Unlock()

	v.metrics.VerificationStarted()
	v.metrics.SetPending(count)
	v.record(ctx, user.ID, nation.ID, OutcomeStarted, nil)
	v.logger.Info("verification started", "user_id", user.ID, "nation", nation.ID)

	p := e.Pending
	return &p, nil
}

// Submit checks code against the pending entry of userID. The entry is
// taken before NationStates is queried, so a concurrent second submit fails
// with ErrNoCode. On a wrong code or a failed lookup the entry is put back
// while its deadline holds and no newer attempt replaced it.
func (v *Verifier) Submit(ctx context.Context, userID, code string) (*Identity, error) {
	submitted := strings.TrimSpace(code)

	v.mu.Lock()
	e := v.pending[userID]
	if e == nil {
		v.mu.Unlock()
		return nil, models.ErrNoCode
	}
	delete(v.pending, userID)
	v.mu.Unlock()

	identity, err := v.check(ctx, e, submitted)
	if err != nil {
		state := v.restore(e)
		if state != restored {
			v.stop(e)
		}
		outcome := OutcomeError
		if errors.Is(err, models.ErrInvalidCode) {
			outcome = OutcomeInvalidCode
		}
		v.metrics.VerificationFailed(outcome)
		v.metrics.SetPending(v.PendingCount())
		v.record(ctx, userID, e.Nation, outcome, map[string]interface{}{"error": err.Error()})
		if state == pastDeadline {
			v.notifyExpired(e)
		}
		return nil, err
	}

	v.stop(e)
	v.metrics.VerificationConfirmed()
	v.metrics.SetPending(v.PendingCount())
	v.record(ctx, userID, e.Nation, OutcomeConfirmed, map[string]interface{}{"region": identity.Region})
	v.logger.Info("verification confirmed", "user_id", userID, "nation", identity.Nation)
	return identity, nil
}

func (v *Verifier) check(ctx context.Context, e *entry, submitted string) (*Identity, error) {
	if submitted != e.Code {
		return nil, &models.InvalidCodeError{Submitted: submitted}
	}
	nation, err := v.nations.GetNation(ctx, e.Nation)
	if err != nil {
		return nil, err
	}
	if nation.Motto != e.Code {
		return nil, &models.InvalidCodeError{Submitted: submitted}
	}
	return &Identity{
		UserID:      e.UserID,
		Nation:      nation.ID,
		DisplayName: nation.Name,
		Region:      nation.CanonicalRegion(),
		Status:      e.Status,
	}, nil
}

type restoreState int

const (
	restored restoreState = iota
	// superseded covers a closed verifier or a newer Begin for the user.
	superseded
	pastDeadline
)

// restore puts a failed submission back so the user can retry.
func (v *Verifier) restore(e *entry) restoreState {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return superseded
	}
	if _, ok := v.pending[e.UserID]; ok {
		return superseded
	}
	if !v.now().Before(e.Deadline) {
		return pastDeadline
	}
	v.pending[e.UserID] = e
	return restored
}

func (v *Verifier) expire(userID string, seq uint64) {
	v.mu.Lock()
	e := v.pending[userID]
	if e == nil || e.seq != seq {
		v.mu.Unlock()
		return
	}
	delete(v.pending, userID)
	count := len(v.pending)
	v.mu.Unlock()

	v.metrics.SetPending(count)
	v.notifyExpired(e)
}

func (v *Verifier) notifyExpired(e *entry) {
	v.metrics.VerificationExpired()

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := v.messenger.EditMessage(ctx, e.Status, expiredMessage); err != nil {
		v.logger.Warn("failed to notify expired verification", "user_id", e.UserID, "error", err)
	}
	v.record(ctx, e.UserID, e.Nation, OutcomeExpired, nil)
}

func (v *Verifier) stop(e *entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopLocked(e)
}

func (v *Verifier) stopLocked(e *entry) {
	if e.timer != nil && e.timer.Stop() {
		v.timers.Done()
	}
}

// Pending returns the pending entry for userID.
func (v *Verifier) Pending(userID string) (*Pending, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.pending[userID]
	if !ok {
		return nil, false
	}
	p := e.Pending
	return &p, true
}

func (v *Verifier) PendingCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// Close drops every pending entry and waits for running expiry callbacks.
func (v *Verifier) Close() {
	v.mu.Lock()
	v.closed = true
	for id, e := range v.pending {
		v.stopLocked(e)
		delete(v.pending, id)
	}
	v.mu.Unlock()
	v.timers.Wait()
}

func (v *Verifier) record(ctx context.Context, userID, nation, outcome string, details map[string]interface{}) {
	if v.attempts == nil {
		return
	}
	if err := v.attempts.Record(ctx, userID, nation, outcome, details); err != nil {
		v.logger.Warn("failed to record verification attempt", "user_id", userID, "outcome", outcome, "error", err)
	}
}
