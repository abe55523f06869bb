// Package autosave mediates every write for one logical form instance so that debounced
// autosave, manual draft saves and submit never run over each other.
//
// Sessions are independent: each owns its timer, in-flight counter and notification state.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/rpattn/formkeep/internal/clock"
	"github.com/rpattn/formkeep/internal/domain"
	"github.com/rpattn/formkeep/internal/repository"
)

// ErrSubmitInProgress is returned when Submit is called while another submit is running.
var ErrSubmitInProgress = errors.New("submit already in progress")

// Notification messages raised by Submit.
const (
	MessageSubmitted    = "Form submitted successfully."
	MessageSubmitFailed = "Failed to submit form. Please try again."
)

// State is the coarse lifecycle state of a Session.
type State string

const (
	StateIdle            State = "idle"
	StatePendingAutoSave State = "pending_autosave"
	StateSavingDraft     State = "saving_draft"
	StateSubmitting      State = "submitting"
)

// PayloadBuilder produces the current form snapshot for the requested status.
type PayloadBuilder func(status domain.FormStatus) (domain.FormPayload, error)

// Notification is the user-facing message raised after a submit.
type Notification struct {
	Visible bool   `json:"visible"`
	Message string `json:"message"`
}

// DraftResult describes the outcome of SaveDraft.
type DraftResult struct {
	Key      string `json:"key,omitempty"`
	Location string `json:"location,omitempty"`
	// Skipped is set when another write was in flight and the call did nothing.
	Skipped bool `json:"skipped"`
}

// SubmitResult describes the outcome of Submit.
type SubmitResult struct {
	Key      string `json:"key,omitempty"`
	Location string `json:"location,omitempty"`
	// Confirmed is false when Submit stopped waiting before the write finished.
	Confirmed    bool         `json:"confirmed"`
	Notification Notification `json:"notification"`
}

// Option configures a Session.
type Option func(*Session)

// WithDraftID sets the key used for autosaved drafts.
func WithDraftID(draftID string) Option {
	return func(s *Session) {
		s.draftKey = strings.TrimSpace(draftID)
	}
}

// WithFormType sets the form type; the draft key defaults to "{formType}_draft".
func WithFormType(formType string) Option {
	return func(s *Session) {
		s.formType = strings.TrimSpace(formType)
	}
}

// WithClearOnSubmit registers the callback that resets the form after a submit.
func WithClearOnSubmit(fn func()) Option {
	return func(s *Session) {
		s.onClear = fn
	}
}

// WithWaitForSave selects whether Submit waits up to SubmitCeiling for its write
// (true, the default) or gives up after the SubmitRace fast path.
func WithWaitForSave(wait bool) Option {
	return func(s *Session) {
		s.waitForSave = wait
	}
}

func WithTimings(t Timings) Option {
	return func(s *Session) {
		s.timings = t
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session is the save/submit state machine for a single draft key.
type Session struct {
	store       repository.FormStore
	history     repository.HistoryIndex
	build       PayloadBuilder
	draftKey    string
	formType    string
	onClear     func()
	waitForSave bool
	timings     Timings
	clock       clock.Clock
	logger      *log.Logger

	mu           sync.Mutex
	timer        *time.Timer
	timerGen     uint64
	inFlight     int
	submitting   bool
	isSaving     bool
	notification Notification
	lastStamp    domain.Millis
	submits      uint64
	closed       bool
}

// NewSession creates a Session writing through store and history.
func NewSession(store repository.FormStore, history repository.HistoryIndex, build PayloadBuilder, opts ...Option) (*Session, error) {
	if store == nil {
		return nil, errors.New("form store is required")
	}
	if history == nil {
		return nil, errors.New("history index is required")
	}
	if build == nil {
		return nil, errors.New("payload builder is required")
	}

	s := &Session{
		store:       store,
		history:     history,
		build:       build,
		waitForSave: true,
		timings:     DefaultTimings(),
		clock:       clock.SystemUTC{},
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.timings = s.timings.withDefaults()

	if s.draftKey == "" {
		if s.formType == "" {
			return nil, errors.New("draft id or form type is required")
		}
		s.draftKey = domain.DraftKey(s.formType)
	}
	if err := domain.ValidateKey(s.draftKey); err != nil {
		return nil, err
	}
	if s.formType != "" {
		if err := domain.ValidateKey(s.formType); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// DraftKey returns the key autosaves are written to.
func (s *Session) DraftKey() string {
	return s.draftKey
}

// IsSaving is true only during the visible window of a submit.
func (s *Session) IsSaving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSaving
}

// InFlight reports whether any store write started by this session is outstanding.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight > 0
}

func (s *Session) Notification() Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notification
}

// SetShowNotification shows or dismisses the current notification.
func (s *Session) SetShowNotification(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notification.Visible = visible
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.submitting:
		return StateSubmitting
	case s.inFlight > 0:
		return StateSavingDraft
	case s.timer != nil:
		return StatePendingAutoSave
	default:
		return StateIdle
	}
}

// ScheduleAutoSave (re)arms the debounce timer. delay <= 0 uses Timings.AutoSaveDelay.
// Only the most recently scheduled timer can write.
func (s *Session) ScheduleAutoSave(delay time.Duration) {
	if delay <= 0 {
		delay = s.timings.AutoSaveDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(delay, func() {
		s.runAutoSave(gen)
	})
}

// buildPayload runs the builder and reduces the result to JSON-native values, the form the store reads back.
func (s *Session) buildPayload(status domain.FormStatus) (domain.FormPayload, error) {
	payload, err := s.build(status)
	if err != nil {
		return domain.FormPayload{}, err
	}
	return payload.Clone()
}

func (s *Session) runAutoSave(gen uint64) {
	s.mu.Lock()
	if gen != s.timerGen || s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.inFlight > 0 || s.submitting {
		s.mu.Unlock()
		s.logger.Printf("[AUTOSAVE] %s: write already in flight, skipping", s.draftKey)
		return
	}
	s.inFlight++
	epoch := s.submits
	s.mu.Unlock()
	defer s.endWrite()

	payload, err := s.buildPayload(domain.FormStatusDraft)
	if err != nil {
		s.logger.Printf("[AUTOSAVE] %s: failed to build draft payload: %v", s.draftKey, err)
		return
	}
	ctx := context.Background()
	if _, err := s.store.WriteDraft(ctx, s.draftKey, payload); err != nil {
		s.logger.Printf("[AUTOSAVE] %s: draft write failed: %v", s.draftKey, err)
		return
	}

	s.mu.Lock()
	submitted := s.submits != epoch
	s.mu.Unlock()
	if submitted {
		// A submit started while this write was stuck; its draft cleanup may already have run.
		s.logger.Printf("[AUTOSAVE] %s: draft landed after a submit, removing it", s.draftKey)
		if _, err := s.store.Delete(ctx, s.draftKey); err != nil {
			s.logger.Printf("[AUTOSAVE] %s: failed to remove stale draft: %v", s.draftKey, err)
		}
	}
}

// SaveDraft writes the current draft under a new timestamped key, registering a history entry.
// It does nothing when a write is already in flight or a submit is running.
func (s *Session) SaveDraft(ctx context.Context) (DraftResult, error) {
	s.mu.Lock()
	if s.inFlight > 0 || s.submitting {
		s.mu.Unlock()
		return DraftResult{Skipped: true}, nil
	}
	s.inFlight++
	s.mu.Unlock()
	defer s.endWrite()

	payload, err := s.buildPayload(domain.FormStatusDraft)
	if err != nil {
		s.logger.Printf("[AUTOSAVE] %s: failed to build draft payload: %v", s.draftKey, err)
		return DraftResult{}, fmt.Errorf("failed to build draft payload: %w", err)
	}
	key := s.nextKey()
	location, err := s.store.Write(ctx, key, payload)
	if err != nil {
		s.logger.Printf("[AUTOSAVE] %s: manual draft save to %s failed: %v", s.draftKey, key, err)
		return DraftResult{Key: key}, err
	}
	return DraftResult{Key: key, Location: location}, nil
}

// Submit finalizes the form: it waits (bounded) for any earlier write, persists the submitted
// payload under a new key, removes the draft and its history entries, clears the form and
// raises a notification. Draft cleanup and the clear callback run even when the write fails.
// onClear overrides the WithClearOnSubmit callback when non-nil.
func (s *Session) Submit(ctx context.Context, onClear func()) (SubmitResult, error) {
	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return SubmitResult{}, ErrSubmitInProgress
	}
	s.submitting = true
	s.isSaving = true
	s.submits++
	s.mu.Unlock()

	result, submitErr := s.persistSubmission(ctx)

	s.removeDraft(context.WithoutCancel(ctx))

	reset := onClear
	if reset == nil {
		reset = s.onClear
	}
	if reset != nil {
		reset()
	}

	s.mu.Lock()
	// Fields are cleared now; a timer armed before the submit must not save the empty form as a new draft.
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
	if submitErr != nil {
		s.notification = Notification{Visible: true, Message: MessageSubmitFailed}
	} else {
		s.notification = Notification{Visible: true, Message: MessageSubmitted}
	}
	result.Notification = s.notification
	s.mu.Unlock()

	sleepContext(ctx, s.timings.NotificationGrace)

	s.mu.Lock()
	s.isSaving = false
	s.submitting = false
	s.mu.Unlock()

	return result, submitErr
}

func (s *Session) persistSubmission(ctx context.Context) (SubmitResult, error) {
	if !s.waitForIdle(ctx) {
		s.logger.Printf("[SUBMIT] %s: earlier write still in flight after %s, submitting anyway", s.draftKey, s.timings.InFlightWait)
	}

	payload, err := s.buildPayload(domain.FormStatusSubmitted)
	if err != nil {
		s.logger.Printf("[SUBMIT] %s: failed to build submitted payload: %v", s.draftKey, err)
		return SubmitResult{}, fmt.Errorf("failed to build submitted payload: %w", err)
	}
	key := s.nextKey()
	result := SubmitResult{Key: key}

	s.beginWrite()
	writeCtx := context.WithoutCancel(ctx)
	task := startWrite(func() (string, error) {
		defer s.endWrite()
		return s.store.Write(writeCtx, key, payload)
	})

	finished := task.Wait(ctx, s.timings.SubmitRace)
	if !finished && s.waitForSave {
		s.logger.Printf("[SUBMIT] %s: write to %s slower than %s, waiting up to %s", s.draftKey, key, s.timings.SubmitRace, s.timings.SubmitCeiling)
		finished = task.Wait(ctx, s.timings.SubmitCeiling)
	}
	if !finished {
		s.logger.Printf("[SUBMIT] %s: proceeding before write to %s finished", s.draftKey, key)
		go func() {
			if _, err := task.Result(); err != nil {
				s.logger.Printf("[SUBMIT] %s: background write to %s failed: %v", s.draftKey, key, err)
			}
		}()
		return result, nil
	}

	location, err := task.Result()
	if err != nil {
		s.logger.Printf("[SUBMIT] %s: write to %s failed: %v", s.draftKey, key, err)
		return result, err
	}
	result.Location = location
	result.Confirmed = true
	return result, nil
}

// removeDraft deletes the draft document and any history entries pointing at it. Best effort.
func (s *Session) removeDraft(ctx context.Context) {
	if _, err := s.store.Delete(ctx, s.draftKey); err != nil {
		s.logger.Printf("[SUBMIT] %s: failed to delete draft: %v", s.draftKey, err)
	}
	if _, err := s.history.RemoveByFormID(ctx, s.draftKey); err != nil {
		s.logger.Printf("[SUBMIT] %s: failed to remove draft history: %v", s.draftKey, err)
	}
}

// DiscardDraft cancels any pending autosave and removes the draft and its history entries.
func (s *Session) DiscardDraft(ctx context.Context) error {
	s.stopTimer()
	if _, err := s.store.Delete(ctx, s.draftKey); err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", s.draftKey, err)
	}
	if _, err := s.history.RemoveByFormID(ctx, s.draftKey); err != nil {
		return fmt.Errorf("failed to remove draft history %s: %w", s.draftKey, err)
	}
	return nil
}

// LoadDraft returns the autosaved draft, or nil when none exists.
func (s *Session) LoadDraft(ctx context.Context) (*domain.StoredDocument, error) {
	return s.store.Read(ctx, s.draftKey)
}

// Close cancels any pending autosave. Writes already started run to completion.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

// Shutdown runs a pending autosave immediately, closes the session and waits until every write it
// started has finished or ctx is done.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	pending := s.timer != nil && !s.closed
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
	gen := s.timerGen
	s.mu.Unlock()

	if pending {
		s.runAutoSave(gen)
	}
	s.Close()
	return s.waitForWrites(ctx)
}

func (s *Session) waitForWrites(ctx context.Context) error {
	if !s.InFlight() {
		return nil
	}
	ticker := time.NewTicker(s.timings.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !s.InFlight() {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("%s: writes still in flight: %w", s.draftKey, ctx.Err())
		}
	}
}

func (s *Session) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Session) beginWrite() {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
}

func (s *Session) endWrite() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

// waitForIdle polls until no write is in flight, giving up after InFlightWait.
func (s *Session) waitForIdle(ctx context.Context) bool {
	if !s.InFlight() {
		return true
	}
	deadline := time.NewTimer(s.timings.InFlightWait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.timings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.InFlight() {
				return true
			}
		case <-deadline.C:
			return !s.InFlight()
		case <-ctx.Done():
			return false
		}
	}
}

// nextKey returns a timestamped key that is strictly newer than any key this session produced before.
// The prefix comes from the validated form type or draft key, never from payload contents.
func (s *Session) nextKey() string {
	prefix := s.formType
	if prefix == "" {
		prefix = strings.TrimSuffix(s.draftKey, "_draft")
	}

	stamp := domain.MillisFrom(s.clock.NowUTC())
	s.mu.Lock()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp
	s.mu.Unlock()
	return domain.TimestampedKey(prefix, stamp)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
