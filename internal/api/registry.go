package api

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rpattn/formkeep/internal/autosave"
	"github.com/rpattn/formkeep/internal/clock"
	"github.com/rpattn/formkeep/internal/domain"
	"github.com/rpattn/formkeep/internal/repository"
)

// ErrNoPayload is returned when a session is asked to save before any payload was pushed.
var ErrNoPayload = errors.New("no form payload has been set")

// LiveForm is the server-side stand-in for one open form screen: the last payload pushed by
// the client plus the session that persists it.
type LiveForm struct {
	formType string
	session  *autosave.Session
	clock    clock.Clock

	mu      sync.Mutex
	payload *domain.FormPayload
}

func (f *LiveForm) setPayload(payload domain.FormPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payload = &payload
}

// build stamps the latest payload with status and the current time.
func (f *LiveForm) build(status domain.FormStatus) (domain.FormPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payload == nil {
		return domain.FormPayload{}, ErrNoPayload
	}
	out, err := f.payload.Clone()
	if err != nil {
		return domain.FormPayload{}, err
	}
	out.Status = status
	out.SavedAt = domain.MillisFrom(f.clock.NowUTC())
	return out, nil
}

func (f *LiveForm) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payload = nil
}

func (f *LiveForm) hasPayload() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payload != nil
}

// Registry owns one autosave session per form type.
type Registry struct {
	store   repository.FormStore
	history repository.HistoryIndex
	clock   clock.Clock
	opts    []autosave.Option

	mu    sync.Mutex
	forms map[string]*LiveForm
}

// NewRegistry creates sessions lazily; opts are applied to every session.
func NewRegistry(store repository.FormStore, history repository.HistoryIndex, c clock.Clock, opts ...autosave.Option) *Registry {
	if c == nil {
		c = clock.SystemUTC{}
	}
	return &Registry{
		store:   store,
		history: history,
		clock:   c,
		opts:    opts,
		forms:   make(map[string]*LiveForm),
	}
}

// Open returns the live form for formType, creating its session on first use.
func (r *Registry) Open(formType string) (*LiveForm, error) {
	formType = strings.TrimSpace(formType)
	if err := domain.ValidateKey(formType); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if form, ok := r.forms[formType]; ok {
		return form, nil
	}

	form := &LiveForm{formType: formType, clock: r.clock}
	opts := append([]autosave.Option{}, r.opts...)
	opts = append(opts,
		autosave.WithFormType(formType),
		autosave.WithClock(r.clock),
		autosave.WithClearOnSubmit(form.clear),
	)
	session, err := autosave.NewSession(r.store, r.history, form.build, opts...)
	if err != nil {
		return nil, err
	}
	form.session = session
	r.forms[formType] = form
	return form, nil
}

// Close cancels pending autosaves on every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, form := range r.forms {
		form.session.Close()
	}
}

// Shutdown flushes pending autosaves and waits for every session's writes, or until ctx is done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	forms := make([]*LiveForm, 0, len(r.forms))
	for _, form := range r.forms {
		forms = append(forms, form)
	}
	r.mu.Unlock()

	var errs []error
	for _, form := range forms {
		if err := form.session.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
