// Package session owns the current signed-in account. It persists every
// change to the local store first, mirrors it to the remote database in the
// background, and reconciles with writes made by other processes sharing the
// same store.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dukerupert/weeme/internal/kv"
	"github.com/dukerupert/weeme/internal/model"
	"github.com/dukerupert/weeme/internal/outbox"
	"github.com/dukerupert/weeme/internal/storage"
)

type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Event is delivered to subscribers after every state change. Account is nil
// when nobody is signed in.
type Event struct {
	State   State
	Account *model.Account
}

// Mirror receives best-effort copies of account writes.
type Mirror interface {
	Enabled() bool
	SaveUser(ctx context.Context, a model.Account) error
}

// Queue runs mirror writes off the caller's path.
type Queue interface {
	Enqueue(name string, fn outbox.Job) bool
}

type Options struct {
	// AllowImplicitSignup makes Login create an account for unknown usernames.
	AllowImplicitSignup bool
	// Origin tags this manager's writes; a random one is used when empty.
	Origin string
}

type Manager struct {
	store    *storage.Storage
	mirror   Mirror
	queue    Queue
	logger   *slog.Logger
	opts     Options
	validate *validator.Validate
	now      func() time.Time

	mu        sync.RWMutex
	current   *model.Account
	loading   bool
	subs      map[int]func(Event)
	nextSub   int
	stopWatch func()
}

func NewManager(store *storage.Storage, mirror Mirror, queue Queue, logger *slog.Logger, opts Options) *Manager {
	if opts.Origin == "" {
		opts.Origin = uuid.NewString()
	}
	return &Manager{
		store:    store,
		mirror:   mirror,
		queue:    queue,
		logger:   logger,
		opts:     opts,
		validate: newValidator(),
		now:      func() time.Time { return time.Now().UTC() },
		loading:  true,
		subs:     make(map[int]func(Event)),
	}
}

// Origin identifies this manager's writes in kv change notifications.
func (m *Manager) Origin() string {
	return m.opts.Origin
}

// Init migrates legacy storage, restores the persisted session and starts
// following changes written by other origins.
func (m *Manager) Init(ctx context.Context) error {
	ctx = m.tag(ctx)
	defer func() {
		m.mu.Lock()
		m.loading = false
		m.mu.Unlock()
	}()

	if _, err := m.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate storage: %w", err)
	}

	acct, err := m.store.LoadCurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	m.set(acct)
	if acct != nil {
		m.logger.Info("session restored", "user_id", acct.ID, "username", acct.Username)
	}

	m.mu.Lock()
	if m.stopWatch == nil {
		m.stopWatch = m.store.KV().Watch(m.onChange)
	}
	m.mu.Unlock()
	return nil
}

// Close stops following external changes.
func (m *Manager) Close() {
	m.mu.Lock()
	stop := m.stopWatch
	m.stopWatch = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (m *Manager) onChange(c kv.Change) {
	if c.Origin == m.opts.Origin || !storage.IsAccountKey(c.Key) {
		return
	}
	m.logger.Debug("external account change", "key", c.Key, "origin", c.Origin)
	if err := m.RefreshUser(context.Background()); err != nil {
		m.logger.Error("reconcile session", "key", c.Key, "error", err)
	}
}

// Login signs in by username. The password must be present but is not checked.
func (m *Manager) Login(ctx context.Context, username, password string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return false, ErrMissingCredentials
	}
	ctx = m.tag(ctx)

	index, err := m.store.UserIndex(ctx)
	if err != nil {
		return false, err
	}
	if id, ok := index[username]; ok {
		acct, err := m.store.LoadUser(ctx, id)
		if err != nil {
			return false, err
		}
		if acct != nil {
			if err := m.persist(ctx, *acct); err != nil {
				return false, err
			}
			m.logger.Info("login", "user_id", acct.ID, "username", acct.Username)
			return true, nil
		}
		m.logger.Warn("username index points at a missing account", "username", username, "user_id", id)
	}

	if !m.opts.AllowImplicitSignup {
		return false, ErrUnknownUser
	}
	acct, err := m.create(ctx, index, username, username+"@example.com")
	if err != nil {
		return false, err
	}
	m.logger.Info("implicit signup", "user_id", acct.ID, "username", acct.Username)
	return true, nil
}

// Register creates a Free account and signs it in. Input and uniqueness are
// checked before anything is written.
func (m *Manager) Register(ctx context.Context, username, email, password string) (bool, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if err := validateRegistration(m.validate, registration{Username: username, Email: email, Password: password}); err != nil {
		return false, err
	}
	ctx = m.tag(ctx)

	index, err := m.store.UserIndex(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := index[username]; ok {
		return false, ErrUsernameTaken
	}
	accounts, err := m.store.Accounts(ctx)
	if err != nil {
		return false, err
	}
	for _, a := range accounts {
		if a.Email == email {
			return false, ErrEmailTaken
		}
	}

	acct, err := m.create(ctx, index, username, email)
	if err != nil {
		return false, err
	}
	m.logger.Info("registered", "user_id", acct.ID, "username", acct.Username)
	return true, nil
}

// Logout clears the session pointer. The account stays on disk.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.store.SetCurrentSession(m.tag(ctx), ""); err != nil {
		return err
	}
	m.set(nil)
	return nil
}

// UpdateCredits sets the balance, clamped at zero. Without a session it does nothing.
func (m *Manager) UpdateCredits(ctx context.Context, credits int) error {
	return m.mutate(ctx, func(a *model.Account) {
		a.Credits = model.ClampCredits(credits)
	})
}

// AddCredits adjusts the balance by delta, clamped at zero.
func (m *Manager) AddCredits(ctx context.Context, delta int) error {
	return m.mutate(ctx, func(a *model.Account) {
		a.Credits = model.ClampCredits(a.Credits + delta)
	})
}

// UpgradeMembership overwrites the tier. Credits are left alone.
func (m *Manager) UpgradeMembership(ctx context.Context, tier model.MembershipTier) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	return m.mutate(ctx, func(a *model.Account) {
		a.Membership = tier
	})
}

// RefreshUser re-reads the signed-in account from the local store.
func (m *Manager) RefreshUser(ctx context.Context) error {
	acct, err := m.store.LoadCurrentUser(m.tag(ctx))
	if err != nil {
		return err
	}
	m.set(acct)
	return nil
}

// Current returns a copy of the signed-in account.
func (m *Manager) Current() (model.Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return model.Account{}, false
	}
	return *m.current, true
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Unauthenticated
	}
	return Authenticated
}

// Loading is true until Init has finished restoring the session.
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Subscribe registers fn for state changes and returns its cancel func.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) create(ctx context.Context, index map[string]string, username, email string) (model.Account, error) {
	acct := model.Account{
		ID:         uuid.NewString(),
		Username:   username,
		Email:      email,
		Membership: model.TierFree,
		Credits:    model.StartingCredits,
		CreatedAt:  m.now(),
	}
	if err := m.store.SaveUser(ctx, acct); err != nil {
		return model.Account{}, err
	}
	index[username] = acct.ID
	if err := m.store.SetUserIndex(ctx, index); err != nil {
		return model.Account{}, err
	}
	if err := m.persist(ctx, acct); err != nil {
		return model.Account{}, err
	}
	return acct, nil
}

// mutate applies fn to the freshest stored copy of the signed-in account.
func (m *Manager) mutate(ctx context.Context, fn func(*model.Account)) error {
	cur, ok := m.Current()
	if !ok {
		return nil
	}
	ctx = m.tag(ctx)

	stored, err := m.store.LoadUser(ctx, cur.ID)
	if err != nil {
		return err
	}
	if stored != nil {
		cur = *stored
	}
	fn(&cur)
	cur.Credits = model.ClampCredits(cur.Credits)
	return m.persist(ctx, cur)
}

// persist writes the record and session pointer, then queues the mirror write.
func (m *Manager) persist(ctx context.Context, acct model.Account) error {
	if err := m.store.SaveUser(ctx, acct); err != nil {
		return err
	}
	if err := m.store.SetCurrentSession(ctx, acct.ID); err != nil {
		return err
	}
	m.set(&acct)
	m.mirrorUser(acct)
	return nil
}

func (m *Manager) mirrorUser(acct model.Account) {
	if m.mirror == nil || m.queue == nil || !m.mirror.Enabled() {
		return
	}
	m.queue.Enqueue("save_user", func(ctx context.Context) error {
		return m.mirror.SaveUser(ctx, acct)
	})
}

// set replaces the in-memory account and notifies subscribers when it changed.
func (m *Manager) set(acct *model.Account) {
	m.mu.Lock()
	if sameAccount(m.current, acct) {
		m.mu.Unlock()
		return
	}
	if acct != nil {
		cp := *acct
		acct = &cp
	}
	m.current = acct
	subs := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	ev := Event{State: Unauthenticated}
	if acct != nil {
		cp := *acct
		ev = Event{State: Authenticated, Account: &cp}
	}
	for _, fn := range subs {
		fn(ev)
	}
}

func (m *Manager) tag(ctx context.Context) context.Context {
	return kv.WithOrigin(ctx, m.opts.Origin)
}

func sameAccount(a, b *model.Account) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID &&
		a.Username == b.Username &&
		a.Email == b.Email &&
		a.Membership == b.Membership &&
		a.Credits == b.Credits &&
		a.CreatedAt.Equal(b.CreatedAt)
}
