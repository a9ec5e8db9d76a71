// Package connection drives one account's session lifecycle: authenticate,
// verify if demanded, sync the contact list, bring up the messaging
// transport, and tear everything down on failure or request. All remote
// events and control requests funnel into a single goroutine, so state
// transitions and observer callbacks are totally ordered.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/meszmate/gateway/internal/avatar"
	"github.com/meszmate/gateway/internal/handles"
	"github.com/meszmate/gateway/internal/logging"
	"github.com/meszmate/gateway/internal/remote"
	"github.com/meszmate/gateway/internal/roster"
	"github.com/meszmate/gateway/internal/session"
	"github.com/meszmate/gateway/internal/storage/sqlite"
	"github.com/meszmate/gateway/internal/verify"
)

// Status is the externally visible connection status.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Reason explains why a session ended.
type Reason int

const (
	ReasonNoneSpecified Reason = iota
	ReasonRequested
	ReasonNetworkError
	ReasonAuthFailed
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonRequested:
		return "requested"
	case ReasonNetworkError:
		return "network-error"
	case ReasonAuthFailed:
		return "auth-failed"
	default:
		return "none-specified"
	}
}

// ListState tracks the contact list download.
type ListState int

const (
	ListNone ListState = iota
	ListPending
	ListReceived
	ListFailed
)

// String returns the list state name.
func (s ListState) String() string {
	switch s {
	case ListPending:
		return "pending"
	case ListReceived:
		return "received"
	case ListFailed:
		return "failed"
	default:
		return "none"
	}
}

// Observer receives engine notifications. All methods except AvatarUpdated
// are invoked from the engine's event goroutine, in transition order;
// AvatarUpdated arrives from the avatar worker while the session is
// connected.
type Observer interface {
	StatusChanged(status Status, reason Reason)
	ContactListStateChanged(state ListState)
	ContactsChanged(changed []handles.Handle)
	AvatarTokenChanged(h handles.Handle, token string)
	AvatarUpdated(up avatar.Update)
	PresencesChanged(updates map[handles.Handle]roster.PresenceLevel)
	VerificationRequested(req verify.Request)
}

// Config carries everything an engine needs for one account.
type Config struct {
	AccountID string
	Secret    string

	// Factor is the optional second login factor.
	Factor string

	Sessions *session.Store

	// Cache is optional; when set, the roster and fetched avatars are
	// persisted for offline inspection.
	Cache *sqlite.DB

	NewClient remote.Factory
	Observer  Observer
	Logger    *logging.Logger

	// UserAgent is sent on avatar downloads.
	UserAgent string
}

type control struct {
	isVerify     bool
	verifyTag    uint64
	verifyResult bool
	stop         bool
	stopReason   Reason
}

// Engine is one account's connection engine. A fresh engine is built per
// session; Start may be called once.
type Engine struct {
	cfg Config
	log *logging.Logger

	repo     *handles.Repo
	table    *roster.Table
	verifier *verify.Manager
	avatars  *avatar.Queue

	events chan remote.Event
	ctrl   chan control
	done   chan struct{}
	cancel context.CancelFunc

	mu        sync.Mutex
	started   bool
	status    Status
	reason    Reason
	listState ListState
	connected bool

	attrs  session.Attributes
	client remote.Client

	// verifyTag names the verification request whose outcome still matters.
	// Touched only on the event goroutine.
	verifyTag uint64
}

// ErrAlreadyStarted is returned by Start on a live engine.
var ErrAlreadyStarted = errors.New("connection already open")

// ErrNotConnected is returned for operations that need a live transport.
var ErrNotConnected = errors.New("not connected")

// New creates an engine. It does not touch the network.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}

	repo := handles.NewRepo()
	e := &Engine{
		cfg:      cfg,
		log:      log,
		repo:     repo,
		table:    roster.NewTable(repo),
		verifier: verify.NewManager(),
		events:   make(chan remote.Event, 32),
		ctrl:     make(chan control, 4),
		done:     make(chan struct{}),
	}

	e.table.SetAvatarTokenHandler(func(h handles.Handle, token string) {
		e.cfg.Observer.AvatarTokenChanged(h, token)
	})

	e.avatars = avatar.NewQueue(cfg.UserAgent, e.isConnected, e.avatarFetched, log)

	return e
}

// Start loads the persisted session, builds the remote client and begins
// authentication. It returns an error if the engine is already running or
// the durable session record cannot be read.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.status = StatusConnecting
	e.mu.Unlock()

	attrs, err := e.cfg.Sessions.Load(e.cfg.AccountID)
	if err != nil {
		e.mu.Lock()
		e.started = false
		e.status = StatusDisconnected
		e.mu.Unlock()
		return fmt.Errorf("failed to load session for %s: %w", e.cfg.AccountID, err)
	}

	client, err := e.cfg.NewClient(remote.Config{
		AccountID: e.cfg.AccountID,
		Attrs:     attrs,
		Events:    e.events,
	})
	if err != nil {
		e.mu.Lock()
		e.started = false
		e.status = StatusDisconnected
		e.mu.Unlock()
		return fmt.Errorf("failed to create remote client: %w", err)
	}

	e.attrs = attrs
	e.client = client

	selfHandle := e.repo.Ensure(e.cfg.AccountID)
	e.table.BindSelf(selfHandle)
	if uid := attrs.GetInt64("uid", 0); uid != 0 {
		e.table.SetSelfUID(remote.UserID(uid))
	}

	ctx, e.cancel = context.WithCancel(ctx)

	e.log.Domain(logging.DomainConnection, "connecting account %s", e.cfg.AccountID)
	e.cfg.Observer.StatusChanged(StatusConnecting, ReasonRequested)

	go e.run(ctx)

	if err := client.Authenticate(ctx, e.cfg.AccountID, e.cfg.Secret, e.cfg.Factor); err != nil {
		e.ctrl <- control{stop: true, stopReason: ReasonNetworkError}
		return nil
	}

	return nil
}

// Stop requests a clean disconnect and waits for teardown to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	select {
	case e.ctrl <- control{stop: true, stopReason: ReasonRequested}:
	case <-e.done:
		return
	}
	<-e.done
}

// Done is closed once the session has fully torn down.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Status returns the current status and, for disconnected, the reason.
func (e *Engine) Status() (Status, Reason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.reason
}

// ContactListState returns the contact list download state.
func (e *Engine) ContactListState() ListState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listState
}

// Roster returns a copy of the in-memory contact table.
func (e *Engine) Roster() []roster.Contact {
	return e.table.Snapshot()
}

// Contact returns a copy of one contact, or nil.
func (e *Engine) Contact(h handles.Handle) *roster.Contact {
	return e.table.User(h)
}

// SelfHandle returns the account's own handle.
func (e *Engine) SelfHandle() handles.Handle {
	return e.table.SelfHandle()
}

// States returns the subscription triple for h.
func (e *Engine) States(h handles.Handle) (subscribe, publish roster.SubscriptionState, publishRequest string) {
	return e.table.States(h)
}

// Presence returns the presence level for h.
func (e *Engine) Presence(h handles.Handle) roster.PresenceLevel {
	return e.table.Presence(h)
}

// CachedRoster returns the roster persisted from the last completed sync.
// Available even while disconnected.
func (e *Engine) CachedRoster() ([]sqlite.RosterEntry, error) {
	if e.cfg.Cache == nil {
		return nil, nil
	}
	return e.cfg.Cache.GetRoster(e.cfg.AccountID)
}

// RequestAvatars queues avatar downloads for the given contacts. Handles
// with no avatar URL are skipped. It fails when the session is not
// connected.
func (e *Engine) RequestAvatars(ctx context.Context, hs []handles.Handle) error {
	if !e.isConnected() {
		return ErrNotConnected
	}

	var targets []avatar.Target
	for _, h := range hs {
		c := e.table.User(h)
		if c == nil || c.Icon == "" {
			continue
		}
		targets = append(targets, avatar.Target{Handle: h, Token: c.AvatarToken, URL: c.Icon})
	}

	e.avatars.Enqueue(ctx, targets)
	return nil
}

// CompleteVerification resolves the verification request identified by tag.
// It reports whether the tag matched a live request.
func (e *Engine) CompleteVerification(tag uint64, verified bool) bool {
	return e.verifier.Complete(tag, verified)
}

// PendingVerification returns the outstanding verification request, if any.
func (e *Engine) PendingVerification() (verify.Request, bool) {
	return e.verifier.Pending()
}

func (e *Engine) isConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *Engine) run(ctx context.Context) {
	for {
		select {
		case ev := <-e.events:
			if e.handleEvent(ctx, ev) {
				return
			}
		case c := <-e.ctrl:
			if e.handleControl(ctx, c) {
				return
			}
		case <-ctx.Done():
			e.teardown(ReasonRequested)
			return
		}
	}
}

// handleEvent processes one remote event. It returns true when the session
// has ended.
func (e *Engine) handleEvent(ctx context.Context, ev remote.Event) bool {
	switch ev := ev.(type) {
	case remote.AuthEvent:
		e.onAuth(ctx, ev)
	case remote.AccountVerifyEvent:
		e.onAccountVerify(ev)
	case remote.ContactsEvent:
		e.onContacts(ctx, ev)
	case remote.ConnectedEvent:
		e.onConnected(ev)
	case remote.PresencesEvent:
		e.onPresences(ev)
	case remote.FailureEvent:
		e.onFailure(ev)
		return true
	}
	return false
}

func (e *Engine) handleControl(ctx context.Context, c control) bool {
	switch {
	case c.isVerify:
		// A superseded request retires as unverified; only the outcome of
		// the live request may end or resume the session.
		if c.verifyTag != e.verifyTag {
			return false
		}
		if c.verifyResult {
			e.log.Domain(logging.DomainVerify, "account %s verified, retrying login", e.cfg.AccountID)
			if err := e.client.Authenticate(ctx, e.cfg.AccountID, e.cfg.Secret, e.cfg.Factor); err != nil {
				e.teardown(ReasonNetworkError)
				return true
			}
			return false
		}
		e.log.Domain(logging.DomainVerify, "account %s verification declined", e.cfg.AccountID)
		e.teardown(ReasonAuthFailed)
		return true
	case c.stop:
		e.teardown(c.stopReason)
		return true
	}
	return false
}

func (e *Engine) onAuth(ctx context.Context, ev remote.AuthEvent) {
	e.log.Domain(logging.DomainConnection, "account %s authenticated", e.cfg.AccountID)

	e.attrs.Merge(ev.Fields)
	e.saveSession()

	if uid := e.attrs.GetInt64("uid", 0); uid != 0 {
		e.table.SetSelfUID(remote.UserID(uid))
	}

	e.setListState(ListPending)

	if err := e.client.FetchContacts(ctx); err != nil {
		e.log.Error("failed to request contacts for %s: %v", e.cfg.AccountID, err)
	}
}

func (e *Engine) onAccountVerify(ev remote.AccountVerifyEvent) {
	req := e.verifier.Begin(ev.URL, ev.Title, ev.Message, func(tag uint64, verified bool) {
		// CancelAll resolves requests from the event goroutine during
		// teardown; the post back onto the control channel must not
		// block that goroutine.
		go func() {
			select {
			case e.ctrl <- control{isVerify: true, verifyTag: tag, verifyResult: verified}:
			case <-e.done:
			}
		}()
	})
	e.verifyTag = req.Tag

	e.log.Domain(logging.DomainVerify, "account %s requires verification: %s", e.cfg.AccountID, ev.URL)
	e.cfg.Observer.VerificationRequested(req)
}

func (e *Engine) onContacts(ctx context.Context, ev remote.ContactsEvent) {
	changed := e.table.UpsertBatch(ev.Users)
	if len(changed) > 0 {
		e.cfg.Observer.ContactsChanged(changed)
	}

	if !ev.Complete {
		return
	}

	e.saveRoster()

	if !e.isConnected() {
		if err := e.client.Connect(ctx); err != nil {
			e.log.Error("failed to start transport for %s: %v", e.cfg.AccountID, err)
		}
	}
}

func (e *Engine) onConnected(ev remote.ConnectedEvent) {
	e.attrs.Merge(ev.Fields)
	e.saveSession()

	e.mu.Lock()
	already := e.connected
	e.connected = true
	pending := e.listState == ListPending
	e.status = StatusConnected
	e.mu.Unlock()

	if pending {
		e.setListState(ListReceived)
	}

	if already {
		return
	}

	e.log.Domain(logging.DomainConnection, "account %s connected", e.cfg.AccountID)
	e.logStatus("connected", "")
	e.cfg.Observer.StatusChanged(StatusConnected, ReasonRequested)
}

func (e *Engine) onPresences(ev remote.PresencesEvent) {
	updates := e.table.ApplyPresences(ev.Entries)
	if len(updates) > 0 {
		e.cfg.Observer.PresencesChanged(updates)
	}
}

func (e *Engine) onFailure(ev remote.FailureEvent) {
	e.log.Error("account %s failed: %s (%s)", e.cfg.AccountID, ev.Message, ev.Class)

	var reason Reason
	switch ev.Class {
	case remote.ErrorAuth:
		reason = ReasonAuthFailed
	case remote.ErrorNetwork:
		reason = ReasonNetworkError
	default:
		reason = ReasonNoneSpecified
	}

	e.mu.Lock()
	pending := e.listState == ListPending
	e.mu.Unlock()
	if pending {
		e.setListState(ListFailed)
	}

	e.teardown(reason)
}

// teardown ends the session: avatar work is dropped, any outstanding
// verification resolves as unverified, the client is torn down, and the
// final status goes out last.
func (e *Engine) teardown(reason Reason) {
	e.mu.Lock()
	if e.status == StatusDisconnected {
		e.mu.Unlock()
		return
	}
	e.status = StatusDisconnected
	e.reason = reason
	e.connected = false
	e.mu.Unlock()

	e.avatars.Stop()
	e.verifier.CancelAll()

	if err := e.client.Disconnect(); err != nil {
		e.log.Debug("disconnect for %s: %v", e.cfg.AccountID, err)
	}
	if e.cancel != nil {
		e.cancel()
	}

	e.log.Domain(logging.DomainConnection, "account %s disconnected: %s", e.cfg.AccountID, reason)
	e.logStatus("disconnected", reason.String())
	e.cfg.Observer.StatusChanged(StatusDisconnected, reason)
	close(e.done)
}

func (e *Engine) setListState(s ListState) {
	e.mu.Lock()
	e.listState = s
	e.mu.Unlock()
	e.cfg.Observer.ContactListStateChanged(s)
}

// saveSession persists the session record. A write failure is logged, not
// fatal; the next milestone retries with the same attributes.
func (e *Engine) saveSession() {
	if err := e.cfg.Sessions.Save(e.cfg.AccountID, e.attrs); err != nil {
		e.log.Error("failed to save session for %s: %v", e.cfg.AccountID, err)
	}
}

func (e *Engine) saveRoster() {
	if e.cfg.Cache == nil {
		return
	}

	contacts := e.table.Snapshot()
	entries := make([]sqlite.RosterEntry, 0, len(contacts))
	for _, c := range contacts {
		entries = append(entries, sqlite.RosterEntry{
			UID:         int64(c.UID),
			Name:        c.Name,
			Icon:        c.Icon,
			AvatarToken: c.AvatarToken,
			Friendship:  c.Friendship.String(),
			Active:      c.Active,
		})
	}

	if err := e.cfg.Cache.SaveRoster(e.cfg.AccountID, entries); err != nil {
		e.log.Error("failed to cache roster for %s: %v", e.cfg.AccountID, err)
	}
}

func (e *Engine) logStatus(status, reason string) {
	if e.cfg.Cache == nil {
		return
	}
	if err := e.cfg.Cache.LogConnectionStatus(e.cfg.AccountID, status, reason); err != nil {
		e.log.Debug("failed to log status for %s: %v", e.cfg.AccountID, err)
	}
}

func (e *Engine) avatarFetched(up avatar.Update) {
	if e.cfg.Cache != nil {
		if c := e.table.User(up.Handle); c != nil {
			err := e.cfg.Cache.SaveAvatar(e.cfg.AccountID, sqlite.Avatar{
				UID:         int64(c.UID),
				Token:       up.Token,
				ContentType: up.ContentType,
				Data:        up.Data,
			})
			if err != nil {
				e.log.Debug("failed to cache avatar for handle %d: %v", up.Handle, err)
			}
		}
	}

	e.cfg.Observer.AvatarUpdated(up)
}
