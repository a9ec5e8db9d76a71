// Package roster owns the local contact table: names, avatar identity,
// friendship state and activity for every known remote user, plus the
// distinguished self entry. All mutation happens on the connection engine's
// event path; external readers get copies.
package roster

import (
	"regexp"
	"sort"
	"sync"

	"github.com/meszmate/gateway/internal/handles"
	"github.com/meszmate/gateway/internal/remote"
)

// SubscriptionState mirrors the messaging framework's subscription values.
type SubscriptionState int

const (
	SubscriptionUnknown SubscriptionState = iota
	SubscriptionNo
	SubscriptionAsk
	SubscriptionYes
)

// String returns the framework name of the state.
func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionNo:
		return "no"
	case SubscriptionAsk:
		return "ask"
	case SubscriptionYes:
		return "yes"
	default:
		return "unknown"
	}
}

// PresenceLevel is the externally visible presence of a contact.
type PresenceLevel int

const (
	PresenceAway PresenceLevel = iota
	PresenceAvailable
	PresenceUnknown
)

// String returns the framework name of the level.
func (p PresenceLevel) String() string {
	switch p {
	case PresenceAway:
		return "away"
	case PresenceAvailable:
		return "available"
	default:
		return "unknown"
	}
}

// Contact is one roster entry.
type Contact struct {
	UID         remote.UserID
	Handle      handles.Handle
	Name        string
	Icon        string
	AvatarToken string
	Friendship  remote.Friendship
	Active      bool
}

// Allocator resolves remote identifiers to handles. It is the messaging
// framework's handle repository; the table only references handles, never
// invents them.
type Allocator interface {
	Ensure(id string) handles.Handle
}

// Table is the roster table. The self contact is held apart from the peer
// map and matched by user id.
type Table struct {
	mu    sync.RWMutex
	alloc Allocator

	selfUID    remote.UserID
	selfHandle handles.Handle
	me         Contact

	contacts map[handles.Handle]*Contact

	// onTokenChanged fires before a differing avatar token is overwritten.
	onTokenChanged func(h handles.Handle, token string)
}

// NewTable creates an empty table backed by alloc.
func NewTable(alloc Allocator) *Table {
	return &Table{
		alloc:    alloc,
		contacts: make(map[handles.Handle]*Contact),
	}
}

// SetAvatarTokenHandler registers the avatar-token-changed callback. It is
// invoked synchronously from UpsertBatch, once per contact whose previously
// known token is being replaced, before the replacement is stored; the
// handler still reads the outgoing token from the table. First sight of a
// token is not a change.
func (t *Table) SetAvatarTokenHandler(fn func(h handles.Handle, token string)) {
	t.mu.Lock()
	t.onTokenChanged = fn
	t.mu.Unlock()
}

// BindSelf binds the account's own handle. The numeric self id is usually
// not known until authentication; see SetSelfUID.
func (t *Table) BindSelf(h handles.Handle) {
	t.mu.Lock()
	t.selfHandle = h
	t.me.Handle = h
	t.mu.Unlock()
}

// SetSelfUID records the account's own remote user id once known.
func (t *Table) SetSelfUID(uid remote.UserID) {
	t.mu.Lock()
	t.selfUID = uid
	t.me.UID = uid
	t.mu.Unlock()
}

// SelfHandle returns the bound self handle.
func (t *Table) SelfHandle() handles.Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.selfHandle
}

// avatarTokenRE captures the stable revision fragment of an avatar URL.
// When the URL does not match, the remote checksum stands in for it.
var avatarTokenRE = regexp.MustCompile(`/\d+_(\d+)_\d+_[a-z]\.jpg`)

// AvatarToken derives the avatar identity token for a user record.
func AvatarToken(u remote.User) string {
	if m := avatarTokenRE.FindStringSubmatch(u.Icon); m != nil {
		return m[1]
	}
	return u.Checksum
}

// slotLocked resolves uid to its contact record, allocating a handle for an
// unseen peer. The self record never enters the peer map.
func (t *Table) slotLocked(uid remote.UserID) (c *Contact, h handles.Handle, isSelf bool) {
	if t.selfUID != 0 && uid == t.selfUID {
		return &t.me, t.selfHandle, true
	}
	h = t.alloc.Ensure(uid.String())
	return t.contacts[h], h, false
}

// UpsertBatch applies one roster delivery. It resolves handles, refreshes
// name/icon/avatar-token/friendship, fires avatar-token-changed for every
// contact whose token genuinely changed, and returns the handles of peers
// that are new or changed — one combined set per batch. The self record is
// updated in place but never part of the returned set.
//
// Token events fire before the batch mutations land: while the handler runs,
// the table still reads back the token being replaced.
func (t *Table) UpsertBatch(users []remote.User) []handles.Handle {
	t.mu.Lock()

	type tokenEvent struct {
		handle handles.Handle
		token  string
	}
	var tokenEvents []tokenEvent
	var changed []handles.Handle

	seen := make(map[handles.Handle]bool, len(users))
	for _, user := range users {
		c, h, isSelf := t.slotLocked(user.UID)
		differs := c == nil || (!isSelf && (c.Name != user.Name || c.Icon != user.Icon ||
			c.Friendship != user.Friendship || c.AvatarToken != AvatarToken(user)))
		if differs && !isSelf && !seen[h] {
			changed = append(changed, h)
			seen[h] = true
		}

		token := AvatarToken(user)
		if c != nil && c.AvatarToken != "" && c.AvatarToken != token {
			tokenEvents = append(tokenEvents, tokenEvent{handle: h, token: token})
		}
	}

	fn := t.onTokenChanged
	t.mu.Unlock()

	if fn != nil {
		for _, ev := range tokenEvents {
			fn(ev.handle, ev.token)
		}
	}

	t.mu.Lock()
	for _, user := range users {
		c, h, _ := t.slotLocked(user.UID)
		if c == nil {
			c = &Contact{UID: user.UID, Handle: h}
			t.contacts[h] = c
		}
		c.UID = user.UID
		c.Name = user.Name
		c.Icon = user.Icon
		c.AvatarToken = AvatarToken(user)
		c.Friendship = user.Friendship
	}
	t.mu.Unlock()

	return changed
}

// ApplyPresences updates activity flags and returns the new presence level
// for every contact that genuinely changed.
func (t *Table) ApplyPresences(entries []remote.PresenceEntry) map[handles.Handle]PresenceLevel {
	t.mu.Lock()
	defer t.mu.Unlock()

	updates := make(map[handles.Handle]PresenceLevel)

	for _, entry := range entries {
		var c *Contact
		var h handles.Handle

		if t.selfUID != 0 && entry.UID == t.selfUID {
			h = t.selfHandle
			c = &t.me
		} else {
			h = t.alloc.Ensure(entry.UID.String())
			c = t.contacts[h]
		}

		if c == nil || c.Active == entry.Active {
			continue
		}

		c.Active = entry.Active
		updates[h] = t.presenceLocked(h, c)
	}

	return updates
}

// User returns a copy of the contact bound to h, or nil when unknown. The
// self handle resolves to the self record.
func (t *Table) User(h handles.Handle) *Contact {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if h == t.selfHandle && h != handles.None {
		c := t.me
		return &c
	}
	c := t.contacts[h]
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// EnsureHandle resolves uid to a handle, allocating one if needed. Used by
// avatar delivery for users not yet in the roster.
func (t *Table) EnsureHandle(uid remote.UserID) handles.Handle {
	return t.alloc.Ensure(uid.String())
}

// Handles returns all peer handles, sorted for deterministic iteration.
func (t *Table) Handles() []handles.Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	hs := make([]handles.Handle, 0, len(t.contacts))
	for h := range t.contacts {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

// Snapshot returns a copy of every peer contact, sorted by handle.
func (t *Table) Snapshot() []Contact {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Contact, 0, len(t.contacts))
	for _, c := range t.contacts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Presence returns the externally visible presence level for h.
func (t *Table) Presence(h handles.Handle) PresenceLevel {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if h == t.selfHandle && h != handles.None {
		return PresenceAvailable
	}
	return t.presenceLocked(h, t.contacts[h])
}

func (t *Table) presenceLocked(h handles.Handle, c *Contact) PresenceLevel {
	if h == t.selfHandle && h != handles.None {
		return PresenceAvailable
	}
	if c == nil || c.Friendship != remote.FriendshipAreFriends {
		return PresenceUnknown
	}
	if c.Active {
		return PresenceAvailable
	}
	return PresenceAway
}

// States returns the (subscribe, publish, publish-request) triple for h.
// An unknown handle yields unknown states.
func (t *Table) States(h handles.Handle) (subscribe, publish SubscriptionState, publishRequest string) {
	c := t.User(h)
	if c == nil {
		return SubscriptionUnknown, SubscriptionUnknown, ""
	}

	subscribe = SubscribeState(c.Friendship)
	publish, publishRequest = PublishState(c.Friendship)
	return subscribe, publish, publishRequest
}

// PublishState maps a friendship status to the publish state and, for
// incoming requests, the request text. The mapping is a fixed table.
func PublishState(fs remote.Friendship) (SubscriptionState, string) {
	switch fs {
	case remote.FriendshipAreFriends:
		return SubscriptionYes, ""
	case remote.FriendshipIncomingRequest:
		return SubscriptionAsk, "Incoming friend request"
	case remote.FriendshipOutgoingRequest,
		remote.FriendshipCanRequest,
		remote.FriendshipCanReconfirm,
		remote.FriendshipCannotRequest,
		remote.FriendshipNotFriends,
		remote.FriendshipBlocked,
		remote.FriendshipDeactivated:
		return SubscriptionNo, ""
	default:
		return SubscriptionUnknown, ""
	}
}

// SubscribeState maps a friendship status to the subscribe state: presence
// is visible only between friends.
func SubscribeState(fs remote.Friendship) SubscriptionState {
	if fs == remote.FriendshipAreFriends {
		return SubscriptionYes
	}
	return SubscriptionNo
}
