// Package remote defines the boundary to the wire-protocol client: the
// operations the engine may request and the events the client reports back.
// The client implementation itself lives outside this repository; concrete
// clients register a Factory under a protocol name.
package remote

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// UserID is the remote service's stable numeric user identifier.
type UserID int64

// String formats the id the way the service's URLs and rosters carry it.
func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseUserID parses the decimal form of a user id.
func ParseUserID(s string) (UserID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q: %w", s, err)
	}
	return UserID(n), nil
}

// Friendship is the mutual-relationship status between the account and a
// remote user.
type Friendship int

const (
	FriendshipUnknown Friendship = iota
	FriendshipNotFriends
	FriendshipAreFriends
	FriendshipIncomingRequest
	FriendshipOutgoingRequest
	FriendshipCanRequest
	FriendshipCanReconfirm
	FriendshipCannotRequest
	FriendshipBlocked
	FriendshipDeactivated
)

// String returns the wire name of the friendship status.
func (f Friendship) String() string {
	switch f {
	case FriendshipNotFriends:
		return "not-friends"
	case FriendshipAreFriends:
		return "are-friends"
	case FriendshipIncomingRequest:
		return "incoming-request"
	case FriendshipOutgoingRequest:
		return "outgoing-request"
	case FriendshipCanRequest:
		return "can-request"
	case FriendshipCanReconfirm:
		return "can-reconfirm"
	case FriendshipCannotRequest:
		return "cannot-request"
	case FriendshipBlocked:
		return "blocked"
	case FriendshipDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// User is one roster record as delivered by the remote client.
type User struct {
	UID  UserID
	Name string

	// Icon is the avatar image URL, empty when the user has none.
	Icon string

	// Checksum is the remote-supplied avatar checksum, used when the icon
	// URL carries no recognizable revision fragment.
	Checksum string

	Friendship Friendship
}

// PresenceEntry is one user's activity flag as delivered by the remote
// client.
type PresenceEntry struct {
	UID    UserID
	Active bool
}

// ErrorClass classifies a terminal client failure.
type ErrorClass int

const (
	ErrorOther ErrorClass = iota
	ErrorAuth
	ErrorNetwork
)

// String returns the class name.
func (c ErrorClass) String() string {
	switch c {
	case ErrorAuth:
		return "auth"
	case ErrorNetwork:
		return "network"
	default:
		return "other"
	}
}

// Event is a tagged variant reported by the client. All events for one
// client are delivered on a single ordered channel.
type Event interface {
	isEvent()
}

// AuthEvent reports a successful first authentication. Fields carries the
// new or rotated session attributes to persist.
type AuthEvent struct {
	Fields map[string]string
}

// AccountVerifyEvent reports that the service demands interactive identity
// verification before authentication can complete.
type AccountVerifyEvent struct {
	URL     string
	Title   string
	Message string
}

// ConnectedEvent reports that the messaging transport is fully up. Fields
// carries any attributes rotated during connect.
type ConnectedEvent struct {
	Fields map[string]string
}

// ContactsEvent delivers a roster batch. Complete marks the final delivery
// of the full list; partial deliveries carry Complete=false.
type ContactsEvent struct {
	Users    []User
	Complete bool
}

// PresencesEvent delivers a batch of activity changes.
type PresencesEvent struct {
	Entries []PresenceEntry
}

// FailureEvent reports a terminal client error. The client retries
// transport problems internally; anything surfaced here ends the session.
type FailureEvent struct {
	Class   ErrorClass
	Message string
}

func (AuthEvent) isEvent()          {}
func (AccountVerifyEvent) isEvent() {}
func (ConnectedEvent) isEvent()     {}
func (ContactsEvent) isEvent()      {}
func (PresencesEvent) isEvent()     {}
func (FailureEvent) isEvent()       {}

// Client is the wire-protocol client. Requests are asynchronous: results
// arrive as events, never as return values.
type Client interface {
	// Authenticate starts the login flow for id. factor is an optional
	// second login factor, empty when unused.
	Authenticate(ctx context.Context, id, secret, factor string) error

	// FetchContacts requests the full contact list.
	FetchContacts(ctx context.Context) error

	// Connect brings up the messaging transport after the contact list
	// has been received.
	Connect(ctx context.Context) error

	// Disconnect tears the client down. No events are delivered after it
	// returns.
	Disconnect() error
}

// Config seeds a client with everything it needs to resume a session.
type Config struct {
	AccountID string

	// Attrs is the persisted session record; the client reads whatever
	// keys it owns (tokens, device ids, counters).
	Attrs map[string]string

	// Events receives every client event, in order.
	Events chan<- Event
}

// Factory constructs a client for one connection attempt.
type Factory func(cfg Config) (Client, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a protocol client available under name. It panics on a
// duplicate registration, matching database/sql driver semantics.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("remote: Register factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic("remote: Register called twice for protocol " + name)
	}
	factories[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Protocols lists the registered protocol names, sorted.
func Protocols() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
