package plugin

import "context"

// Plugin is the interface that all plugins must implement
type Plugin interface {
	// Name returns the plugin name
	Name() string

	// Version returns the plugin version
	Version() string

	// Description returns a short description
	Description() string

	// Init initializes the plugin with the API
	Init(ctx context.Context, api API) error

	// Start starts the plugin
	Start() error

	// Stop stops the plugin
	Stop() error
}

// Verifier is implemented by plugins that can resolve account verification
// prompts, for example by opening a browser or talking to a companion app.
type Verifier interface {
	// Verify presents the verification prompt to the user and reports the
	// outcome. Returning false declines the verification.
	Verify(ctx context.Context, prompt VerificationPrompt) (bool, error)
}

// Notifier is implemented by plugins that surface session events to the
// user, for example desktop notifications.
type Notifier interface {
	// Notify delivers one event notification.
	Notify(title, body string) error
}

// API is the interface exposed to plugins
type API interface {
	RosterAPI
	ConnectionAPI
	EventsAPI
}

// RosterAPI provides access to the contact table
type RosterAPI interface {
	// GetContacts returns all known contacts
	GetContacts() []Contact

	// GetContact returns a specific contact by user id
	GetContact(uid int64) *Contact

	// GetPresence returns the presence level name for a user id
	GetPresence(uid int64) string

	// RequestAvatars queues avatar downloads for the given user ids.
	// Requires a connected session.
	RequestAvatars(uids []int64) error
}

// ConnectionAPI provides access to the session lifecycle
type ConnectionAPI interface {
	// GetStatus returns the connection status name
	GetStatus() string

	// Disconnect requests a clean disconnect
	Disconnect() error

	// CompleteVerification resolves a verification prompt by tag
	CompleteVerification(tag uint64, verified bool) bool
}

// EventsAPI provides access to event subscriptions
type EventsAPI interface {
	// OnStatusChanged registers a status handler
	OnStatusChanged(handler func(status, reason string)) func()

	// OnContactsChanged registers a roster change handler
	OnContactsChanged(handler func(uids []int64)) func()

	// OnVerificationRequested registers a verification handler
	OnVerificationRequested(handler func(prompt VerificationPrompt)) func()
}

// Contact is one roster entry as seen by plugins
type Contact struct {
	UID         int64
	Name        string
	AvatarToken string
	Friendship  string
	Active      bool
}

// VerificationPrompt is one account verification demand
type VerificationPrompt struct {
	Tag     uint64
	URL     string
	Title   string
	Message string
}

// Metadata contains plugin metadata
type Metadata struct {
	Name        string
	Version     string
	Description string
	Author      string
	Homepage    string
	License     string
	MinVersion  string // Minimum gateway version required
}

// Config contains plugin configuration
type Config struct {
	Enabled bool
	Options map[string]interface{}
}
