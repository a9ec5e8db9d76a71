package app

import (
	"context"
	"testing"

	"github.com/meszmate/gateway/internal/avatar"
	"github.com/meszmate/gateway/internal/connection"
	"github.com/meszmate/gateway/internal/handles"
	"github.com/meszmate/gateway/internal/logging"
	"github.com/meszmate/gateway/internal/roster"
	"github.com/meszmate/gateway/internal/session"
	"github.com/meszmate/gateway/internal/verify"
)

type nopObserver struct{}

func (nopObserver) StatusChanged(connection.Status, connection.Reason)       {}
func (nopObserver) ContactListStateChanged(connection.ListState)             {}
func (nopObserver) ContactsChanged([]handles.Handle)                         {}
func (nopObserver) AvatarTokenChanged(handles.Handle, string)                {}
func (nopObserver) AvatarUpdated(avatar.Update)                              {}
func (nopObserver) PresencesChanged(map[handles.Handle]roster.PresenceLevel) {}
func (nopObserver) VerificationRequested(verify.Request)                     {}

func newTestAPI(t *testing.T) *pluginAPI {
	t.Helper()

	store, err := session.NewStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	eng := connection.New(connection.Config{
		AccountID: "alice@example.com",
		Sessions:  store,
		Observer:  nopObserver{},
	})

	a := &App{
		log:     logging.Nop(),
		ctx:     context.Background(),
		engines: map[string]*connection.Engine{"alice@example.com": eng},
	}
	return &pluginAPI{app: a}
}

func TestPluginAPIRequestAvatars(t *testing.T) {
	api := newTestAPI(t)

	// The request reaches the engine; without a live session it is refused.
	if err := api.RequestAvatars([]int64{2000}); err != connection.ErrNotConnected {
		t.Fatalf("RequestAvatars = %v, want ErrNotConnected", err)
	}

	// No engine at all gives the same answer.
	empty := &pluginAPI{app: &App{engines: map[string]*connection.Engine{}}}
	if err := empty.RequestAvatars([]int64{2000}); err != connection.ErrNotConnected {
		t.Fatalf("RequestAvatars without engine = %v, want ErrNotConnected", err)
	}
}

func TestPluginAPIStatusWithoutEngine(t *testing.T) {
	api := &pluginAPI{app: &App{engines: map[string]*connection.Engine{}}}

	if got := api.GetStatus(); got != "disconnected" {
		t.Fatalf("GetStatus = %q, want disconnected", got)
	}
	if got := api.GetContacts(); got != nil {
		t.Fatalf("GetContacts = %v, want nil", got)
	}
}
