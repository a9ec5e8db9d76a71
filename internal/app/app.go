// Package app wires the gateway together: configuration, durable storage,
// the per-account connection engines and the plugin host.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/meszmate/gateway/internal/config"
	"github.com/meszmate/gateway/internal/connection"
	"github.com/meszmate/gateway/internal/logging"
	"github.com/meszmate/gateway/internal/remote"
	"github.com/meszmate/gateway/internal/session"
	"github.com/meszmate/gateway/internal/storage/sqlite"
	gwplugin "github.com/meszmate/gateway/pkg/plugin"
)

// App represents the running gateway
type App struct {
	cfg      *config.Config
	accounts *config.AccountsConfig
	log      *logging.Logger

	storage  *sqlite.DB
	sessions *session.Store
	plugins  *gwplugin.Host

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	engines map[string]*connection.Engine

	// Event subscriptions handed to plugins.
	subsMu       sync.Mutex
	nextSub      int
	statusSubs   map[int]func(status, reason string)
	contactsSubs map[int]func(uids []int64)
	verifySubs   map[int]func(prompt gwplugin.VerificationPrompt)
}

// New creates an App instance
func New(cfg *config.Config, log *logging.Logger) (*App, error) {
	accounts, err := config.LoadAccounts()
	if err != nil {
		return nil, err
	}

	dataDir := cfg.General.DataDir
	if dataDir == "" {
		paths, err := config.GetPaths()
		if err != nil {
			return nil, err
		}
		dataDir = paths.DataDir
	}

	storage, err := sqlite.New(dataDir)
	if err != nil {
		// Roster and avatar persistence is optional.
		log.Warn("failed to initialize storage: %v", err)
		storage = nil
	}

	sessions, err := session.NewStore(dataDir, cfg.Session.KeyFile)
	if err != nil {
		if storage != nil {
			storage.Close()
		}
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:          cfg,
		accounts:     accounts,
		log:          log,
		storage:      storage,
		sessions:     sessions,
		ctx:          ctx,
		cancel:       cancel,
		engines:      make(map[string]*connection.Engine),
		statusSubs:   make(map[int]func(status, reason string)),
		contactsSubs: make(map[int]func(uids []int64)),
		verifySubs:   make(map[int]func(prompt gwplugin.VerificationPrompt)),
	}

	if len(cfg.Plugins.Enabled) > 0 {
		a.plugins = gwplugin.NewHost(cfg.Plugins.PluginDir, &pluginAPI{app: a})
		if err := a.plugins.LoadAll(); err != nil {
			log.Warn("failed to load plugins: %v", err)
		}
		for _, name := range cfg.Plugins.Enabled {
			if err := a.plugins.Start(name); err != nil {
				log.Warn("failed to start plugin %s: %v", name, err)
			}
		}
	}

	return a, nil
}

// Config returns the configuration
func (a *App) Config() *config.Config {
	return a.cfg
}

// Accounts returns the account configurations
func (a *App) Accounts() []config.Account {
	return a.accounts.Accounts
}

// Connect brings up the engine for one configured account.
func (a *App) Connect(accountID string) error {
	acc := a.getAccount(accountID)
	if acc == nil {
		return fmt.Errorf("account not found: %s", accountID)
	}

	factory, ok := remote.Lookup(a.cfg.General.Protocol)
	if !ok {
		return fmt.Errorf("no client registered for protocol %q", a.cfg.General.Protocol)
	}

	a.mu.Lock()
	if eng, exists := a.engines[accountID]; exists {
		select {
		case <-eng.Done():
			// Previous session finished; replace it.
		default:
			a.mu.Unlock()
			return connection.ErrAlreadyStarted
		}
	}

	eng := connection.New(connection.Config{
		AccountID: acc.ID,
		Secret:    acc.Secret,
		Factor:    acc.Factor,
		Sessions:  a.sessions,
		Cache:     a.storage,
		NewClient: factory,
		Observer:  &observer{app: a, accountID: acc.ID},
		Logger:    a.log,
		UserAgent: a.cfg.Avatars.UserAgent,
	})
	a.engines[accountID] = eng
	a.mu.Unlock()

	if err := eng.Start(a.ctx); err != nil {
		a.mu.Lock()
		delete(a.engines, accountID)
		a.mu.Unlock()
		return err
	}

	return nil
}

// AutoConnect connects every account marked auto-connect.
func (a *App) AutoConnect() {
	for _, acc := range a.accounts.Accounts {
		if !acc.AutoConnect {
			continue
		}
		if err := a.Connect(acc.ID); err != nil {
			a.log.Error("auto-connect %s: %v", acc.ID, err)
		}
	}
}

// Disconnect tears down one account's session.
func (a *App) Disconnect(accountID string) {
	a.mu.RLock()
	eng := a.engines[accountID]
	a.mu.RUnlock()

	if eng != nil {
		eng.Stop()
	}
}

// Engine returns the engine for an account, or nil.
func (a *App) Engine(accountID string) *connection.Engine {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engines[accountID]
}

// Close tears down all sessions and releases resources.
func (a *App) Close() {
	a.mu.RLock()
	engines := make([]*connection.Engine, 0, len(a.engines))
	for _, eng := range a.engines {
		engines = append(engines, eng)
	}
	a.mu.RUnlock()

	for _, eng := range engines {
		eng.Stop()
	}

	if a.plugins != nil {
		a.plugins.UnloadAll()
	}

	a.cancel()

	if a.storage != nil {
		a.storage.Close()
	}
}

func (a *App) getAccount(id string) *config.Account {
	for i := range a.accounts.Accounts {
		if a.accounts.Accounts[i].ID == id {
			return &a.accounts.Accounts[i]
		}
	}
	return nil
}

func (a *App) notify(title, body string) {
	if a.plugins == nil {
		return
	}
	for _, n := range a.plugins.Notifiers() {
		if err := n.Notify(title, body); err != nil {
			a.log.Debug("notifier: %v", err)
		}
	}
}

func (a *App) emitStatus(status, reason string) {
	a.subsMu.Lock()
	handlers := make([]func(string, string), 0, len(a.statusSubs))
	for _, h := range a.statusSubs {
		handlers = append(handlers, h)
	}
	a.subsMu.Unlock()

	for _, h := range handlers {
		h(status, reason)
	}
}

func (a *App) emitContacts(uids []int64) {
	a.subsMu.Lock()
	handlers := make([]func([]int64), 0, len(a.contactsSubs))
	for _, h := range a.contactsSubs {
		handlers = append(handlers, h)
	}
	a.subsMu.Unlock()

	for _, h := range handlers {
		h(uids)
	}
}

func (a *App) emitVerify(prompt gwplugin.VerificationPrompt) {
	a.subsMu.Lock()
	handlers := make([]func(gwplugin.VerificationPrompt), 0, len(a.verifySubs))
	for _, h := range a.verifySubs {
		handlers = append(handlers, h)
	}
	a.subsMu.Unlock()

	for _, h := range handlers {
		h(prompt)
	}
}
