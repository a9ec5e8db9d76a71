package app

import (
	"context"
	"time"

	"github.com/meszmate/gateway/internal/avatar"
	"github.com/meszmate/gateway/internal/connection"
	"github.com/meszmate/gateway/internal/handles"
	"github.com/meszmate/gateway/internal/roster"
	"github.com/meszmate/gateway/internal/verify"
	gwplugin "github.com/meszmate/gateway/pkg/plugin"
)

const verifyTimeout = 5 * time.Minute

// observer receives engine notifications for one account and fans them out
// to plugins and the log.
type observer struct {
	app       *App
	accountID string
}

func (o *observer) StatusChanged(status connection.Status, reason connection.Reason) {
	o.app.log.Info("account %s: %s (%s)", o.accountID, status, reason)
	o.app.emitStatus(status.String(), reason.String())

	switch status {
	case connection.StatusConnected:
		o.app.notify("Connected", o.accountID)
	case connection.StatusDisconnected:
		if reason != connection.ReasonRequested {
			o.app.notify("Disconnected", o.accountID+": "+reason.String())
		}
	}
}

func (o *observer) ContactListStateChanged(state connection.ListState) {
	o.app.log.Debug("account %s: contact list %s", o.accountID, state)
}

func (o *observer) ContactsChanged(changed []handles.Handle) {
	eng := o.app.Engine(o.accountID)
	if eng == nil {
		return
	}

	uids := make([]int64, 0, len(changed))
	for _, h := range changed {
		if c := eng.Contact(h); c != nil {
			uids = append(uids, int64(c.UID))
		}
	}
	o.app.emitContacts(uids)
}

func (o *observer) AvatarTokenChanged(h handles.Handle, token string) {
	o.app.log.Debug("account %s: avatar token changed for handle %d", o.accountID, h)
}

func (o *observer) AvatarUpdated(up avatar.Update) {
	o.app.log.Debug("account %s: avatar fetched for handle %d (%d bytes)", o.accountID, up.Handle, len(up.Data))
}

func (o *observer) PresencesChanged(updates map[handles.Handle]roster.PresenceLevel) {
	o.app.log.Debug("account %s: %d presence changes", o.accountID, len(updates))
}

// VerificationRequested hands the prompt to verifier plugins. The first
// plugin to answer resolves the request; with no verifier loaded, the
// prompt stays pending for an external CompleteVerification call.
func (o *observer) VerificationRequested(req verify.Request) {
	prompt := gwplugin.VerificationPrompt{
		Tag:     req.Tag,
		URL:     req.URL,
		Title:   req.Title,
		Message: req.Message,
	}
	o.app.emitVerify(prompt)
	o.app.notify("Verification required", req.URL)

	if o.app.plugins == nil {
		return
	}
	verifiers := o.app.plugins.Verifiers()
	if len(verifiers) == 0 {
		o.app.log.Warn("account %s requires verification but no verifier plugin is loaded", o.accountID)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(o.app.ctx, verifyTimeout)
		defer cancel()

		for _, v := range verifiers {
			verified, err := v.Verify(ctx, prompt)
			if err != nil {
				o.app.log.Warn("verifier plugin failed for %s: %v", o.accountID, err)
				continue
			}
			if eng := o.app.Engine(o.accountID); eng != nil {
				eng.CompleteVerification(req.Tag, verified)
			}
			return
		}
	}()
}

// pluginAPI is the gateway surface exposed to plugins. Roster reads go
// against the first live engine; multi-account plugin routing is not
// supported.
type pluginAPI struct {
	app *App
}

func (p *pluginAPI) engine() *connection.Engine {
	p.app.mu.RLock()
	defer p.app.mu.RUnlock()
	for _, eng := range p.app.engines {
		return eng
	}
	return nil
}

func (p *pluginAPI) GetContacts() []gwplugin.Contact {
	eng := p.engine()
	if eng == nil {
		return nil
	}

	contacts := eng.Roster()
	result := make([]gwplugin.Contact, 0, len(contacts))
	for _, c := range contacts {
		result = append(result, gwplugin.Contact{
			UID:         int64(c.UID),
			Name:        c.Name,
			AvatarToken: c.AvatarToken,
			Friendship:  c.Friendship.String(),
			Active:      c.Active,
		})
	}
	return result
}

func (p *pluginAPI) GetContact(uid int64) *gwplugin.Contact {
	eng := p.engine()
	if eng == nil {
		return nil
	}

	for _, c := range eng.Roster() {
		if int64(c.UID) == uid {
			return &gwplugin.Contact{
				UID:         uid,
				Name:        c.Name,
				AvatarToken: c.AvatarToken,
				Friendship:  c.Friendship.String(),
				Active:      c.Active,
			}
		}
	}
	return nil
}

func (p *pluginAPI) GetPresence(uid int64) string {
	eng := p.engine()
	if eng == nil {
		return roster.PresenceUnknown.String()
	}

	for _, c := range eng.Roster() {
		if int64(c.UID) == uid {
			return eng.Presence(c.Handle).String()
		}
	}
	return roster.PresenceUnknown.String()
}

func (p *pluginAPI) RequestAvatars(uids []int64) error {
	eng := p.engine()
	if eng == nil {
		return connection.ErrNotConnected
	}

	want := make(map[int64]bool, len(uids))
	for _, uid := range uids {
		want[uid] = true
	}

	var hs []handles.Handle
	for _, c := range eng.Roster() {
		if want[int64(c.UID)] {
			hs = append(hs, c.Handle)
		}
	}
	return eng.RequestAvatars(p.app.ctx, hs)
}

func (p *pluginAPI) GetStatus() string {
	eng := p.engine()
	if eng == nil {
		return connection.StatusDisconnected.String()
	}
	status, _ := eng.Status()
	return status.String()
}

func (p *pluginAPI) Disconnect() error {
	eng := p.engine()
	if eng != nil {
		eng.Stop()
	}
	return nil
}

func (p *pluginAPI) CompleteVerification(tag uint64, verified bool) bool {
	eng := p.engine()
	if eng == nil {
		return false
	}
	return eng.CompleteVerification(tag, verified)
}

func (p *pluginAPI) OnStatusChanged(handler func(status, reason string)) func() {
	return p.subscribe(func(a *App, id int) {
		a.statusSubs[id] = handler
	}, func(a *App, id int) {
		delete(a.statusSubs, id)
	})
}

func (p *pluginAPI) OnContactsChanged(handler func(uids []int64)) func() {
	return p.subscribe(func(a *App, id int) {
		a.contactsSubs[id] = handler
	}, func(a *App, id int) {
		delete(a.contactsSubs, id)
	})
}

func (p *pluginAPI) OnVerificationRequested(handler func(prompt gwplugin.VerificationPrompt)) func() {
	return p.subscribe(func(a *App, id int) {
		a.verifySubs[id] = handler
	}, func(a *App, id int) {
		delete(a.verifySubs, id)
	})
}

func (p *pluginAPI) subscribe(add func(*App, int), remove func(*App, int)) func() {
	a := p.app
	a.subsMu.Lock()
	a.nextSub++
	id := a.nextSub
	add(a, id)
	a.subsMu.Unlock()

	return func() {
		a.subsMu.Lock()
		remove(a, id)
		a.subsMu.Unlock()
	}
}
