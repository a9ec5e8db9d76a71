// Package verify tracks interactive account verification. The service may
// demand that the user confirm their identity out of band before login can
// proceed; at most one verification is outstanding at a time.
package verify

import "sync"

// Request describes one outstanding verification demand.
type Request struct {
	Tag     uint64
	URL     string
	Title   string
	Message string
}

// Manager owns the single verification slot. Every Begin eventually resolves
// its done callback exactly once, with verified=true only on explicit
// confirmation; the callback receives the tag of the request it resolves.
type Manager struct {
	mu   sync.Mutex
	next uint64

	live *Request
	done func(tag uint64, verified bool)
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Begin opens a verification request. Any request still outstanding is
// retired first, resolving as unverified. The returned request carries the
// tag Complete must present.
func (m *Manager) Begin(url, title, message string, done func(tag uint64, verified bool)) Request {
	m.mu.Lock()
	var staleTag uint64
	stale := m.done
	if m.live != nil {
		staleTag = m.live.Tag
	}

	m.next++
	req := Request{Tag: m.next, URL: url, Title: title, Message: message}
	m.live = &req
	m.done = done
	m.mu.Unlock()

	if stale != nil {
		stale(staleTag, false)
	}
	return req
}

// Complete resolves the request identified by tag. A stale or unknown tag is
// ignored and reported as false.
func (m *Manager) Complete(tag uint64, verified bool) bool {
	m.mu.Lock()
	if m.live == nil || m.live.Tag != tag {
		m.mu.Unlock()
		return false
	}
	done := m.done
	m.live = nil
	m.done = nil
	m.mu.Unlock()

	if done != nil {
		done(tag, verified)
	}
	return true
}

// CancelAll resolves any outstanding request as unverified. Used at session
// teardown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	var tag uint64
	done := m.done
	if m.live != nil {
		tag = m.live.Tag
	}
	m.live = nil
	m.done = nil
	m.mu.Unlock()

	if done != nil {
		done(tag, false)
	}
}

// Pending returns a copy of the outstanding request, if any.
func (m *Manager) Pending() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == nil {
		return Request{}, false
	}
	return *m.live, true
}
