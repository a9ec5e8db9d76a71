// Package avatar downloads contact avatar images. Requests for a batch are
// served strictly one at a time over a shared HTTP transport; the transport
// is released as soon as the queue drains or the session ends.
package avatar

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/meszmate/gateway/internal/handles"
	"github.com/meszmate/gateway/internal/logging"
)

// Target names one avatar to fetch.
type Target struct {
	Handle handles.Handle
	Token  string
	URL    string
}

// Update is one successfully fetched avatar.
type Update struct {
	Handle      handles.Handle
	Token       string
	Data        []byte
	ContentType string
}

// Queue fetches avatars sequentially. Completions are reported through the
// emit callback; failed downloads are skipped and the queue advances.
type Queue struct {
	client    *http.Client
	userAgent string
	connected func() bool
	emit      func(Update)
	log       *logging.Logger

	mu      sync.Mutex
	pending []Target
	running bool
	cancel  context.CancelFunc
}

// NewQueue creates a queue. connected is consulted before every fetch and
// before every emit; once it reports false the remaining work is dropped.
func NewQueue(userAgent string, connected func() bool, emit func(Update), log *logging.Logger) *Queue {
	if log == nil {
		log = logging.Nop()
	}
	return &Queue{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: userAgent,
		connected: connected,
		emit:      emit,
		log:       log,
	}
}

// Enqueue appends targets and starts the worker if idle. Targets with no
// URL are dropped up front.
func (q *Queue) Enqueue(ctx context.Context, targets []Target) {
	q.mu.Lock()
	for _, t := range targets {
		if t.URL == "" {
			continue
		}
		q.pending = append(q.pending, t)
	}
	if q.running || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	q.running = true
	ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()

	go q.run(ctx)
}

// Stop drops all queued work and interrupts the fetch in flight.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.pending = nil
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (q *Queue) run(ctx context.Context) {
	defer q.client.CloseIdleConnections()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 || ctx.Err() != nil {
			q.pending = nil
			q.running = false
			q.cancel = nil
			q.mu.Unlock()
			return
		}
		t := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if !q.connected() {
			q.mu.Lock()
			q.pending = nil
			q.running = false
			q.cancel = nil
			q.mu.Unlock()
			return
		}

		q.fetch(ctx, t)
	}
}

func (q *Queue) fetch(ctx context.Context, t Target) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		q.log.Domain(logging.DomainAvatar, "bad avatar url for handle %d: %v", t.Handle, err)
		return
	}
	if q.userAgent != "" {
		req.Header.Set("User-Agent", q.userAgent)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		q.log.Domain(logging.DomainAvatar, "avatar fetch for handle %d failed: %v", t.Handle, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		q.log.Domain(logging.DomainAvatar, "avatar fetch for handle %d: status %d", t.Handle, resp.StatusCode)
		return
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		q.log.Domain(logging.DomainAvatar, "avatar read for handle %d failed: %v", t.Handle, err)
		return
	}

	// The session may have ended while the body streamed in. A stale image
	// must not surface after disconnect.
	if ctx.Err() != nil || !q.connected() {
		return
	}

	q.emit(Update{
		Handle:      t.Handle,
		Token:       t.Token,
		Data:        data,
		ContentType: "image/jpeg",
	})
}
