package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownHandle means the handle was never issued, already
// consumed, or evicted after its TTL.
var ErrUnknownHandle = errors.New("unknown or expired login handle")

// session is one live browser waiting for a second login factor. The
// chromedp context must be reused to finish the flow, so the session
// pins the browser until CompleteLogin claims it or the TTL fires.
type session struct {
	handle    string
	ctx       context.Context
	cancel    context.CancelFunc
	createdAt time.Time
}

func (s *session) close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// registry maps opaque handles to pending browser sessions. Claim is
// single-owner: the first caller gets the session and the handle dies
// with it, so two concurrent completions can never share a browser.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

func newRegistry(ttl time.Duration) *registry {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	r := &registry{
		sessions: make(map[string]*session),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go r.evictLoop()
	return r
}

func (r *registry) put(s *session) string {
	s.handle = uuid.NewString()
	s.createdAt = time.Now()
	r.mu.Lock()
	r.sessions[s.handle] = s
	r.mu.Unlock()
	return s.handle
}

func (r *registry) claim(handle string) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[handle]
	if !ok {
		return nil, ErrUnknownHandle
	}
	delete(r.sessions, handle)
	return s, nil
}

func (r *registry) discard(handle string) {
	r.mu.Lock()
	s, ok := r.sessions[handle]
	if ok {
		delete(r.sessions, handle)
	}
	r.mu.Unlock()
	if ok {
		s.close()
	}
}

func (r *registry) evictLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.evictExpired(now)
		}
	}
}

func (r *registry) evictExpired(now time.Time) {
	var expired []*session
	r.mu.Lock()
	for h, s := range r.sessions {
		if now.Sub(s.createdAt) > r.ttl {
			delete(r.sessions, h)
			expired = append(expired, s)
		}
	}
	r.mu.Unlock()
	for _, s := range expired {
		s.close()
	}
}

func (r *registry) closeAll() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for h, s := range r.sessions {
		delete(r.sessions, h)
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}
