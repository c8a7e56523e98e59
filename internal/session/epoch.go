package session

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Epoch is the monotonically increasing session generation used to
// recognise stale responses after a reset: a caller records a request with
// Track at dispatch and checks Valid when the response arrives, and a token
// tracked under an earlier generation is reported stale. The singer client
// tracks each outbound server request this way and drops stale responses;
// codec worker RPCs are not tagged with an epoch.
type Epoch struct {
	current  uint64
	inFlight *cache.Cache
}

// NewEpoch constructs an Epoch starting at generation 1. ttl bounds how
// long an in-flight request is tracked before it is forgotten outright
// (defends against a worker that never responds at all).
func NewEpoch(ttl time.Duration) *Epoch {
	return &Epoch{
		current:  1,
		inFlight: cache.New(ttl, 2*ttl),
	}
}

// Current returns the active epoch.
func (e *Epoch) Current() uint64 {
	return atomic.LoadUint64(&e.current)
}

// Advance starts a new epoch, invalidating every request tracked under
// the previous one, and returns the new value. Called once per
// reload_settings (spec.md §4.6).
func (e *Epoch) Advance() uint64 {
	next := atomic.AddUint64(&e.current, 1)
	e.inFlight.Flush()
	return next
}

// Track records a freshly dispatched request under the current epoch and
// returns a token to present to Valid/Forget on response.
func (e *Epoch) Track() string {
	token := uuid.NewString()
	e.inFlight.SetDefault(token, e.Current())
	return token
}

// Valid reports whether token was tracked under the epoch still current,
// i.e. whether its response should be honored rather than dropped as stale.
func (e *Epoch) Valid(token string) bool {
	v, ok := e.inFlight.Get(token)
	if !ok {
		return false
	}
	epoch, _ := v.(uint64)
	return epoch == e.Current()
}

// Forget removes token once its response has been handled, whether
// honored or dropped.
func (e *Epoch) Forget(token string) {
	e.inFlight.Delete(token)
}
