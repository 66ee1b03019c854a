package router

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	logx "remindd/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = errors.Newf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			if err != nil {
				logger.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
				return err
			}
			// Short successful requests go to DEBUG.
			if d >= 750*time.Millisecond {
				logger.Info("request ok", logx.Duration("dur", d))
			} else {
				logger.Debug("request ok", logx.Duration("dur", d))
			}
			return nil
		}
	}
}

// MWCooldown allows each user n calls per window. Owners are exempt.
// Rejected calls get a reply and do not reach the handler.
func MWCooldown(n int, window time.Duration) Middleware {
	if n <= 0 || window <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	c := newCooldown(n, window)

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if req.IsOwner {
				return next(ctx, req)
			}
			if wait := c.wait(req.FromID); wait > 0 {
				secs := math.Ceil(wait.Seconds())
				return req.Reply(ctx, fmt.Sprintf("slow down, try again in %.0fs", secs))
			}
			return next(ctx, req)
		}
	}
}

// cooldownMaxUsers caps how many users a cooldown tracks at once.
const cooldownMaxUsers = 4096

// cooldown holds one token bucket per user. A user idle for a full window
// has a full bucket again, so dropping their limiter changes nothing.
type cooldown struct {
	n     int
	every rate.Limit
	idle  time.Duration
	max   int
	now   func() time.Time

	mu    sync.Mutex
	users map[int64]*cooldownUser
	swept time.Time
}

type cooldownUser struct {
	lim  *rate.Limiter
	seen time.Time
}

func newCooldown(n int, window time.Duration) *cooldown {
	idle := window
	if idle < time.Minute {
		idle = time.Minute
	}
	return &cooldown{
		n:     n,
		every: rate.Every(window / time.Duration(n)),
		idle:  idle,
		max:   cooldownMaxUsers,
		now:   time.Now,
		users: map[int64]*cooldownUser{},
	}
}

// wait takes one call from user's bucket and returns zero, or returns how
// long user has to wait and takes nothing.
func (c *cooldown) wait(user int64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	u, ok := c.users[user]
	if !ok {
		c.makeRoomLocked(now)
		u = &cooldownUser{lim: rate.NewLimiter(c.every, c.n)}
		c.users[user] = u
	}
	u.seen = now
	res := u.lim.ReserveN(now, 1)
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return d
	}
	return 0
}

// makeRoomLocked drops idle users, at most once per idle period unless the
// map is full, then the least recently seen user if it is still full.
func (c *cooldown) makeRoomLocked(now time.Time) {
	if now.Sub(c.swept) >= c.idle || len(c.users) >= c.max {
		for id, u := range c.users {
			if now.Sub(u.seen) >= c.idle {
				delete(c.users, id)
			}
		}
		c.swept = now
	}
	if len(c.users) < c.max {
		return
	}
	var oldest int64
	var at time.Time
	first := true
	for id, u := range c.users {
		if first || u.seen.Before(at) {
			oldest, at, first = id, u.seen, false
		}
	}
	delete(c.users, oldest)
}
