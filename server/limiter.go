package server

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultLoginLimit  = 100
	DefaultLoginWindow = 60 * time.Second
)

// LoginLimiter throttles authentication attempts with a sliding window
// per username:remote_ip key.
type LoginLimiter struct {
	mutex    sync.Mutex
	limit    int
	window   time.Duration
	attempts map[string][]time.Time
}

func NewLoginLimiter(limit int, window time.Duration) *LoginLimiter {
	if limit <= 0 {
		limit = DefaultLoginLimit
	}
	if window <= 0 {
		window = DefaultLoginWindow
	}
	return &LoginLimiter{
		limit:    limit,
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

// Allow records an attempt and reports whether it is within the limit.
func (l *LoginLimiter) Allow(key string) bool {
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mutex.Lock()
	defer l.mutex.Unlock()

	recent := l.attempts[key][:0]
	for _, t := range l.attempts[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.limit {
		l.attempts[key] = recent
		return false
	}
	l.attempts[key] = append(recent, now)
	return true
}

// Clear forgets the key after a successful login.
func (l *LoginLimiter) Clear(key string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	delete(l.attempts, key)
}

// StartJanitor periodically drops keys whose attempts all fell out of
// the window, bounding memory under scanning traffic.
func (l *LoginLimiter) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(l.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

func (l *LoginLimiter) sweep() {
	cutoff := time.Now().Add(-l.window)
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for key, times := range l.attempts {
		live := false
		for _, t := range times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.attempts, key)
		}
	}
}
