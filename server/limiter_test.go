package server

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoginLimiterAllowsUpToLimit(t *testing.T) {
	l := NewLoginLimiter(3, time.Minute)
	key := "alice@example.com:10.0.0.1"

	assert.True(t, l.Allow(key))
	assert.True(t, l.Allow(key))
	assert.True(t, l.Allow(key))
	assert.False(t, l.Allow(key))
}

func TestLoginLimiterKeysAreIndependent(t *testing.T) {
	l := NewLoginLimiter(1, time.Minute)

	assert.True(t, l.Allow("a:1.2.3.4"))
	assert.False(t, l.Allow("a:1.2.3.4"))
	assert.True(t, l.Allow("b:1.2.3.4"))
	assert.True(t, l.Allow("a:5.6.7.8"))
}

func TestLoginLimiterClear(t *testing.T) {
	l := NewLoginLimiter(1, time.Minute)
	key := "alice@example.com:10.0.0.1"

	assert.True(t, l.Allow(key))
	assert.False(t, l.Allow(key))
	l.Clear(key)
	assert.True(t, l.Allow(key))
}

func TestLoginLimiterWindowExpiry(t *testing.T) {
	l := NewLoginLimiter(1, 10*time.Millisecond)
	key := "alice@example.com:10.0.0.1"

	assert.True(t, l.Allow(key))
	assert.False(t, l.Allow(key))
	time.Sleep(20 * time.Millisecond)
	assert.True(t, l.Allow(key))
}

func TestLoginLimiterSweepDropsStaleKeys(t *testing.T) {
	l := NewLoginLimiter(5, 10*time.Millisecond)
	l.Allow("stale:1.1.1.1")
	time.Sleep(20 * time.Millisecond)
	l.Allow("fresh:2.2.2.2")
	l.sweep()

	l.mutex.Lock()
	defer l.mutex.Unlock()
	assert.NotContains(t, l.attempts, "stale:1.1.1.1")
	assert.Contains(t, l.attempts, "fresh:2.2.2.2")
}

// A brute forcer reconnects for every attempt, getting a fresh
// ephemeral port each time. The limiter key is built from ClientIP, so
// all those connections must land in the same sliding window.
func TestLoginLimiterCountsAcrossReconnects(t *testing.T) {
	l := NewLoginLimiter(3, time.Minute)
	for i, port := range []int{50000, 50001, 50002, 50003} {
		remote := &net.TCPAddr{IP: net.ParseIP("203.0.113.7"), Port: port}
		key := fmt.Sprintf("%s:%s", "alice@example.com", ClientIP(remote))
		if i < 3 {
			assert.True(t, l.Allow(key), "attempt %d", i+1)
		} else {
			assert.False(t, l.Allow(key), "attempt %d must be throttled", i+1)
		}
	}
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "203.0.113.7", ClientIP(&net.TCPAddr{IP: net.ParseIP("203.0.113.7"), Port: 50000}))
	assert.Equal(t, "2001:db8::1", ClientIP(&net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 993}))
	assert.Equal(t, "", ClientIP(nil))
}

func TestLoginLimiterDefaults(t *testing.T) {
	l := NewLoginLimiter(0, 0)
	assert.Equal(t, DefaultLoginLimit, l.limit)
	assert.Equal(t, DefaultLoginWindow, l.window)
}
