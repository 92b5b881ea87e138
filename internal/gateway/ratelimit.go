package gateway

import (
	"net"
	"sync"
	"time"
)

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxHosts = 10000
)

// authLimiter counts failed authentication attempts per remote host and
// refuses hosts with too many recent failures.
type authLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

func newAuthLimiter() *authLimiter {
	l := &authLimiter{
		failures: make(map[string][]time.Time),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go l.cleanupLoop(time.Minute)
	return l
}

func (l *authLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			for host := range l.failures {
				l.pruneLocked(host)
			}
			l.mu.Unlock()
		}
	}
}

// Close stops the cleanup loop.
func (l *authLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// pruneLocked drops failures older than the window and reports how many
// remain.
func (l *authLimiter) pruneLocked(host string) int {
	cutoff := l.now().Add(-authRateWindow)
	recent := l.failures[host]
	kept := recent[:0]
	for _, t := range recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, host)
		return 0
	}
	l.failures[host] = kept
	return len(kept)
}

func (l *authLimiter) allow(remoteAddr string) bool {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(host) < authRateMaxFails
}

func (l *authLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.failures[host]; !ok && len(l.failures) >= authRateMaxHosts {
		l.evictOldestLocked()
	}
	l.failures[host] = append(l.failures[host], l.now())
}

func (l *authLimiter) evictOldestLocked() {
	var oldest string
	var oldestAt time.Time
	for host, times := range l.failures {
		if len(times) > 0 && (oldest == "" || times[0].Before(oldestAt)) {
			oldest, oldestAt = host, times[0]
		}
	}
	if oldest != "" {
		delete(l.failures, oldest)
	}
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
