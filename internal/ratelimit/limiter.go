package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

type bucket struct {
	tokens   float64
	lastTime time.Time
	rps      float64
	burst    int
}

func (b *bucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastTime).Seconds()
	b.tokens += elapsed * b.rps
	if b.tokens > float64(b.burst) {
		b.tokens = float64(b.burst)
	}
	b.lastTime = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Limiter throttles token exchange requests with per-IP and per-identity
// token buckets. Exchange is the expensive path (bcrypt on login, policy
// evaluation on exchange) so both dimensions get a budget.
type Limiter struct {
	mu sync.Mutex

	ipBuckets       map[string]*bucket
	identityBuckets map[string]*bucket

	ipRPS         float64
	ipBurst       int
	identityRPS   float64
	identityBurst int

	rejected atomic.Int64
	stopCh   chan struct{}
}

func NewLimiter(ipRPS float64, ipBurst int, identityRPS float64, identityBurst int) *Limiter {
	l := &Limiter{
		ipBuckets:       make(map[string]*bucket),
		identityBuckets: make(map[string]*bucket),
		ipRPS:           ipRPS,
		ipBurst:         ipBurst,
		identityRPS:     identityRPS,
		identityBurst:   identityBurst,
		stopCh:          make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether a request from clientIP (optionally attributed to an
// identity) fits within the configured budgets.
func (l *Limiter) Allow(clientIP, identityID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	ib, ok := l.ipBuckets[clientIP]
	if !ok {
		ib = &bucket{tokens: float64(l.ipBurst), lastTime: now, rps: l.ipRPS, burst: l.ipBurst}
		l.ipBuckets[clientIP] = ib
	}
	if !ib.allow(now) {
		l.rejected.Add(1)
		return false
	}

	if identityID != "" {
		idb, ok := l.identityBuckets[identityID]
		if !ok {
			idb = &bucket{tokens: float64(l.identityBurst), lastTime: now, rps: l.identityRPS, burst: l.identityBurst}
			l.identityBuckets[identityID] = idb
		}
		if !idb.allow(now) {
			l.rejected.Add(1)
			return false
		}
	}

	return true
}

func (l *Limiter) Status() map[string]interface{} {
	l.mu.Lock()
	ipCount := len(l.ipBuckets)
	idCount := len(l.identityBuckets)
	l.mu.Unlock()

	return map[string]interface{}{
		"active_ip_limiters":       ipCount,
		"active_identity_limiters": idCount,
		"total_rejected":           l.rejected.Load(),
		"ip_rps":                   l.ipRPS,
		"ip_burst":                 l.ipBurst,
		"per_identity_rps":         l.identityRPS,
		"per_identity_burst":       l.identityBurst,
	}
}

func (l *Limiter) Stop() {
	close(l.stopCh)
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for ip, b := range l.ipBuckets {
				if now.Sub(b.lastTime) > 5*time.Minute {
					delete(l.ipBuckets, ip)
				}
			}
			for id, b := range l.identityBuckets {
				if now.Sub(b.lastTime) > 5*time.Minute {
					delete(l.identityBuckets, id)
				}
			}
			l.mu.Unlock()
		}
	}
}
