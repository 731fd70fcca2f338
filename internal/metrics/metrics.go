package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/selim2309/TenantGate/internal/store"
)

// Denial classes tracked per counter. Unknown classes fold into "other".
const (
	DenialValidation  = "validation"
	DenialUnmapped    = "unmapped_attribute"
	DenialNoRole      = "no_role_matched"
	DenialTrustPolicy = "trust_policy"
	DenialOther       = "other"
)

const (
	dValidation = iota
	dUnmapped
	dNoRole
	dTrustPolicy
	dOther
	denialCount
)

func denialIndex(class string) int {
	switch class {
	case DenialValidation:
		return dValidation
	case DenialUnmapped:
		return dUnmapped
	case DenialNoRole:
		return dNoRole
	case DenialTrustPolicy:
		return dTrustPolicy
	default:
		return dOther
	}
}

func denialLabel(idx int) string {
	switch idx {
	case dValidation:
		return DenialValidation
	case dUnmapped:
		return DenialUnmapped
	case dNoRole:
		return DenialNoRole
	case dTrustPolicy:
		return DenialTrustPolicy
	default:
		return DenialOther
	}
}

// Collector tracks exchange and authorization metrics and exposes
// Prometheus-compatible /metrics.
type Collector struct {
	store *store.Store

	exchangesIssued atomic.Int64
	exchangesDenied [denialCount]atomic.Int64
	authzAllowed    atomic.Int64
	authzDenied     atomic.Int64
	signups         atomic.Int64
	loginFailures   atomic.Int64
	requestsTotal   atomic.Int64
	requestErrors   atomic.Int64

	latencyCount atomic.Int64
	latencySum   atomic.Int64 // nanoseconds

	startTime time.Time
}

func NewCollector(st *store.Store) *Collector {
	return &Collector{
		store:     st,
		startTime: time.Now(),
	}
}

// StartTime returns when the collector was created (server start time).
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// RecordRequest increments the request counter.
func (c *Collector) RecordRequest() {
	c.requestsTotal.Add(1)
}

// RecordError increments the error counter.
func (c *Collector) RecordError() {
	c.requestErrors.Add(1)
}

// RecordExchangeIssued increments the issued-credential counter.
func (c *Collector) RecordExchangeIssued() {
	c.exchangesIssued.Add(1)
}

// RecordExchangeDenied increments the denial counter for the given class.
func (c *Collector) RecordExchangeDenied(class string) {
	c.exchangesDenied[denialIndex(class)].Add(1)
}

// RecordAuthz increments the allow or deny counter for an access decision.
func (c *Collector) RecordAuthz(allowed bool) {
	if allowed {
		c.authzAllowed.Add(1)
	} else {
		c.authzDenied.Add(1)
	}
}

// RecordSignup increments the identity signup counter.
func (c *Collector) RecordSignup() {
	c.signups.Add(1)
}

// RecordLoginFailure increments the failed-login counter.
func (c *Collector) RecordLoginFailure() {
	c.loginFailures.Add(1)
}

// RecordLatency adds a request duration sample.
func (c *Collector) RecordLatency(d time.Duration) {
	c.latencyCount.Add(1)
	c.latencySum.Add(int64(d))
}

// ServeHTTP handles GET /metrics in Prometheus exposition format.
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "tenantgate_requests_total %d\n", c.requestsTotal.Load())
	fmt.Fprintf(w, "tenantgate_request_errors_total %d\n", c.requestErrors.Load())
	fmt.Fprintf(w, "tenantgate_exchanges_issued_total %d\n", c.exchangesIssued.Load())
	var deniedTotal int64
	for i := 0; i < denialCount; i++ {
		v := c.exchangesDenied[i].Load()
		deniedTotal += v
		fmt.Fprintf(w, "tenantgate_exchanges_denied_total{class=%q} %d\n", denialLabel(i), v)
	}
	fmt.Fprintf(w, "tenantgate_exchanges_denied_total_sum %d\n", deniedTotal)
	fmt.Fprintf(w, "tenantgate_authz_decisions_total{effect=\"allow\"} %d\n", c.authzAllowed.Load())
	fmt.Fprintf(w, "tenantgate_authz_decisions_total{effect=\"deny\"} %d\n", c.authzDenied.Load())
	fmt.Fprintf(w, "tenantgate_identity_signups_total %d\n", c.signups.Load())
	fmt.Fprintf(w, "tenantgate_login_failures_total %d\n", c.loginFailures.Load())

	fmt.Fprintf(w, "tenantgate_request_latency_seconds_count %d\n", c.latencyCount.Load())
	fmt.Fprintf(w, "tenantgate_request_latency_seconds_sum %.6f\n", time.Duration(c.latencySum.Load()).Seconds())

	// Uptime
	fmt.Fprintf(w, "tenantgate_uptime_seconds %.0f\n", time.Since(c.startTime).Seconds())

	// Directory gauges from the metadata store
	if c.store != nil {
		if identities, err := c.store.ListIdentities(); err == nil {
			fmt.Fprintf(w, "tenantgate_identities_total %d\n", len(identities))
		}
		if roles, err := c.store.ListRoles(); err == nil {
			fmt.Fprintf(w, "tenantgate_roles_total %d\n", len(roles))
		}
		if mappings, err := c.store.ListMappings(); err == nil {
			fmt.Fprintf(w, "tenantgate_federation_mappings_total %d\n", len(mappings))
		}
	}

	// Go runtime metrics
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Fprintf(w, "tenantgate_go_goroutines %d\n", runtime.NumGoroutine())
	fmt.Fprintf(w, "tenantgate_go_memory_alloc_bytes %d\n", mem.Alloc)
	fmt.Fprintf(w, "tenantgate_go_memory_sys_bytes %d\n", mem.Sys)
	fmt.Fprintf(w, "tenantgate_go_gc_total %d\n", mem.NumGC)
}
