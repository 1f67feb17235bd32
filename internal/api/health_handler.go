package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// HealthStatus is the aggregate health of the service and its dependencies.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the health of a single dependency.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthChecker probes Postgres, Redis, the Job Queue, and the provider
// client's circuit breaker concurrently, so a single slow dependency doesn't
// inflate the overall check latency by more than its own timeout.
type HealthChecker struct {
	db          *sql.DB
	redisClient *redis.Client
	queue       QueueInspector
	breaker     CircuitStater
	startTime   time.Time
}

// CircuitStater reports a provider client's circuit breaker state.
type CircuitStater interface {
	State() string
}

// NewHealthChecker builds a HealthChecker. breaker may be nil; the circuit
// check then reports status "down" with message "not configured", which
// determineOverallStatus does not count against the aggregate status.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, q QueueInspector, breaker CircuitStater) *HealthChecker {
	return &HealthChecker{
		db:          db,
		redisClient: redisClient,
		queue:       q,
		breaker:     breaker,
		startTime:   time.Now(),
	}
}

const healthVersion = "1.0.0"

// HandleHealth returns the full health report. Always 200; the status field
// conveys health. Use /health/ready for a probe that needs a 503 on failure.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	respondJSON(w, http.StatusOK, HealthStatus{
		Status:  overall,
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness is a bare process-alive probe, independent of dependency
// health.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness checks every dependency and returns 503 if the aggregate
// status is unhealthy.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	ready := overall != "unhealthy"
	httpStatus := http.StatusOK
	if !ready {
		httpStatus = http.StatusServiceUnavailable
	}

	respondJSON(w, httpStatus, map[string]interface{}{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	checks := make(map[string]ComponentCheck, 4)

	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, 4)

	go func() { ch <- result{"database", hc.checkDatabase(ctx)} }()
	go func() { ch <- result{"redis", hc.checkRedis(ctx)} }()
	go func() { ch <- result{"queue", hc.checkQueue(ctx)} }()
	go func() { ch <- result{"provider_circuit", hc.checkCircuit(ctx)} }()

	for i := 0; i < 4; i++ {
		r := <-ch
		checks[r.name] = r.check
	}

	return checks
}

func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.db.PingContext(pingCtx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}

	status, msg := "up", "connected"
	if latency > 1*time.Second {
		status, msg = "degraded", fmt.Sprintf("slow response (%s)", latency)
	}
	return ComponentCheck{Status: status, Latency: latency.String(), Message: msg}
}

func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redisClient == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.redisClient.Ping(pingCtx).Err()
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}

	status, msg := "up", "connected"
	if latency > 500*time.Millisecond {
		status, msg = "degraded", fmt.Sprintf("slow response (%s)", latency)
	}
	return ComponentCheck{Status: status, Latency: latency.String(), Message: msg}
}

// checkQueue inspects the Job Queue's depth. More than 10,000 waiting jobs
// is reported as degraded, since it suggests workers aren't keeping up.
func (hc *HealthChecker) checkQueue(ctx context.Context) ComponentCheck {
	if hc.queue == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	queueCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	counts, err := hc.queue.Inspect(queueCtx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("inspect failed: %v", err)}
	}

	status := "up"
	msg := fmt.Sprintf("waiting=%d active=%d delayed=%d failed=%d", counts.Waiting, counts.Active, counts.Delayed, counts.Failed)
	if counts.Waiting > 10000 {
		status = "degraded"
		msg = fmt.Sprintf("high backlog: %s", msg)
	}
	return ComponentCheck{Status: status, Latency: latency.String(), Message: msg}
}

// checkCircuit reports the provider client's circuit breaker state. An open
// breaker means sends are currently rejected outright, which is degraded
// rather than down since the service itself is still up.
func (hc *HealthChecker) checkCircuit(ctx context.Context) ComponentCheck {
	if hc.breaker == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	state := hc.breaker.State()
	switch state {
	case "open":
		return ComponentCheck{Status: "degraded", Message: "circuit open, sends rejected"}
	case "half-open":
		return ComponentCheck{Status: "degraded", Message: "circuit half-open, probing"}
	default:
		return ComponentCheck{Status: "up", Message: state}
	}
}

// determineOverallStatus derives the aggregate status: unhealthy if the
// database is down (the one hard dependency), degraded if anything else is
// degraded or down, healthy otherwise. A check whose message is
// "not configured" (a nil dependency) is ignored, including the database's.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	if db, ok := checks["database"]; ok && db.Status == "down" && db.Message != "not configured" {
		return "unhealthy"
	}

	for _, c := range checks {
		if c.Status == "degraded" {
			return "degraded"
		}
		if c.Status == "down" && c.Message != "not configured" {
			return "degraded"
		}
	}

	return "healthy"
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%dh%dm%ds", h, m, s)
}
