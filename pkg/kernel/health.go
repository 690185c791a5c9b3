package kernel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/logging"
	"github.com/sirupsen/logrus"
)

// HealthKey is the Redis key the latest health report is written to.
const HealthKey = "foresight:kernel_health"

// HealthReport is the outcome of one health probe.
type HealthReport struct {
	URL       string       `json:"url"`
	Healthy   bool         `json:"healthy"`
	Kernels   []KernelInfo `json:"kernels,omitempty"`
	Error     string       `json:"error,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// Lister is the part of a backend the health check needs.
type Lister interface {
	Kernels(ctx context.Context) ([]KernelInfo, error)
}

// HealthChecker probes the kernel gateway and remembers the last report.
// When a Redis client is set the report is also stored under HealthKey so
// other SAGE3 services can read it.
type HealthChecker struct {
	url    string
	lister Lister
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *logrus.Entry

	mu   sync.RWMutex
	last HealthReport
}

// NewHealthChecker creates a checker. rdb may be nil.
func NewHealthChecker(url string, lister Lister, rdb redis.Cmdable, ttl time.Duration) *HealthChecker {
	return &HealthChecker{
		url:    url,
		lister: lister,
		rdb:    rdb,
		ttl:    ttl,
		logger: logging.NewLogger("kernel-health"),
	}
}

// Check runs one probe. The returned error is only about storing the
// report; an unhealthy gateway is a normal report.
func (h *HealthChecker) Check(ctx context.Context) (HealthReport, error) {
	report := HealthReport{URL: h.url, CheckedAt: time.Now()}

	kernels, err := h.lister.Kernels(ctx)
	if err != nil {
		report.Error = err.Error()
		h.logger.WithField("code", errors.GetCode(err)).Warnf("Kernel gateway unhealthy: %v", err)
	} else {
		report.Healthy = true
		report.Kernels = kernels
	}

	h.mu.Lock()
	wasHealthy := h.last.Healthy
	first := h.last.CheckedAt.IsZero()
	h.last = report
	h.mu.Unlock()

	if report.Healthy && (!wasHealthy && !first) {
		h.logger.Infof("Kernel gateway recovered (%d kernels)", len(kernels))
	}

	if h.rdb == nil {
		return report, nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return report, err
	}
	if err := h.rdb.Set(ctx, HealthKey, data, h.ttl).Err(); err != nil {
		return report, errors.Transport("redis", err)
	}
	return report, nil
}

// Last returns the most recent report.
func (h *HealthChecker) Last() HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// ReadHealth loads the stored report from Redis.
func ReadHealth(ctx context.Context, rdb redis.Cmdable) (HealthReport, error) {
	var report HealthReport
	data, err := rdb.Get(ctx, HealthKey).Bytes()
	if err != nil {
		return report, err
	}
	err = json.Unmarshal(data, &report)
	return report, err
}
