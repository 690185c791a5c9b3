// Package kernel forwards code execution to a kernel backend and keeps the
// table of executions whose results have not arrived yet.
package kernel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/logging"
	"github.com/sage3/foresight/pkg/models"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds how long an execution may stay pending.
const DefaultTimeout = 5 * time.Minute

const (
	// earlyResultTTL is how long a result with no pending entry is held for
	// a submission whose acknowledgement has not been processed yet.
	earlyResultTTL  = 30 * time.Second
	maxEarlyResults = 256
)

// Proxy submits executions and owns the pending table. Callbacks are always
// invoked outside the table lock.
type Proxy struct {
	backend Backend
	timeout time.Duration
	now     func() time.Time
	logger  *logrus.Entry

	mu      sync.Mutex
	pending map[string]*PendingExecution
	early   map[string]earlyResult
}

type earlyResult struct {
	result   *models.ExecResult
	received time.Time
}

// NewProxy creates a proxy over backend. A zero timeout uses DefaultTimeout.
func NewProxy(backend Backend, timeout time.Duration) *Proxy {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Proxy{
		backend: backend,
		timeout: timeout,
		now:     time.Now,
		logger:  logging.NewLogger("kernel"),
		pending: make(map[string]*PendingExecution),
		early:   make(map[string]earlyResult),
	}
}

// Execute submits code on the backend's default kernel.
func (p *Proxy) Execute(ctx context.Context, appID, code string, cb Callback) (string, error) {
	return p.ExecuteOn(ctx, appID, "", code, cb)
}

// ExecuteOn submits code to kernelID and returns the request id the result
// will be correlated by. It does not wait for the result. When the backend
// cannot be reached no pending entry is left behind and cb is never called.
//
// While the submission is in flight the entry only collects what happens to
// it: a result or a cancel is held and applied once the backend has
// acknowledged, so cb still runs at most once.
func (p *Proxy) ExecuteOn(ctx context.Context, appID, kernelID, code string, cb Callback) (string, error) {
	if cb == nil {
		return "", errors.New(errors.ErrCodeInvalidInput, "execute requires a callback")
	}

	correlationID := uuid.NewString()
	now := p.now()
	entry := &PendingExecution{
		RequestID:   correlationID,
		AppID:       appID,
		Kernel:      kernelID,
		SubmittedAt: now,
		Deadline:    now.Add(p.timeout),
		callback:    cb,
		submitting:  true,
	}

	p.mu.Lock()
	p.pending[correlationID] = entry
	p.mu.Unlock()

	ack, err := p.backend.Submit(ctx, models.ExecRequest{
		Code:   code,
		UUID:   correlationID,
		Kernel: kernelID,
	})

	p.mu.Lock()
	if err != nil {
		delete(p.pending, correlationID)
		p.mu.Unlock()
		if errors.GetCode(err) == "" {
			err = errors.BackendUnavailable("kernel", err)
		}
		p.logger.WithFields(logrus.Fields{
			"app_id": appID,
			"code":   errors.GetCode(err),
		}).Warnf("Execution not submitted: %v", err)
		return "", err
	}

	entry.submitting = false
	requestID := correlationID
	if ack.RequestID != "" && ack.RequestID != correlationID {
		requestID = ack.RequestID
		delete(p.pending, correlationID)
		entry.RequestID = requestID
		p.pending[requestID] = entry
	}
	if entry.held == nil {
		if early, ok := p.early[requestID]; ok {
			delete(p.early, requestID)
			entry.held = &resolution{result: early.result}
		}
	}
	held := entry.held
	if held != nil {
		delete(p.pending, requestID)
	}
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"app_id":     appID,
		"request_id": requestID,
	}).Debug("Execution submitted")

	if held != nil {
		p.resolve(entry, held)
	}
	return requestID, nil
}

// Complete resolves requestID with result. It reports false when nothing
// was pending under that id, which happens on duplicate delivery or when
// the result overtakes the backend's acknowledgement. Such a result is held
// briefly and applied if a submission is acknowledged under its id.
func (p *Proxy) Complete(requestID string, result *models.ExecResult) bool {
	p.mu.Lock()
	entry, ok := p.pending[requestID]
	if !ok {
		p.holdEarly(requestID, result)
		p.mu.Unlock()
		return false
	}
	if entry.submitting {
		if entry.held == nil {
			entry.held = &resolution{result: result}
		}
		p.mu.Unlock()
		return true
	}
	delete(p.pending, requestID)
	p.mu.Unlock()

	p.resolve(entry, &resolution{result: result})
	return true
}

// CancelApp cancels every execution bound to appID and returns how many
// were cancelled. Executions still being submitted are cancelled once the
// backend acknowledges them.
func (p *Proxy) CancelApp(appID string) int {
	return p.cancelWhere("app removed", func(entry *PendingExecution) bool {
		return entry.AppID == appID
	})
}

// CancelAll cancels every pending execution.
func (p *Proxy) CancelAll(reason string) int {
	return p.cancelWhere(reason, func(*PendingExecution) bool { return true })
}

func (p *Proxy) cancelWhere(reason string, match func(*PendingExecution) bool) int {
	if reason == "" {
		reason = "cancelled"
	}
	p.mu.Lock()
	var taken []*PendingExecution
	deferred := 0
	for id, entry := range p.pending {
		if !match(entry) {
			continue
		}
		if entry.submitting {
			if entry.held == nil {
				entry.held = &resolution{cancelled: reason}
				deferred++
			}
			continue
		}
		delete(p.pending, id)
		taken = append(taken, entry)
	}
	p.mu.Unlock()

	for _, entry := range taken {
		p.cancel(entry, reason)
	}
	return len(taken) + deferred
}

// Sweep times out every execution whose deadline is at or before now and
// forgets held results older than earlyResultTTL.
func (p *Proxy) Sweep(now time.Time) int {
	p.mu.Lock()
	var expired []*PendingExecution
	for id, entry := range p.pending {
		if entry.submitting {
			continue
		}
		if !entry.Deadline.After(now) {
			delete(p.pending, id)
			expired = append(expired, entry)
		}
	}
	for id, early := range p.early {
		if now.Sub(early.received) >= earlyResultTTL {
			delete(p.early, id)
		}
	}
	p.mu.Unlock()

	for _, entry := range expired {
		p.logger.WithFields(logrus.Fields{
			"app_id":     entry.AppID,
			"request_id": entry.RequestID,
		}).Warn("Execution timed out")
		entry.callback(Outcome{
			RequestID: entry.RequestID,
			AppID:     entry.AppID,
			State:     TimedOut,
			Err:       errors.Timeout(entry.RequestID, p.timeout),
		})
	}
	return len(expired)
}

// Pending returns a snapshot of outstanding executions, oldest first.
func (p *Proxy) Pending() []PendingExecution {
	p.mu.Lock()
	out := make([]PendingExecution, 0, len(p.pending))
	for _, entry := range p.pending {
		cp := *entry
		cp.callback = nil
		cp.held = nil
		out = append(out, cp)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Len returns the number of outstanding executions.
func (p *Proxy) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// holdEarly keeps an unmatched result for a later acknowledgement. The
// caller holds p.mu.
func (p *Proxy) holdEarly(requestID string, result *models.ExecResult) {
	if requestID == "" {
		return
	}
	if _, ok := p.early[requestID]; ok {
		return
	}
	if len(p.early) >= maxEarlyResults {
		p.logger.WithField("request_id", requestID).Debug("Early result table full, dropping result")
		return
	}
	p.early[requestID] = earlyResult{result: result, received: p.now()}
}

func (p *Proxy) resolve(entry *PendingExecution, r *resolution) {
	if r.cancelled != "" {
		p.cancel(entry, r.cancelled)
		return
	}

	out := Outcome{
		RequestID: entry.RequestID,
		AppID:     entry.AppID,
		State:     Completed,
		Result:    r.result,
	}
	if r.result != nil && r.result.Failed() {
		out.Err = errors.New(errors.ErrCodeExecutionFailed,
			fmt.Sprintf("%s: %s", r.result.Error.EName, r.result.Error.EValue)).
			WithDetail("request_id", entry.RequestID)
	}
	entry.callback(out)
}

func (p *Proxy) cancel(entry *PendingExecution, reason string) {
	p.logger.WithFields(logrus.Fields{
		"app_id":     entry.AppID,
		"request_id": entry.RequestID,
	}).Infof("Execution cancelled: %s", reason)
	entry.callback(Outcome{
		RequestID: entry.RequestID,
		AppID:     entry.AppID,
		State:     Cancelled,
		Err:       errors.Cancelled(entry.RequestID, reason),
	})
}
