// Package dispatch turns result notifications into callback invocations.
package dispatch

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"sync/atomic"

	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/logging"
	"github.com/sage3/foresight/pkg/models"
	"github.com/sage3/foresight/schema"
	"github.com/sirupsen/logrus"
)

// Completer resolves a pending execution. It reports false when nothing
// was waiting on requestID.
type Completer interface {
	Complete(requestID string, result *models.ExecResult) bool
}

// Stats counts what the dispatcher has seen.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Unmatched uint64 `json:"unmatched"`
	Malformed uint64 `json:"malformed"`
}

// Dispatcher validates result payloads and hands them to the completer.
// Payloads are only ever decoded as JSON.
type Dispatcher struct {
	completer Completer
	validator *schema.Validator
	logger    *logrus.Entry

	delivered atomic.Uint64
	unmatched atomic.Uint64
	malformed atomic.Uint64
}

// New creates a dispatcher delivering to completer.
func New(completer Completer) (*Dispatcher, error) {
	v, err := schema.NewKernelResultValidator()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to compile result schema")
	}
	return &Dispatcher{
		completer: completer,
		validator: v,
		logger:    logging.NewLogger("dispatch"),
	}, nil
}

// Deliver handles one payload. Unknown request ids are not an error since
// the transport may deliver twice.
func (d *Dispatcher) Deliver(payload []byte) error {
	if err := d.validator.ValidateJSON(payload); err != nil {
		d.malformed.Add(1)
		merr := errors.Malformed("results", err)
		d.logger.WithField("code", merr.Code).Warnf("Dropping result: %v", err)
		return merr
	}

	var result models.ExecResult
	if err := json.Unmarshal(payload, &result); err != nil {
		d.malformed.Add(1)
		return errors.Malformed("results", err)
	}

	if !d.completer.Complete(result.RequestID, &result) {
		d.unmatched.Add(1)
		d.logger.WithField("request_id", result.RequestID).Debug("No pending execution for result")
		return nil
	}

	d.delivered.Add(1)
	d.logger.WithField("request_id", result.RequestID).Debug("Result delivered")
	return nil
}

// Run delivers payloads from src until ctx is done or src is exhausted.
// Malformed payloads are dropped and the loop continues.
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	for {
		payload, err := src.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		_ = d.Deliver(payload)
	}
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Unmatched: d.unmatched.Load(),
		Malformed: d.malformed.Load(),
	}
}
