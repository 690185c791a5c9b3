package smartbits

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/logging"
	"github.com/sage3/foresight/pkg/kernel"
	"github.com/sirupsen/logrus"
)

// Cell status values.
const (
	CellIdle      = "idle"
	CellRunning   = "running"
	CellDone      = "done"
	CellError     = "error"
	CellTimeout   = "timeout"
	CellCancelled = "cancelled"
)

// CodeCellState is a Jupyter cell: code in, rendered output back.
type CodeCellState struct {
	Code           string `json:"code"`
	Output         string `json:"output"`
	Kernel         string `json:"kernel,omitempty"`
	MsgID          string `json:"msgId,omitempty"`
	Status         string `json:"status,omitempty"`
	ExecutionCount int    `json:"executionCount,omitempty"`
}

var codeCellActions = map[string]Action[CodeCellState]{
	"execute":      executeCell,
	"set_code":     setCellCode,
	"clear_output": clearCellOutput,
}

func executeCell(ctx context.Context, app *App[CodeCellState], params map[string]interface{}) error {
	if app.rt == nil {
		return errors.New(errors.ErrCodeInternal, "code cell has no runtime")
	}

	var code, kernelID string
	override, _ := params["code"].(string)
	app.Mutate(func(s *CodeCellState) {
		if override != "" {
			s.Code = override
		}
		code = s.Code
		kernelID = s.Kernel
	})
	if strings.TrimSpace(code) == "" {
		return errors.New(errors.ErrCodeInvalidInput, "cell has no code to execute")
	}

	app.Mutate(func(s *CodeCellState) {
		s.Status = CellRunning
		s.Output = ""
		s.MsgID = ""
	})

	logger := logging.NewLogger("smartbits").WithField("app_id", app.ID())
	requestID, err := app.rt.Execute(ctx, app.ID(), kernelID, code, func(out kernel.Outcome) {
		applied := false
		app.Mutate(func(s *CodeCellState) {
			applied = applyOutcome(s, out)
		})
		if !applied {
			logger.WithField("request_id", out.RequestID).Debug("Stale execution result ignored")
			return
		}
		if err := app.Publish(context.Background()); err != nil {
			logger.WithField("request_id", out.RequestID).Warnf("Failed to publish cell output: %v", err)
		}
	})
	if err != nil {
		app.Mutate(func(s *CodeCellState) {
			s.Status = CellError
			s.Output = err.Error()
		})
		if perr := app.Publish(ctx); perr != nil {
			logger.Warnf("Failed to publish cell error: %v", perr)
		}
		return err
	}

	app.Mutate(func(s *CodeCellState) {
		// The result may already have landed.
		if s.Status == CellRunning {
			s.MsgID = requestID
		}
	})
	logger.WithFields(logrus.Fields{"request_id": requestID}).Debug("Cell submitted")
	return app.Publish(ctx)
}

// applyOutcome writes a terminal outcome into the cell. It reports false
// when the outcome belongs to an execution the cell no longer waits for.
func applyOutcome(s *CodeCellState, out kernel.Outcome) bool {
	if s.Status != CellRunning {
		return false
	}
	if s.MsgID != "" && s.MsgID != out.RequestID {
		return false
	}
	s.MsgID = ""

	switch out.State {
	case kernel.TimedOut:
		s.Status = CellTimeout
		s.Output = out.Err.Error()
		return true
	case kernel.Cancelled:
		s.Status = CellCancelled
		s.Output = out.Err.Error()
		return true
	}

	if out.Result != nil {
		if out.Result.ExecutionCount != nil {
			s.ExecutionCount = *out.Result.ExecutionCount
		}
		if data, err := json.Marshal(out.Result); err == nil {
			s.Output = string(data)
		}
	}
	if out.Err != nil {
		s.Status = CellError
	} else {
		s.Status = CellDone
	}
	return true
}

func setCellCode(ctx context.Context, app *App[CodeCellState], params map[string]interface{}) error {
	code, ok := params["code"].(string)
	if !ok {
		return missingParam(app.Type(), "set_code", "code")
	}
	app.Mutate(func(s *CodeCellState) { s.Code = code })
	return app.Publish(ctx)
}

func clearCellOutput(ctx context.Context, app *App[CodeCellState], _ map[string]interface{}) error {
	app.Mutate(func(s *CodeCellState) {
		s.Output = ""
		s.Status = CellIdle
		s.ExecutionCount = 0
	})
	return app.Publish(ctx)
}
