package engine

import (
	"context"

	"github.com/sage3/foresight/pkg/kernel"
	"github.com/sage3/foresight/pkg/models"
	"github.com/sage3/foresight/pkg/smartbits"
)

// Execute submits code for appID through the kernel proxy. An app removed
// while its action was running gets the new execution cancelled.
func (e *Engine) Execute(ctx context.Context, appID, kernelID, code string, cb kernel.Callback) (string, error) {
	requestID, err := e.proxy.ExecuteOn(ctx, appID, kernelID, code, cb)
	if err != nil {
		return "", err
	}
	if _, ok := e.registry.Get(appID); !ok {
		e.proxy.CancelApp(appID)
	}
	return requestID, nil
}

// Publish writes an app's state back to the document store. The reply is
// not awaited; a rejected write is logged when its reply arrives. Apps no
// longer in the registry are not written.
func (e *Engine) Publish(_ context.Context, appID string, state map[string]interface{}) error {
	if _, ok := e.registry.Get(appID); !ok {
		e.logger.WithField("app_id", appID).Debug("Skipping write for removed app")
		return nil
	}
	return e.client.Send(models.Envelope{
		Route:  appsRoute + "/" + appID,
		Method: models.MethodPut,
		Body:   map[string]interface{}{"state": state},
	})
}

var _ smartbits.Runtime = (*Engine)(nil)
