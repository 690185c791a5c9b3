package engine

import (
	"context"
	"encoding/json"

	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/pkg/channel"
	"github.com/sage3/foresight/pkg/models"
	"github.com/sirupsen/logrus"
)

// OnConnect loads the full app listing so the registry catches up with
// whatever changed while the connection was down.
func (e *Engine) OnConnect(ctx context.Context, conn *channel.Conn) error {
	getCtx, cancel := context.WithTimeout(ctx, populateLimit)
	defer cancel()

	data, err := conn.Get(getCtx, appsRoute)
	if err != nil {
		return err
	}

	var docs []models.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		e.malformed.Add(1)
		e.logger.WithError(err).Warn("App listing is malformed, keeping current registry")
		return nil
	}

	n, errs := e.registry.Populate(docs)
	for _, doc := range docs {
		// Seed the deduplicator so the pushes echoing this listing are dropped.
		e.dedup.ShouldForward(models.UpdateEvent{
			ID:         doc.ID,
			Type:       models.EventUpdate,
			Collection: models.CollectionApps,
			Doc:        doc,
			UpdatedAt:  doc.UpdatedAt,
		})
	}
	e.logger.WithFields(logrus.Fields{
		"apps":    n,
		"skipped": len(errs),
	}).Info("Registry populated")
	return nil
}

// OnFrame routes one push notification. It runs on the channel reader's
// goroutine, so events for an app are applied in arrival order.
func (e *Engine) OnFrame(frame models.Frame) {
	if !frame.IsPush() {
		return
	}

	ev, err := models.ParseEvent(frame.Event)
	if err != nil {
		e.malformed.Add(1)
		merr := errors.Malformed("channel", err)
		e.logger.WithField("code", merr.Code).Warnf("Discarding event: %v", err)
		return
	}

	if !e.dedup.ShouldForward(ev) {
		return
	}
	e.route(ev)
}

func (e *Engine) route(ev models.UpdateEvent) {
	log := e.logger.WithFields(logrus.Fields{
		"collection": ev.Collection,
		"type":       ev.Type,
		"id":         ev.ID,
	})

	switch ev.Collection {
	case models.CollectionApps:
		if ev.Type == models.EventDelete {
			e.registry.Remove(ev.ID)
			return
		}
		inv, err := e.registry.Upsert(ev.ID, ev.Doc)
		if err != nil {
			// Already logged by the registry; the event is dropped.
			return
		}
		if inv != nil {
			e.enqueue(ev.ID, inv)
		}

	case models.CollectionBoards:
		if ev.Type == models.EventDelete {
			if n := e.registry.RemoveBoard(ev.ID); n > 0 {
				log.WithField("apps", n).Info("Board deleted")
			}
		}

	case models.CollectionRooms:
		if ev.Type == models.EventDelete {
			if n := e.registry.RemoveRoom(ev.ID); n > 0 {
				log.WithField("apps", n).Info("Room deleted")
			}
		}

	default:
		log.Debug("Ignoring event for untracked collection")
	}
}
