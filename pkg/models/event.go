// Package models defines the wire types exchanged with the SAGE3 server and
// the kernel backend.
package models

import (
	"encoding/json"
	"fmt"
)

// Method is the verb of a command envelope.
type Method string

const (
	MethodSub Method = "SUB"
	MethodGet Method = "GET"
	MethodPut Method = "PUT"
)

// Envelope is a command sent to the server over the subscription socket.
type Envelope struct {
	Route  string      `json:"route"`
	ID     string      `json:"id"`
	Method Method      `json:"method"`
	Body   interface{} `json:"body,omitempty"`
}

// Frame is anything the server sends back: either a command reply
// ({id, success, data}) or a push notification ({event}).
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Event   *RawEvent       `json:"event,omitempty"`
}

// IsPush reports whether the frame is a push notification.
func (f *Frame) IsPush() bool {
	return f.Event != nil
}

// OK reports whether a reply frame signals success.
func (f *Frame) OK() bool {
	return f.Success != nil && *f.Success
}

// RawEvent is the {type, col, doc} body of a push notification.
type RawEvent struct {
	Type EventType       `json:"type"`
	Col  string          `json:"col"`
	Doc  json.RawMessage `json:"doc"`
}

// EventType is the kind of change a push notification describes.
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Collections the server publishes on.
const (
	CollectionApps   = "APPS"
	CollectionBoards = "BOARDS"
	CollectionRooms  = "ROOMS"
)

// Document is the store's envelope around every record.
type Document struct {
	ID        string          `json:"_id"`
	CreatedAt int64           `json:"_createdAt,omitempty"`
	CreatedBy string          `json:"_createdBy,omitempty"`
	UpdatedAt int64           `json:"_updatedAt"`
	UpdatedBy string          `json:"_updatedBy,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// AppData is the data payload of an APPS document.
type AppData struct {
	Title   string                 `json:"title,omitempty"`
	RoomID  string                 `json:"roomId"`
	BoardID string                 `json:"boardId"`
	Type    string                 `json:"type"`
	State   map[string]interface{} `json:"state"`
}

// App decodes the document payload as application data.
func (d Document) App() (AppData, error) {
	var app AppData
	if len(d.Data) == 0 {
		return app, fmt.Errorf("document %s has no data", d.ID)
	}
	if err := json.Unmarshal(d.Data, &app); err != nil {
		return app, fmt.Errorf("document %s: %w", d.ID, err)
	}
	if app.State == nil {
		app.State = map[string]interface{}{}
	}
	return app, nil
}

// BoardData is the data payload of a BOARDS document.
type BoardData struct {
	Name   string `json:"name,omitempty"`
	RoomID string `json:"roomId"`
}

// Board decodes the document payload as board data.
func (d Document) Board() (BoardData, error) {
	var b BoardData
	if len(d.Data) == 0 {
		return b, nil
	}
	err := json.Unmarshal(d.Data, &b)
	return b, err
}

// UpdateEvent is a decoded push notification. It is produced once by the
// channel client and consumed once by the deduplicator.
type UpdateEvent struct {
	ID         string
	Type       EventType
	Collection string
	Doc        Document
	UpdatedAt  int64
}

// ParseEvent validates a raw push notification and lifts the id and
// timestamp out of its document.
func ParseEvent(raw *RawEvent) (UpdateEvent, error) {
	if raw == nil {
		return UpdateEvent{}, fmt.Errorf("frame carries no event")
	}
	switch raw.Type {
	case EventCreate, EventUpdate, EventDelete:
	default:
		return UpdateEvent{}, fmt.Errorf("unknown event type %q", raw.Type)
	}
	if raw.Col == "" {
		return UpdateEvent{}, fmt.Errorf("event has no collection")
	}

	var doc Document
	if err := json.Unmarshal(raw.Doc, &doc); err != nil {
		return UpdateEvent{}, fmt.Errorf("event document: %w", err)
	}
	if doc.ID == "" {
		return UpdateEvent{}, fmt.Errorf("event document has no _id")
	}

	return UpdateEvent{
		ID:         doc.ID,
		Type:       raw.Type,
		Collection: raw.Col,
		Doc:        doc,
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}
