// Package registry maps app ids to their live SmartBit instances and keeps
// the room/board containment view of them.
package registry

import (
	"sort"
	"sync"

	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/logging"
	"github.com/sage3/foresight/pkg/models"
	"github.com/sage3/foresight/pkg/smartbits"
	"github.com/sirupsen/logrus"
)

// Option configures a Registry.
type Option func(*Registry)

// WithRelease sets the hook run after an app leaves the registry. The hook
// runs outside the registry lock.
func WithRelease(fn func(appID string)) Option {
	return func(r *Registry) { r.release = fn }
}

// WithRoomFilter limits the registry to apps in rooms accepted by fn.
func WithRoomFilter(fn func(roomID string) bool) Option {
	return func(r *Registry) { r.tracks = fn }
}

// Registry is safe for concurrent use. It holds exactly one SmartBit per
// app id.
type Registry struct {
	factory *smartbits.Factory
	release func(appID string)
	tracks  func(roomID string) bool
	logger  *logrus.Entry

	mu          sync.RWMutex
	apps        map[string]smartbits.SmartBit
	rooms       map[string]*Room
	subscribers map[chan Change]struct{}
}

// New creates an empty registry that builds instances with factory.
func New(factory *smartbits.Factory, opts ...Option) *Registry {
	r := &Registry{
		factory:     factory,
		logger:      logging.NewLogger("registry"),
		apps:        make(map[string]smartbits.SmartBit),
		rooms:       make(map[string]*Room),
		subscribers: make(map[chan Change]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Upsert creates the SmartBit for appID or routes doc into the existing
// one. The returned invocation, if any, should be run by the caller.
func (r *Registry) Upsert(appID string, doc models.Document) (*smartbits.Invocation, error) {
	data, err := doc.App()
	if err != nil {
		return nil, errors.Malformed(appID, err)
	}

	if r.tracks != nil && !r.tracks(data.RoomID) {
		// An app moved out of a tracked room is no longer ours.
		r.Remove(appID)
		return nil, nil
	}

	r.mu.RLock()
	existing, ok := r.apps[appID]
	r.mu.RUnlock()

	if ok {
		return r.update(existing, doc, data)
	}

	sb, err := r.factory.New(doc)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"app_id": appID,
			"type":   data.Type,
			"code":   errors.GetCode(err),
		}).Warnf("Dropping app: %v", err)
		return nil, err
	}

	r.mu.Lock()
	if current, raced := r.apps[appID]; raced {
		r.mu.Unlock()
		return r.update(current, doc, data)
	}
	r.apps[appID] = sb
	r.place(sb)
	change := Change{
		Type:      ChangeCreated,
		AppID:     appID,
		AppType:   sb.Type(),
		RoomID:    sb.RoomID(),
		BoardID:   sb.BoardID(),
		UpdatedAt: sb.UpdatedAt(),
	}
	r.broadcast(change)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{"app_id": appID, "type": sb.Type()}).Debug("App created")

	// A freshly created document can already carry a requested action.
	return smartbits.InvocationFrom(data.State), nil
}

func (r *Registry) update(sb smartbits.SmartBit, doc models.Document, data models.AppData) (*smartbits.Invocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The instance may have been removed between lookup and lock.
	if r.apps[sb.ID()] != sb {
		return nil, nil
	}

	r.unplace(sb)
	inv, err := sb.ApplyUpdate(doc, data)
	r.place(sb)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"app_id": sb.ID(),
			"code":   errors.GetCode(err),
		}).Warnf("Update not applied: %v", err)
		return nil, err
	}

	r.broadcast(Change{
		Type:      ChangeUpdated,
		AppID:     sb.ID(),
		AppType:   sb.Type(),
		RoomID:    sb.RoomID(),
		BoardID:   sb.BoardID(),
		UpdatedAt: sb.UpdatedAt(),
	})
	return inv, nil
}

// Remove deletes appID and releases what it held. Unknown ids are a no-op.
func (r *Registry) Remove(appID string) bool {
	r.mu.Lock()
	sb, ok := r.apps[appID]
	if ok {
		r.drop(sb)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.released(appID)
	return true
}

// RemoveBoard removes every app placed on boardID.
func (r *Registry) RemoveBoard(boardID string) int {
	return r.removeWhere(func(sb smartbits.SmartBit) bool { return sb.BoardID() == boardID })
}

// RemoveRoom removes every app in roomID.
func (r *Registry) RemoveRoom(roomID string) int {
	return r.removeWhere(func(sb smartbits.SmartBit) bool { return sb.RoomID() == roomID })
}

// Populate reconciles the registry with a full listing: listed apps are
// upserted and tracked apps missing from the listing are removed. Errors
// for individual documents are collected, not fatal.
func (r *Registry) Populate(docs []models.Document) (int, []error) {
	listed := make(map[string]struct{}, len(docs))
	var errs []error
	for _, doc := range docs {
		listed[doc.ID] = struct{}{}
		if _, err := r.Upsert(doc.ID, doc); err != nil {
			errs = append(errs, err)
		}
	}

	r.removeWhere(func(sb smartbits.SmartBit) bool {
		_, ok := listed[sb.ID()]
		return !ok
	})
	return r.Len(), errs
}

// Get returns the live SmartBit for appID.
func (r *Registry) Get(appID string) (smartbits.SmartBit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sb, ok := r.apps[appID]
	return sb, ok
}

// Len returns the number of live SmartBits.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.apps)
}

// Snapshot returns every live app sorted by id.
func (r *Registry) Snapshot(withState bool) []AppInfo {
	r.mu.RLock()
	apps := make([]smartbits.SmartBit, 0, len(r.apps))
	for _, sb := range r.apps {
		apps = append(apps, sb)
	}
	r.mu.RUnlock()

	out := make([]AppInfo, 0, len(apps))
	for _, sb := range apps {
		out = append(out, infoOf(sb, withState))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Boards lists the boards of roomID, or of every room when roomID is empty.
func (r *Registry) Boards(roomID string) []BoardInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []BoardInfo
	for rid, room := range r.rooms {
		if roomID != "" && rid != roomID {
			continue
		}
		for _, board := range room.Boards {
			out = append(out, boardInfo(board))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomID != out[j].RoomID {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Board returns one board of roomID.
func (r *Registry) Board(roomID, boardID string) (BoardInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return BoardInfo{}, false
	}
	board, ok := room.Boards[boardID]
	if !ok {
		return BoardInfo{}, false
	}
	return boardInfo(board), true
}

// Rooms lists the ids of rooms that hold at least one app.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func boardInfo(b *Board) BoardInfo {
	info := BoardInfo{ID: b.ID, RoomID: b.RoomID, Apps: make([]string, 0, len(b.Apps))}
	for id := range b.Apps {
		info.Apps = append(info.Apps, id)
	}
	sort.Strings(info.Apps)
	return info
}

// Subscribe creates a new subscription channel for registry changes.
func (r *Registry) Subscribe() chan Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Change, 100)
	r.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (r *Registry) Unsubscribe(ch chan Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscribers[ch]; !ok {
		return
	}
	delete(r.subscribers, ch)
	close(ch)
}

func (r *Registry) removeWhere(match func(smartbits.SmartBit) bool) int {
	r.mu.Lock()
	var removed []string
	for id, sb := range r.apps {
		if match(sb) {
			r.drop(sb)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	for _, id := range removed {
		r.released(id)
	}
	return len(removed)
}

// drop must be called with mu held.
func (r *Registry) drop(sb smartbits.SmartBit) {
	delete(r.apps, sb.ID())
	r.unplace(sb)
	r.broadcast(Change{
		Type:    ChangeRemoved,
		AppID:   sb.ID(),
		AppType: sb.Type(),
		RoomID:  sb.RoomID(),
		BoardID: sb.BoardID(),
	})
}

func (r *Registry) released(appID string) {
	r.logger.WithField("app_id", appID).Debug("App removed")
	if r.release != nil {
		r.release(appID)
	}
}

// place must be called with mu held.
func (r *Registry) place(sb smartbits.SmartBit) {
	roomID, boardID := sb.RoomID(), sb.BoardID()
	room, ok := r.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID, Boards: make(map[string]*Board)}
		r.rooms[roomID] = room
	}
	board, ok := room.Boards[boardID]
	if !ok {
		board = &Board{ID: boardID, RoomID: roomID, Apps: make(map[string]smartbits.SmartBit)}
		room.Boards[boardID] = board
	}
	board.Apps[sb.ID()] = sb
}

// unplace must be called with mu held.
func (r *Registry) unplace(sb smartbits.SmartBit) {
	room, ok := r.rooms[sb.RoomID()]
	if !ok {
		return
	}
	board, ok := room.Boards[sb.BoardID()]
	if !ok {
		return
	}
	delete(board.Apps, sb.ID())
	if len(board.Apps) == 0 {
		delete(room.Boards, board.ID)
	}
	if len(room.Boards) == 0 {
		delete(r.rooms, room.ID)
	}
}

// broadcast must be called with mu held.
func (r *Registry) broadcast(c Change) {
	for ch := range r.subscribers {
		select {
		case ch <- c:
		default:
			// Non-blocking send to prevent slow clients from stalling the registry
		}
	}
}
