// Package presence implements the presence registry (C5): the
// user-socket-room triangle described in spec §4.5, backed by three
// Store hashes. Presence is ephemeral — heartbeats extend a record's
// effective lifetime, and absence of a heartbeat for more than
// staleAfter is treated as offline on next query, without needing an
// active expiry sweep.
package presence

import (
	"context"
	"encoding/json"
	"time"

	"chatroom/internal/store"
)

const (
	presenceHash = "user:presence"
	roomUsersKey = "room:users"
	userRoomsKey = "user:rooms"

	// HeartbeatInterval is how often a connected socket should refresh
	// its presence record.
	HeartbeatInterval = 20 * time.Second
	// staleAfter is the longest gap since lastSeen before a record is
	// reported as offline even though no explicit setOffline happened.
	staleAfter = 30 * time.Second
)

type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
)

// Record is one user's presence snapshot.
type Record struct {
	Status      Status `json:"status"`
	SocketID    string `json:"socketId"`
	LastSeen    int64  `json:"lastSeen"`
	ConnectedAt int64  `json:"connectedAt"`
}

type Registry struct {
	store store.Store
}

func New(s store.Store) *Registry {
	return &Registry{store: s}
}

// SetOnline records userID as online on socketID, starting a fresh
// connectedAt/lastSeen pair.
func (r *Registry) SetOnline(ctx context.Context, userID, socketID string) error {
	now := time.Now().UnixMilli()
	rec := Record{Status: Online, SocketID: socketID, LastSeen: now, ConnectedAt: now}
	return r.write(ctx, userID, rec)
}

// Heartbeat refreshes lastSeen for an already-online user, called every
// HeartbeatInterval by the gateway's per-socket heartbeat loop.
func (r *Registry) Heartbeat(ctx context.Context, userID string) error {
	rec, err := r.rawGet(ctx, userID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	rec.LastSeen = time.Now().UnixMilli()
	return r.write(ctx, userID, *rec)
}

// SetOffline marks userID offline, keeping the last known socket for
// diagnostics.
func (r *Registry) SetOffline(ctx context.Context, userID string) error {
	rec, err := r.rawGet(ctx, userID)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &Record{}
	}
	rec.Status = Offline
	rec.LastSeen = time.Now().UnixMilli()
	return r.write(ctx, userID, *rec)
}

// Get returns userID's presence record, treating a stale lastSeen
// (older than staleAfter) as offline even if the stored status is
// still "online".
func (r *Registry) Get(ctx context.Context, userID string) (*Record, error) {
	rec, err := r.rawGet(ctx, userID)
	if err != nil || rec == nil {
		return rec, err
	}
	if rec.Status == Online && staleSince(rec.LastSeen) {
		rec.Status = Offline
	}
	return rec, nil
}

func staleSince(lastSeenMs int64) bool {
	age := time.Since(time.UnixMilli(lastSeenMs))
	return age > staleAfter
}

func (r *Registry) rawGet(ctx context.Context, userID string) (*Record, error) {
	raw, err := r.store.HGet(ctx, presenceHash, userID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Registry) write(ctx context.Context, userID string, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.store.HSet(ctx, presenceHash, userID, string(payload))
}

// AddToRoom records userID as a member of roomID's live channel set.
func (r *Registry) AddToRoom(ctx context.Context, userID, roomID string) error {
	if err := r.store.HSet(ctx, roomUsersKey, roomID+":"+userID, "1"); err != nil {
		return err
	}
	return r.store.HSet(ctx, userRoomsKey, userID+":"+roomID, "1")
}

// RemoveFromRoom reverses AddToRoom.
func (r *Registry) RemoveFromRoom(ctx context.Context, userID, roomID string) error {
	if err := r.store.HDel(ctx, roomUsersKey, roomID+":"+userID); err != nil {
		return err
	}
	return r.store.HDel(ctx, userRoomsKey, userID+":"+roomID)
}

// RoomUsers returns the userIDs currently joined to roomID.
func (r *Registry) RoomUsers(ctx context.Context, roomID string) ([]string, error) {
	return membersWithPrefix(ctx, r.store, roomUsersKey, roomID+":")
}

// UserRooms returns the roomIDs userID currently has joined.
func (r *Registry) UserRooms(ctx context.Context, userID string) ([]string, error) {
	return membersWithPrefix(ctx, r.store, userRoomsKey, userID+":")
}

func membersWithPrefix(ctx context.Context, s store.Store, hashKey, prefix string) ([]string, error) {
	all, err := s.HGetAll(ctx, hashKey)
	if err != nil {
		return nil, err
	}
	var out []string
	for field := range all {
		if len(field) > len(prefix) && field[:len(prefix)] == prefix {
			out = append(out, field[len(prefix):])
		}
	}
	return out, nil
}

// CleanupUser removes userID from every room it had joined and marks it
// offline, called on socket disconnect.
func (r *Registry) CleanupUser(ctx context.Context, userID string) error {
	rooms, err := r.UserRooms(ctx, userID)
	if err != nil {
		return err
	}
	for _, roomID := range rooms {
		if err := r.RemoveFromRoom(ctx, userID, roomID); err != nil {
			return err
		}
	}
	return r.SetOffline(ctx, userID)
}
