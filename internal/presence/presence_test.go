package presence

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"chatroom/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(store.NewFromClient(client)), mr
}

func TestSetOnline_Get(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.SetOnline(ctx, "u1", "sock1"); err != nil {
		t.Fatalf("SetOnline() error: %v", err)
	}
	rec, err := r.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec == nil || rec.Status != Online || rec.SocketID != "sock1" {
		t.Fatalf("Get() = %+v, want online/sock1", rec)
	}
}

func TestGet_UnknownUser(t *testing.T) {
	r, _ := newTestRegistry(t)
	rec, err := r.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec != nil {
		t.Errorf("Get() for unknown user = %+v, want nil", rec)
	}
}

func TestSetOffline(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.SetOnline(ctx, "u1", "sock1"); err != nil {
		t.Fatalf("SetOnline() error: %v", err)
	}
	if err := r.SetOffline(ctx, "u1"); err != nil {
		t.Fatalf("SetOffline() error: %v", err)
	}
	rec, err := r.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec.Status != Offline {
		t.Errorf("Get().Status = %v, want Offline", rec.Status)
	}
}

func TestHeartbeat_RefreshesLastSeen(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.SetOnline(ctx, "u1", "sock1"); err != nil {
		t.Fatalf("SetOnline() error: %v", err)
	}
	first, _ := r.Get(ctx, "u1")

	time.Sleep(5 * time.Millisecond)
	if err := r.Heartbeat(ctx, "u1"); err != nil {
		t.Fatalf("Heartbeat() error: %v", err)
	}
	second, _ := r.Get(ctx, "u1")

	if second.LastSeen <= first.LastSeen {
		t.Errorf("LastSeen did not advance: first=%d second=%d", first.LastSeen, second.LastSeen)
	}
	if second.Status != Online {
		t.Errorf("Heartbeat() should preserve Online status, got %v", second.Status)
	}
}

func TestGet_StaleTreatedAsOffline(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.SetOnline(ctx, "u1", "sock1"); err != nil {
		t.Fatalf("SetOnline() error: %v", err)
	}

	// Directly age the record past staleAfter by writing an old lastSeen.
	rec, err := r.rawGet(ctx, "u1")
	if err != nil {
		t.Fatalf("rawGet() error: %v", err)
	}
	rec.LastSeen = time.Now().Add(-time.Minute).UnixMilli()
	if err := r.write(ctx, "u1", *rec); err != nil {
		t.Fatalf("write() error: %v", err)
	}

	got, err := r.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != Offline {
		t.Errorf("Get() for a stale record = %v, want Offline", got.Status)
	}
}

func TestRoomMembership(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.AddToRoom(ctx, "u1", "room1"); err != nil {
		t.Fatalf("AddToRoom() error: %v", err)
	}
	if err := r.AddToRoom(ctx, "u2", "room1"); err != nil {
		t.Fatalf("AddToRoom() error: %v", err)
	}
	if err := r.AddToRoom(ctx, "u1", "room2"); err != nil {
		t.Fatalf("AddToRoom() error: %v", err)
	}

	users, err := r.RoomUsers(ctx, "room1")
	if err != nil {
		t.Fatalf("RoomUsers() error: %v", err)
	}
	sort.Strings(users)
	if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Errorf("RoomUsers(room1) = %v, want [u1 u2]", users)
	}

	rooms, err := r.UserRooms(ctx, "u1")
	if err != nil {
		t.Fatalf("UserRooms() error: %v", err)
	}
	sort.Strings(rooms)
	if len(rooms) != 2 || rooms[0] != "room1" || rooms[1] != "room2" {
		t.Errorf("UserRooms(u1) = %v, want [room1 room2]", rooms)
	}

	if err := r.RemoveFromRoom(ctx, "u1", "room1"); err != nil {
		t.Fatalf("RemoveFromRoom() error: %v", err)
	}
	users, _ = r.RoomUsers(ctx, "room1")
	if len(users) != 1 || users[0] != "u2" {
		t.Errorf("RoomUsers(room1) after RemoveFromRoom = %v, want [u2]", users)
	}
}

func TestCleanupUser(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.SetOnline(ctx, "u1", "sock1"); err != nil {
		t.Fatalf("SetOnline() error: %v", err)
	}
	if err := r.AddToRoom(ctx, "u1", "room1"); err != nil {
		t.Fatalf("AddToRoom() error: %v", err)
	}
	if err := r.AddToRoom(ctx, "u1", "room2"); err != nil {
		t.Fatalf("AddToRoom() error: %v", err)
	}

	if err := r.CleanupUser(ctx, "u1"); err != nil {
		t.Fatalf("CleanupUser() error: %v", err)
	}

	rooms, err := r.UserRooms(ctx, "u1")
	if err != nil {
		t.Fatalf("UserRooms() error: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("UserRooms(u1) after CleanupUser = %v, want empty", rooms)
	}

	rec, err := r.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec.Status != Offline {
		t.Errorf("Get().Status after CleanupUser = %v, want Offline", rec.Status)
	}
}
