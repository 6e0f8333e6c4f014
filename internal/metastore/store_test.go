package metastore

import (
	"context"
	"errors"
	"testing"
	"time"

	"voip-callkit/internal/calls"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func sampleSession(id string) calls.CallSession {
	now := time.UnixMilli(1700000000123).UTC()
	return calls.CallSession{
		ID:            id,
		CallType:      calls.CallTypeVideo,
		InitiatorID:   42,
		InitiatorName: "Alice",
		OpponentIDs:   []int64{7, 8},
		State:         calls.CallStatePending,
		UserInfo:      `{"room":"blue"}`,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func assertSameSession(t *testing.T, want, got calls.CallSession) {
	t.Helper()
	if want.ID != got.ID || want.CallType != got.CallType || want.State != got.State ||
		want.InitiatorID != got.InitiatorID || want.InitiatorName != got.InitiatorName ||
		want.Muted != got.Muted || want.EndedReason != got.EndedReason ||
		want.AppState != got.AppState || want.UserInfo != got.UserInfo {
		t.Fatalf("session mismatch:\nwant %+v\ngot  %+v", want, got)
	}
	if len(want.OpponentIDs) != len(got.OpponentIDs) {
		t.Fatalf("opponents mismatch: want %v got %v", want.OpponentIDs, got.OpponentIDs)
	}
	for i := range want.OpponentIDs {
		if want.OpponentIDs[i] != got.OpponentIDs[i] {
			t.Fatalf("opponents mismatch: want %v got %v", want.OpponentIDs, got.OpponentIDs)
		}
	}
	if !want.CreatedAt.Equal(got.CreatedAt) || !want.UpdatedAt.Equal(got.UpdatedAt) {
		t.Fatalf("timestamps mismatch: want %v/%v got %v/%v", want.CreatedAt, want.UpdatedAt, got.CreatedAt, got.UpdatedAt)
	}
}

// runStoreContract exercises the behavior every backend must share.
// reopen returns a fresh Store over the same underlying data.
func runStoreContract(t *testing.T, reopen func() Store) {
	ctx := context.Background()
	st := reopen()

	if _, ok, err := st.LoadSession(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected absent session, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := st.CurrentCallID(ctx); err != nil || ok {
		t.Fatalf("expected no current call, got ok=%v err=%v", ok, err)
	}

	a := sampleSession("aaa")
	b := sampleSession("bbb")
	b.State = calls.CallStateEnded
	b.EndedReason = calls.EndedByReject
	b.Muted = true
	b.AppState = "ringing"

	for _, s := range []calls.CallSession{a, b} {
		if err := st.SaveSession(ctx, s); err != nil {
			t.Fatalf("save %s: %v", s.ID, err)
		}
	}
	if err := st.SetCurrentCallID(ctx, "aaa"); err != nil {
		t.Fatalf("set current: %v", err)
	}
	if err := st.SetPushToken(ctx, "tok-1"); err != nil {
		t.Fatalf("set token: %v", err)
	}

	// A second handle over the same data sees everything.
	st2 := reopen()
	got, ok, err := st2.LoadSession(ctx, "bbb")
	if err != nil || !ok {
		t.Fatalf("expected bbb after reopen, ok=%v err=%v", ok, err)
	}
	assertSameSession(t, b, got)

	list, err := st2.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "aaa" || list[1].ID != "bbb" {
		t.Fatalf("expected [aaa bbb], got %+v", list)
	}
	if cur, ok, _ := st2.CurrentCallID(ctx); !ok || cur != "aaa" {
		t.Fatalf("expected current aaa, got %q ok=%v", cur, ok)
	}
	if tok, ok, _ := st2.PushToken(ctx); !ok || tok != "tok-1" {
		t.Fatalf("expected token tok-1, got %q ok=%v", tok, ok)
	}

	// Deleting a non-current session leaves the pointer alone.
	existed, err := st2.DeleteSession(ctx, "bbb")
	if err != nil || !existed {
		t.Fatalf("delete bbb: existed=%v err=%v", existed, err)
	}
	if cur, ok, _ := st2.CurrentCallID(ctx); !ok || cur != "aaa" {
		t.Fatalf("pointer should survive deleting another call, got %q ok=%v", cur, ok)
	}

	// Deleting the current session clears the pointer.
	if _, err := st2.DeleteSession(ctx, "aaa"); err != nil {
		t.Fatalf("delete aaa: %v", err)
	}
	if _, ok, _ := st2.CurrentCallID(ctx); ok {
		t.Fatalf("expected pointer cleared with its session")
	}
	if existed, err := st2.DeleteSession(ctx, "aaa"); err != nil || existed {
		t.Fatalf("second delete should report absent, existed=%v err=%v", existed, err)
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	mem := NewMemoryStore()
	runStoreContract(t, func() Store { return mem })
}

func TestMemoryStore_MalformedIsAbsent(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	mem.PutRaw("bad", []byte(`{"id":"bad","type":"fax"}`))
	mem.PutRaw("worse", []byte(`not json`))
	if err := mem.SaveSession(ctx, sampleSession("good")); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, ok, err := mem.LoadSession(ctx, "bad"); ok || err != nil {
		t.Fatalf("expected malformed record treated as absent, ok=%v err=%v", ok, err)
	}
	list, err := mem.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "good" {
		t.Fatalf("expected only the good record, got %+v", list)
	}
}

func TestMemoryStore_SaveRejectsInvalid(t *testing.T) {
	mem := NewMemoryStore()
	s := sampleSession("x")
	s.CallType = "fax"
	if err := mem.SaveSession(context.Background(), s); !errors.Is(err, calls.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	mem := NewMemoryStore()
	_ = mem.Close()
	if err := mem.SetPushToken(context.Background(), "t"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRedisStore_Contract(t *testing.T) {
	mr := miniredis.RunT(t)
	runStoreContract(t, func() Store {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		st, err := NewRedisStore(RedisConfig{Client: rdb, KeyPrefix: "test:"})
		if err != nil {
			t.Fatalf("new redis store: %v", err)
		}
		return st
	})

	if mr.Exists("test:current_call") {
		t.Fatalf("expected pointer key deleted")
	}
}

func TestRedisStore_MalformedIsAbsent(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.HSet("callkit:sessions", "bad", "{")

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	st, err := NewRedisStore(RedisConfig{Client: rdb})
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	if _, ok, err := st.LoadSession(context.Background(), "bad"); ok || err != nil {
		t.Fatalf("expected absent, ok=%v err=%v", ok, err)
	}
}

func TestRedisStore_CloseLeavesSharedClientOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	st, err := NewRedisStore(RedisConfig{Client: rdb})
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	ctx := context.Background()
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := st.SetPushToken(ctx, "t"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from closed store, got %v", err)
	}
	// The call-UI stream keeps writing through the same client.
	if err := rdb.XAdd(ctx, &redis.XAddArgs{Stream: "ui", Values: map[string]any{"op": "end"}}).Err(); err != nil {
		t.Fatalf("shared client closed with the store: %v", err)
	}
}

func TestRedisStore_RequiresClient(t *testing.T) {
	if _, err := NewRedisStore(RedisConfig{}); err == nil {
		t.Fatalf("expected error without client")
	}
}

func TestDecodeSession_RejectsInvariantViolations(t *testing.T) {
	data := []byte(`{"id":"abc","type":"audio","state":"ended"}`)
	if _, err := DecodeSession(data); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for ended without reason, got %v", err)
	}
}
