package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goVerify/internal/token"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testToken(id, subject, code string, now time.Time) token.Token {
	return token.Token{
		ID:         id,
		SubjectKey: subject,
		Code:       code,
		Purpose:    token.PurposeSecondFactor,
		CreatedAt:  now,
		ExpiresAt:  now.Add(10 * time.Minute),
	}
}

func TestReplaceAndFind(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	store := NewTokenStore(rdb, TokenStoreConfig{})
	ctx := context.Background()

	if err := store.Replace(ctx, testToken("t1", "u1", "012345", now)); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	got, err := store.Find(ctx, "u1", token.PurposeSecondFactor)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got.ID != "t1" || got.Code != "012345" || got.SubjectKey != "u1" || got.Purpose != token.PurposeSecondFactor {
		t.Fatalf("unexpected token: %+v", got)
	}
	if !got.CreatedAt.Equal(now) || !got.ExpiresAt.Equal(now.Add(10*time.Minute)) {
		t.Fatalf("unexpected timestamps: %+v", got)
	}
	if got.Attempts != 0 || got.Verified {
		t.Fatalf("expected fresh token, got %+v", got)
	}

	if _, err := store.Find(ctx, "u1", token.PurposeEmailOwnership); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected other purpose not found, got %v", err)
	}
}

func TestReplaceKeepsSingleActiveToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	now := time.Now().UTC()
	store := NewTokenStore(rdb, TokenStoreConfig{})
	ctx := context.Background()

	first := testToken("t1", "u1", "111111", now)
	second := testToken("t2", "u1", "222222", now)
	if err := store.Replace(ctx, first); err != nil {
		t.Fatalf("Replace first failed: %v", err)
	}
	if err := store.Replace(ctx, second); err != nil {
		t.Fatalf("Replace second failed: %v", err)
	}

	got, err := store.Find(ctx, "u1", token.PurposeSecondFactor)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got.ID != "t2" || got.Code != "222222" {
		t.Fatalf("expected second token active, got %+v", got)
	}

	// Mutations addressed at the replaced token must not leak into the new one.
	if ok, err := store.ReserveAttempt(ctx, first, 5); err != nil || ok {
		t.Fatalf("expected stale reservation to be a no-op, got ok=%v err=%v", ok, err)
	}
	if ok, err := store.ConsumeVerified(ctx, first); err != nil || ok {
		t.Fatalf("expected stale consume to be a no-op, got ok=%v err=%v", ok, err)
	}
	got, _ = store.Find(ctx, "u1", token.PurposeSecondFactor)
	if got.Attempts != 0 {
		t.Fatalf("expected attempts untouched, got %d", got.Attempts)
	}
}

func TestConcurrentReplaceLeavesOneToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	now := time.Now().UTC()
	store := NewTokenStore(rdb, TokenStoreConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Replace(ctx, testToken(string(rune('a'+i)), "u1", "123456", now))
		}(i)
	}
	wg.Wait()

	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected exactly one key, got %v", keys)
	}
}

func TestAttemptsAndVerifyMutations(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	now := time.Now().UTC()
	store := NewTokenStore(rdb, TokenStoreConfig{})
	ctx := context.Background()

	tok := testToken("t1", "u1", "123456", now)
	if err := store.Replace(ctx, tok); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if ok, err := store.ReserveAttempt(ctx, tok, 5); err != nil || !ok {
			t.Fatalf("ReserveAttempt failed: ok=%v err=%v", ok, err)
		}
	}
	if err := store.MarkVerified(ctx, tok); err != nil {
		t.Fatalf("MarkVerified failed: %v", err)
	}

	got, err := store.Find(ctx, "u1", token.PurposeSecondFactor)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got.Attempts != 3 || !got.Verified {
		t.Fatalf("unexpected token state: %+v", got)
	}
	if ttl := mr.TTL("vtk:second_factor:u1"); ttl <= 0 {
		t.Fatalf("expected TTL preserved after mutation, got %v", ttl)
	}
}

func TestReserveAttemptStopsAtBudget(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	now := time.Now().UTC()
	store := NewTokenStore(rdb, TokenStoreConfig{})
	ctx := context.Background()

	tok := testToken("t1", "u1", "123456", now)
	if err := store.Replace(ctx, tok); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ReserveAttempt(ctx, tok, 5)
			if err != nil {
				t.Errorf("ReserveAttempt failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if won != 5 {
		t.Fatalf("expected exactly 5 reservations, got %d", won)
	}
	got, err := store.Find(ctx, "u1", token.PurposeSecondFactor)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got.Attempts != 5 {
		t.Fatalf("expected attempts capped at 5, got %d", got.Attempts)
	}

	stale := testToken("t0", "u1", "123456", now)
	if ok, err := store.ReserveAttempt(ctx, stale, 5); err != nil || ok {
		t.Fatalf("expected stale reservation to fail, got ok=%v err=%v", ok, err)
	}
}

func TestConsumeVerifiedOnlyOnce(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	now := time.Now().UTC()
	store := NewTokenStore(rdb, TokenStoreConfig{})
	ctx := context.Background()

	tok := testToken("t1", "u1", "123456", now)
	_ = store.Replace(ctx, tok)

	if ok, err := store.ConsumeVerified(ctx, tok); err != nil || ok {
		t.Fatalf("expected unverified consume to fail, got ok=%v err=%v", ok, err)
	}

	_ = store.MarkVerified(ctx, tok)
	ok, err := store.ConsumeVerified(ctx, tok)
	if err != nil || !ok {
		t.Fatalf("expected consume to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = store.ConsumeVerified(ctx, tok)
	if err != nil || ok {
		t.Fatalf("expected second consume to fail, got ok=%v err=%v", ok, err)
	}
	if _, err := store.Find(ctx, "u1", token.PurposeSecondFactor); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected token gone, got %v", err)
	}
}

func TestDeleteAndDeleteAll(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	now := time.Now().UTC()
	store := NewTokenStore(rdb, TokenStoreConfig{})
	ctx := context.Background()

	tok := testToken("t1", "u1", "123456", now)
	_ = store.Replace(ctx, tok)
	if err := store.Delete(ctx, tok); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Find(ctx, "u1", token.PurposeSecondFactor); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected deleted token gone, got %v", err)
	}

	_ = store.Replace(ctx, testToken("t2", "u1", "654321", now))
	if err := store.DeleteAll(ctx, "u1", token.PurposeSecondFactor); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if _, err := store.Find(ctx, "u1", token.PurposeSecondFactor); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected DeleteAll to remove token, got %v", err)
	}
}

func TestDeleteExpiredRemovesOnlyStaleRecords(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	now := time.Now().UTC()
	store := NewTokenStore(rdb, TokenStoreConfig{})
	ctx := context.Background()

	stale := testToken("old", "u-old", "111111", now.Add(-30*time.Minute))
	fresh := testToken("new", "u-new", "222222", now)
	_ = store.Replace(ctx, stale)
	_ = store.Replace(ctx, fresh)

	removed, err := store.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one removal, got %d", removed)
	}
	if _, err := store.Find(ctx, "u-new", token.PurposeSecondFactor); err != nil {
		t.Fatalf("expected fresh token kept, got %v", err)
	}
}

func TestStoreUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mr.Close()

	store := NewTokenStore(rdb, TokenStoreConfig{})
	if _, err := store.Find(context.Background(), "u1", token.PurposeSecondFactor); !errors.Is(err, token.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	if _, err := decodeTokenRecord([]byte{9, 0, 0}); err == nil {
		t.Fatal("expected unknown version to be rejected")
	}
	if _, err := decodeTokenRecord([]byte{tokenRecordVersionV1, 0}); err == nil {
		t.Fatal("expected truncated record to be rejected")
	}
}
