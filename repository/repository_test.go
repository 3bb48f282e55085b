package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open(DBConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		LogLevel:     logger.Silent,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func testToken(id, subject, code string, now time.Time) goVerify.VerificationToken {
	return goVerify.VerificationToken{
		ID:         id,
		SubjectKey: subject,
		Code:       code,
		Purpose:    goVerify.PurposeSecondFactor,
		CreatedAt:  now,
		ExpiresAt:  now.Add(10 * time.Minute),
	}
}

func TestTokenReplaceKeepsSingleActiveToken(t *testing.T) {
	store := NewTokenStore(newTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := testToken("t1", "u1", "111111", now)
	first.Attempts = 3
	if err := store.Replace(ctx, first); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if err := store.MarkVerified(ctx, first); err != nil {
		t.Fatalf("MarkVerified failed: %v", err)
	}

	second := testToken("t2", "u1", "222222", now.Add(time.Minute))
	if err := store.Replace(ctx, second); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	got, err := store.Find(ctx, "u1", goVerify.PurposeSecondFactor)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got.ID != "t2" || got.Code != "222222" || got.Attempts != 0 || got.Verified {
		t.Fatalf("expected fresh replacement, got %+v", got)
	}
	if !got.CreatedAt.Equal(second.CreatedAt) || !got.ExpiresAt.Equal(second.ExpiresAt) {
		t.Fatalf("timestamps not preserved: %+v", got)
	}

	var count int64
	if err := store.db.Model(&tokenRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one row, got %d", count)
	}

	// Mutations addressed at the replaced token are no-ops.
	if ok, err := store.ReserveAttempt(ctx, first, 5); err != nil || ok {
		t.Fatalf("expected stale reservation refused, got ok=%v err=%v", ok, err)
	}
	got, _ = store.Find(ctx, "u1", goVerify.PurposeSecondFactor)
	if got.Attempts != 0 {
		t.Fatalf("expected stale mutation ignored, got attempts=%d", got.Attempts)
	}
}

func TestTokenPurposesAreIndependent(t *testing.T) {
	store := NewTokenStore(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	sf := testToken("t1", "u1", "111111", now)
	own := testToken("t2", "u1", "222222", now)
	own.Purpose = goVerify.PurposeEmailOwnership
	for _, tok := range []goVerify.VerificationToken{sf, own} {
		if err := store.Replace(ctx, tok); err != nil {
			t.Fatalf("Replace failed: %v", err)
		}
	}

	if err := store.DeleteAll(ctx, "u1", goVerify.PurposeSecondFactor); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if _, err := store.Find(ctx, "u1", goVerify.PurposeSecondFactor); !errors.Is(err, goVerify.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if _, err := store.Find(ctx, "u1", goVerify.PurposeEmailOwnership); err != nil {
		t.Fatalf("expected ownership token kept, got %v", err)
	}
}

func TestTokenReserveAttemptConcurrent(t *testing.T) {
	const maxAttempts = 5
	store := NewTokenStore(newTestDB(t))
	ctx := context.Background()
	tok := testToken("t1", "u1", "123456", time.Now().UTC())

	if err := store.Replace(ctx, tok); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ReserveAttempt(ctx, tok, maxAttempts)
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

	if won != maxAttempts {
		t.Fatalf("expected %d reservations, got %d", maxAttempts, won)
	}
	got, err := store.Find(ctx, "u1", goVerify.PurposeSecondFactor)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got.Attempts != maxAttempts {
		t.Fatalf("expected attempts at budget, got %d", got.Attempts)
	}
}

func TestTokenAttemptsAndConsume(t *testing.T) {
	store := NewTokenStore(newTestDB(t))
	ctx := context.Background()
	tok := testToken("t1", "u1", "123456", time.Now().UTC())

	if err := store.Replace(ctx, tok); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if ok, err := store.ReserveAttempt(ctx, tok, 5); err != nil || !ok {
			t.Fatalf("ReserveAttempt failed: ok=%v err=%v", ok, err)
		}
	}
	got, err := store.Find(ctx, "u1", goVerify.PurposeSecondFactor)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", got.Attempts)
	}

	ok, err := store.ConsumeVerified(ctx, tok)
	if err != nil {
		t.Fatalf("ConsumeVerified failed: %v", err)
	}
	if ok {
		t.Fatal("expected unverified token not consumable")
	}

	if err := store.MarkVerified(ctx, tok); err != nil {
		t.Fatalf("MarkVerified failed: %v", err)
	}
	if ok, err := store.ConsumeVerified(ctx, tok); err != nil || !ok {
		t.Fatalf("expected first consume to win: ok=%v err=%v", ok, err)
	}
	if ok, err := store.ConsumeVerified(ctx, tok); err != nil || ok {
		t.Fatalf("expected second consume to lose: ok=%v err=%v", ok, err)
	}
}

func TestTokenConcurrentConsumeOnce(t *testing.T) {
	store := NewTokenStore(newTestDB(t))
	ctx := context.Background()
	tok := testToken("t1", "u1", "123456", time.Now().UTC())
	tok.Verified = true
	if err := store.Replace(ctx, tok); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := store.ConsumeVerified(ctx, tok); err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one consumer, got %d", wins)
	}
}

func TestTokenDeleteExpired(t *testing.T) {
	store := NewTokenStore(newTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stale := testToken("t1", "u1", "111111", now.Add(-2*time.Hour))
	fresh := testToken("t2", "u2", "222222", now)
	for _, tok := range []goVerify.VerificationToken{stale, fresh} {
		if err := store.Replace(ctx, tok); err != nil {
			t.Fatalf("Replace failed: %v", err)
		}
	}

	removed, err := store.DeleteExpired(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := store.Find(ctx, "u2", goVerify.PurposeSecondFactor); err != nil {
		t.Fatalf("expected fresh token kept, got %v", err)
	}
}

func TestUserStoreLifecycle(t *testing.T) {
	users := NewUserStore(newTestDB(t))
	ctx := context.Background()

	created, err := users.CreateUser(ctx, goVerify.CreateUserInput{Email: "Ada@Shop.Example", PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if created.ID == "" || created.Email != "ada@shop.example" || created.EmailVerified {
		t.Fatalf("unexpected user: %+v", created)
	}

	if _, err := users.CreateUser(ctx, goVerify.CreateUserInput{Email: "ada@shop.example", PasswordHash: "x"}); !errors.Is(err, goVerify.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	if err := users.MarkEmailVerified(ctx, created.ID, at); err != nil {
		t.Fatalf("MarkEmailVerified failed: %v", err)
	}
	if err := users.SetSecondFactor(ctx, created.ID, true); err != nil {
		t.Fatalf("SetSecondFactor failed: %v", err)
	}
	if err := users.UpdatePasswordHash(ctx, created.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePasswordHash failed: %v", err)
	}

	got, err := users.GetUserByEmail(ctx, "ADA@shop.example")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if !got.EmailVerified || got.EmailVerifiedAt == nil || !got.EmailVerifiedAt.Equal(at) {
		t.Fatalf("expected verified email at %v, got %+v", at, got)
	}
	if !got.SecondFactorEnabled || got.PasswordHash != "new-hash" {
		t.Fatalf("unexpected user after updates: %+v", got)
	}

	if _, err := users.GetUserByID(ctx, "missing"); !errors.Is(err, goVerify.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := users.SetSecondFactor(ctx, "missing", true); !errors.Is(err, goVerify.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestEngineOnRelationalStores(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		sent []goVerify.Notification
	)
	notifier := goVerify.NotifierFunc(func(_ context.Context, n goVerify.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, n)
		return nil
	})

	cfg := goVerify.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("storefront-session-secret")
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	engine, err := goVerify.New().
		WithConfig(cfg).
		WithUserStore(NewUserStore(db)).
		WithTokenStore(NewTokenStore(db)).
		WithNotifier(notifier).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := engine.RequestLoginOTP(ctx, "ada@shop.example"); err != nil {
		t.Fatalf("RequestLoginOTP failed: %v", err)
	}
	code := sent[len(sent)-1].Code
	wrong := "0000"
	if code == wrong {
		wrong = "1111"
	}

	for i := 0; i < 5; i++ {
		if _, err := engine.VerifyLoginOTP(ctx, "ada@shop.example", wrong); !errors.Is(err, goVerify.ErrTokenMismatch) {
			t.Fatalf("attempt %d: expected ErrTokenMismatch, got %v", i+1, err)
		}
	}
	if _, err := engine.VerifyLoginOTP(ctx, "ada@shop.example", code); !errors.Is(err, goVerify.ErrTokenAttemptsExceeded) {
		t.Fatalf("expected ErrTokenAttemptsExceeded, got %v", err)
	}
	if _, err := engine.VerifyLoginOTP(ctx, "ada@shop.example", code); !errors.Is(err, goVerify.ErrTokenNotFound) {
		t.Fatalf("expected exhausted token deleted, got %v", err)
	}

	if _, err := engine.RequestLoginOTP(ctx, "ada@shop.example"); err != nil {
		t.Fatalf("RequestLoginOTP failed: %v", err)
	}
	code = sent[len(sent)-1].Code
	res, err := engine.VerifyLoginOTP(ctx, "ada@shop.example", code)
	if err != nil {
		t.Fatalf("VerifyLoginOTP failed: %v", err)
	}
	if !res.RequiresEmailVerification {
		t.Fatalf("expected email verification step for new account, got %+v", res)
	}

	own := sent[len(sent)-1]
	if own.Purpose != goVerify.PurposeEmailOwnership {
		t.Fatalf("expected ownership mail, got %s", own.Purpose)
	}
	if _, err := engine.VerifyEmailOwnershipCode(ctx, res.UserID, own.Code); err != nil {
		t.Fatalf("VerifyEmailOwnershipCode failed: %v", err)
	}
	sess, err := engine.Login(ctx, "ada@shop.example", own.Code)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if sess.User.ID != res.UserID || sess.Proof != "email_ownership" {
		t.Fatalf("unexpected session: %+v", sess)
	}
}
