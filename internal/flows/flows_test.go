package flows

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goVerify/internal/token"
)

// memStore is a token.Store keyed by (subject, purpose).
type memStore struct {
	mu      sync.Mutex
	tokens  map[string]token.Token
	failErr error

	replaceCalls int
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[string]token.Token)}
}

func memKey(subject string, purpose token.Purpose) string {
	return string(purpose) + "|" + subject
}

func (m *memStore) Replace(_ context.Context, t token.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceCalls++
	if m.failErr != nil {
		return m.failErr
	}
	m.tokens[memKey(t.SubjectKey, t.Purpose)] = t
	return nil
}

func (m *memStore) Find(_ context.Context, subject string, purpose token.Purpose) (token.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return token.Token{}, m.failErr
	}
	t, ok := m.tokens[memKey(subject, purpose)]
	if !ok {
		return token.Token{}, token.ErrNotFound
	}
	return t, nil
}

func (m *memStore) update(t token.Token, fn func(*token.Token)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(t.SubjectKey, t.Purpose)
	cur, ok := m.tokens[key]
	if !ok || cur.ID != t.ID {
		return
	}
	fn(&cur)
	m.tokens[key] = cur
}

func (m *memStore) ReserveAttempt(_ context.Context, t token.Token, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(t.SubjectKey, t.Purpose)
	cur, ok := m.tokens[key]
	if !ok || cur.ID != t.ID || cur.Attempts >= limit {
		return false, nil
	}
	cur.Attempts++
	m.tokens[key] = cur
	return true, nil
}

func (m *memStore) MarkVerified(_ context.Context, t token.Token) error {
	m.update(t, func(cur *token.Token) { cur.Verified = true })
	return nil
}

func (m *memStore) Delete(_ context.Context, t token.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(t.SubjectKey, t.Purpose)
	if cur, ok := m.tokens[key]; ok && cur.ID == t.ID {
		delete(m.tokens, key)
	}
	return nil
}

func (m *memStore) DeleteAll(_ context.Context, subject string, purpose token.Purpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, memKey(subject, purpose))
	return nil
}

func (m *memStore) ConsumeVerified(_ context.Context, t token.Token) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(t.SubjectKey, t.Purpose)
	cur, ok := m.tokens[key]
	if !ok || cur.ID != t.ID || !cur.Verified {
		return false, nil
	}
	delete(m.tokens, key)
	return true, nil
}

func (m *memStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, t := range m.tokens {
		if t.ExpiresAt.Before(before) {
			delete(m.tokens, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestDeps(store token.Store, clock *testClock) (TokenDeps, *[]token.Token) {
	var sent []token.Token
	seq := 0
	codes := []string{"0421", "7788", "123456", "654321"}
	return TokenDeps{
		Store: store,
		Now:   clock.Now,
		NewCode: func(n int) (string, error) {
			code := codes[seq%len(codes)]
			for len(code) < n {
				code += "0"
			}
			return code[:n], nil
		},
		NewID: func() string {
			seq++
			return "tok-" + strconv.Itoa(seq)
		},
		Notify: func(_ context.Context, t token.Token) error {
			sent = append(sent, t)
			return nil
		},
	}, &sent
}

func secondFactorRequest(subject string) IssueRequest {
	return IssueRequest{
		SubjectKey: subject,
		Purpose:    token.PurposeSecondFactor,
		Config:     token.DefaultConfig(token.PurposeSecondFactor),
	}
}

func TestRunIssueReplacesPriorToken(t *testing.T) {
	store := newMemStore()
	clock := &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	deps, sent := newTestDeps(store, clock)
	ctx := context.Background()

	first, err := RunIssue(ctx, IssueRequest{SubjectKey: "a@x.com", Purpose: token.PurposeLoginOTP, Config: token.DefaultConfig(token.PurposeLoginOTP)}, deps)
	if err != nil {
		t.Fatalf("RunIssue failed: %v", err)
	}
	second, err := RunIssue(ctx, IssueRequest{SubjectKey: "a@x.com", Purpose: token.PurposeLoginOTP, Config: token.DefaultConfig(token.PurposeLoginOTP)}, deps)
	if err != nil {
		t.Fatalf("RunIssue failed: %v", err)
	}

	if len(first.Code) != 4 || first.Code == second.Code {
		t.Fatalf("unexpected codes %q %q", first.Code, second.Code)
	}
	if !second.ExpiresAt.Equal(clock.now.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", second.ExpiresAt)
	}
	if store.count() != 1 || len(*sent) != 2 {
		t.Fatalf("expected one stored token and two deliveries, got %d and %d", store.count(), len(*sent))
	}

	tokenDeps := deps
	if _, err := RunVerify(ctx, VerifyRequest{SubjectKey: "a@x.com", Purpose: token.PurposeLoginOTP, Code: first.Code, Config: token.DefaultConfig(token.PurposeLoginOTP)}, tokenDeps); !errors.Is(err, errMismatch) {
		t.Fatalf("expected first code to mismatch, got %v", err)
	}
	if _, err := RunVerify(ctx, VerifyRequest{SubjectKey: "a@x.com", Purpose: token.PurposeLoginOTP, Code: second.Code, Config: token.DefaultConfig(token.PurposeLoginOTP)}, tokenDeps); err != nil {
		t.Fatalf("expected second code to verify, got %v", err)
	}
}

func TestRunIssueDeliveryFailureKeepsToken(t *testing.T) {
	store := newMemStore()
	clock := &testClock{now: time.Now()}
	deps, _ := newTestDeps(store, clock)
	deliveryErr := errors.New("smtp down")
	deps.Notify = func(context.Context, token.Token) error { return deliveryErr }
	sentinel := errors.New("delivery failed")
	deps.Errors.DeliveryFailed = sentinel

	_, err := RunIssue(context.Background(), secondFactorRequest("u1"), deps)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
	if store.count() != 1 {
		t.Fatalf("expected token to remain after delivery failure, got %d", store.count())
	}
}

func TestRunIssueStoreFailure(t *testing.T) {
	store := newMemStore()
	store.failErr = errors.New("db gone")
	clock := &testClock{now: time.Now()}
	deps, sent := newTestDeps(store, clock)

	if _, err := RunIssue(context.Background(), secondFactorRequest("u1"), deps); !errors.Is(err, token.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if len(*sent) != 0 {
		t.Fatal("expected no delivery when persistence fails")
	}
}

func TestRunIssueRejectsInvalidRequest(t *testing.T) {
	deps, _ := newTestDeps(newMemStore(), &testClock{now: time.Now()})

	if _, err := RunIssue(context.Background(), IssueRequest{Purpose: token.PurposeLoginOTP, Config: token.DefaultConfig(token.PurposeLoginOTP)}, deps); !errors.Is(err, errInvalid) {
		t.Fatalf("expected invalid for empty subject, got %v", err)
	}
	if _, err := RunIssue(context.Background(), IssueRequest{SubjectKey: "u1", Purpose: "bogus", Config: token.DefaultConfig(token.PurposeLoginOTP)}, deps); !errors.Is(err, errInvalid) {
		t.Fatalf("expected invalid for unknown purpose, got %v", err)
	}

	deps.Notify = nil
	if _, err := RunIssue(context.Background(), secondFactorRequest("u1"), deps); !errors.Is(err, errEngineNotReady) {
		t.Fatalf("expected engine not ready, got %v", err)
	}
}

func verifyReq(subject, code string) VerifyRequest {
	return VerifyRequest{
		SubjectKey: subject,
		Purpose:    token.PurposeSecondFactor,
		Code:       code,
		Config:     token.DefaultConfig(token.PurposeSecondFactor),
	}
}

func TestRunVerifyNotFound(t *testing.T) {
	deps, _ := newTestDeps(newMemStore(), &testClock{now: time.Now()})
	if _, err := RunVerify(context.Background(), verifyReq("u1", "123456"), deps); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRunVerifyExpiredDeletesToken(t *testing.T) {
	store := newMemStore()
	clock := &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	deps, _ := newTestDeps(store, clock)
	ctx := context.Background()

	issued, err := RunIssue(ctx, secondFactorRequest("u1"), deps)
	if err != nil {
		t.Fatalf("RunIssue failed: %v", err)
	}

	clock.Advance(10 * time.Minute)
	if _, err := RunVerify(ctx, verifyReq("u1", issued.Code), deps); err != nil {
		t.Fatalf("expected success exactly at expiry, got %v", err)
	}

	issued, _ = RunIssue(ctx, secondFactorRequest("u1"), deps)
	clock.Advance(10*time.Minute + time.Second)
	if _, err := RunVerify(ctx, verifyReq("u1", issued.Code), deps); !errors.Is(err, errExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if store.count() != 0 {
		t.Fatal("expected expired token deleted")
	}
	if _, err := RunVerify(ctx, verifyReq("u1", issued.Code), deps); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("expected not found after expiry delete, got %v", err)
	}
}

func TestRunVerifyAttemptBudget(t *testing.T) {
	store := newMemStore()
	clock := &testClock{now: time.Now()}
	deps, _ := newTestDeps(store, clock)
	ctx := context.Background()

	issued, err := RunIssue(ctx, secondFactorRequest("u1"), deps)
	if err != nil {
		t.Fatalf("RunIssue failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := RunVerify(ctx, verifyReq("u1", "999999"), deps); !errors.Is(err, errMismatch) {
			t.Fatalf("attempt %d: expected mismatch, got %v", i+1, err)
		}
	}

	if _, err := RunVerify(ctx, verifyReq("u1", issued.Code), deps); !errors.Is(err, errAttemptsExceeded) {
		t.Fatalf("expected attempts exceeded on 6th call even with the right code, got %v", err)
	}
	if store.count() != 0 {
		t.Fatal("expected exhausted token deleted")
	}
}

func TestRunVerifyConcurrentGuessesShareBudget(t *testing.T) {
	store := newMemStore()
	deps, _ := newTestDeps(store, &testClock{now: time.Now()})
	ctx := context.Background()

	if _, err := RunIssue(ctx, secondFactorRequest("u1"), deps); err != nil {
		t.Fatalf("RunIssue failed: %v", err)
	}

	const workers = 200
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		mismatches int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := RunVerify(ctx, verifyReq("u1", "999999"), deps)
			switch {
			case errors.Is(err, errMismatch):
				mu.Lock()
				mismatches++
				mu.Unlock()
			case errors.Is(err, errAttemptsExceeded), errors.Is(err, token.ErrNotFound):
			default:
				t.Errorf("unexpected verify result: %v", err)
			}
		}()
	}
	wg.Wait()

	if mismatches > 5 {
		t.Fatalf("expected at most 5 mismatches, got %d", mismatches)
	}
}

func TestRunVerifyIdempotentSuccess(t *testing.T) {
	store := newMemStore()
	clock := &testClock{now: time.Now()}
	deps, _ := newTestDeps(store, clock)
	ctx := context.Background()

	issued, _ := RunIssue(ctx, secondFactorRequest("u1"), deps)
	if _, err := RunVerify(ctx, verifyReq("u1", "000000"), deps); !errors.Is(err, errMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := RunVerify(ctx, verifyReq("u1", issued.Code), deps)
		if err != nil {
			t.Fatalf("verify %d failed: %v", i+1, err)
		}
		if !got.Verified {
			t.Fatal("expected verified token")
		}
	}

	stored, err := store.Find(ctx, "u1", token.PurposeSecondFactor)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if stored.Attempts != 2 || !stored.Verified {
		t.Fatalf("expected attempts to stay at 2 and verified, got %+v", stored)
	}
}

func TestRunVerifyConsumeMode(t *testing.T) {
	store := newMemStore()
	deps, _ := newTestDeps(store, &testClock{now: time.Now()})
	ctx := context.Background()

	issued, _ := RunIssue(ctx, secondFactorRequest("u1"), deps)
	req := verifyReq("u1", issued.Code)
	req.Mode = VerifyConsume

	if _, err := RunVerify(ctx, req, deps); err != nil {
		t.Fatalf("RunVerify failed: %v", err)
	}
	if store.count() != 0 {
		t.Fatal("expected consumed token deleted")
	}
}

func TestRunVerifyRejectsEmptyCode(t *testing.T) {
	deps, _ := newTestDeps(newMemStore(), &testClock{now: time.Now()})
	if _, err := RunVerify(context.Background(), verifyReq("u1", ""), deps); !errors.Is(err, errInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
}

func TestRunVerifyEmitsMetricsAndAudit(t *testing.T) {
	store := newMemStore()
	deps, _ := newTestDeps(store, &testClock{now: time.Now()})
	deps.Metrics = TokenMetrics{Issued: 1, Verified: 2, Failure: 3}
	deps.Events = TokenEvents{Issue: "issue", Verify: "verify"}

	counts := map[int]int{}
	var events []string
	deps.MetricInc = func(id int) { counts[id]++ }
	deps.EmitAudit = func(_ context.Context, event string, success bool, _ string, _ error, _ func() map[string]string) {
		events = append(events, event+":"+strconv.FormatBool(success))
	}

	ctx := context.Background()
	issued, _ := RunIssue(ctx, secondFactorRequest("u1"), deps)
	_, _ = RunVerify(ctx, verifyReq("u1", "000000"), deps)
	_, _ = RunVerify(ctx, verifyReq("u1", issued.Code), deps)

	if counts[1] != 1 || counts[2] != 1 || counts[3] != 1 {
		t.Fatalf("unexpected metric counts: %v", counts)
	}
	want := []string{"issue:true", "verify:false", "verify:true"}
	if len(events) != len(want) {
		t.Fatalf("unexpected events: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: want %s, got %s", i, want[i], events[i])
		}
	}
}
