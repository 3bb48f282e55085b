// Command goverify-loadtest drives full login-code journeys through an
// Engine backed by Redis and reports per-step latency.
//
// Each journey requests a login code, verifies it, then mints a session with
// the verified code as the secret. Seeded customers have a verified email and
// no second factor, so the login code is an accepted proof.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type step int

const (
	stepRequest step = iota
	stepVerify
	stepSession
	stepCount
)

var stepNames = [stepCount]string{"request", "verify", "session"}

func main() {
	var (
		customers   = flag.Int("customers", 10000, "number of customers to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		journeys    = flag.Int("journeys", 50000, "login journeys to run")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *customers <= 0 || *concurrency <= 0 || *journeys <= 0 {
		fmt.Fprintln(os.Stderr, "customers, concurrency, and journeys must be > 0")
		os.Exit(2)
	}

	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	users := newMemUsers()
	emails := make([]string, *customers)
	for i := range emails {
		emails[i] = "customer-" + strconv.Itoa(i) + "@loadtest.local"
		users.seed(emails[i])
	}

	outbox := newOutbox()
	engine, err := goVerify.New().
		WithConfig(loadConfig()).
		WithRedis(client).
		WithUserStore(users).
		WithNotifier(outbox).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("running %d journeys over %d customers with %d workers\n", *journeys, *customers, *concurrency)
	res := run(context.Background(), engine, outbox, emails, *journeys, *concurrency)

	fmt.Println("---- results ----")
	fmt.Printf("journeys=%d failures=%d total=%s journeys/sec=%.0f\n",
		res.journeys, res.failures, res.total.Round(time.Millisecond),
		float64(res.journeys)/res.total.Seconds())
	for s := step(0); s < stepCount; s++ {
		lat := res.latency[s]
		fmt.Printf("%-8s p50=%s p95=%s p99=%s\n", stepNames[s],
			percentile(lat, 50), percentile(lat, 95), percentile(lat, 99))
	}
	snap := engine.MetricsSnapshot()
	fmt.Printf("sessions=%d rate_limited=%d\n",
		snap.Counters[goVerify.MetricSessionCreated], snap.Counters[goVerify.MetricRateLimitHit])
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// loadConfig lifts the per-email budgets so the journeys measure the
// verification path, not the limiter.
func loadConfig() goVerify.Config {
	cfg := goVerify.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("loadtest-session-secret-0123456789")
	cfg.RateLimits.LoginOTPRequest.MaxAttempts = 1 << 30
	cfg.RateLimits.Authorize.MaxAttempts = 1 << 30
	cfg.Password.Scheme = "bcrypt"
	cfg.Password.BcryptCost = 4
	return cfg
}

type result struct {
	journeys int
	failures int64
	total    time.Duration
	latency  [stepCount][]time.Duration
}

func run(ctx context.Context, engine *goVerify.Engine, outbox *outbox, emails []string, journeys, concurrency int) result {
	// One lock per customer: a second request would replace the code a
	// concurrent verify is about to submit.
	locks := make([]sync.Mutex, len(emails))

	var (
		wg       sync.WaitGroup
		next     atomic.Int64
		failures atomic.Int64
		mu       sync.Mutex
		res      result
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			var local [stepCount][]time.Duration
			for next.Add(1) <= int64(journeys) {
				i := r.Intn(len(emails))
				locks[i].Lock()
				took, err := journey(ctx, engine, outbox, emails[i])
				locks[i].Unlock()
				if err != nil {
					failures.Add(1)
					continue
				}
				for s := range took {
					local[s] = append(local[s], took[s])
				}
			}
			mu.Lock()
			for s := range local {
				res.latency[s] = append(res.latency[s], local[s]...)
			}
			mu.Unlock()
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()

	res.total = time.Since(start)
	res.journeys = journeys
	res.failures = failures.Load()
	for s := range res.latency {
		slices.Sort(res.latency[s])
	}
	return res
}

func journey(ctx context.Context, engine *goVerify.Engine, outbox *outbox, email string) ([stepCount]time.Duration, error) {
	var took [stepCount]time.Duration

	t0 := time.Now()
	if _, err := engine.RequestLoginOTP(ctx, email); err != nil {
		return took, err
	}
	took[stepRequest] = time.Since(t0)

	code := outbox.take(email)
	t0 = time.Now()
	if _, err := engine.VerifyLoginOTP(ctx, email, code); err != nil {
		return took, err
	}
	took[stepVerify] = time.Since(t0)

	t0 = time.Now()
	if _, err := engine.Login(ctx, email, code); err != nil {
		return took, err
	}
	took[stepSession] = time.Since(t0)
	return took, nil
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) - 1) * p / 100
	return sorted[idx].Round(time.Microsecond)
}

// outbox keeps the last code mailed to each address.
type outbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func newOutbox() *outbox {
	return &outbox{codes: make(map[string]string)}
}

func (o *outbox) Notify(_ context.Context, n goVerify.Notification) error {
	o.mu.Lock()
	o.codes[n.Recipient] = n.Code
	o.mu.Unlock()
	return nil
}

func (o *outbox) take(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	code := o.codes[email]
	delete(o.codes, email)
	return code
}

// memUsers is a process-local user table for the load run.
type memUsers struct {
	mu      sync.RWMutex
	byID    map[string]goVerify.User
	byEmail map[string]string
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]goVerify.User{}, byEmail: map[string]string{}}
}

func (m *memUsers) seed(email string) {
	now := time.Now()
	u := goVerify.User{
		ID:              uuid.NewString(),
		Email:           email,
		EmailVerified:   true,
		EmailVerifiedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.byID[u.ID] = u
	m.byEmail[email] = u.ID
}

func (m *memUsers) GetUserByID(_ context.Context, id string) (goVerify.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return goVerify.User{}, goVerify.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) GetUserByEmail(ctx context.Context, email string) (goVerify.User, error) {
	m.mu.RLock()
	id, ok := m.byEmail[email]
	m.mu.RUnlock()
	if !ok {
		return goVerify.User{}, goVerify.ErrUserNotFound
	}
	return m.GetUserByID(ctx, id)
}

func (m *memUsers) CreateUser(_ context.Context, in goVerify.CreateUserInput) (goVerify.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[in.Email]; ok {
		return goVerify.User{}, goVerify.ErrUserExists
	}
	now := time.Now()
	u := goVerify.User{ID: uuid.NewString(), Email: in.Email, Name: in.Name, PasswordHash: in.PasswordHash, CreatedAt: now, UpdatedAt: now}
	m.byID[u.ID] = u
	m.byEmail[in.Email] = u.ID
	return u, nil
}

func (m *memUsers) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	return m.update(id, func(u *goVerify.User) {
		u.EmailVerified = true
		u.EmailVerifiedAt = &at
	})
}

func (m *memUsers) SetSecondFactor(_ context.Context, id string, enabled bool) error {
	return m.update(id, func(u *goVerify.User) { u.SecondFactorEnabled = enabled })
}

func (m *memUsers) update(id string, fn func(*goVerify.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return goVerify.ErrUserNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now()
	m.byID[id] = u
	return nil
}
