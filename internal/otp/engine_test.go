package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	accountdomain "credential-lifecycle/internal/account/domain"
	"credential-lifecycle/internal/apperr"
	"credential-lifecycle/internal/blocking"
	devicedomain "credential-lifecycle/internal/device/domain"
	"credential-lifecycle/internal/otp/domain"
	"credential-lifecycle/internal/store/memory"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (s *fakeSender) SendCode(_ context.Context, target domain.Target, code string) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[target.Address] = code
	return nil
}

type fixture struct {
	store  *memory.Store
	engine *Engine
	sender *fakeSender
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), sender: &fakeSender{}, now: t0}
	clock := func() time.Time { return f.now }
	policy := blocking.NewPolicy(f.store.Accounts(), f.store.Devices(), f.store.Challenges(), blocking.DefaultConfig(), nil, nil).
		WithClock(clock)
	f.engine = NewEngine(f.store.Challenges(), policy, f.sender, DefaultConfig(), nil).
		WithClock(clock).
		WithRand(func(int) int { return 23456 })
	return f
}

func TestIssue_GeneratesSixDigitCode(t *testing.T) {
	f := newFixture(t)
	f.engine.WithRand(func(n int) int {
		if n != 900000 {
			t.Fatalf("draw span = %d, want 900000", n)
		}
		return 0
	})
	code, err := f.engine.Issue(context.Background(), domain.EmailTarget("user@example.com"), domain.ActionRegister, "fp-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if code != "100000" {
		t.Errorf("code = %q, want 100000", code)
	}
	if f.sender.codes["user@example.com"] != code {
		t.Errorf("delivered code = %q, want %q", f.sender.codes["user@example.com"], code)
	}
	c, _ := f.store.Challenges().Latest(context.Background(), domain.EmailTarget("user@example.com"))
	if c == nil || c.Status != domain.StatusPending || !c.ExpiresAt.Equal(t0.Add(5*time.Minute)) {
		t.Fatalf("stored challenge = %+v", c)
	}
}

func TestIssue_RealDrawInRange(t *testing.T) {
	f := newFixture(t)
	f.engine.WithRand(NewEngine(nil, nil, nil, DefaultConfig(), nil).intn)
	code, err := f.engine.Issue(context.Background(), domain.PhoneTarget("+15550001111"), domain.ActionLogin, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(code) != 6 || code < "100000" || code > "999999" {
		t.Errorf("code = %q, want six digits in [100000, 999999]", code)
	}
}

func TestIssue_RejectsWhilePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := domain.EmailTarget("a@x.com")
	if _, err := f.engine.Issue(ctx, target, domain.ActionLogin, "fp-1"); err != nil {
		t.Fatalf("first Issue: %v", err)
	}
	_, err := f.engine.Issue(ctx, target, domain.ActionLogin, "fp-1")
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("second Issue = %v, want conflict", err)
	}
	// same device, different target: still pending for the device
	_, err = f.engine.Issue(ctx, domain.EmailTarget("b@x.com"), domain.ActionLogin, "fp-1")
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("Issue for device with pending code = %v, want conflict", err)
	}

	f.now = t0.Add(5 * time.Minute)
	if _, err := f.engine.Issue(ctx, target, domain.ActionLogin, "fp-1"); err != nil {
		t.Fatalf("Issue after expiry: %v", err)
	}
}

func TestIssue_InvalidTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Issue(context.Background(), domain.Target{Channel: "fax", Address: "1"}, domain.ActionLogin, "")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("Issue = %v, want validation", err)
	}
}

func TestIssue_DeliveryFailureKeepsChallenge(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("smtp down")
	target := domain.EmailTarget("a@x.com")

	_, err := f.engine.Issue(context.Background(), target, domain.ActionLogin, "")
	if !apperr.Is(err, apperr.KindDelivery) {
		t.Fatalf("Issue = %v, want delivery failure", err)
	}
	c, _ := f.store.Challenges().Latest(context.Background(), target)
	if c == nil || c.Status != domain.StatusPending {
		t.Fatalf("challenge should be persisted before delivery, got %+v", c)
	}
}

func TestIssue_RateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := domain.EmailTarget("a@x.com")
	for i := 0; i < 5; i++ {
		if _, err := f.engine.Issue(ctx, target, domain.ActionLogin, "fp-1"); err != nil {
			t.Fatalf("issue %d: %v", i+1, err)
		}
		f.now = f.now.Add(5 * time.Minute)
	}
	_, err := f.engine.Issue(ctx, target, domain.ActionLogin, "fp-1")
	if !apperr.Is(err, apperr.KindRateLimited) {
		t.Fatalf("sixth issue = %v, want rate limited", err)
	}
}

func TestVerify_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := domain.EmailTarget("a@x.com")
	code, _ := f.engine.Issue(ctx, target, domain.ActionLogin, "fp-1")

	if err := f.engine.Verify(ctx, target, domain.ActionLogin, code, "fp-1"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	// a verified challenge is consumed
	err := f.engine.Verify(ctx, target, domain.ActionLogin, code, "fp-1")
	if e, ok := apperr.As(err); !ok || e.Message != MsgNotFound {
		t.Fatalf("second Verify = %v, want %q", err, MsgNotFound)
	}
}

func TestVerify_WrongAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := domain.EmailTarget("a@x.com")
	code, _ := f.engine.Issue(ctx, target, domain.ActionLogin, "fp-1")

	err := f.engine.Verify(ctx, target, domain.ActionForgotPassword, code, "fp-1")
	if e, ok := apperr.As(err); !ok || e.Message != MsgNotFound {
		t.Fatalf("Verify = %v, want %q", err, MsgNotFound)
	}
}

func TestVerify_NotFound(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Verify(context.Background(), domain.EmailTarget("a@x.com"), domain.ActionLogin, "123456", "")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("Verify = %v, want validation", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := domain.EmailTarget("a@x.com")
	code, _ := f.engine.Issue(ctx, target, domain.ActionLogin, "")

	f.now = t0.Add(5 * time.Minute)
	err := f.engine.Verify(ctx, target, domain.ActionLogin, code, "")
	if e, ok := apperr.As(err); !ok || e.Message != MsgExpired {
		t.Fatalf("Verify = %v, want %q", err, MsgExpired)
	}
	c, _ := f.store.Challenges().Latest(ctx, target)
	if c.Status != domain.StatusExpired {
		t.Errorf("status = %s, want expired", c.Status)
	}
	err = f.engine.Verify(ctx, target, domain.ActionLogin, code, "")
	if e, ok := apperr.As(err); !ok || e.Message != MsgExpired {
		t.Fatalf("Verify on expired challenge = %v", err)
	}
}

func TestVerify_MaxAttemptsBlocksAndEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := &accountdomain.Account{PublicID: "pub-1", Email: "user@example.com", PasswordHash: "h"}
	if err := f.store.Accounts().Create(ctx, acct); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := f.store.Devices().Create(ctx, &devicedomain.Device{Fingerprint: "fp-1"}); err != nil {
		t.Fatalf("create device: %v", err)
	}
	target := domain.EmailTarget("user@example.com")
	code, err := f.engine.Issue(ctx, target, domain.ActionRegister, "fp-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for i := 1; i <= 5; i++ {
		err := f.engine.Verify(ctx, target, domain.ActionRegister, "000000", "fp-1")
		e, ok := apperr.As(err)
		if !ok || e.Kind != apperr.KindValidation {
			t.Fatalf("attempt %d = %v", i, err)
		}
		if e.RemainingAttempts != 5-i {
			t.Errorf("attempt %d remaining = %d, want %d", i, e.RemainingAttempts, 5-i)
		}
	}

	err = f.engine.Verify(ctx, target, domain.ActionRegister, code, "fp-1")
	if e, ok := apperr.As(err); !ok || e.Message != MsgMaxAttempts {
		t.Fatalf("sixth attempt with correct code = %v, want %q", err, MsgMaxAttempts)
	}
	c, _ := f.store.Challenges().Latest(ctx, target)
	if c.Status != domain.StatusBlocked || c.Attempts != 5 {
		t.Errorf("challenge = %s/%d, want blocked/5", c.Status, c.Attempts)
	}

	dev, _ := f.store.Devices().GetByFingerprint(ctx, "fp-1")
	gotAcct, _ := f.store.Accounts().GetByEmail(ctx, "user@example.com")
	wantUntil := t0.Add(time.Hour)
	if dev.BlockedUntil == nil || !dev.BlockedUntil.Equal(wantUntil) {
		t.Errorf("device blocked until %v, want %v", dev.BlockedUntil, wantUntil)
	}
	if gotAcct.BlockedUntil == nil || !gotAcct.BlockedUntil.Equal(wantUntil) {
		t.Errorf("account blocked until %v, want %v", gotAcct.BlockedUntil, wantUntil)
	}

	err = f.engine.Verify(ctx, target, domain.ActionRegister, code, "fp-1")
	if !apperr.Is(err, apperr.KindBlocked) {
		t.Fatalf("Verify while blocked = %v, want blocked", err)
	}
}

func TestVerify_AttemptsNeverDecrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := domain.PhoneTarget("+15550001111")
	code, _ := f.engine.Issue(ctx, target, domain.ActionLogin, "")

	last := 0
	for i := 0; i < 3; i++ {
		_ = f.engine.Verify(ctx, target, domain.ActionLogin, "999999", "")
		c, _ := f.store.Challenges().Latest(ctx, target)
		if c.Attempts < last {
			t.Fatalf("attempts decreased: %d -> %d", last, c.Attempts)
		}
		last = c.Attempts
	}
	if err := f.engine.Verify(ctx, target, domain.ActionLogin, code, ""); err != nil {
		t.Fatalf("correct code after misses: %v", err)
	}
	c, _ := f.store.Challenges().Latest(ctx, target)
	if c.Attempts != 4 {
		t.Errorf("attempts = %d, want 4 (the successful comparison counts)", c.Attempts)
	}
}

// gatedChallenges holds every Latest caller until n of them have read, so
// all verifies work from the same pending snapshot.
type gatedChallenges struct {
	*memory.Challenges
	gate sync.WaitGroup
}

func (g *gatedChallenges) Latest(ctx context.Context, target domain.Target) (*domain.Challenge, error) {
	c, err := g.Challenges.Latest(ctx, target)
	g.gate.Done()
	g.gate.Wait()
	return c, err
}

func TestVerify_ConcurrentGuessesRespectAttemptCap(t *testing.T) {
	const callers = 20
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.Devices().Create(ctx, &devicedomain.Device{Fingerprint: "fp-1"}); err != nil {
		t.Fatalf("create device: %v", err)
	}
	target := domain.EmailTarget("user@example.com")
	code, err := f.engine.Issue(ctx, target, domain.ActionLogin, "fp-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	gated := &gatedChallenges{Challenges: f.store.Challenges()}
	gated.gate.Add(callers)
	clock := func() time.Time { return f.now }
	policy := blocking.NewPolicy(f.store.Accounts(), f.store.Devices(), f.store.Challenges(), blocking.DefaultConfig(), nil, nil).
		WithClock(clock)
	engine := NewEngine(gated, policy, f.sender, DefaultConfig(), nil).WithClock(clock)

	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		guess := "000000"
		if i == callers-1 {
			guess = code
		}
		wg.Add(1)
		go func(i int, guess string) {
			defer wg.Done()
			errs[i] = engine.Verify(ctx, target, domain.ActionLogin, guess, "fp-1")
		}(i, guess)
	}
	wg.Wait()

	compared, succeeded := 0, 0
	for i, err := range errs {
		if err == nil {
			succeeded++
			compared++
			continue
		}
		e, ok := apperr.As(err)
		if !ok || e.Kind != apperr.KindValidation {
			t.Fatalf("caller %d = %v, want validation", i, err)
		}
		switch e.Message {
		case MsgMaxAttempts, MsgNotFound:
		default:
			if e.RemainingAttempts < 0 {
				t.Errorf("caller %d remaining = %d", i, e.RemainingAttempts)
			}
			compared++
		}
	}
	if compared > 5 {
		t.Fatalf("%d codes compared, want at most 5", compared)
	}

	c, _ := f.store.Challenges().Latest(ctx, target)
	if c.Attempts > 5 {
		t.Errorf("attempts = %d, want at most 5", c.Attempts)
	}
	dev, _ := f.store.Devices().GetByFingerprint(ctx, "fp-1")
	switch succeeded {
	case 0:
		if c.Status != domain.StatusBlocked || c.Attempts != 5 {
			t.Errorf("challenge = %s/%d, want blocked/5", c.Status, c.Attempts)
		}
		if dev.BlockCount != 1 {
			t.Errorf("device block count = %d, want one escalation", dev.BlockCount)
		}
	case 1:
		if c.Status != domain.StatusVerified {
			t.Errorf("status = %s, want verified", c.Status)
		}
		if dev.BlockCount != 0 {
			t.Errorf("device block count = %d, want 0", dev.BlockCount)
		}
	default:
		t.Fatalf("%d verifies succeeded", succeeded)
	}
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.engine.Issue(ctx, domain.EmailTarget("a@x.com"), domain.ActionLogin, "")
	_, _ = f.engine.Issue(ctx, domain.EmailTarget("b@x.com"), domain.ActionLogin, "")

	f.now = t0.Add(10 * time.Minute)
	n, err := f.engine.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if n != 2 {
		t.Errorf("expired = %d, want 2", n)
	}
}
