package audit

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	accountdomain "credential-lifecycle/internal/account/domain"
	"credential-lifecycle/internal/apperr"
	"credential-lifecycle/internal/audit/domain"
	"credential-lifecycle/internal/audit/repository"
	"credential-lifecycle/internal/security"
	"credential-lifecycle/internal/store/memory"
	"credential-lifecycle/internal/telemetry"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	auditor *Auditor
	hasher  *security.Hasher
	account *accountdomain.Account
	events  *telemetry.Recorder
	now     time.Time
}

func newFixture(t *testing.T, repo Repo) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), hasher: security.NewHasher(bcrypt.MinCost), events: telemetry.NewRecorder(), now: t0}
	birth := time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC)
	f.account = &accountdomain.Account{
		PublicID: "pub-1", Email: "a@x.com", Phone: "+15550001111", PasswordHash: "old",
		Name: "Ann", BirthDate: &birth, EmailVerified: true,
	}
	if err := f.store.Accounts().Create(context.Background(), f.account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if repo == nil {
		repo = f.store.Audits()
	}
	f.auditor = NewAuditor(repo, f.hasher, DefaultConfig(), f.events, nil).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) reload(t *testing.T) *accountdomain.Account {
	t.Helper()
	a, err := f.store.Accounts().GetByID(context.Background(), f.account.ID)
	if err != nil || a == nil {
		t.Fatalf("reload account: %v", err)
	}
	return a
}

func TestChangePassword_FirstChange(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.auditor.ChangePassword(ctx, f.account, "new-secret", "fp-1", domain.ActionReset); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if !f.hasher.Verify("new-secret", f.reload(t).PasswordHash) {
		t.Error("password hash not updated")
	}
	rec, _ := f.store.Audits().Latest(ctx, f.account.ID)
	if rec == nil {
		t.Fatal("audit record missing")
	}
	if rec.ChangeCount != 1 || rec.Action != domain.ActionReset || rec.DeviceFingerprint != "fp-1" {
		t.Errorf("record = %+v", rec)
	}
	if !rec.PeriodEnd.Equal(t0.Add(48 * time.Hour)) {
		t.Errorf("PeriodEnd = %v, want %v", rec.PeriodEnd, t0.Add(48*time.Hour))
	}
	if rec.Email != "a@x.com" || rec.Phone != "+15550001111" || rec.Name != "Ann" || rec.BirthDate == nil || !rec.EmailVerified {
		t.Errorf("snapshot = %+v", rec.Snapshot)
	}
	events := f.events.WaitFor(1, time.Second)
	if len(events) != 1 || events[0].Type != telemetry.EventPasswordChanged || events[0].Attributes["change_count"] != "1" {
		t.Errorf("events = %+v", events)
	}
}

func TestChangePassword_ResetCooldown(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.auditor.ChangePassword(ctx, f.account, "one", "fp-1", domain.ActionReset); err != nil {
		t.Fatalf("first reset: %v", err)
	}

	f.now = t0.Add(23 * time.Hour)
	err := f.auditor.ChangePassword(ctx, f.reload(t), "two", "fp-1", domain.ActionReset)
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindValidation || e.Message != "Password can only be reset once every 24 hours" {
		t.Fatalf("second reset = %v, want cooldown error", err)
	}
	if !f.hasher.Verify("one", f.reload(t).PasswordHash) {
		t.Error("rejected change must leave the password unchanged")
	}

	f.now = t0.Add(24 * time.Hour)
	if err := f.auditor.ChangePassword(ctx, f.reload(t), "two", "fp-1", domain.ActionReset); err != nil {
		t.Fatalf("reset after cooldown: %v", err)
	}
	rec, _ := f.store.Audits().Latest(ctx, f.account.ID)
	if rec.ChangeCount != 2 {
		t.Errorf("change_count = %d, want 2", rec.ChangeCount)
	}
}

func TestChangePassword_ForgotGuard(t *testing.T) {
	tests := []struct {
		name      string
		periodEnd time.Duration // relative to now
		wantErr   bool
	}{
		{"period end one day away", 24 * time.Hour, true},
		{"period end just ahead", time.Minute, true},
		{"period end passed", -time.Minute, false},
		{"period end exactly now", 0, false},
		{"period end beyond guard", 72 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			f.now = t0.Add(10 * 24 * time.Hour)
			seed := &domain.PasswordAudit{
				Action: domain.ActionForgotPassword, ChangeCount: 1,
				ChangedAt: t0, PeriodEnd: f.now.Add(tt.periodEnd),
			}
			if err := f.store.Audits().ChangePassword(ctx, f.account.ID, "old", seed); err != nil {
				t.Fatalf("seed: %v", err)
			}

			err := f.auditor.ChangePassword(ctx, f.reload(t), "new", "fp-1", domain.ActionForgotPassword)
			if tt.wantErr {
				if e, ok := apperr.As(err); !ok || e.Message != MsgChangeLimit {
					t.Fatalf("err = %v, want %q", err, MsgChangeLimit)
				}
				return
			}
			if err != nil {
				t.Fatalf("ChangePassword: %v", err)
			}
			rec, _ := f.store.Audits().Latest(ctx, f.account.ID)
			if rec.ChangeCount != 2 {
				t.Errorf("change_count = %d, want 2", rec.ChangeCount)
			}
		})
	}
}

// conflictRepo loses every insert to a concurrent change.
type conflictRepo struct{ *memory.Audits }

func (conflictRepo) ChangePassword(context.Context, int64, string, *domain.PasswordAudit) error {
	return repository.ErrChangeConflict
}

func TestChangePassword_ConcurrentChange(t *testing.T) {
	repo := &conflictRepo{}
	f := newFixture(t, repo)
	repo.Audits = f.store.Audits()

	err := f.auditor.ChangePassword(context.Background(), f.account, "new", "fp-1", domain.ActionReset)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}
