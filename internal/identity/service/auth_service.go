package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	accountdomain "credential-lifecycle/internal/account/domain"
	accountrepo "credential-lifecycle/internal/account/repository"
	"credential-lifecycle/internal/apperr"
	auditdomain "credential-lifecycle/internal/audit/domain"
	devicedomain "credential-lifecycle/internal/device/domain"
	"credential-lifecycle/internal/logger"
	otpdomain "credential-lifecycle/internal/otp/domain"
	"credential-lifecycle/internal/security"
)

// User-facing messages of the auth flows.
const (
	MsgUserExists          = "User already exists"
	MsgPhoneTaken          = "Phone number already registered"
	MsgInvalidLogin        = "Invalid email or password"
	MsgInvalidCredentials  = "Invalid credentials"
	MsgIncorrectOldPass    = "Old password is incorrect"
	MsgEmailRequired       = "Email is required"
	MsgInvalidEmail        = "Invalid email format"
	MsgEmailOrPhone        = "Email or phone is required"
	MsgFingerprintRequired = "Device fingerprint is required"
	MsgCodeRequired        = "OTP code is required"
	MsgPasswordTooShort    = "Password must be at least 8 characters long"

	msgRegisterFailed = "Please register later"
	msgLoginFailed    = "Login failed, please try again"
	msgSendFailed     = "Failed to send OTP, please try again"
	msgResetFailed    = "Failed to reset password"
	msgRefreshFailed  = "Invalid refresh token"
	msgLogoutFailed   = "Failed to logout"
)

const minPasswordLen = 8

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var tracer = otel.Tracer("credential-lifecycle/identity")

// AccountRepo is the account persistence the auth flows need.
type AccountRepo interface {
	GetByPublicID(ctx context.Context, publicID string) (*accountdomain.Account, error)
	GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error)
	GetByPhone(ctx context.Context, phone string) (*accountdomain.Account, error)
	Create(ctx context.Context, a *accountdomain.Account) error
}

// OTPEngine issues and verifies one-time codes.
type OTPEngine interface {
	Issue(ctx context.Context, target otpdomain.Target, action otpdomain.Action, fingerprint string) (string, error)
	Verify(ctx context.Context, target otpdomain.Target, action otpdomain.Action, code, fingerprint string) error
}

// DeviceBinder links devices to accounts.
type DeviceBinder interface {
	BindForRegisterOrLogin(ctx context.Context, accountID int64, fingerprint, name string) (*devicedomain.Device, error)
}

// TokenIssuer issues, validates and revokes access and refresh tokens.
type TokenIssuer interface {
	IssueAccessToken(publicID, fingerprint string) (string, time.Time, error)
	ValidateAccessToken(token string) (publicID, fingerprint string, err error)
	IssueRefreshToken(ctx context.Context, publicID, fingerprint string) (string, error)
	VerifyAndConsume(ctx context.Context, secret, fingerprint string) (*accountdomain.Account, error)
	RevokeForLogout(ctx context.Context, publicID, fingerprint string) error
}

// PasswordChanger applies audited password changes.
type PasswordChanger interface {
	ChangePassword(ctx context.Context, acct *accountdomain.Account, newPassword, fingerprint string, action auditdomain.Action) error
}

// AuthResult is returned by the flows that identify or sign in an account.
// Token fields are empty for registration; RefreshToken is empty on refresh.
type AuthResult struct {
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Principal is the identity and device context of a validated access token.
type Principal struct {
	AccountID         string
	DeviceFingerprint string
}

// OTPRequest starts a register or login flow.
type OTPRequest struct {
	Email             string
	DeviceFingerprint string
}

// RegisterRequest completes registration.
type RegisterRequest struct {
	Email             string
	Phone             string
	Password          string
	Name              string
	BirthDate         *time.Time
	DeviceFingerprint string
	DeviceName        string
	Code              string
}

// LoginRequest completes a login.
type LoginRequest struct {
	Email             string
	Password          string
	DeviceFingerprint string
	DeviceName        string
	Code              string
}

// ForgotPasswordRequest starts a forgot-password flow. Email wins over Phone.
type ForgotPasswordRequest struct {
	Email             string
	Phone             string
	DeviceFingerprint string
}

// ForgotPasswordResetRequest completes a forgot-password flow.
type ForgotPasswordResetRequest struct {
	Email             string
	Phone             string
	Code              string
	NewPassword       string
	DeviceFingerprint string
}

// RefreshRequest exchanges a refresh token for a new access token.
type RefreshRequest struct {
	RefreshToken      string
	DeviceFingerprint string
}

// ResetPasswordRequest changes the password of a signed-in account.
type ResetPasswordRequest struct {
	OldPassword string
	NewPassword string
}

// AuthService runs the OTP backed register, login and password flows.
// Every error it returns is an *apperr.Error.
type AuthService struct {
	accounts AccountRepo
	otp      OTPEngine
	devices  DeviceBinder
	tokens   TokenIssuer
	auditor  PasswordChanger
	hasher   security.PasswordHasher
	log      *zap.Logger
	now      func() time.Time
	outcomes metric.Int64Counter
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	accounts AccountRepo,
	otp OTPEngine,
	devices DeviceBinder,
	tokens TokenIssuer,
	auditor PasswordChanger,
	hasher security.PasswordHasher,
	log *zap.Logger,
) *AuthService {
	log = logger.OrNop(log)
	outcomes, err := otel.Meter("credential-lifecycle/identity").Int64Counter("auth.flow.outcomes",
		metric.WithDescription("Auth flow results by flow and error kind"))
	if err != nil {
		log.Warn("auth outcome counter unavailable", zap.Error(err))
	}
	return &AuthService{
		accounts: accounts,
		otp:      otp,
		devices:  devices,
		tokens:   tokens,
		auditor:  auditor,
		hasher:   hasher,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		outcomes: outcomes,
	}
}

// WithClock replaces the service's clock. For tests.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// run executes one flow inside a span. *apperr.Error values pass through;
// anything else is logged and replaced by an Internal error carrying fallback.
func (s *AuthService) run(ctx context.Context, flow, fallback string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "auth."+flow)
	defer span.End()

	err := fn(ctx)
	kind := "ok"
	if err != nil {
		if _, ok := apperr.As(err); !ok {
			s.log.Error("auth flow failed", zap.String("flow", flow), zap.Error(err))
			err = apperr.Internal(fallback, err)
		}
		kind = string(apperr.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
	}
	span.SetAttributes(attribute.String("auth.outcome", kind))
	if s.outcomes != nil {
		s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", flow), attribute.String("kind", kind)))
	}
	return err
}

// SendRegisterOTP sends a registration code to an email that is not yet registered.
func (s *AuthService) SendRegisterOTP(ctx context.Context, req OTPRequest) error {
	return s.run(ctx, "SendRegisterOTP", msgSendFailed, func(ctx context.Context) error {
		email, err := validEmail(req.Email)
		if err != nil {
			return err
		}
		existing, err := s.accounts.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Conflict(MsgUserExists)
		}
		_, err = s.otp.Issue(ctx, otpdomain.EmailTarget(email), otpdomain.ActionRegister, strings.TrimSpace(req.DeviceFingerprint))
		return err
	})
}

// VerifyAndRegister verifies the registration code, creates the account with
// its email marked verified and binds the device.
func (s *AuthService) VerifyAndRegister(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	var res *AuthResult
	err := s.run(ctx, "VerifyAndRegister", msgRegisterFailed, func(ctx context.Context) error {
		email, err := validEmail(req.Email)
		if err != nil {
			return err
		}
		fp := strings.TrimSpace(req.DeviceFingerprint)
		phone := strings.TrimSpace(req.Phone)
		if err := requireFields(fp, req.Code); err != nil {
			return err
		}
		if len(req.Password) < minPasswordLen {
			return apperr.Validation(MsgPasswordTooShort)
		}
		if err := s.otp.Verify(ctx, otpdomain.EmailTarget(email), otpdomain.ActionRegister, req.Code, fp); err != nil {
			return err
		}

		if existing, err := s.accounts.GetByEmail(ctx, email); err != nil {
			return err
		} else if existing != nil {
			return apperr.Conflict(MsgUserExists)
		}
		if phone != "" {
			if existing, err := s.accounts.GetByPhone(ctx, phone); err != nil {
				return err
			} else if existing != nil {
				return apperr.Conflict(MsgPhoneTaken)
			}
		}

		hash, err := s.hasher.Hash(req.Password)
		if err != nil {
			return err
		}
		now := s.now()
		acct := &accountdomain.Account{
			PublicID:      uuid.New().String(),
			Email:         email,
			Phone:         phone,
			PasswordHash:  hash,
			Name:          strings.TrimSpace(req.Name),
			BirthDate:     req.BirthDate,
			EmailVerified: true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.accounts.Create(ctx, acct); err != nil {
			switch {
			case errors.Is(err, accountrepo.ErrEmailTaken):
				return apperr.Conflict(MsgUserExists)
			case errors.Is(err, accountrepo.ErrPhoneTaken):
				return apperr.Conflict(MsgPhoneTaken)
			}
			return err
		}
		if _, err := s.devices.BindForRegisterOrLogin(ctx, acct.ID, fp, req.DeviceName); err != nil {
			return err
		}
		s.log.Info("account registered", zap.String("account", acct.PublicID), zap.String("email", logger.MaskEmail(email)))
		res = &AuthResult{AccountID: acct.PublicID}
		return nil
	})
	return res, err
}

// SendLoginOTP sends a login code to a registered email.
func (s *AuthService) SendLoginOTP(ctx context.Context, req OTPRequest) error {
	return s.run(ctx, "SendLoginOTP", msgSendFailed, func(ctx context.Context) error {
		email, err := validEmail(req.Email)
		if err != nil {
			return err
		}
		acct, err := s.accounts.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if acct == nil {
			return apperr.InvalidCredentials(MsgInvalidLogin)
		}
		_, err = s.otp.Issue(ctx, otpdomain.EmailTarget(email), otpdomain.ActionLogin, strings.TrimSpace(req.DeviceFingerprint))
		return err
	})
}

// VerifyAndLogin verifies the login code and password, binds the device and
// issues an access token and a refresh token for it.
func (s *AuthService) VerifyAndLogin(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	var res *AuthResult
	err := s.run(ctx, "VerifyAndLogin", msgLoginFailed, func(ctx context.Context) error {
		email, err := validEmail(req.Email)
		if err != nil {
			return err
		}
		fp := strings.TrimSpace(req.DeviceFingerprint)
		if err := requireFields(fp, req.Code); err != nil {
			return err
		}
		if err := s.otp.Verify(ctx, otpdomain.EmailTarget(email), otpdomain.ActionLogin, req.Code, fp); err != nil {
			return err
		}
		acct, err := s.accounts.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if acct == nil || !s.hasher.Verify(req.Password, acct.PasswordHash) {
			return apperr.InvalidCredentials(MsgInvalidLogin)
		}
		if _, err := s.devices.BindForRegisterOrLogin(ctx, acct.ID, fp, req.DeviceName); err != nil {
			return err
		}
		access, exp, err := s.tokens.IssueAccessToken(acct.PublicID, fp)
		if err != nil {
			return err
		}
		refresh, err := s.tokens.IssueRefreshToken(ctx, acct.PublicID, fp)
		if err != nil {
			return err
		}
		res = &AuthResult{AccountID: acct.PublicID, AccessToken: access, RefreshToken: refresh, ExpiresAt: exp}
		return nil
	})
	return res, err
}

// SendForgotPasswordOTP sends a forgot-password code to the email, or the
// phone when no email is given. An unknown account gets the same answer as a
// known one and no code is sent.
func (s *AuthService) SendForgotPasswordOTP(ctx context.Context, req ForgotPasswordRequest) error {
	return s.run(ctx, "SendForgotPasswordOTP", msgSendFailed, func(ctx context.Context) error {
		target, err := forgotTarget(req.Email, req.Phone)
		if err != nil {
			return err
		}
		acct, err := s.findByTarget(ctx, target)
		if err != nil {
			return err
		}
		if acct == nil {
			s.log.Debug("forgot password for unknown account", zap.String("target", logger.MaskTarget(target.Address)))
			return nil
		}
		_, err = s.otp.Issue(ctx, target, otpdomain.ActionForgotPassword, strings.TrimSpace(req.DeviceFingerprint))
		return err
	})
}

// VerifyAndResetForgottenPassword verifies the forgot-password code and sets
// the new password under the forgot-password change rules.
func (s *AuthService) VerifyAndResetForgottenPassword(ctx context.Context, req ForgotPasswordResetRequest) error {
	return s.run(ctx, "VerifyAndResetForgottenPassword", msgResetFailed, func(ctx context.Context) error {
		target, err := forgotTarget(req.Email, req.Phone)
		if err != nil {
			return err
		}
		fp := strings.TrimSpace(req.DeviceFingerprint)
		if err := requireFields(fp, req.Code); err != nil {
			return err
		}
		if len(req.NewPassword) < minPasswordLen {
			return apperr.Validation(MsgPasswordTooShort)
		}
		if err := s.otp.Verify(ctx, target, otpdomain.ActionForgotPassword, req.Code, fp); err != nil {
			return err
		}
		acct, err := s.findByTarget(ctx, target)
		if err != nil {
			return err
		}
		if acct == nil {
			return apperr.InvalidCredentials(MsgInvalidCredentials)
		}
		return s.auditor.ChangePassword(ctx, acct, req.NewPassword, fp, auditdomain.ActionForgotPassword)
	})
}

// Refresh returns a new access token for a valid refresh token. The refresh
// token itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, req RefreshRequest) (*AuthResult, error) {
	var res *AuthResult
	err := s.run(ctx, "Refresh", msgRefreshFailed, func(ctx context.Context) error {
		fp := strings.TrimSpace(req.DeviceFingerprint)
		acct, err := s.tokens.VerifyAndConsume(ctx, req.RefreshToken, fp)
		if err != nil {
			return err
		}
		access, exp, err := s.tokens.IssueAccessToken(acct.PublicID, fp)
		if err != nil {
			return err
		}
		res = &AuthResult{AccountID: acct.PublicID, AccessToken: access, ExpiresAt: exp}
		return nil
	})
	return res, err
}

// Authenticate validates an access token and returns its principal.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	var p *Principal
	err := s.run(ctx, "Authenticate", MsgInvalidCredentials, func(context.Context) error {
		publicID, fp, err := s.tokens.ValidateAccessToken(accessToken)
		if err != nil {
			return err
		}
		p = &Principal{AccountID: publicID, DeviceFingerprint: fp}
		return nil
	})
	return p, err
}

// Logout revokes the principal's refresh token on its device.
func (s *AuthService) Logout(ctx context.Context, p Principal) error {
	return s.run(ctx, "Logout", msgLogoutFailed, func(ctx context.Context) error {
		if p.AccountID == "" || p.DeviceFingerprint == "" {
			return apperr.InvalidCredentials(MsgInvalidCredentials)
		}
		return s.tokens.RevokeForLogout(ctx, p.AccountID, p.DeviceFingerprint)
	})
}

// ResetPassword changes the principal's password after checking the old one.
func (s *AuthService) ResetPassword(ctx context.Context, p Principal, req ResetPasswordRequest) error {
	return s.run(ctx, "ResetPassword", msgResetFailed, func(ctx context.Context) error {
		if p.AccountID == "" || p.DeviceFingerprint == "" {
			return apperr.InvalidCredentials(MsgInvalidCredentials)
		}
		if len(req.NewPassword) < minPasswordLen {
			return apperr.Validation(MsgPasswordTooShort)
		}
		acct, err := s.accounts.GetByPublicID(ctx, p.AccountID)
		if err != nil {
			return err
		}
		if acct == nil {
			return apperr.InvalidCredentials(MsgInvalidCredentials)
		}
		if !s.hasher.Verify(req.OldPassword, acct.PasswordHash) {
			return apperr.Validation(MsgIncorrectOldPass)
		}
		return s.auditor.ChangePassword(ctx, acct, req.NewPassword, p.DeviceFingerprint, auditdomain.ActionReset)
	})
}

func (s *AuthService) findByTarget(ctx context.Context, t otpdomain.Target) (*accountdomain.Account, error) {
	if t.Channel == otpdomain.ChannelEmail {
		return s.accounts.GetByEmail(ctx, t.Address)
	}
	return s.accounts.GetByPhone(ctx, t.Address)
}

func validEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperr.Validation(MsgEmailRequired)
	}
	if !emailRe.MatchString(email) {
		return "", apperr.Validation(MsgInvalidEmail)
	}
	return email, nil
}

func forgotTarget(email, phone string) (otpdomain.Target, error) {
	if strings.TrimSpace(email) != "" {
		e, err := validEmail(email)
		if err != nil {
			return otpdomain.Target{}, err
		}
		return otpdomain.EmailTarget(e), nil
	}
	if strings.TrimSpace(phone) != "" {
		return otpdomain.PhoneTarget(phone), nil
	}
	return otpdomain.Target{}, apperr.Validation(MsgEmailOrPhone)
}

func requireFields(fingerprint, code string) error {
	if fingerprint == "" {
		return apperr.Validation(MsgFingerprintRequired)
	}
	if strings.TrimSpace(code) == "" {
		return apperr.Validation(MsgCodeRequired)
	}
	return nil
}
