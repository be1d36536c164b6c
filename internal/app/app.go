// Package app wires configuration into the auth services.
//
// Storage:    DATABASE_URL set → Postgres repositories, else the in-memory store
// Delivery:   NOTIFY_MODE queue → RabbitMQ, direct → Resend/SMS Local, dev → devotp store
// Events:     Kafka (KAFKA_BROKERS) and OTel log records, both best effort
package app

import (
	"context"
	"crypto"
	"errors"

	"github.com/samber/oops"
	"go.uber.org/zap"

	accountrepo "credential-lifecycle/internal/account/repository"
	"credential-lifecycle/internal/audit"
	auditrepo "credential-lifecycle/internal/audit/repository"
	"credential-lifecycle/internal/blocking"
	"credential-lifecycle/internal/config"
	"credential-lifecycle/internal/db"
	"credential-lifecycle/internal/device"
	devicerepo "credential-lifecycle/internal/device/repository"
	"credential-lifecycle/internal/devotp"
	"credential-lifecycle/internal/identity/service"
	"credential-lifecycle/internal/logger"
	"credential-lifecycle/internal/notify"
	"credential-lifecycle/internal/notify/email"
	"credential-lifecycle/internal/notify/sms"
	"credential-lifecycle/internal/otp"
	otprepo "credential-lifecycle/internal/otp/repository"
	"credential-lifecycle/internal/security"
	"credential-lifecycle/internal/store/memory"
	"credential-lifecycle/internal/telemetry"
	telemetryotel "credential-lifecycle/internal/telemetry/otel"
	"credential-lifecycle/internal/telemetry/producer"
	"credential-lifecycle/internal/token"
	tokenrepo "credential-lifecycle/internal/token/repository"
)

// Repos holds one implementation of every repository.
type Repos struct {
	Accounts   accountrepo.Repository
	Devices    devicerepo.Repository
	Challenges otprepo.Repository
	Tokens     tokenrepo.Repository
	Audits     auditrepo.Repository
}

// MemoryRepos returns Repos over a fresh in-memory store.
func MemoryRepos() Repos {
	s := memory.New()
	return Repos{
		Accounts:   s.Accounts(),
		Devices:    s.Devices(),
		Challenges: s.Challenges(),
		Tokens:     s.Tokens(),
		Audits:     s.Audits(),
	}
}

// PostgresRepos returns Repos over pool.
func PostgresRepos(pool db.Pool) Repos {
	return Repos{
		Accounts:   accountrepo.NewPostgresRepository(pool),
		Devices:    devicerepo.NewPostgresRepository(pool),
		Challenges: otprepo.NewPostgresRepository(pool),
		Tokens:     tokenrepo.NewPostgresRepository(pool),
		Audits:     auditrepo.NewPostgresRepository(pool),
	}
}

// App is the wired service graph.
type App struct {
	Auth    *service.AuthService
	OTP     *otp.Engine
	Policy  *blocking.Policy
	Tokens  *token.Service
	Repos   Repos
	Hasher  *security.Hasher
	Emitter telemetry.EventEmitter
	// DevOTP is set only in dev notify mode.
	DevOTP devotp.Store
	// AMQP is set only in queue notify mode. Consumers share it with the publisher.
	AMQP *notify.AMQPClient

	closers []func(context.Context) error
	log     *zap.Logger
}

// Build connects every backing service named by cfg and returns the wired App.
// On error, resources opened so far are released.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	log = logger.OrNop(log)
	a := &App{log: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.OTELServiceName, cfg.OTLPInsecure)
	if err != nil {
		return nil, err
	}
	providers.SetGlobal()
	a.closers = append(a.closers, providers.Shutdown)

	emitters := telemetry.MultiEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.EventsKafkaTopic); kp != nil {
		emitters = append(emitters, kp)
		a.closers = append(a.closers, func(context.Context) error { return kp.Close() })
	}
	a.Emitter = emitters

	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		a.Repos = PostgresRepos(pool)
	} else {
		log.Info("DATABASE_URL not set, using in-memory store")
		a.Repos = MemoryRepos()
	}

	signer, pub, err := loadKeys(cfg, log)
	if err != nil {
		return nil, err
	}
	provider := security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())

	channel, err := a.channel(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.Hasher = security.NewHasher(cfg.BcryptCost)
	a.Policy = blocking.NewPolicy(a.Repos.Accounts, a.Repos.Devices, a.Repos.Challenges, blocking.Config{
		RateWindow:         cfg.RateWindow(),
		MaxIssues:          cfg.RateLimitMaxIssues,
		BlockFor:           cfg.BlockFor(),
		PermanentThreshold: cfg.PermanentBlockThreshold,
	}, a.Emitter, log)
	a.OTP = otp.NewEngine(a.Repos.Challenges, a.Policy, channel, otp.Config{
		TTL:           cfg.OTPLifetime(),
		MaxAttempts:   cfg.OTPMaxAttempts,
		NotifyTimeout: cfg.NotifyTimeoutDuration(),
	}, log)
	a.Tokens = token.NewService(a.Repos.Tokens, a.Repos.Accounts, a.Hasher, provider, cfg.RefreshTTL(), a.Emitter, log)
	auditor := audit.NewAuditor(a.Repos.Audits, a.Hasher, audit.Config{
		ResetCooldown: cfg.ResetCooldownDuration(),
		ChangePeriod:  cfg.ChangePeriodDuration(),
		ForgotGuard:   cfg.ForgotGuardDuration(),
	}, a.Emitter, log)
	a.Auth = service.NewAuthService(
		a.Repos.Accounts,
		a.OTP,
		device.NewBindingService(a.Repos.Devices, log),
		a.Tokens,
		auditor,
		a.Hasher,
		log,
	)
	return a, nil
}

func loadKeys(cfg *config.Config, log *zap.Logger) (crypto.Signer, crypto.PublicKey, error) {
	if cfg.JWTPrivateKey != "" || cfg.JWTPublicKey != "" {
		return security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	}
	if cfg.IsProduction() {
		return nil, nil, errors.New("app: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required in production")
	}
	log.Warn("JWT keys not set, generating an ephemeral signing key")
	return security.GenerateEphemeralKey()
}

func (a *App) channel(ctx context.Context, cfg *config.Config) (notify.Channel, error) {
	switch cfg.NotifyMode {
	case config.NotifyModeQueue:
		client, err := notify.DialAMQP(cfg.RabbitMQURL, cfg.NotifyEmailQueue, cfg.NotifySMSQueue)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		a.AMQP = client
		return notify.NewQueueChannel(client, cfg.NotifyEmailQueue, cfg.NotifySMSQueue, a.log), nil
	case config.NotifyModeDirect:
		return DirectChannel(cfg), nil
	case config.NotifyModeDev:
		if cfg.DevOTPRedisURL != "" {
			rs, err := devotp.NewRedisStoreFromURL(ctx, cfg.DevOTPRedisURL)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, func(context.Context) error { return rs.Close() })
			a.DevOTP = rs
		} else {
			a.DevOTP = devotp.NewMemoryStore()
		}
		return notify.NewDevChannel(a.DevOTP, cfg.OTPLifetime(), a.log), nil
	}
	return nil, oops.Code("NOTIFY_MODE_INVALID").With("mode", cfg.NotifyMode).Errorf("unknown notify mode")
}

// DirectChannel returns the provider-backed channel. A provider with no API key
// is left out, so sends on its channel fail.
func DirectChannel(cfg *config.Config) *notify.DirectChannel {
	var (
		es notify.EmailSender
		ss notify.SMSSender
	)
	if cfg.ResendAPIKey != "" {
		es = email.NewResendClient(cfg.ResendAPIKey, cfg.ResendBaseURL, cfg.ResendFrom)
	}
	if cfg.SMSLocalAPIKey != "" {
		ss = sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
	}
	return notify.NewDirectChannel(es, ss)
}

// Close waits for pending lifecycle events, then releases resources in
// reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := telemetry.Drain(ctx); err != nil {
		errs = append(errs, err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
