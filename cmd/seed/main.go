// seed inserts development accounts for local testing. Run via go run ./cmd/seed.
// Idempotent: skips inserts if the dev account (dev@example.com) already exists.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"credential-lifecycle/internal/account/domain"
	accountrepo "credential-lifecycle/internal/account/repository"
	"credential-lifecycle/internal/config"
	"credential-lifecycle/internal/db"
	"credential-lifecycle/internal/device"
	devicerepo "credential-lifecycle/internal/device/repository"
	"credential-lifecycle/internal/security"
)

const (
	devEmail       = "dev@example.com"
	devPhone       = "+15550000001"
	devPassword    = "password123"
	devFingerprint = "dev-fp-001"
	memberEmail    = "member@example.com"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	accounts := accountrepo.NewPostgresRepository(pool)
	existing, err := accounts.GetByEmail(ctx, devEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Println("Seed already applied (dev@example.com exists). Skipping.")
		os.Exit(0)
	}

	hash, err := security.NewHasher(cfg.BcryptCost).Hash(devPassword)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	// Both accounts and the dev device link commit together.
	err = db.InTx(ctx, pool, func(tx pgx.Tx) error {
		txAccounts := accountrepo.NewPostgresRepository(tx)
		now := time.Now().UTC()
		dev := &domain.Account{
			PublicID: uuid.NewString(), Email: devEmail, Phone: devPhone, PasswordHash: hash,
			Name: "Dev User", EmailVerified: true, PhoneVerified: true, CreatedAt: now, UpdatedAt: now,
		}
		if err := txAccounts.Create(ctx, dev); err != nil {
			return err
		}
		member := &domain.Account{
			PublicID: uuid.NewString(), Email: memberEmail, PasswordHash: hash,
			Name: "Member User", EmailVerified: true, CreatedAt: now, UpdatedAt: now,
		}
		if err := txAccounts.Create(ctx, member); err != nil {
			return err
		}
		binder := device.NewBindingService(devicerepo.NewPostgresRepository(tx), nil)
		_, err := binder.BindForRegisterOrLogin(ctx, dev.ID, devFingerprint, "Dev Laptop")
		return err
	})
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	log.Println("Seed complete.")
	log.Printf("  Dev login:    %s / %s (device %s)", devEmail, devPassword, devFingerprint)
	log.Printf("  Member login: %s / %s", memberEmail, devPassword)
	log.Println("  Codes are captured by the dev notify store when NOTIFY_MODE=dev.")
}
