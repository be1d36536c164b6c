// Package memory provides in-process implementations of every repository,
// sharing one lock so cross-table writes stay atomic. It backs tests and the
// single-process development mode.
package memory

import (
	"sync"

	accountdomain "credential-lifecycle/internal/account/domain"
	auditdomain "credential-lifecycle/internal/audit/domain"
	devicedomain "credential-lifecycle/internal/device/domain"
	otpdomain "credential-lifecycle/internal/otp/domain"
	tokendomain "credential-lifecycle/internal/token/domain"
)

type linkKey struct {
	accountID int64
	deviceID  int64
}

// Store holds all tables in memory.
type Store struct {
	mu     sync.Mutex
	nextID int64

	accounts   map[int64]*accountdomain.Account
	devices    map[int64]*devicedomain.Device
	links      map[linkKey]*devicedomain.Link
	challenges []*otpdomain.Challenge
	tokens     []*tokendomain.RefreshToken
	audits     []*auditdomain.PasswordAudit
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[int64]*accountdomain.Account),
		devices:  make(map[int64]*devicedomain.Device),
		links:    make(map[linkKey]*devicedomain.Link),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Accounts returns the account repository view.
func (s *Store) Accounts() *Accounts { return &Accounts{s: s} }

// Devices returns the device repository view.
func (s *Store) Devices() *Devices { return &Devices{s: s} }

// Challenges returns the OTP challenge repository view.
func (s *Store) Challenges() *Challenges { return &Challenges{s: s} }

// Tokens returns the refresh token repository view.
func (s *Store) Tokens() *Tokens { return &Tokens{s: s} }

// Audits returns the password audit repository view.
func (s *Store) Audits() *Audits { return &Audits{s: s} }
