// Package notify delivers one-time codes by email or SMS, either in-process,
// through RabbitMQ delivery queues or into the dev capture store.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"credential-lifecycle/internal/devotp"
	"credential-lifecycle/internal/logger"
	otpdomain "credential-lifecycle/internal/otp/domain"
)

// Channel sends a code to a target.
type Channel interface {
	SendCode(ctx context.Context, target otpdomain.Target, code string) error
}

// Job is one queued delivery.
type Job struct {
	Channel otpdomain.Channel `json:"channel"`
	Address string            `json:"address"`
	Code    string            `json:"code"`
	SentAt  time.Time         `json:"sent_at"`
}

// Target returns the job's delivery target.
func (j Job) Target() otpdomain.Target {
	return otpdomain.Target{Channel: j.Channel, Address: j.Address}
}

// EmailSender delivers a code by email.
type EmailSender interface {
	SendOTP(ctx context.Context, to, code string) error
}

// SMSSender delivers a code by SMS.
type SMSSender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// DirectChannel calls the email or SMS provider in-process.
type DirectChannel struct {
	email EmailSender
	sms   SMSSender
}

// NewDirectChannel returns a DirectChannel. A nil sender fails deliveries on its channel.
func NewDirectChannel(email EmailSender, sms SMSSender) *DirectChannel {
	return &DirectChannel{email: email, sms: sms}
}

func (c *DirectChannel) SendCode(ctx context.Context, target otpdomain.Target, code string) error {
	switch target.Channel {
	case otpdomain.ChannelEmail:
		if c.email == nil {
			return errors.New("notify: email delivery not configured")
		}
		return c.email.SendOTP(ctx, target.Address, code)
	case otpdomain.ChannelPhone:
		if c.sms == nil {
			return errors.New("notify: sms delivery not configured")
		}
		return c.sms.SendOTP(ctx, target.Address, code)
	}
	return errors.New("notify: unknown channel " + string(target.Channel))
}

// DevChannel stores codes in the dev capture store instead of sending them.
type DevChannel struct {
	store devotp.Store
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time
}

// NewDevChannel returns a DevChannel keeping each code for ttl.
func NewDevChannel(store devotp.Store, ttl time.Duration, log *zap.Logger) *DevChannel {
	return &DevChannel{store: store, ttl: ttl, log: logger.OrNop(log), now: func() time.Time { return time.Now().UTC() }}
}

func (c *DevChannel) SendCode(ctx context.Context, target otpdomain.Target, code string) error {
	if err := c.store.Put(ctx, target.Address, code, c.now().Add(c.ttl)); err != nil {
		return err
	}
	c.log.Info("dev otp captured",
		zap.String("channel", string(target.Channel)), zap.String("target", logger.MaskTarget(target.Address)))
	return nil
}

// MemoryChannel records every code it is given. Err, when set, fails each send.
type MemoryChannel struct {
	mu   sync.Mutex
	jobs []Job
	Err  error
}

// NewMemoryChannel returns an empty MemoryChannel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{}
}

func (c *MemoryChannel) SendCode(_ context.Context, target otpdomain.Target, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.jobs = append(c.jobs, Job{Channel: target.Channel, Address: target.Address, Code: code, SentAt: time.Now().UTC()})
	return nil
}

// Sent returns a copy of the recorded jobs in send order.
func (c *MemoryChannel) Sent() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Job(nil), c.jobs...)
}

// Last returns the most recent code sent to address.
func (c *MemoryChannel) Last(address string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.jobs) - 1; i >= 0; i-- {
		if c.jobs[i].Address == address {
			return c.jobs[i].Code, true
		}
	}
	return "", false
}
