// Worker delivers queued OTP jobs from RabbitMQ through the email and SMS
// providers and periodically expires stale OTP challenges.
// Set NOTIFY_MODE=queue and RABBITMQ_URL to consume; the sweep runs in every mode.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/oops"
	"go.uber.org/zap"

	"credential-lifecycle/internal/app"
	"credential-lifecycle/internal/config"
	"credential-lifecycle/internal/logger"
	"credential-lifecycle/internal/notify"
	"credential-lifecycle/internal/otp"
)

const (
	consumerTag = "credential-lifecycle-worker"
	prefetch    = 10
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, zl)
	cancel()
	if err != nil {
		zl.Error("worker failed", zap.Error(err))
		_ = zl.Sync()
		os.Exit(1)
	}
	_ = zl.Sync()
}

// run blocks until ctx is done. Every resource Build opened is closed before
// it returns, including on error.
func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) (err error) {
	a, err := app.Build(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		err = errors.Join(err, a.Close(shutdownCtx))
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweep(ctx, a.OTP, cfg.SweepEvery(), zl)
	}()

	if cfg.NotifyMode == config.NotifyModeQueue {
		if a.AMQP == nil {
			return oops.Code("AMQP_MISSING").Errorf("queue mode without a rabbitmq client")
		}
		consumer := notify.NewConsumer(app.DirectChannel(cfg), cfg.NotifyTimeoutDuration(), zl)
		if err := consume(ctx, a.AMQP, []string{cfg.NotifyEmailQueue, cfg.NotifySMSQueue}, consumer, &wg, zl); err != nil {
			return err
		}
	}

	<-ctx.Done()
	zl.Info("worker shutting down")
	return nil
}

// queueSource is the part of the RabbitMQ client the worker consumes from.
type queueSource interface {
	Qos(prefetch int) error
	Consume(queue, consumer string) (<-chan amqp.Delivery, error)
}

// consume starts one consumer goroutine per queue, tracked by wg. It stops at
// the first queue that cannot be consumed; goroutines already started exit
// with ctx.
func consume(ctx context.Context, src queueSource, queues []string, consumer *notify.Consumer, wg *sync.WaitGroup, zl *zap.Logger) error {
	if err := src.Qos(prefetch); err != nil {
		return oops.Code("AMQP_QOS_FAILED").Wrap(err)
	}
	for _, queue := range queues {
		deliveries, err := src.Consume(queue, consumerTag)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Run(ctx, deliveries)
		}()
		zl.Info("worker consuming", zap.String("queue", queue))
	}
	return nil
}

// sweep expires pending challenges past their deadline every interval.
func sweep(ctx context.Context, engine *otp.Engine, every time.Duration, zl *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.ExpireStale(ctx)
			if err != nil {
				zl.Warn("expire stale challenges", zap.Error(err))
				continue
			}
			if n > 0 {
				zl.Info("expired stale challenges", zap.Int64("count", n))
			}
		}
	}
}
