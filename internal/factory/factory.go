// Package factory wires the application together and owns the lifecycle of
// every long-lived dependency.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kmulambia/qgen-engine/internal/client"
	"github.com/kmulambia/qgen-engine/internal/config"
	"github.com/kmulambia/qgen-engine/internal/hashing"
	"github.com/kmulambia/qgen-engine/internal/notify"
	"github.com/kmulambia/qgen-engine/internal/repository/postgres"
	redisrepo "github.com/kmulambia/qgen-engine/internal/repository/redis"
	"github.com/kmulambia/qgen-engine/internal/service"
	"github.com/kmulambia/qgen-engine/internal/token"
	"github.com/kmulambia/qgen-engine/internal/util"
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config *config.Config

	redisClient   *client.RedisClient
	kafkaProducer *client.KafkaProducer
	store         *postgres.Store

	rateLimit *redisrepo.RateLimitCache
	mailer    notify.Mailer
	auth      *service.AuthService

	closeOnce sync.Once
}

// NewFactory loads configuration, connects every client, runs migrations and
// builds the service graph.
func NewFactory() (*Factory, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{config: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	f.store, err = postgres.NewStore(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := f.store.Migrate(ctx); err != nil {
		f.store.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	util.Info("Postgres store initialized and migrated")

	f.redisClient, err = client.NewRedisClient(cfg)
	if err != nil {
		f.store.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	f.rateLimit = redisrepo.NewRateLimitCache(f.redisClient.Client, cfg.RateLimit)

	f.mailer = notify.NopMailer{}
	if cfg.Kafka.Enabled {
		producer, err := client.NewKafkaProducer(cfg)
		if err != nil {
			if cfg.IsProduction() {
				f.close()
				return nil, fmt.Errorf("kafka: %w", err)
			}
			util.Warn("Kafka producer initialization failed, mailer disabled", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			f.mailer = notify.NewKafkaMailer(producer, cfg.Kafka.EmailTopic)
		}
	}

	codec, err := token.NewCodec(cfg.JWT)
	if err != nil {
		f.close()
		return nil, fmt.Errorf("token codec: %w", err)
	}

	vault := hashing.NewVault()
	audits := service.NewAuditService()
	credentials := service.NewCredentialService(vault)
	tokens := service.NewTokenService(codec)
	otps := service.NewOTPService(vault, audits)
	f.auth = service.NewAuthService(f.store, credentials, tokens, otps, audits, f.mailer)

	util.Info("Factory initialized",
		util.String("environment", cfg.Environment),
		util.Bool("kafka_enabled", f.kafkaProducer != nil))

	return f, nil
}

func (f *Factory) Config() *config.Config { return f.config }

func (f *Factory) AuthService() *service.AuthService { return f.auth }

func (f *Factory) RateLimitCache() *redisrepo.RateLimitCache { return f.rateLimit }

// HealthCheck pings every backing service.
func (f *Factory) HealthCheck(ctx context.Context) error {
	if err := f.store.HealthCheck(ctx); err != nil {
		return err
	}
	return f.redisClient.HealthCheck(ctx)
}

// Close shuts down every client exactly once.
func (f *Factory) Close() {
	f.closeOnce.Do(f.close)
}

func (f *Factory) close() {
	if f.kafkaProducer != nil {
		_ = f.kafkaProducer.Close()
	}
	if f.redisClient != nil {
		_ = f.redisClient.Close()
	}
	if f.store != nil {
		f.store.Close()
	}
	util.Sync()
}
