package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/wagerd/internal/blob/s3"
	"github.com/alanyoungcy/wagerd/internal/cache/redis"
	"github.com/alanyoungcy/wagerd/internal/config"
	"github.com/alanyoungcy/wagerd/internal/crypto"
	"github.com/alanyoungcy/wagerd/internal/domain"
	"github.com/alanyoungcy/wagerd/internal/feed"
	"github.com/alanyoungcy/wagerd/internal/notify"
	"github.com/alanyoungcy/wagerd/internal/server/handler"
	"github.com/alanyoungcy/wagerd/internal/service"
	"github.com/alanyoungcy/wagerd/internal/settlement"
	"github.com/alanyoungcy/wagerd/internal/store/memory"
	"github.com/alanyoungcy/wagerd/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Cache and blob fields stay nil when their backend is
// disabled.
type Dependencies struct {
	// Ledger
	Ledger        domain.Ledger
	AuditStore    domain.AuditStore
	LedgerBackend string

	// Caches
	PriceCache  domain.PriceCache
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Operator key; nil when none is configured.
	Signer      *crypto.Signer
	Authorities []string
	FeeAccount  string

	// Services
	Engine     *settlement.Engine
	Events     *service.Publisher
	Settlement *service.SettlementService
	Markets    *service.MarketService
	Feeds      *service.FeedService

	// Health pings every wired backend.
	Health map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{Health: map[string]handler.Pinger{}}

	// --- Operator key and authorities ---
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    cfg.Authority.PrivateKey,
		EncryptedKeyPath: cfg.Authority.EncryptedKeyPath,
		KeyPassword:      cfg.Authority.KeyPassword,
	}
	if keyCfg.Configured() {
		signer, err := crypto.LoadSigner(keyCfg)
		if err != nil {
			return fail("wire: operator key: %w", err)
		}
		deps.Signer = signer
	}
	authorities, err := authoritySet(cfg.Authority.Addresses, deps.Signer)
	if err != nil {
		return fail("wire: %w", err)
	}
	deps.Authorities = authorities
	if cfg.Authority.FeeAccount != "" {
		fee, err := crypto.NormalizeAddress(cfg.Authority.FeeAccount)
		if err != nil {
			return fail("wire: fee account: %w", err)
		}
		deps.FeeAccount = fee
	}

	// --- Ledger ---
	deps.LedgerBackend = strings.ToLower(cfg.Ledger.Backend)
	switch deps.LedgerBackend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.ConnMaxLifetime.Duration,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}
		ledger := pgClient.Ledger()
		deps.Ledger = ledger
		deps.AuditStore = ledger
		deps.Health["postgres"] = pgClient.Ping
	default:
		ledger := memory.New()
		deps.Ledger = ledger
		deps.AuditStore = ledger
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Health["redis"] = redisClient.Ping
	}

	// --- S3 settlement archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			Prefix:         cfg.S3.Prefix,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client))
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine and services ---
	var prices domain.PriceFeed
	if deps.PriceCache != nil {
		prices = feed.NewCacheReader(deps.PriceCache, cfg.Feeds.MaxStaleness.Duration)
	}
	deps.Engine = settlement.NewEngine(deps.Ledger, prices, settlement.Config{
		Authorities: deps.Authorities,
		FeeAccount:  deps.FeeAccount,
	}, logger)
	deps.Events = service.NewPublisher(deps.SignalBus, deps.Notifier, logger)
	deps.Settlement = service.NewSettlementService(
		deps.Engine, deps.Ledger, deps.MarketCache, deps.Archiver, deps.Events, logger,
	)
	deps.Markets = service.NewMarketService(
		deps.Ledger, deps.AuditStore, deps.MarketCache, deps.Archiver, deps.Engine.IsAuthority, logger,
	)
	deps.Feeds = service.NewFeedService(deps.PriceCache, deps.Engine.IsAuthority, deps.Events, logger)

	return deps, cleanup, nil
}

// authoritySet normalizes the configured authority addresses to checksum
// form and adds the operator key's address.
func authoritySet(addrs []string, signer *crypto.Signer) ([]string, error) {
	seen := make(map[string]bool, len(addrs)+1)
	out := make([]string, 0, len(addrs)+1)
	for _, a := range addrs {
		norm, err := crypto.NormalizeAddress(a)
		if err != nil {
			return nil, fmt.Errorf("authority %q: %w", a, err)
		}
		if !seen[norm] {
			seen[norm] = true
			out = append(out, norm)
		}
	}
	if signer != nil {
		if op := signer.Address().Hex(); !seen[op] {
			out = append(out, op)
		}
	}
	return out, nil
}
