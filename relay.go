// Package relay assembles the completion gateway, conversation store and chat
// orchestrator from a config.Config.
//
// Quick start:
//
//	cfg, _ := config.Load("")
//	c, err := relay.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	err = c.Chat.Send(ctx, "Hello", "llama3", "ollama", func(ev chat.Event) {
//		fmt.Print(ev.Content)
//	})
package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/klejdi94/relay/analytics"
	"github.com/klejdi94/relay/chat"
	"github.com/klejdi94/relay/config"
	"github.com/klejdi94/relay/conversation"
	"github.com/klejdi94/relay/conversation/s3blob"
	"github.com/klejdi94/relay/credential"
	"github.com/klejdi94/relay/gateway"
	"github.com/klejdi94/relay/logging"
	"github.com/klejdi94/relay/middleware"
	"github.com/klejdi94/relay/provider"
	"github.com/klejdi94/relay/transport"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Client holds every wired component. Close releases connections and files.
type Client struct {
	Config    config.Config
	Log       zerolog.Logger
	Registry  *provider.Registry
	Secrets   credential.Resolver
	Gateway   *gateway.Gateway
	Store     *conversation.Store
	Chat      *chat.Orchestrator
	Analytics analytics.Store
	Metrics   *middleware.MetricsCounters
	Breaker   *middleware.Breaker
	// Prometheus gathers the relay_* collectors plus Go and process metrics.
	Prometheus *prometheus.Registry

	redis   *redis.Client
	db      *sql.DB
	closers []func() error
}

// Option overrides a component Open would otherwise build from config.
type Option func(*options)

type options struct {
	log    *zerolog.Logger
	doer   transport.Doer
	sink   conversation.Sink
	creds  credential.Resolver
	gwOpts []gateway.Option
}

// WithLogger replaces the logger built from cfg.Log.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = &l }
}

// WithHTTPClient sets the client used by the retry transport.
func WithHTTPClient(d transport.Doer) Option {
	return func(o *options) { o.doer = d }
}

// WithSink replaces the conversation sink selected by cfg.Store.
func WithSink(s conversation.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithResolver replaces the secret backend selected by cfg.Secrets.
func WithResolver(r credential.Resolver) Option {
	return func(o *options) { o.creds = r }
}

// WithGatewayOptions appends gateway options after the configured ones.
func WithGatewayOptions(opts ...gateway.Option) Option {
	return func(o *options) { o.gwOpts = append(o.gwOpts, opts...) }
}

// Open wires a Client from cfg. On error everything opened so far is closed.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	c := &Client{Config: cfg}
	if err := c.open(ctx, o); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) open(ctx context.Context, o options) error {
	cfg := c.Config
	if err := c.openLogger(o); err != nil {
		return err
	}

	c.Registry = provider.NewDefaultRegistry()
	for _, d := range cfg.Providers {
		if err := c.Registry.Register(d); err != nil {
			return err
		}
	}

	c.Secrets = o.creds
	if c.Secrets == nil {
		c.Secrets = newResolver(cfg.Secrets)
	}

	if err := c.openAnalytics(ctx); err != nil {
		return err
	}
	mws, err := c.middlewares()
	if err != nil {
		return err
	}

	doer := o.doer
	if doer == nil {
		doer = &http.Client{}
	}
	sender := transport.New(doer,
		transport.WithStep(cfg.Transport.BackoffStep),
		transport.WithLogger(c.Log.With().Str("component", "transport").Logger()))
	gwOpts := append([]gateway.Option{
		gateway.WithSender(sender),
		gateway.WithSettings(provider.Settings{
			Timeout:    cfg.Transport.Timeout,
			MaxRetries: cfg.Transport.MaxRetries,
			Logger:     c.Log.With().Str("component", "provider").Logger(),
		}),
		gateway.WithMiddleware(mws...),
		gateway.WithHealthCheck(cfg.HealthCheck),
		gateway.WithLogger(c.Log.With().Str("component", "gateway").Logger()),
	}, o.gwOpts...)
	c.Gateway = gateway.New(c.Registry, c.Secrets, gwOpts...)

	sink := o.sink
	if sink == nil {
		if sink, err = c.openSink(ctx); err != nil {
			return err
		}
	}
	c.Store, err = conversation.NewStore(ctx, sink,
		conversation.WithLogger(c.Log.With().Str("component", "conversation").Logger()))
	if err != nil {
		return err
	}
	c.Chat = chat.New(c.Gateway, c.Store, chat.WithLogger(c.Log.With().Str("component", "chat").Logger()))

	c.Log.Debug().
		Str("store", cfg.Store.Backend).
		Int("providers", len(c.Registry.List())).
		Msg("relay ready")
	return nil
}

func (c *Client) openLogger(o options) error {
	if o.log != nil {
		c.Log = *o.log
		return nil
	}
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.Config.Log.Level)
	lc.Pretty = c.Config.Log.Pretty
	if c.Config.Log.File == "" {
		c.Log = logging.New(lc)
		return nil
	}
	log, f, err := logging.OpenFile(lc, c.Config.Log.File)
	if err != nil {
		return err
	}
	c.Log = log
	c.closers = append(c.closers, f.Close)
	return nil
}

func newResolver(cfg config.SecretsConfig) credential.Resolver {
	if cfg.Backend == config.SecretsEnv {
		return credential.NewEnvResolver()
	}
	return credential.NewDotenvResolver(cfg.Path)
}

func (c *Client) redisClient() *redis.Client {
	if c.redis == nil {
		rc := c.Config.Redis
		c.redis = redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		c.closers = append(c.closers, c.redis.Close)
	}
	return c.redis
}

func (c *Client) postgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	c.db = db
	c.closers = append(c.closers, db.Close)
	return db, nil
}

func (c *Client) openAnalytics(ctx context.Context) error {
	ac := c.Config.Analytics
	switch ac.Backend {
	case config.StoreRedis:
		c.Analytics = analytics.NewRedisStore(c.redisClient(), "")
	case config.StorePostgres:
		dsn := ac.DSN
		if dsn == "" {
			dsn = c.Config.Store.DSN
		}
		db, err := c.postgres(ctx, dsn)
		if err != nil {
			return err
		}
		if c.Analytics, err = analytics.NewPostgresStore(ctx, db, ""); err != nil {
			return err
		}
	default:
		c.Analytics = analytics.NewMemoryStore(ac.MaxRecords)
	}
	return nil
}

// middlewares builds the gateway chain, outermost first. Cache hits are
// logged, counted and recorded but skip the breaker and the rate limit.
func (c *Client) middlewares() ([]middleware.Middleware, error) {
	cfg := c.Config
	c.Prometheus = prometheus.NewRegistry()
	c.Prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, counters := middleware.Metrics(c.Prometheus)
	c.Metrics = counters

	mws := []middleware.Middleware{
		middleware.Logging(c.Log.With().Str("component", "middleware").Logger()),
		metrics,
	}
	if cfg.Analytics.Enabled {
		mws = append(mws, middleware.Recorder(c.Analytics, c.Log))
	}
	switch cfg.Cache.Backend {
	case config.StoreMemory:
		mws = append(mws, middleware.CacheMiddleware(middleware.NewInMemoryCache(), cfg.Cache.TTL))
	case config.StoreRedis:
		mws = append(mws, middleware.CacheMiddleware(middleware.NewRedisCache(c.redisClient(), ""), cfg.Cache.TTL))
	case "":
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Cache.Backend)
	}
	if cfg.Breaker.Threshold > 0 {
		mw, b := middleware.CircuitBreaker(cfg.Breaker.Threshold, cfg.Breaker.Timeout)
		c.Breaker = b
		mws = append(mws, mw)
	}
	if cfg.RateLimit.Limit > 0 {
		mws = append(mws, middleware.RateLimit(cfg.RateLimit.Limit, cfg.RateLimit.Window))
	}
	return mws, nil
}

func (c *Client) openSink(ctx context.Context) (conversation.Sink, error) {
	sc := c.Config.Store
	switch sc.Backend {
	case config.StoreMemory:
		return conversation.NewMemorySink(), nil
	case config.StoreFile:
		return conversation.NewFileSink(sc.Path), nil
	case config.StoreRedis:
		return conversation.NewRedisSink(c.redisClient(), sc.Key), nil
	case config.StorePostgres:
		db, err := c.postgres(ctx, sc.DSN)
		if err != nil {
			return nil, err
		}
		return conversation.NewPostgresSink(ctx, db, sc.Table)
	case config.StoreSQLite:
		s, err := conversation.OpenSQLiteSink(ctx, sc.Path)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, s.Close)
		return s, nil
	case config.StoreS3:
		blobs, err := s3blob.NewFromConfig(ctx, sc.Bucket, sc.Prefix, sc.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("s3 store: %w", err)
		}
		return conversation.NewBlobSink(blobs, ""), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", sc.Backend)
	}
}

// AnalyticsServer returns an HTTP server over the analytics store and the
// Prometheus registry, listening on cfg.Analytics.Addr.
func (c *Client) AnalyticsServer() *analytics.Server {
	return analytics.NewServer(c.Analytics, c.Config.Analytics.Addr, c.Prometheus)
}

// Close releases resources in reverse order of acquisition.
func (c *Client) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
