package bookauth

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slotwise/bookauth/abuse"
	"github.com/slotwise/bookauth/audit"
	"github.com/slotwise/bookauth/breach"
	"github.com/slotwise/bookauth/jwt"
	"github.com/slotwise/bookauth/password"
	"github.com/slotwise/bookauth/store"
)

// Builder assembles an Engine. Configure during initialization, call Build
// once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	mailer       Mailer
	auditSink    audit.Sink
	logger       *log.Logger
	breachClient *http.Client

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration tree.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing every store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMailer sets the out-of-band token delivery implementation.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink enables the async audit dispatcher streaming into sink.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	b.config.Audit.Dispatcher.Enabled = true
	return b
}

// WithLogger sets the warning logger. Defaults to the standard logger.
func (b *Builder) WithLogger(l *log.Logger) *Builder {
	b.logger = l
	return b
}

// WithBreachHTTPClient overrides the HTTP client used for breach range
// lookups. Mostly for tests.
func (b *Builder) WithBreachHTTPClient(client *http.Client) *Builder {
	b.breachClient = client
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if err := b.config.validate(); err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(b.config.JWT)
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(b.config.Password.Hashing)
	if err != nil {
		return nil, err
	}

	var checker *breach.Checker
	if b.config.Breach.Enabled {
		checker, err = breach.NewChecker(breach.Config{
			BaseURL:   b.config.Breach.BaseURL,
			Timeout:   b.config.Breach.Timeout,
			Threshold: b.config.Breach.Threshold,
		}, b.breachClient)
		if err != nil {
			return nil, err
		}
	}

	mailer := b.mailer
	if mailer == nil {
		mailer = NoOpMailer{}
	}
	logger := b.logger
	if logger == nil {
		logger = log.Default()
	}

	auditLog := audit.NewStore(b.redis, b.config.Audit.Prefix)

	engine := &Engine{
		config:        b.config,
		accounts:      store.NewAccountStore(b.redis, b.config.Store.AccountPrefix),
		refreshTokens: store.NewRefreshStore(b.redis, b.config.Store.RefreshPrefix),
		resets:        store.NewResetStore(b.redis, b.config.Store.ResetPrefix),
		verifications: store.NewVerificationStore(b.redis, b.config.Store.VerificationPrefix),
		auditLog:      auditLog,
		abuse:         abuse.NewTracker(auditLog, b.config.Abuse),
		tokens:        tokens,
		hasher:        hasher,
		policy:        b.config.Password.Policy,
		breach:        checker,
		mailer:        mailer,
		dispatcher:    audit.NewDispatcher(b.config.Audit.Dispatcher, b.auditSink),
		logger:        logger,
		now:           time.Now,
	}

	b.built = true
	return engine, nil
}
