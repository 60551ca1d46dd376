// Command authd runs the authentication service: the engine, its HTTP API,
// and a Prometheus metrics endpoint, backed by Redis.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"

	"github.com/slotwise/bookauth"
	"github.com/slotwise/bookauth/httpapi"
	"github.com/slotwise/bookauth/metrics"
)

type envConfig struct {
	ListenAddr string `env:"BOOKAUTH_LISTEN_ADDR" envDefault:":8080"`

	RedisAddr     string `env:"BOOKAUTH_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"BOOKAUTH_REDIS_PASSWORD"`
	RedisDB       int    `env:"BOOKAUTH_REDIS_DB" envDefault:"0"`

	JWTSigningKey string        `env:"BOOKAUTH_JWT_SIGNING_KEY,required"`
	AccessTTL     time.Duration `env:"BOOKAUTH_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"BOOKAUTH_REFRESH_TTL" envDefault:"168h"`

	BreachCheckEnabled    bool `env:"BOOKAUTH_BREACH_CHECK_ENABLED" envDefault:"true"`
	BreachCheckFailClosed bool `env:"BOOKAUTH_BREACH_CHECK_FAIL_CLOSED" envDefault:"false"`

	ThrottleRPS    float64  `env:"BOOKAUTH_THROTTLE_RPS" envDefault:"20"`
	ThrottleBurst  int      `env:"BOOKAUTH_THROTTLE_BURST" envDefault:"40"`
	TrustedProxies []string `env:"BOOKAUTH_TRUSTED_PROXIES" envSeparator:","`

	ShutdownTimeout time.Duration `env:"BOOKAUTH_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// logMailer writes outbound tokens to the log. Stand-in for a real delivery
// backend; the engine only needs the Mailer interface.
type logMailer struct {
	logger *log.Logger
}

func (m *logMailer) SendVerification(_ context.Context, email, token string) error {
	m.logger.Printf("mail: verification for %s token=%s", email, token)
	return nil
}

func (m *logMailer) SendPasswordReset(_ context.Context, email, token string) error {
	m.logger.Printf("mail: password reset for %s token=%s", email, token)
	return nil
}

func main() {
	logger := log.New(os.Stdout, "authd ", log.LstdFlags)

	if err := run(logger); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}

func run(logger *log.Logger) error {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	engineCfg := bookauth.DefaultConfig()
	engineCfg.JWT.PrivateKey = []byte(cfg.JWTSigningKey)
	engineCfg.JWT.AccessTTL = cfg.AccessTTL
	engineCfg.Refresh.TTL = cfg.RefreshTTL
	engineCfg.Breach.Enabled = cfg.BreachCheckEnabled
	engineCfg.Breach.FailClosed = cfg.BreachCheckFailClosed

	engine, err := bookauth.New().
		WithRedis(client).
		WithConfig(engineCfg).
		WithMailer(&logMailer{logger: logger}).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	metrics.Init()

	server := httpapi.NewServer(engine, httpapi.ServerConfig{
		RequestsPerSecond: cfg.ThrottleRPS,
		Burst:             cfg.ThrottleBurst,
		TrustedProxies:    cfg.TrustedProxies,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Println("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
