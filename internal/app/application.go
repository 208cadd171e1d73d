// Package app wires configuration, storage, the bank, the lottery service and
// the HTTP surface into a runnable daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/R3E-Network/lottery_layer/internal/app/httpapi"
	"github.com/R3E-Network/lottery_layer/internal/app/metrics"
	"github.com/R3E-Network/lottery_layer/internal/app/storage"
	"github.com/R3E-Network/lottery_layer/internal/app/storage/memory"
	"github.com/R3E-Network/lottery_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/lottery_layer/internal/app/storage/redis"
	"github.com/R3E-Network/lottery_layer/internal/bank"
	"github.com/R3E-Network/lottery_layer/internal/config"
	"github.com/R3E-Network/lottery_layer/internal/events"
	"github.com/R3E-Network/lottery_layer/internal/middleware"
	"github.com/R3E-Network/lottery_layer/internal/platform/migrations"
	"github.com/R3E-Network/lottery_layer/pkg/logger"
	"github.com/R3E-Network/lottery_layer/services/lottery"
)

const (
	shutdownTimeout = 10 * time.Second
	cleanupInterval = time.Minute
)

// Application ties the lottery together and manages the HTTP server lifecycle.
type Application struct {
	cfg *config.Config
	log *logger.Logger

	store   storage.Store
	limiter *middleware.RateLimiter
	server  *http.Server
	stop    chan struct{}
	once    sync.Once

	Bank    *bank.Bank
	Lottery *lottery.Service
	Events  *events.Log
	Handler http.Handler
}

// New builds an application from cfg. The store is opened here; call
// Bootstrap before Run to seed a fresh store.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	store, err := openStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("configure store: %w", err)
	}
	return newWithStore(cfg, store, log), nil
}

func newWithStore(cfg *config.Config, store storage.Store, log *logger.Logger) *Application {
	keeper := bank.NewKeeper()
	bankSvc := bank.New(store, keeper, log.Component("bank"))
	eventLog := events.NewLog(cfg.Events.Capacity)

	svc := lottery.New(store, keeper, log.Component("lottery"))
	svc.WithSeedSource(lottery.PublicDigest{Tag: cfg.Lottery.SelectionTag})
	if cfg.Lottery.AddressFormat == config.AddressFormatAny {
		svc.WithAddressValidator(lottery.PermissiveAddressValidator{})
	}
	svc.WithEvents(eventLog)
	svc.WithMetrics(metrics.Lottery{})

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, log)
	handler := httpapi.NewHandler(httpapi.Options{
		Service:     svc,
		Bank:        bankSvc,
		Events:      eventLog,
		Contract:    cfg.Lottery.ContractAddress,
		Auth:        middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, log),
		RateLimiter: limiter,
		CORSOrigins: cfg.Server.CORSOrigins,
		Log:         log.Component("httpapi"),
	})
	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret not set; request senders are taken from the body")
	}

	return &Application{
		cfg:     cfg,
		log:     log,
		store:   store,
		limiter: limiter,
		stop:    make(chan struct{}),
		Bank:    bankSvc,
		Lottery: svc,
		Events:  eventLog,
		Handler: handler,
		server: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           handler,
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
		},
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		log.Warn("using in-memory storage; state is lost on restart")
		return memory.New(), nil
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := migrations.Apply(ctx, store.DB()); err != nil {
			_ = store.Close()
			return nil, err
		}
		log.Info("postgres storage ready")
		return store, nil
	case config.DriverRedis:
		store, err := redis.Open(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.KeyPrefix)
		if err != nil {
			return nil, err
		}
		log.WithField("addr", cfg.RedisAddr).Info("redis storage ready")
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// Bootstrap applies genesis balances and, when configured, instantiates the
// lottery. Both steps are no-ops on a store that already holds them.
func (a *Application) Bootstrap(ctx context.Context) error {
	grants := make([]bank.Grant, 0, len(a.cfg.Genesis))
	for _, g := range a.cfg.Genesis {
		amount, err := config.CoinConfig{Denom: g.Denom, Amount: g.Amount}.Coin()
		if err != nil {
			return fmt.Errorf("genesis %s: %w", g.Address, err)
		}
		grants = append(grants, bank.Grant{Address: g.Address, Amount: amount})
	}
	if _, err := a.Bank.Genesis(ctx, grants); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}

	if a.cfg.Lottery.AutoInstantiate {
		price, err := a.cfg.Lottery.TicketPrice.Coin()
		if err != nil {
			return fmt.Errorf("ticket price: %w", err)
		}
		admin := a.cfg.Lottery.Admin
		env := lottery.Env{Time: uint64(time.Now().Unix()), Contract: a.cfg.Lottery.ContractAddress}
		_, err = a.Lottery.Instantiate(ctx, env, lottery.MessageInfo{Sender: admin}, lottery.InstantiateMsg{
			Admin:         &admin,
			TicketPrice:   price,
			RoundDuration: a.cfg.Lottery.RoundDuration,
		})
		switch {
		case errors.Is(err, lottery.ErrAlreadyInitialized):
			a.log.Debug("lottery already instantiated")
		case err != nil:
			return fmt.Errorf("instantiate lottery: %w", err)
		}
	}

	round, err := a.Lottery.CurrentRound(ctx)
	switch {
	case err == nil:
		metrics.ObserveRound(round)
	case !errors.Is(err, lottery.ErrNotInitialized):
		return fmt.Errorf("load current round: %w", err)
	}
	return nil
}

// Run serves HTTP and blocks until ctx is cancelled or the listener fails.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	a.limiter.StartCleanup(cleanupInterval, a.stop)

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", ln.Addr())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the HTTP server and closes the store.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	a.once.Do(func() { close(a.stop) })

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("error closing store")
	}
	return nil
}
