// Package app arma el servicio completo a partir de la configuración.
package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/hellologin/internal/audit"
	"github.com/dropDatabas3/hellologin/internal/cache"
	"github.com/dropDatabas3/hellologin/internal/config"
	"github.com/dropDatabas3/hellologin/internal/events"
	"github.com/dropDatabas3/hellologin/internal/federation"
	eventsctrl "github.com/dropDatabas3/hellologin/internal/http/controllers/events"
	healthctrl "github.com/dropDatabas3/hellologin/internal/http/controllers/health"
	loginctrl "github.com/dropDatabas3/hellologin/internal/http/controllers/login"
	"github.com/dropDatabas3/hellologin/internal/http/router"
	"github.com/dropDatabas3/hellologin/internal/infra/pg"
	"github.com/dropDatabas3/hellologin/internal/login"
	"github.com/dropDatabas3/hellologin/internal/metrics"
	"github.com/dropDatabas3/hellologin/internal/observability/logger"
	"github.com/dropDatabas3/hellologin/internal/oidc"
	"github.com/dropDatabas3/hellologin/internal/rate"
	"github.com/dropDatabas3/hellologin/internal/session"
	"github.com/dropDatabas3/hellologin/internal/state"
	"github.com/dropDatabas3/hellologin/internal/users"
)

// Version se fija en build con -ldflags.
var Version = "dev"

// CallbackPath es la ruta de retorno registrada en el Provider.
const CallbackPath = "/callback"

// App es el servicio cableado.
type App struct {
	Handler    http.Handler
	Settings   *config.SettingsStore
	State      *state.Store
	Federation *federation.Registry
	Login      *login.Service
	// Sweeper es el limiter en memoria, si es el que está en uso.
	Sweeper *rate.MemoryLimiter

	closers []func() error
}

// Close libera conexiones en orden inverso a su apertura.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type rawRedis interface {
	Raw() *redis.Client
}

// New construye todas las dependencias. Si falla, lo ya abierto se cierra.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	log := logger.From(ctx).With(logger.Layer("app"), logger.Op("New"))
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	settings, err := config.NewSettingsStore(cfg.SettingsFile, cfg.HelloBase())
	if err != nil {
		return nil, err
	}
	a.Settings = settings

	// ─── Cache + State ───
	cc, err := cache.New(ctx, cache.Config{
		Driver:   cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("app: cache: %w", err)
	}
	a.closers = append(a.closers, cc.Close)
	var rdb *redis.Client
	if r, ok := cc.(rawRedis); ok {
		rdb = r.Raw()
	}
	a.State = state.New(cc, settings.Get().StateTTL())

	// ─── Base de datos (opcional) ───
	var db *sql.DB
	if cfg.Users.Driver == "postgres" || cfg.Federation.Driver == "postgres" {
		db, err = pg.Open(ctx, pg.Config{
			DSN:          cfg.Users.DSN,
			MaxOpenConns: cfg.Users.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Users.Postgres.MaxIdleConns,
			ConnMaxLife:  config.Duration(cfg.Users.Postgres.ConnMaxLifetime),
		})
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
	}

	// ─── Usuarios ───
	var dir users.Directory = users.NewMemoryDirectory()
	if cfg.Users.Driver == "postgres" {
		dir = users.NewPostgresDirectory(db)
	}
	bus := audit.NewBus()
	userSvc := users.NewService(users.ServiceDeps{
		Directory: dir,
		Roles:     roleTable(cfg.Users.Roles),
		Policy: func() users.Policy {
			s := settings.Get()
			return users.Policy{LinkExistingUsers: s.LinkExistingUsers, CreateIfDoesNotExist: s.CreateIfNotExists}
		},
		Bus: bus,
	})

	// ─── Federación ───
	var docs federation.DocumentStore
	switch cfg.Federation.Driver {
	case "redis":
		if rdb == nil {
			return nil, errors.New("app: federation driver redis requires cache.kind redis")
		}
		docs = federation.NewRedisStore(rdb, cfg.Cache.Redis.Prefix+federation.DefaultDocumentKey)
	case "postgres":
		docs = federation.NewPostgresStore(db, "")
	default:
		docs = federation.NewMemoryStore()
	}
	a.Federation = federation.NewRegistry(docs)

	// ─── Provider ───
	var verifier *oidc.Verifier
	if cfg.Security.VerifySignatures {
		verifier, err = oidc.NewJWKSVerifier(ctx, cfg.Security.JWKSURL)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("signature verification disabled; id tokens and security events are decoded without verifying their signature")
	}
	siteURL := cfg.Server.PublicURL
	client := oidc.NewClient(oidc.Deps{
		Settings: func() oidc.Config {
			s := settings.Get()
			return oidc.Config{
				ClientID:       s.ClientID,
				EndpointLogin:  s.EndpointLogin,
				EndpointToken:  s.EndpointToken,
				RedirectURI:    siteURL + CallbackPath,
				SiteURL:        siteURL,
				Scope:          s.Scope,
				ProviderHint:   s.ProviderHint,
				AcrValues:      s.AcrValues,
				RequestTimeout: s.RequestTimeout(),
			}
		},
		State:    a.State,
		Verifier: verifier,
	})

	// ─── Sesiones ───
	secret := []byte(cfg.Session.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("app: session secret: %w", err)
		}
		log.Warn("session.secret not set; using an ephemeral secret, sessions will not survive a restart")
	}
	sessions, err := session.NewManager(session.Config{
		Secret:     secret,
		CookieName: cfg.Session.CookieName,
		TTL:        config.Duration(cfg.Session.TTL),
		Domain:     cfg.Session.Domain,
		SameSite:   cfg.Session.SameSite,
		Secure:     cfg.Session.Secure,
	})
	if err != nil {
		return nil, err
	}

	a.Login = login.NewService(login.Deps{
		Client:   client,
		State:    a.State,
		Users:    userSvc,
		Sessions: sessions,
		Settings: settings,
		Bus:      bus,
		SiteURL:  siteURL,
		Pages: login.Pages{
			Home:     cfg.Pages.Home,
			Login:    cfg.Pages.Login,
			Profile:  cfg.Pages.Profile,
			Settings: cfg.Pages.Settings,
			Callback: CallbackPath,
		},
	})

	processor := events.NewProcessor(events.Deps{
		Settings: func() events.Settings {
			s := settings.Get()
			return events.Settings{ClientID: s.ClientID, EndpointLogin: s.EndpointLogin}
		},
		Users:      userSvc,
		Federation: a.Federation,
		Verifier:   verifier,
	})

	// ─── Rate limit ───
	var limiter rate.Limiter
	if cfg.Rate.Enabled {
		window := config.Duration(cfg.Rate.Window)
		if rdb != nil {
			limiter = rate.NewRedisLimiter(rdb, cfg.Cache.Redis.Prefix+"rl:", cfg.Rate.MaxRequests, window)
		} else {
			a.Sweeper = rate.NewMemoryLimiter(cfg.Rate.MaxRequests, window)
			limiter = a.Sweeper
		}
	}

	checks := map[string]healthctrl.Check{"cache": cc.Ping}
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	metricsHandler, err := metrics.Register(nil)
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}

	a.Handler = router.New(router.Deps{
		Login:   loginctrl.NewController(a.Login),
		Events:  eventsctrl.NewController(processor),
		Health:  healthctrl.NewController(Version, checks),
		Metrics: metricsHandler,
		Limiter: limiter,
	})
	log.Info("service wired",
		logger.String("cache", cfg.Cache.Kind),
		logger.String("users", cfg.Users.Driver),
		logger.String("federation", cfg.Federation.Driver),
		logger.Bool("rate_limit", limiter != nil),
	)
	return a, nil
}

// GC barre los states vencidos y los buckets inactivos del limiter.
func (a *App) GC(ctx context.Context) {
	log := logger.From(ctx).With(logger.Layer("app"), logger.Op("GC"))
	n, err := a.State.GarbageCollect(ctx)
	if err != nil {
		log.Warn("state gc failed", logger.Err(err))
	}
	if a.Sweeper != nil {
		log.Debug("rate buckets swept", logger.Int("remaining", a.Sweeper.Sweep()))
	}
	log.Debug("gc done", logger.Count(n))
}

// RunGC ejecuta GC cada interval hasta que ctx se cancele.
func (a *App) RunGC(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.GC(ctx)
		}
	}
}

func roleTable(raw map[string][]string) users.RoleTable {
	if len(raw) == 0 {
		return nil
	}
	t := users.RoleTable{}
	for role, caps := range raw {
		list := make([]users.Capability, 0, len(caps))
		for _, c := range caps {
			list = append(list, users.Capability(c))
		}
		t[role] = list
	}
	return t
}
