package main

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/goliatone/go-entree"
	"github.com/goliatone/go-entree/config"
	"github.com/goliatone/go-entree/metrics"
	"github.com/goliatone/go-entree/middleware/csrf"
	"github.com/goliatone/go-entree/middleware/ratelimit"
)

//go:embed views
var viewsFS embed.FS

// Run serves the authority until ctx is cancelled
func Run(ctx context.Context, cfg *config.Config, lgr *glog.BaseLogger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := named(lgr, "app")
	if cfg.Debug {
		log.Debug("configuration:\n%s", print.MaybeHighlightJSON(redacted(cfg)))
	}

	db, err := entree.OpenDB(ctx, cfg.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := entree.MigrateWithResults(ctx, db.DB)
	if err != nil {
		return err
	}
	for _, res := range applied {
		log.Info("applied migration %s in %s", res.Source.Path, res.Duration)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	repo := entree.NewRepositoryManager(db, cfg.CacheTTL)
	authority := entree.NewAuthority(repo, cfg, newMailer(cfg, lgr)).
		WithLogger(named(lgr, "authority")).
		WithMetrics(collector)

	srv, err := newHTTPServer(cfg, lgr)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{
		Rate:     rate.Limit(cfg.FetchRate),
		Burst:    cfg.FetchBurst,
		KeyFunc:  entree.FetchSiteKey,
		OnReject: func(string) { collector.RateLimited() },
	})

	registerRoutes(srv.Router(), cfg, authority, limiter, lgr)

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.NewServeMux(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	janitor := entree.NewTokenJanitor(authority.Tokens(), cfg.JanitorInterval).
		WithLogger(named(lgr, "janitor"))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := janitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("token janitor: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		limiter.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		log.Info("metrics listening on %s", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server: %v", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("authority listening on %s", cfg.HTTPAddr)
		serveErr <- srv.Serve(cfg.HTTPAddr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		if runErr == nil {
			// Serve may return before the listener closes
			<-ctx.Done()
		} else {
			log.Error("http server: %v", runErr)
		}
	}
	log.Info("shutting down")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics shutdown: %v", err)
	}

	wg.Wait()
	return runErr
}

func newMailer(cfg *config.Config, lgr *glog.BaseLogger) entree.Mailer {
	if !cfg.SMTP.Enabled() {
		return entree.LogMailer{Logger: named(lgr, "mail")}
	}
	return entree.SMTPMailer{
		Addr:     cfg.SMTP.Addr,
		From:     cfg.SMTP.From,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
	}
}

func newViewEngine(debug bool) (*django.Engine, error) {
	templates, err := fs.Sub(viewsFS, "views")
	if err != nil {
		return nil, err
	}

	engine := django.NewPathForwardingFileSystem(http.FS(templates), "/", ".html")
	engine.Reload(debug)
	engine.AddFuncMap(entree.TemplateHelpers())
	return engine, nil
}

func newHTTPServer(cfg *config.Config, lgr *glog.BaseLogger) (router.Server[*fiber.App], error) {
	engine, err := newViewEngine(cfg.Debug)
	if err != nil {
		return nil, err
	}

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:           "entree",
			UnescapePath:      true,
			EnablePrintRoutes: cfg.Debug,
			StrictRouting:     false,
			PassLocalsToViews: true,
			Views:             engine,
		}))
	})

	srv.Router().WithLogger(lgr.GetLogger("router"))
	return srv, nil
}

func registerRoutes(r router.Router[*fiber.App], cfg *config.Config, authority *entree.Authority, limiter *ratelimit.Limiter, lgr *glog.BaseLogger) {
	auther := entree.NewHTTPAuthenticator(authority)
	auther.Logger = named(lgr, "http")

	r.Use(mflash.New(mflash.ConfigDefault))
	r.Use(auther.Middleware())
	r.Use(csrf.New(csrf.Config{
		SecureKey:  cfg.GetCSRFKey(),
		Expiration: cfg.SessionExpiration,
		SessionKey: csrfSessionKey,
		Skip:       skipCSRF,
	}))

	entree.RegisterAuthorityRoutes(r, authority, auther,
		entree.WithControllerLogger(named(lgr, "controller")),
		entree.WithControllerFetchLimiter(limiter.Middleware()),
	)
	csrf.RegisterRoutes(r)

	r.Get(entree.RouteHome, func(ctx router.Context) error {
		return ctx.Redirect(entree.RouteProfile, http.StatusFound)
	}).SetName("home.get")
}

// csrfSessionKey binds tokens to the authority session when there is one
func csrfSessionKey(ctx router.Context) string {
	if session, ok := entree.GetRouterSession(ctx); ok && session.ID != "" {
		return "sid_" + session.ID
	}
	return "ip_" + ctx.IP()
}

// skipCSRF exempts the endpoints called from other origins, both carry
// their own credentials
func skipCSRF(ctx router.Context) bool {
	path := ctx.Path()
	return strings.HasPrefix(path, entree.RouteProfileFetch) ||
		strings.HasPrefix(path, entree.RouteLoginRecovery)
}

func redacted(cfg *config.Config) config.Config {
	out := *cfg
	out.SecretKey = "***"
	out.SigningKey = "***"
	out.CSRFKey = "***"
	out.SMTP.Password = "***"
	return out
}
