package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"urlscan/internal/config"
	"urlscan/internal/handler"
	"urlscan/internal/service"
	"urlscan/internal/storage"
	"urlscan/internal/utils"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App bundles the long-lived services built from configuration.
type App struct {
	Scanner   *service.Scanner
	DNS       *service.DNSService
	Storage   *storage.Storage
	Scheduler *service.Scheduler
}

// NewApp loads the classifier and whitelist and wires the pipeline. A
// missing or mismatched classifier is fatal; a missing whitelist is not.
func NewApp(cfg *config.Config) (*App, error) {
	classifier, err := service.LoadClassifier(cfg.ModelPath, service.CanonicalSchema)
	if err != nil {
		return nil, err
	}
	utils.Log.Info("classifier loaded",
		utils.Field("path", cfg.ModelPath),
		utils.Field("features", classifier.FeatureNames()),
	)

	whitelist := service.NewWhitelistStore(cfg.WhitelistPath, cfg.WhitelistMax)
	if err := whitelist.Reload(); err != nil {
		utils.Log.Error("failed to load whitelist, continuing with an empty one", utils.Field("error", err.Error()))
	}

	var store *storage.Storage
	var remote service.RemoteDNSCache
	if cfg.RedisEnabled {
		store = storage.NewStorage(cfg.RedisHost, cfg.RedisPort, cfg.RedisDNSTTL)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := store.Ping(ctx); err != nil {
			utils.Log.Warn("redis unreachable at startup", utils.Field("error", err.Error()))
		}
		cancel()
		remote = store
	}

	dns := service.NewDNSService(service.DNSOptions{
		Resolver:  cfg.DNSResolver,
		Timeout:   cfg.DNSTimeout,
		CacheSize: cfg.DNSCacheSize,
		CacheTTL:  cfg.DNSCacheTTL,
		Remote:    remote,
	})

	scfg := service.ScannerConfig{
		Whitelist:        whitelist,
		DNS:              dns,
		Classifier:       classifier,
		Schema:           service.CanonicalSchema,
		Lexicon:          service.Lexicon{Keywords: cfg.SuspiciousKeywords, Weight: cfg.SuspiciousWeight},
		DefaultThreshold: cfg.DefaultThreshold,
		URLTimeout:       cfg.URLTimeout,
		MaxBatch:         cfg.MaxBatch,
		Workers:          cfg.BatchWorkers,
	}
	if store != nil {
		scfg.History = store
	}
	scanner, err := service.NewScanner(scfg)
	if err != nil {
		return nil, err
	}

	return &App{
		Scanner:   scanner,
		DNS:       dns,
		Storage:   store,
		Scheduler: service.NewScheduler(whitelist, dns, cfg.WhitelistReloadSpec),
	}, nil
}

func proxyConfig(cfg *config.Config) utils.ProxyConfig {
	return utils.ProxyConfig{
		TrustedIPs:    cfg.TrustedIPs,
		TrustProxy:    cfg.TrustProxy,
		UseCloudflare: cfg.UseCloudflare,
	}
}

func NewServer(cfg *config.Config, h *handler.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			utils.Log.Info("request",
				utils.Field("method", v.Method),
				utils.Field("uri", v.URI),
				utils.Field("status", v.Status),
				utils.Field("latency", v.Latency.String()),
				utils.Field("client_ip", utils.ClientIP(c, h.Proxy)),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, "X-Admin-Token"},
	}))

	// JSON errors only; the browser extension never renders HTML.
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = http.StatusText(code)
			if s, ok := he.Message.(string); ok && s != "" {
				msg = s
			}
		}
		if code >= http.StatusInternalServerError {
			utils.Log.Error("request failed", utils.Field("uri", c.Request().RequestURI), utils.Field("error", err.Error()))
		}
		if jsonErr := c.JSON(code, map[string]string{"error": msg}); jsonErr != nil {
			utils.Log.Error("failed to write error response", utils.Field("error", jsonErr.Error()))
		}
	}

	// Routes
	e.GET("/health", h.Health)
	e.POST("/check-url", h.CheckURL)
	e.POST("/check-urls", h.CheckURLs)
	e.POST("/whitelist-check", h.WhitelistCheck)
	e.POST("/debug-features", h.DebugFeatures)
	e.GET("/history", h.History)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Protected
	if cfg.AdminToken != "" {
		g := e.Group("/admin")
		g.Use(h.AdminRequired)
		g.POST("/whitelist/reload", h.ReloadWhitelist)
	}

	return e
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		utils.InitLogger("info")
		utils.Log.Fatal("invalid configuration", utils.Field("error", err.Error()))
	}
	utils.InitLogger(cfg.LogLevel)
	defer func() { _ = utils.Log.Sync() }()

	app, err := NewApp(cfg)
	if err != nil {
		utils.Log.Fatal("startup failed", utils.Field("error", err.Error()))
	}
	if err := app.Scheduler.Start(); err != nil {
		utils.Log.Fatal("invalid WHITELIST_RELOAD_SPEC", utils.Field("error", err.Error()))
	}

	h := handler.NewHandler(app.Scanner, app.Storage, cfg.AdminToken, proxyConfig(cfg))
	e := NewServer(cfg, h)

	// Start server
	go func() {
		utils.Log.Info("url scanner listening",
			utils.Field("port", cfg.Port),
			utils.Field("whitelist_size", app.Scanner.Whitelist.Size()),
			utils.Field("features", service.CanonicalSchema.Names),
		)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Log.Fatal("shutting down the server", utils.Field("error", err.Error()))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app.Scheduler.Stop()
	if err := e.Shutdown(ctx); err != nil {
		utils.Log.Error("shutdown failed", utils.Field("error", err.Error()))
	}
	if app.Storage != nil {
		_ = app.Storage.Close()
	}
}
