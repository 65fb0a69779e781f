package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/access"
	"github.com/surplustrust/platform/internal/adapters"
	"github.com/surplustrust/platform/internal/api"
	"github.com/surplustrust/platform/internal/auditlog"
	"github.com/surplustrust/platform/internal/billing"
	"github.com/surplustrust/platform/internal/crawler"
	"github.com/surplustrust/platform/internal/email"
	"github.com/surplustrust/platform/internal/extraction"
	"github.com/surplustrust/platform/internal/lead"
	"github.com/surplustrust/platform/internal/lifecycle"
	"github.com/surplustrust/platform/internal/statute"
	"github.com/surplustrust/platform/internal/store"
	"github.com/surplustrust/platform/internal/users"
	"github.com/surplustrust/platform/internal/wallet"
	"github.com/surplustrust/platform/internal/webhooks"
)

// sourceConfig describes one county source to crawl, read from the
// crawl.sources config list. Family selects which platform adapter
// construct the source with; fields outside a family's needs are
// ignored.
type sourceConfig struct {
	Name         string `mapstructure:"name"`
	County       string `mapstructure:"county"`
	Family       string `mapstructure:"family"` // calendar_pdf | aspnet_form | generic_link | auction_feed
	URL          string `mapstructure:"url"`
	LinkPattern  string `mapstructure:"link_pattern"`
	DetailURLFmt string `mapstructure:"detail_url_format"` // "%s" replaced with listing ID
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("server")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("server.admin_api_key", "")
	viper.SetDefault("server.checkout_base_url", "https://checkout.example.com/session")
	viper.SetDefault("server.restriction_months", 6)
	viper.SetDefault("server.founders_cap", 100)
	viper.SetDefault("server.session_ttl_hours", 72)

	viper.SetDefault("store.path", "surplustrust.db")

	viper.SetDefault("jwt.rsa_key_path", "")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("jwt.ttl_hours", 72)

	viper.SetDefault("preview.secret", "")
	viper.SetDefault("billing.webhook_secret", "")

	viper.SetDefault("email.smtp_host", "")
	viper.SetDefault("email.smtp_port", 587)
	viper.SetDefault("email.smtp_username", "")
	viper.SetDefault("email.smtp_password", "")
	viper.SetDefault("email.from_address", "noreply@surplustrust.com")

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("crawl.interval_minutes", 60)
	viper.SetDefault("crawl.max_concurrent", 8)
	viper.SetDefault("crawl.fail_threshold", 3)
	viper.SetDefault("crawl.host_interval_seconds", 30)
	viper.SetDefault("crawl.sources", []map[string]any{})
	viper.SetDefault("crawl.data_dir", "data/documents")

	viper.SetDefault("lifecycle.sweep_interval_minutes", 60)
	viper.SetDefault("lifecycle.portal_counties", []string{})

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Store ────────────────────────────────────────────────────────────────
	st, err := store.Open(viper.GetString("store.path"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	logger.Info("store migrated", zap.String("path", viper.GetString("store.path")))

	withTx := st.Tx

	// ── Audit log ────────────────────────────────────────────────────────────
	audit, err := auditlog.NewSQLiteLog(st.DB, withTx, logger)
	if err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}
	if err := audit.Verify(context.Background()); err != nil {
		logger.Warn("pipeline event chain integrity check FAILED", zap.Error(err))
	} else {
		n, _ := audit.Len(context.Background())
		root, _ := audit.Root(context.Background())
		logger.Info("pipeline event chain verified", zap.Int("entries", n), zap.String("root", root))
	}

	// ── Session token issuer ────────────────────────────────────────────────
	ttl := time.Duration(viper.GetInt("jwt.ttl_hours")) * time.Hour
	var tokens *access.TokenIssuer
	if keyPath := viper.GetString("jwt.rsa_key_path"); keyPath != "" {
		key, err := access.LoadOrCreateRSAKey(keyPath)
		if err != nil {
			return fmt.Errorf("session signing key: %w", err)
		}
		tokens = access.NewRSATokenIssuer(key, ttl)
		logger.Info("session tokens: RS256", zap.String("key_path", keyPath))
	} else {
		secret := viper.GetString("jwt.secret")
		if secret == "" {
			logger.Warn("jwt.secret unset and jwt.rsa_key_path unset — generating an ephemeral dev secret, sessions will not survive a restart")
			secret = uuidFallbackSecret()
		}
		tokens = access.NewHMACTokenIssuer(secret, ttl)
		logger.Info("session tokens: HS256 (dev mode)")
	}

	// ── Email sender ─────────────────────────────────────────────────────────
	var mailer email.EmailSender
	smtpHost := viper.GetString("email.smtp_host")
	if smtpHost != "" {
		mailer = email.NewSMTPSender(
			smtpHost,
			viper.GetInt("email.smtp_port"),
			viper.GetString("email.smtp_username"),
			viper.GetString("email.smtp_password"),
			viper.GetString("email.from_address"),
		)
		logger.Info("SMTP email sender configured", zap.String("host", smtpHost))
	} else {
		mailer = email.NewNoopSender(logger)
		logger.Info("email sender: noop (set email.smtp_host to enable SMTP)")
	}

	// ── Counters / session gauge ────────────────────────────────────────────
	var counter access.Counter
	var gauge access.Gauge
	if addr := viper.GetString("redis.addr"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		counter = access.NewRedisCounter(client)
		gauge = access.NewRedisSessionGauge(client)
		logger.Info("view/session quotas backed by redis", zap.String("addr", addr))
	} else {
		counter = access.NewInMemoryCounter()
		gauge = access.NewInMemorySessionGauge()
		logger.Info("view/session quotas backed by in-memory store (single-instance only)")
	}

	// ── Domain engines ───────────────────────────────────────────────────────
	leadRepo := lead.NewRepository(st.DB)
	userRepo := users.NewRepository(st.DB)
	userSvc := users.NewService(userRepo, mailer, logger)
	walletE := wallet.New(st, audit)
	billingBridge := billing.New(st, walletE, audit)
	webhookRepo := webhooks.NewRepository(st.DB)
	webhookSvc := webhooks.NewService(webhookRepo, logger)
	webhookSvc.SetMetricsRecorder(api.RecordWebhookDelivery)

	// County-specific parsers are registered ahead of the generic
	// fallback as county adapters (internal/adapters) come online; an
	// empty county string means "no county-specific hint available".
	parserRegistry := extraction.NewRegistry(
		extraction.NewExcessFundsListParser(""),
		extraction.NewGenericParser(""),
	)
	extractionEngine := extraction.NewEngine(parserRegistry, leadRepo, st.DB, audit, logger)
	extractionEngine.SetNotifier(webhookSvc)
	extractionEngine.SetStatuteLookup(statute.NewLookup(st.DB))

	portals := lifecycle.PortalCounties{}
	for _, c := range viper.GetStringSlice("lifecycle.portal_counties") {
		portals[strings.ToLower(c)] = true
	}
	lifecycleEngine := lifecycle.New(leadRepo, audit, lifecycle.RealClock{}, portals, lifecycle.Config{
		RestrictionMonths: viper.GetInt("server.restriction_months"),
	}, logger)
	lifecycleEngine.SetNotifier(webhookSvc)

	scraperRegistry := crawler.NewScraperRegistry(st.DB, viper.GetInt("crawl.fail_threshold"), logger)

	hostInterval := time.Duration(viper.GetInt("crawl.host_interval_seconds")) * time.Second
	scheduler := crawler.NewScheduler(hostInterval)
	crawlCache := crawler.NewSQLiteCache(st.DB)
	robots := crawler.NewRobotsChecker()
	fetcher := crawler.NewFetcher(scheduler, crawlCache, robots, logger)
	dataDir := viper.GetString("crawl.data_dir")

	var sourceConfigs []sourceConfig
	if err := viper.UnmarshalKey("crawl.sources", &sourceConfigs); err != nil {
		return fmt.Errorf("parse crawl.sources: %w", err)
	}

	scrapers := make([]crawler.Scraper, 0, len(sourceConfigs))
	for _, sc := range sourceConfigs {
		s, err := buildScraper(sc, fetcher, st.DB, extractionEngine, dataDir, logger)
		if err != nil {
			logger.Warn("skipping misconfigured crawl source", zap.String("name", sc.Name), zap.Error(err))
			continue
		}
		scrapers = append(scrapers, s)
		if err := scraperRegistry.Register(context.Background(), s.Name(), s.Jurisdiction()); err != nil {
			logger.Warn("register scraper failed", zap.String("name", s.Name()), zap.Error(err))
		}
	}

	// ── HTTP router ──────────────────────────────────────────────────────────
	cfg := api.Config{
		CORSOrigins:       viper.GetStringSlice("server.cors_origins"),
		AdminAPIKey:       viper.GetString("server.admin_api_key"),
		PreviewSecret:     viper.GetString("preview.secret"),
		WebhookSecret:     viper.GetString("billing.webhook_secret"),
		CheckoutBaseURL:   viper.GetString("server.checkout_base_url"),
		RestrictionMonths: viper.GetInt("server.restriction_months"),
		FoundersCap:       viper.GetInt("server.founders_cap"),
		RateLimitRPS:      viper.GetInt("server.rate_limit_rps"),
		SessionTTL:        time.Duration(viper.GetInt("server.session_ttl_hours")) * time.Hour,
	}
	deps := api.Deps{
		DB:       st.DB,
		Leads:    leadRepo,
		Users:    userSvc,
		UserRepo: userRepo,
		WalletE:  walletE,
		Tokens:   tokens,
		Billing:  billingBridge,
		Webhooks: webhookSvc,
		WithTx:   withTx,
		Clock:    lifecycle.RealClock{},
		Counter:  counter,
		Gauge:    gauge,
		Logger:   logger,
	}
	router := api.New(cfg, deps)

	httpPort := viper.GetInt("server.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// ── Background: periodic lifecycle sweep ────────────────────────────────
	bgCtx, stopBg := context.WithCancel(context.Background())
	sweepInterval := time.Duration(viper.GetInt("lifecycle.sweep_interval_minutes")) * time.Minute
	if sweepInterval <= 0 {
		sweepInterval = 60 * time.Minute
	}
	go lifecycleEngine.Start(bgCtx, sweepInterval)

	// ── Background: periodic crawl sweep ────────────────────────────────────
	crawlInterval := time.Duration(viper.GetInt("crawl.interval_minutes")) * time.Minute
	if crawlInterval <= 0 {
		crawlInterval = 60 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(crawlInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
				crawler.CrawlAll(ctx, scraperRegistry, scrapers, viper.GetInt("crawl.max_concurrent"), logger)
				cancel()
			case <-quit:
				return
			}
		}
	}()

	go func() {
		logger.Info("server HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down server...")
	stopBg()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}

// uuidFallbackSecret generates a random dev-mode HMAC secret when none is
// configured, so a first run never signs sessions with an empty key.
func uuidFallbackSecret() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%x", buf)
}

// buildScraper constructs the platform adapter named by sc.Family and
// wraps it into a crawler.Scraper bound to sink.
func buildScraper(sc sourceConfig, fetcher *crawler.Fetcher, db *sql.DB, sink adapters.DocumentSink, dataDir string, logger *zap.Logger) (crawler.Scraper, error) {
	if sc.Name == "" || sc.County == "" || sc.URL == "" {
		return nil, fmt.Errorf("source missing name, county, or url")
	}

	var adapter adapters.Adapter
	switch sc.Family {
	case "calendar_pdf":
		adapter = adapters.NewCalendarPDFAdapter(fetcher, sc.URL, logger)
	case "aspnet_form":
		adapter = adapters.NewASPNetFormAdapter(fetcher, sc.URL, nil, logger)
	case "generic_link":
		var pattern *regexp.Regexp
		if sc.LinkPattern != "" {
			p, err := regexp.Compile(sc.LinkPattern)
			if err != nil {
				return nil, fmt.Errorf("compile link_pattern: %w", err)
			}
			pattern = p
		}
		adapter = adapters.NewGenericLinkAdapter(fetcher, sc.URL, pattern, logger)
	case "auction_feed":
		format := sc.DetailURLFmt
		if format == "" {
			format = sc.URL + "/%s"
		}
		adapter = adapters.NewAuctionPlatformAdapter(fetcher, sc.URL, func(id string) string {
			return fmt.Sprintf(format, id)
		}, logger)
	default:
		return nil, fmt.Errorf("unknown family %q", sc.Family)
	}

	return adapters.NewScraper(sc.Name, sc.County, adapter, db, sink, dataDir, logger), nil
}
