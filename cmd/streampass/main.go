package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/StreamPass/app/controllers"
	"github.com/ManuelReschke/StreamPass/app/repository"
	"github.com/ManuelReschke/StreamPass/internal/pkg/cache"
	"github.com/ManuelReschke/StreamPass/internal/pkg/coupon"
	"github.com/ManuelReschke/StreamPass/internal/pkg/database"
	"github.com/ManuelReschke/StreamPass/internal/pkg/env"
	"github.com/ManuelReschke/StreamPass/internal/pkg/gateway"
	"github.com/ManuelReschke/StreamPass/internal/pkg/jobqueue"
	"github.com/ManuelReschke/StreamPass/internal/pkg/ledgerexport"
	"github.com/ManuelReschke/StreamPass/internal/pkg/purchase"
	"github.com/ManuelReschke/StreamPass/internal/pkg/router"
	"github.com/ManuelReschke/StreamPass/internal/pkg/security"
	"github.com/ManuelReschke/StreamPass/internal/pkg/streamtoken"
	"github.com/ManuelReschke/StreamPass/internal/pkg/subscription"
	"github.com/ManuelReschke/StreamPass/internal/pkg/wallet"
)

func main() {
	app, jobs := NewApplication()
	if jobs != nil {
		jobs.Start()
	}

	go func() {
		err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
		if err != nil {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if jobs != nil {
		jobs.Stop()
	}
	if err := cache.Close(); err != nil {
		log.Printf("Cache close: %v", err)
	}
	if err := database.Close(); err != nil {
		log.Printf("Database close: %v", err)
	}
}

// NewApplication wires the services behind the HTTP API. The returned
// manager is nil when the scheduler is disabled.
func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repos := repository.NewFactory(db).GetRepositories()
	commission := env.GetEnvInt64("PLATFORM_COMMISSION_PERCENT", 20)
	platformAccount := env.GetEnv("PLATFORM_ACCOUNT_ID", "platform")

	ledger := wallet.NewService(db, wallet.Options{Currency: env.GetEnv("CURRENCY", "EUR")})
	coupons := coupon.NewRepository(db)

	gw := gateway.NewClientFromEnv()
	if gw.BaseURL == "" {
		log.Println("GATEWAY_BASE_URL not set, top-ups will fail")
	}
	purchases := purchase.NewOrchestrator(db, ledger, coupons, repos.Catalog, gw, purchase.Options{
		CommissionPercent: commission,
		PlatformAccountID: platformAccount,
		GatewayTimeout:    env.GetEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
	})
	subs := subscription.NewManager(db, ledger, repos.Catalog, subscription.Options{
		CommissionPercent: commission,
		PlatformAccountID: platformAccount,
	})

	tokenKey, err := security.DeriveKey(env.GetEnv("APP_SECRET", ""), security.PurposeStreamToken)
	if err != nil {
		log.Fatalf("Stream token key: %v", err)
	}
	revocations := streamtoken.NewCachedRevocationList(streamtoken.NewDBRevocationList(db, time.Now), cache.GetClient(), time.Now)
	tokens, err := streamtoken.NewIssuer(db, tokenKey, repos.Catalog, subs, purchases, revocations, streamtoken.Options{
		TTL:    env.GetEnvDuration("STREAM_TOKEN_TTL", streamtoken.DefaultTTL),
		Issuer: env.GetEnv("STREAM_TOKEN_ISSUER", streamtoken.DefaultIssuer),
		Leeway: env.GetEnvDuration("STREAM_TOKEN_LEEWAY", 0),
	})
	if err != nil {
		log.Fatalf("Stream token issuer: %v", err)
	}

	var jobs *jobqueue.Manager
	if env.GetEnvBool("JOBQUEUE_ENABLED", true) {
		jobs = newJobManager(ledger, subs, tokens)
	}

	app := fiber.New(fiber.Config{
		AppName:   "StreamPass",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	cfg := router.Config{
		InternalKey:     env.GetEnv("API_INTERNAL_KEY", ""),
		AdminKey:        env.GetEnv("API_ADMIN_KEY", ""),
		MediaKey:        env.GetEnv("MEDIA_SERVER_KEY", ""),
		OpenAPIFile:     openAPIFile(env.GetEnv("OPENAPI_FILE", "public/docs/v1/openapi.yml")),
		MonitorUsers:    monitorUsers(env.GetEnv("MONITOR_USERS", "")),
		RateLimitMax:    env.GetEnvInt("RATE_LIMIT_MAX", 120),
		RateLimitWindow: env.GetEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
	}
	if env.GetEnvBool("RATE_LIMIT_SHARED", !env.IsDev()) {
		cfg.LimiterStorage = cache.NewFiberStorage(cache.LimiterDatabase)
	}

	router.InstallRouter(app, &controllers.Handlers{
		Wallet:        ledger,
		Purchases:     purchases,
		Subscriptions: subs,
		Tokens:        tokens,
		Coupons:       coupons,
		Jobs:          jobs,
		WebhookSecret: env.GetEnv("GATEWAY_WEBHOOK_SECRET", ""),
	}, cfg)

	return app, jobs
}

func newJobManager(ledger *wallet.Service, subs *subscription.Manager, tokens *streamtoken.Issuer) *jobqueue.Manager {
	tasks := &jobqueue.Tasks{
		Subscriptions: subs,
		Tokens:        tokens,
		Ledger:        ledger,
		RenewalWindow: env.GetEnvDuration("SUBSCRIPTION_RENEWAL_WINDOW", 72*time.Hour),
		GracePeriod:   env.GetEnvDuration("SUBSCRIPTION_GRACE_PERIOD", time.Hour),
	}

	exportCfg, err := ledgerexport.LoadConfig()
	if err != nil {
		log.Fatalf("Ledger export config: %v", err)
	}
	if exportCfg.IsEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		uploader, err := ledgerexport.NewS3Uploader(ctx, exportCfg)
		cancel()
		if err != nil {
			log.Printf("Ledger export disabled: %v", err)
		} else {
			tasks.Exporter = ledgerexport.NewExporter(ledger, uploader, exportCfg)
		}
	}

	queue := jobqueue.NewQueue(cache.GetClient(), env.GetEnvInt("JOBQUEUE_WORKERS", 3))
	return jobqueue.NewManager(queue, tasks, jobqueue.Schedule{})
}

// openAPIFile drops a missing document so the docs route stays unmounted
// instead of failing startup.
func openAPIFile(path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		log.Printf("API docs disabled: %v", err)
		return ""
	}
	return path
}

// monitorUsers parses "user:pass,user2:pass2".
func monitorUsers(raw string) map[string]string {
	users := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		name, pass, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || name == "" || pass == "" {
			continue
		}
		users[name] = pass
	}
	return users
}
