package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/mikeydub/go-activity/env"
	"github.com/mikeydub/go-activity/middleware"
	"github.com/mikeydub/go-activity/publicapi"
	"github.com/mikeydub/go-activity/service/activity"
	"github.com/mikeydub/go-activity/service/event"
	"github.com/mikeydub/go-activity/service/logger"
	"github.com/mikeydub/go-activity/service/mention"
	"github.com/mikeydub/go-activity/service/metric"
	"github.com/mikeydub/go-activity/service/persist"
	"github.com/mikeydub/go-activity/service/persist/memory"
	"github.com/mikeydub/go-activity/service/persist/postgres"
	"github.com/mikeydub/go-activity/service/redis"
	sentryutil "github.com/mikeydub/go-activity/service/sentry"
	"github.com/mikeydub/go-activity/util"
	"github.com/mikeydub/go-activity/validate"
)

// Dependencies are the long lived clients and services a server runs on.
type Dependencies struct {
	ActivityStore persist.ActivityStore
	UserStore     persist.UserStore
	FeedCache     activity.FeedCache
	MentionLocker mention.Locker
	FavoriteLock  mention.Locker
	Registry      *prometheus.Registry
	Hooks         *event.Hooks
	Actions       *publicapi.ActionRegistry

	closers []func() error
}

func (d *Dependencies) Close() {
	for _, c := range d.closers {
		if err := c(); err != nil {
			logger.For(nil).WithError(err).Warn("failed to close dependency")
		}
	}
}

// Init initializes the server
func Init() (*gin.Engine, *Dependencies) {
	SetDefaults()

	logger.InitWithDefaults(env.GetString(context.Background(), "ENV"))
	initSentry()

	deps := NewDependencies(context.Background())
	return CoreInit(deps), deps
}

// NewDependencies connects the stores and caches selected by STORE and CACHE.
func NewDependencies(ctx context.Context) *Dependencies {
	deps := &Dependencies{
		Registry: prometheus.NewRegistry(),
		Hooks:    event.NewHooks(),
		Actions:  publicapi.NewActionRegistry(),
	}
	deps.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	switch env.GetString(ctx, "STORE") {
	case "memory":
		logger.For(ctx).Info("using in-memory activity store")
		deps.ActivityStore = memory.NewActivityRepository()
		deps.UserStore = memory.NewUserRepository()
	default:
		repos := postgres.NewRepositories(postgres.MustCreateClient(postgres.WithAppName("activity")))
		deps.ActivityStore = repos.ActivityRepository
		deps.UserStore = repos.UserRepository
		deps.closers = append(deps.closers, repos.Close)
	}

	lockTTL := env.GetDuration(ctx, "MENTION_LOCK_TTL")

	switch env.GetString(ctx, "CACHE") {
	case "memory":
		logger.For(ctx).Info("using in-memory feed cache and locks")
		deps.FeedCache = memory.NewCache()
		deps.MentionLocker = memory.NewLocker()
		deps.FavoriteLock = memory.NewLocker()
	default:
		feed := redis.NewCache(redis.FeedCache)
		mentionLocks := redis.NewCache(redis.MentionLockCache)
		favoriteLocks := redis.NewCache(redis.FavoriteLockCache)
		deps.FeedCache = feed
		deps.MentionLocker = redis.NewLocker(mentionLocks, lockTTL, lockTTL)
		deps.FavoriteLock = redis.NewLocker(favoriteLocks, lockTTL, lockTTL)
		deps.closers = append(deps.closers, feed.Close, mentionLocks.Close, favoriteLocks.Close)
	}

	return deps
}

// Services are the domain services built on top of Dependencies.
type Services struct {
	Activities *activity.Service
	Mentions   *mention.Counter
}

func NewServices(ctx context.Context, deps *Dependencies) Services {
	reporter := metric.Combine(metric.NewLogMetricReporter(), metric.NewPrometheusMetricReporter(deps.Registry))

	counter := mention.NewCounter(
		deps.ActivityStore,
		deps.UserStore,
		mention.UsernameResolver{Users: deps.UserStore},
		deps.MentionLocker,
		env.GetStringSlice(ctx, "MENTION_TYPES"),
	)
	counter.Metrics = reporter

	activities := activity.NewService(deps.ActivityStore, counter, deps.FeedCache)
	if ttl := env.GetDuration(ctx, "FEED_CACHE_TTL"); ttl > 0 {
		activities.CacheTTL = ttl
	}
	if depth := env.GetInt(ctx, "MAX_COMMENT_DEPTH"); depth > 0 {
		activities.MaxCommentDepth = depth
	}

	return Services{Activities: activities, Mentions: counter}
}

// NewAPI composes the public API from deps.
func NewAPI(ctx context.Context, deps *Dependencies) *publicapi.PublicAPI {
	services := NewServices(ctx, deps)

	return publicapi.New(publicapi.Deps{
		Activities: services.Activities,
		Users:      deps.UserStore,
		Mentions:   services.Mentions,
		Locker:     deps.FavoriteLock,
		Hooks:      deps.Hooks,
		Actions:    deps.Actions,
	}, publicapi.Config{
		SiteURL: env.GetString(ctx, "SITE_URL"),
		Slug:    env.GetString(ctx, "ACTIVITY_SLUG"),
	})
}

// CoreInit initializes core server functionality. This is abstracted
// so the test server can also utilize it
func CoreInit(deps *Dependencies) *gin.Engine {
	logger.For(nil).Info("initializing server...")

	if viper.GetString("ENV") != "production" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.ContextWithFallback = true
	router.Use(
		gin.Recovery(),
		middleware.Sentry(false),
		middleware.HandleCORS(strings.Split(viper.GetString("ALLOWED_ORIGINS"), ",")),
		middleware.GinContextToContext(),
		middleware.RequestLogger(),
		middleware.Metrics(deps.Registry),
		middleware.ErrLogger(),
	)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		logger.For(nil).Info("registering validation")
		validate.RegisterCustomValidators(v)
	}

	api := NewAPI(context.Background(), deps)
	router.Use(middleware.AddAPI(api))

	return handlersInit(router, deps.Registry)
}

func SetDefaults() {
	viper.SetDefault("ENV", "local")
	viper.SetDefault("PORT", 4000)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("POSTGRES_HOST", "0.0.0.0")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "postgres")
	viper.SetDefault("POSTGRES_PASSWORD", "")
	viper.SetDefault("POSTGRES_DB", "postgres")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("REDIS_PASS", "")
	viper.SetDefault("STORE", "postgres")
	viper.SetDefault("CACHE", "redis")
	viper.SetDefault("SENTRY_DSN", "")
	viper.SetDefault("SENTRY_TRACES_SAMPLE_RATE", 0.0)
	viper.SetDefault("SITE_URL", "http://localhost:4000")
	viper.SetDefault("ACTIVITY_SLUG", "activity")
	viper.SetDefault("MENTION_TYPES", strings.Join(mention.DefaultEligibleTypes, ","))
	viper.SetDefault("MAX_COMMENT_DEPTH", activity.DefaultMaxCommentDepth)
	viper.SetDefault("FEED_CACHE_TTL", activity.DefaultCacheTTL.String())
	viper.SetDefault("MENTION_LOCK_TTL", (5 * time.Second).String())
	viper.SetDefault("VERSION", "")

	viper.AutomaticEnv()

	util.LoadEnvFile("app.yaml")

	env.RegisterValidation("ENV", "required,oneof=local test development production")
	env.RegisterValidation("STORE", "oneof=postgres memory")
	env.RegisterValidation("CACHE", "oneof=redis memory")
	env.RegisterValidation("SITE_URL", "required,url")
	env.RegisterValidation("SENTRY_DSN", "required_for_env=production")
	env.RegisterValidation("MAX_COMMENT_DEPTH", "numeric")
}

func initSentry() {
	if viper.GetString("ENV") == "local" {
		logger.For(nil).Info("skipping sentry init")
		return
	}

	logger.For(nil).Info("initializing sentry...")

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              viper.GetString("SENTRY_DSN"),
		Environment:      viper.GetString("ENV"),
		TracesSampleRate: viper.GetFloat64("SENTRY_TRACES_SAMPLE_RATE"),
		Release:          viper.GetString("VERSION"),
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			return sentryutil.UpdateErrorFingerprints(event, hint)
		},
	})

	if err != nil {
		logger.For(nil).Fatalf("failed to start sentry: %s", err)
	}

	logger.SetLoggerOptions(func(l *logrus.Logger) {
		l.AddHook(sentryutil.SentryLoggerHook{})
	})
}

// Addr is the address the server listens on.
func Addr() string {
	return fmt.Sprintf(":%d", viper.GetInt("PORT"))
}
