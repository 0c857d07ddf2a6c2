package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scicloud-labs/jobgate/internal/appconfig"
	"github.com/scicloud-labs/jobgate/internal/filestore"
	"github.com/scicloud-labs/jobgate/internal/notify"
	"github.com/scicloud-labs/jobgate/internal/platform/auth"
	"github.com/scicloud-labs/jobgate/internal/platform/env"
	"github.com/scicloud-labs/jobgate/internal/platform/httpserver"
	"github.com/scicloud-labs/jobgate/internal/platform/objectstore"
	"github.com/scicloud-labs/jobgate/internal/platform/postgres"
	repopg "github.com/scicloud-labs/jobgate/internal/repo/postgres"
	jobservice "github.com/scicloud-labs/jobgate/internal/service/jobs"
	"github.com/scicloud-labs/jobgate/internal/workerapi"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("JOBGATE_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("JOBGATE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	uploadMaxMiB, err := env.Int("JOBGATE_UPLOAD_MAX_MIB", 2048)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	presignTTL, err := env.Duration("JOBGATE_PRESIGN_TTL", 10*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	configPollInterval, err := env.Duration("APPLICATION_CONFIG_POLL_INTERVAL", time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := repopg.Migrate(migrateCtx, db); err != nil {
		cancel()
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	cancel()

	// File storage backend: "local" for a shared volume, "s3" for object
	// storage. A static deployment choice.
	filesystem := strings.ToLower(env.String("FILESYSTEM", "local"))
	var (
		files    filestore.Gateway
		checks   []httpserver.ReadinessCheck
		storeCfg objectstore.Config
	)
	checks = append(checks, httpserver.ReadinessCheck{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return db.PingContext(checkCtx)
		},
	})

	switch filesystem {
	case "local":
		root := env.String("USER_DATA_ROOT", "./user_data")
		local, err := filestore.NewLocal(root)
		if err != nil {
			logger.Error("local storage init failed", "root", root, "error", err)
			os.Exit(2)
		}
		files = local
	case "s3":
		storeCfg, err = objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		client, err := objectstore.NewClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := objectstore.EnsureBucket(startupCtx, client, storeCfg); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()
		object, err := filestore.NewObject(client, storeCfg)
		if err != nil {
			logger.Error("object storage init failed", "error", err)
			os.Exit(2)
		}
		files = object
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "s3",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBucket(checkCtx, client, storeCfg)
			},
		})
	default:
		logger.Error("FILESYSTEM must be local or s3", "value", filesystem)
		os.Exit(2)
	}

	configLocation := env.String("APPLICATION_CONFIG_FILE", "application_config.yaml")
	configSource, err := buildConfigSource(configLocation)
	if err != nil {
		logger.Error("invalid application config location", "location", configLocation, "error", err)
		os.Exit(2)
	}
	configStore, err := appconfig.NewStore(ctx, configSource, logger)
	if err != nil {
		logger.Error("application config load failed", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := configStore.Watch(ctx, configPollInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("application config watch stopped", "error", err)
		}
	}()

	authCfg := auth.ConfigFromEnv()
	var (
		authenticator auth.Authenticator
		issueToken    tokenIssuer
		devService    *auth.DevService
	)
	switch authCfg.Mode {
	case auth.ModeCognito:
		// Production clients obtain tokens from Cognito directly; this
		// service only verifies them. Token issuance stays unset so the
		// /token and /login routes are never registered.
		cognito, err := auth.NewCognitoService(ctx, authCfg)
		if err != nil {
			logger.Error("cognito init failed", "error", err)
			os.Exit(2)
		}
		authenticator = cognito
	case auth.ModeDev:
		devService, err = auth.NewDevService(authCfg)
		if err != nil {
			logger.Error("dev auth init failed", "error", err)
			os.Exit(2)
		}
		authenticator = devService
		issueToken = func(ctx context.Context, username, password string) (string, int, error) {
			ttl := time.Hour
			token, err := devService.Login(username, password, ttl)
			return token, int(ttl.Seconds()), err
		}
	default:
		logger.Error("unknown auth mode", "mode", authCfg.Mode)
		os.Exit(2)
	}

	queueCfg := workerapi.ConfigFromEnv()
	queue, err := workerapi.NewClient(queueCfg)
	if err != nil {
		logger.Error("worker api client init failed", "error", err)
		os.Exit(2)
	}

	sender, err := notify.NewSender(notify.ConfigFromEnv())
	if err != nil {
		logger.Error("notification sender init failed", "error", err)
		os.Exit(2)
	}

	jobStore := repopg.NewJobStore(db)
	service := jobservice.NewService(logger, jobStore, files, configStore, queue, sender)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("jobgate"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("jobgate", checks...))

	api := newJobgateAPI(logger, files, service, configStore, authCfg, issueToken, devService, int64(uploadMaxMiB)<<20, presignTTL)
	api.register(mux)

	skipPrefixes := []string{"/healthz", "/readyz", "/access_info", "/_job_status"}
	if issueToken != nil {
		skipPrefixes = append(skipPrefixes, "/token", "/login")
	}
	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		SkipPrefixes:  skipPrefixes,
		Skip: func(r *http.Request) bool {
			// root banner and dev registration are public; GET /user is not
			if r.URL.Path == "/" {
				return true
			}
			return r.Method == http.MethodPost && r.URL.Path == "/user"
		},
	}.Wrap(mux)

	if origin := env.String("JOBGATE_CORS_ORIGIN", ""); origin != "" {
		handler = httpserver.CORS(origin, handler)
	}

	cfg := httpserver.Config{
		Service:         "jobgate",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "jobgate", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// buildConfigSource turns a location string into a config source: an
// s3://bucket/key URL or a local file path.
func buildConfigSource(location string) (appconfig.Source, error) {
	if strings.HasPrefix(location, "s3://") {
		bucket, key, err := appconfig.ParseS3Location(location)
		if err != nil {
			return nil, err
		}
		cfg, err := objectstore.ConfigForBucket(bucket)
		if err != nil {
			return nil, err
		}
		client, err := objectstore.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		return appconfig.ObjectSource{Client: client, Bucket: bucket, Key: key}, nil
	}
	return appconfig.LocalSource{Path: location}, nil
}
