// Command devlake-mcp serves DevLake data over the Model Context Protocol
// with OIDC bearer-token authentication.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/konflux-ci/devlake-mcp/internal/config"
	"github.com/konflux-ci/devlake-mcp/internal/database"
	"github.com/konflux-ci/devlake-mcp/internal/metrics"
	"github.com/konflux-ci/devlake-mcp/internal/middleware"
	"github.com/konflux-ci/devlake-mcp/internal/oidc"
	"github.com/konflux-ci/devlake-mcp/internal/security"
	"github.com/konflux-ci/devlake-mcp/internal/server"
	"github.com/konflux-ci/devlake-mcp/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := cfg.Logging.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	sec := security.NewManager(log)
	auth := oidc.New(cfg.OIDC, oidc.WithLogger(log))

	registry := tools.NewRegistry()
	registry.Register(&tools.ConnectDatabase{DB: db})
	registry.Register(&tools.ExecuteSQLQuery{DB: db, Security: sec})
	registry.Register(&tools.ListDatabases{DB: db})
	registry.Register(&tools.ListTables{DB: db, Security: sec})
	registry.Register(&tools.GetTableSchema{DB: db, Security: sec})

	authMW := middleware.NewAuth(auth, cfg.Server.Realm,
		middleware.WithAuthLogger(log),
		middleware.WithAuthMetrics(metrics.NewPrometheus(prometheus.DefaultRegisterer)),
	)

	srv := server.New(server.Options{
		Addr:          cfg.Server.Addr(),
		Realm:         cfg.Server.Realm,
		Authenticator: auth,
		Registry:      registry,
		Security:      sec,
		Log:           log,
		AuthMW:        authMW,
	})

	if !auth.IsActive() {
		log.Warn("OIDC authentication is disabled; requests will not be authenticated")
	}

	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Fatal("server exited")
	}
	log.Info("server stopped")
}
