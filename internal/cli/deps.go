package cli

import (
	"context"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/apk-analysis/apk-libdetector/internal/config"
	"github.com/apk-analysis/apk-libdetector/internal/metrics"
	"github.com/apk-analysis/apk-libdetector/internal/report"
	"github.com/apk-analysis/apk-libdetector/internal/repository"
	"github.com/apk-analysis/apk-libdetector/internal/service"
	"github.com/sirupsen/logrus"
)

// buildDependencies 按配置连接数据库和 RabbitMQ，未启用的依赖保持为 nil
//
// 返回的 cleanup 负责关闭已建立的连接。
func buildDependencies(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (service.Dependencies, func(), error) {
	deps := service.Dependencies{
		Metrics: metrics.NewMetrics(logger, cfg.Metrics.Namespace),
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Database.Enabled {
		db, err := repository.InitDB(&cfg.Database, logger)
		if err != nil {
			return deps, cleanup, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("failed to initialize database").
				WithCause(err)
		}
		closers = append(closers, func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		})
		deps.Repo = repository.NewScanRepository(db)
	}

	if cfg.RabbitMQ.Enabled {
		publisher, err := report.NewAMQPPublisher(ctx, &cfg.RabbitMQ, logger)
		if err != nil {
			cleanup()
			return deps, func() {}, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("failed to connect to RabbitMQ").
				WithCause(err)
		}
		closers = append(closers, func() {
			if err := publisher.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close RabbitMQ publisher")
			}
		})
		deps.Publisher = publisher
	}

	return deps, cleanup, nil
}
