package main

import (
	"time"

	"github.com/rotapool/backend/internal/config"
	"github.com/rotapool/backend/internal/handlers"
	"github.com/rotapool/backend/internal/models"
	"github.com/rotapool/backend/internal/services"
	"github.com/rotapool/backend/internal/utils"
	"github.com/rotapool/backend/pkg/logger"
)

// appServices holds the initialized services and handlers the router needs.
type appServices struct {
	cfg         *config.Config
	taskQueue   services.TaskQueue
	rotationSvc *services.RotationService
	worker      *services.RotationWorker
	dispatcher  *services.Dispatcher
	lateMonitor *services.LateMonitor

	authHandler         *handlers.AuthHandler
	healthHandler       *handlers.HealthHandler
	groupHandler        *handlers.GroupHandler
	memberHandler       *handlers.MemberHandler
	contributionHandler *handlers.ContributionHandler
	cycleHandler        *handlers.CycleHandler
	rotationHandler     *handlers.RotationHandler
	lifecycleHandler    *handlers.LifecycleHandler
	notificationHandler *handlers.NotificationHandler
	auditHandler        *handlers.AuditHandler
}

// bootstrap initializes database, services, background workers and handlers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	db := models.GetDB()
	services.InitAuditLogger(db)

	// Task queue: asynq when Redis is enabled, poll-only otherwise.
	taskQueue := services.InitTaskQueue(cfg)
	rotationSvc := services.NewRotationService(db, &cfg.Rotation, taskQueue)

	// The dispatcher is always on; it is the durability net that re-runs
	// rotation jobs a restart or dropped queue entry left behind.
	dispatcher := services.NewDispatcher(db, rotationSvc, time.Minute)
	dispatcher.Start()

	var worker *services.RotationWorker
	if taskQueue.IsAsync() {
		worker = services.NewRotationWorker(db, cfg, rotationSvc)
		if err := worker.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start rotation worker")
			worker = nil
		}
	}

	lateMonitor := services.NewLateMonitor(db, &cfg.Rotation)
	if err := lateMonitor.Start(""); err != nil {
		logger.Error().Err(err).Msg("Failed to start late payment monitor")
	}

	if err := services.CreateAdminIfNotExists(db, "0000000000", "changeme123"); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	return &appServices{
		cfg:         cfg,
		taskQueue:   taskQueue,
		rotationSvc: rotationSvc,
		worker:      worker,
		dispatcher:  dispatcher,
		lateMonitor: lateMonitor,

		authHandler:         handlers.NewAuthHandler(db, cfg),
		healthHandler:       handlers.NewHealthHandler(db),
		groupHandler:        handlers.NewGroupHandler(db, cfg),
		memberHandler:       handlers.NewMemberHandler(db, cfg),
		contributionHandler: handlers.NewContributionHandler(db, cfg, taskQueue),
		cycleHandler:        handlers.NewCycleHandler(db, cfg, taskQueue),
		rotationHandler:     handlers.NewRotationHandler(db, cfg, taskQueue),
		lifecycleHandler:    handlers.NewLifecycleHandler(db, cfg),
		notificationHandler: handlers.NewNotificationHandler(db),
		auditHandler:        handlers.NewAuditHandler(db),
	}
}

// shutdown gracefully stops background workers.
func (s *appServices) shutdown() {
	s.lateMonitor.Stop()
	s.dispatcher.Stop()
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	logger.Info().Msg("All background workers stopped")
}
