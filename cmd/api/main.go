package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/field-service/internal/api/http"
	"github.com/spec-kit/field-service/internal/api/http/handlers"
	"github.com/spec-kit/field-service/internal/auth"
	"github.com/spec-kit/field-service/internal/config"
	"github.com/spec-kit/field-service/internal/events"
	"github.com/spec-kit/field-service/internal/messaging"
	"github.com/spec-kit/field-service/internal/observability"
	"github.com/spec-kit/field-service/internal/persistence"
	"github.com/spec-kit/field-service/internal/repository"
	"github.com/spec-kit/field-service/internal/service"
	"github.com/spec-kit/field-service/internal/storage"
	"github.com/spec-kit/field-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	assignmentRepo := repository.NewAssignmentRepository(pool)
	technicianRepo := repository.NewTechnicianRepository(pool)
	staffRepo := repository.NewStaffRepository(pool)
	envelopeRepo := repository.NewEnvelopeRepository(pool)
	codeRepo := repository.NewCodeRepository(pool)
	historyRepo := repository.NewTicketHistoryRepository(pool)
	runner := repository.NewTxRunner(pool)

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	gateway := messaging.NewGatewayClient(cfg.Gateway, logger)
	gateway.Ping(ctx)

	evidenceStore, err := storage.NewEvidenceStore(cfg.Evidence)
	if err != nil {
		logger.Fatal("failed to init evidence store", zap.Error(err))
	}

	envelopeService := service.NewEnvelopeService(envelopeRepo, gateway, cfg.Dispatch.MaxAttempts, logger)
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:     ticketRepo,
		AssignmentRepo: assignmentRepo,
		TechnicianRepo: technicianRepo,
		HistoryRepo:    historyRepo,
		Runner:         runner,
		Envelopes:      envelopeService,
		Dispatcher:     dispatcher,
	})
	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo:     ticketRepo,
		AssignmentRepo: assignmentRepo,
		TechnicianRepo: technicianRepo,
		HistoryRepo:    historyRepo,
		Runner:         runner,
		Envelopes:      envelopeService,
		Dispatcher:     dispatcher,
		OpsAddress:     cfg.Gateway.OpsAddress,
	})
	codeService := service.NewCodeService(codeRepo, runner, envelopeService, cfg.Code)
	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		StaffRepo:      staffRepo,
		TechnicianRepo: technicianRepo,
		Codes:          codeService,
	})
	technicianService := service.NewTechnicianService(technicianRepo, cfg.Auth.BcryptCost)

	broadcast := service.NewBroadcastService(dispatcher, logger, cfg.Gateway.BroadcastURL)
	broadcast.RegisterHandlers()

	dispatchWorker := worker.NewDispatchWorker(envelopeRepo, gateway, dispatcher, metrics, logger, cfg.Dispatch)
	go dispatchWorker.Run(ctx)

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), staffRepo, technicianRepo)

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: cfg.App.Env == "production",
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, gateway),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Assignments:    handlers.NewAssignmentsHandler(assignmentService),
		Envelopes:      handlers.NewEnvelopesHandler(envelopeService),
		Technicians:    handlers.NewTechniciansHandler(technicianService),
		Evidence:       handlers.NewEvidenceHandler(evidenceStore),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
