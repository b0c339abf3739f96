package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/reshala/support-desk/internal/api/http"
	"github.com/reshala/support-desk/internal/api/http/handlers"
	"github.com/reshala/support-desk/internal/auth"
	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/service"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot and the Mini App API in one process",
	RunE:  runServe,
}

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run only the Telegram long-polling bot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), true, false)
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run only the Mini App HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), false, true)
	},
}

func runServe(cmd *cobra.Command, _ []string) error {
	return run(cmd.Context(), true, true)
}

func run(parent context.Context, withBot, withAPI bool) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if withBot && !withAPI {
		err = cfg.ValidateBot()
	} else {
		err = cfg.ValidateAPI()
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	d, err := newDesk(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()
	d.watchSignals(ctx, cancel)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if withAPI {
		app := d.httpApp()
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("http api listening", zap.String("addr", cfg.App.Addr()))
			if err := app.Listen(cfg.App.Addr()); err != nil {
				errCh <- fmt.Errorf("fiber listen: %w", err)
				cancel()
			}
		}()
		go func() {
			<-ctx.Done()
			if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
		}()
	}

	if withBot {
		if d.telegram == nil {
			logger.Warn("bot not started: BOT_TOKEN is empty")
		} else {
			if cfg.Telegram.SupportGroupID == 0 {
				logger.Warn("SUPPORT_GROUP_ID not set; clients will be told support is unavailable")
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.telegram.Start(ctx)
			}()
		}
	}

	<-ctx.Done()
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *desk) httpApp() *fiber.App {
	cfg := d.cfg
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	verifier := auth.NewVerifier(
		cfg.Telegram.BotToken,
		time.Duration(cfg.Auth.InitDataMaxAgeSeconds)*time.Second,
		cfg.Telegram.IsManager,
	)
	var devManager *domain.Manager
	if cfg.Auth.SkipAuth {
		d.logger.Warn("SKIP_AUTH is on; every API caller acts as a manager")
		devManager = &domain.Manager{Username: "dev"}
	}
	authService := service.NewAuthService(cfg.Auth, tokens, verifier)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + auth.InitDataHeader,
	}))
	httptransport.RegisterMiddlewares(app, d.logger, d.metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, d.readinessDeps()),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(d.tickets),
		Settings:       handlers.NewSettingsHandler(*cfg, d.profiles, d.telegram != nil, d.metrics),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, verifier, devManager),
	})
	return app
}
