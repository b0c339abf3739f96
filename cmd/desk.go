package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/reshala/support-desk/internal/ai"
	"github.com/reshala/support-desk/internal/api/http/handlers"
	"github.com/reshala/support-desk/internal/bot"
	"github.com/reshala/support-desk/internal/config"
	"github.com/reshala/support-desk/internal/directory"
	"github.com/reshala/support-desk/internal/events"
	"github.com/reshala/support-desk/internal/gateway"
	"github.com/reshala/support-desk/internal/observability"
	"github.com/reshala/support-desk/internal/persistence"
	"github.com/reshala/support-desk/internal/profile"
	"github.com/reshala/support-desk/internal/repository"
	"github.com/reshala/support-desk/internal/service"
	"github.com/reshala/support-desk/internal/triage"
	"github.com/reshala/support-desk/internal/worker"
)

// loadConfig reads the dotenv file named by --env-file, then the environment.
func loadConfig() (*config.Config, *zap.Logger, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

type stores struct {
	tickets     repository.TicketRepository
	messages    repository.TicketMessageRepository
	attachments repository.AttachmentRepository
	audit       repository.TicketAuditRepository
	knowledge   repository.KnowledgeRepository
}

// desk is the wired process shared by the bot and the API.
type desk struct {
	cfg          *config.Config
	logger       *zap.Logger
	metrics      *observability.Metrics
	pg           *persistence.Postgres
	redis        *persistence.Redis
	profiles     *profile.Service
	tickets      *service.TicketService
	conversation *service.ConversationService
	cards        *service.CardService
	gateway      *gateway.BestEffort
	telegram     *bot.Client
	router       *bot.Router
}

func newDesk(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*desk, error) {
	d := &desk{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	d.pg = pg
	pool := pg.PoolHandle()
	if pool != nil && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, logger); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	var st stores
	if pool != nil {
		st = stores{
			tickets:     repository.NewTicketRepository(pool),
			messages:    repository.NewTicketMessageRepository(pool),
			attachments: repository.NewAttachmentRepository(pool),
			audit:       repository.NewTicketAuditRepository(pool),
			knowledge:   repository.NewKnowledgeRepository(pool),
		}
	} else {
		logger.Warn("using in-memory ticket store; tickets are lost on restart")
		mem := repository.NewMemoryStore()
		st = stores{
			tickets:     mem.Tickets(),
			messages:    mem.Messages(),
			attachments: mem.Attachments(),
			audit:       mem.Audit(),
			knowledge:   mem.Knowledge(),
		}
	}

	d.redis = persistence.NewRedis(cfg.Redis, logger)
	var cache profile.Cache
	if client := d.redis.Handle(); client != nil {
		cache = profile.NewRedisCache(client)
	} else {
		cache = profile.NewMemoryCache()
	}
	d.profiles = profile.NewService(profile.ServiceDeps{
		Users:    profile.NewRemnawaveClient(cfg.Remnawave, logger),
		Balances: profile.NewBedolagaClient(cfg.Bedolaga, logger),
		Cache:    cache,
		Keyspace: cfg.Redis.ProfileKeyspace,
		TTL:      cfg.Redis.ProfileTTL(),
		Logger:   logger.With(zap.String("component", "profile")),
	})

	var gw gateway.Gateway = gateway.NewNoop(logger)
	if cfg.Telegram.BotToken != "" {
		pollTimeout := time.Duration(cfg.Telegram.PollTimeoutSeconds) * time.Second
		client, err := bot.NewClient(cfg.Telegram.BotToken, pollTimeout, d.dispatchUpdate, logger)
		if err != nil {
			d.close()
			return nil, err
		}
		d.telegram = client
		gw = gateway.NewTelegramGateway(client.Bot())
	} else {
		logger.Warn("BOT_TOKEN not provided; Telegram delivery disabled")
	}
	d.gateway = gateway.NewBestEffort(gw, cfg.Telegram.CallTimeout(), logger)

	dispatcher := events.NewInMemoryDispatcher()
	dir := directory.New(cfg.Telegram.SupportGroupID)
	notifications := service.NewNotificationService(dispatcher, st.audit, d.metrics, logger)
	worker.StartNotificationWorker(dispatcher, dir, notifications)

	tuning, err := config.LoadTuning(cfg.Support.TuningFile)
	if err != nil {
		logger.Warn("tuning file ignored", zap.Error(err))
		tuning = &config.Tuning{}
	}

	d.tickets = service.NewTicketService(service.TicketDependencies{
		TicketRepo:     st.tickets,
		MessageRepo:    st.messages,
		AttachmentRepo: st.attachments,
		AuditRepo:      st.audit,
		Directory:      dir,
		Profiles:       d.profiles,
		Gateway:        d.gateway,
		Dispatcher:     dispatcher,
		SupportChatID:  cfg.Telegram.SupportGroupID,
		RetainClosed:   cfg.Support.RetainClosedTickets,
		Logger:         logger,
	})

	conversation := service.ConversationDependencies{
		Tickets:    d.tickets,
		Knowledge:  st.knowledge,
		Profiles:   d.profiles,
		Billing:    d.profiles,
		Classifier: triage.NewClassifier(tuning.EscalationTriggers),
		Prompt:     promptFor(cfg, tuning),
		Metrics:    d.metrics,
		Logger:     logger,
	}
	if client := ai.NewOpenAIClient(cfg.AI, logger); client != nil {
		conversation.AI = client
	} else {
		logger.Warn("AI auto-replies disabled", zap.Bool("enabled", cfg.AI.Enabled), zap.Int("keys", len(cfg.AI.APIKeys)))
	}
	d.conversation = service.NewConversationService(conversation)
	d.cards = service.NewCardService(d.tickets, d.profiles, logger)

	d.router = bot.NewRouter(bot.RouterDependencies{
		Conversation: d.conversation,
		Tickets:      d.tickets,
		Cards:        d.cards,
		Gateway:      d.gateway,
		IsManager:    cfg.Telegram.IsManager,
		MiniAppURL:   cfg.Support.MiniAppURL,
		Logger:       logger,
	})
	return d, nil
}

// dispatchUpdate is bound to the Telegram client before the router exists.
func (d *desk) dispatchUpdate(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if d.router == nil {
		return
	}
	d.router.Handle(ctx, b, update)
}

func promptFor(cfg *config.Config, tuning *config.Tuning) ai.PromptBuilder {
	support := tuning.Apply(cfg.Support)
	return ai.PromptBuilder{
		ServiceName:     support.ServiceName,
		Override:        support.SystemPromptOverride,
		MainBotUsername: support.MainBotUsername,
		HistoryTurns:    cfg.AI.HistoryWindow,
	}
}

// reloadTuning re-reads the tuning file into the live classifier and prompt.
func (d *desk) reloadTuning() {
	tuning, err := config.LoadTuning(d.cfg.Support.TuningFile)
	if err != nil {
		d.logger.Error("reload tuning", zap.Error(err))
		return
	}
	d.conversation.Classifier().Replace(tuning.EscalationTriggers)
	d.conversation.SetPrompt(promptFor(d.cfg, tuning))
	d.logger.Info("tuning reloaded",
		zap.String("file", d.cfg.Support.TuningFile),
		zap.Int("escalation_triggers", len(d.conversation.Classifier().Triggers())))
}

// readinessDeps lists the configured stores. Absent ones are left out so a
// nil pointer never ends up inside the Pinger interface.
func (d *desk) readinessDeps() map[string]handlers.Pinger {
	deps := map[string]handlers.Pinger{}
	if d.pg.PoolHandle() != nil {
		deps["postgres"] = d.pg
	}
	if d.redis.Handle() != nil {
		deps["redis"] = d.redis
	}
	return deps
}

func (d *desk) close() {
	d.redis.Close()
	d.pg.Close()
}

// watchSignals cancels on SIGINT/SIGTERM and reloads tuning on SIGHUP.
func (d *desk) watchSignals(ctx context.Context, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					d.reloadTuning()
					continue
				}
				d.logger.Info("shutting down", zap.String("signal", sig.String()))
				cancel()
				return
			}
		}
	}()
}
