package main

import (
	"context"
	"fmt"
	"html"
	"os"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"wagrambridge/bridge"
	"wagrambridge/config"
	"wagrambridge/database"
	"wagrambridge/mapper"
	"wagrambridge/media"
	"wagrambridge/ratelimit"
	"wagrambridge/scheduler"
	"wagrambridge/telegram"
	"wagrambridge/vault"
	"wagrambridge/whatsapp"
)

func main() {
	// Load configuration file
	cfg := config.New()
	cfg.SetDefaults()

	if len(os.Args) > 1 {
		cfg.Path = os.Args[1]
	}

	if err := cfg.LoadConfig(); err != nil {
		panic(fmt.Errorf("failed to load config file: %s", err))
	}

	if cfg.Telegram.APIURL == "" {
		cfg.Telegram.APIURL = gotgbot.DefaultAPIURL
	}

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.DebugMode {
		developmentConfig := zap.NewDevelopmentConfig()
		developmentConfig.OutputPaths = append(developmentConfig.OutputPaths, "debug.log")
		logger, err = developmentConfig.Build()
		if err != nil {
			panic(fmt.Errorf("failed to initialize development logger: %s", err))
		}
		logger = logger.Named("WagramBridge_Dev")
	} else {
		productionConfig := zap.NewProductionConfig()
		logger, err = productionConfig.Build()
		if err != nil {
			panic(fmt.Errorf("failed to initialize production logger: %s", err))
		}
		logger = logger.Named("WagramBridge")
	}
	defer func() { _ = logger.Sync() }()

	logger.Debug("loaded config file and started logger",
		zap.String("config_path", cfg.Path),
		zap.Bool("development_mode", cfg.DebugMode),
	)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	if cfg.TimeZone == "" {
		cfg.TimeZone = "UTC"
	}
	localLocation, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		logger.Fatal("failed to set time zone",
			zap.String("time_zone", cfg.TimeZone),
			zap.Error(err),
		)
	}
	time.Local = localLocation

	if cfg.WhatsApp.SessionName == "" {
		cfg.WhatsApp.SessionName = "wagrambridge"
	}
	if cfg.WhatsApp.LoginDatabase.Type == "" || cfg.WhatsApp.LoginDatabase.URL == "" {
		cfg.WhatsApp.LoginDatabase.Type = "sqlite3"
		cfg.WhatsApp.LoginDatabase.URL = "file:wawebstore.db?_foreign_keys=on"
		logger.Debug("using sqlite3 as WhatsApp login database")
	}

	// Setup database
	gdb, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("could not connect to database", zap.Error(err))
	}
	applied, err := database.Migrate(gdb)
	if err != nil {
		logger.Fatal("could not migrate database tables", zap.Error(err))
	}
	if applied > 0 {
		logger.Info("applied pending migrations", zap.Int("count", applied))
	}
	db := database.New(gdb)

	contentVault, err := vault.New(cfg.Security.EncryptionKey, logger)
	if err != nil {
		logger.Fatal("could not initialize content vault", zap.Error(err))
	}

	files, err := media.NewStore(cfg.Media.DownloadsDir, cfg.Media.RetentionDays, logger)
	if err != nil {
		logger.Fatal("could not initialize media store", zap.Error(err))
	}

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize telegram client", zap.Error(err))
	}

	ctx := context.Background()
	waClient, err := whatsapp.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize whatsapp client", zap.Error(err))
	}

	contacts := mapper.NewContactMapper(db, tgClient, logger)
	messages := mapper.NewMessageMapper(db, contentVault, logger)
	limiter := ratelimit.New(cfg.Security.MaxMessagesPerMinute, logger)

	sched := scheduler.New(db,
		func(target, body string) error {
			_, err := waClient.SendText(context.Background(), target, body)
			return err
		},
		func(msg database.ScheduledMessage, delivered bool) {
			status := "✅ delivered"
			if !delivered {
				status = "❌ failed"
			}
			text := fmt.Sprintf("Scheduled message #%d to <b>%s</b>: %s",
				msg.ID, html.EscapeString(msg.TargetDisplay), status)
			if _, err := tgClient.SendText(0, text, false); err != nil {
				logger.Error("failed to report scheduled delivery", zap.Error(err))
			}
		},
		cfg.Scheduler.TickSeconds, logger)

	waBridge := bridge.New(tgClient, waClient, contacts, messages, db, files,
		cfg.WhatsApp.SendMessagesFromMyPhone, logger)
	waClient.SetObserver(waBridge)

	handlers := telegram.NewHandlers(tgClient, waClient, contacts, messages,
		sched, limiter, db, cfg, logger)
	handlers.Register()

	if err := tgClient.RegisterCommands(handlers.BotCommands()); err != nil {
		logger.Error("failed to set bot commands", zap.Error(err))
	}

	if err := tgClient.StartPolling(); err != nil {
		logger.Fatal("failed to start telegram polling", zap.Error(err))
	}

	if err := waClient.Connect(ctx); err != nil {
		logger.Fatal("failed to connect to WhatsApp", zap.Error(err))
	}

	if err := sched.Start(); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	jobs := gocron.NewScheduler(time.UTC)
	jobs.TagsUnique()
	_, _ = jobs.Every(5).Minutes().Tag("ratelimit_cleanup").Do(limiter.Cleanup)
	_, _ = jobs.Every(12).Hours().Tag("media_cleanup").Do(files.Cleanup)
	_, _ = jobs.Every(1).Hour().Tag("contact_sync").Do(func() {
		stored, err := waClient.AllContacts(context.Background())
		if err != nil {
			logger.Debug("contact sync skipped", zap.Error(err))
			return
		}
		for _, sc := range stored {
			if _, err := contacts.Resolve(sc.JID, database.ContactHints{
				SavedName:    sc.SavedName,
				PlatformName: sc.PushName,
			}); err != nil {
				logger.Warn("contact sync upsert failed",
					zap.String("jid", sc.JID), zap.Error(err))
			}
		}
	})
	jobs.StartAsync()

	if !cfg.Telegram.SkipStartupMessage {
		_, err = tgClient.SendText(0,
			fmt.Sprintf("Bridge started at %s",
				html.EscapeString(time.Now().Local().Format(cfg.TimeFormat))), false)
		if err != nil {
			logger.Error("failed to send startup message", zap.Error(err))
		}
	}

	tgClient.Idle()
}
