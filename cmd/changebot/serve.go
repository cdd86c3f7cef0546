package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/uhcops/changebot/internal/bot"
	discordadapter "github.com/uhcops/changebot/internal/bot/discord"
	slackadapter "github.com/uhcops/changebot/internal/bot/slack"
	"github.com/uhcops/changebot/internal/cart"
	"github.com/uhcops/changebot/internal/config"
	"github.com/uhcops/changebot/internal/db"
	"github.com/uhcops/changebot/internal/health"
	"github.com/uhcops/changebot/internal/order"
	"github.com/uhcops/changebot/internal/reminder"
	"github.com/uhcops/changebot/internal/store"
	"github.com/uhcops/changebot/internal/supplier"
	"github.com/uhcops/changebot/internal/supplier/googleplaces"
	"github.com/uhcops/changebot/internal/supplier/osm"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ChangeBot daemon",
		Long:  "Connects to the configured chat platform, listens for mentions and interactions, and runs the reminder scheduler and health endpoint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "changebot.yaml", "path to ChangeBot config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(dbOptions(cfg))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	st, err := store.New(store.Opts{DB: gormDB, CacheTTLDays: cfg.Suppliers.CacheTTLDays})
	if err != nil {
		return err
	}
	carts, err := cart.New(st)
	if err != nil {
		return err
	}
	orders, err := order.New(order.Opts{
		Store:          st,
		Carts:          carts,
		FrequencyHours: cfg.Reminders.FrequencyHours,
	})
	if err != nil {
		return err
	}

	resolver, err := buildResolver(cfg, st, out)
	if err != nil {
		return err
	}

	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	daemon, err := bot.NewDaemon(bot.DaemonOpts{
		Store:    st,
		Carts:    carts,
		Orders:   orders,
		Resolver: resolver,
		Config:   cfg,
		Adapter:  adapter,
		Out:      out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	sched, err := reminder.New(reminder.Opts{
		Store:          st,
		Adapter:        adapter,
		PollCron:       cfg.Reminders.PollCron,
		PruneCron:      cfg.Reminders.PruneCron,
		NotifyRoleID:   cfg.Discord.OfficeRoleID,
		AlertChannelID: destinationChannel(cfg),
		AlertRoleID:    cfg.Discord.AlertRoleID,
		Out:            out,
	})
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	if cfg.Health.Enabled {
		go func() {
			if err := health.Start(ctx, health.StartOpts{Store: st, Port: cfg.Health.Port, Out: out}); err != nil {
				log.Printf("health server: %v", err)
			}
		}()
	}

	return daemon.Run(ctx)
}

// buildResolver assembles the provider fallback chain: Google Places
// first when a key is configured, OpenStreetMap always last.
func buildResolver(cfg *config.Config, st *store.Store, out io.Writer) (*supplier.Resolver, error) {
	providers := []supplier.Provider{
		googleplaces.New(googleplaces.Opts{APIKey: cfg.Suppliers.GoogleAPIKey, Out: out}),
		osm.New(osm.Opts{ContactEmail: cfg.Suppliers.OSMContactEmail, Out: out}),
	}
	return supplier.NewResolver(supplier.ResolverOpts{
		Providers: providers,
		Cache:     st,
		Out:       out,
	})
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config) (bot.Adapter, error) {
	switch cfg.Platform {
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: cfg.Discord.BotToken,
		})
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: cfg.Slack.AppToken,
			BotToken: cfg.Slack.BotToken,
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}

func destinationChannel(cfg *config.Config) string {
	if cfg.Platform == "slack" {
		return cfg.Slack.DestinationChannelID
	}
	return cfg.Discord.DestinationChannelID
}

func dbOptions(cfg *config.Config) db.Options {
	return db.Options{
		Driver:   cfg.DB.Driver,
		Path:     cfg.DB.Path,
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Database: cfg.DB.Database,
	}
}
