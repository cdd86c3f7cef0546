package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/uhcops/changebot/internal/cart"
	"github.com/uhcops/changebot/internal/config"
	"github.com/uhcops/changebot/internal/order"
	"github.com/uhcops/changebot/internal/store"
	"github.com/uhcops/changebot/internal/supplier"
)

// Daemon is the main bot process. It connects to a chat platform via an
// Adapter, pumps inbound events through the Router, and blocks until the
// context is cancelled.
type Daemon struct {
	store    *store.Store
	carts    *cart.Service
	orders   *order.Service
	resolver *supplier.Resolver
	cfg      *config.Config
	adapter  Adapter
	out      io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Store    *store.Store
	Carts    *cart.Service
	Orders   *order.Service
	Resolver *supplier.Resolver // optional; disables supplier lookup when nil
	Config   *config.Config
	Adapter  Adapter
	Out      io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("bot: store is required")
	}
	if opts.Carts == nil {
		return nil, fmt.Errorf("bot: cart service is required")
	}
	if opts.Orders == nil {
		return nil, fmt.Errorf("bot: order service is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Resolver == nil {
		fmt.Fprintf(out, "bot: no supplier resolver configured; supplier lookup disabled\n")
	}
	return &Daemon{
		store:    opts.Store,
		carts:    opts.Carts,
		orders:   opts.Orders,
		resolver: opts.Resolver,
		cfg:      opts.Config,
		adapter:  opts.Adapter,
		out:      out,
	}, nil
}

// Run starts the bot. It connects the adapter, builds the Router, and
// pumps inbound events until the context is cancelled. On shutdown it
// closes the adapter gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Changebot connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect: %w", err)
	}

	// Extract bot user ID if the adapter supports it.
	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	router, err := NewRouter(RouterOpts{
		Adapter:              d.adapter,
		Store:                d.store,
		Carts:                d.carts,
		Orders:               d.orders,
		Resolver:             d.resolver,
		DestinationChannelID: d.destinationChannelID(),
		AllowedForumIDs:      d.cfg.Discord.AllowedForumIDs,
		MaterialsRoleID:      d.cfg.Discord.MaterialsRoleID,
		OfficeRoleID:         d.cfg.Discord.OfficeRoleID,
		RadiusMi:             d.cfg.Suppliers.RadiusMi,
		BotUserID:            botUserID,
		Out:                  d.out,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build router: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: listen: %w", err)
	}

	fmt.Fprintf(d.out, "Changebot online\n")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Changebot shutting down...\n")
			if err := d.adapter.Close(); err != nil {
				log.Printf("bot: close adapter: %v", err)
			}
			fmt.Fprintf(d.out, "Changebot stopped\n")
			return nil

		case ev, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Changebot inbound channel closed\n")
				return nil
			}
			router.Handle(ctx, ev)
		}
	}
}

// destinationChannelID picks the orders channel for the active platform.
func (d *Daemon) destinationChannelID() string {
	if d.cfg.Platform == "slack" {
		return d.cfg.Slack.DestinationChannelID
	}
	return d.cfg.Discord.DestinationChannelID
}
