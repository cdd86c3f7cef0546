// Package reminder runs the recurring open-order nags and the supplier
// cache prune on cron schedules.
package reminder

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/uhcops/changebot/internal/bot"
	"github.com/uhcops/changebot/internal/store"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// dueBatchSize caps how many reminders one poll processes.
const dueBatchSize = 50

// Scheduler fires reminders for open orders and prunes the expired
// supplier cache, both on cron schedules.
type Scheduler struct {
	store          *store.Store
	adapter        bot.Adapter
	pollCron       string
	pruneCron      string
	notifyRoleID   string // role pinged on every reminder; empty = no ping
	alertChannelID string // where poll failures are reported
	alertRoleID    string // role pinged on poll failures; empty = no ping
	out            io.Writer

	cron *cron.Cron
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	Store          *store.Store
	Adapter        bot.Adapter
	PollCron       string // e.g. "*/10 * * * *"
	PruneCron      string // e.g. "30 4 * * *"
	NotifyRoleID   string
	AlertChannelID string
	AlertRoleID    string
	Out            io.Writer // defaults to os.Stdout
}

// New creates a Scheduler.
func New(opts Opts) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("reminder: store is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("reminder: adapter is required")
	}
	if opts.PollCron == "" {
		return nil, fmt.Errorf("reminder: poll cron expression is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Scheduler{
		store:          opts.Store,
		adapter:        opts.Adapter,
		pollCron:       opts.PollCron,
		pruneCron:      opts.PruneCron,
		notifyRoleID:   opts.NotifyRoleID,
		alertChannelID: opts.AlertChannelID,
		alertRoleID:    opts.AlertRoleID,
		out:            out,
	}, nil
}

// Start registers the cron jobs and begins scheduling. It returns
// immediately; jobs run on the cron goroutine until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithParser(cronParser))

	if _, err := c.AddFunc(s.pollCron, func() { s.Poll(ctx) }); err != nil {
		return fmt.Errorf("reminder: bad poll cron %q: %w", s.pollCron, err)
	}
	if s.pruneCron != "" {
		if _, err := c.AddFunc(s.pruneCron, func() { s.PruneCache() }); err != nil {
			return fmt.Errorf("reminder: bad prune cron %q: %w", s.pruneCron, err)
		}
	}

	s.cron = c
	c.Start()
	fmt.Fprintf(s.out, "reminder: scheduler started (poll %q, prune %q)\n", s.pollCron, s.pruneCron)
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	fmt.Fprintf(s.out, "reminder: scheduler stopped\n")
}

// Poll fires every due reminder once and reschedules it. Per-reminder
// failures are logged and skipped; only a poll-level failure (the due
// query itself) raises an alert, and just one per poll.
func (s *Scheduler) Poll(ctx context.Context) {
	due, err := s.store.ListDueReminders(dueBatchSize)
	if err != nil {
		log.Printf("reminder: list due: %v", err)
		s.alert(ctx, fmt.Sprintf("Reminder poll failed: %v", err))
		return
	}
	if len(due) == 0 {
		return
	}
	fmt.Fprintf(s.out, "reminder: %d due\n", len(due))

	for _, d := range due {
		s.fire(ctx, d)
	}
}

// fire sends one reminder and bumps its next run. The reminder is bumped
// even when no forum post is linked, so a missing link cannot make it
// fire on every poll.
func (s *Scheduler) fire(ctx context.Context, d store.DueReminder) {
	text := s.reminderText(d)

	if fp, err := s.store.GetForumPost(d.OrderID); err == nil {
		if _, err := s.adapter.Send(ctx, bot.OutboundMessage{
			ChannelID: fp.ForumThreadID,
			Text:      text,
		}); err != nil {
			log.Printf("reminder: send for order %d: %v", d.OrderID, err)
		}
	} else {
		fmt.Fprintf(s.out, "reminder: order %d has no forum post, skipping send\n", d.OrderID)
	}

	if err := s.store.BumpReminder(d.ID, d.FrequencyHours); err != nil {
		log.Printf("reminder: bump %d: %v", d.ID, err)
	}
}

// reminderText builds the nag line, marking the order OVERDUE when its
// need-by reads as a date already in the past. The notify role, when
// configured, is mentioned at the front so stakeholders get pinged.
func (s *Scheduler) reminderText(d store.DueReminder) string {
	status := strings.ReplaceAll(d.Status, "_", " ")
	text := fmt.Sprintf("⏰ Order #%d is still %s.", d.OrderID, status)
	if d.NeedBy != nil && *d.NeedBy != "" {
		text += " Need by: " + *d.NeedBy + "."
		if t, ok := parseNeedBy(*d.NeedBy); ok && t.Before(s.store.Now()) {
			text = "🚨 **OVERDUE** — " + text
		}
	}
	if s.notifyRoleID != "" {
		text = "<@&" + s.notifyRoleID + "> " + text
	}
	return text
}

// PruneCache deletes expired supplier cache rows.
func (s *Scheduler) PruneCache() {
	n, err := s.store.PruneExpiredSupplierCache()
	if err != nil {
		log.Printf("reminder: prune supplier cache: %v", err)
		return
	}
	if n > 0 {
		fmt.Fprintf(s.out, "reminder: pruned %d expired supplier cache rows\n", n)
	}
}

// alert posts a single failure notice to the alert channel.
func (s *Scheduler) alert(ctx context.Context, text string) {
	if s.alertChannelID == "" {
		return
	}
	if s.alertRoleID != "" {
		text = "<@&" + s.alertRoleID + "> " + text
	}
	if _, err := s.adapter.Send(ctx, bot.OutboundMessage{
		ChannelID: s.alertChannelID,
		Text:      text,
	}); err != nil {
		log.Printf("reminder: send alert: %v", err)
	}
}

// needByLayouts are the date shapes accepted for overdue detection. Free
// text like "Friday" never marks an order overdue.
var needByLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006", "Jan 2, 2006", "Jan 2 2006"}

func parseNeedBy(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range needByLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			// A need-by date means end of that day.
			return t.Add(24*time.Hour - time.Second), true
		}
	}
	return time.Time{}, false
}
