package reminder

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/uhcops/changebot/internal/bot"
	"github.com/uhcops/changebot/internal/models"
	"github.com/uhcops/changebot/internal/store"
	"github.com/uhcops/changebot/internal/supplier"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	scheduler *Scheduler
	adapter   *bot.MockAdapter
	store     *store.Store
	now       *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := gormDB.AutoMigrate(
		&models.Order{}, &models.OrderItem{}, &models.Reminder{},
		&models.ForumPost{}, &models.SupplierCacheEntry{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	st, err := store.New(store.Opts{DB: gormDB, CacheTTLDays: 30, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	adapter := bot.NewMockAdapter()
	s, err := New(Opts{
		Store:    st,
		Adapter:  adapter,
		PollCron: "*/10 * * * *",
		Out:      io.Discard,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return &fixture{scheduler: s, adapter: adapter, store: st, now: &now}
}

// seedOrder creates a due order; needBy may be empty.
func (f *fixture) seedOrder(t *testing.T, needBy string, linkPost bool) uint {
	t.Helper()
	var nb *string
	if needBy != "" {
		nb = &needBy
	}
	id, err := f.store.CreateOrderWithItems(store.NewOrder{
		ThreadID:    "t1",
		RequesterID: "u1",
		NeedBy:      nb,
		Items:       []models.LineItem{{Description: "Drywall"}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if linkPost {
		if err := f.store.LinkForumPost(&models.ForumPost{
			OrderID:         id,
			ForumChannelID:  "forum-dest",
			ForumThreadID:   "post-" + needBy,
			ProjectThreadID: "t1",
		}); err != nil {
			t.Fatalf("link: %v", err)
		}
	}
	*f.now = f.now.Add(11 * time.Hour)
	return id
}

func TestPoll_FiresAndReschedules(t *testing.T) {
	f := newFixture(t)
	id := f.seedOrder(t, "", true)

	f.scheduler.Poll(context.Background())

	sent := f.adapter.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0].ChannelID != "post-" {
		t.Errorf("channel = %q", sent[0].ChannelID)
	}
	if !strings.Contains(sent[0].Text, "⏰") || !strings.Contains(sent[0].Text, "still pending") {
		t.Errorf("text = %q", sent[0].Text)
	}

	r, err := f.store.GetReminderByOrder(id)
	if err != nil {
		t.Fatalf("reminder: %v", err)
	}
	if want := f.now.Add(10 * time.Hour); !r.NextRunAt.Equal(want) {
		t.Errorf("next run = %v, want %v", r.NextRunAt, want)
	}

	// Nothing due anymore: a second poll is quiet.
	f.scheduler.Poll(context.Background())
	if len(f.adapter.Sent()) != 1 {
		t.Errorf("second poll re-fired: %+v", f.adapter.Sent())
	}
}

func TestPoll_MentionsNotifyRole(t *testing.T) {
	f := newFixture(t)
	s, err := New(Opts{
		Store:        f.store,
		Adapter:      f.adapter,
		PollCron:     "*/10 * * * *",
		NotifyRoleID: "role-office",
		Out:          io.Discard,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	f.seedOrder(t, "2026-07-15", true) // already past

	s.Poll(context.Background())

	sent := f.adapter.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent = %+v", sent)
	}
	// Mention leads, then the overdue marker.
	if !strings.HasPrefix(sent[0].Text, "<@&role-office> 🚨 **OVERDUE**") {
		t.Errorf("text = %q", sent[0].Text)
	}
}

func TestPoll_MissingForumPostStillBumps(t *testing.T) {
	f := newFixture(t)
	id := f.seedOrder(t, "", false)

	f.scheduler.Poll(context.Background())

	if len(f.adapter.Sent()) != 0 {
		t.Errorf("sent without a forum post: %+v", f.adapter.Sent())
	}
	r, _ := f.store.GetReminderByOrder(id)
	if !r.NextRunAt.After(*f.now) {
		t.Errorf("reminder not rescheduled: %v", r.NextRunAt)
	}
}

func TestReminderText_Overdue(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "2026-07-15", true) // already past

	f.scheduler.Poll(context.Background())

	sent := f.adapter.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent = %+v", sent)
	}
	if !strings.HasPrefix(sent[0].Text, "🚨 **OVERDUE**") {
		t.Errorf("text = %q", sent[0].Text)
	}
	if !strings.Contains(sent[0].Text, "Need by: 2026-07-15.") {
		t.Errorf("text = %q", sent[0].Text)
	}
}

func TestReminderText_FutureAndFreeTextNotOverdue(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "2026-12-01", true)
	f.seedOrder(t, "end of next week", true)

	f.scheduler.Poll(context.Background())

	for _, m := range f.adapter.Sent() {
		if strings.Contains(m.Text, "OVERDUE") {
			t.Errorf("marked overdue: %q", m.Text)
		}
	}
}

func TestParseNeedBy(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"2026-08-15", true},
		{"08/15/2026", true},
		{"8/5/2026", true},
		{"Aug 15, 2026", true},
		{" 2026-08-15 ", true},
		{"Friday", false},
		{"", false},
	}
	for _, tt := range tests {
		if _, ok := parseNeedBy(tt.in); ok != tt.ok {
			t.Errorf("parseNeedBy(%q) ok = %v, want %v", tt.in, ok, tt.ok)
		}
	}
}

func TestPruneCache(t *testing.T) {
	f := newFixture(t)
	// Seed one row, then expire it.
	if _, err := f.store.CacheSupplier(supplierFixture(), "Austin", "TX"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	*f.now = f.now.Add(31 * 24 * time.Hour)

	f.scheduler.PruneCache()

	var count int64
	f.store.DB().Model(&models.SupplierCacheEntry{}).Count(&count)
	if count != 0 {
		t.Errorf("%d cache rows after prune", count)
	}
}

func TestAlertOnPollFailure(t *testing.T) {
	f := newFixture(t)
	s, err := New(Opts{
		Store:          f.store,
		Adapter:        f.adapter,
		PollCron:       "*/10 * * * *",
		AlertChannelID: "ops",
		AlertRoleID:    "role-office",
		Out:            io.Discard,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// Break the due query by dropping the reminders table.
	if err := f.store.DB().Migrator().DropTable(&models.Reminder{}); err != nil {
		t.Fatalf("drop: %v", err)
	}

	s.Poll(context.Background())

	sent := f.adapter.Sent()
	if len(sent) != 1 || sent[0].ChannelID != "ops" {
		t.Fatalf("alerts = %+v", sent)
	}
	if !strings.HasPrefix(sent[0].Text, "<@&role-office> ") {
		t.Errorf("alert text = %q", sent[0].Text)
	}
}

func supplierFixture() supplier.Supplier {
	return supplier.Supplier{Source: "google", Name: "The Home Depot", Type: "hardware"}
}
