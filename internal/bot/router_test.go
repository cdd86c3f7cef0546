package bot

import (
	"context"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/uhcops/changebot/internal/cart"
	"github.com/uhcops/changebot/internal/models"
	"github.com/uhcops/changebot/internal/order"
	"github.com/uhcops/changebot/internal/store"
	"github.com/uhcops/changebot/internal/supplier"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type routerFixture struct {
	router  *Router
	adapter *MockAdapter
	store   *store.Store
	carts   *cart.Service
	orders  *order.Service
}

func newRouterFixture(t *testing.T, opts func(*RouterOpts)) *routerFixture {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := gormDB.AutoMigrate(
		&models.Thread{}, &models.Cart{}, &models.Order{}, &models.OrderItem{},
		&models.OrderSupplier{}, &models.Reminder{}, &models.ForumPost{},
		&models.MessageLink{}, &models.SupplierCacheEntry{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	st, err := store.New(store.Opts{DB: gormDB, CacheTTLDays: 30, Now: time.Now})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	carts, err := cart.New(st)
	if err != nil {
		t.Fatalf("new carts: %v", err)
	}
	orders, err := order.New(order.Opts{Store: st, Carts: carts})
	if err != nil {
		t.Fatalf("new orders: %v", err)
	}

	adapter := NewMockAdapter()
	ro := RouterOpts{
		Adapter:              adapter,
		Store:                st,
		Carts:                carts,
		Orders:               orders,
		DestinationChannelID: "forum-dest",
		Out:                  io.Discard,
	}
	if opts != nil {
		opts(&ro)
	}
	router, err := NewRouter(ro)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return &routerFixture{router: router, adapter: adapter, store: st, carts: carts, orders: orders}
}

func mention(channelID, userID string) InboundEvent {
	return InboundEvent{
		Kind:        EventMention,
		ChannelID:   channelID,
		ParentID:    "forum-src",
		ThreadTitle: "Austin, TX - Riverside",
		UserID:      userID,
		UserName:    "alex",
	}
}

/* ---------------- mention flow ---------------- */

func TestMention_OffersChangeTypes(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.router.Handle(context.Background(), mention("thread-1", "u1"))

	sent := f.adapter.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages", len(sent))
	}
	if len(sent[0].Buttons) != 3 {
		t.Fatalf("buttons = %+v", sent[0].Buttons)
	}
	if sent[0].Buttons[0].CustomID != "changetype:materials" {
		t.Errorf("first button = %q", sent[0].Buttons[0].CustomID)
	}

	// The thread location was parsed out of the title.
	th, err := f.store.GetThread("thread-1")
	if err != nil {
		t.Fatalf("thread not recorded: %v", err)
	}
	if th.City != "Austin" || th.State != "TX" {
		t.Errorf("location = %s, %s", th.City, th.State)
	}
}

func TestMention_RoleGate(t *testing.T) {
	f := newRouterFixture(t, func(o *RouterOpts) { o.MaterialsRoleID = "role-materials" })

	ev := mention("thread-1", "u1")
	f.router.Handle(context.Background(), ev)
	replies := f.adapter.Replies()
	if len(replies) != 1 || !replies[0].Ephemeral {
		t.Fatalf("replies = %+v", replies)
	}
	if len(f.adapter.Sent()) != 0 {
		t.Error("picker sent to ungated user")
	}

	ev.RoleIDs = []string{"role-materials"}
	f.router.Handle(context.Background(), ev)
	if len(f.adapter.Sent()) != 1 {
		t.Error("picker not sent to role holder")
	}
}

func TestMention_ForumGate(t *testing.T) {
	f := newRouterFixture(t, func(o *RouterOpts) { o.AllowedForumIDs = []string{"forum-allowed"} })

	f.router.Handle(context.Background(), mention("thread-1", "u1"))
	if len(f.adapter.Sent())+len(f.adapter.Replies()) != 0 {
		t.Error("responded outside allowed forums")
	}

	ev := mention("thread-1", "u1")
	ev.ParentID = "forum-allowed"
	f.router.Handle(context.Background(), ev)
	if len(f.adapter.Sent()) != 1 {
		t.Error("picker not sent in allowed forum")
	}
}

func TestSelfMessagesIgnored(t *testing.T) {
	f := newRouterFixture(t, func(o *RouterOpts) { o.BotUserID = "bot-1" })
	ev := mention("thread-1", "bot-1")
	f.router.Handle(context.Background(), ev)
	if len(f.adapter.Sent())+len(f.adapter.Replies()) != 0 {
		t.Error("responded to own event")
	}
}

/* ---------------- cart flow ---------------- */

func button(channelID, userID, customID string) InboundEvent {
	return InboundEvent{
		Kind:        EventButton,
		ChannelID:   channelID,
		ThreadTitle: "Austin, TX - Riverside",
		UserID:      userID,
		UserName:    "alex",
		CustomID:    customID,
	}
}

func modal(channelID, userID, customID string, values map[string]string) InboundEvent {
	return InboundEvent{
		Kind:        EventModal,
		ChannelID:   channelID,
		ThreadTitle: "Austin, TX - Riverside",
		UserID:      userID,
		UserName:    "alex",
		CustomID:    customID,
		Values:      values,
	}
}

func TestChangeTypePick_MaterialsOpensAddItem(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.router.Handle(context.Background(), button("thread-1", "u1", "changetype:materials"))

	modals := f.adapter.Modals()
	if len(modals) != 1 || modals[0].CustomID != "modal:additem" {
		t.Fatalf("modals = %+v", modals)
	}
}

func TestChangeTypePick_ScheduleOpensForm(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.router.Handle(context.Background(), button("thread-1", "u1", "changetype:schedule"))

	modals := f.adapter.Modals()
	if len(modals) != 1 || modals[0].CustomID != "modal:change:schedule" {
		t.Fatalf("modals = %+v", modals)
	}
	if len(modals[0].Fields) != 4 {
		t.Errorf("fields = %+v", modals[0].Fields)
	}
}

func TestAddItemSubmit(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.router.Handle(context.Background(), modal("thread-1", "u1", "modal:additem", map[string]string{
		"description": "5/8\" drywall",
		"quantity":    "10 sheets",
		"notes":       "type X",
	}))

	cd, err := f.carts.Get("thread-1", "u1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(cd.Items) != 1 {
		t.Fatalf("items = %+v", cd.Items)
	}
	it := cd.Items[0]
	if it.QuantityValue == nil || *it.QuantityValue != 10 {
		t.Errorf("quantity = %v", it.QuantityValue)
	}
	if it.QuantityUnit == nil || *it.QuantityUnit != "sheets" {
		t.Errorf("unit = %v", it.QuantityUnit)
	}
	if it.Notes == nil || *it.Notes != "type X" {
		t.Errorf("notes = %v", it.Notes)
	}

	// Cart panel: one ephemeral reply plus the action buttons.
	replies := f.adapter.Replies()
	if len(replies) != 1 || !replies[0].Ephemeral || !strings.Contains(replies[0].Text, "drywall") {
		t.Errorf("replies = %+v", replies)
	}
	sent := f.adapter.Sent()
	if len(sent) != 1 || len(sent[0].Buttons) == 0 {
		t.Errorf("sent = %+v", sent)
	}
}

func TestAddItemSubmit_UnparsableQuantityKeptAsNote(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.router.Handle(context.Background(), modal("thread-1", "u1", "modal:additem", map[string]string{
		"description": "Shims",
		"quantity":    "a few bundles",
	}))

	cd, _ := f.carts.Get("thread-1", "u1")
	if len(cd.Items) != 1 {
		t.Fatalf("items = %+v", cd.Items)
	}
	it := cd.Items[0]
	if it.QuantityValue != nil {
		t.Errorf("quantity parsed from %q", "a few bundles")
	}
	if it.Notes == nil || *it.Notes != "qty: a few bundles" {
		t.Errorf("notes = %v", it.Notes)
	}
}

func TestConfirm_SubmitsOrder(t *testing.T) {
	f := newRouterFixture(t, nil)
	ctx := context.Background()

	f.router.Handle(ctx, modal("thread-1", "u1", "modal:additem", map[string]string{
		"description": "Drywall",
		"quantity":    "10 sheets",
	}))
	f.router.Handle(ctx, modal("thread-1", "u1", "modal:review", map[string]string{
		"need_by": "2026-09-04",
	}))
	f.router.Handle(ctx, button("thread-1", "u1", "cart:confirm"))

	posts := f.adapter.ForumPosts()
	if len(posts) != 1 {
		t.Fatalf("forum posts = %+v", posts)
	}
	if posts[0].ChannelID != "forum-dest" {
		t.Errorf("post channel = %q", posts[0].ChannelID)
	}
	if !strings.HasPrefix(posts[0].Title, "MATERIAL-") {
		t.Errorf("post title = %q", posts[0].Title)
	}
	if !strings.Contains(posts[0].Message.Text, "**Status:**") {
		t.Errorf("post text = %q", posts[0].Message.Text)
	}
	if len(posts[0].Message.Buttons) != 3 {
		t.Errorf("status buttons = %+v", posts[0].Message.Buttons)
	}

	// The starter message gets pinned and the pair of threads linked.
	if len(f.adapter.Pins()) != 1 {
		t.Errorf("pins = %+v", f.adapter.Pins())
	}
	fp, err := f.store.GetForumPostByProjectThread("thread-1")
	if err != nil {
		t.Fatalf("forum post not linked: %v", err)
	}
	if !fp.Pinned {
		t.Error("pinned flag not recorded")
	}

	// The cart is consumed.
	cd, _ := f.carts.Get("thread-1", "u1")
	if len(cd.Items) != 0 {
		t.Errorf("cart not cleared: %+v", cd.Items)
	}

	var confirmed bool
	for _, rep := range f.adapter.Replies() {
		if strings.Contains(rep.Text, "Submitted MATERIAL-") {
			confirmed = true
		}
	}
	if !confirmed {
		t.Errorf("no confirmation reply: %+v", f.adapter.Replies())
	}
}

func TestConfirm_EmptyCart(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.router.Handle(context.Background(), button("thread-1", "u1", "cart:confirm"))

	if len(f.adapter.ForumPosts()) != 0 {
		t.Error("order posted from empty cart")
	}
	replies := f.adapter.Replies()
	if len(replies) != 1 || !replies[0].Ephemeral || !strings.Contains(replies[0].Text, "empty") {
		t.Errorf("replies = %+v", replies)
	}
}

func TestStartOver(t *testing.T) {
	f := newRouterFixture(t, nil)
	ctx := context.Background()
	f.router.Handle(ctx, modal("thread-1", "u1", "modal:additem", map[string]string{"description": "Drywall"}))
	f.router.Handle(ctx, button("thread-1", "u1", "cart:startover"))

	cd, _ := f.carts.Get("thread-1", "u1")
	if len(cd.Items) != 0 {
		t.Errorf("cart not cleared: %+v", cd.Items)
	}
}

func TestScheduleSubmit_GoesStraightToOrder(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.router.Handle(context.Background(), modal("thread-1", "u1", "modal:change:schedule", map[string]string{
		"task":     "Drywall install",
		"old_date": "2026-09-10",
		"new_date": "2026-09-17",
		"reason":   "inspection slipped",
	}))

	posts := f.adapter.ForumPosts()
	if len(posts) != 1 {
		t.Fatalf("forum posts = %+v", posts)
	}
	if !strings.HasPrefix(posts[0].Title, "SCHEDULE-") {
		t.Errorf("title = %q", posts[0].Title)
	}

	fp, err := f.store.GetForumPostByProjectThread("thread-1")
	if err != nil {
		t.Fatalf("not linked: %v", err)
	}
	o, err := f.store.GetOrder(fp.OrderID)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if o.Type != "schedule" {
		t.Errorf("type = %q", o.Type)
	}
	if o.Notes != "inspection slipped" {
		t.Errorf("notes = %q", o.Notes)
	}
}

/* ---------------- status buttons ---------------- */

// submitMaterials runs the full cart flow and returns the created order
// and its forum-post link.
func submitMaterials(t *testing.T, f *routerFixture) *models.ForumPost {
	t.Helper()
	ctx := context.Background()
	f.router.Handle(ctx, modal("thread-1", "u1", "modal:additem", map[string]string{"description": "Drywall"}))
	f.router.Handle(ctx, button("thread-1", "u1", "cart:confirm"))
	fp, err := f.store.GetForumPostByProjectThread("thread-1")
	if err != nil {
		t.Fatalf("forum post not linked: %v", err)
	}
	return fp
}

func TestStatusButton(t *testing.T) {
	f := newRouterFixture(t, nil)
	fp := submitMaterials(t, f)

	ev := button(fp.ForumThreadID, "office-1", "status:in_progress:"+uintStr(fp.OrderID))
	ev.MessageID = "banner-1"
	ev.Text = StatusLine("pending") + "\nsummary below"
	f.router.Handle(context.Background(), ev)

	o, err := f.store.GetOrder(fp.OrderID)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if o.Status != "in_progress" {
		t.Errorf("status = %q", o.Status)
	}

	edits := f.adapter.Edits()
	if len(edits) != 1 {
		t.Fatalf("edits = %+v", edits)
	}
	if !strings.Contains(edits[0].Text, "IN PROGRESS") || !strings.Contains(edits[0].Text, "summary below") {
		t.Errorf("edited text = %q", edits[0].Text)
	}

	// The project thread hears about it too.
	var notified bool
	for _, m := range f.adapter.Sent() {
		if m.ChannelID == "thread-1" && strings.Contains(m.Text, "**Status:**") {
			notified = true
		}
	}
	if !notified {
		t.Errorf("project thread not notified: %+v", f.adapter.Sent())
	}
}

func TestStatusButton_OfficeRoleGate(t *testing.T) {
	f := newRouterFixture(t, func(o *RouterOpts) { o.OfficeRoleID = "role-office" })
	fp := submitMaterials(t, f)

	// New posts ping the office role.
	posts := f.adapter.ForumPosts()
	if len(posts) != 1 || !strings.HasPrefix(posts[0].Message.Text, "<@&role-office>") {
		t.Errorf("posts = %+v", posts)
	}

	ev := button(fp.ForumThreadID, "crew-1", "status:filled:"+uintStr(fp.OrderID))
	f.router.Handle(context.Background(), ev)

	o, _ := f.store.GetOrder(fp.OrderID)
	if o.Status != "pending" {
		t.Errorf("status changed by ungated user: %q", o.Status)
	}
}

func TestStatusButton_IllegalTransition(t *testing.T) {
	f := newRouterFixture(t, nil)
	fp := submitMaterials(t, f)

	f.router.Handle(context.Background(), button(fp.ForumThreadID, "office-1", "status:cancelled:"+uintStr(fp.OrderID)))
	f.router.Handle(context.Background(), button(fp.ForumThreadID, "office-1", "status:in_progress:"+uintStr(fp.OrderID)))

	o, _ := f.store.GetOrder(fp.OrderID)
	if o.Status != "cancelled" {
		t.Errorf("terminal order reopened: %q", o.Status)
	}
	replies := f.adapter.Replies()
	last := replies[len(replies)-1]
	if !last.Ephemeral || !strings.Contains(last.Text, "isn't allowed") {
		t.Errorf("last reply = %+v", last)
	}
}

func TestStatusButton_UnknownOrder(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.router.Handle(context.Background(), button("somewhere", "office-1", "status:filled:9999"))

	replies := f.adapter.Replies()
	if len(replies) != 1 || !strings.Contains(replies[0].Text, "can't find the order") {
		t.Errorf("replies = %+v", replies)
	}
}

/* ---------------- message mirroring ---------------- */

func message(channelID, messageID, text string) InboundEvent {
	return InboundEvent{
		Kind:      EventMessage,
		ChannelID: channelID,
		MessageID: messageID,
		UserID:    "u1",
		UserName:  "alex",
		Text:      text,
	}
}

func TestMirror_BothDirections(t *testing.T) {
	f := newRouterFixture(t, nil)
	fp := submitMaterials(t, f)
	before := len(f.adapter.Sent())

	f.router.Handle(context.Background(), message("thread-1", "m1", "any update on this?"))
	sent := f.adapter.Sent()
	if len(sent) != before+1 {
		t.Fatalf("sent = %+v", sent[before:])
	}
	if sent[before].ChannelID != fp.ForumThreadID || sent[before].Text != "**alex:** any update on this?" {
		t.Errorf("mirrored = %+v", sent[before])
	}

	f.router.Handle(context.Background(), message(fp.ForumThreadID, "m2", "ordered, arriving Friday"))
	sent = f.adapter.Sent()
	if len(sent) != before+2 || sent[before+1].ChannelID != "thread-1" {
		t.Errorf("reverse mirror = %+v", sent[before:])
	}
}

func TestMirror_Dedupes(t *testing.T) {
	f := newRouterFixture(t, nil)
	submitMaterials(t, f)
	before := len(f.adapter.Sent())

	ev := message("thread-1", "m1", "hello")
	f.router.Handle(context.Background(), ev)
	f.router.Handle(context.Background(), ev) // redelivery
	if got := len(f.adapter.Sent()) - before; got != 1 {
		t.Errorf("mirrored %d times", got)
	}
}

func TestMirror_UnlinkedThreadIgnored(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.router.Handle(context.Background(), message("random-thread", "m1", "hello"))
	if len(f.adapter.Sent()) != 0 {
		t.Errorf("mirrored from unlinked thread: %+v", f.adapter.Sent())
	}
}

/* ---------------- supplier follow-up ---------------- */

func TestSubmit_PostsCachedSuppliers(t *testing.T) {
	f := newRouterFixture(t, nil)

	// Fresh cache rows for the project location.
	for _, s := range []supplier.Supplier{
		{Source: "google", Name: "Sherwin-Williams", Brand: "Sherwin-Williams", Type: "chain", DistanceMi: fptr(3.1)},
		{Source: "google", Name: "The Home Depot", Brand: "Home Depot", Type: "hardware", DistanceMi: fptr(1.2)},
	} {
		if _, err := f.store.CacheSupplier(s, "Austin", "TX"); err != nil {
			t.Fatalf("seed cache: %v", err)
		}
	}

	fp := submitMaterials(t, f)

	var embedSends []OutboundMessage
	for _, m := range f.adapter.Sent() {
		if m.ChannelID == fp.ForumThreadID && m.Embed != nil {
			embedSends = append(embedSends, m)
		}
	}
	if len(embedSends) != 1 {
		t.Fatalf("supplier embeds = %+v", embedSends)
	}
	e := embedSends[0].Embed
	if !strings.Contains(e.Footer, "cache") {
		t.Errorf("footer = %q", e.Footer)
	}
	// Paint tier ranks above the nearer hardware store.
	lines := strings.Split(e.Description, "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "🎨 Sherwin-Williams") {
		t.Errorf("description = %q", e.Description)
	}

	// The served cache rows are linked to the order.
	var linked int64
	f.store.DB().Model(&models.OrderSupplier{}).Where("order_id = ?", fp.OrderID).Count(&linked)
	if linked != 2 {
		t.Errorf("linked suppliers = %d", linked)
	}
}

func TestSubmit_NoLocationSkipsSuppliers(t *testing.T) {
	f := newRouterFixture(t, nil)
	ctx := context.Background()

	ev := modal("thread-2", "u1", "modal:additem", map[string]string{"description": "Drywall"})
	ev.ThreadTitle = "General punch list"
	f.router.Handle(ctx, ev)
	confirm := button("thread-2", "u1", "cart:confirm")
	confirm.ThreadTitle = "General punch list"
	f.router.Handle(ctx, confirm)

	fp, err := f.store.GetForumPostByProjectThread("thread-2")
	if err != nil {
		t.Fatalf("not linked: %v", err)
	}
	for _, m := range f.adapter.Sent() {
		if m.ChannelID == fp.ForumThreadID {
			t.Errorf("unexpected supplier message: %+v", m)
		}
	}
}

func uintStr(v uint) string { return strconv.FormatUint(uint64(v), 10) }

func fptr(v float64) *float64 { return &v }
