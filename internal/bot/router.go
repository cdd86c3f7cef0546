package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/uhcops/changebot/internal/cart"
	"github.com/uhcops/changebot/internal/changetype"
	"github.com/uhcops/changebot/internal/location"
	"github.com/uhcops/changebot/internal/models"
	"github.com/uhcops/changebot/internal/order"
	"github.com/uhcops/changebot/internal/store"
	"github.com/uhcops/changebot/internal/supplier"
)

// Router classifies inbound events and routes them to the appropriate
// flow: mention → change-type picker, button/modal → cart and order
// handling, plain message → cross-thread mirroring.
type Router struct {
	adapter  Adapter
	store    *store.Store
	carts    *cart.Service
	orders   *order.Service
	resolver *supplier.Resolver // optional; nil disables supplier lookup

	destinationChannelID string
	allowedForumIDs      []string
	materialsRoleID      string
	officeRoleID         string
	radiusMi             int
	botUserID            string
	out                  io.Writer
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Adapter  Adapter
	Store    *store.Store
	Carts    *cart.Service
	Orders   *order.Service
	Resolver *supplier.Resolver // optional

	DestinationChannelID string   // forum channel orders are posted to
	AllowedForumIDs      []string // forums the bot responds in; empty = all
	MaterialsRoleID      string   // role allowed to open requests; empty = everyone
	OfficeRoleID         string   // role allowed to change order status; empty = everyone
	RadiusMi             int      // supplier search radius
	BotUserID            string   // bot's user ID for self-message filtering
	Out                  io.Writer
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: router: adapter is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("bot: router: store is required")
	}
	if opts.Carts == nil {
		return nil, fmt.Errorf("bot: router: cart service is required")
	}
	if opts.Orders == nil {
		return nil, fmt.Errorf("bot: router: order service is required")
	}
	if opts.DestinationChannelID == "" {
		return nil, fmt.Errorf("bot: router: destination channel is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Router{
		adapter:              opts.Adapter,
		store:                opts.Store,
		carts:                opts.Carts,
		orders:               opts.Orders,
		resolver:             opts.Resolver,
		destinationChannelID: opts.DestinationChannelID,
		allowedForumIDs:      opts.AllowedForumIDs,
		materialsRoleID:      opts.MaterialsRoleID,
		officeRoleID:         opts.OfficeRoleID,
		radiusMi:             opts.RadiusMi,
		botUserID:            opts.BotUserID,
		out:                  out,
	}, nil
}

// Handle classifies and routes a single inbound event. A panic in any
// handler is recovered and logged so one bad event cannot take down the
// listen loop.
func (r *Router) Handle(ctx context.Context, ev InboundEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("bot: router: panic handling event: %v", rec)
		}
	}()

	if r.botUserID != "" && ev.UserID == r.botUserID {
		return
	}

	switch ev.Kind {
	case EventMention:
		fmt.Fprintf(r.out, "bot: router: mention [ch=%s user=%s]\n", ev.ChannelID, ev.UserName)
		r.handleMention(ctx, ev)
	case EventButton:
		fmt.Fprintf(r.out, "bot: router: button [ch=%s user=%s id=%s]\n", ev.ChannelID, ev.UserName, ev.CustomID)
		r.handleButton(ctx, ev)
	case EventModal:
		fmt.Fprintf(r.out, "bot: router: modal [ch=%s user=%s id=%s]\n", ev.ChannelID, ev.UserName, ev.CustomID)
		r.handleModal(ctx, ev)
	case EventMessage:
		r.handleMessage(ctx, ev)
	}
}

// handleMention starts a new request: record the thread, then offer the
// change-type picker.
func (r *Router) handleMention(ctx context.Context, ev InboundEvent) {
	if !r.forumAllowed(ev.ParentID) {
		fmt.Fprintf(r.out, "bot: router: ignore mention outside allowed forums [parent=%s]\n", ev.ParentID)
		return
	}
	if !ev.HasRole(r.materialsRoleID) {
		r.reply(ctx, ev, "You need the materials role to open change requests.", true)
		return
	}

	r.recordThread(ev)

	buttons := make([]Button, 0, len(changetype.All))
	for _, t := range changetype.All {
		buttons = append(buttons, Button{
			CustomID: "changetype:" + t.ID,
			Label:    t.Label,
			Style:    StylePrimary,
		})
	}
	if _, err := r.adapter.Send(ctx, OutboundMessage{
		ChannelID: ev.ChannelID,
		Text:      "What kind of change request is this?",
		Buttons:   buttons,
	}); err != nil {
		log.Printf("bot: router: send change-type picker: %v", err)
	}
}

// handleButton dispatches button presses by custom-ID prefix.
func (r *Router) handleButton(ctx context.Context, ev InboundEvent) {
	switch {
	case strings.HasPrefix(ev.CustomID, "changetype:"):
		r.handleChangeTypePick(ctx, ev, strings.TrimPrefix(ev.CustomID, "changetype:"))
	case ev.CustomID == "cart:add":
		r.openAddItemModal(ctx, ev)
	case ev.CustomID == "cart:review":
		r.openReviewModal(ctx, ev)
	case ev.CustomID == "cart:confirm":
		r.submitOrder(ctx, ev, changetype.Materials)
	case ev.CustomID == "cart:startover":
		r.handleStartOver(ctx, ev)
	case strings.HasPrefix(ev.CustomID, "status:"):
		r.handleStatusButton(ctx, ev)
	default:
		fmt.Fprintf(r.out, "bot: router: ignore unknown button %q\n", ev.CustomID)
	}
}

// handleModal dispatches modal submissions by custom-ID prefix.
func (r *Router) handleModal(ctx context.Context, ev InboundEvent) {
	switch {
	case ev.CustomID == "modal:additem":
		r.handleAddItemSubmit(ctx, ev)
	case ev.CustomID == "modal:review":
		r.handleReviewSubmit(ctx, ev)
	case strings.HasPrefix(ev.CustomID, "modal:change:"):
		r.handleChangeSubmit(ctx, ev, strings.TrimPrefix(ev.CustomID, "modal:change:"))
	default:
		fmt.Fprintf(r.out, "bot: router: ignore unknown modal %q\n", ev.CustomID)
	}
}

// handleChangeTypePick routes the picked type: materials goes through the
// multi-item cart, everything else is a single modal.
func (r *Router) handleChangeTypePick(ctx context.Context, ev InboundEvent, typeID string) {
	t, ok := changetype.Get(typeID)
	if !ok {
		r.reply(ctx, ev, "Unknown change type.", true)
		return
	}
	if t.ID == changetype.Materials.ID {
		r.openAddItemModal(ctx, ev)
		return
	}

	fields := make([]ModalField, 0, len(t.Fields))
	for _, f := range t.Fields {
		fields = append(fields, ModalField{
			ID:          f.ID,
			Label:       f.Label,
			Placeholder: f.Placeholder,
			Paragraph:   f.Paragraph,
			Required:    f.Required,
		})
	}
	if err := r.adapter.OpenModal(ctx, ev, Modal{
		CustomID: "modal:change:" + t.ID,
		Title:    t.Label,
		Fields:   fields,
	}); err != nil {
		log.Printf("bot: router: open %s modal: %v", t.ID, err)
	}
}

func (r *Router) openAddItemModal(ctx context.Context, ev InboundEvent) {
	m := Modal{
		CustomID: "modal:additem",
		Title:    "Add Item",
		Fields: []ModalField{
			{ID: "description", Label: "Item", Placeholder: "5/8\" drywall", Required: true},
			{ID: "quantity", Label: "Quantity", Placeholder: "10 sheets"},
			{ID: "notes", Label: "Notes", Placeholder: "brand, size, anything else", Paragraph: true},
		},
	}
	if err := r.adapter.OpenModal(ctx, ev, m); err != nil {
		log.Printf("bot: router: open add-item modal: %v", err)
	}
}

func (r *Router) openReviewModal(ctx context.Context, ev InboundEvent) {
	m := Modal{
		CustomID: "modal:review",
		Title:    "Review & Send",
		Fields: []ModalField{
			{ID: "need_by", Label: "Need by", Placeholder: "Friday / 2026-09-04"},
			{ID: "notes", Label: "Order notes", Placeholder: "delivery gate code, contact on site", Paragraph: true},
		},
	}
	if err := r.adapter.OpenModal(ctx, ev, m); err != nil {
		log.Printf("bot: router: open review modal: %v", err)
	}
}

// handleAddItemSubmit appends the submitted item to the requester's cart
// and shows the cart panel.
func (r *Router) handleAddItemSubmit(ctx context.Context, ev InboundEvent) {
	desc := strings.TrimSpace(ev.Values["description"])
	if desc == "" {
		r.reply(ctx, ev, "Item description can't be empty.", true)
		return
	}
	item := models.LineItem{Description: desc}
	if q := strings.TrimSpace(ev.Values["quantity"]); q != "" {
		if v, u, ok := changetype.ParseQuantity(q); ok {
			item.QuantityValue = &v
			if u != "" {
				item.QuantityUnit = &u
			}
		} else {
			item.Notes = strPtr("qty: " + q)
		}
	}
	if n := strings.TrimSpace(ev.Values["notes"]); n != "" {
		if item.Notes != nil {
			n = *item.Notes + "; " + n
		}
		item.Notes = &n
	}

	if err := r.carts.AddItem(ev.ChannelID, ev.UserID, item); err != nil {
		log.Printf("bot: router: add cart item: %v", err)
		r.reply(ctx, ev, "Couldn't save that item, try again.", true)
		return
	}
	r.showCartPanel(ctx, ev)
}

// handleReviewSubmit stores need-by and notes, then shows the cart for a
// final confirm.
func (r *Router) handleReviewSubmit(ctx context.Context, ev InboundEvent) {
	var needBy *string
	if nb := strings.TrimSpace(ev.Values["need_by"]); nb != "" {
		needBy = &nb
	}
	notes := strings.TrimSpace(ev.Values["notes"])
	if err := r.carts.SetReview(ev.ChannelID, ev.UserID, needBy, notes); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.reply(ctx, ev, "Your cart is empty — add an item first.", true)
			return
		}
		log.Printf("bot: router: set review: %v", err)
		r.reply(ctx, ev, "Couldn't save review details, try again.", true)
		return
	}
	r.showCartPanel(ctx, ev)
}

// handleChangeSubmit handles the single-modal change types: parse the
// form into line items, stage them as a cart, and submit immediately.
func (r *Router) handleChangeSubmit(ctx context.Context, ev InboundEvent, typeID string) {
	t, ok := changetype.Get(typeID)
	if !ok {
		r.reply(ctx, ev, "Unknown change type.", true)
		return
	}
	items, notes, err := t.Parse(ev.Values)
	if err != nil {
		if errors.Is(err, changetype.ErrNoEntries) {
			r.reply(ctx, ev, "Nothing to submit — fill in at least one line.", true)
			return
		}
		log.Printf("bot: router: parse %s submission: %v", t.ID, err)
		r.reply(ctx, ev, "Couldn't read that submission: "+err.Error(), true)
		return
	}
	if err := r.store.UpsertCart(ev.ChannelID, ev.UserID, nil, notes, items); err != nil {
		log.Printf("bot: router: stage %s cart: %v", t.ID, err)
		r.reply(ctx, ev, "Couldn't save that submission, try again.", true)
		return
	}
	r.submitOrder(ctx, ev, t)
}

// handleStartOver empties the requester's cart.
func (r *Router) handleStartOver(ctx context.Context, ev InboundEvent) {
	if err := r.carts.Clear(ev.ChannelID, ev.UserID); err != nil {
		log.Printf("bot: router: clear cart: %v", err)
	}
	r.reply(ctx, ev, "Cart cleared. Mention me again to start a new request.", true)
}

// showCartPanel replies with the current cart contents and the cart
// action buttons.
func (r *Router) showCartPanel(ctx context.Context, ev InboundEvent) {
	cd, err := r.carts.Get(ev.ChannelID, ev.UserID)
	if err != nil {
		log.Printf("bot: router: read cart: %v", err)
		r.reply(ctx, ev, "Couldn't read your cart, try again.", true)
		return
	}
	text := "**Your cart**\n" + CartSummary(cd.Items)
	if cd.Cart.NeedBy != nil && *cd.Cart.NeedBy != "" {
		text += "\n**Need by:** " + *cd.Cart.NeedBy
	}
	if cd.Cart.Notes != "" {
		text += "\n**Notes:** " + cd.Cart.Notes
	}
	if err := r.adapter.Reply(ctx, ev, text, true); err != nil {
		log.Printf("bot: router: show cart panel: %v", err)
		return
	}
	if _, err := r.adapter.Send(ctx, OutboundMessage{
		ChannelID: ev.ChannelID,
		Text:      "Cart updated for " + userMention(ev.UserID) + ".",
		Buttons:   CartButtons(),
	}); err != nil {
		log.Printf("bot: router: send cart buttons: %v", err)
	}
}

// submitOrder turns the requester's cart into an order, posts the summary
// to the destination forum, and follows up with nearby suppliers.
func (r *Router) submitOrder(ctx context.Context, ev InboundEvent, t changetype.ChangeType) {
	r.recordThread(ev)

	orderID, err := r.orders.Submit(t.ID, ev.ChannelID, ev.UserID)
	if err != nil {
		if errors.Is(err, order.ErrEmptyCart) {
			r.reply(ctx, ev, "Your cart is empty — add at least one item before sending.", true)
			return
		}
		log.Printf("bot: router: submit order: %v", err)
		r.reply(ctx, ev, "Couldn't submit the order, try again.", true)
		return
	}
	ref := t.Reference(orderID)
	fmt.Fprintf(r.out, "bot: router: submitted order %d (%s)\n", orderID, ref)

	o, err := r.store.GetOrder(orderID)
	if err != nil {
		log.Printf("bot: router: load submitted order %d: %v", orderID, err)
		r.reply(ctx, ev, "Order "+ref+" was created but I couldn't post it. The office has been notified.", true)
		return
	}

	th, _ := r.store.GetThread(ev.ChannelID)
	locText, title := "", ref+" — "+t.Label
	if th != nil {
		locText = th.LocationText
		if th.ProjectTitle != "" {
			title = ref + " — " + th.ProjectTitle
		}
	}

	items := make([]models.LineItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, models.LineItem{
			Description:   it.Description,
			QuantityValue: it.QuantityValue,
			QuantityUnit:  it.QuantityUnit,
			Notes:         it.Notes,
		})
	}
	embed := OrderSummaryEmbed(t.Label, ref, userMention(ev.UserID), items, o.NeedBy, o.Notes, locText, r.store.Now())

	postText := StatusLine(o.Status)
	if m := roleMention(r.officeRoleID); m != "" {
		postText = m + " new request\n" + postText
	}
	sent, err := r.adapter.CreateForumPost(ctx, r.destinationChannelID, title, OutboundMessage{
		Text:    postText,
		Embed:   embed,
		Buttons: StatusButtons(orderID),
	})
	if err != nil {
		log.Printf("bot: router: create forum post for order %d: %v", orderID, err)
		r.reply(ctx, ev, "Order "+ref+" was created but posting it failed. The office has been notified.", true)
		return
	}

	pinned := false
	if err := r.adapter.Pin(ctx, sent.ThreadID, sent.MessageID); err != nil {
		log.Printf("bot: router: pin order %d summary: %v", orderID, err)
	} else {
		pinned = true
	}

	if err := r.store.LinkForumPost(&models.ForumPost{
		OrderID:         orderID,
		ForumChannelID:  r.destinationChannelID,
		ForumThreadID:   sent.ThreadID,
		ProjectThreadID: ev.ChannelID,
		Pinned:          pinned,
	}); err != nil {
		log.Printf("bot: router: link forum post for order %d: %v", orderID, err)
	}

	r.reply(ctx, ev, "✅ Submitted "+ref+". The office will pick it up from here.", false)

	r.postSuppliers(ctx, orderID, ev.ChannelID, sent.ThreadID)
}

// postSuppliers looks up suppliers near the order's project location and
// appends them to the forum post. Failures degrade to a log line; the
// order stands either way.
func (r *Router) postSuppliers(ctx context.Context, orderID uint, projectThreadID, forumThreadID string) {
	th, err := r.store.GetThread(projectThreadID)
	if err != nil || th.City == "" || th.State == "" {
		fmt.Fprintf(r.out, "bot: router: no location for thread %s, skipping suppliers\n", projectThreadID)
		return
	}

	suppliers, providerUsed, cacheIDs := r.lookupSuppliers(ctx, th.City, th.State)
	if len(suppliers) == 0 {
		if _, err := r.adapter.Send(ctx, OutboundMessage{
			ChannelID: forumThreadID,
			Text:      fmt.Sprintf("No suppliers found near %s, %s.", th.City, th.State),
		}); err != nil {
			log.Printf("bot: router: send empty supplier note: %v", err)
		}
		return
	}

	embed := SuppliersEmbed(th.City, th.State, providerUsed, suppliers, r.store.Now())
	if _, err := r.adapter.Send(ctx, OutboundMessage{ChannelID: forumThreadID, Embed: embed}); err != nil {
		log.Printf("bot: router: send suppliers embed: %v", err)
		return
	}
	if err := r.store.LinkOrderSuppliers(orderID, cacheIDs); err != nil {
		log.Printf("bot: router: link order suppliers: %v", err)
	}
}

// lookupSuppliers serves from the cache when fresh rows exist, otherwise
// runs the provider chain. Returns the ranked list, the source label, and
// the cache row IDs for linking.
func (r *Router) lookupSuppliers(ctx context.Context, city, state string) ([]supplier.Supplier, string, []uint) {
	cached, err := r.store.GetCachedSuppliers(city, state)
	if err != nil {
		log.Printf("bot: router: read supplier cache: %v", err)
	}
	if len(cached) > 0 {
		fmt.Fprintf(r.out, "bot: router: supplier cache hit for %s, %s (%d rows)\n", city, state, len(cached))
		suppliers := make([]supplier.Supplier, 0, len(cached))
		ids := make([]uint, 0, len(cached))
		for _, e := range cached {
			suppliers = append(suppliers, cacheEntrySupplier(e))
			ids = append(ids, e.ID)
		}
		return supplier.Rank(suppliers), "cache", ids
	}

	if r.resolver == nil {
		return nil, "", nil
	}
	res, err := r.resolver.Resolve(ctx, city, state, r.radiusMi)
	if err != nil {
		log.Printf("bot: router: resolve suppliers for %s, %s: %v", city, state, err)
		return nil, "", nil
	}
	ranked := supplier.Rank(res.Suppliers)
	ids := make([]uint, 0, len(ranked))
	for _, s := range ranked {
		if s.CacheID != 0 {
			ids = append(ids, s.CacheID)
		}
	}
	return ranked, res.ProviderUsed, ids
}

// handleStatusButton walks the linked order to a new status and refreshes
// the forum post's status banner. Custom ID: status:<to>:<orderID>.
func (r *Router) handleStatusButton(ctx context.Context, ev InboundEvent) {
	if !ev.HasRole(r.officeRoleID) {
		r.reply(ctx, ev, "You need the office role to change order status.", true)
		return
	}
	parts := strings.SplitN(ev.CustomID, ":", 3)
	if len(parts) != 3 {
		r.reply(ctx, ev, "Malformed status button.", true)
		return
	}
	to, err := order.ParseStatus(parts[1])
	if err != nil {
		r.reply(ctx, ev, "Unknown status.", true)
		return
	}
	id64, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		r.reply(ctx, ev, "Malformed status button.", true)
		return
	}

	o, err := r.orders.UpdateStatus(uint(id64), to, ev.UserID)
	if err != nil {
		if errors.Is(err, order.ErrIllegalTransition) {
			r.reply(ctx, ev, "That status change isn't allowed from the order's current state.", true)
			return
		}
		if errors.Is(err, order.ErrNoLinkedOrder) {
			r.reply(ctx, ev, "I can't find the order behind this button.", true)
			return
		}
		log.Printf("bot: router: update status: %v", err)
		r.reply(ctx, ev, "Couldn't update the status, try again.", true)
		return
	}

	if ev.MessageID != "" {
		newText := ReplaceStatusLine(ev.Text, o.Status)
		if err := r.adapter.UpdateMessage(ctx, ev.ChannelID, ev.MessageID, newText); err != nil {
			log.Printf("bot: router: refresh status banner: %v", err)
		}
	}
	r.reply(ctx, ev, fmt.Sprintf("Order #%d is now %s.", o.ID, strings.ReplaceAll(o.Status, "_", " ")), false)

	// Tell the project thread too, so the requester sees it.
	if fp, err := r.store.GetForumPost(o.ID); err == nil && fp.ProjectThreadID != "" && fp.ProjectThreadID != ev.ChannelID {
		if _, err := r.adapter.Send(ctx, OutboundMessage{
			ChannelID: fp.ProjectThreadID,
			Text:      StatusLine(o.Status) + " — order #" + strconv.FormatUint(uint64(o.ID), 10),
		}); err != nil {
			log.Printf("bot: router: notify project thread: %v", err)
		}
	}
}

// handleMessage mirrors plain messages between a project thread and its
// linked forum post, in both directions.
func (r *Router) handleMessage(ctx context.Context, ev InboundEvent) {
	if strings.TrimSpace(ev.Text) == "" {
		return
	}

	var dest string
	var orderID *uint
	if fp, err := r.store.GetForumPostByProjectThread(ev.ChannelID); err == nil {
		dest = fp.ForumThreadID
		orderID = &fp.OrderID
	} else if fp, err := r.store.GetForumPostByForumThread(ev.ChannelID); err == nil {
		dest = fp.ProjectThreadID
		orderID = &fp.OrderID
	} else {
		return
	}
	if dest == "" || dest == ev.ChannelID {
		return
	}

	// Already mirrored (dedupe on redelivery).
	if _, err := r.store.GetMirrorBySource(ev.ChannelID, ev.MessageID); err == nil {
		return
	}

	sent, err := r.adapter.Send(ctx, OutboundMessage{
		ChannelID: dest,
		Text:      "**" + ev.UserName + ":** " + ev.Text,
	})
	if err != nil {
		log.Printf("bot: router: mirror message: %v", err)
		return
	}
	if err := r.store.RecordMessageLink(&models.MessageLink{
		OrderID:         orderID,
		SourceChannelID: ev.ChannelID,
		SourceMessageID: ev.MessageID,
		DestChannelID:   sent.ChannelID,
		DestMessageID:   sent.MessageID,
	}); err != nil {
		log.Printf("bot: router: record message link: %v", err)
	}
}

// recordThread captures thread metadata, parsing the project location out
// of the thread title when it matches a known City, ST shape.
func (r *Router) recordThread(ev InboundEvent) {
	t := models.Thread{ThreadID: ev.ChannelID, ProjectTitle: ev.ThreadTitle}
	if loc, ok := location.Parse(ev.ThreadTitle); ok {
		t.City = loc.City
		t.State = loc.State
		t.LocationText = loc.Text
	}
	if err := r.store.UpsertThread(&t); err != nil {
		log.Printf("bot: router: record thread %s: %v", ev.ChannelID, err)
	}
}

func (r *Router) forumAllowed(parentID string) bool {
	if len(r.allowedForumIDs) == 0 {
		return true
	}
	for _, id := range r.allowedForumIDs {
		if id == parentID {
			return true
		}
	}
	return false
}

// reply answers the interaction, logging instead of failing the flow.
func (r *Router) reply(ctx context.Context, ev InboundEvent, text string, ephemeral bool) {
	if err := r.adapter.Reply(ctx, ev, text, ephemeral); err != nil {
		log.Printf("bot: router: reply: %v", err)
	}
}

// cacheEntrySupplier converts a cache row back into a supplier.
func cacheEntrySupplier(e models.SupplierCacheEntry) supplier.Supplier {
	return supplier.Supplier{
		Source:     e.Source,
		PlaceID:    e.PlaceID,
		Brand:      e.Brand,
		Type:       e.Type,
		Name:       e.Name,
		Address:    e.Address,
		Phone:      e.Phone,
		Lat:        e.Lat,
		Lng:        e.Lng,
		DistanceMi: e.DistanceMi,
		CacheID:    e.ID,
	}
}

func strPtr(s string) *string { return &s }
