package order

import (
	"errors"
	"fmt"

	"github.com/uhcops/changebot/internal/cart"
	"github.com/uhcops/changebot/internal/models"
	"github.com/uhcops/changebot/internal/store"
)

// ErrEmptyCart is returned when a submit finds no items to order.
var ErrEmptyCart = errors.New("order: cart has no items")

// ErrNoLinkedOrder is returned when a status update cannot locate the
// order behind an external post. Reported to the caller as a user
// message, never fatal.
var ErrNoLinkedOrder = errors.New("order: no linked order for this post")

// Service owns the order lifecycle: submitting carts and walking orders
// through their statuses.
type Service struct {
	store          *store.Store
	carts          *cart.Service
	frequencyHours int
}

// Opts holds parameters for creating a Service.
type Opts struct {
	Store          *store.Store
	Carts          *cart.Service
	FrequencyHours int // reminder recurrence; defaults to 10
}

// New creates an order Service.
func New(opts Opts) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("order: store is required")
	}
	if opts.Carts == nil {
		return nil, fmt.Errorf("order: cart service is required")
	}
	freq := opts.FrequencyHours
	if freq <= 0 {
		freq = 10
	}
	return &Service{store: opts.Store, carts: opts.Carts, frequencyHours: freq}, nil
}

// Submit turns the draft cart for (threadID, requesterID) into a
// persisted order. The order, its items, and its first reminder are
// written in one transaction; the cart is cleared on success. An empty
// (or missing) cart is rejected with ErrEmptyCart and creates nothing.
//
// Submit holds the cart key lock for the whole read-create-clear
// sequence, so a second rapid submit for the same key observes the
// cleared cart and is rejected rather than double-ordering.
func (s *Service) Submit(orderType, threadID, requesterID string) (uint, error) {
	var orderID uint
	err := s.carts.WithLock(threadID, requesterID, func() error {
		cd, err := s.store.GetCart(threadID, requesterID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrEmptyCart
		}
		if err != nil {
			return err
		}
		if len(cd.Items) == 0 {
			return ErrEmptyCart
		}

		orderID, err = s.store.CreateOrderWithItems(store.NewOrder{
			Type:           orderType,
			ThreadID:       threadID,
			RequesterID:    requesterID,
			NeedBy:         cd.Cart.NeedBy,
			Notes:          cd.Cart.Notes,
			Items:          cd.Items,
			FrequencyHours: s.frequencyHours,
		})
		if err != nil {
			return err
		}
		return s.store.ClearCart(threadID, requesterID)
	})
	if err != nil {
		return 0, err
	}
	return orderID, nil
}

// UpdateStatus validates and applies a status transition, stamping
// completion fields and deactivating the reminder when the order reaches
// a terminal status. Returns the updated order.
func (s *Service) UpdateStatus(orderID uint, to Status, actorID string) (*models.Order, error) {
	o, err := s.store.GetOrder(orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoLinkedOrder
	}
	if err != nil {
		return nil, err
	}

	from, err := ParseStatus(o.Status)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(from, to); err != nil {
		return nil, err
	}

	completedAt := o.CompletedAt
	completedBy := o.CompletedBy
	if to.Terminal() {
		now := s.store.Now()
		completedAt = &now
		completedBy = actorID
	} else {
		completedAt = nil
		completedBy = ""
	}

	if err := s.store.SetOrderStatus(orderID, string(to), completedAt, completedBy); err != nil {
		return nil, err
	}
	if to.Terminal() {
		if err := s.store.StopReminders(orderID); err != nil {
			return nil, err
		}
	}
	return s.store.GetOrder(orderID)
}

// UpdateStatusByPost resolves an order through its forum-post link and
// applies the transition. A post with no link yields ErrNoLinkedOrder.
func (s *Service) UpdateStatusByPost(forumThreadID string, to Status, actorID string) (*models.Order, error) {
	fp, err := s.store.GetForumPostByForumThread(forumThreadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoLinkedOrder
	}
	if err != nil {
		return nil, err
	}
	return s.UpdateStatus(fp.OrderID, to, actorID)
}
