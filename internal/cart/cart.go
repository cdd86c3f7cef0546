// Package cart manages per-(thread, user) draft carts.
package cart

import (
	"errors"
	"fmt"
	"sync"

	"github.com/uhcops/changebot/internal/models"
	"github.com/uhcops/changebot/internal/store"
)

// Service exposes cart operations. All mutations for one (thread, user)
// key are serialized through a per-key mutex, so two near-simultaneous
// submits cannot both see the same draft.
type Service struct {
	store *store.Store
	locks keyedMutex
}

// New creates a cart Service.
func New(st *store.Store) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("cart: store is required")
	}
	return &Service{store: st}, nil
}

// WithLock runs fn while holding the mutation lock for (threadID,
// requesterID). Exposed so the order service can serialize submits with
// cart mutations on the same key.
func (s *Service) WithLock(threadID, requesterID string, fn func() error) error {
	unlock := s.locks.lock(threadID + "\x00" + requesterID)
	defer unlock()
	return fn()
}

// Get returns the current items for the key, an empty slice when no cart
// exists yet.
func (s *Service) Get(threadID, requesterID string) (*store.CartData, error) {
	cd, err := s.store.GetCart(threadID, requesterID)
	if errors.Is(err, store.ErrNotFound) {
		return &store.CartData{}, nil
	}
	return cd, err
}

// AddItem appends one line item to the draft, creating the cart on first
// use. Item order is preserved.
func (s *Service) AddItem(threadID, requesterID string, item models.LineItem) error {
	return s.WithLock(threadID, requesterID, func() error {
		cd, err := s.Get(threadID, requesterID)
		if err != nil {
			return err
		}
		items := append(cd.Items, item)
		return s.store.UpsertCart(threadID, requesterID, cd.Cart.NeedBy, cd.Cart.Notes, items)
	})
}

// SetReview updates the order-level need-by and notes gathered in the
// review form, leaving items untouched.
func (s *Service) SetReview(threadID, requesterID string, needBy *string, notes string) error {
	return s.WithLock(threadID, requesterID, func() error {
		cd, err := s.Get(threadID, requesterID)
		if err != nil {
			return err
		}
		return s.store.UpsertCart(threadID, requesterID, needBy, notes, cd.Items)
	})
}

// Clear deletes the draft. Clearing an already-empty cart succeeds:
// "start over" is idempotent.
func (s *Service) Clear(threadID, requesterID string) error {
	return s.WithLock(threadID, requesterID, func() error {
		return s.store.ClearCart(threadID, requesterID)
	})
}

// keyedMutex hands out one mutex per string key. Entries are reference
// counted and removed when the last holder unlocks, so the map does not
// grow with every thread ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
