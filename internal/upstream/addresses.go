package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/zarumart/api/internal/domain"
	"github.com/zarumart/api/internal/platform/session"
)

type addressPayload struct {
	ID         string  `json:"id"`
	FirstName  string  `json:"first_name"`
	LastName   string  `json:"last_name"`
	Street     string  `json:"street"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
	IsDefault  bool    `json:"is_default"`
}

func addressToPayload(a domain.Address) addressPayload {
	return addressPayload{
		ID:         a.ID,
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		Street:     a.Street,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
		IsDefault:  a.IsDefault,
	}
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		ID:         p.ID,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Street:     p.Street,
		City:       p.City,
		State:      p.State,
		PostalCode: p.PostalCode,
		Country:    p.Country,
		Phone:      p.Phone,
		IsDefault:  p.IsDefault,
	}
}

// AddressBook fronts the platform's address CRUD endpoints with a
// per-session cache. The cache holds whatever the platform last returned;
// it is dropped wholesale on mutation failures and payment success.
type AddressBook struct {
	client *Client

	mu    sync.Mutex
	cache map[string][]domain.Address
}

// NewAddressBook constructs an AddressBook over the shared upstream client.
func NewAddressBook(client *Client) (*AddressBook, error) {
	if client == nil {
		return nil, errors.New("upstream: client is required")
	}
	return &AddressBook{
		client: client,
		cache:  make(map[string][]domain.Address),
	}, nil
}

// List returns the session's saved addresses, serving from cache when warm.
func (b *AddressBook) List(ctx context.Context) ([]domain.Address, error) {
	sess, ok := session.FromContext(ctx)
	if !ok {
		return nil, errors.New("upstream: no session in context")
	}

	b.mu.Lock()
	if cached, ok := b.cache[sess.ID]; ok {
		out := cloneAddresses(cached)
		b.mu.Unlock()
		return out, nil
	}
	b.mu.Unlock()

	var payload struct {
		Addresses []addressPayload `json:"addresses"`
	}
	if err := b.client.get(ctx, "/account/addresses", &payload); err != nil {
		return nil, err
	}

	addresses := make([]domain.Address, 0, len(payload.Addresses))
	for _, p := range payload.Addresses {
		addresses = append(addresses, p.toDomain())
	}

	b.mu.Lock()
	b.cache[sess.ID] = cloneAddresses(addresses)
	b.mu.Unlock()

	return addresses, nil
}

// Create saves a new address and appends it to the cache.
func (b *AddressBook) Create(ctx context.Context, address domain.Address) (domain.Address, error) {
	sess, ok := session.FromContext(ctx)
	if !ok {
		return domain.Address{}, errors.New("upstream: no session in context")
	}

	var payload addressPayload
	if err := b.client.post(ctx, "/account/addresses", addressToPayload(address), &payload, nil); err != nil {
		return domain.Address{}, err
	}
	created := payload.toDomain()

	b.mu.Lock()
	if cached, ok := b.cache[sess.ID]; ok {
		b.cache[sess.ID] = append(cached, created)
	}
	b.mu.Unlock()

	return created, nil
}

// Update replaces an existing address and refreshes the cached entry.
func (b *AddressBook) Update(ctx context.Context, address domain.Address) (domain.Address, error) {
	sess, ok := session.FromContext(ctx)
	if !ok {
		return domain.Address{}, errors.New("upstream: no session in context")
	}
	if strings.TrimSpace(address.ID) == "" {
		return domain.Address{}, fmt.Errorf("upstream: address id is required")
	}

	var payload addressPayload
	if err := b.client.put(ctx, "/account/addresses/"+url.PathEscape(address.ID), addressToPayload(address), &payload); err != nil {
		return domain.Address{}, err
	}
	updated := payload.toDomain()

	b.mu.Lock()
	if cached, ok := b.cache[sess.ID]; ok {
		for i := range cached {
			if cached[i].ID == updated.ID {
				cached[i] = updated
			}
		}
	}
	b.mu.Unlock()

	return updated, nil
}

// Delete removes an address and drops it from the cache.
func (b *AddressBook) Delete(ctx context.Context, addressID string) error {
	sess, ok := session.FromContext(ctx)
	if !ok {
		return errors.New("upstream: no session in context")
	}
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return fmt.Errorf("upstream: address id is required")
	}

	if err := b.client.delete(ctx, "/account/addresses/"+url.PathEscape(addressID)); err != nil {
		return err
	}

	b.mu.Lock()
	if cached, ok := b.cache[sess.ID]; ok {
		filtered := cached[:0]
		for _, a := range cached {
			if a.ID != addressID {
				filtered = append(filtered, a)
			}
		}
		b.cache[sess.ID] = filtered
	}
	b.mu.Unlock()

	return nil
}

// SetDefault flips the default flag optimistically, confirms with the
// platform, and rolls the cache back when the confirmation fails.
func (b *AddressBook) SetDefault(ctx context.Context, addressID string) error {
	sess, ok := session.FromContext(ctx)
	if !ok {
		return errors.New("upstream: no session in context")
	}
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return fmt.Errorf("upstream: address id is required")
	}

	b.mu.Lock()
	previous := cloneAddresses(b.cache[sess.ID])
	if cached, ok := b.cache[sess.ID]; ok {
		for i := range cached {
			cached[i].IsDefault = cached[i].ID == addressID
		}
	}
	b.mu.Unlock()

	body := map[string]any{"is_default": true}
	if err := b.client.put(ctx, "/account/addresses/"+url.PathEscape(addressID), body, nil); err != nil {
		b.mu.Lock()
		if previous != nil {
			b.cache[sess.ID] = previous
		}
		b.mu.Unlock()
		return err
	}
	return nil
}

// Invalidate drops the session's cached addresses.
func (b *AddressBook) Invalidate(sessionID string) {
	b.mu.Lock()
	delete(b.cache, sessionID)
	b.mu.Unlock()
}

func cloneAddresses(in []domain.Address) []domain.Address {
	if in == nil {
		return nil
	}
	out := make([]domain.Address, len(in))
	copy(out, in)
	return out
}
