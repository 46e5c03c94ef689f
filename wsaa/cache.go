package wsaa

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// FetchFunc obtains a fresh ticket from the WSAA gateway. It is called only
// when the cache cannot satisfy a request.
type FetchFunc func(ctx context.Context) (*Ticket, error)

type cacheKey struct {
	env     Environment
	service string
}

func (k cacheKey) flight() string {
	return string(k.env) + "/" + k.service
}

// Cache holds one ticket per service and environment pair and collapses
// concurrent misses into a single fetch. WSAA grants at most one ticket per
// service per request window, so letting two goroutines fetch the same
// service concurrently would guarantee one of them a fault.
//
// Tickets are considered usable until safetyMargin before their expiration.
// Fetched tickets are written through to the disk store when one is
// configured; only successful fetches are stored.
type Cache struct {
	safetyMargin time.Duration
	disk         *DiskStore
	group        singleflight.Group

	mu      sync.RWMutex
	tickets map[cacheKey]*Ticket

	now func() time.Time
}

// NewCache creates a ticket cache. disk may be nil to keep tickets in memory
// only.
func NewCache(safetyMargin time.Duration, disk *DiskStore) *Cache {
	return &Cache{
		safetyMargin: safetyMargin,
		disk:         disk,
		tickets:      make(map[cacheKey]*Ticket),
		now:          time.Now,
	}
}

// GetOrFetch returns the cached ticket for service in env, or runs fetch to
// obtain one. Concurrent callers for the same key share a single fetch;
// waiters that see their context cancelled stop waiting without cancelling
// the shared fetch.
func (c *Cache) GetOrFetch(ctx context.Context, env Environment, service string, fetch FetchFunc) (*Ticket, error) {
	key := cacheKey{env: env, service: service}

	if ticket := c.lookup(key); ticket != nil {
		return ticket, nil
	}

	ch := c.group.DoChan(key.flight(), func() (interface{}, error) {
		// Another caller may have completed a fetch between this caller's
		// miss and the flight starting.
		if ticket := c.lookup(key); ticket != nil {
			return ticket, nil
		}

		if ticket := c.loadFromDisk(key); ticket != nil {
			c.store(key, ticket, false)
			return ticket, nil
		}

		ticket, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, ticket, true)
		return ticket, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Ticket), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the ticket for service in env from memory and disk,
// typically after the business service rejected it.
func (c *Cache) Invalidate(env Environment, service string) error {
	key := cacheKey{env: env, service: service}

	c.mu.Lock()
	delete(c.tickets, key)
	c.mu.Unlock()

	c.group.Forget(key.flight())

	if c.disk != nil {
		return c.disk.Remove(env, service)
	}
	return nil
}

// InvalidateAll drops every cached ticket from memory and disk.
func (c *Cache) InvalidateAll() error {
	c.mu.Lock()
	c.tickets = make(map[cacheKey]*Ticket)
	c.mu.Unlock()

	if c.disk != nil {
		return c.disk.RemoveAll()
	}
	return nil
}

// lookup returns the cached ticket for key if it is still usable.
func (c *Cache) lookup(key cacheKey) *Ticket {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ticket := c.tickets[key]
	if !ticket.UsableAt(c.now(), c.safetyMargin) {
		return nil
	}
	return ticket
}

func (c *Cache) loadFromDisk(key cacheKey) *Ticket {
	if c.disk == nil {
		return nil
	}

	ticket, err := c.disk.Load(key.env, key.service)
	if err != nil {
		log.Warn().
			Str("service", key.service).
			Str("environment", key.env.String()).
			Err(err).
			Msg("failed to load cached ticket")
		return nil
	}
	if !ticket.UsableAt(c.now(), c.safetyMargin) {
		return nil
	}

	log.Debug().
		Str("service", key.service).
		Str("environment", key.env.String()).
		Time("expires", ticket.ExpirationTime).
		Msg("reusing ticket from disk")

	return ticket
}

func (c *Cache) store(key cacheKey, ticket *Ticket, persist bool) {
	c.mu.Lock()
	c.tickets[key] = ticket
	c.mu.Unlock()

	if persist && c.disk != nil {
		if err := c.disk.Save(ticket); err != nil {
			log.Warn().
				Str("service", key.service).
				Str("environment", key.env.String()).
				Err(err).
				Msg("failed to persist ticket")
		}
	}
}
