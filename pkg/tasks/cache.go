package tasks

import (
	"context"
	"log"
	"sync"
	"time"
)

// RefreshInterval is the default external task list poll period.
const RefreshInterval = 5 * time.Minute

// Cache holds the last-known-good task list, refreshed periodically and on
// startup. UpstreamError from the primary source is never fatal: the cache
// falls back to the last good snapshot, or to fallback on a cold start.
type Cache struct {
	mu        sync.RWMutex
	tasks     []Task
	fetchedAt time.Time

	primary  Source
	fallback Source
	logger   *log.Logger
}

// NewCache constructs a Cache polling primary, falling back to fallback
// only when the cache has never been populated.
func NewCache(primary, fallback Source) *Cache {
	return &Cache{
		primary:  primary,
		fallback: fallback,
		logger:   log.New(log.Writer(), "[Tasks] ", log.LstdFlags),
	}
}

// Refresh pulls the current task list. A failure leaves the existing cache
// untouched unless the cache is empty, in which case the fallback source is
// used.
func (c *Cache) Refresh(ctx context.Context) error {
	fetched, err := c.primary.FetchTasks(ctx)
	if err != nil {
		c.mu.RLock()
		hasCache := len(c.tasks) > 0
		c.mu.RUnlock()
		if hasCache {
			c.logger.Printf("upstream task source unreachable, keeping last known good list: %v", err)
			return nil
		}
		c.logger.Printf("upstream task source unreachable at startup, falling back to genesis list: %v", err)
		fetched, err = c.fallback.FetchTasks(ctx)
		if err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.tasks = fetched
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// Start launches a background refresh loop on interval until ctx is
// cancelled.
func (c *Cache) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					c.logger.Printf("refresh failed: %v", err)
				}
			}
		}
	}()
}

// Tasks returns a snapshot of the current task list.
func (c *Cache) Tasks() []Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// Age returns how long ago the cache was last successfully refreshed.
func (c *Cache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fetchedAt.IsZero() {
		return 0
	}
	return time.Since(c.fetchedAt)
}
