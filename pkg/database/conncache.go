package database

import (
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

// ConnectionCache pools sqlx connections to organization mirror databases by
// connection URL. Every organization owns its own database, so without the
// cache each webhook would open a fresh pool against the mirror.
type ConnectionCache struct {
	logger ectologger.Logger

	mu    sync.Mutex
	conns map[string]*sqlx.DB

	maxOpenConns int
	maxIdleConns int
}

func NewConnectionCache(logger ectologger.Logger, maxOpenConns, maxIdleConns int) *ConnectionCache {
	return &ConnectionCache{
		logger:       logger,
		conns:        map[string]*sqlx.DB{},
		maxOpenConns: maxOpenConns,
		maxIdleConns: maxIdleConns,
	}
}

// Get returns the pool for url, opening it on first use. sqlx.Open does not
// dial, so a bad URL surfaces on the first query rather than here.
func (c *ConnectionCache) Get(url string) (*sqlx.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.conns[url]; ok {
		return db, nil
	}

	db, err := sqlx.Open("postgres", url)
	if err != nil {
		c.logger.WithError(err).Error("Failed to open mirror database connection")
		return nil, err
	}
	db.SetMaxOpenConns(c.maxOpenConns)
	db.SetMaxIdleConns(c.maxIdleConns)

	c.conns[url] = db
	return db, nil
}

// Evict closes and forgets the pool for url. Called when an organization's
// database is dropped or its credentials are rotated.
func (c *ConnectionCache) Evict(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	db, ok := c.conns[url]
	if !ok {
		return nil
	}
	delete(c.conns, url)
	return db.Close()
}

// Close closes every cached pool.
func (c *ConnectionCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for url, db := range c.conns {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, url)
	}
	return firstErr
}
