package pool

import (
	"time"
)

// PoolConnection is the pool's record of one managed connection. All
// mutable fields are guarded by the owning pool's mutex; callers only
// read the handle and identifiers.
type PoolConnection struct {
	id           string
	handle       Connection
	createdAt    time.Time
	lastUsedAt   time.Time
	inUse        bool
	healthy      bool
	sessionCount int
}

// ID returns the pool-assigned connection identifier.
func (c *PoolConnection) ID() string {
	return c.id
}

// Handle returns the underlying transport connection.
func (c *PoolConnection) Handle() Connection {
	return c.handle
}

// CreatedAt returns when the connection was created.
func (c *PoolConnection) CreatedAt() time.Time {
	return c.createdAt
}

// ConnectionInfo is a point-in-time copy of a connection record,
// safe to read outside the pool's mutex.
type ConnectionInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
	InUse        bool      `json:"in_use"`
	Healthy      bool      `json:"healthy"`
	SessionCount int       `json:"session_count"`
}

func (c *PoolConnection) info() ConnectionInfo {
	return ConnectionInfo{
		ID:           c.id,
		CreatedAt:    c.createdAt,
		LastUsedAt:   c.lastUsedAt,
		InUse:        c.inUse,
		Healthy:      c.healthy,
		SessionCount: c.sessionCount,
	}
}
