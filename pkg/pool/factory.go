package pool

import "context"

// Connection is the opaque transport handle managed by the pool. The
// pool never inspects it; only the factory that created it knows how
// to probe or dispose of it.
type Connection interface{}

// ConnectionFactory is the single collaborator the pool depends on for
// connection lifecycle. Create may block up to the pool's connection
// timeout; the pool passes a deadline-bearing context.
type ConnectionFactory interface {
	Create(ctx context.Context) (Connection, error)
	IsAlive(conn Connection) bool
	Dispose(conn Connection)
}

// FactoryFunc adapts plain functions to the ConnectionFactory interface.
type FactoryFunc struct {
	CreateFunc  func(ctx context.Context) (Connection, error)
	IsAliveFunc func(conn Connection) bool
	DisposeFunc func(conn Connection)
}

func (f FactoryFunc) Create(ctx context.Context) (Connection, error) {
	return f.CreateFunc(ctx)
}

func (f FactoryFunc) IsAlive(conn Connection) bool {
	if f.IsAliveFunc == nil {
		return true
	}
	return f.IsAliveFunc(conn)
}

func (f FactoryFunc) Dispose(conn Connection) {
	if f.DisposeFunc != nil {
		f.DisposeFunc(conn)
	}
}
