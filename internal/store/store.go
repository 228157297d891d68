package store

import "context"

// Store is the composite interface for all data access.
type Store interface {
	ServerStore
	TokenStore
	AuditStore
	Tx(ctx context.Context, fn func(Store) error) error
	Ping(ctx context.Context) error
	Close() error
}

// ServerStore manages persisted server configurations.
type ServerStore interface {
	CreateServer(ctx context.Context, s *Server) error
	GetServer(ctx context.Context, id string) (*Server, error)
	ListServers(ctx context.Context) ([]Server, error)
	UpdateServer(ctx context.Context, s *Server) error
	DeleteServer(ctx context.Context, id string) error
}

// TokenStore manages caller tokens.
type TokenStore interface {
	CreateToken(ctx context.Context, t *Token) error
	GetToken(ctx context.Context, id string) (*Token, error)
	ListTokens(ctx context.Context) ([]Token, error)
	UpdateToken(ctx context.Context, t *Token) error
	DeleteToken(ctx context.Context, id string) error
}

// AuditStore is the log sink.
type AuditStore interface {
	InsertAuditRecord(ctx context.Context, r *AuditRecord) error
	QueryAuditRecords(ctx context.Context, f AuditFilter) ([]AuditRecord, int, error)
}
