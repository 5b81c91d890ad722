// Package storage keeps an optional ledger of deployments in SQLite or
// PostgreSQL.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/verideploy/internal/config"
)

// DeploymentStore handles deployment operations
type DeploymentStore interface {
	RecordDeployment(ctx context.Context, d *Deployment) error
	GetDeployment(ctx context.Context, chainID int64, address string) (*Deployment, error)
	ListDeployments(ctx context.Context, filter DeploymentFilter, pagination PaginationParams) (*PaginatedResult[Deployment], error)
	UpdateVerificationStatus(ctx context.Context, id string, verified bool, verifiedOn []string) error
}

// Store combines the deployment ledger with lifecycle methods
type Store interface {
	DeploymentStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Deployment represents a recorded deployment
type Deployment struct {
	ID              string   `json:"id"`
	Network         string   `json:"network"`
	ChainID         int64    `json:"chainId"`
	ContractName    string   `json:"contractName"`
	Address         string   `json:"address"`
	DeployerAddress string   `json:"deployerAddress,omitempty"`
	TxHash          string   `json:"txHash,omitempty"`
	BlockNumber     int64    `json:"blockNumber,omitempty"`
	GasUsed         int64    `json:"gasUsed,omitempty"`
	Verified        bool     `json:"verified"`
	VerifiedAt      string   `json:"verifiedAt,omitempty"`
	VerifiedOn      []string `json:"verifiedOn,omitempty"`
	CreatedAt       string   `json:"createdAt"`
}

// DeploymentFilter contains filter options for listing deployments
type DeploymentFilter struct {
	Network  string
	ChainID  int64
	Contract string
	Verified *bool
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T    `json:"data"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// New creates a new store based on configuration
func New(cfg config.HistoryConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite", "":
		return NewSQLiteStore(cfg.SQLitePath, logger)
	case "postgres":
		return NewPostgresStore(cfg.DatabaseURL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// Open creates the store and runs migrations
func Open(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (Store, error) {
	store, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrating %s store: %w", cfg.Type, err)
	}
	return store, nil
}
