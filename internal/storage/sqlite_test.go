package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pendergraft/verideploy/internal/config"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger", "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := NewSQLiteStore(dbPath, logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Migrations are idempotent
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	return store
}

func TestSQLiteStore(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	t.Run("RecordAndGetDeployment", func(t *testing.T) {
		d := &Deployment{
			Network:         "linea",
			ChainID:         59140,
			ContractName:    "ContractEvents",
			Address:         "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			DeployerAddress: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			TxHash:          "0xabc",
			BlockNumber:     12,
			GasUsed:         53_000,
		}
		if err := store.RecordDeployment(ctx, d); err != nil {
			t.Fatalf("RecordDeployment() error = %v", err)
		}
		if d.ID == "" || d.CreatedAt == "" {
			t.Fatalf("RecordDeployment() did not fill ID/CreatedAt: %+v", d)
		}

		// Lookup ignores checksum casing
		got, err := store.GetDeployment(ctx, 59140, "0x5fbdb2315678afecb367f032d93f642f64180aa3")
		if err != nil {
			t.Fatalf("GetDeployment() error = %v", err)
		}
		if got.ContractName != "ContractEvents" {
			t.Errorf("GetDeployment().ContractName = %v, want ContractEvents", got.ContractName)
		}
		if got.BlockNumber != 12 || got.GasUsed != 53_000 {
			t.Errorf("GetDeployment() block/gas = %d/%d, want 12/53000", got.BlockNumber, got.GasUsed)
		}
		if got.Verified {
			t.Error("GetDeployment().Verified = true, want false")
		}

		err = store.RecordDeployment(ctx, &Deployment{Network: "linea", ChainID: 59140, ContractName: "X", Address: d.Address})
		if !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("duplicate RecordDeployment() error = %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetDeploymentNotFound", func(t *testing.T) {
		_, err := store.GetDeployment(ctx, 1, "0x0000000000000000000000000000000000000001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("GetDeployment() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdateVerificationStatus", func(t *testing.T) {
		d := &Deployment{Network: "sepolia", ChainID: 11155111, ContractName: "ContractEvents", Address: "0x00000000000000000000000000000000000000aa"}
		if err := store.RecordDeployment(ctx, d); err != nil {
			t.Fatalf("RecordDeployment() error = %v", err)
		}

		if err := store.UpdateVerificationStatus(ctx, d.ID, true, []string{"etherscan", "sourcify"}); err != nil {
			t.Fatalf("UpdateVerificationStatus() error = %v", err)
		}

		got, err := store.GetDeployment(ctx, 11155111, d.Address)
		if err != nil {
			t.Fatalf("GetDeployment() error = %v", err)
		}
		if !got.Verified {
			t.Error("Verified = false, want true")
		}
		if got.VerifiedAt == "" {
			t.Error("VerifiedAt is empty")
		}
		if len(got.VerifiedOn) != 2 || got.VerifiedOn[0] != "etherscan" {
			t.Errorf("VerifiedOn = %v, want [etherscan sourcify]", got.VerifiedOn)
		}

		if err := store.UpdateVerificationStatus(ctx, "missing", true, nil); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateVerificationStatus(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteStore_ListDeployments(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		network := "linea"
		if i%2 == 1 {
			network = "sepolia"
		}
		d := &Deployment{
			Network:      network,
			ChainID:      int64(100 + i%2),
			ContractName: "ContractEvents",
			Address:      fmt.Sprintf("0x%040x", i+1),
			CreatedAt:    fmt.Sprintf("2026-01-0%dT00:00:00.000000Z", i+1),
		}
		if err := store.RecordDeployment(ctx, d); err != nil {
			t.Fatalf("RecordDeployment(%d) error = %v", i, err)
		}
		if i == 4 {
			if err := store.UpdateVerificationStatus(ctx, d.ID, true, []string{"etherscan"}); err != nil {
				t.Fatalf("UpdateVerificationStatus() error = %v", err)
			}
		}
	}

	t.Run("paginates newest first", func(t *testing.T) {
		page, err := store.ListDeployments(ctx, DeploymentFilter{}, PaginationParams{Limit: 2})
		if err != nil {
			t.Fatalf("ListDeployments() error = %v", err)
		}
		if len(page.Data) != 2 || !page.HasMore || page.NextCursor == "" {
			t.Fatalf("first page = %d rows, hasMore %v", len(page.Data), page.HasMore)
		}
		if page.Data[0].Address != fmt.Sprintf("0x%040x", 5) {
			t.Errorf("first row = %s, want newest", page.Data[0].Address)
		}

		seen := len(page.Data)
		cursor := page.NextCursor
		for cursor != "" {
			page, err = store.ListDeployments(ctx, DeploymentFilter{}, PaginationParams{Limit: 2, Cursor: cursor})
			if err != nil {
				t.Fatalf("ListDeployments(cursor) error = %v", err)
			}
			seen += len(page.Data)
			cursor = page.NextCursor
		}
		if seen != 5 {
			t.Errorf("paged through %d rows, want 5", seen)
		}
	})

	t.Run("filters", func(t *testing.T) {
		verified := true
		tests := []struct {
			name   string
			filter DeploymentFilter
			want   int
		}{
			{"network", DeploymentFilter{Network: "sepolia"}, 2},
			{"chain id", DeploymentFilter{ChainID: 100}, 3},
			{"contract", DeploymentFilter{Contract: "Other"}, 0},
			{"verified", DeploymentFilter{Verified: &verified}, 1},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				page, err := store.ListDeployments(ctx, tt.filter, PaginationParams{})
				if err != nil {
					t.Fatalf("ListDeployments() error = %v", err)
				}
				if len(page.Data) != tt.want {
					t.Errorf("ListDeployments() = %d rows, want %d", len(page.Data), tt.want)
				}
			})
		}
	})

	t.Run("invalid cursor", func(t *testing.T) {
		_, err := store.ListDeployments(ctx, DeploymentFilter{}, PaginationParams{Cursor: "!!"})
		if !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("ListDeployments() error = %v, want ErrInvalidCursor", err)
		}
	})
}

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := Open(context.Background(), config.HistoryConfig{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "deployments.db"),
	}, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	store.Close()

	if _, err := New(config.HistoryConfig{Type: "mongo"}, logger); err == nil {
		t.Error("New(mongo) error = nil, want error")
	}
	if _, err := New(config.HistoryConfig{Type: "postgres"}, logger); err == nil {
		t.Error("New(postgres without url) error = nil, want error")
	}
}

func TestCursor(t *testing.T) {
	c := encodeCursor("2026-01-01T00:00:00.000000Z", "id-1")
	createdAt, id, err := decodeCursor(c)
	if err != nil {
		t.Fatalf("decodeCursor() error = %v", err)
	}
	if createdAt != "2026-01-01T00:00:00.000000Z" || id != "id-1" {
		t.Errorf("decodeCursor() = %q, %q", createdAt, id)
	}

	if _, _, err := decodeCursor(encodeCursor("", "")); !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("decodeCursor(empty) error = %v, want ErrInvalidCursor", err)
	}
}
