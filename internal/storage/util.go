package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeFormat is fixed width so text timestamps sort chronologically
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

// defaultPageSize applies when pagination.Limit is not positive
const defaultPageSize = 20

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

func now() string {
	return time.Now().UTC().Format(timeFormat)
}

// normalizeAddress lowercases addresses so lookups ignore checksum casing
func normalizeAddress(address string) string {
	return strings.ToLower(address)
}

func encodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func decodeList(s string) []string {
	if s == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil
	}
	return items
}

func encodeCursor(createdAt, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(createdAt + "|" + id))
}

func decodeCursor(cursor string) (createdAt, id string, err error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", ErrInvalidCursor
	}
	createdAt, id, ok := strings.Cut(string(b), "|")
	if !ok || createdAt == "" || id == "" {
		return "", "", ErrInvalidCursor
	}
	return createdAt, id, nil
}

// deploymentColumns is the select list shared by both stores
const deploymentColumns = `id, network, chain_id, contract_name, address, deployer_address, tx_hash, block_number, gas_used, verified, verified_at, verified_on, created_at`

// listDeploymentsQuery builds the filtered, keyset-paginated listing query.
// placeholder renders the n-th bind parameter for the driver.
func listDeploymentsQuery(filter DeploymentFilter, pagination PaginationParams, placeholder func(n int) string) (string, []any, int, error) {
	limit := pagination.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.Network != "" {
		where = append(where, "network = "+arg(filter.Network))
	}
	if filter.ChainID != 0 {
		where = append(where, "chain_id = "+arg(filter.ChainID))
	}
	if filter.Contract != "" {
		where = append(where, "contract_name = "+arg(filter.Contract))
	}
	if filter.Verified != nil {
		where = append(where, "verified = "+arg(*filter.Verified))
	}
	if pagination.Cursor != "" {
		createdAt, id, err := decodeCursor(pagination.Cursor)
		if err != nil {
			return "", nil, 0, err
		}
		where = append(where, fmt.Sprintf("(created_at < %s OR (created_at = %s AND id < %s))", arg(createdAt), arg(createdAt), arg(id)))
	}

	query := "SELECT " + deploymentColumns + " FROM deployments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + arg(limit+1)

	return query, args, limit, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (*Deployment, error) {
	var (
		d          Deployment
		verifiedAt *string
		verifiedOn *string
	)
	err := row.Scan(
		&d.ID, &d.Network, &d.ChainID, &d.ContractName, &d.Address, &d.DeployerAddress,
		&d.TxHash, &d.BlockNumber, &d.GasUsed, &d.Verified, &verifiedAt, &verifiedOn, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if verifiedAt != nil {
		d.VerifiedAt = *verifiedAt
	}
	if verifiedOn != nil {
		d.VerifiedOn = decodeList(*verifiedOn)
	}
	return &d, nil
}

// paginate trims the extra look-ahead row and computes the next cursor
func paginate(deployments []Deployment, limit int) *PaginatedResult[Deployment] {
	hasMore := len(deployments) > limit
	if hasMore {
		deployments = deployments[:limit]
	}
	result := &PaginatedResult[Deployment]{Data: deployments, HasMore: hasMore}
	if hasMore {
		last := deployments[len(deployments)-1]
		result.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return result
}
