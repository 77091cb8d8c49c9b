package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sebastianusacom/banana-cases-sub000/internal/model"
)

// PostgresStore implements Store using PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE inventory_items (
//	    instance_id TEXT PRIMARY KEY,
//	    user_id     TEXT NOT NULL,
//	    item_id     TEXT NOT NULL,
//	    value       BIGINT NOT NULL,
//	    acquired_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX inventory_items_user_idx ON inventory_items (user_id, acquired_at DESC);
//
// DELETE ... RETURNING makes instance consumption atomic: of two racing
// removals, exactly one sees the row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed inventory.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Add(ctx context.Context, userID string, item model.Item) (model.OwnedItem, error) {
	owned := model.OwnedItem{
		InstanceID: uuid.New().String(),
		ItemID:     item.ID,
		Value:      item.Value,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO inventory_items (instance_id, user_id, item_id, value, acquired_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 RETURNING acquired_at`,
		owned.InstanceID, userID, owned.ItemID, owned.Value,
	).Scan(&owned.AcquiredAt)
	if err != nil {
		return model.OwnedItem{}, fmt.Errorf("inventory add for %s: %w", userID, err)
	}
	return owned, nil
}

func (s *PostgresStore) Remove(ctx context.Context, userID, instanceID string) (model.OwnedItem, error) {
	var owned model.OwnedItem
	err := s.pool.QueryRow(ctx,
		`DELETE FROM inventory_items
		 WHERE instance_id = $1 AND user_id = $2
		 RETURNING instance_id, item_id, value, acquired_at`,
		instanceID, userID,
	).Scan(&owned.InstanceID, &owned.ItemID, &owned.Value, &owned.AcquiredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.OwnedItem{}, ErrItemNotOwned
	}
	if err != nil {
		return model.OwnedItem{}, fmt.Errorf("inventory remove %s: %w", instanceID, err)
	}
	return owned, nil
}

func (s *PostgresStore) List(ctx context.Context, userID string) ([]model.OwnedItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT instance_id, item_id, value, acquired_at
		 FROM inventory_items WHERE user_id = $1
		 ORDER BY acquired_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("inventory list for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []model.OwnedItem
	for rows.Next() {
		var it model.OwnedItem
		if err := rows.Scan(&it.InstanceID, &it.ItemID, &it.Value, &it.AcquiredAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
