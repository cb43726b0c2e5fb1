package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"order-assistant/internal/common/db"
	"order-assistant/internal/domain"

	"github.com/jackc/pgx/v5"
)

// PGDedupStore keeps processed message ids in the shared database so
// redelivered webhooks replay their stored result on any instance.
type PGDedupStore struct {
	db *db.Conn
}

func NewPGDedupStore(conn *db.Conn) *PGDedupStore { return &PGDedupStore{db: conn} }

func (s *PGDedupStore) Get(ctx context.Context, key domain.CartKey, messageID string) (*Result, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `
SELECT result FROM processed_messages
WHERE business_id = $1 AND customer_id = $2 AND message_id = $3
`, key.BusinessID, key.CustomerID, messageID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query processed message: %w", err)
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode stored result: %w", err)
	}
	return &res, nil
}

func (s *PGDedupStore) Put(ctx context.Context, key domain.CartKey, messageID string, res *Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO processed_messages (business_id, customer_id, message_id, result, created_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (business_id, customer_id, message_id) DO NOTHING
`, key.BusinessID, key.CustomerID, messageID, raw)
	if err != nil {
		return fmt.Errorf("store processed message: %w", err)
	}
	return nil
}
