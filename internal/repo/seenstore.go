/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/luisson10/conbiz-ticket-support/internal/domain"
)

// SeenStore is the durable per-(user, board) read state: one row per seen
// item id plus a watermark row. It satisfies the activity package's store
// interface.
type SeenStore struct {
	db *DB
}

func NewSeenStore(d *DB) *SeenStore { return &SeenStore{db: d} }

func (s *SeenStore) Get(ctx context.Context, userID, boardID string) (domain.SeenState, error) {
	state := domain.SeenState{SeenIDs: make(map[string]struct{})}
	rows, err := s.db.Pool.Query(ctx, `SELECT item_id FROM activity_seen WHERE user_id=$1 AND board_id=$2`, userID, boardID)
	if err != nil { return domain.SeenState{}, err }
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil { return domain.SeenState{}, err }
		state.SeenIDs[id] = struct{}{}
	}
	if err := rows.Err(); err != nil { return domain.SeenState{}, err }

	var last time.Time
	err = s.db.Pool.QueryRow(ctx, `SELECT last_seen_at FROM activity_watermarks WHERE user_id=$1 AND board_id=$2`, userID, boardID).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) { return state, nil }
	if err != nil { return domain.SeenState{}, err }
	state.LastSeenAt = &last
	return state, nil
}

func (s *SeenStore) MarkSeen(ctx context.Context, userID, boardID string, itemIDs []string) error {
	if len(itemIDs) == 0 { return nil }
	batch := &pgx.Batch{}
	const q = `INSERT INTO activity_seen(user_id, board_id, item_id) VALUES($1,$2,$3) ON CONFLICT DO NOTHING`
	for _, id := range itemIDs { batch.Queue(q, userID, boardID, id) }
	br := s.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range itemIDs { if _, err := br.Exec(); err != nil { return err } }
	return nil
}

// AdvanceWatermark only ever moves the watermark forward; GREATEST keeps
// it monotonic under concurrent writers.
func (s *SeenStore) AdvanceWatermark(ctx context.Context, userID, boardID string, ts time.Time) error {
	_, err := s.db.Pool.Exec(ctx, `
        INSERT INTO activity_watermarks(user_id, board_id, last_seen_at)
        VALUES($1,$2,$3)
        ON CONFLICT (user_id, board_id)
        DO UPDATE SET last_seen_at = GREATEST(activity_watermarks.last_seen_at, EXCLUDED.last_seen_at)`,
		userID, boardID, ts)
	return err
}
