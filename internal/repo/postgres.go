/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/luisson10/conbiz-ticket-support/internal/config"
	"github.com/luisson10/conbiz-ticket-support/internal/domain"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil { log.Fatal().Err(err).Msg("db connect failed") }
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second); defer cancel()
	if err := pool.Ping(ctx2); err != nil { log.Fatal().Err(err).Msg("db ping failed") }
	return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
	db  *DB
	log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d, log: log} }

// ---- boards ----

const boardCols = `id, name, type, account_id, team_id, COALESCE(project_id, ''), created_at, updated_at`

func scanBoard(row pgx.Row) (domain.Board, error) {
	var b domain.Board
	err := row.Scan(&b.ID, &b.Name, &b.Type, &b.AccountID, &b.TeamID, &b.ProjectID, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) { return domain.Board{}, domain.E(domain.KindNotFound, "board not found") }
	if err != nil { return domain.Board{}, err }
	return b, nil
}

func (r *Repository) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	return scanBoard(r.db.Pool.QueryRow(ctx, `SELECT `+boardCols+` FROM boards WHERE id=$1`, id))
}

func (r *Repository) ListBoards(ctx context.Context) ([]domain.Board, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+boardCols+` FROM boards ORDER BY name`)
	if err != nil { return nil, err }
	defer rows.Close()
	return collectBoards(rows)
}

func (r *Repository) ListBoardsByAccount(ctx context.Context, accountID string) ([]domain.Board, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+boardCols+` FROM boards WHERE account_id=$1 ORDER BY name`, accountID)
	if err != nil { return nil, err }
	defer rows.Close()
	return collectBoards(rows)
}

func collectBoards(rows pgx.Rows) ([]domain.Board, error) {
	boards := []domain.Board{}
	for rows.Next() {
		var b domain.Board
		if err := rows.Scan(&b.ID, &b.Name, &b.Type, &b.AccountID, &b.TeamID, &b.ProjectID, &b.CreatedAt, &b.UpdatedAt); err != nil { return nil, err }
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

func (r *Repository) CreateBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	const q = `
        INSERT INTO boards(name, type, account_id, team_id, project_id)
        VALUES($1,$2,$3,$4,NULLIF($5,''))
        RETURNING ` + boardCols
	return scanBoard(r.db.Pool.QueryRow(ctx, q, b.Name, b.Type, b.AccountID, b.TeamID, b.ProjectID))
}

func (r *Repository) UpdateBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	const q = `
        UPDATE boards
        SET name=$2, type=$3, account_id=$4, team_id=$5, project_id=NULLIF($6,''), updated_at=now()
        WHERE id=$1
        RETURNING ` + boardCols
	return scanBoard(r.db.Pool.QueryRow(ctx, q, b.ID, b.Name, b.Type, b.AccountID, b.TeamID, b.ProjectID))
}

func (r *Repository) DeleteBoard(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM boards WHERE id=$1`, id)
	if err != nil { return err }
	if tag.RowsAffected() == 0 { return domain.E(domain.KindNotFound, "board not found") }
	return nil
}

// ---- accounts ----

func (r *Repository) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, name FROM accounts ORDER BY name`)
	if err != nil { return nil, err }
	defer rows.Close()
	accounts := []domain.Account{}
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.Name); err != nil { return nil, err }
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ---- releases ----

// ReleaseQuery scopes a timeline page. Cursor is the publish (or, for
// drafts, creation) time of the previous page's last row.
type ReleaseQuery struct {
	AdminView bool
	AccountID string
	Status    *domain.ReleaseStatus
	Cursor    *time.Time
	Limit     int
}

const releaseCols = `r.id, r.title, COALESCE(r.description, ''), r.status, r.published_at, r.created_at, r.updated_at`

// ListReleases returns one timeline page plus a has-next flag from a
// limit+1 probe. Ordering interleaves published releases (by published_at)
// and drafts (by created_at) in one descending timeline; the two-branch
// cursor condition keeps the keyset stable under concurrent publishes.
func (r *Repository) ListReleases(ctx context.Context, q ReleaseQuery) ([]domain.Release, bool, error) {
	const sql = `
        SELECT ` + releaseCols + `,
               (SELECT count(*) FROM release_items ri WHERE ri.release_id = r.id) AS item_count
        FROM releases r
        WHERE ($1 OR (r.status = 'PUBLISHED' AND EXISTS (
                  SELECT 1 FROM release_accounts ra WHERE ra.release_id = r.id AND ra.account_id = $2)))
          AND ($3::text IS NULL OR r.status = $3)
          AND ($4::timestamptz IS NULL
               OR r.published_at < $4
               OR (r.published_at IS NULL AND r.created_at < $4))
        ORDER BY COALESCE(r.published_at, r.created_at) DESC, r.id DESC
        LIMIT $5`
	var status *string
	if q.Status != nil { s := string(*q.Status); status = &s }
	rows, err := r.db.Pool.Query(ctx, sql, q.AdminView, q.AccountID, status, q.Cursor, q.Limit+1)
	if err != nil { return nil, false, err }
	defer rows.Close()
	releases := []domain.Release{}
	for rows.Next() {
		var rel domain.Release
		if err := rows.Scan(&rel.ID, &rel.Title, &rel.Description, &rel.Status, &rel.PublishedAt, &rel.CreatedAt, &rel.UpdatedAt, &rel.ItemCount); err != nil {
			return nil, false, err
		}
		releases = append(releases, rel)
	}
	if err := rows.Err(); err != nil { return nil, false, err }
	hasNext := len(releases) > q.Limit
	if hasNext { releases = releases[:q.Limit] }
	if err := r.attachReleaseRefs(ctx, releases); err != nil { return nil, false, err }
	return releases, hasNext, nil
}

// attachReleaseRefs hydrates accounts and tags for one page of releases.
func (r *Repository) attachReleaseRefs(ctx context.Context, releases []domain.Release) error {
	if len(releases) == 0 { return nil }
	ids := make([]string, 0, len(releases))
	idx := make(map[string]int, len(releases))
	for i, rel := range releases { ids = append(ids, rel.ID); idx[rel.ID] = i }

	rows, err := r.db.Pool.Query(ctx, `
        SELECT ra.release_id, a.id, a.name
        FROM release_accounts ra JOIN accounts a ON a.id = ra.account_id
        WHERE ra.release_id = ANY($1)`, ids)
	if err != nil { return err }
	for rows.Next() {
		var relID string
		var a domain.Account
		if err := rows.Scan(&relID, &a.ID, &a.Name); err != nil { rows.Close(); return err }
		i := idx[relID]
		releases[i].Accounts = append(releases[i].Accounts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil { return err }

	rows, err = r.db.Pool.Query(ctx, `
        SELECT rta.release_id, t.id, t.name, t.slug
        FROM release_tag_assignments rta JOIN release_tags t ON t.id = rta.tag_id
        WHERE rta.release_id = ANY($1)
        ORDER BY t.name`, ids)
	if err != nil { return err }
	defer rows.Close()
	for rows.Next() {
		var relID string
		var t domain.ReleaseTag
		if err := rows.Scan(&relID, &t.ID, &t.Name, &t.Slug); err != nil { return err }
		i := idx[relID]
		releases[i].Tags = append(releases[i].Tags, t)
	}
	return rows.Err()
}

func (r *Repository) GetRelease(ctx context.Context, id string) (domain.Release, error) {
	const q = `
        SELECT ` + releaseCols + `,
               (SELECT count(*) FROM release_items ri WHERE ri.release_id = r.id)
        FROM releases r WHERE r.id = $1`
	var rel domain.Release
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&rel.ID, &rel.Title, &rel.Description, &rel.Status, &rel.PublishedAt, &rel.CreatedAt, &rel.UpdatedAt, &rel.ItemCount)
	if errors.Is(err, pgx.ErrNoRows) { return domain.Release{}, domain.E(domain.KindNotFound, "release not found") }
	if err != nil { return domain.Release{}, err }
	page := []domain.Release{rel}
	if err := r.attachReleaseRefs(ctx, page); err != nil { return domain.Release{}, err }
	rel = page[0]
	items, err := r.listReleaseItems(ctx, id)
	if err != nil { return domain.Release{}, err }
	rel.Items = items
	return rel, nil
}

func (r *Repository) listReleaseItems(ctx context.Context, releaseID string) ([]domain.ReleaseItem, error) {
	rows, err := r.db.Pool.Query(ctx, `
        SELECT id, release_id, issue_id, issue_identifier, title,
               COALESCE(state_name, ''), COALESCE(state_type, ''), priority,
               board_type, account_id, created_at
        FROM release_items WHERE release_id = $1 ORDER BY created_at, id`, releaseID)
	if err != nil { return nil, err }
	defer rows.Close()
	items := []domain.ReleaseItem{}
	for rows.Next() {
		var it domain.ReleaseItem
		if err := rows.Scan(&it.ID, &it.ReleaseID, &it.IssueID, &it.IssueIdentifier, &it.Title,
			&it.StateName, &it.StateType, &it.Priority, &it.BoardType, &it.AccountID, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CreateRelease inserts a draft and its account/tag links in one tx.
func (r *Repository) CreateRelease(ctx context.Context, title, description string, accountIDs, tagIDs []string) (domain.Release, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil { return domain.Release{}, err }
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `
        INSERT INTO releases(title, description, status)
        VALUES($1, NULLIF($2,''), 'DRAFT') RETURNING id`, title, description).Scan(&id)
	if err != nil { return domain.Release{}, err }
	if err := replaceReleaseRefs(ctx, tx, id, accountIDs, tagIDs); err != nil { return domain.Release{}, err }
	if err := tx.Commit(ctx); err != nil { return domain.Release{}, err }
	return r.GetRelease(ctx, id)
}

func (r *Repository) UpdateRelease(ctx context.Context, id, title, description string, accountIDs, tagIDs []string) (domain.Release, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil { return domain.Release{}, err }
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE releases SET title=$2, description=NULLIF($3,''), updated_at=now() WHERE id=$1`, id, title, description)
	if err != nil { return domain.Release{}, err }
	if tag.RowsAffected() == 0 { return domain.Release{}, domain.E(domain.KindNotFound, "release not found") }
	if _, err := tx.Exec(ctx, `DELETE FROM release_accounts WHERE release_id=$1`, id); err != nil { return domain.Release{}, err }
	if _, err := tx.Exec(ctx, `DELETE FROM release_tag_assignments WHERE release_id=$1`, id); err != nil { return domain.Release{}, err }
	if err := replaceReleaseRefs(ctx, tx, id, accountIDs, tagIDs); err != nil { return domain.Release{}, err }
	if err := tx.Commit(ctx); err != nil { return domain.Release{}, err }
	return r.GetRelease(ctx, id)
}

func replaceReleaseRefs(ctx context.Context, tx pgx.Tx, releaseID string, accountIDs, tagIDs []string) error {
	batch := &pgx.Batch{}
	for _, aid := range accountIDs {
		batch.Queue(`INSERT INTO release_accounts(release_id, account_id) VALUES($1,$2) ON CONFLICT DO NOTHING`, releaseID, aid)
	}
	for _, tid := range tagIDs {
		batch.Queue(`INSERT INTO release_tag_assignments(release_id, tag_id) VALUES($1,$2) ON CONFLICT DO NOTHING`, releaseID, tid)
	}
	if batch.Len() == 0 { return nil }
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ { if _, err := br.Exec(); err != nil { return err } }
	return nil
}

// PublishRelease flips a draft to PUBLISHED. published_at is set exactly
// once; republishing an already-published release keeps the original date.
func (r *Repository) PublishRelease(ctx context.Context, id string) (domain.Release, error) {
	const q = `
        UPDATE releases
        SET status='PUBLISHED', published_at=COALESCE(published_at, now()), updated_at=now()
        WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil { return domain.Release{}, err }
	if tag.RowsAffected() == 0 { return domain.Release{}, domain.E(domain.KindNotFound, "release not found") }
	return r.GetRelease(ctx, id)
}

// DeleteRelease removes a release regardless of status.
func (r *Repository) DeleteRelease(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM releases WHERE id=$1`, id)
	if err != nil { return err }
	if tag.RowsAffected() == 0 { return domain.E(domain.KindNotFound, "release not found") }
	return nil
}

// DeleteDraft removes a release only while it is still a draft.
func (r *Repository) DeleteDraft(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM releases WHERE id=$1 AND status='DRAFT'`, id)
	if err != nil { return err }
	if tag.RowsAffected() > 0 { return nil }
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM releases WHERE id=$1)`, id).Scan(&exists); err != nil { return err }
	if !exists { return domain.E(domain.KindNotFound, "release not found") }
	return domain.E(domain.KindValidation, "published releases cannot be deleted")
}

// ---- release tags ----

func (r *Repository) ListTags(ctx context.Context) ([]domain.ReleaseTag, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, name, slug FROM release_tags ORDER BY name`)
	if err != nil { return nil, err }
	defer rows.Close()
	tags := []domain.ReleaseTag{}
	for rows.Next() {
		var t domain.ReleaseTag
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug); err != nil { return nil, err }
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// UpsertTag creates or renames a tag keyed by its slug.
func (r *Repository) UpsertTag(ctx context.Context, name, slug string) (domain.ReleaseTag, error) {
	const q = `
        INSERT INTO release_tags(name, slug) VALUES($1, $2)
        ON CONFLICT(slug) DO UPDATE SET name=EXCLUDED.name
        RETURNING id, name, slug`
	var t domain.ReleaseTag
	if err := r.db.Pool.QueryRow(ctx, q, name, slug).Scan(&t.ID, &t.Name, &t.Slug); err != nil { return domain.ReleaseTag{}, err }
	return t, nil
}

// DeleteTag refuses to remove a tag that is still assigned to a release.
func (r *Repository) DeleteTag(ctx context.Context, id string) error {
	var assigned int
	if err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM release_tag_assignments WHERE tag_id=$1`, id).Scan(&assigned); err != nil { return err }
	if assigned > 0 { return domain.E(domain.KindValidation, "tag is still assigned to releases") }
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM release_tags WHERE id=$1`, id)
	if err != nil { return err }
	if tag.RowsAffected() == 0 { return domain.E(domain.KindNotFound, "tag not found") }
	return nil
}

// ---- release items ----

// AttachItems snapshots issues onto a release. Re-attaching the same issue
// is a no-op.
func (r *Repository) AttachItems(ctx context.Context, releaseID string, items []domain.ReleaseItem) error {
	if len(items) == 0 { return nil }
	batch := &pgx.Batch{}
	const q = `
        INSERT INTO release_items(release_id, issue_id, issue_identifier, title,
            state_name, state_type, priority, board_type, account_id)
        VALUES($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,$8,$9)
        ON CONFLICT (release_id, issue_id) DO NOTHING`
	for _, it := range items {
		batch.Queue(q, releaseID, it.IssueID, it.IssueIdentifier, it.Title,
			it.StateName, it.StateType, it.Priority, it.BoardType, it.AccountID)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range items { if _, err := br.Exec(); err != nil { return err } }
	return nil
}

func (r *Repository) DetachItem(ctx context.Context, releaseID, issueID string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM release_items WHERE release_id=$1 AND issue_id=$2`, releaseID, issueID)
	if err != nil { return err }
	if tag.RowsAffected() == 0 { return domain.E(domain.KindNotFound, "release item not found") }
	return nil
}

// ---- board preferences ----

func (r *Repository) GetBoardPreferences(ctx context.Context, userID, boardID string) (domain.BoardPreferences, bool, error) {
	var raw []byte
	err := r.db.Pool.QueryRow(ctx, `SELECT prefs FROM board_prefs WHERE user_id=$1 AND board_id=$2`, userID, boardID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) { return domain.BoardPreferences{}, false, nil }
	if err != nil { return domain.BoardPreferences{}, false, err }
	var prefs domain.BoardPreferences
	if err := json.Unmarshal(raw, &prefs); err != nil { return domain.BoardPreferences{}, false, err }
	return prefs, true, nil
}

func (r *Repository) SaveBoardPreferences(ctx context.Context, userID, boardID string, prefs domain.BoardPreferences) error {
	raw, err := json.Marshal(prefs)
	if err != nil { return err }
	_, err = r.db.Pool.Exec(ctx, `
        INSERT INTO board_prefs(user_id, board_id, prefs)
        VALUES($1,$2,$3)
        ON CONFLICT (user_id, board_id) DO UPDATE SET prefs=EXCLUDED.prefs, updated_at=now()`, userID, boardID, raw)
	return err
}
