package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"file-drop/internal/drop"
)

const fileColumns = `id, code, batch_index, storage_key, filename, mime_type, file_size,
	is_downloaded, expires_at, group_id, uploaded_at`

// Postgres stores metadata in the files and groups tables.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM files WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("code exists: %w", err)
	}
	return exists, nil
}

// InsertFile relies on column defaults for the consumption flag.
func (p *Postgres) InsertFile(ctx context.Context, rec drop.FileRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO files (id, code, batch_index, storage_key, filename, mime_type, file_size, expires_at, group_id, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Code, rec.BatchIndex, rec.StorageKey, rec.Filename, rec.MimeType,
		rec.FileSize, rec.ExpiresAt, nullString(rec.GroupID), rec.UploadedAt)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// InsertFileFallback writes every column and tolerates a row left behind by a
// primary write whose acknowledgement was lost. Only the same id is
// tolerated: another record holding (code, batch_index) still fails on the
// unique index.
func (p *Postgres) InsertFileFallback(ctx context.Context, rec drop.FileRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Code, rec.BatchIndex, rec.StorageKey, rec.Filename, rec.MimeType,
		rec.FileSize, rec.ExpiresAt, nullString(rec.GroupID), rec.UploadedAt)
	if err != nil {
		return fmt.Errorf("insert file fallback: %w", err)
	}
	return nil
}

func (p *Postgres) FindByCode(ctx context.Context, code string) ([]drop.FileRecord, error) {
	return p.query(ctx, `SELECT `+fileColumns+` FROM files WHERE code = $1 ORDER BY batch_index`, code)
}

func (p *Postgres) ClaimBatch(ctx context.Context, code string, now time.Time) ([]drop.FileRecord, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE code = $1 AND group_id IS NULL
		ORDER BY batch_index
		FOR UPDATE`, code)
	if err != nil {
		return nil, fmt.Errorf("lock batch: %w", err)
	}
	recs, err := scanFiles(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, drop.ErrNotFound
	}
	for _, r := range recs {
		if r.IsDownloaded || r.Expired(now) {
			return nil, drop.ErrGone
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE files SET is_downloaded = true WHERE code = $1 AND group_id IS NULL`, code); err != nil {
		return nil, fmt.Errorf("mark downloaded: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	for i := range recs {
		recs[i].IsDownloaded = true
	}
	return recs, nil
}

func (p *Postgres) ReleaseBatch(ctx context.Context, code string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE files SET is_downloaded = false WHERE code = $1 AND group_id IS NULL`, code)
	if err != nil {
		return fmt.Errorf("release batch: %w", err)
	}
	return nil
}

func (p *Postgres) FindSweepable(ctx context.Context, now time.Time, limit int) ([]drop.FileRecord, error) {
	return p.query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE group_id IS NULL AND (is_downloaded OR expires_at < $1)
		ORDER BY expires_at
		LIMIT $2`, now, limit)
}

func (p *Postgres) FindExpiredGroupFiles(ctx context.Context, now time.Time, limit int) ([]drop.FileRecord, error) {
	return p.query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE group_id IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
}

func (p *Postgres) DeleteFile(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (p *Postgres) CreateGroup(ctx context.Context, g drop.Group) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO groups (group_id, name, created_at) VALUES ($1, $2, $3)`,
		g.GroupID, g.Name, g.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return drop.ErrGroupExists
	}
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

func (p *Postgres) GetGroup(ctx context.Context, groupID string) (drop.Group, error) {
	var g drop.Group
	err := p.db.QueryRowContext(ctx,
		`SELECT group_id, name, created_at FROM groups WHERE group_id = $1`, groupID).
		Scan(&g.GroupID, &g.Name, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return drop.Group{}, drop.ErrGroupNotFound
	}
	if err != nil {
		return drop.Group{}, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

func (p *Postgres) FindByGroup(ctx context.Context, groupID string) ([]drop.FileRecord, error) {
	return p.query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE group_id = $1
		ORDER BY uploaded_at DESC`, groupID)
}

func (p *Postgres) query(ctx context.Context, q string, args ...any) ([]drop.FileRecord, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	return scanFiles(rows)
}

func scanFiles(rows *sql.Rows) ([]drop.FileRecord, error) {
	defer rows.Close()

	var out []drop.FileRecord
	for rows.Next() {
		var (
			r       drop.FileRecord
			groupID sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Code, &r.BatchIndex, &r.StorageKey, &r.Filename, &r.MimeType,
			&r.FileSize, &r.IsDownloaded, &r.ExpiresAt, &groupID, &r.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		r.GroupID = groupID.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
