package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"stagehand/api/internal/rbac"
	"stagehand/api/internal/stage"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const assetColumns = `id, type, url, filename, metadata, uploader_id, approved, created_at`

func scanAsset(row interface{ Scan(...any) error }) (assetRow, error) {
	var r assetRow
	err := row.Scan(&r.ID, &r.Type, &r.URL, &r.Filename, &r.Metadata, &r.UploaderID, &r.Approved, &r.CreatedAt)
	return r, err
}

// GetAsset returns the approved asset with the given id, or nil when there
// is no such row or it has not been approved.
func (s *PostgresStore) GetAsset(ctx context.Context, assetID string) (*stage.Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id=$1`, assetID)
	r, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup asset: %w", err)
	}
	if !r.Approved {
		return nil, nil
	}
	asset := r.toAsset()
	return &asset, nil
}

// ListApprovedAssets returns every approved asset, newest first.
func (s *PostgresStore) ListApprovedAssets(ctx context.Context) ([]stage.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE approved ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []stage.Asset
	for rows.Next() {
		r, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, r.toAsset())
	}
	return assets, rows.Err()
}

// InsertAsset records an upload. The row starts unapproved.
func (s *PostgresStore) InsertAsset(ctx context.Context, in NewAsset) (stage.Asset, error) {
	metadata, err := json.Marshal(in.Metadata)
	if err != nil {
		return stage.Asset{}, fmt.Errorf("marshal metadata: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO assets (type, url, filename, metadata, uploader_id, approved)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		RETURNING `+assetColumns,
		string(in.Type), in.URL, in.Filename, metadata, in.UploaderID,
	)
	r, err := scanAsset(row)
	if err != nil {
		return stage.Asset{}, fmt.Errorf("insert asset: %w", err)
	}
	return r.toAsset(), nil
}

// LookupRole reads the membership row for (channelSlug, userID). found is
// false when there is no row.
func (s *PostgresStore) LookupRole(ctx context.Context, channelSlug, userID string) (rbac.Role, bool, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM channel_members WHERE channel_slug=$1 AND user_id=$2`,
		channelSlug, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.RoleGuest, false, nil
	}
	if err != nil {
		return rbac.RoleGuest, false, fmt.Errorf("read role: %w", err)
	}
	return rbac.Normalize(role), true, nil
}

func (s *PostgresStore) UpsertMember(ctx context.Context, m Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_members (channel_slug, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel_slug, user_id) DO UPDATE SET role=EXCLUDED.role
	`, m.ChannelSlug, m.UserID, string(rbac.Normalize(m.Role)))
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

// ApproveAsset flips the approved flag; moderation tooling calls this.
func (s *PostgresStore) ApproveAsset(ctx context.Context, assetID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE assets SET approved=TRUE WHERE id=$1`, assetID)
	if err != nil {
		return fmt.Errorf("approve asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
