package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stagehand/api/internal/stage"
)

// PgSearch implements Searcher with ILIKE over the assets table.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true; the database is the source of truth.
func (p *PgSearch) Healthy() bool { return true }

func (p *PgSearch) Search(ctx context.Context, q Query) ([]stage.Asset, int, error) {
	where := []string{"approved"}
	var args []any
	if text := strings.TrimSpace(q.Text); text != "" {
		args = append(args, "%"+escapeLike(text)+"%")
		where = append(where, fmt.Sprintf("filename ILIKE $%d", len(args)))
	}
	if q.Type != "" {
		args = append(args, string(q.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count assets: %w", err)
	}

	args = append(args, q.limit(), q.offset())
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, type, url, filename, metadata, uploader_id, approved, created_at
		FROM assets WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search assets: %w", err)
	}
	defer rows.Close()

	var results []stage.Asset
	for rows.Next() {
		var (
			a        stage.Asset
			typ      string
			metadata []byte
			created  time.Time
		)
		if err := rows.Scan(&a.ID, &typ, &a.URL, &a.Filename, &metadata, &a.UploaderID, &a.Approved, &created); err != nil {
			return nil, 0, fmt.Errorf("scan asset: %w", err)
		}
		a.Type = stage.AssetType(typ)
		a.CreatedAt = created.UnixMilli()
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &a.Metadata)
		}
		results = append(results, a)
	}
	return results, total, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ListSearch filters an AssetLister in process. It backs the library when
// the catalog lives in memory.
type ListSearch struct {
	lister AssetLister
}

func NewListSearch(lister AssetLister) *ListSearch {
	return &ListSearch{lister: lister}
}

func (l *ListSearch) Healthy() bool { return true }

func (l *ListSearch) Search(ctx context.Context, q Query) ([]stage.Asset, int, error) {
	assets, err := l.lister.ListApprovedAssets(ctx)
	if err != nil {
		return nil, 0, err
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	var matched []stage.Asset
	for _, a := range assets {
		if !a.Approved {
			continue
		}
		if q.Type != "" && a.Type != q.Type {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(a.Filename), needle) {
			continue
		}
		matched = append(matched, a)
	}
	total := len(matched)
	start := q.offset()
	if start > total {
		start = total
	}
	end := start + q.limit()
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}
