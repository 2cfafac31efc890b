package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"stagehand/api/internal/rbac"
	"stagehand/api/internal/stage"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	return dsn
}

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, Migrations()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	// Second pass must be a no-op.
	if err := ApplyMigrations(ctx, db, Migrations()); err != nil {
		t.Fatalf("re-apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestPostgresAssetLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inserted, err := s.InsertAsset(ctx, NewAsset{
		Type:       stage.AssetVideo,
		URL:        "https://cdn.example/u1/clip.mp4",
		Filename:   "clip.mp4",
		Metadata:   stage.AssetMetadata{MimeType: "video/mp4", Size: 1024},
		UploaderID: "u1",
	})
	if err != nil {
		t.Fatalf("InsertAsset() error = %v", err)
	}
	if inserted.Approved || inserted.ID == "" || inserted.Metadata.MimeType != "video/mp4" {
		t.Fatalf("unexpected inserted asset: %+v", inserted)
	}

	if got, err := s.GetAsset(ctx, inserted.ID); err != nil || got != nil {
		t.Fatalf("GetAsset(unapproved) = %v, %v; want nil, nil", got, err)
	}
	if err := s.ApproveAsset(ctx, inserted.ID); err != nil {
		t.Fatalf("ApproveAsset() error = %v", err)
	}
	got, err := s.GetAsset(ctx, inserted.ID)
	if err != nil || got == nil || !got.Approved {
		t.Fatalf("GetAsset(approved) = %v, %v", got, err)
	}
	list, err := s.ListApprovedAssets(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListApprovedAssets() = %v, %v", list, err)
	}
	if got, err := s.GetAsset(ctx, "missing"); err != nil || got != nil {
		t.Fatalf("GetAsset(missing) = %v, %v", got, err)
	}
}

func TestPostgresLookupRole(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if role, found, err := s.LookupRole(ctx, "alice", "u2"); err != nil || found || role != rbac.RoleGuest {
		t.Fatalf("LookupRole(no row) = %s, %v, %v", role, found, err)
	}
	if err := s.UpsertMember(ctx, Member{ChannelSlug: "alice", UserID: "u2", Role: "LOADER"}); err != nil {
		t.Fatalf("UpsertMember() error = %v", err)
	}
	if err := s.UpsertMember(ctx, Member{ChannelSlug: "alice", UserID: "u2", Role: "OPERATOR"}); err != nil {
		t.Fatalf("UpsertMember(update) error = %v", err)
	}
	if role, found, err := s.LookupRole(ctx, "alice", "u2"); err != nil || !found || role != rbac.RoleOperator {
		t.Fatalf("LookupRole() = %s, %v, %v; want OPERATOR", role, found, err)
	}
}
