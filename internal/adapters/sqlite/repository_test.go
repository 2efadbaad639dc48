package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
	"github.com/atvirokodosprendimai/keybox/migrations"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *gormsqlite.DB {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "keybox.sqlite")
	db, err := gormsqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	wdb, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer sql db: %v", err)
	}
	if err := migrations.Up(ctx, wdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "migrate.sqlite")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
		_ = os.Remove(dbPath)
	})

	if err := migrations.Up(ctx, db); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := migrations.Up(ctx, db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	version, err := migrations.Version(ctx, db)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected schema version 2, got %d", version)
	}
}

func TestCompareAndSwapStatusCreatesMissingKey(t *testing.T) {
	ctx := context.Background()
	repo := NewKeyRepository(openTestDB(t))

	if _, err := repo.Get(ctx, 7); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found before first swap, got %v", err)
	}

	swapped, err := repo.CompareAndSwapStatus(ctx, 7, domain.KeyTaken)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if !swapped {
		t.Fatalf("expected first take to swap")
	}

	rec, err := repo.Get(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != domain.KeyTaken {
		t.Fatalf("expected taken, got %s", rec.Status)
	}

	swapped, err = repo.CompareAndSwapStatus(ctx, 7, domain.KeyTaken)
	if err != nil {
		t.Fatalf("second swap: %v", err)
	}
	if swapped {
		t.Fatalf("expected second take to be rejected")
	}
}

func TestCompareAndSwapStatusReturnOnUnknownKeyDoesNotSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewKeyRepository(openTestDB(t))

	swapped, err := repo.CompareAndSwapStatus(ctx, 3, domain.KeyPresent)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if swapped {
		t.Fatalf("expected return on a fresh key to be rejected")
	}
}

func TestCompareAndSwapStatusConcurrentTakesHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewKeyRepository(openTestDB(t))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			swapped, err := repo.CompareAndSwapStatus(ctx, 5, domain.KeyTaken)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if swapped {
				winners++
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected swap errors: %v", errs)
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestDeliveryClaimRejectsDuplicatesUntilReleased(t *testing.T) {
	ctx := context.Background()
	repo := NewDeliveryRepository(openTestDB(t))
	now := time.Now().UTC()

	claimed, err := repo.Claim(ctx, "wh-1", now)
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}
	claimed, err = repo.Claim(ctx, "wh-1", now)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatalf("expected duplicate claim to be rejected")
	}

	if err := repo.Release(ctx, "wh-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	claimed, err = repo.Claim(ctx, "wh-1", now)
	if err != nil || !claimed {
		t.Fatalf("claim after release: claimed=%v err=%v", claimed, err)
	}
}

func TestDeliveryPruneOlderThan(t *testing.T) {
	ctx := context.Background()
	repo := NewDeliveryRepository(openTestDB(t))
	now := time.Now().UTC()

	if _, err := repo.Claim(ctx, "old", now.Add(-8*24*time.Hour)); err != nil {
		t.Fatalf("claim old: %v", err)
	}
	if _, err := repo.Claim(ctx, "fresh", now); err != nil {
		t.Fatalf("claim fresh: %v", err)
	}

	n, err := repo.PruneOlderThan(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned marker, got %d", n)
	}

	claimed, err := repo.Claim(ctx, "fresh", now)
	if err != nil {
		t.Fatalf("reclaim fresh: %v", err)
	}
	if claimed {
		t.Fatalf("expected fresh marker to survive pruning")
	}
}

func TestCredentialRepositoryLatestAndPrune(t *testing.T) {
	ctx := context.Background()
	repo := NewCredentialRepository(openTestDB(t))
	now := time.Now().UTC()

	if _, err := repo.Latest(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on empty store, got %v", err)
	}

	if err := repo.Save(ctx, domain.Credential{Token: "expired", ExpiresAt: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("save expired: %v", err)
	}
	if err := repo.Save(ctx, domain.Credential{Token: "live", ExpiresAt: now.Add(25 * time.Minute)}); err != nil {
		t.Fatalf("save live: %v", err)
	}

	cred, err := repo.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if cred.Token != "live" {
		t.Fatalf("expected live token, got %q", cred.Token)
	}

	n, err := repo.PruneExpired(ctx, now)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned credential, got %d", n)
	}
}

func TestAPIKeyRepositoryUpsertAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepository(openTestDB(t))

	key := domain.APIKey{TokenHash: "abc", Name: "dashboard", Active: true, CreatedAt: time.Now().UTC()}
	if err := repo.Upsert(ctx, key); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	key.Active = false
	if err := repo.Upsert(ctx, key); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := repo.FindByTokenHash(ctx, "abc")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Active || got.Name != "dashboard" {
		t.Fatalf("unexpected api key: %+v", got)
	}

	if _, err := repo.FindByTokenHash(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAPIKeyRepositoryDeactivateByName(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepository(openTestDB(t))

	now := time.Now().UTC()
	for _, key := range []domain.APIKey{
		{TokenHash: "h1", Name: "dashboard", Active: true, CreatedAt: now},
		{TokenHash: "h2", Name: "dashboard", Active: true, CreatedAt: now},
		{TokenHash: "h3", Name: "kiosk", Active: true, CreatedAt: now},
	} {
		if err := repo.Upsert(ctx, key); err != nil {
			t.Fatalf("upsert %s: %v", key.TokenHash, err)
		}
	}

	n, err := repo.DeactivateByName(ctx, "dashboard")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 keys revoked, got %d", n)
	}
	if n, _ := repo.DeactivateByName(ctx, "dashboard"); n != 0 {
		t.Fatalf("expected second revoke to be a no-op, got %d", n)
	}

	kiosk, err := repo.FindByTokenHash(ctx, "h3")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !kiosk.Active {
		t.Fatal("unrelated key must stay active")
	}
}
