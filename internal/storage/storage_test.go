package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "homesched/pkg/logx"
)

func openDriver(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "homesched.db")
	st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestStoreDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openDriver(t, driver)
			base := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

			for i, id := range []string{"a", "b", "c"} {
				err := st.AppendFired(ctx, FiredRecord{
					ID:         id,
					ScheduleID: "s-" + id,
					Title:      "T " + id,
					FireAt:     base.Add(time.Duration(i) * time.Hour),
					FiredAt:    base.Add(time.Duration(i) * time.Hour),
				})
				if err != nil {
					t.Fatalf("AppendFired: %v", err)
				}
			}

			recent, err := st.RecentFired(ctx, 2)
			if err != nil {
				t.Fatalf("RecentFired: %v", err)
			}
			if len(recent) != 2 || recent[0].ID != "c" || recent[1].ID != "b" {
				t.Fatalf("RecentFired = %+v", recent)
			}
			if !recent[0].FiredAt.Equal(base.Add(2 * time.Hour)) {
				t.Fatalf("FiredAt = %v", recent[0].FiredAt)
			}

			n, err := st.PruneFired(ctx, base.Add(90*time.Minute))
			if err != nil || n != 2 {
				t.Fatalf("PruneFired = %d, %v", n, err)
			}
			all, err := st.RecentFired(ctx, 0)
			if err != nil || len(all) != 1 || all[0].ID != "c" {
				t.Fatalf("after prune = %+v, %v", all, err)
			}
			if err := st.AppendFired(ctx, FiredRecord{ID: "d", ScheduleID: "s-d", FiredAt: base.Add(3 * time.Hour)}); err != nil {
				t.Fatalf("AppendFired after prune: %v", err)
			}

			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.PutDedup(ctx, "k1", until); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}
			got, ok, err := st.GetDedup(ctx, "k1")
			if err != nil || !ok || !got.Equal(until) {
				t.Fatalf("GetDedup = %v, %v, %v", got, ok, err)
			}
			if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
				t.Fatal("missing key reported present")
			}
		})
	}
}

func TestFileStoreReloadsDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "homesched.db")
	cfg := Config{Driver: "file", Path: path}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	live := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	_ = st.PutDedup(ctx, "live", live)
	_ = st.PutDedup(ctx, "expired", time.Now().Add(-time.Hour))
	_ = st.AppendFired(ctx, FiredRecord{ID: "x", ScheduleID: "1"})
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if got, ok, _ := st.GetDedup(ctx, "live"); !ok || !got.Equal(live) {
		t.Fatalf("live = %v, %v", got, ok)
	}
	if _, ok, _ := st.GetDedup(ctx, "expired"); ok {
		t.Fatal("expired dedup survived reopen")
	}
	if recs, _ := st.RecentFired(ctx, 10); len(recs) != 1 || recs[0].ID != "x" {
		t.Fatalf("fired after reopen = %+v", recs)
	}
}
