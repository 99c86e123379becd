package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// testDB creates a temporary database for testing.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testCuration() CurationFull {
	return CurationFull{
		NextClusterID: 9,
		Assignments:   []int{1, 1, 2, 2, 3, 3, 3},
		Groups:        map[int]string{2: "noise", 3: "good"},
		Labels: map[string]map[int]string{
			"note": {3: "check amplitude"},
		},
	}
}

func TestOpenDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "sortbench.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not found: %v", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if count != len(migrations) {
		t.Errorf("expected %d migrations recorded, got %d", len(migrations), count)
	}
}

func TestOpenDBIdempotent(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "idempotent.db")

	db1, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("first OpenDB: %v", err)
	}
	if _, err := SaveCuration(db1, "ds", testCuration()); err != nil {
		t.Fatalf("SaveCuration: %v", err)
	}
	db1.Close()

	db2, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("second OpenDB: %v", err)
	}
	defer db2.Close()

	cur, err := GetLatestCuration(db2, "ds")
	if err != nil {
		t.Fatalf("GetLatestCuration: %v", err)
	}
	if cur == nil || cur.Rev != 1 {
		t.Error("expected existing curation to survive reopening")
	}
}

func TestSaveAndGetCuration(t *testing.T) {
	db := testDB(t)

	rev, err := SaveCuration(db, "ds", testCuration())
	if err != nil {
		t.Fatalf("SaveCuration: %v", err)
	}
	if rev != 1 {
		t.Errorf("expected rev 1, got %d", rev)
	}

	cur, err := GetCuration(db, "ds", rev)
	if err != nil {
		t.Fatalf("GetCuration: %v", err)
	}
	if !reflect.DeepEqual(cur.Assignments, []int{1, 1, 2, 2, 3, 3, 3}) {
		t.Errorf("assignments: %v", cur.Assignments)
	}
	if cur.NSpikes != 7 || cur.NClusters != 3 {
		t.Errorf("counts: spikes=%d clusters=%d", cur.NSpikes, cur.NClusters)
	}
	if cur.NextClusterID != 9 {
		t.Errorf("next cluster id: %d", cur.NextClusterID)
	}
	if cur.Groups[2] != "noise" || cur.Groups[3] != "good" {
		t.Errorf("groups: %v", cur.Groups)
	}
	if cur.Labels["note"][3] != "check amplitude" {
		t.Errorf("labels: %v", cur.Labels)
	}

	// Non-existent rev should error.
	if _, err := GetCuration(db, "ds", 99); err == nil {
		t.Fatal("expected error for non-existent rev")
	}
}

func TestRevsPerDataset(t *testing.T) {
	db := testDB(t)

	rev1, _ := SaveCuration(db, "a", testCuration())
	rev2, _ := SaveCuration(db, "a", testCuration())
	rev3, _ := SaveCuration(db, "b", testCuration())
	if rev1 != 1 || rev2 != 2 {
		t.Errorf("revs for dataset a: %d, %d", rev1, rev2)
	}
	if rev3 != 1 {
		t.Errorf("dataset b should start at rev 1, got %d", rev3)
	}

	list, err := ListCurations(db)
	if err != nil {
		t.Fatalf("ListCurations: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 curations, got %d", len(list))
	}
}

func TestGetLatestCuration(t *testing.T) {
	db := testDB(t)

	cur, err := GetLatestCuration(db, "ds")
	if err != nil {
		t.Fatalf("GetLatestCuration: %v", err)
	}
	if cur != nil {
		t.Fatal("expected nil for empty DB")
	}

	SaveCuration(db, "ds", testCuration())
	second := testCuration()
	second.Groups[1] = "mua"
	SaveCuration(db, "ds", second)

	cur, err = GetLatestCuration(db, "ds")
	if err != nil {
		t.Fatalf("GetLatestCuration: %v", err)
	}
	if cur.Rev != 2 {
		t.Errorf("expected latest rev 2, got %d", cur.Rev)
	}
	if cur.Groups[1] != "mua" {
		t.Errorf("groups of latest rev: %v", cur.Groups)
	}
}

func TestDeleteCuration(t *testing.T) {
	db := testDB(t)

	rev, err := SaveCuration(db, "ds", testCuration())
	if err != nil {
		t.Fatalf("SaveCuration: %v", err)
	}
	if err := DeleteCuration(db, "ds", rev); err != nil {
		t.Fatalf("DeleteCuration: %v", err)
	}
	if err := DeleteCuration(db, "ds", rev); err == nil {
		t.Fatal("expected error deleting non-existent curation")
	}

	// Verify cascade.
	var groupCount, labelCount int
	db.QueryRow("SELECT COUNT(*) FROM curation_groups").Scan(&groupCount)
	db.QueryRow("SELECT COUNT(*) FROM curation_labels").Scan(&labelCount)
	if groupCount != 0 || labelCount != 0 {
		t.Errorf("expected cascade delete, got %d groups, %d labels", groupCount, labelCount)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	db := testDB(t)

	spikes := map[int][]int{4: {0, 1, 2}, 5: {3}}
	if err := PutCache(db, "ds/spikes_per_cluster", spikes); err != nil {
		t.Fatalf("PutCache: %v", err)
	}

	var got map[int][]int
	ok, err := GetCache(db, "ds/spikes_per_cluster", &got)
	if err != nil {
		t.Fatalf("GetCache: %v", err)
	}
	if !ok || !reflect.DeepEqual(got, spikes) {
		t.Errorf("cache round trip: ok=%v got=%v", ok, got)
	}

	// Overwrite.
	if err := PutCache(db, "ds/spikes_per_cluster", map[int][]int{9: {0}}); err != nil {
		t.Fatalf("PutCache overwrite: %v", err)
	}
	got = nil
	if _, err := GetCache(db, "ds/spikes_per_cluster", &got); err != nil {
		t.Fatalf("GetCache after overwrite: %v", err)
	}
	if len(got) != 1 || len(got[9]) != 1 {
		t.Errorf("overwritten value: %v", got)
	}

	ok, err = GetCache(db, "missing", &got)
	if err != nil || ok {
		t.Errorf("missing key: ok=%v err=%v", ok, err)
	}
}

func TestListAndClearCache(t *testing.T) {
	db := testDB(t)

	PutCache(db, "ds/next_cluster_id", 7)
	PutCache(db, "ds/spikes_per_cluster", map[int][]int{1: {0, 1}})

	entries, err := ListCache(db)
	if err != nil {
		t.Fatalf("ListCache: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Key != "ds/next_cluster_id" {
		t.Errorf("entries not ordered by key: %v", entries[0].Key)
	}
	for _, e := range entries {
		if e.Size <= 0 {
			t.Errorf("entry %q has size %d", e.Key, e.Size)
		}
	}

	n, err := ClearCache(db)
	if err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	entries, _ = ListCache(db)
	if len(entries) != 0 {
		t.Errorf("cache not empty after clear: %v", entries)
	}
}
