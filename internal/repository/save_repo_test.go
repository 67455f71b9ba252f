package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yuqie6/SaveVault/internal/codec"
	"github.com/yuqie6/SaveVault/internal/eventbus"
	"github.com/yuqie6/SaveVault/internal/schema"
	"github.com/yuqie6/SaveVault/internal/store"
	"github.com/yuqie6/SaveVault/internal/store/sqlstore"
	"github.com/yuqie6/SaveVault/internal/testutil"
)

func saveWithLand(id string, land int64) *schema.Save {
	s := testutil.SampleSave(testutil.SampleProfile(id, "Dragon "+id, land))
	return &s
}

func TestPutSaveAtomicPrunesToKeepCount(t *testing.T) {
	repo := NewSaveRepository(testutil.OpenTestStore(t), nil)
	ctx := context.Background()

	var lastID int64
	for land := int64(1); land <= 5; land++ {
		id, err := repo.PutSaveAtomic(ctx, "profile-1", saveWithLand("profile-1", land), nil)
		if err != nil {
			t.Fatalf("PutSaveAtomic error: %v", err)
		}
		if id <= lastID {
			t.Fatalf("row id %d not greater than %d", id, lastID)
		}
		lastID = id
	}

	rows, err := repo.GetAllSaves(ctx, "profile-1")
	if err != nil {
		t.Fatalf("GetAllSaves error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows=%d, want 3", len(rows))
	}
	for i, want := range []int64{5, 4, 3} {
		if rows[i].Data == nil || rows[i].Data.Profiles[0].Progress.Land != want {
			t.Fatalf("rows[%d]=%+v, want land=%d", i, rows[i], want)
		}
	}

	active, err := repo.GetActiveSave(ctx, "profile-1")
	if err != nil || active == nil {
		t.Fatalf("GetActiveSave err=%v row=%v", err, active)
	}
	if active.ID != lastID || active.Data.Profiles[0].Progress.Land != 5 {
		t.Fatalf("active=%+v", active)
	}
	ptr, ok, err := repo.GetActiveSaveID(ctx, "profile-1")
	if err != nil || !ok || ptr != lastID {
		t.Fatalf("GetActiveSaveID=%d ok=%v err=%v", ptr, ok, err)
	}
}

func TestPutSaveAtomicCustomKeepCount(t *testing.T) {
	repo := NewSaveRepository(testutil.OpenTestStore(t), nil)
	ctx := context.Background()
	for land := int64(1); land <= 4; land++ {
		if _, err := repo.PutSaveAtomic(ctx, "p", saveWithLand("p", land), &PutOptions{KeepCount: 1}); err != nil {
			t.Fatalf("PutSaveAtomic error: %v", err)
		}
	}
	rows, _ := repo.GetAllSaves(ctx, "p")
	if len(rows) != 1 || rows[0].Data.Profiles[0].Progress.Land != 4 {
		t.Fatalf("rows=%+v", rows)
	}

	// 仓储级默认值
	repo.SetKeepCount(2)
	for land := int64(5); land <= 7; land++ {
		if _, err := repo.PutSaveAtomic(ctx, "q", saveWithLand("q", land), nil); err != nil {
			t.Fatalf("PutSaveAtomic error: %v", err)
		}
	}
	if rows, _ := repo.GetAllSaves(ctx, "q"); len(rows) != 2 {
		t.Fatalf("rows=%d, want 2", len(rows))
	}
}

func TestPutSaveAtomicRejectsInvalidBeforeStorage(t *testing.T) {
	repo := NewSaveRepository(testutil.OpenTestStore(t), nil)
	ctx := context.Background()

	cases := map[string]*schema.Save{
		"nil":        nil,
		"no profile": func() *schema.Save { s := testutil.SampleSave(); return &s }(),
		"empty name": func() *schema.Save { s := saveWithLand("p", 1); s.Profiles[0].Name = ""; return s }(),
		"negative":   func() *schema.Save { s := saveWithLand("p", 1); s.Profiles[0].Progress.Land = -1; return s }(),
		"version":    func() *schema.Save { s := saveWithLand("p", 1); s.Version = 2; return s }(),
	}
	for name, s := range cases {
		var verr *schema.ValidationError
		if _, err := repo.PutSaveAtomic(ctx, "p", s, nil); !errors.As(err, &verr) {
			t.Fatalf("%s: err=%v, want ValidationError", name, err)
		}
	}
	var verr *schema.ValidationError
	if _, err := repo.PutSaveAtomic(ctx, "", saveWithLand("p", 1), nil); !errors.As(err, &verr) {
		t.Fatalf("empty profile id: err=%v", err)
	}
	wrongVersion := saveWithLand("p", 1)
	wrongVersion.Version = 2
	var vm *codec.VersionMismatchError
	if _, err := repo.PutSaveAtomic(ctx, "p", wrongVersion, nil); !errors.As(err, &vm) || vm.Field != "version" || vm.Got != 2 {
		t.Fatalf("version: err=%v vm=%+v, want VersionMismatchError on version", err, vm)
	}

	stats, err := repo.GetDatabaseStats(ctx)
	if err != nil {
		t.Fatalf("GetDatabaseStats error: %v", err)
	}
	if stats.TotalSaves != 0 || stats.TotalMeta != 0 {
		t.Fatalf("rejected writes touched storage: %+v", stats)
	}
}

func TestPutSaveAtomicChecksum(t *testing.T) {
	repo := NewSaveRepository(testutil.OpenTestStore(t), nil)
	ctx := context.Background()
	s := saveWithLand("p", 2)

	want, err := codec.Fingerprint(s)
	if err != nil {
		t.Fatalf("Fingerprint error: %v", err)
	}

	var mismatch *codec.ChecksumMismatchError
	if _, err := repo.PutSaveAtomic(ctx, "p", s, &PutOptions{Checksum: "deadbeef"}); !errors.As(err, &mismatch) {
		t.Fatalf("err=%v, want ChecksumMismatchError", err)
	}
	if _, err := repo.PutSaveAtomic(ctx, "p", s, &PutOptions{Checksum: want}); err != nil {
		t.Fatalf("PutSaveAtomic with matching checksum error: %v", err)
	}
	active, _ := repo.GetActiveSave(ctx, "p")
	if active == nil || active.Checksum != want {
		t.Fatalf("active=%+v, want checksum %s", active, want)
	}
}

func testConcurrentProfiles(t *testing.T, st store.Store) {
	repo := NewSaveRepository(st, nil)
	ctx := context.Background()

	profiles := []string{"profile-1", "profile-2", "profile-3"}
	var wg sync.WaitGroup
	errs := make(chan error, len(profiles)*5)
	for i, pid := range profiles {
		wg.Add(1)
		go func(pid string, base int64) {
			defer wg.Done()
			for n := int64(1); n <= 5; n++ {
				if _, err := repo.PutSaveAtomic(ctx, pid, saveWithLand(pid, base+n), nil); err != nil {
					errs <- fmt.Errorf("%s: %w", pid, err)
				}
			}
		}(pid, int64(i*100))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent PutSaveAtomic error: %v", err)
	}

	for i, pid := range profiles {
		active, err := repo.GetActiveSave(ctx, pid)
		if err != nil || active == nil {
			t.Fatalf("%s: GetActiveSave err=%v row=%v", pid, err, active)
		}
		p := active.Data.Profiles[0]
		if p.ID != pid || p.Progress.Land != int64(i*100)+5 {
			t.Fatalf("%s: cross-contaminated active save %+v", pid, p)
		}
		rows, _ := repo.GetAllSaves(ctx, pid)
		if len(rows) != DefaultKeepCount {
			t.Fatalf("%s: rows=%d", pid, len(rows))
		}
	}
}

func TestConcurrentPutDifferentProfilesSQLite(t *testing.T) {
	testConcurrentProfiles(t, testutil.OpenTestStore(t))
}

func TestConcurrentPutDifferentProfilesBadger(t *testing.T) {
	testConcurrentProfiles(t, testutil.OpenTestBadger(t))
}

func TestGetActiveSavePointerLoss(t *testing.T) {
	st := testutil.OpenTestStore(t)
	repo := NewSaveRepository(st, nil)
	ctx := context.Background()

	if _, err := repo.PutSaveAtomic(ctx, "p", saveWithLand("p", 1), nil); err != nil {
		t.Fatalf("PutSaveAtomic error: %v", err)
	}
	// 绕过仓储直接删除存档行，保留指针记录
	if err := st.Update(ctx, func(tx store.Tx) error { return tx.Saves().Clear() }); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if _, ok, _ := repo.GetActiveSaveID(ctx, "p"); !ok {
		t.Fatalf("pointer should still exist")
	}

	active, err := repo.GetActiveSave(ctx, "p")
	if err != nil || active != nil {
		t.Fatalf("GetActiveSave err=%v row=%v, want nil", err, active)
	}
	unknown, err := repo.GetActiveSave(ctx, "never-saved")
	if err != nil || unknown != nil {
		t.Fatalf("unknown profile err=%v row=%v", err, unknown)
	}
}

func TestGetActiveSaveSkipsCorruptRow(t *testing.T) {
	st := testutil.OpenTestStore(t)
	repo := NewSaveRepository(st, nil)
	ctx := context.Background()

	_, _ = repo.PutSaveAtomic(ctx, "p", saveWithLand("p", 1), nil)
	latest, _ := repo.PutSaveAtomic(ctx, "p", saveWithLand("p", 2), nil)

	// 篡改最新行的 payload，但保留原指纹
	if err := st.Update(ctx, func(tx store.Tx) error {
		rec, err := tx.Saves().Get(latest)
		if err != nil || rec == nil {
			return fmt.Errorf("get latest: %v", err)
		}
		rec.Data = []byte(`{"version":1,"profiles":[],"settings":{"a11yReducedMotion":false}}`)
		return tx.Saves().Put(rec)
	}); err != nil {
		t.Fatalf("tamper error: %v", err)
	}

	active, err := repo.GetActiveSave(ctx, "p")
	if err != nil || active == nil {
		t.Fatalf("GetActiveSave err=%v row=%v", err, active)
	}
	if active.ID == latest || active.Data.Profiles[0].Progress.Land != 1 {
		t.Fatalf("active=%+v, want fallback to land=1", active)
	}

	rows, _ := repo.GetAllSaves(ctx, "p")
	if len(rows) != 2 || rows[0].Data != nil || rows[1].Data == nil {
		t.Fatalf("GetAllSaves should surface corrupt row without data: %+v", rows)
	}
}

func TestGetActiveSaveAcceptsLegacyChecksum(t *testing.T) {
	st := testutil.OpenTestStore(t)
	repo := NewSaveRepository(st, nil)
	ctx := context.Background()

	data, err := json.Marshal(saveWithLand("p", 4))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	for i, sum := range []string{"", "legacy"} {
		var id int64
		if err := st.Update(ctx, func(tx store.Tx) error {
			var err error
			id, err = tx.Saves().Add(&store.SaveRecord{ProfileID: "p", Version: 1, Data: data, CreatedAt: int64(10 + i), Checksum: sum})
			return err
		}); err != nil {
			t.Fatalf("seed %q: %v", sum, err)
		}
		active, err := repo.GetActiveSave(ctx, "p")
		if err != nil || active == nil || active.ID != id {
			t.Fatalf("checksum %q: row=%+v err=%v, want id %d", sum, active, err, id)
		}
		if active.Data.Profiles[0].Progress.Land != 4 {
			t.Fatalf("checksum %q: data=%+v", sum, active.Data)
		}
	}

	// 合法格式但与内容不符的指纹仍视为损坏
	other, _ := codec.Fingerprint(saveWithLand("p", 5))
	if err := st.Update(ctx, func(tx store.Tx) error {
		_, err := tx.Saves().Add(&store.SaveRecord{ProfileID: "p", Version: 1, Data: data, CreatedAt: 20, Checksum: other})
		return err
	}); err != nil {
		t.Fatalf("seed tampered: %v", err)
	}
	rows, err := repo.GetAllSaves(ctx, "p")
	if err != nil || len(rows) != 3 || rows[0].Data != nil {
		t.Fatalf("tampered row should surface without data: rows=%+v err=%v", rows, err)
	}
}

func TestPutSaveAtomicSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")
	ctx := context.Background()

	st, err := sqlstore.Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	s := saveWithLand("p", 7)
	if _, err := NewSaveRepository(st, nil).PutSaveAtomic(ctx, "p", s, nil); err != nil {
		t.Fatalf("PutSaveAtomic error: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	st, err = sqlstore.Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer st.Close()
	active, err := NewSaveRepository(st, nil).GetActiveSave(ctx, "p")
	if err != nil || active == nil {
		t.Fatalf("GetActiveSave err=%v row=%v", err, active)
	}
	if active.Data.Profiles[0] != s.Profiles[0] {
		t.Fatalf("profile changed across reopen: %+v vs %+v", active.Data.Profiles[0], s.Profiles[0])
	}
}

func TestPutSaveAtomicClockRollback(t *testing.T) {
	repo := NewSaveRepository(testutil.OpenTestStore(t), nil)
	ctx := context.Background()

	clock := time.UnixMilli(10_000)
	repo.now = func() time.Time { return clock }
	for land := int64(1); land <= 3; land++ {
		_, _ = repo.PutSaveAtomic(ctx, "p", saveWithLand("p", land), nil)
	}
	// 时钟回拨后写入的行仍然是最新行
	clock = time.UnixMilli(5_000)
	id, err := repo.PutSaveAtomic(ctx, "p", saveWithLand("p", 4), nil)
	if err != nil {
		t.Fatalf("PutSaveAtomic error: %v", err)
	}
	active, _ := repo.GetActiveSave(ctx, "p")
	if active == nil || active.ID != id || active.Data.Profiles[0].Progress.Land != 4 {
		t.Fatalf("active=%+v", active)
	}
	rows, _ := repo.GetAllSaves(ctx, "p")
	if len(rows) != 3 {
		t.Fatalf("rows=%d", len(rows))
	}
}

func TestDeleteSaveRepointsActive(t *testing.T) {
	repo := NewSaveRepository(testutil.OpenTestStore(t), nil)
	ctx := context.Background()

	first, _ := repo.PutSaveAtomic(ctx, "p", saveWithLand("p", 1), nil)
	second, _ := repo.PutSaveAtomic(ctx, "p", saveWithLand("p", 2), nil)

	if err := repo.DeleteSave(ctx, second); err != nil {
		t.Fatalf("DeleteSave error: %v", err)
	}
	ptr, ok, _ := repo.GetActiveSaveID(ctx, "p")
	if !ok || ptr != first {
		t.Fatalf("pointer=%d ok=%v, want %d", ptr, ok, first)
	}

	if err := repo.DeleteSave(ctx, first); err != nil {
		t.Fatalf("DeleteSave error: %v", err)
	}
	if _, ok, _ := repo.GetActiveSaveID(ctx, "p"); ok {
		t.Fatalf("pointer should be removed with the last row")
	}
	// 不存在的行
	if err := repo.DeleteSave(ctx, 9999); err != nil {
		t.Fatalf("DeleteSave missing error: %v", err)
	}
}

func TestClearProfileDataAndStats(t *testing.T) {
	hub := eventbus.NewHub()
	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := hub.Subscribe(subCtx, 32)

	repo := NewSaveRepository(testutil.OpenTestStore(t), hub)
	ctx := context.Background()

	_, _ = repo.PutSaveAtomic(ctx, "a", saveWithLand("a", 1), nil)
	_, _ = repo.PutSaveAtomic(ctx, "b", saveWithLand("b", 1), nil)
	_, _ = repo.PutSaveAtomic(ctx, "b", saveWithLand("b", 2), nil)

	stats, err := repo.GetDatabaseStats(ctx)
	if err != nil {
		t.Fatalf("GetDatabaseStats error: %v", err)
	}
	if stats.TotalSaves != 3 || stats.TotalProfiles != 2 || stats.TotalMeta != 1 {
		t.Fatalf("stats=%+v", stats)
	}

	if err := repo.ClearProfileData(ctx, "b"); err != nil {
		t.Fatalf("ClearProfileData error: %v", err)
	}
	ids, _ := repo.GetAllProfileIDs(ctx)
	if len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("profile ids=%v", ids)
	}
	if _, ok, _ := repo.GetActiveSaveID(ctx, "b"); ok {
		t.Fatalf("pointer for b should be gone")
	}
	if a, _ := repo.GetActiveSave(ctx, "a"); a == nil {
		t.Fatalf("profile a should be untouched")
	}

	if err := repo.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll error: %v", err)
	}
	stats, _ = repo.GetDatabaseStats(ctx)
	if stats != (DatabaseStats{}) {
		t.Fatalf("stats after ClearAll=%+v", stats)
	}

	var committed, cleared int
	for len(events) > 0 {
		switch (<-events).Type {
		case eventbus.TypeSaveCommitted:
			committed++
		case eventbus.TypeProfileCleared:
			cleared++
		}
	}
	if committed != 3 || cleared != 1 {
		t.Fatalf("events committed=%d cleared=%d", committed, cleared)
	}
}
