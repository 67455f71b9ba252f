// Package storetest 提供 store.Store 各实现共用的契约测试。
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/yuqie6/SaveVault/internal/store"
)

// Opener 为每个子测试打开一个全新的空存储
type Opener func(t *testing.T) store.Store

// Run 运行全部契约测试
func Run(t *testing.T, open Opener) {
	t.Run("SaveTableOrdering", func(t *testing.T) { testSaveTableOrdering(t, open(t)) })
	t.Run("SaveTableGetPutDelete", func(t *testing.T) { testSaveTableGetPutDelete(t, open(t)) })
	t.Run("MetaTable", func(t *testing.T) { testMetaTable(t, open(t)) })
	t.Run("LogTable", func(t *testing.T) { testLogTable(t, open(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, open(t)) })
	t.Run("ViewIsReadConsistent", func(t *testing.T) { testViewIsReadConsistent(t, open(t)) })
	t.Run("ConcurrentUpdates", func(t *testing.T) { testConcurrentUpdates(t, open(t)) })
	t.Run("Clear", func(t *testing.T) { testClear(t, open(t)) })
}

func rec(profileID string, createdAt int64, data string) *store.SaveRecord {
	return &store.SaveRecord{ProfileID: profileID, Version: 1, Data: []byte(data), CreatedAt: createdAt, Checksum: "sum"}
}

func testSaveTableOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	var ids []int64
	err := s.Update(ctx, func(tx store.Tx) error {
		// 同一 createdAt 按 ID 升序
		for _, r := range []*store.SaveRecord{rec("p1", 20, `{"n":1}`), rec("p1", 10, `{"n":2}`), rec("p2", 5, `{"n":3}`), rec("p1", 20, `{"n":4}`)} {
			id, err := tx.Saves().Add(r)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not increasing: %v", ids)
		}
	}

	err = s.View(ctx, func(tx store.Tx) error {
		rows, err := tx.Saves().ListByProfile("p1")
		if err != nil {
			return err
		}
		if len(rows) != 3 {
			t.Fatalf("ListByProfile rows=%d, want 3", len(rows))
		}
		want := []int64{ids[1], ids[0], ids[3]}
		for i, r := range rows {
			if r.ID != want[i] {
				t.Fatalf("order=%v, want %v", rows, want)
			}
		}
		if string(rows[0].Data) != `{"n":2}` || rows[0].CreatedAt != 10 || rows[0].Checksum != "sum" {
			t.Fatalf("row fields lost: %+v", rows[0])
		}

		all, err := tx.Saves().List()
		if err != nil || len(all) != 4 || all[0].ID != ids[0] {
			t.Fatalf("List err=%v rows=%v", err, all)
		}

		pids, err := tx.Saves().ProfileIDs()
		if err != nil || len(pids) != 2 || pids[0] != "p1" || pids[1] != "p2" {
			t.Fatalf("ProfileIDs err=%v ids=%v", err, pids)
		}
		n, err := tx.Saves().Count()
		if err != nil || n != 4 {
			t.Fatalf("Count err=%v n=%d", err, n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View error: %v", err)
	}
}

func testSaveTableGetPutDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	var id int64
	if err := s.Update(ctx, func(tx store.Tx) error {
		var err error
		id, err = tx.Saves().Add(rec("p1", 1, `{"a":1}`))
		return err
	}); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	if err := s.Update(ctx, func(tx store.Tx) error {
		got, err := tx.Saves().Get(id)
		if err != nil || got == nil {
			t.Fatalf("Get err=%v row=%v", err, got)
		}
		got.Checksum = "rewritten"
		got.Data = []byte(`{"a":2}`)
		return tx.Saves().Put(got)
	}); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	_ = s.View(ctx, func(tx store.Tx) error {
		got, err := tx.Saves().Get(id)
		if err != nil || got == nil || got.Checksum != "rewritten" || string(got.Data) != `{"a":2}` || got.ProfileID != "p1" {
			t.Fatalf("after Put err=%v row=%+v", err, got)
		}
		rows, _ := tx.Saves().ListByProfile("p1")
		if len(rows) != 1 {
			t.Fatalf("Put duplicated index entry: %v", rows)
		}
		return nil
	})

	if err := s.Update(ctx, func(tx store.Tx) error { return tx.Saves().Delete(id) }); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	_ = s.View(ctx, func(tx store.Tx) error {
		got, err := tx.Saves().Get(id)
		if err != nil || got != nil {
			t.Fatalf("after Delete err=%v row=%v", err, got)
		}
		rows, _ := tx.Saves().ListByProfile("p1")
		if len(rows) != 0 {
			t.Fatalf("index not cleaned: %v", rows)
		}
		return nil
	})

	// 删除不存在的行不是错误
	if err := s.Update(ctx, func(tx store.Tx) error { return tx.Saves().Delete(id + 100) }); err != nil {
		t.Fatalf("Delete missing error: %v", err)
	}
}

func testMetaTable(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.Meta().Put(store.MetaRecord{Key: "b", Value: "1", UpdatedAt: 1}); err != nil {
			return err
		}
		if err := tx.Meta().Put(store.MetaRecord{Key: "a", Value: "2", UpdatedAt: 2}); err != nil {
			return err
		}
		return tx.Meta().Put(store.MetaRecord{Key: "b", Value: "3", UpdatedAt: 3})
	})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}

	_ = s.View(ctx, func(tx store.Tx) error {
		got, err := tx.Meta().Get("b")
		if err != nil || got == nil || got.Value != "3" || got.UpdatedAt != 3 {
			t.Fatalf("Get err=%v row=%+v", err, got)
		}
		missing, err := tx.Meta().Get("nope")
		if err != nil || missing != nil {
			t.Fatalf("missing err=%v row=%v", err, missing)
		}
		all, err := tx.Meta().List()
		if err != nil || len(all) != 2 || all[0].Key != "a" || all[1].Key != "b" {
			t.Fatalf("List err=%v rows=%v", err, all)
		}
		return nil
	})

	if err := s.Update(ctx, func(tx store.Tx) error { return tx.Meta().Delete("a") }); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	_ = s.View(ctx, func(tx store.Tx) error {
		n, err := tx.Meta().Count()
		if err != nil || n != 1 {
			t.Fatalf("Count err=%v n=%d", err, n)
		}
		return nil
	})
}

func testLogTable(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.Update(ctx, func(tx store.Tx) error {
		for _, ts := range []int64{300, 100, 200, 100} {
			if _, err := tx.Logs().Add(&store.LogRecord{Timestamp: ts, Level: "info", Source: "worker", Message: "m", Data: []byte(`{"k":1}`)}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}

	_ = s.View(ctx, func(tx store.Tx) error {
		rows, err := tx.Logs().Range(100, 200)
		if err != nil || len(rows) != 3 {
			t.Fatalf("Range err=%v rows=%v", err, rows)
		}
		for i := 1; i < len(rows); i++ {
			if rows[i].Timestamp < rows[i-1].Timestamp {
				t.Fatalf("Range not ordered: %v", rows)
			}
		}
		if string(rows[0].Data) != `{"k":1}` || rows[0].Source != "worker" {
			t.Fatalf("log fields lost: %+v", rows[0])
		}
		return nil
	})

	var deleted int64
	if err := s.Update(ctx, func(tx store.Tx) error {
		var err error
		deleted, err = tx.Logs().DeleteBefore(200)
		return err
	}); err != nil {
		t.Fatalf("DeleteBefore error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted=%d, want 2", deleted)
	}
	_ = s.View(ctx, func(tx store.Tx) error {
		n, err := tx.Logs().Count()
		if err != nil || n != 2 {
			t.Fatalf("Count err=%v n=%d", err, n)
		}
		return nil
	})
}

func testRollbackOnError(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.Saves().Add(rec("p1", 1, `{}`)); err != nil {
			return err
		}
		if err := tx.Meta().Put(store.MetaRecord{Key: "k", Value: "v"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want boom", err)
	}
	_ = s.View(ctx, func(tx store.Tx) error {
		n, _ := tx.Saves().Count()
		m, _ := tx.Meta().Count()
		if n != 0 || m != 0 {
			t.Fatalf("rolled back tx left saves=%d meta=%d", n, m)
		}
		return nil
	})
}

func testViewIsReadConsistent(t *testing.T, s store.Store) {
	ctx := context.Background()
	_ = s.Update(ctx, func(tx store.Tx) error {
		_, err := tx.Saves().Add(rec("p1", 1, `{}`))
		return err
	})
	err := s.View(ctx, func(tx store.Tx) error {
		a, err := tx.Saves().Count()
		if err != nil {
			return err
		}
		b, err := tx.Saves().Count()
		if err != nil {
			return err
		}
		if a != b || a != 1 {
			t.Fatalf("inconsistent reads %d vs %d", a, b)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View error: %v", err)
	}
}

func testConcurrentUpdates(t *testing.T, s store.Store) {
	ctx := context.Background()
	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Update(ctx, func(tx store.Tx) error {
				// 所有写入方读改写同一个 meta 键
				cur, err := tx.Meta().Get("counter")
				if err != nil {
					return err
				}
				val := "x"
				if cur != nil {
					val = cur.Value + "x"
				}
				if _, err := tx.Saves().Add(rec("p", int64(i), `{}`)); err != nil {
					return err
				}
				return tx.Meta().Put(store.MetaRecord{Key: "counter", Value: val})
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Update error: %v", err)
		}
	}
	_ = s.View(ctx, func(tx store.Tx) error {
		cur, _ := tx.Meta().Get("counter")
		if cur == nil || len(cur.Value) != writers {
			t.Fatalf("lost update: %+v", cur)
		}
		n, _ := tx.Saves().Count()
		if n != writers {
			t.Fatalf("saves=%d, want %d", n, writers)
		}
		return nil
	})
}

func testClear(t *testing.T, s store.Store) {
	ctx := context.Background()
	_ = s.Update(ctx, func(tx store.Tx) error {
		_, _ = tx.Saves().Add(rec("p1", 1, `{}`))
		_ = tx.Meta().Put(store.MetaRecord{Key: "k", Value: "v"})
		_, _ = tx.Logs().Add(&store.LogRecord{Timestamp: 1, Level: "info", Source: "ui", Message: "m"})
		return nil
	})
	if err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.Saves().Clear(); err != nil {
			return err
		}
		if err := tx.Meta().Clear(); err != nil {
			return err
		}
		return tx.Logs().Clear()
	}); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	_ = s.View(ctx, func(tx store.Tx) error {
		a, _ := tx.Saves().Count()
		b, _ := tx.Meta().Count()
		c, _ := tx.Logs().Count()
		if a+b+c != 0 {
			t.Fatalf("clear left rows saves=%d meta=%d logs=%d", a, b, c)
		}
		pids, _ := tx.Saves().ProfileIDs()
		if len(pids) != 0 {
			t.Fatalf("profile ids after clear: %v", pids)
		}
		return nil
	})
}
