// Package badgerstore 基于 BadgerDB 实现 store.Store。
//
// badger 使用乐观并发控制：两个事务读写同一个键（例如 profile_pointers）时，
// 后提交的一方收到 ErrConflict。Update 会从头重放 fn，因此 fn 可能被调用多次，
// 它不应在事务外留下副作用。
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/yuqie6/SaveVault/internal/store"
)

const (
	maxConflictRetries = 100
	seqBandwidth       = 64
)

var _ store.Store = (*Store)(nil)

// Store BadgerDB 存储
type Store struct {
	db       *badger.DB
	saveSeq  *badger.Sequence
	logSeq   *badger.Sequence
	gc       *gcRunner
	dir      string
	closed   atomic.Bool
	closeMu  sync.Mutex
	inMemory bool
}

// Open 按配置打开存储
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	saveSeq, err := db.GetSequence(seqSaves, seqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("获取 saves 序列失败: %w", err)
	}
	logSeq, err := db.GetSequence(seqLogs, seqBandwidth)
	if err != nil {
		_ = saveSeq.Release()
		_ = db.Close()
		return nil, fmt.Errorf("获取 logs 序列失败: %w", err)
	}

	s := &Store{
		db:       db,
		saveSeq:  saveSeq,
		logSeq:   logSeq,
		dir:      cfg.Dir,
		inMemory: cfg.InMemory,
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio)
	}
	slog.Debug("badger 已打开", "dir", cfg.Dir, "in_memory", cfg.InMemory)
	return s, nil
}

// OpenDir 以默认配置打开目录
func OpenDir(dir string) (*Store, error) {
	return Open(DefaultConfig(dir))
}

// OpenMemory 打开内存实例（测试用）
func OpenMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Dir 数据目录；内存实例为空
func (s *Store) Dir() string {
	return s.dir
}

// Update 读写事务；提交冲突时重放 fn
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	for attempt := 0; ; attempt++ {
		if s.closed.Load() {
			return store.Wrap("update", store.ErrClosed)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var fnErr error
		err := s.db.Update(func(btx *badger.Txn) error {
			fnErr = fn(&txn{s: s, btx: btx, writable: true})
			return fnErr
		})
		if fnErr != nil {
			return fnErr
		}
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			if attempt > 0 {
				time.Sleep(time.Duration(attempt) * time.Millisecond)
			}
			continue
		}
		return store.Wrap("commit", err)
	}
}

// View 只读快照事务
func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	if s.closed.Load() {
		return store.Wrap("view", store.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var fnErr error
	err := s.db.View(func(btx *badger.Txn) error {
		fnErr = fn(&txn{s: s, btx: btx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return store.Wrap("view", err)
}

// Close 释放序列、停止回收并关闭数据库；可重复调用
func (s *Store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	if s.gc != nil {
		s.gc.stop()
	}
	var errs []error
	errs = append(errs, s.saveSeq.Release(), s.logSeq.Release(), s.db.Close())
	return errors.Join(errs...)
}

func (s *Store) nextID(seq *badger.Sequence) (int64, error) {
	// 序列从 0 开始，ID 从 1 开始与 SQLite 一致
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

type txn struct {
	s        *Store
	btx      *badger.Txn
	writable bool
}

func (t *txn) Saves() store.SaveTable { return saveTable{t} }
func (t *txn) Meta() store.MetaTable  { return metaTable{t} }
func (t *txn) Logs() store.LogTable   { return logTable{t} }

var errReadOnly = errors.New("只读事务不能写入")

func (t *txn) checkWritable(op string) error {
	if !t.writable {
		return store.Wrap(op, errReadOnly)
	}
	return nil
}

// keys 返回前缀下的全部键；迭代器在返回前关闭，调用方随后可以安全写入
func (t *txn) keys(prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := t.btx.NewIterator(opts)
	defer it.Close()

	var out [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		out = append(out, it.Item().KeyCopy(nil))
	}
	return out
}

// values 遍历前缀下的键值，fn 返回 false 时停止
func (t *txn) values(prefix []byte, seek []byte, fn func(key, val []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.btx.NewIterator(opts)
	defer it.Close()

	if seek == nil {
		seek = prefix
	}
	for it.Seek(seek); it.Valid(); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		more, err := fn(item.KeyCopy(nil), val)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (t *txn) get(key []byte) ([]byte, error) {
	item, err := t.btx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *txn) deleteAll(prefix []byte) error {
	for _, k := range t.keys(prefix) {
		if err := t.btx.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
