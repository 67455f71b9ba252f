// Package store 定义存档依赖的事务型多表存储能力。
//
// 存档协议只依赖这里的接口：命名表 saves / meta / logs，以及可以跨表
// 全部成功或全部失败的事务。具体引擎见 sqlstore（SQLite）与 badgerstore（BadgerDB）。
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed 存储已关闭
var ErrClosed = errors.New("存储已关闭")

// SaveRecord saves 表中的一行；Data 为原始 JSON，便于校验缺失字段或损坏的数据
type SaveRecord struct {
	ID        int64
	ProfileID string
	Version   int
	Data      []byte
	CreatedAt int64
	Checksum  string
}

// MetaRecord meta 表中的一行
type MetaRecord struct {
	Key       string
	Value     string
	UpdatedAt int64
}

// LogRecord logs 表中的一行
type LogRecord struct {
	ID        int64
	Timestamp int64
	Level     string
	Source    string
	Message   string
	Data      []byte
	ProfileID string
}

// SaveTable 存档表：自增 ID，profileId 二级索引
type SaveTable interface {
	// Add 插入新行并返回分配的 ID（忽略 rec.ID）
	Add(rec *SaveRecord) (int64, error)
	// Get 不存在时返回 (nil, nil)
	Get(id int64) (*SaveRecord, error)
	// Put 按 ID 覆盖已有行（用于迁移与恢复）
	Put(rec *SaveRecord) error
	Delete(id int64) error
	// ListByProfile 按 createdAt、ID 升序返回
	ListByProfile(profileID string) ([]SaveRecord, error)
	// List 按 ID 升序返回全部行
	List() ([]SaveRecord, error)
	// ProfileIDs 返回去重后按字典序排列的 profileId
	ProfileIDs() ([]string, error)
	Count() (int64, error)
	Clear() error
}

// MetaTable 元数据表：字符串主键
type MetaTable interface {
	Get(key string) (*MetaRecord, error)
	Put(rec MetaRecord) error
	Delete(key string) error
	// List 按 key 升序返回全部行
	List() ([]MetaRecord, error)
	Count() (int64, error)
	Clear() error
}

// LogTable 日志表：自增 ID，timestamp 索引
type LogTable interface {
	Add(rec *LogRecord) (int64, error)
	// Range 返回 from <= timestamp <= to 的日志，按时间升序
	Range(from, to int64) ([]LogRecord, error)
	// DeleteBefore 删除 timestamp < before 的日志，返回删除条数
	DeleteBefore(before int64) (int64, error)
	Count() (int64, error)
	Clear() error
}

// Tx 事务内可见的表集合
type Tx interface {
	Saves() SaveTable
	Meta() MetaTable
	Logs() LogTable
}

// Store 事务型多表存储
type Store interface {
	// Update 读写事务：fn 返回 nil 时整体提交，否则整体回滚
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View 只读事务：一致的时间点快照，不阻塞写入方
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// StorageError 底层存储操作失败
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("存储操作 %s 失败: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Wrap 将底层错误包装为 StorageError；nil 与已包装的错误原样返回
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
