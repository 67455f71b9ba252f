package badgerstore

import (
	"encoding/json"
	"sort"

	"github.com/yuqie6/SaveVault/internal/store"
)

// 落盘的值格式；Data 以 base64 保存，损坏的 JSON 也能原样取回
type saveValue struct {
	ProfileID string `json:"profileId"`
	Version   int    `json:"version"`
	Data      []byte `json:"data"`
	CreatedAt int64  `json:"createdAt"`
	Checksum  string `json:"checksum"`
}

type metaValue struct {
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updatedAt"`
}

type logValue struct {
	Timestamp int64  `json:"timestamp"`
	Level     string `json:"level"`
	Source    string `json:"source"`
	Message   string `json:"message"`
	Data      []byte `json:"data,omitempty"`
	ProfileID string `json:"profileId,omitempty"`
}

type saveTable struct{ t *txn }

func decodeSave(id int64, b []byte) (*store.SaveRecord, error) {
	var v saveValue
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return &store.SaveRecord{
		ID:        id,
		ProfileID: v.ProfileID,
		Version:   v.Version,
		Data:      v.Data,
		CreatedAt: v.CreatedAt,
		Checksum:  v.Checksum,
	}, nil
}

func (st saveTable) write(rec *store.SaveRecord) error {
	b, err := json.Marshal(saveValue{
		ProfileID: rec.ProfileID,
		Version:   rec.Version,
		Data:      rec.Data,
		CreatedAt: rec.CreatedAt,
		Checksum:  rec.Checksum,
	})
	if err != nil {
		return err
	}
	if err := st.t.btx.Set(saveKey(rec.ID), b); err != nil {
		return err
	}
	return st.t.btx.Set(indexKey(rec.ProfileID, rec.CreatedAt, rec.ID), nil)
}

func (st saveTable) Add(rec *store.SaveRecord) (int64, error) {
	if err := st.t.checkWritable("saves.add"); err != nil {
		return 0, err
	}
	id, err := st.t.s.nextID(st.t.s.saveSeq)
	if err != nil {
		return 0, store.Wrap("saves.add", err)
	}
	row := *rec
	row.ID = id
	if err := st.write(&row); err != nil {
		return 0, store.Wrap("saves.add", err)
	}
	return id, nil
}

func (st saveTable) Get(id int64) (*store.SaveRecord, error) {
	b, err := st.t.get(saveKey(id))
	if err != nil {
		return nil, store.Wrap("saves.get", err)
	}
	if b == nil {
		return nil, nil
	}
	rec, err := decodeSave(id, b)
	if err != nil {
		return nil, store.Wrap("saves.get", err)
	}
	return rec, nil
}

func (st saveTable) Put(rec *store.SaveRecord) error {
	if err := st.t.checkWritable("saves.put"); err != nil {
		return err
	}
	// 索引键包含 profileId 与 createdAt，覆盖前先删掉旧索引
	if err := st.Delete(rec.ID); err != nil {
		return err
	}
	return store.Wrap("saves.put", st.write(rec))
}

func (st saveTable) Delete(id int64) error {
	if err := st.t.checkWritable("saves.delete"); err != nil {
		return err
	}
	old, err := st.Get(id)
	if err != nil || old == nil {
		return err
	}
	if err := st.t.btx.Delete(indexKey(old.ProfileID, old.CreatedAt, id)); err != nil {
		return store.Wrap("saves.delete", err)
	}
	return store.Wrap("saves.delete", st.t.btx.Delete(saveKey(id)))
}

func (st saveTable) ListByProfile(profileID string) ([]store.SaveRecord, error) {
	out := []store.SaveRecord{}
	for _, k := range st.t.keys(indexPrefix(profileID)) {
		_, id, err := parseIndexKey(k)
		if err != nil {
			return nil, store.Wrap("saves.list_by_profile", err)
		}
		rec, err := st.Get(id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (st saveTable) List() ([]store.SaveRecord, error) {
	out := []store.SaveRecord{}
	err := st.t.values(prefixSave, nil, func(key, val []byte) (bool, error) {
		id := int64(readUint64(key[len(prefixSave):]))
		rec, err := decodeSave(id, val)
		if err != nil {
			return false, err
		}
		out = append(out, *rec)
		return true, nil
	})
	if err != nil {
		return nil, store.Wrap("saves.list", err)
	}
	return out, nil
}

func (st saveTable) ProfileIDs() ([]string, error) {
	seen := map[string]struct{}{}
	for _, k := range st.t.keys(prefixIndex) {
		pid, _, err := parseIndexKey(k)
		if err != nil {
			return nil, store.Wrap("saves.profile_ids", err)
		}
		seen[pid] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for pid := range seen {
		ids = append(ids, pid)
	}
	sort.Strings(ids)
	return ids, nil
}

func (st saveTable) Count() (int64, error) {
	return int64(len(st.t.keys(prefixSave))), nil
}

func (st saveTable) Clear() error {
	if err := st.t.checkWritable("saves.clear"); err != nil {
		return err
	}
	if err := st.t.deleteAll(prefixIndex); err != nil {
		return store.Wrap("saves.clear", err)
	}
	return store.Wrap("saves.clear", st.t.deleteAll(prefixSave))
}

type metaTable struct{ t *txn }

func (mt metaTable) Get(key string) (*store.MetaRecord, error) {
	b, err := mt.t.get(metaKey(key))
	if err != nil {
		return nil, store.Wrap("meta.get", err)
	}
	if b == nil {
		return nil, nil
	}
	var v metaValue
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, store.Wrap("meta.get", err)
	}
	return &store.MetaRecord{Key: key, Value: v.Value, UpdatedAt: v.UpdatedAt}, nil
}

func (mt metaTable) Put(rec store.MetaRecord) error {
	if err := mt.t.checkWritable("meta.put"); err != nil {
		return err
	}
	b, err := json.Marshal(metaValue{Value: rec.Value, UpdatedAt: rec.UpdatedAt})
	if err != nil {
		return store.Wrap("meta.put", err)
	}
	return store.Wrap("meta.put", mt.t.btx.Set(metaKey(rec.Key), b))
}

func (mt metaTable) Delete(key string) error {
	if err := mt.t.checkWritable("meta.delete"); err != nil {
		return err
	}
	return store.Wrap("meta.delete", mt.t.btx.Delete(metaKey(key)))
}

func (mt metaTable) List() ([]store.MetaRecord, error) {
	out := []store.MetaRecord{}
	err := mt.t.values(prefixMeta, nil, func(key, val []byte) (bool, error) {
		var v metaValue
		if err := json.Unmarshal(val, &v); err != nil {
			return false, err
		}
		out = append(out, store.MetaRecord{Key: string(key[len(prefixMeta):]), Value: v.Value, UpdatedAt: v.UpdatedAt})
		return true, nil
	})
	if err != nil {
		return nil, store.Wrap("meta.list", err)
	}
	return out, nil
}

func (mt metaTable) Count() (int64, error) {
	return int64(len(mt.t.keys(prefixMeta))), nil
}

func (mt metaTable) Clear() error {
	if err := mt.t.checkWritable("meta.clear"); err != nil {
		return err
	}
	return store.Wrap("meta.clear", mt.t.deleteAll(prefixMeta))
}

type logTable struct{ t *txn }

func (lt logTable) Add(rec *store.LogRecord) (int64, error) {
	if err := lt.t.checkWritable("logs.add"); err != nil {
		return 0, err
	}
	id, err := lt.t.s.nextID(lt.t.s.logSeq)
	if err != nil {
		return 0, store.Wrap("logs.add", err)
	}
	b, err := json.Marshal(logValue{
		Timestamp: rec.Timestamp,
		Level:     rec.Level,
		Source:    rec.Source,
		Message:   rec.Message,
		Data:      rec.Data,
		ProfileID: rec.ProfileID,
	})
	if err != nil {
		return 0, store.Wrap("logs.add", err)
	}
	if err := lt.t.btx.Set(logKey(rec.Timestamp, id), b); err != nil {
		return 0, store.Wrap("logs.add", err)
	}
	return id, nil
}

func (lt logTable) Range(from, to int64) ([]store.LogRecord, error) {
	out := []store.LogRecord{}
	seek := putInt64(concat(prefixLog), from)
	err := lt.t.values(prefixLog, seek, func(key, val []byte) (bool, error) {
		ts, err := logKeyTimestamp(key)
		if err != nil {
			return false, err
		}
		if ts > to {
			return false, nil
		}
		var v logValue
		if err := json.Unmarshal(val, &v); err != nil {
			return false, err
		}
		out = append(out, store.LogRecord{
			ID:        int64(readUint64(key[len(key)-8:])),
			Timestamp: v.Timestamp,
			Level:     v.Level,
			Source:    v.Source,
			Message:   v.Message,
			Data:      v.Data,
			ProfileID: v.ProfileID,
		})
		return true, nil
	})
	if err != nil {
		return nil, store.Wrap("logs.range", err)
	}
	return out, nil
}

func (lt logTable) DeleteBefore(before int64) (int64, error) {
	if err := lt.t.checkWritable("logs.delete_before"); err != nil {
		return 0, err
	}
	var n int64
	for _, k := range lt.t.keys(prefixLog) {
		ts, err := logKeyTimestamp(k)
		if err != nil {
			return n, store.Wrap("logs.delete_before", err)
		}
		// 键按时间有序
		if ts >= before {
			break
		}
		if err := lt.t.btx.Delete(k); err != nil {
			return n, store.Wrap("logs.delete_before", err)
		}
		n++
	}
	return n, nil
}

func (lt logTable) Count() (int64, error) {
	return int64(len(lt.t.keys(prefixLog))), nil
}

func (lt logTable) Clear() error {
	if err := lt.t.checkWritable("logs.clear"); err != nil {
		return err
	}
	return store.Wrap("logs.clear", lt.t.deleteAll(prefixLog))
}
