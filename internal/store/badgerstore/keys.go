package badgerstore

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// 键布局：
//
//	s/<id>                           saves 行
//	i/<profileId>\x00<createdAt><id> profileId 二级索引（值为空）
//	m/<key>                          meta 行
//	l/<timestamp><id>                logs 行
//	q/<table>                        自增序列
//
// 整数按大端 8 字节编码，有符号时间戳翻转符号位，使字节序与数值序一致。
var (
	prefixSave  = []byte("s/")
	prefixIndex = []byte("i/")
	prefixMeta  = []byte("m/")
	prefixLog   = []byte("l/")

	seqSaves = []byte("q/saves")
	seqLogs  = []byte("q/logs")
)

const indexSep = 0x00

var errBadKey = errors.New("无法解析的键")

func putUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func putInt64(b []byte, v int64) []byte {
	return putUint64(b, uint64(v)^(1<<63))
}

func readInt64(b []byte) int64 {
	return int64(readUint64(b) ^ (1 << 63))
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func saveKey(id int64) []byte {
	return putUint64(concat(prefixSave), uint64(id))
}

func indexPrefix(profileID string) []byte {
	return append(concat(prefixIndex, []byte(profileID)), indexSep)
}

func indexKey(profileID string, createdAt, id int64) []byte {
	return putUint64(putInt64(indexPrefix(profileID), createdAt), uint64(id))
}

// parseIndexKey 返回 profileId 与行 ID
func parseIndexKey(k []byte) (string, int64, error) {
	rest := k[len(prefixIndex):]
	sep := len(rest) - 17
	if sep < 0 || rest[sep] != indexSep {
		return "", 0, errBadKey
	}
	profileID := string(rest[:sep])
	id := int64(binary.BigEndian.Uint64(rest[sep+9:]))
	return profileID, id, nil
}

func metaKey(key string) []byte {
	return concat(prefixMeta, []byte(key))
}

func logKey(ts, id int64) []byte {
	return putUint64(putInt64(concat(prefixLog), ts), uint64(id))
}

func logKeyTimestamp(k []byte) (int64, error) {
	rest := k[len(prefixLog):]
	if len(rest) != 16 {
		return 0, errBadKey
	}
	return readInt64(rest[:8]), nil
}

func readUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
