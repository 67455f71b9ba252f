// Package codec 负责内容指纹与导出信封的编解码。
//
// 指纹 = SHA-256(规范化 JSON)，规范化保证对象键按字典序排列，
// 因此逻辑上相等但键顺序不同的结构得到相同指纹。
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/yuqie6/SaveVault/internal/schema"
)

// FingerprintLength 指纹长度（64 位小写十六进制）
const FingerprintLength = sha256.Size * 2

var fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// IsFingerprint 判断字符串是否为合法指纹格式
func IsFingerprint(s string) bool {
	return fingerprintPattern.MatchString(s)
}

// Canonicalize 输出规范化 JSON：键有序、无多余空白、不做 HTML 转义
func Canonicalize(v any) ([]byte, error) {
	generic, err := schema.ToGeneric(v)
	if err != nil {
		return nil, fmt.Errorf("规范化失败: %w", err)
	}
	return canonicalGeneric(generic)
}

func canonicalGeneric(generic any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("规范化失败: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func digest(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Fingerprint 计算任意可序列化值的内容指纹
func Fingerprint(payload any) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return digest(canonical), nil
}

// FingerprintJSON 计算原始 JSON 字节的内容指纹（先规范化）
func FingerprintJSON(b []byte) (string, error) {
	generic, err := schema.ParseJSON(b)
	if err != nil {
		return "", fmt.Errorf("解析 JSON 失败: %w", err)
	}
	canonical, err := canonicalGeneric(generic)
	if err != nil {
		return "", err
	}
	return digest(canonical), nil
}

// fingerprintGeneric 对已解码的 JSON 值计算指纹，导入时直接使用文件中的原始数据
func fingerprintGeneric(generic any) (string, error) {
	canonical, err := canonicalGeneric(generic)
	if err != nil {
		return "", err
	}
	return digest(canonical), nil
}

// VerifyJSON 校验原始 JSON 与期望指纹是否一致
func VerifyJSON(b []byte, expected string) error {
	actual, err := FingerprintJSON(b)
	if err != nil {
		return err
	}
	if actual != expected {
		return &ChecksumMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}
