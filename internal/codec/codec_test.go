package codec

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/yuqie6/SaveVault/internal/schema"
)

func testSave() schema.Save {
	return schema.NewSave([]schema.Profile{{
		ID:          "profile-1",
		Name:        "Test Dragon",
		CreatedAt:   1700000000000,
		LastActive:  1700000000000,
		Progress:    schema.Progress{Land: 3, Ward: 5, DistanceM: 1000},
		Currencies:  schema.Currencies{Arcana: 100, Gold: 500},
		Enchants:    schema.Enchants{Firepower: 2, Scales: 1, Tier: 1},
		Stats:       schema.Stats{PlaytimeS: 3600, Deaths: 3, TotalDistanceM: 5000},
		Leaderboard: schema.Leaderboard{HighestWard: 10, FastestBossS: 120},
		Sim:         schema.SimClock{LastSimWallClock: 1700000000000, BgCoveredMs: 2500},
	}}, schema.DefaultSettings())
}

func TestFingerprintShapeAndDeterminism(t *testing.T) {
	s := testSave()
	a, err := Fingerprint(s)
	if err != nil {
		t.Fatalf("Fingerprint error: %v", err)
	}
	b, _ := Fingerprint(s)
	if a != b {
		t.Fatalf("fingerprint not deterministic: %s vs %s", a, b)
	}
	if len(a) != FingerprintLength || !IsFingerprint(a) {
		t.Fatalf("bad fingerprint shape: %q", a)
	}

	s.Profiles[0].Progress.Land++
	c, _ := Fingerprint(s)
	if c == a {
		t.Fatalf("distinct inputs produced the same fingerprint")
	}
}

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	x, err := FingerprintJSON([]byte(`{"b":1,"a":{"d":2,"c":3}}`))
	if err != nil {
		t.Fatalf("FingerprintJSON error: %v", err)
	}
	y, _ := FingerprintJSON([]byte(`{ "a": {"c":3, "d":2}, "b": 1 }`))
	if x != y {
		t.Fatalf("key order changed fingerprint: %s vs %s", x, y)
	}
}

func TestFingerprintJSONMatchesTyped(t *testing.T) {
	s := testSave()
	raw, _ := json.Marshal(s)
	a, _ := Fingerprint(s)
	b, err := FingerprintJSON(raw)
	if err != nil || a != b {
		t.Fatalf("typed=%s raw=%s err=%v", a, b, err)
	}
	if err := VerifyJSON(raw, a); err != nil {
		t.Fatalf("VerifyJSON error: %v", err)
	}
}

func TestEnvelopeTamperDetection(t *testing.T) {
	env, err := EncodeEnvelope(testSave())
	if err != nil {
		t.Fatalf("EncodeEnvelope error: %v", err)
	}
	if err := ValidateEnvelope(env); err != nil {
		t.Fatalf("ValidateEnvelope error: %v", err)
	}

	env.Data.Profiles[0].Name = "Hacked"
	var mismatch *ChecksumMismatchError
	if err := ValidateEnvelope(env); !errors.As(err, &mismatch) {
		t.Fatalf("err=%v, want ChecksumMismatchError", err)
	}
}

func TestEnvelopeVersionCheckedFirst(t *testing.T) {
	env, _ := EncodeEnvelope(testSave())
	env.FileVersion = 2
	env.Checksum = ""
	var vm *VersionMismatchError
	if err := ValidateEnvelope(env); !errors.As(err, &vm) {
		t.Fatalf("err=%v, want VersionMismatchError", err)
	}
}

func TestEncodeEnvelopeAllowsEmptyStore(t *testing.T) {
	env, err := EncodeEnvelopeAt(schema.NewSave(nil, schema.DefaultSettings()), 42)
	if err != nil {
		t.Fatalf("EncodeEnvelopeAt error: %v", err)
	}
	if env.ExportedAt != 42 || len(env.Data.Profiles) != 0 || env.Data.Profiles == nil {
		t.Fatalf("env=%+v", env)
	}
}

func TestEncodeEnvelopeRejectsInvalid(t *testing.T) {
	s := testSave()
	s.Profiles[0].Name = ""
	var verr *schema.ValidationError
	if _, err := EncodeEnvelope(s); !errors.As(err, &verr) {
		t.Fatalf("err=%v, want ValidationError", err)
	}
}

func TestDecodeEnvelopeRoundTrip(t *testing.T) {
	env, _ := EncodeEnvelope(testSave())
	blob, err := ToBlob(env)
	if err != nil {
		t.Fatalf("ToBlob error: %v", err)
	}
	if blob.ContentType != ContentTypeJSON {
		t.Fatalf("content type %q", blob.ContentType)
	}
	got, err := DecodeEnvelope(blob.Data)
	if err != nil {
		t.Fatalf("DecodeEnvelope error: %v", err)
	}
	if got.Checksum != env.Checksum || got.Data.Profiles[0].Sim != env.Data.Profiles[0].Sim {
		t.Fatalf("got=%+v want=%+v", got, env)
	}
}

func TestDecodeEnvelopeFailureModes(t *testing.T) {
	env, _ := EncodeEnvelope(testSave())

	mutate := func(fn func(m map[string]any)) []byte {
		b, _ := Marshal(env)
		var m map[string]any
		_ = json.Unmarshal(b, &m)
		fn(m)
		out, _ := json.Marshal(m)
		return out
	}

	if _, err := DecodeEnvelope([]byte("{not json")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("malformed: err=%v", err)
	}

	var vm *VersionMismatchError
	if _, err := DecodeEnvelope(mutate(func(m map[string]any) { m["fileVersion"] = 2 })); !errors.As(err, &vm) {
		t.Fatalf("fileVersion: err=%v", err)
	}

	var mismatch *ChecksumMismatchError
	if _, err := DecodeEnvelope(mutate(func(m map[string]any) { m["checksum"] = "" })); !errors.As(err, &mismatch) {
		t.Fatalf("empty checksum: err=%v", err)
	}

	tampered := mutate(func(m map[string]any) {
		p := m["data"].(map[string]any)["profiles"].([]any)[0].(map[string]any)
		p["name"] = "Changed"
	})
	if _, err := DecodeEnvelope(tampered); !errors.As(err, &mismatch) {
		t.Fatalf("tampered: err=%v", err)
	}

	var verr *schema.ValidationError
	if _, err := DecodeEnvelope(mutate(func(m map[string]any) { delete(m, "data") })); !errors.As(err, &verr) {
		t.Fatalf("missing data: err=%v", err)
	}
}

func TestDecodeEnvelopeSchemaRejectedAfterChecksum(t *testing.T) {
	s := testSave()
	raw, _ := schema.ToGeneric(s)
	profile := raw.(map[string]any)["profiles"].([]any)[0].(map[string]any)
	profile["progress"].(map[string]any)["land"] = json.Number("-1")
	sum, _ := fingerprintGeneric(raw)

	b, _ := json.Marshal(map[string]any{"fileVersion": 1, "exportedAt": 1, "checksum": sum, "data": raw})
	var verr *schema.ValidationError
	if _, err := DecodeEnvelope(b); !errors.As(err, &verr) {
		t.Fatalf("err=%v, want ValidationError", err)
	}
	if !verr.HasPath("profiles[0].progress.land") {
		t.Fatalf("violations=%v", verr.Violations)
	}
}

func TestDecodeEnvelopeSaveVersionMismatch(t *testing.T) {
	raw, _ := schema.ToGeneric(testSave())
	raw.(map[string]any)["version"] = json.Number("2")
	sum, _ := fingerprintGeneric(raw)

	b, _ := json.Marshal(map[string]any{"fileVersion": 1, "exportedAt": 1, "checksum": sum, "data": raw})
	_, err := DecodeEnvelope(b)
	var vm *VersionMismatchError
	if !errors.As(err, &vm) {
		t.Fatalf("err=%v, want VersionMismatchError", err)
	}
	if vm.Field != "version" || vm.Got != 2 || vm.Want != schema.SaveVersion {
		t.Fatalf("vm=%+v", vm)
	}
	// 同时仍是结构校验错误，列出违规路径
	var verr *schema.ValidationError
	if !errors.As(err, &verr) || !verr.HasPath("version") {
		t.Fatalf("err=%v, want ValidationError on version", err)
	}
}
