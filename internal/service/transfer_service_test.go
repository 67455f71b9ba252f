package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/yuqie6/SaveVault/internal/codec"
	"github.com/yuqie6/SaveVault/internal/repository"
	"github.com/yuqie6/SaveVault/internal/schema"
	"github.com/yuqie6/SaveVault/internal/testutil"
)

func newTransfer(t *testing.T) (*TransferService, *repository.SaveRepository) {
	t.Helper()
	repo := repository.NewSaveRepository(testutil.OpenTestStore(t), nil)
	return NewTransferService(repo, nil), repo
}

func seed(t *testing.T, repo *repository.SaveRepository, profiles ...schema.Profile) {
	t.Helper()
	for _, p := range profiles {
		s := testutil.SampleSave(p)
		if _, err := repo.PutSaveAtomic(context.Background(), p.ID, &s, nil); err != nil {
			t.Fatalf("seed %s: %v", p.ID, err)
		}
	}
}

func TestExportEmptyStore(t *testing.T) {
	svc, _ := newTransfer(t)
	env, err := svc.ExportAllProfiles(context.Background())
	if err != nil {
		t.Fatalf("ExportAllProfiles error: %v", err)
	}
	if env.Data.Profiles == nil || len(env.Data.Profiles) != 0 {
		t.Fatalf("profiles=%v, want empty array", env.Data.Profiles)
	}
	if env.Data.Settings != schema.DefaultSettings() || !codec.IsFingerprint(env.Checksum) {
		t.Fatalf("env=%+v", env)
	}

	blob, err := svc.ExportAllProfilesToBlob(context.Background())
	if err != nil {
		t.Fatalf("ExportAllProfilesToBlob error: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(blob.Data, &raw); err != nil {
		t.Fatalf("blob is not JSON: %v", err)
	}
	if profiles, ok := raw["data"].(map[string]any)["profiles"].([]any); !ok || len(profiles) != 0 {
		t.Fatalf("data.profiles=%v", raw["data"])
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	svc, repo := newTransfer(t)
	ctx := context.Background()
	p1 := testutil.SampleProfile("profile-1", "Ember", 3)
	p2 := testutil.SampleProfile("profile-2", "Frost", 9)
	p2.Sim = schema.SimClock{LastSimWallClock: 1712345678901, BgCoveredMs: 1}
	seed(t, repo, p1, p2)

	blob, err := svc.ExportAllProfilesToBlob(ctx)
	if err != nil {
		t.Fatalf("ExportAllProfilesToBlob error: %v", err)
	}
	if blob.ContentType != codec.ContentTypeJSON {
		t.Fatalf("content type %q", blob.ContentType)
	}

	// 清空后重新导入
	if err := repo.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll error: %v", err)
	}

	result, err := svc.ImportFromBlob(ctx, blob)
	if err != nil {
		t.Fatalf("ImportFromBlob error: %v", err)
	}
	if !result.Success || result.ImportedProfiles != 2 || result.Details.ValidProfiles != 2 || result.Details.TotalProfiles != 2 {
		t.Fatalf("result=%+v", result)
	}

	for _, want := range []schema.Profile{p1, p2} {
		row, err := repo.GetActiveSave(ctx, want.ID)
		if err != nil || row == nil {
			t.Fatalf("%s: GetActiveSave err=%v row=%v", want.ID, err, row)
		}
		// 每个 profile 都能解析出完整的多 profile 存档
		if len(row.Data.Profiles) != 2 {
			t.Fatalf("%s: merged save has %d profiles", want.ID, len(row.Data.Profiles))
		}
		got, ok := row.Data.FindProfile(want.ID)
		if !ok {
			t.Fatalf("%s missing from its own save", want.ID)
		}
		if got.Progress != want.Progress || got.Currencies != want.Currencies || got.Enchants != want.Enchants ||
			got.Stats != want.Stats || got.Leaderboard != want.Leaderboard || got.Sim != want.Sim {
			t.Fatalf("%s: round trip changed fields\n got=%+v\nwant=%+v", want.ID, *got, want)
		}
	}
}

func TestImportRejectsBeforeWriting(t *testing.T) {
	svc, repo := newTransfer(t)
	ctx := context.Background()

	good, err := codec.EncodeEnvelopeAt(testutil.SampleSave(testutil.SampleProfile("p", "Name", 1)), 1)
	if err != nil {
		t.Fatalf("EncodeEnvelopeAt error: %v", err)
	}
	encode := func(fn func(m map[string]any)) string {
		b, _ := codec.Marshal(good)
		var m map[string]any
		_ = json.Unmarshal(b, &m)
		fn(m)
		out, _ := json.Marshal(m)
		return string(out)
	}

	var verr *schema.ValidationError
	var vm *codec.VersionMismatchError
	var cm *codec.ChecksumMismatchError
	cases := []struct {
		name  string
		input string
		check func(error) bool
	}{
		{"malformed", "{oops", func(err error) bool { return errors.Is(err, codec.ErrMalformed) }},
		{"file version", encode(func(m map[string]any) { m["fileVersion"] = 2 }), func(err error) bool { return errors.As(err, &vm) }},
		{"empty checksum", encode(func(m map[string]any) { m["checksum"] = "" }), func(err error) bool { return errors.As(err, &cm) }},
		{"tampered", encode(func(m map[string]any) {
			m["data"].(map[string]any)["profiles"].([]any)[0].(map[string]any)["name"] = "Evil"
		}), func(err error) bool { return errors.As(err, &cm) }},
		{"schema", schemaInvalidEnvelope(t), func(err error) bool { return errors.As(err, &verr) }},
		{"save version", saveVersionEnvelope(t, good), func(err error) bool { return errors.As(err, &vm) && vm.Field == "version" }},
	}
	for _, tc := range cases {
		result, err := svc.ImportFromJSON(ctx, tc.input)
		if err == nil || !tc.check(err) {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
		if result.Success || len(result.Errors) == 0 {
			t.Fatalf("%s: result=%+v", tc.name, result)
		}
	}

	stats, _ := repo.GetDatabaseStats(ctx)
	if stats.TotalSaves != 0 || stats.TotalMeta != 0 {
		t.Fatalf("rejected imports touched storage: %+v", stats)
	}
}

// schemaInvalidEnvelope 构造指纹正确但存档含 7 个 profile 的信封
func schemaInvalidEnvelope(t *testing.T) string {
	t.Helper()
	profiles := make([]schema.Profile, 7)
	for i := range profiles {
		profiles[i] = testutil.SampleProfile(string(rune('a'+i)), "P", 1)
	}
	data := testutil.SampleSave(profiles...)
	sum, err := codec.Fingerprint(data)
	if err != nil {
		t.Fatalf("Fingerprint error: %v", err)
	}
	b, _ := json.Marshal(schema.ExportFile{FileVersion: 1, ExportedAt: 1, Checksum: sum, Data: data})
	return string(b)
}

// saveVersionEnvelope 构造指纹正确但 data.version 为 2 的信封
func saveVersionEnvelope(t *testing.T, env *schema.ExportFile) string {
	t.Helper()
	data := env.Data.Clone()
	data.Version = 2
	sum, err := codec.Fingerprint(data)
	if err != nil {
		t.Fatalf("Fingerprint error: %v", err)
	}
	b, _ := json.Marshal(schema.ExportFile{FileVersion: 1, ExportedAt: 1, Checksum: sum, Data: data})
	return string(b)
}

func TestImportEmptyEnvelopeIsNoop(t *testing.T) {
	svc, repo := newTransfer(t)
	ctx := context.Background()
	blob, err := svc.ExportAllProfilesToBlob(ctx)
	if err != nil {
		t.Fatalf("ExportAllProfilesToBlob error: %v", err)
	}
	result, err := svc.ImportFromBlob(ctx, blob)
	if err != nil || !result.Success || result.ImportedProfiles != 0 {
		t.Fatalf("err=%v result=%+v", err, result)
	}
	if ids, _ := repo.GetAllProfileIDs(ctx); len(ids) != 0 {
		t.Fatalf("ids=%v", ids)
	}
}

func TestExportProfile(t *testing.T) {
	svc, repo := newTransfer(t)
	ctx := context.Background()
	seed(t, repo, testutil.SampleProfile("p1", "One", 1), testutil.SampleProfile("p2", "Two", 2))

	env, err := svc.ExportProfile(ctx, "p2")
	if err != nil {
		t.Fatalf("ExportProfile error: %v", err)
	}
	if len(env.Data.Profiles) != 1 || env.Data.Profiles[0].ID != "p2" {
		t.Fatalf("profiles=%+v", env.Data.Profiles)
	}
	if err := codec.ValidateEnvelope(env); err != nil {
		t.Fatalf("ValidateEnvelope error: %v", err)
	}

	if _, err := svc.ExportProfile(ctx, "missing"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("err=%v, want ErrProfileNotFound", err)
	}
}

func TestValidateExportBlob(t *testing.T) {
	svc, repo := newTransfer(t)
	ctx := context.Background()
	seed(t, repo, testutil.SampleProfile("p1", "One", 1))
	svc.now = func() time.Time { return time.UnixMilli(1234) }

	blob, _ := svc.ExportAllProfilesToBlob(ctx)
	report := svc.ValidateExportBlob(blob)
	if !report.IsValid || *report.Details.FileVersion != 1 || *report.Details.ExportedAt != 1234 ||
		report.Details.Profiles != 1 || report.Details.ProfileIDs[0] != "p1" {
		t.Fatalf("report=%+v", report)
	}

	bad := svc.ValidateExportBlob(&codec.Blob{Data: []byte("nope")})
	if bad.IsValid || len(bad.Errors) != 1 || bad.Details.FileVersion != nil {
		t.Fatalf("bad report=%+v", bad)
	}
}

// ===== Fake Implementations =====

type fakeSaveRepo struct {
	failFor map[string]bool
	puts    []string
}

func (f *fakeSaveRepo) PutSaveAtomic(ctx context.Context, profileID string, save *schema.Save, opts *repository.PutOptions) (int64, error) {
	if f.failFor[profileID] {
		return 0, errors.New("disk full")
	}
	f.puts = append(f.puts, profileID)
	return int64(len(f.puts)), nil
}

func (f *fakeSaveRepo) GetActiveSave(ctx context.Context, profileID string) (*schema.SaveRow, error) {
	return nil, nil
}

func (f *fakeSaveRepo) GetAllProfileIDs(ctx context.Context) ([]string, error) { return nil, nil }

func TestImportReportsPerProfileWriteFailures(t *testing.T) {
	fake := &fakeSaveRepo{failFor: map[string]bool{"p2": true}}
	svc := NewTransferService(fake, nil)

	env, _ := codec.EncodeEnvelope(testutil.SampleSave(testutil.SampleProfile("p1", "One", 1), testutil.SampleProfile("p2", "Two", 1)))
	blob, _ := codec.ToBlob(env)
	result, err := svc.ImportFromBlob(context.Background(), blob)
	if err == nil {
		t.Fatalf("expected joined write error")
	}
	if !result.Success || result.ImportedProfiles != 1 || len(result.Details.InvalidProfiles) != 1 || result.Details.InvalidProfiles[0] != "p2" {
		t.Fatalf("result=%+v", result)
	}
	if len(fake.puts) != 1 || fake.puts[0] != "p1" {
		t.Fatalf("puts=%v", fake.puts)
	}
}
