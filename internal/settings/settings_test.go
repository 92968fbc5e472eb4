package settings

import (
	"testing"

	"project-tachyon/internal/session"
	"project-tachyon/internal/storage"
)

func newTestProvider(t *testing.T) *Provider {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func TestGetFallsBackToProcessDefault(t *testing.T) {
	p := newTestProvider(t)
	sc := session.Context{}

	val, err := p.Get(sc, KeyDownloadFolder)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val == "" || val == "~/Downloads" {
		t.Errorf("expected ~ expansion on default, got %q", val)
	}
}

func TestSetOverridesDefault(t *testing.T) {
	p := newTestProvider(t)
	sc := session.Context{UserID: "u1"}

	if err := p.Set(sc, "custom_key", "custom_value"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, err := p.Get(sc, "custom_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "custom_value" {
		t.Errorf("got %q", val)
	}
}

func TestProfileScopingIsolatesValues(t *testing.T) {
	p := newTestProvider(t)
	scA := session.Context{ProfileID: "profile-a"}
	scB := session.Context{ProfileID: "profile-b"}

	p.Set(scA, "nickname", "alpha")
	p.Set(scB, "nickname", "beta")

	valA, _ := p.Get(scA, "nickname")
	valB, _ := p.Get(scB, "nickname")
	if valA != "alpha" || valB != "beta" {
		t.Errorf("expected isolated profile values, got A=%q B=%q", valA, valB)
	}
}

func TestRDSharedRoutesToUserTier(t *testing.T) {
	p := newTestProvider(t)
	sc := session.Context{ProfileID: "profile-a"}

	// Opt the profile into shared RealDebrid credentials.
	p.Set(sc, KeyRDSharingMode, rdSharingModeShared)
	p.Set(sc, "rd_api_token", "token-123")

	// A different profile with the same sharing opt-in should see the same
	// token, because both route to the user tier.
	sc2 := session.Context{ProfileID: "profile-b"}
	p.Set(sc2, KeyRDSharingMode, rdSharingModeShared)

	val, err := p.Get(sc2, "rd_api_token")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "token-123" {
		t.Errorf("expected shared rd_ key to be visible across profiles, got %q", val)
	}
}

func TestGetURLListMergesBaselineAndCustom(t *testing.T) {
	p := newTestProvider(t)
	sc := session.Context{}

	base, err := p.GetURLList(sc, keyFileExtensions)
	if err != nil {
		t.Fatalf("GetURLList: %v", err)
	}
	if len(base) == 0 {
		t.Fatal("expected non-empty baseline file extensions")
	}

	if err := p.SetURLList(sc, keyFileExtensions, []string{".flac"}); err != nil {
		t.Fatalf("SetURLList: %v", err)
	}

	merged, err := p.GetURLList(sc, keyFileExtensions)
	if err != nil {
		t.Fatalf("GetURLList after custom: %v", err)
	}
	if len(merged) != len(base)+1 {
		t.Errorf("expected baseline + 1 custom entry, got %d entries: %v", len(merged), merged)
	}
}

func TestDownloadFolderExpandsHome(t *testing.T) {
	p := newTestProvider(t)
	sc := session.Context{}

	if err := p.Set(sc, KeyDownloadFolder, "~/Games"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, err := p.Get(sc, KeyDownloadFolder)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val == "~/Games" {
		t.Error("expected ~ to be expanded")
	}
}
