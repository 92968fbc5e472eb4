// Package settings is the three-tier (process / user / profile) key/value
// configuration provider. It replaces the teacher's flat internal/config
// key-string getters with the tiered provider the engine needs, but keeps
// the teacher's storage-backed Get/SetString primitives as the underlying
// contract.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"project-tachyon/internal/session"
	"project-tachyon/internal/storage"
)

// Keys with well-known merge/normalize behaviour.
const (
	KeyDownloadFolder      = "download_folder"
	KeyEnabledSources      = "enabled_sources"
	KeyRDSharingMode       = "rd_sharing_mode"
	rdSharingModeShared    = "shared"
	keyTorrentMirrors      = "torrent_mirrors"
	keySearchEngineTemplates = "search_engine_templates"
	keyDirectorySeeds      = "directory_seeds"
	keyFileExtensions      = "file_extensions"
)

// rdPrefix is the key prefix routed to user storage instead of profile
// storage when the profile has opted into shared RealDebrid credentials.
const rdPrefix = "rd_"

// defaultURLLists are the baseline entries merged with any user-persisted
// customizations for the "required URL lists" settings.md calls out.
var defaultURLLists = map[string][]string{
	keyTorrentMirrors: {
		"https://1337x.to",
		"https://thepiratebay.org",
	},
	keySearchEngineTemplates: {
		"https://www.google.com/search?q={query}",
		"https://duckduckgo.com/html/?q={query}",
	},
	keyDirectorySeeds: {},
	keyFileExtensions: {
		".zip", ".rar", ".7z", ".iso", ".exe", ".msi", ".dmg", ".pkg",
	},
}

// Defaults are process-tier baseline values, merged under any persisted
// user/profile override on Get.
var Defaults = map[string]string{
	KeyDownloadFolder: "~/Downloads",
	KeyEnabledSources: "",
}

// Provider is the tiered settings store.
type Provider struct {
	store *storage.Storage

	mu      sync.RWMutex
	process map[string]string
}

// New wraps a storage backend with process-tier defaults.
func New(store *storage.Storage) *Provider {
	p := &Provider{store: store, process: make(map[string]string)}
	for k, v := range Defaults {
		p.process[k] = v
	}
	return p
}

// tierKey builds the storage key for a (tier-qualified) setting.
func (p *Provider) tierKey(ctx userContext, key string) string {
	if strings.HasPrefix(key, rdPrefix) && p.sharingIsUser(ctx) {
		return "user." + key
	}
	if ctx.ProfileID != "" {
		return fmt.Sprintf("profile.%s.%s", ctx.ProfileID, key)
	}
	return "user." + key
}

type userContext struct {
	ProfileID string
}

func (p *Provider) sharingIsUser(ctx userContext) bool {
	if ctx.ProfileID == "" {
		return true
	}
	raw, _ := p.store.GetString(fmt.Sprintf("profile.%s.%s", ctx.ProfileID, KeyRDSharingMode))
	return raw == rdSharingModeShared
}

func fromSession(sc session.Context) userContext {
	return userContext{ProfileID: sc.ProfileID}
}

// Get reads a single setting, deep-merging process defaults under any
// persisted value, and normalizing download_folder by expanding "~".
func (p *Provider) Get(sc session.Context, key string) (string, error) {
	ctx := fromSession(sc)
	val, err := p.store.GetString(p.tierKey(ctx, key))
	if err != nil {
		return "", err
	}
	if val == "" {
		p.mu.RLock()
		val = p.process[key]
		p.mu.RUnlock()
	}
	if key == KeyDownloadFolder {
		val = expandHome(val)
	}
	return val, nil
}

// Set persists a single setting value and normalizes download_folder before
// writing.
func (p *Provider) Set(sc session.Context, key, value string) error {
	if key == KeyDownloadFolder {
		value = expandHome(value)
	}
	ctx := fromSession(sc)
	return p.store.SetString(p.tierKey(ctx, key), value)
}

// GetAll returns every persisted setting for the caller's scope, merged with
// process defaults for any key the caller hasn't overridden.
func (p *Provider) GetAll(sc session.Context) (map[string]string, error) {
	raw, err := p.store.AllSettings()
	if err != nil {
		return nil, err
	}

	out := make(map[string]string)
	p.mu.RLock()
	for k, v := range p.process {
		out[k] = v
	}
	p.mu.RUnlock()

	prefix := p.tierKey(fromSession(sc), "")
	for k, v := range raw {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
		if strings.HasPrefix(k, "user.") && strings.HasPrefix(strings.TrimPrefix(k, "user."), rdPrefix) {
			out[strings.TrimPrefix(k, "user.")] = v
		}
	}
	if v, ok := out[KeyDownloadFolder]; ok {
		out[KeyDownloadFolder] = expandHome(v)
	}
	return out, nil
}

// Update applies a batch of key/value changes one key at a time through Set.
// There is no cross-key transaction: on the first failing write it returns
// that error, and keys already written stay written.
func (p *Provider) Update(sc session.Context, changes map[string]string) error {
	for k, v := range changes {
		if err := p.Set(sc, k, v); err != nil {
			return fmt.Errorf("update %s: %w", k, err)
		}
	}
	return nil
}

// Reset clears every persisted override for the caller's scope, reverting
// reads back to process defaults.
func (p *Provider) Reset(sc session.Context) error {
	all, err := p.GetAll(sc)
	if err != nil {
		return err
	}
	for k := range all {
		if err := p.Set(sc, k, ""); err != nil {
			return err
		}
	}
	return nil
}

// GetURLList returns the merged baseline+custom entries for one of the
// required source URL lists (torrent mirrors, search-engine templates,
// directory seeds, file extensions).
func (p *Provider) GetURLList(sc session.Context, listKey string) ([]string, error) {
	raw, err := p.Get(sc, listKey)
	if err != nil {
		return nil, err
	}
	base := defaultURLLists[listKey]
	if raw == "" {
		out := make([]string, len(base))
		copy(out, base)
		return out, nil
	}

	custom := strings.Split(raw, "\n")
	seen := make(map[string]bool, len(base)+len(custom))
	merged := make([]string, 0, len(base)+len(custom))
	for _, v := range base {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		merged = append(merged, v)
	}
	for _, v := range custom {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		merged = append(merged, v)
	}
	return merged, nil
}

// SetURLList persists the custom entries for a required URL list — callers
// should pass only the entries beyond the baseline; GetURLList re-merges
// them with defaults on read.
func (p *Provider) SetURLList(sc session.Context, listKey string, custom []string) error {
	sort.Strings(custom)
	return p.Set(sc, listKey, strings.Join(custom, "\n"))
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
