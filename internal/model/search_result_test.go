package model

import "testing"

func TestNormalizeSize(t *testing.T) {
	cases := map[string]int64{
		"1.5 GiB": 1_610_612_736,
		"1.5 GB":  1_500_000_000,
		"garbage": 0,
		"4096":    4096,
	}
	for input, want := range cases {
		if got := NormalizeSize(input); got != want {
			t.Errorf("NormalizeSize(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestFormatSizeNormalizeSizeRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1024, 1_500_000_000, 1_610_612_736} {
		formatted := FormatSize(n)
		again := FormatSize(NormalizeSize(formatted))
		if formatted != again {
			t.Errorf("round trip mismatch: FormatSize(%d) = %q, reformat = %q", n, formatted, again)
		}
	}
}

func TestExtractInfohash(t *testing.T) {
	uri := "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=test"
	if got := ExtractInfohash(uri); got != "0123456789ABCDEF0123456789ABCDEF01234567" {
		t.Errorf("ExtractInfohash = %q", got)
	}
	if got := ExtractInfohash("https://example.com/file.zip"); got != "" {
		t.Errorf("expected empty infohash, got %q", got)
	}
}

func TestSynthesizeMagnet(t *testing.T) {
	m := SynthesizeMagnet("0123456789abcdef0123456789abcdef01234567", "Acme Synth")
	if ExtractInfohash(m) != "0123456789ABCDEF0123456789ABCDEF01234567" {
		t.Errorf("synthesized magnet does not round-trip through ExtractInfohash: %s", m)
	}
}

func TestIsTorrentReference(t *testing.T) {
	cases := map[string]bool{
		"https://host/file.torrent":            true,
		"https://host/dl.php?t=123":             true,
		"https://host/download.php?id=9":        true,
		"https://host/viewtopic.php?t=5":        true,
		"https://host/direct/file.zip":          false,
	}
	for url, want := range cases {
		if got := IsTorrentReference(url); got != want {
			t.Errorf("IsTorrentReference(%q) = %v, want %v", url, got, want)
		}
	}
}

func TestIdentityKey(t *testing.T) {
	torrent := SearchResult{Infohash: "abc0123456789abcdef0123456789abcdef0123"}
	if torrent.IdentityKey() != "ABC0123456789ABCDEF0123456789ABCDEF0123" {
		t.Errorf("expected uppercase infohash identity, got %s", torrent.IdentityKey())
	}
	direct := SearchResult{Link: "HTTPS://Example.com/File.zip"}
	if direct.IdentityKey() != "https://example.com/file.zip" {
		t.Errorf("expected lowercased URL identity, got %s", direct.IdentityKey())
	}
}
