package coordinator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"project-tachyon/internal/model"
)

// FuzzyMergeThreshold is the minimum Jaccard similarity of two stems'
// token sets for them to be merged within the same version group. Exported
// per spec.md §9 ("should be surfaced as tunables").
var FuzzyMergeThreshold = 0.50

// HostWeights gives a per-host bonus applied when scoring an HTTP/direct
// link candidate's quality. Exported per spec.md §9.
var HostWeights = map[string]int{
	"rapidgator": 22,
	"nitroflare": 20,
	"katfile":    17,
	"ddownload":  17,
	"turbobit":   14,
	"uploadgig":  14,
	"mega.nz":    24,
	"mediafire":  18,
	"pixeldrain": 16,
	"workupload": 12,
}

var archiveInstallerExtensions = []string{
	".zip", ".rar", ".7z", ".iso", ".exe", ".msi", ".dmg", ".pkg", ".deb", ".rpm", ".apk", ".torrent",
}

// LinkQuality scores a single link candidate per spec §4.5.9.
func LinkQuality(link string, seeds, leeches int, size int64) int {
	lower := strings.ToLower(link)
	if strings.HasPrefix(lower, "magnet:") {
		q := seeds
		if q > 5000 {
			q = 5000
		}
		l := leeches
		if l > 500 {
			l = 500
		}
		return q + l/2
	}

	score := 0
	if strings.HasPrefix(lower, "https:") {
		score += 25
	}
	for _, ext := range archiveInstallerExtensions {
		if strings.HasSuffix(lower, ext) {
			score += 30
			break
		}
	}
	for _, marker := range []string{"/file/", "/download/", "/dl/"} {
		if strings.Contains(lower, marker) {
			score += 20
			break
		}
	}
	for host, bonus := range HostWeights {
		if strings.Contains(lower, host) {
			score += bonus
			break
		}
	}
	sizeBonus := float64(size) / 500_000_000
	if sizeBonus > 15 {
		sizeBonus = 15
	}
	score += int(sizeBonus)
	return score
}

var (
	bracketPattern    = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)
	nonAlnumPattern   = regexp.MustCompile(`[^a-z0-9.+ ]+`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	yearVersionPattern  = regexp.MustCompile(`20\d{2}(\.\d+)*`)
	vPrefixedVersion    = regexp.MustCompile(`v\d+(\.\d+){0,3}`)
	bareDottedVersion   = regexp.MustCompile(`\d+\.\d+(\.\d+)*`)
	pureDigitsPattern   = regexp.MustCompile(`^\d+$`)
)

var stopTokens = map[string]bool{
	"x64": true, "x86": true, "win": true, "windows": true, "mac": true,
	"linux": true, "multilingual": true, "incl": true, "keygen": true,
	"crack": true, "repack": true, "proper": true, "portable": true,
	"final": true, "build": true, "adobe": true, "microsoft": true,
	"corel": true, "apple": true,
}

// normalizeTitle lowercases, strips bracketed/parenthesized blocks, and
// collapses everything but alphanumerics/"."/"+" to spaces.
func normalizeTitle(title string) string {
	t := strings.ToLower(title)
	t = bracketPattern.ReplaceAllString(t, " ")
	t = nonAlnumPattern.ReplaceAllString(t, " ")
	t = whitespacePattern.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// extractVersion returns the first version-shaped match in a normalized
// title, or "nover" if none is found.
func extractVersion(normalized string) string {
	if m := yearVersionPattern.FindString(normalized); m != "" {
		return m
	}
	if m := vPrefixedVersion.FindString(normalized); m != "" {
		return m
	}
	if m := bareDottedVersion.FindString(normalized); m != "" {
		return m
	}
	return "nover"
}

// contentKey computes the "stem|version" grouping key for a title. ok is
// false when the stem is empty after filtering, meaning the result is
// passthrough and must not be grouped with anything else.
func contentKey(title string) (key string, ok bool) {
	normalized := normalizeTitle(title)
	version := extractVersion(normalized)

	withoutVersion := strings.Replace(normalized, version, "", 1)
	tokens := strings.Fields(withoutVersion)

	stemTokens := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if pureDigitsPattern.MatchString(tok) {
			continue
		}
		if stopTokens[tok] {
			continue
		}
		stemTokens = append(stemTokens, tok)
		if len(stemTokens) == 6 {
			break
		}
	}
	if len(stemTokens) == 0 {
		return "", false
	}
	return strings.Join(stemTokens, " ") + "|" + version, true
}

func tokenSet(stem string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(stem) {
		set[tok] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

var versionScorePattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// versionScore extracts a comparable integer score from a title's version
// marker for sorting (major*1e6 + minor*1e3 + patch).
func versionScore(title string) int {
	m := versionScorePattern.FindStringSubmatch(strings.ToLower(title))
	if m == nil {
		return 0
	}
	major := atoiSafe(m[1])
	minor := atoiSafe(m[2])
	patch := atoiSafe(m[3])
	return major*1_000_000 + minor*1_000 + patch
}

func atoiSafe(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// specificity ranks two titles for which should be kept as the merged
// group's display title: longer, with a year marker, with a vN.N marker
// wins.
func specificity(title string) int {
	score := len(title)
	lower := strings.ToLower(title)
	if yearVersionPattern.MatchString(lower) {
		score += 1000
	}
	if vPrefixedVersion.MatchString(lower) {
		score += 1000
	}
	return score
}

type cluster struct {
	stem  string
	items []model.SearchResult
}

// Aggregate merges deduplicated results into unified cross-provider items
// per spec §4.5.8. The merge is commutative under permutation of the input:
// Aggregate(perm(xs)) produces the same groups as Aggregate(xs), up to
// ordering within equivalent groups, because clustering is driven only by
// (version, jaccard similarity) and merge resolution picks winners by value
// comparisons (seeds/size/specificity), never by arrival order, except that
// the first-seen candidate in an otherwise-tied comparison keeps its slot —
// ties are already equal by the comparison, so this is not order-dependent.
func Aggregate(results []model.SearchResult) []model.SearchResult {
	byVersion := make(map[string][]*cluster)
	var versionOrder []string
	var passthrough []model.SearchResult

	for _, r := range results {
		stem, ok := contentKey(normalizeTitleKey(r.Title))
		if !ok {
			passthrough = append(passthrough, r)
			continue
		}
		parts := strings.SplitN(stem, "|", 2)
		stemPart, version := parts[0], parts[1]

		clusters, seen := byVersion[version]
		if !seen {
			versionOrder = append(versionOrder, version)
		}

		stemSet := tokenSet(stemPart)
		merged := false
		for _, c := range clusters {
			if jaccard(tokenSet(c.stem), stemSet) >= FuzzyMergeThreshold {
				c.items = append(c.items, r)
				merged = true
				break
			}
		}
		if !merged {
			clusters = append(clusters, &cluster{stem: stemPart, items: []model.SearchResult{r}})
		}
		byVersion[version] = clusters
	}

	out := make([]model.SearchResult, 0, len(results))
	for _, version := range versionOrder {
		for _, c := range byVersion[version] {
			out = append(out, mergeCluster(c.items))
		}
	}
	out = append(out, passthrough...)
	return out
}

// normalizeTitleKey exists only so contentKey (which takes a raw title) can
// be called uniformly; kept as a thin alias to document intent at call
// sites.
func normalizeTitleKey(title string) string { return title }

func mergeCluster(items []model.SearchResult) model.SearchResult {
	base := items[0]
	base.AggregatedSources = append([]string(nil), base.AggregatedSources...)
	if len(base.AggregatedSources) == 0 {
		base.AggregatedSources = []string{base.Provider}
	}
	base.LinkCandidates = buildCandidates(base)

	for _, incoming := range items[1:] {
		// Union aggregated sources, preserving order.
		already := make(map[string]bool, len(base.AggregatedSources))
		for _, s := range base.AggregatedSources {
			already[s] = true
		}
		if !already[incoming.Provider] {
			base.AggregatedSources = append(base.AggregatedSources, incoming.Provider)
		}

		base.LinkCandidates = mergeCandidates(base.LinkCandidates, buildCandidates(incoming))

		if incoming.Seeds > base.Seeds {
			base.Seeds = incoming.Seeds
			base.Leeches = incoming.Leeches
		}
		if incoming.Size > base.Size {
			base.Size = incoming.Size
		}
		if specificity(incoming.Title) > specificity(base.Title) {
			base.Title = incoming.Title
		}
	}

	sort.SliceStable(base.LinkCandidates, func(i, j int) bool {
		return base.LinkCandidates[i].Quality > base.LinkCandidates[j].Quality
	})
	if len(base.LinkCandidates) > 0 {
		top := base.LinkCandidates[0]
		base.Link = top.URL
		base.LinkQuality = top.Quality
	}

	if len(base.AggregatedSources) >= 2 {
		base.Provider = fmt.Sprintf("%s +%d", base.AggregatedSources[0], len(base.AggregatedSources)-1)
	}

	return base
}

func buildCandidates(r model.SearchResult) []model.LinkCandidate {
	if len(r.LinkCandidates) > 0 {
		return append([]model.LinkCandidate(nil), r.LinkCandidates...)
	}
	return []model.LinkCandidate{{
		URL:     r.Link,
		Source:  r.Provider,
		Quality: LinkQuality(r.Link, r.Seeds, r.Leeches, r.Size),
		Seeds:   r.Seeds,
		Leeches: r.Leeches,
		Size:    r.Size,
	}}
}

func mergeCandidates(base, incoming []model.LinkCandidate) []model.LinkCandidate {
	byURL := make(map[string]int, len(base))
	for i, c := range base {
		byURL[c.URL] = i
	}
	for _, c := range incoming {
		if idx, ok := byURL[c.URL]; ok {
			if c.Quality > base[idx].Quality {
				base[idx] = c
			}
			continue
		}
		byURL[c.URL] = len(base)
		base = append(base, c)
	}
	return base
}
