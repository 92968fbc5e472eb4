package coordinator

import (
	"sort"
	"strings"

	"project-tachyon/internal/model"
)

var qualityBonusMarkers = []struct {
	markers []string
	bonus   int
}{
	{[]string{"repack", "proper", "real"}, 10},
	{[]string{"crack", "keygen"}, 5},
	{[]string{"1080p", "4k"}, 8},
}

// qualityBonus sums the title-marker bonuses per spec §4.5.10.
func qualityBonus(title string) int {
	lower := strings.ToLower(title)
	total := 0
	for _, group := range qualityBonusMarkers {
		for _, marker := range group.markers {
			if strings.Contains(lower, marker) {
				total += group.bonus
				break
			}
		}
	}
	return total
}

// Sort orders results in place by the five-key ranking of spec §4.5.10:
// seeds desc, link quality desc, version score desc, size desc, quality
// bonus desc. Ties preserve input order.
func Sort(results []model.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Seeds != b.Seeds {
			return a.Seeds > b.Seeds
		}
		if a.LinkQuality != b.LinkQuality {
			return a.LinkQuality > b.LinkQuality
		}
		va, vb := versionScore(a.Title), versionScore(b.Title)
		if va != vb {
			return va > vb
		}
		if a.Size != b.Size {
			return a.Size > b.Size
		}
		return qualityBonus(a.Title) > qualityBonus(b.Title)
	})
}
