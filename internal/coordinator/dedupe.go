package coordinator

import "project-tachyon/internal/model"

// Dedupe collapses duplicate results. Torrent results (non-empty infohash)
// are keyed by infohash, keeping the entry with the higher seed count on
// collision. Non-torrent results are keyed by lowercased primary link,
// falling back to lowercased title, keeping the first occurrence. The
// output is torrent-entries followed by non-torrent-entries, each group in
// insertion order — making Dedupe idempotent: Dedupe(Dedupe(xs)) == Dedupe(xs).
func Dedupe(results []model.SearchResult) []model.SearchResult {
	torrentOrder := make([]string, 0)
	torrents := make(map[string]model.SearchResult)

	nonTorrentOrder := make([]string, 0)
	nonTorrents := make(map[string]model.SearchResult)

	for _, r := range results {
		if r.Infohash != "" {
			key := r.IdentityKey()
			existing, seen := torrents[key]
			if !seen {
				torrentOrder = append(torrentOrder, key)
				torrents[key] = r
				continue
			}
			if r.Seeds > existing.Seeds {
				torrents[key] = r
			}
			continue
		}

		key := r.IdentityKey()
		if _, seen := nonTorrents[key]; !seen {
			nonTorrentOrder = append(nonTorrentOrder, key)
			nonTorrents[key] = r
		}
	}

	out := make([]model.SearchResult, 0, len(torrentOrder)+len(nonTorrentOrder))
	for _, k := range torrentOrder {
		out = append(out, torrents[k])
	}
	for _, k := range nonTorrentOrder {
		out = append(out, nonTorrents[k])
	}
	return out
}
