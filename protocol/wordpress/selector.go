package wordpress

import (
	"errors"
	"sort"
)

var (
	// ErrNoViableRelease is returned when no published release with assets
	// exists.
	ErrNoViableRelease = errors.New("no viable release found")

	// ErrNoAssetForRelease is returned when an explicitly tagged release has
	// no downloadable assets.
	ErrNoAssetForRelease = errors.New("release has no downloadable assets")
)

// SelectLatest picks the most recent published release that carries at least
// one asset. Drafts, prereleases, and asset-less releases are skipped, in
// that check order.
func SelectLatest(releases []Release) (*Release, error) {
	sorted := make([]Release, len(releases))
	copy(sorted, releases)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PublishedAt.After(sorted[j].PublishedAt)
	})

	for i := range sorted {
		r := &sorted[i]
		if r.Draft {
			continue
		}
		if r.Prerelease {
			continue
		}
		if len(r.Assets) == 0 {
			continue
		}
		return r, nil
	}

	return nil, ErrNoViableRelease
}

// ValidateTagged accepts an explicitly tagged release if it has at least one
// asset. Draft and prerelease status is not checked; explicit version
// requests bypass that filter.
func ValidateTagged(release *Release) (*Release, error) {
	if len(release.Assets) == 0 {
		return nil, ErrNoAssetForRelease
	}
	return release, nil
}
