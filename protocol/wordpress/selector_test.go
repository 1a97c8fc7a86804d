package wordpress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func asset() []Asset {
	return []Asset{{
		Name:               "hello.zip",
		BrowserDownloadURL: "https://origin.example/hello.zip",
	}}
}

func TestSelectLatestFiltersInOrder(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	releases := []Release{
		{TagName: "2.0", PublishedAt: base.Add(4 * time.Hour), Draft: true, Assets: asset()},
		{TagName: "1.9", PublishedAt: base.Add(3 * time.Hour), Prerelease: true, Assets: asset()},
		{TagName: "1.8", PublishedAt: base.Add(2 * time.Hour)},
		{TagName: "1.7", PublishedAt: base.Add(time.Hour), Assets: asset()},
	}

	got, err := SelectLatest(releases)
	require.NoError(t, err)
	require.Equal(t, "1.7", got.TagName)
}

func TestSelectLatestPicksMostRecent(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// input deliberately unsorted
	releases := []Release{
		{TagName: "1.0", PublishedAt: base, Assets: asset()},
		{TagName: "3.0", PublishedAt: base.Add(2 * time.Hour), Assets: asset()},
		{TagName: "2.0", PublishedAt: base.Add(time.Hour), Assets: asset()},
	}

	got, err := SelectLatest(releases)
	require.NoError(t, err)
	require.Equal(t, "3.0", got.TagName)
}

func TestSelectLatestNoneViable(t *testing.T) {
	releases := []Release{
		{TagName: "1.0", Draft: true, Assets: asset()},
		{TagName: "0.9", Prerelease: true, Assets: asset()},
		{TagName: "0.8"},
	}

	_, err := SelectLatest(releases)
	require.ErrorIs(t, err, ErrNoViableRelease)
}

func TestSelectLatestEmptyInput(t *testing.T) {
	_, err := SelectLatest(nil)
	require.ErrorIs(t, err, ErrNoViableRelease)
}

func TestSelectLatestDoesNotMutateInput(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	releases := []Release{
		{TagName: "1.0", PublishedAt: base, Assets: asset()},
		{TagName: "2.0", PublishedAt: base.Add(time.Hour), Assets: asset()},
	}

	_, err := SelectLatest(releases)
	require.NoError(t, err)
	require.Equal(t, "1.0", releases[0].TagName)
}

func TestValidateTaggedDraftBypass(t *testing.T) {
	// explicit version requests bypass the draft/prerelease filter
	release := &Release{TagName: "2.0-beta", Draft: true, Prerelease: true, Assets: asset()}

	got, err := ValidateTagged(release)
	require.NoError(t, err)
	require.Equal(t, "2.0-beta", got.TagName)
}

func TestValidateTaggedNoAssets(t *testing.T) {
	_, err := ValidateTagged(&Release{TagName: "1.0"})
	require.ErrorIs(t, err, ErrNoAssetForRelease)
}

func TestReleaseDownloadURL(t *testing.T) {
	r := Release{Assets: []Asset{
		{BrowserDownloadURL: "https://origin.example/first.zip"},
		{BrowserDownloadURL: "https://origin.example/second.zip"},
	}}
	require.Equal(t, "https://origin.example/first.zip", r.DownloadURL())

	empty := Release{}
	require.Empty(t, empty.DownloadURL())
}
