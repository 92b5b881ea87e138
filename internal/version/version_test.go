package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stamp(t *testing.T, version, commit, date string) {
	t.Helper()
	v, c, d := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })
	Version, Commit, Date = version, commit, date
}

func TestInfo(t *testing.T) {
	stamp(t, "0.4.0", "9f8e7d6c5b4a", "2026-10-01")

	assert.Equal(t,
		"roundtable 0.4.0 (commit: 9f8e7d6, built: 2026-10-01, "+runtime.GOOS+"/"+runtime.GOARCH+")",
		Info())
	assert.Equal(t, "roundtable/0.4.0", UserAgent())
}

func TestFillFromBuildKeepsStampedValues(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "abcdef0123456789"},
		{Key: "vcs.time", Value: "2026-09-30T10:00:00Z"},
	}

	stamp(t, "dev", "unknown", "unknown")
	fillFromBuild(settings)
	assert.Equal(t, "abcdef0123456789", Commit)
	assert.Equal(t, "2026-09-30T10:00:00Z", Date)

	stamp(t, "1.0.0", "release", "2026-10-01")
	fillFromBuild(settings)
	assert.Equal(t, "release", Commit)
	assert.Equal(t, "2026-10-01", Date)
}

func TestShort(t *testing.T) {
	assert.Equal(t, "9f8e7d6", short("9f8e7d6c5b4a"))
	assert.Equal(t, "9f8e7d6", short("9f8e7d6"))
	assert.Equal(t, "9f", short("9f"))
	assert.Empty(t, strings.TrimSpace(short("")))
}
