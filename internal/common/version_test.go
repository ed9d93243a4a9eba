package common

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyVersionFile(t *testing.T) {
	oldV, oldB, oldC := Version, Build, GitCommit
	t.Cleanup(func() { Version, Build, GitCommit = oldV, oldB, oldC })

	Version, Build, GitCommit = "dev", "unknown", "abc123"
	applyVersionFile(strings.NewReader(`
# written by the release script
version: 1.4.0
build: 2024-03-01T10:00:00Z
commit: def456
garbage line
`))

	assert.Equal(t, "1.4.0", Version)
	assert.Equal(t, "2024-03-01T10:00:00Z", Build, "values containing colons keep everything after the first")
	assert.Equal(t, "abc123", GitCommit, "ldflags values are not overridden")
	assert.Equal(t, "1.4.0 (build: 2024-03-01T10:00:00Z, commit: abc123)", GetFullVersion())

	info := Info()
	assert.Equal(t, "1.4.0", info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestIsFreshAt(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, IsFreshAt(time.Time{}, FreshnessExchangeSync, now), "zero time is never fresh")
	assert.False(t, IsFreshAt(now.Add(-FreshnessExchangeSync), FreshnessExchangeSync, now))
	assert.True(t, IsFreshAt(now.Add(-time.Minute), FreshnessExchangeSync, now))
	assert.False(t, IsFresh(now.AddDate(-1, 0, 0), FreshnessExchangeSync))
}
