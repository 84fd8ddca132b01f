package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func reset(t *testing.T, v, c, d string) {
	t.Helper()
	oldV, oldC, oldD := Version, Commit, Date
	Version, Commit, Date = v, c, d
	t.Cleanup(func() { Version, Commit, Date = oldV, oldC, oldD })
}

func TestApply(t *testing.T) {
	stamped := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	tests := []struct {
		name                string
		info                *debug.BuildInfo
		version, commit     string
		wantVersion, wantCm string
		wantDate            string
	}{
		{
			name: "go install build", info: stamped,
			version: "dev", commit: "none",
			wantVersion: "v0.4.1", wantCm: "0123456-dirty", wantDate: "2026-01-02T03:04:05Z",
		},
		{
			name: "ldflags win", info: stamped,
			version: "v1.0.0", commit: "abc1234",
			wantVersion: "v1.0.0", wantCm: "abc1234", wantDate: "2026-01-02T03:04:05Z",
		},
		{
			name:    "devel checkout",
			info:    &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}},
			version: "dev", commit: "none",
			wantVersion: "dev", wantCm: "none", wantDate: "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reset(t, tt.version, tt.commit, "unknown")
			apply(tt.info)
			assert.Equal(t, tt.wantVersion, Version)
			assert.Equal(t, tt.wantCm, Commit)
			assert.Equal(t, tt.wantDate, Date)
		})
	}
}

func TestInfo(t *testing.T) {
	reset(t, "v0.4.1", "0123456", "2026-01-02")
	assert.Contains(t, Info(), "loam v0.4.1 (commit: 0123456, built: 2026-01-02)")
	assert.Equal(t, "v0.4.1", Short())
}
