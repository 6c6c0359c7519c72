package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestResolve_FallsBackToVCSSettings(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-05-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	got := resolve(bi)
	if got.Version != "v0.4.0" || got.Commit != "0123456" || got.BuildDate != "2026-05-01T10:00:00Z" || !got.Modified {
		t.Errorf("unexpected info: %+v", got)
	}
}

func TestResolve_LdflagsWin(t *testing.T) {
	oldV, oldC := Version, Commit
	Version, Commit = "v1.2.3", "abc1234"
	t.Cleanup(func() { Version, Commit = oldV, oldC })

	got := resolve(&debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffffffffff"}},
	})
	if got.Version != "v1.2.3" || got.Commit != "abc1234" {
		t.Errorf("ldflags values overridden: %+v", got)
	}
}

func TestString(t *testing.T) {
	if s := String(); !strings.HasPrefix(s, "bookinsight ") || !strings.Contains(s, "go1") {
		t.Errorf("String() = %q", s)
	}
}
