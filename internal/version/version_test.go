package version

import (
	"strings"
	"testing"
)

func TestCurrentDefaults(t *testing.T) {
	info := Current()

	if info.Version == "" || info.Commit == "" || info.BuiltAt == "" {
		t.Fatalf("build info must have defaults: %+v", info)
	}
}

func TestBuildInfoString(t *testing.T) {
	s := BuildInfo{Version: "v1.2.3", Commit: "abc1234", BuiltAt: "2026-08-29"}.String()

	for _, part := range []string{"version=v1.2.3", "commit=abc1234", "built_at=2026-08-29"} {
		if !strings.Contains(s, part) {
			t.Fatalf("formatted info %q is missing %q", s, part)
		}
	}
}
