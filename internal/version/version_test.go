package version

import (
	"runtime"
	"testing"
)

func TestString(t *testing.T) {
	Version, Commit, BuildTime = "1.2.0", "abc1234", "2026-10-01T00:00:00Z"
	defer func() { Version, Commit, BuildTime = "dev", "unknown", "unknown" }()

	want := "fpserver 1.2.0 (abc1234) built 2026-10-01T00:00:00Z"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	info := Get()
	if info.Version != "1.2.0" || info.Commit != "abc1234" {
		t.Errorf("Get() = %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
}
