package version

import (
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestFingerprint(t *testing.T) {
	color.NoColor = true
	origVersion, origCommit, origDate := Version, GitCommit, BuildDate
	defer func() { Version, GitCommit, BuildDate = origVersion, origCommit, origDate }()

	Version = "1.2.3-rc.1"
	GitCommit = "1234567890abcdef"
	BuildDate = "2024-01-15"

	got := Fingerprint()
	for _, want := range []string{"modvm 1.2.3-rc.1", "(1234567890ab)", "built 2024-01-15"} {
		if !strings.Contains(got, want) {
			t.Fatalf("Fingerprint() = %q, missing %q", got, want)
		}
	}
}

func TestColoredKeepsOddVersions(t *testing.T) {
	color.NoColor = true
	orig := Version
	defer func() { Version = orig }()

	for _, v := range []string{"dev", "1.2", "0.1.0-dev"} {
		Version = v
		if got := Colored(); got != v {
			t.Errorf("Colored() = %q, want %q", got, v)
		}
	}
}
