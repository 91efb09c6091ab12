package version

import (
	"strings"
	"testing"
)

func TestFullInfoCarriesBuildFields(t *testing.T) {
	oldCommit := Commit
	Commit = "abc123"
	defer func() { Commit = oldCommit }()

	info := FullInfo()
	for _, want := range []string{"aichat " + Info(), "commit=abc123", "go=go"} {
		if !strings.Contains(info, want) {
			t.Fatalf("FullInfo() = %q, missing %q", info, want)
		}
	}
}
