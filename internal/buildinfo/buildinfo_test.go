package buildinfo

import (
	"strings"
	"testing"
)

func TestCurrentUsesOverrides(t *testing.T) {
	oldVersion, oldCommit, oldDate := Version, CommitHash, BuildDate
	defer func() {
		Version, CommitHash, BuildDate = oldVersion, oldCommit, oldDate
	}()

	Version = "v1.2.3"
	CommitHash = "abc1234def5678aa"
	BuildDate = "2026-02-12T10:11:12Z"

	info := Current()
	if info.Version != "v1.2.3" {
		t.Fatalf("version = %q", info.Version)
	}
	if info.BuildDate != "2026-02-12 10:11:12 UTC" {
		t.Fatalf("build date = %q", info.BuildDate)
	}
	if s := info.String(); !strings.Contains(s, "abc1234def56,") {
		t.Fatalf("String() = %q, want shortened commit", s)
	}
}

func TestCurrentPopulatesUnknowns(t *testing.T) {
	oldVersion, oldCommit, oldDate := Version, CommitHash, BuildDate
	defer func() {
		Version, CommitHash, BuildDate = oldVersion, oldCommit, oldDate
	}()

	Version, CommitHash, BuildDate = "", "", ""

	info := Current()
	if info.Version == "" || info.CommitHash == "" || info.BuildDate == "" {
		t.Fatalf("Current() left empty fields: %+v", info)
	}
}
