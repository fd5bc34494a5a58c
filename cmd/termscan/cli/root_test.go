package cli

import (
	"fmt"
	"testing"
)

func TestRootCmdVersionIncludesCommit(t *testing.T) {
	want := fmt.Sprintf("%s (%s)", version, commit)
	if got := rootCmd.Version; got != want {
		t.Fatalf("rootCmd.Version = %q, want %q", got, want)
	}
}

func TestResolveConfigPathPrefersFlag(t *testing.T) {
	prevCfgPath := cfgPath
	cfgPath = "/somewhere/else/termscan.toml"
	t.Cleanup(func() { cfgPath = prevCfgPath })

	got, err := resolveConfigPath()
	if err != nil {
		t.Fatalf("resolve config path: %v", err)
	}
	if got != "/somewhere/else/termscan.toml" {
		t.Fatalf("unexpected path: %q", got)
	}
}
