package cli

import "testing"

func TestRootCommandMetadata(t *testing.T) {
	if rootCmd.Use != "catenary" {
		t.Errorf("expected Use to be 'catenary', got %q", rootCmd.Use)
	}
	if !rootCmd.SilenceUsage || !rootCmd.SilenceErrors {
		t.Error("expected SilenceUsage and SilenceErrors both set")
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	want := []string{"serve", "list", "monitor", "doctor", "acquire", "release", "track-read", "notify", "sync-roots"}
	got := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		got[c.Name()] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("expected subcommand %q to be registered", name)
		}
	}
}

func TestRootCommandDefaultsToServe(t *testing.T) {
	if rootCmd.RunE == nil {
		t.Fatal("expected rootCmd.RunE to be set so a bare invocation runs serve")
	}
}
