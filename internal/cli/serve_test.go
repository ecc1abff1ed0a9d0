package cli

import "testing"

func TestParseLSPFlag(t *testing.T) {
	lang, sd, err := parseLSPFlag("zig:zls --stdio")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lang != "zig" {
		t.Errorf("expected language 'zig', got %q", lang)
	}
	if sd.Command != "zls" {
		t.Errorf("expected command 'zls', got %q", sd.Command)
	}
	if len(sd.Args) != 1 || sd.Args[0] != "--stdio" {
		t.Errorf("expected args [--stdio], got %v", sd.Args)
	}
}

func TestParseLSPFlagRejectsMissingColon(t *testing.T) {
	if _, _, err := parseLSPFlag("zls --stdio"); err == nil {
		t.Fatal("expected an error for a value without a language: prefix")
	}
}

func TestParseLSPFlagRejectsEmptyCommand(t *testing.T) {
	if _, _, err := parseLSPFlag("zig:"); err == nil {
		t.Fatal("expected an error for an empty command")
	}
}
