package registry

import "testing"

func TestAllReturnsSortedByID(t *testing.T) {
	all := All()
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Fatalf("expected sorted output, got %q before %q", all[i-1].ID, all[i].ID)
		}
	}
}

func TestByIDKnownLanguage(t *testing.T) {
	info, ok := ByID("go")
	if !ok {
		t.Fatal("expected go to be a known language")
	}
	if info.DefaultCommand != "gopls" {
		t.Errorf("expected default command 'gopls', got %q", info.DefaultCommand)
	}
}

func TestByIDUnknownLanguage(t *testing.T) {
	if _, ok := ByID("cobol"); ok {
		t.Fatal("expected cobol to be unknown")
	}
}

func TestDetectByExtension(t *testing.T) {
	if got := DetectByExtension(".rs"); got != "rust" {
		t.Errorf("expected 'rust', got %q", got)
	}
	if got := DetectByExtension(".unknown"); got != "" {
		t.Errorf("expected empty string for an unknown extension, got %q", got)
	}
}
