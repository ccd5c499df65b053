package memory

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEntityGate_Extract(t *testing.T) {
	g := NewEntityGate()
	g.Add("Elden Ring", "sote", "elden ring")
	g.Add("Miso", "the cat")

	tests := []struct {
		text string
		want []string
	}{
		{"Is SOTE worth playing?", []string{"Elden Ring"}},
		{"miso knocked over a glass and Elden Ring arrived", []string{"Elden Ring", "Miso"}},
		{"nothing to see here", nil},
		{"notesote is not a match", nil},
	}
	for _, tt := range tests {
		got := g.Extract(tt.text)
		if len(got) != len(tt.want) {
			t.Fatalf("Extract(%q) = %v, want %v", tt.text, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("Extract(%q) = %v, want %v", tt.text, got, tt.want)
			}
		}
	}
}

func TestEntityGate_EmptyGate(t *testing.T) {
	g := NewEntityGate()
	if got := g.Extract("anything at all"); got != nil {
		t.Fatalf("Extract = %v, want nil on empty gate", got)
	}
}

func TestEntityGate_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.json")
	data := `{"Elden Ring": ["sote"], "Miso": ["the cat", "kitty"]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	g := NewEntityGate()
	if err := g.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if g.Len() != 2 {
		t.Fatalf("len = %d, want 2", g.Len())
	}
	if got := g.Extract("the kitty is hungry"); len(got) != 1 || got[0] != "Miso" {
		t.Fatalf("Extract = %v", got)
	}
}

func TestEntityGate_LoadFileMissing(t *testing.T) {
	g := NewEntityGate()
	if err := g.LoadFile(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
}
