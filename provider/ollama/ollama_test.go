package ollama

import "testing"

func TestParseHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "http://127.0.0.1:11434"},
		{"192.168.1.50", "http://192.168.1.50:11434"},
		{"192.168.1.50:9000", "http://192.168.1.50:9000"},
		{"http://vault.local:11434", "http://vault.local:11434"},
		{"https://vault.local", "https://vault.local:11434"},
	}
	for _, tt := range tests {
		u, err := parseHost(tt.in)
		if err != nil {
			t.Fatalf("parseHost(%q): %v", tt.in, err)
		}
		if got := u.Scheme + "://" + u.Host; got != tt.want {
			t.Errorf("parseHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew_InvalidHost(t *testing.T) {
	if _, err := New("http://bad host", "m"); err == nil {
		t.Fatal("expected error for invalid host")
	}
}
