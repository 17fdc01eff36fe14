package transport

import "testing"

func TestURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host   string
		token  string
		secure bool
		want   string
	}{
		{"api.fuelrats.com", "", true, "wss://api.fuelrats.com"},
		{"localhost:8080", "", false, "ws://localhost:8080"},
		{"api.fuelrats.com", "abc123", true, "wss://api.fuelrats.com/?bearer=abc123"},
		{"api.fuelrats.com", "a b&c", false, "ws://api.fuelrats.com/?bearer=a+b%26c"},
	}
	for _, tt := range tests {
		if got := URI(tt.host, tt.token, tt.secure); got != tt.want {
			t.Errorf("URI(%q, %q, %v) = %q, want %q", tt.host, tt.token, tt.secure, got, tt.want)
		}
	}
}
