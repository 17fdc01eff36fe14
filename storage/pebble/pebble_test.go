package pebble

import (
	"bytes"
	"context"
	"testing"

	"github.com/fuelrats/rescue-api-go/storage"
	"github.com/fuelrats/rescue-api-go/storage/storagetest"
)

func TestPebbleStorage(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	storagetest.Run(t, s)
}

func TestPebbleStorage_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set(ctx, "board", []byte("snapshot"), storage.WithHost("api.example")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	item, err := s.Get(ctx, "board", storage.WithHost("api.example"))
	if err != nil || item == nil {
		t.Fatalf("Get after reopen = %v, %v", item, err)
	}
	if string(item.Data) != "snapshot" {
		t.Fatalf("Data = %q", item.Data)
	}
}

func TestUpperBound(t *testing.T) {
	tests := []struct {
		in, want []byte
	}{
		{[]byte("host:a:"), []byte("host:a;")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, tt := range tests {
		if got := upperBound(tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("upperBound(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
