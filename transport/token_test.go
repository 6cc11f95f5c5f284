package transport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileTokenRereadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("first\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	provider := FileToken{Path: path}

	tok, err := provider.Token(context.Background())
	if err != nil || tok != "first" {
		t.Fatalf("Token = %q, %v", tok, err)
	}

	if err := os.WriteFile(path, []byte("second"), 0o600); err != nil {
		t.Fatal(err)
	}
	if tok, _ := provider.Token(context.Background()); tok != "second" {
		t.Fatalf("Token after refresh = %q", tok)
	}

	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := provider.Token(context.Background()); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("err = %v, want ErrEmptyToken", err)
	}
}

func TestStaticTokenRejectsEmpty(t *testing.T) {
	if _, err := StaticToken("").Token(context.Background()); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("err = %v", err)
	}
}
