package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/onnwee/emotebot/config"
	"github.com/onnwee/emotebot/crypto"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		generateKey = false
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestEncryptTokenRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.KeyEnv, key)

	out, err := execute(t, "my-discord-token\n", "encrypt-token")
	if err != nil {
		t.Fatalf("encrypt-token: %v", err)
	}
	sealed := strings.TrimSpace(out)
	if !crypto.IsSealed(sealed) {
		t.Fatalf("output %q is not sealed", sealed)
	}
	s, err := crypto.NewSealer(key)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := s.Open(sealed)
	if err != nil || plain != "my-discord-token" {
		t.Errorf("Open() = %q, %v", plain, err)
	}
}

func TestEncryptTokenErrors(t *testing.T) {
	t.Setenv(config.KeyEnv, "")
	if _, err := execute(t, "tok\n", "encrypt-token"); err == nil {
		t.Error("expected error without a key")
	}

	key, _ := crypto.GenerateKey()
	t.Setenv(config.KeyEnv, key)
	if _, err := execute(t, "   \n", "encrypt-token"); err == nil {
		t.Error("expected error for a blank token")
	}
}

func TestGenerateKey(t *testing.T) {
	out, err := execute(t, "", "encrypt-token", "--generate-key")
	if err != nil {
		t.Fatalf("encrypt-token --generate-key: %v", err)
	}
	if _, err := crypto.NewSealer(strings.TrimSpace(out)); err != nil {
		t.Errorf("generated key is unusable: %v", err)
	}
}

func TestPrintConfigMasksSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `twitch:
  client_id: visible-id
  client_secret: hidden-secret
users:
  - name: me
    active: true
    id: "42"
    token: hidden-token
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "print-config", "--config", path)
	if err != nil {
		t.Fatalf("print-config: %v", err)
	}
	if strings.Contains(out, "hidden-") {
		t.Errorf("secrets leaked:\n%s", out)
	}
	if !strings.Contains(out, "visible-id") {
		t.Errorf("non-secret value missing:\n%s", out)
	}
}
