package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yangjarod117/webssh/internal/config"
	"github.com/yangjarod117/webssh/internal/database"
	"github.com/yangjarod117/webssh/internal/vault"
)

const testKeyHex = "6b6579206b6579206b6579206b6579206b6579206b6579206b65792031323334"

func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("WEBSSH_DATABASE_PATH", filepath.Join(dir, "webssh.db"))
	t.Setenv("WEBSSH_ENCRYPTION_KEY", testKeyHex)
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	cmd := newRootCmd()
	for _, path := range [][]string{
		{"serve"},
		{"vault", "list"},
		{"vault", "rekey"},
		{"vault", "reconcile"},
		{"vault", "import"},
	} {
		found, _, err := cmd.Find(path)
		if err != nil || found.Name() != path[len(path)-1] {
			t.Errorf("command %v not registered (err=%v)", path, err)
		}
	}
}

func TestVaultImportReconcileAndList(t *testing.T) {
	dir := setupCLI(t)

	importPath := filepath.Join(dir, "connections.yaml")
	yaml := "connections:\n  - id: web-1\n    host: 10.0.0.5\n    username: deploy\n"
	if err := os.WriteFile(importPath, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	out, err := runCLI(t, "vault", "import", importPath)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "Imported 1 connection(s)") {
		t.Errorf("import output = %q", out)
	}

	// Seed a credential without a saved connection.
	config.Load()
	v, err := openVault()
	if err != nil {
		t.Fatalf("openVault: %v", err)
	}
	err = v.Save("db-1", vault.Config{Host: "10.0.0.9", Username: "admin", Password: "hunter2"})
	database.Close()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err = runCLI(t, "vault", "reconcile")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !strings.Contains(out, "Created 1 saved connection(s)") {
		t.Errorf("reconcile output = %q", out)
	}

	out, err = runCLI(t, "vault", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "admin@10.0.0.9:22") || !strings.Contains(out, "password") {
		t.Errorf("list output = %q", out)
	}
	if strings.Contains(out, "hunter2") {
		t.Error("list must not print secrets")
	}

	out, err = runCLI(t, "vault", "rekey")
	if err != nil {
		t.Fatalf("rekey: %v", err)
	}
	if !strings.Contains(out, "Re-encrypted 0 credential(s)") {
		t.Errorf("rekey output = %q", out)
	}
}

func TestVaultRekeyRequiresKey(t *testing.T) {
	setupCLI(t)
	t.Setenv("WEBSSH_ENCRYPTION_KEY", "")

	if _, err := runCLI(t, "vault", "rekey"); err == nil {
		t.Fatal("rekey without an encryption key should fail")
	}
}

func TestSecretFlags(t *testing.T) {
	tests := []struct {
		info vault.CredentialInfo
		want string
	}{
		{vault.CredentialInfo{}, "-"},
		{vault.CredentialInfo{HasPassword: true}, "password"},
		{vault.CredentialInfo{HasPrivateKey: true, HasPassphrase: true}, "key,passphrase"},
	}
	for _, tt := range tests {
		if got := secretFlags(tt.info); got != tt.want {
			t.Errorf("secretFlags(%+v) = %q, want %q", tt.info, got, tt.want)
		}
	}
}
