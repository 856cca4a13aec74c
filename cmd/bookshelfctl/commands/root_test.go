package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
port: "8080"
databaseDriver: "sqlite"
databaseURL: %q
uploadFolder: %q
sessionSecret: "0123456789abcdef0123456789abcdef"
redisAddr: "localhost:6379"
`, filepath.Join(dir, "bookshelf.db"), filepath.Join(dir, "images"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestGenreAddAndList(t *testing.T) {
	cfg := writeTestConfig(t)
	if out, err := run(t, cfg, "genre", "add", "Роман"); err != nil {
		t.Fatalf("genre add: %v\n%s", err, out)
	}
	if _, err := run(t, cfg, "genre", "add", "Роман"); err == nil {
		t.Fatal("duplicate genre accepted")
	}
	out, err := run(t, cfg, "genre", "list")
	if err != nil {
		t.Fatalf("genre list: %v", err)
	}
	if !strings.Contains(out, "Роман") {
		t.Fatalf("list output = %q", out)
	}
}

func TestUserAddAndList(t *testing.T) {
	cfg := writeTestConfig(t)
	out, err := run(t, cfg, "user", "add",
		"--login", "ivanov",
		"--password", "Str0ng!Passw0rd",
		"--last-name", "Иванов",
		"--first-name", "Иван",
		"--role", "moderator",
	)
	if err != nil {
		t.Fatalf("user add: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Модератор") {
		t.Fatalf("add output = %q", out)
	}
	if _, err := run(t, cfg, "user", "add", "--login", "weak", "--password", "short", "--last-name", "A", "--first-name", "B"); err == nil {
		t.Fatal("weak password accepted")
	}
	out, err = run(t, cfg, "user", "list")
	if err != nil {
		t.Fatalf("user list: %v", err)
	}
	if !strings.Contains(out, "ivanov") || strings.Contains(out, "weak") {
		t.Fatalf("list output = %q", out)
	}
}

func TestImagesReconcile(t *testing.T) {
	cfg := writeTestConfig(t)
	images := filepath.Join(filepath.Dir(cfg), "images")
	if err := os.MkdirAll(images, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(images, "stray.png"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	out, err := run(t, cfg, "images", "reconcile", "--delete")
	if err != nil {
		t.Fatalf("reconcile with default min age: %v", err)
	}
	if strings.Contains(out, "stray.png") || !strings.Contains(out, "removed 0 orphaned blobs") {
		t.Fatalf("fresh blob should be skipped, output = %q", out)
	}

	out, err = run(t, cfg, "images", "reconcile", "--min-age", "0s")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !strings.Contains(out, "stray.png") || !strings.Contains(out, "found 1 orphaned blobs") {
		t.Fatalf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(images, "stray.png")); err != nil {
		t.Fatalf("stray removed without --delete: %v", err)
	}

	out, err = run(t, cfg, "images", "reconcile", "--delete", "--min-age", "0s")
	if err != nil {
		t.Fatalf("reconcile --delete: %v", err)
	}
	if !strings.Contains(out, "removed 1 orphaned blobs") {
		t.Fatalf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(images, "stray.png")); !os.IsNotExist(err) {
		t.Fatalf("stray still present: %v", err)
	}
}
