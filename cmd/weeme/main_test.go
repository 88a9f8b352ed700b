package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

// setupCLI points every command at a fresh store and a fake scan service.
func setupCLI(t *testing.T) {
	t.Helper()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"report":{"score":64,"positives":["title"],"negatives":["no sitemap"],"suggestions":[]}}`)
	}))
	t.Cleanup(api.Close)

	t.Setenv("WEEME_DB_PATH", filepath.Join(t.TempDir(), "weeme.db"))
	t.Setenv("WEEME_API_BASE", api.URL)
	t.Setenv("WEEME_LOG_LEVEL", "error")
	t.Setenv("WEEME_KV_BACKEND", "sqlite")
	t.Setenv("WEEME_REMOTE_URL", "")
	t.Setenv("WEEME_REMOTE_KEY", "")
	t.Setenv("WEEME_S3_BUCKET", "")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("weeme %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestAccountLifecycle(t *testing.T) {
	setupCLI(t)

	out := mustRun(t, "register", "alice", "--email", "alice@example.com", "--password", "secret1")
	if !strings.Contains(out, "alice@example.com") {
		t.Errorf("register output missing email:\n%s", out)
	}

	out = mustRun(t, "whoami")
	if !strings.Contains(out, "alice") {
		t.Errorf("whoami output = %q", out)
	}

	out = mustRun(t, "credits", "--set", "3")
	if !strings.Contains(out, "alice has 3 credits") {
		t.Errorf("credits --set output = %q", out)
	}
	out = mustRun(t, "credits", "--add=-10")
	if !strings.Contains(out, "alice has 0 credits") {
		t.Errorf("credits should clamp at zero, got %q", out)
	}

	if _, err := runCLI(t, "credits", "--set", "1", "--add", "1"); err == nil {
		t.Error("expected error when both --set and --add are given")
	}

	out = mustRun(t, "upgrade", "Pro")
	if !strings.Contains(out, "Pro") || !strings.Contains(out, "unlimited scans") {
		t.Errorf("upgrade output = %q", out)
	}

	mustRun(t, "logout")
	if _, err := runCLI(t, "whoami"); !errors.Is(err, errNotSignedIn) {
		t.Errorf("whoami after logout: err = %v, want errNotSignedIn", err)
	}

	// The account survives logout and can sign back in.
	out = mustRun(t, "login", "alice", "--password", "secret1")
	if !strings.Contains(out, "Pro") {
		t.Errorf("login should restore the upgraded account, got %q", out)
	}
}

func TestScanAndRecords(t *testing.T) {
	setupCLI(t)
	mustRun(t, "register", "bob", "--email", "bob@example.com", "--password", "secret1")
	mustRun(t, "credits", "--set", "2")

	out := mustRun(t, "scan", "https://example.com")
	if !strings.Contains(out, "score 64/100") {
		t.Errorf("scan output = %q", out)
	}
	if !strings.Contains(out, "1 credits left") {
		t.Errorf("scan should charge one credit, got %q", out)
	}

	out = mustRun(t, "reports")
	if !strings.Contains(out, "https://example.com") {
		t.Errorf("reports output = %q", out)
	}

	out = mustRun(t, "stats")
	if !strings.Contains(out, "TOTAL SCANS") && !strings.Contains(out, "Total scans") {
		t.Errorf("stats output = %q", out)
	}

	out = mustRun(t, "tracking", "add", "https://example.com", "--frequency", "monthly")
	if !strings.Contains(out, "<script") {
		t.Errorf("tracking add should print a snippet, got %q", out)
	}
	if _, err := runCLI(t, "tracking", "add", "https://example.com", "--frequency", "hourly"); err == nil {
		t.Error("expected error for unknown frequency")
	}

	out = mustRun(t, "tracking", "list")
	if !strings.Contains(out, "https://example.com") {
		t.Errorf("tracking list output = %q", out)
	}
}

func TestScanRequiresSession(t *testing.T) {
	setupCLI(t)
	if _, err := runCLI(t, "scan", "https://example.com"); err == nil {
		t.Fatal("expected scan without a session to fail")
	}
}

func TestPackagesAndBuy(t *testing.T) {
	setupCLI(t)

	out := mustRun(t, "packages")
	for _, key := range []string{"credits", "pro", "advanced"} {
		if !strings.Contains(out, key) {
			t.Errorf("packages output missing %q:\n%s", key, out)
		}
	}

	if _, err := runCLI(t, "buy", "credits"); !errors.Is(err, errNotSignedIn) {
		t.Errorf("buy without session: err = %v, want errNotSignedIn", err)
	}

	mustRun(t, "register", "carol", "--email", "carol@example.com", "--password", "secret1")
	mustRun(t, "credits", "--set", "0")
	out = mustRun(t, "buy", "credits")
	if !strings.Contains(out, "50") {
		t.Errorf("buy credits output = %q", out)
	}
	if _, err := runCLI(t, "buy", "gold"); err == nil {
		t.Error("expected error for unknown package")
	}
}

func TestBackupRequiresPassphrase(t *testing.T) {
	setupCLI(t)
	t.Setenv(passphraseEnv, "")
	if _, err := runCLI(t, "backup", "run"); err == nil || !strings.Contains(err.Error(), "passphrase") {
		t.Errorf("err = %v, want passphrase error", err)
	}
}

func TestConfigShowsSettings(t *testing.T) {
	setupCLI(t)
	out := mustRun(t, "config")
	if !strings.Contains(out, "sqlite") {
		t.Errorf("config output = %q", out)
	}
}
