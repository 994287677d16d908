package dashboard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderMissingEnv(t *testing.T) {
	os.Unsetenv("PROMETHEUS_DATASOURCE_UID")
	if err := Render(t.TempDir()); err == nil {
		t.Fatalf("expected error for missing env vars")
	}
}

func TestRenderSuccess(t *testing.T) {
	os.Setenv("PROMETHEUS_DATASOURCE_UID", "uid1")
	defer os.Unsetenv("PROMETHEUS_DATASOURCE_UID")

	dir := t.TempDir()
	if err := Render(dir); err != nil {
		t.Fatalf("render failed: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "grafana-pushramp.json"))
	if err != nil {
		t.Fatalf("read dashboard: %v", err)
	}
	if !strings.Contains(string(b), "uid1") {
		t.Fatalf("prometheus uid not rendered")
	}
	if !strings.Contains(string(b), "pushgateway_http_requests_total") {
		t.Fatalf("push metrics missing from dashboard")
	}
}
