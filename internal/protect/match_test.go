package protect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		pattern  string
		expected bool
	}{
		{"double star matches deep path", "a/b/c/d/file.go", "**/c/**", true},
		{"double star at start", "internal/auth/login.go", "**/auth/**", true},
		{"double star matches zero segments", "auth/login.go", "**/auth/**", true},
		{"double star at end", "migrations/001_init.sql", "migrations/**", true},
		{"literal match", "config/settings.yaml", "config/settings.yaml", true},
		{"single star in segment", "internal/auth_handler.go", "internal/auth*", true},
		{"star in middle", "internal/auth_handler.go", "internal/a*_*.go", true},
		{"star does not cross segments", "internal/x/auth.go", "internal/*.go", false},
		{"no match", "api/handler.go", "**/auth/**", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Match(tc.path, tc.pattern))
		})
	}
}

func TestDetector(t *testing.T) {
	d := New()

	tests := []struct {
		path     string
		expected bool
	}{
		{"internal/auth/login.go", true},
		{"db/migrations/001_create_users.sql", true},
		{"infra/terraform/main.tf", true},
		{"/home/dev/.ssh/config", true},
		{".github/workflows/ci.yml", true},
		{"config/db_password.txt", true},
		{"keys/server.PEM", true},
		{".env", true},
		{"state/prod.tfstate", true},
		{"internal/handler/api.go", false},
		{"docs/README.md", false},
		{"report.txt", false},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, d.IsProtected(tc.path))
		})
	}
}

func TestDetectorReasonAndOptions(t *testing.T) {
	d := New(WithPatterns([]string{"vendor/**"}), WithKeywords([]string{}), WithFileTypes([]string{".lock"}))

	ok, reason := d.Check("vendor/lib/a.go")
	assert.True(t, ok)
	assert.Contains(t, reason, "vendor/**")

	ok, reason = d.Check("go.lock")
	assert.True(t, ok)
	assert.Contains(t, reason, ".lock")

	assert.False(t, d.IsProtected("internal/auth/login.go"))

	d.AddPattern("**/auth/**")
	assert.True(t, d.IsProtected("internal/auth/login.go"))
}
