package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assetsync.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTOMLLoader_Load(t *testing.T) {
	path := writeTOML(t, `
[watch]
debounce = "50ms"
ignore = ["node_modules/", "*.log"]

[output]
max_channels = 32
`)

	config, err := NewTOMLLoader(nil, path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	watch, ok := config["watch"].(map[string]any)
	if !ok {
		t.Fatal("expected watch to be a map")
	}
	if watch["debounce"] != "50ms" {
		t.Errorf("debounce = %v, want '50ms'", watch["debounce"])
	}
	ignore, ok := watch["ignore"].([]any)
	if !ok || len(ignore) != 2 {
		t.Errorf("ignore = %v (%T), want 2 patterns", watch["ignore"], watch["ignore"])
	}

	if val, ok := GetByPath(config, "output.max_channels"); !ok || val != int64(32) {
		t.Errorf("max_channels = %v (%T), want 32", val, val)
	}
}

func TestTOMLLoader_LoadNonExistent(t *testing.T) {
	config, err := NewTOMLLoader(nil, filepath.Join(t.TempDir(), "missing.toml")).Load()
	if err != nil {
		t.Fatalf("expected no error for non-existent file, got: %v", err)
	}
	if config != nil {
		t.Error("expected nil config for non-existent file")
	}
}

func TestTOMLLoader_LoadInvalid(t *testing.T) {
	path := writeTOML(t, "[watch]\ndebounce = \"1s\"\nignore = [\n")

	_, err := NewTOMLLoader(nil, path).Load()
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T (%v)", err, err)
	}
	if parseErr.Path != path {
		t.Errorf("Path = %q, want %q", parseErr.Path, path)
	}
	if parseErr.Line < 3 {
		t.Errorf("Line = %d, want the position of the unterminated array", parseErr.Line)
	}
}

func TestDeepMerge(t *testing.T) {
	tests := []struct {
		name string
		dst  map[string]any
		src  map[string]any
		want map[string]any
	}{
		{
			name: "nil dst",
			dst:  nil,
			src:  map[string]any{"a": 1},
			want: map[string]any{"a": 1},
		},
		{
			name: "nil src",
			dst:  map[string]any{"a": 1},
			src:  nil,
			want: map[string]any{"a": 1},
		},
		{
			name: "override scalar",
			dst:  map[string]any{"a": 1},
			src:  map[string]any{"a": 2},
			want: map[string]any{"a": 2},
		},
		{
			name: "merge sections",
			dst: map[string]any{
				"watch": map[string]any{"debounce": "50ms", "ignore": "dist/"},
			},
			src: map[string]any{
				"watch": map[string]any{"debounce": "200ms"},
				"log":   map[string]any{"level": "debug"},
			},
			want: map[string]any{
				"watch": map[string]any{"debounce": "200ms", "ignore": "dist/"},
				"log":   map[string]any{"level": "debug"},
			},
		},
		{
			name: "map replaces scalar",
			dst:  map[string]any{"log": "debug"},
			src:  map[string]any{"log": map[string]any{"level": "warn"}},
			want: map[string]any{"log": map[string]any{"level": "warn"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeepMerge(tt.dst, tt.src)
			if !mapsEqual(got, tt.want) {
				t.Errorf("DeepMerge() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeepMerge_DoesNotAliasSource(t *testing.T) {
	file := map[string]any{"watch": map[string]any{"debounce": "50ms"}}
	env := map[string]any{"watch": map[string]any{"debounce": "10ms"}}

	merged := DeepMerge(nil, file)
	merged = DeepMerge(merged, env)

	if v, _ := GetByPath(merged, "watch.debounce"); v != "10ms" {
		t.Errorf("merged debounce = %v, want 10ms", v)
	}
	if v, _ := GetByPath(file, "watch.debounce"); v != "50ms" {
		t.Errorf("source map modified: debounce = %v, want 50ms", v)
	}
}

// mapsEqual compares two maps for equality (simple version for tests).
func mapsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok {
			return false
		}
		switch ta := va.(type) {
		case map[string]any:
			tb, ok := vb.(map[string]any)
			if !ok || !mapsEqual(ta, tb) {
				return false
			}
		default:
			if va != vb {
				return false
			}
		}
	}
	return true
}
