package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestIgnorePatterns_AddPattern(t *testing.T) {
	ip := NewIgnorePatterns()

	for _, p := range []string{"*.log", "node_modules/", "", "#", "# comment", "   "} {
		if err := ip.AddPattern(p); err != nil {
			t.Errorf("AddPattern(%q) error = %v", p, err)
		}
	}
	if ip.Count() != 2 {
		t.Errorf("Count() = %d, want 2", ip.Count())
	}

	if err := ip.AddPattern("[unclosed"); err == nil {
		t.Error("AddPattern([unclosed) should fail")
	}
}

func TestIgnorePatterns_Match(t *testing.T) {
	ip := NewIgnorePatterns()
	_ = ip.AddPatterns([]string{
		"*.log",
		"!important.log",
		"build/",
		"/dist",
		"**/cache/**",
		"stream/*.ytd",
	})

	tests := []struct {
		path    string
		isDir   bool
		ignored bool
	}{
		{"debug.log", false, true},
		{"res/client/debug.log", false, true},
		{"important.log", false, false},
		{"res/important.log", false, false},
		{"build", true, true},
		{"build", false, false},
		{"res/build", true, true},
		{"res/build/out.js", false, true},
		{"dist", true, true},
		{"dist/bundle.js", false, true},
		{"res/dist", true, false},
		{"res/cache/a/b.bin", false, true},
		{"stream/car.ytd", false, true},
		{"res/stream/car.ytd", false, false},
		{"client.lua", false, false},
	}

	for _, tt := range tests {
		if got := ip.Match(tt.path, tt.isDir); got != tt.ignored {
			t.Errorf("Match(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.ignored)
		}
	}
}

func TestIgnorePatterns_MatchRelative(t *testing.T) {
	ip := NewIgnorePatterns()
	_ = ip.AddPattern("/dist")

	base := filepath.Join("/", "projects", "demo")
	tests := []struct {
		path    string
		ignored bool
	}{
		{filepath.Join(base, "dist"), true},
		{filepath.Join(base, "dist", "x.js"), true},
		{filepath.Join(base, "res", "dist"), false},
		{base, false},
		{filepath.Join("/", "elsewhere", "dist"), false},
	}

	for _, tt := range tests {
		if got := ip.MatchRelative(tt.path, base, true); got != tt.ignored {
			t.Errorf("MatchRelative(%q) = %v, want %v", tt.path, got, tt.ignored)
		}
	}
}

func TestIgnorePatterns_AddFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".assetignore")
	content := "# generated\n*.tmp\n\nnode_modules/\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	ip := NewIgnorePatterns()
	if err := ip.AddFromFile(path); err != nil {
		t.Fatalf("AddFromFile() error = %v", err)
	}
	want := []string{"*.tmp", "node_modules/"}
	got := ip.Patterns()
	if len(got) != len(want) {
		t.Fatalf("Patterns() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Patterns()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if err := ip.AddFromFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("AddFromFile(missing) should fail")
	}
}

func TestNewDefaultIgnorePatterns(t *testing.T) {
	ip := NewDefaultIgnorePatterns()
	if ip.Count() != len(DefaultIgnorePatterns) {
		t.Errorf("Count() = %d, want %d", ip.Count(), len(DefaultIgnorePatterns))
	}
	if !ip.Match("res/node_modules/pkg/index.js", false) {
		t.Error("node_modules contents should be ignored")
	}
	if ip.Match("res/fxmanifest.lua", false) {
		t.Error("fxmanifest.lua should not be ignored")
	}
}

func TestIgnorePatterns_ConcurrentAccess(t *testing.T) {
	ip := NewIgnorePatterns()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = ip.AddPattern("*.log")
		}()
		go func() {
			defer wg.Done()
			_ = ip.Match("a/b.log", false)
		}()
	}
	wg.Wait()
	if ip.Count() != 8 {
		t.Errorf("Count() = %d, want 8", ip.Count())
	}
}
