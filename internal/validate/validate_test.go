package validate

import "testing"

func TestToolName(t *testing.T) {
	ok := []string{"python", "node", "openjdk-21", "dotnet.core", "go_x"}
	for _, n := range ok {
		if err := ToolName(n); err != nil {
			t.Errorf("ToolName(%q) unexpected error: %v", n, err)
		}
	}
	bad := []string{"", "Python", "../etc", "a/b", "a b", "-lead", ".."}
	for _, n := range bad {
		if err := ToolName(n); err == nil {
			t.Errorf("ToolName(%q) expected error", n)
		}
	}
}

func TestVersion(t *testing.T) {
	ok := []string{"3.12.1", "v20.11.0", "21", "1.0.0-rc1"}
	for _, v := range ok {
		if err := Version(v); err != nil {
			t.Errorf("Version(%q) unexpected error: %v", v, err)
		}
	}
	bad := []string{"", "../3.12", "3.12/x", `a\b`, "latest"}
	for _, v := range bad {
		if err := Version(v); err == nil {
			t.Errorf("Version(%q) expected error", v)
		}
	}
}

func TestMirrorURL(t *testing.T) {
	if err := MirrorURL("https://mirrors.example.com/python/"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	bad := []string{"", "ftp://x/", "https://", "not a url at all\x00"}
	for _, u := range bad {
		if err := MirrorURL(u); err == nil {
			t.Errorf("MirrorURL(%q) expected error", u)
		}
	}
}

func TestPath(t *testing.T) {
	if err := Path("/opt/tools/python"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	bad := []string{"", "relative/path", "/opt/../etc"}
	for _, p := range bad {
		if err := Path(p); err == nil {
			t.Errorf("Path(%q) expected error", p)
		}
	}
}
