package process

import (
	"errors"
	"testing"
)

func TestNormalizeWith(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		ignoreHash bool
		addSlash   bool
		want       string
	}{
		{"index html stripped", "http://site/site1/page2/index.html", false, false, "http://site/site1/page2/"},
		{"index php stripped", "http://site/docs/index.php", false, false, "http://site/docs/"},
		{"index in name kept", "http://site/docs/myindex.html", false, false, "http://site/docs/myindex.html"},
		{"empty path", "http://site", false, false, "http://site/"},
		{"host and port", "http://Example.COM:80/a/./b/../c", false, false, "http://example.com/a/c"},
		{"fragment kept", "http://site/a.html#s1", false, false, "http://site/a.html#s1"},
		{"fragment dropped", "http://site/a.html#s1", true, false, "http://site/a.html"},
		{"trailing slash", "http://site/page#top", true, true, "http://site/page/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeWith(tt.raw, tt.ignoreHash, tt.addSlash)
			if err != nil {
				t.Fatalf("NormalizeWith(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeWith(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeRejectsRelative(t *testing.T) {
	if _, err := Normalize("/relative/path"); !errors.Is(err, ErrNotAbsolute) {
		t.Errorf("expected ErrNotAbsolute, got %v", err)
	}
}

func TestIdentify(t *testing.T) {
	a, err := Identify("http://site/site1/page2/")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Identify("http://site/site1/page2/index.html")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("index filename changed identity: %q != %q", a, b)
	}
	if len(a) != IDLength {
		t.Errorf("id length = %d, want %d", len(a), IDLength)
	}

	c, err := Identify("http://site/site1/page3/")
	if err != nil {
		t.Fatal(err)
	}
	if a == c {
		t.Errorf("distinct pages share id %q", a)
	}

	frag, err := Identify("http://site/site1/page2/#section")
	if err != nil {
		t.Fatal(err)
	}
	if frag == a {
		t.Error("fragment should be part of identity")
	}
}

func TestWithoutFragment(t *testing.T) {
	got, err := WithoutFragment("http://site/sections.html#section1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://site/sections.html" {
		t.Errorf("got %q", got)
	}
}
