package process

import (
	"net/url"
	"testing"
)

func TestExcludePattern(t *testing.T) {
	tests := []struct {
		pattern string
		url     string
		want    bool
	}{
		{"https://docs.example.com/3/en(/*)", "https://docs.example.com/3/en", true},
		{"https://docs.example.com/3/en(/*)", "https://docs.example.com/3/en/guide/install", true},
		{"https://docs.example.com/3/en(/*)", "https://docs.example.com/3/fr/guide", false},
		{"https://docs.example.com/3/en(/*)", "https://other.example.com/3/en/guide", false},
		{"http://example.com/users/:id", "http://example.com/users/42", true},
		{"http://example.com/users/:id", "http://example.com/users/42/edit", false},
		{"http://example.com/*.pdf", "http://example.com/files/report.pdf", true},
		{"http://example.com/*.pdf", "http://example.com/files/report.html", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.url, func(t *testing.T) {
			p, err := CompileExcludePattern(tt.pattern)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			u, err := url.Parse(tt.url)
			if err != nil {
				t.Fatal(err)
			}
			if got := p.Match(u); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompileExcludePatternsInvalid(t *testing.T) {
	if _, err := CompileExcludePatterns([]string{"/no/host"}); err == nil {
		t.Error("expected an error for a pattern without host")
	}
}
