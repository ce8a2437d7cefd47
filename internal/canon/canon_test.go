package canon

import "testing"

func TestCanonicaliseExamples(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		base    string
		want    string
		wantErr bool
	}{
		{
			name:  "lowercase scheme host default port tracking params sorted query fragment dropped",
			input: "HTTP://Example.COM:80/a//b/./c?utm_source=x&id=3&a=1#frag",
			want:  "http://example.com/a/b/c?a=1&id=3",
		},
		{
			name:  "https default port stripped",
			input: "https://Example.com:443/path",
			want:  "https://example.com/path",
		},
		{
			name:  "non-default port kept",
			input: "http://example.com:8080/path",
			want:  "http://example.com:8080/path",
		},
		{
			name:  "dot-dot resolved",
			input: "http://example.com/a/b/../c",
			want:  "http://example.com/a/c",
		},
		{
			name:  "relative resolved against base",
			input: "/relative/path",
			base:  "http://example.com/other",
			want:  "http://example.com/relative/path",
		},
		{
			name:  "trailing slash stripped except root",
			input: "http://example.com/a/",
			want:  "http://example.com/a",
		},
		{
			name:  "root preserved",
			input: "http://example.com/",
			want:  "http://example.com/",
		},
		{
			name:  "host trailing dot stripped",
			input: "http://example.com./a",
			want:  "http://example.com/a",
		},
		{
			name:    "javascript scheme rejected",
			input:   "javascript:alert(1)",
			wantErr: true,
		},
		{
			name:    "mailto scheme rejected",
			input:   "mailto:a@example.com",
			wantErr: true,
		},
		{
			name:    "tel scheme rejected",
			input:   "tel:+15555550100",
			wantErr: true,
		},
		{
			name:    "data scheme rejected",
			input:   "data:text/plain;base64,aGVsbG8=",
			wantErr: true,
		},
		{
			name:    "unparseable url",
			input:   "http://[::1",
			wantErr: true,
		},
		{
			name:  "utm prefix stripped regardless of exact key",
			input: "http://example.com/?utm_weird_custom=1&keep=2",
			want:  "http://example.com/?keep=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalise(tt.input, tt.base)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Canonicalise(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("Canonicalise(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCanonicaliseIdempotent(t *testing.T) {
	inputs := []string{
		"HTTP://Example.COM:80/a//b/./c?utm_source=x&id=3&a=1#frag",
		"https://Example.com:443/path?b=2&a=1",
		"http://example.com/a/../b/c/",
	}

	for _, in := range inputs {
		once, err := Canonicalise(in, "")
		if err != nil {
			t.Fatalf("Canonicalise(%q) failed: %v", in, err)
		}
		twice, err := Canonicalise(once, "")
		if err != nil {
			t.Fatalf("Canonicalise(%q) (second pass) failed: %v", once, err)
		}
		if once != twice {
			t.Errorf("not idempotent: Canonicalise(%q) = %q, Canonicalise(that) = %q", in, once, twice)
		}
	}
}

func TestSameRegistrableDomain(t *testing.T) {
	a, _ := Canonicalise("http://www.example.com/a", "")
	b, _ := Canonicalise("http://blog.example.com/b", "")
	c, _ := Canonicalise("http://example.org/c", "")

	if !SameRegistrableDomain(a, b) {
		t.Errorf("expected %q and %q to share a registrable domain", a, b)
	}
	if SameRegistrableDomain(a, c) {
		t.Errorf("expected %q and %q not to share a registrable domain", a, c)
	}
}

func TestSameHost(t *testing.T) {
	a, _ := Canonicalise("http://www.example.com/a", "")
	b, _ := Canonicalise("http://blog.example.com/b", "")
	c, _ := Canonicalise("http://www.example.com/other", "")

	if SameHost(a, b) {
		t.Errorf("expected different hosts for %q and %q", a, b)
	}
	if !SameHost(a, c) {
		t.Errorf("expected same host for %q and %q", a, c)
	}
}
