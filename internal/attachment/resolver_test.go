package attachment

import "testing"

func TestURLResolver(t *testing.T) {
	r := NewURLResolver("https://cdn.example.com/chat-files")

	cases := []struct {
		ref  string
		want string
	}{
		{"", ""},
		{"abc/plan.pdf", "https://cdn.example.com/chat-files/abc/plan.pdf"},
		{"/abc/plan final.pdf", "https://cdn.example.com/chat-files/abc/plan%20final.pdf"},
		{"https://other.example.com/x.png", "https://other.example.com/x.png"},
	}
	for _, tc := range cases {
		if got := r.URL(tc.ref); got != tc.want {
			t.Fatalf("URL(%q) = %q, want %q", tc.ref, got, tc.want)
		}
	}
}

func TestURLResolverWithoutBase(t *testing.T) {
	r := NewURLResolver("")
	if got := r.URL("abc/plan.pdf"); got != "abc/plan.pdf" {
		t.Fatalf("expected ref unchanged without base, got %q", got)
	}
}
