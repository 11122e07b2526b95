package settings

import (
	"errors"
	"testing"
)

func TestParseTag(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"ko", "ko", true},
		{"ko-KR", "ko", true},
		{"EN", "en", true},
		{"en-GB", "en", true},
		{"fr", "", false},
		{"", "", false},
		{"not a tag!", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseTag(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseTag(%q) = %q, %v, want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNormalizeRejectsUnsupported(t *testing.T) {
	if _, err := Normalize("de"); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("Normalize(de) error = %v, want ErrUnsupportedLanguage", err)
	}
}

func TestResolvePrecedence(t *testing.T) {
	cases := []struct {
		name                     string
		explicit, stored, accept string
		want                     string
	}{
		{"explicit wins", "en", "ko", "ko", "en"},
		{"stored next", "", "en", "ko", "en"},
		{"unsupported explicit falls through", "fr", "en", "", "en"},
		{"accept language", "", "", "fr-FR,en;q=0.8", "en"},
		{"default", "", "", "fr", DefaultLanguage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Resolve(tc.explicit, tc.stored, tc.accept); got != tc.want {
				t.Fatalf("Resolve(%q, %q, %q) = %q, want %q", tc.explicit, tc.stored, tc.accept, got, tc.want)
			}
		})
	}
}

func TestSupportedDefaultFirst(t *testing.T) {
	langs := Supported()
	if len(langs) != 2 || langs[0] != DefaultLanguage || langs[1] != "en" {
		t.Fatalf("Supported() = %v", langs)
	}
}
