package settings

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// DefaultLanguage is served when nothing better is known.
const DefaultLanguage = "ko"

var (
	supportedTags = []language.Tag{language.Korean, language.English}
	matcher       = language.NewMatcher(supportedTags)
)

// Supported returns the supported language codes, default first.
func Supported() []string {
	res := make([]string, 0, len(supportedTags))
	for _, tag := range supportedTags {
		res = append(res, tag.String())
	}
	return res
}

// ParseTag matches value against the supported set. Regional variants
// ("en-GB", "ko-KR") map to their base language.
func ParseTag(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	tag, err := language.Parse(value)
	if err != nil {
		return "", false
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return "", false
	}
	return supportedTags[idx].String(), true
}

// Normalize returns the canonical supported code for value, or
// ErrUnsupportedLanguage.
func Normalize(value string) (string, error) {
	if lang, ok := ParseTag(value); ok {
		return lang, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, value)
}

// MatchAcceptLanguage picks the best supported language from an
// Accept-Language header.
func MatchAcceptLanguage(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return "", false
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return "", false
	}
	return supportedTags[idx].String(), true
}

// Resolve picks the session language: an explicit choice first, then the
// stored preference, then Accept-Language, then DefaultLanguage.
func Resolve(explicit, stored, acceptLanguage string) string {
	if lang, ok := ParseTag(explicit); ok {
		return lang
	}
	if lang, ok := ParseTag(stored); ok {
		return lang
	}
	if lang, ok := MatchAcceptLanguage(acceptLanguage); ok {
		return lang
	}
	return DefaultLanguage
}
