package store

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"pier2pier.dev/go/pier2pier/internal/fault"
)

const (
	// MaxAddressLength bounds peer addresses.
	MaxAddressLength = 100
	// MaxNameLength bounds peer display names.
	MaxNameLength = 50
	// MaxParamLength bounds string statement parameters.
	MaxParamLength = 1000
	// MaxContentLength bounds message content in bytes.
	MaxContentLength = 16 * 1024
)

var allowedVerbs = []string{"select", "insert", "update", "delete"}

// injectionPatterns are rejected anywhere in a statement.
var injectionPatterns = []struct {
	re   *regexp.Regexp
	what string
}{
	{regexp.MustCompile(`;\s*\S`), "multiple statements"},
	{regexp.MustCompile(`--`), "comment"},
	{regexp.MustCompile(`/\*`), "comment"},
	{regexp.MustCompile(`(?i)\bunion\b`), "compound select"},
	{regexp.MustCompile(`(?i)\b(intersect|except)\b`), "compound select"},
	{regexp.MustCompile(`(?i)\binto\s+(dump|out)file\b`), "file output"},
	{regexp.MustCompile(`(?i)\bload_extension\s*\(`), "extension loading"},
	{regexp.MustCompile(`(?i)\battach\s+(database\s+)?`), "attach"},
	{regexp.MustCompile(`(?i)\b(readfile|writefile)\s*\(`), "file access"},
	{regexp.MustCompile(`(?i)\bxp_`), "extended procedure"},
}

// ValidateStatement checks stmt starts with an allowed verb and carries no
// injection markers.
func ValidateStatement(stmt string) error {
	normalized := strings.ToLower(strings.TrimSpace(stmt))
	if normalized == "" {
		return fault.Validationf("empty statement")
	}

	allowed := false
	for _, verb := range allowedVerbs {
		if strings.HasPrefix(normalized, verb) {
			rest := normalized[len(verb):]
			if rest == "" || !isWordChar(rest[0]) {
				allowed = true
				break
			}
		}
	}
	if !allowed {
		return fault.Validationf("statement must start with one of %s", strings.Join(allowedVerbs, ", "))
	}

	for _, p := range injectionPatterns {
		if p.re.MatchString(stmt) {
			return fault.Validationf("statement rejected: %s", p.what)
		}
	}
	return nil
}

// ValidateParams checks every parameter is a string of at most
// MaxParamLength characters, a number, or nil.
func ValidateParams(params []any) error {
	for i, p := range params {
		switch v := p.(type) {
		case nil:
		case string:
			if n := utf8.RuneCountInString(v); n > MaxParamLength {
				return fault.Validationf("parameter %d exceeds %d characters", i+1, MaxParamLength)
			}
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		default:
			return fault.Validationf("parameter %d has unsupported type %s", i+1, typeName(p))
		}
	}
	return nil
}

// ValidateAddress checks a peer address.
func ValidateAddress(address string) error {
	if address == "" {
		return fault.Validationf("peer address is empty")
	}
	if n := utf8.RuneCountInString(address); n > MaxAddressLength {
		return fault.Validationf("peer address exceeds %d characters", MaxAddressLength)
	}
	return nil
}

// ValidateContent checks message content.
func ValidateContent(content string) error {
	if content == "" {
		return fault.Validationf("message content is empty")
	}
	if len(content) > MaxContentLength {
		return fault.Validationf("message content exceeds %d bytes", MaxContentLength)
	}
	if !utf8.ValidString(content) {
		return fault.Validationf("message content is not valid UTF-8")
	}
	return nil
}

func isWordChar(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9')
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}

// peerName derives a display name from an address.
func peerName(address string) string {
	if utf8.RuneCountInString(address) <= MaxNameLength {
		return address
	}
	return string([]rune(address)[:MaxNameLength])
}
