package filters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Built-in filter names.
const (
	JSON      = "json"
	HTML      = "html"
	XML       = "xml"
	YAML      = "yaml"
	Raw       = "raw"
	Strip     = "strip"
	Lower     = "lower"
	Upper     = "upper"
	Truncate  = "truncate"
	Sanitize  = "sanitize"
	StripTags = "striptags"
)

const (
	defaultTruncateLength = 255
	defaultTruncateSuffix = "..."
)

func builtins() map[string]Func {
	return map[string]Func{
		JSON:      JSONString,
		HTML:      HTMLEscape,
		XML:       XMLEscape,
		YAML:      YAMLScalar,
		Raw:       Identity,
		Strip:     func(s string, _ ...any) (string, error) { return strings.TrimSpace(s), nil },
		Lower:     func(s string, _ ...any) (string, error) { return strings.ToLower(s), nil },
		Upper:     func(s string, _ ...any) (string, error) { return strings.ToUpper(s), nil },
		Truncate:  TruncateText,
		Sanitize:  SanitizeHTML,
		StripTags: StripHTMLTags,
	}
}

// Identity returns the input unchanged. Registered as "raw", which also
// suppresses a template's default filter when it is the only filter named.
func Identity(s string, _ ...any) (string, error) {
	return s, nil
}

// JSONString renders s as a complete JSON string literal, quotes included.
// Non-ASCII text is kept as UTF-8; quotes, backslashes and control characters
// are escaped.
func JSONString(s string, _ ...any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", fmt.Errorf("encode json string: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

var htmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

// HTMLEscape escapes the five HTML-significant characters.
func HTMLEscape(s string, _ ...any) (string, error) {
	return htmlReplacer.Replace(s), nil
}

var xmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// XMLEscape escapes the five XML predefined entities.
func XMLEscape(s string, _ ...any) (string, error) {
	return xmlReplacer.Replace(s), nil
}

var yamlReserved = map[string]struct{}{
	"true": {}, "false": {}, "null": {}, "yes": {}, "no": {}, "on": {}, "off": {}, "~": {},
}

var yamlQuoteReplacer = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// YAMLScalar emits s as a plain YAML scalar when that is unambiguous and as a
// double-quoted scalar otherwise.
func YAMLScalar(s string, _ ...any) (string, error) {
	if !yamlNeedsQuotes(s) {
		return s, nil
	}
	return `"` + yamlQuoteReplacer.Replace(s) + `"`, nil
}

func yamlNeedsQuotes(s string) bool {
	if s == "" {
		return true
	}
	first, _ := utf8.DecodeRuneInString(s)
	last, _ := utf8.DecodeLastRuneInString(s)
	switch {
	case unicode.IsSpace(first), unicode.IsSpace(last):
		return true
	case strings.ContainsAny(s, "\n\r:#"):
		return true
	case first == '-', first >= '0' && first <= '9':
		return true
	}
	_, reserved := yamlReserved[strings.ToLower(s)]
	return reserved
}

// TruncateText shortens s to at most length runes, suffix included. Args are
// (length, suffix) with defaults 255 and "...". A length shorter than the
// suffix is rejected.
func TruncateText(s string, args ...any) (string, error) {
	length := defaultTruncateLength
	suffix := defaultTruncateSuffix
	if len(args) > 0 {
		n, err := intArg(args[0])
		if err != nil {
			return "", fmt.Errorf("%w: truncate length: %v", ErrInvalidArgument, err)
		}
		length = n
	}
	if len(args) > 1 {
		suffix = fmt.Sprint(args[1])
	}

	suffixLen := utf8.RuneCountInString(suffix)
	if length < suffixLen {
		return "", fmt.Errorf("%w: truncate length (%d) must be >= suffix length (%d)", ErrInvalidArgument, length, suffixLen)
	}
	if utf8.RuneCountInString(s) <= length {
		return s, nil
	}
	runes := []rune(s)
	return string(runes[:length-suffixLen]) + suffix, nil
}

func intArg(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
