package callsite

import (
	"fmt"
	"strconv"
	"strings"
)

// Default names used by Extract.
const (
	DefaultCallName    = "gen"
	DefaultTargetName  = "gentpl_gen"
	DefaultKeywordName = "gentpl_kw"
)

// Option configures Extract.
type Option func(*config)

type config struct {
	call    string
	target  string
	keyword string
}

// WithCallName sets the function name recognised in the source.
func WithCallName(name string) Option {
	return func(cfg *config) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.call = name
		}
	}
}

// WithTargetName sets the function name calls are rewritten to.
func WithTargetName(name string) Option {
	return func(cfg *config) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.target = name
		}
	}
}

// WithKeywordName sets the helper that carries rewritten keyword arguments.
func WithKeywordName(name string) Option {
	return func(cfg *config) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.keyword = name
		}
	}
}

// Extract scans source for generation calls. Every call `gen(args) | f1 | f2`
// found inside a `{{ }}` or `{% %}` tag becomes `gentpl_gen(<id>, args)`,
// keyword arguments `k=v` become `gentpl_kw("k", v)` and the filter pipeline
// is removed from the source and recorded in the table under <id>. Comments
// and text outside tags are copied untouched.
func Extract(source string, opts ...Option) (*Result, error) {
	cfg := config{
		call:    DefaultCallName,
		target:  DefaultTargetName,
		keyword: DefaultKeywordName,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	s := &scanner{
		src:   source,
		cfg:   cfg,
		table: make(Table),
	}
	if err := s.run(); err != nil {
		return nil, err
	}
	return &Result{
		Source: s.out.String(),
		Table:  s.table,
		Sites:  s.sites,
	}, nil
}

type scanner struct {
	src   string
	cfg   config
	out   strings.Builder
	table Table
	sites []Site
	next  int
}

type span struct {
	start, end int
}

func (s *scanner) errorf(offset int, format string, args ...any) error {
	line, col := position(s.src, offset)
	return &SyntaxError{Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

func (s *scanner) run() error {
	s.out.Grow(len(s.src) + 64)
	i := 0
	for i < len(s.src) {
		start := s.nextTag(i)
		if start < 0 {
			s.out.WriteString(s.src[i:])
			return nil
		}
		s.out.WriteString(s.src[i:start])

		if s.src[start+1] == '#' {
			end := strings.Index(s.src[start+2:], "#}")
			if end < 0 {
				return s.errorf(start, "unterminated comment")
			}
			stop := start + 2 + end + 2
			s.out.WriteString(s.src[start:stop])
			i = stop
			continue
		}

		if strings.HasPrefix(s.src[start:], verbatimOpen) {
			end := strings.Index(s.src[start+len(verbatimOpen):], verbatimClose)
			if end < 0 {
				return s.errorf(start, "unterminated verbatim block")
			}
			stop := start + len(verbatimOpen) + end + len(verbatimClose)
			s.out.WriteString(s.src[start:stop])
			i = stop
			continue
		}

		stop, err := s.scanTag(start)
		if err != nil {
			return err
		}
		i = stop
	}
	return nil
}

// Verbatim blocks are matched literally, the same way the evaluator's lexer
// finds them.
const (
	verbatimOpen  = "{% verbatim %}"
	verbatimClose = "{% endverbatim %}"
)

func (s *scanner) nextTag(from int) int {
	for i := from; i+1 < len(s.src); i++ {
		if s.src[i] != '{' {
			continue
		}
		switch s.src[i+1] {
		case '{', '%', '#':
			return i
		}
	}
	return -1
}

func (s *scanner) scanTag(start int) (int, error) {
	closer := "}}"
	if s.src[start+1] == '%' {
		closer = "%}"
	}
	bodyStart := start + 2
	if bodyStart < len(s.src) && s.src[bodyStart] == '-' {
		bodyStart++
	}

	bodyEnd, stop := -1, -1
	for i := bodyStart; i < len(s.src); {
		c := s.src[i]
		if c == '"' || c == '\'' {
			j, err := s.skipString(i, len(s.src))
			if err != nil {
				return 0, err
			}
			i = j
			continue
		}
		if strings.HasPrefix(s.src[i:], closer) {
			bodyEnd, stop = i, i+len(closer)
			if i-1 >= bodyStart && s.src[i-1] == '-' {
				bodyEnd = i - 1
			}
			break
		}
		i++
	}
	if stop < 0 {
		return 0, s.errorf(start, "unterminated tag %q", s.src[start:start+2])
	}

	body, err := s.rewrite(bodyStart, bodyEnd)
	if err != nil {
		return 0, err
	}
	s.out.WriteString(s.src[start:bodyStart])
	s.out.WriteString(body)
	s.out.WriteString(s.src[bodyEnd:stop])
	return stop, nil
}

// rewrite copies src[from:to] replacing generation calls.
func (s *scanner) rewrite(from, to int) (string, error) {
	var b strings.Builder
	for i := from; i < to; {
		c := s.src[i]
		switch {
		case c == '"' || c == '\'':
			j, err := s.skipString(i, to)
			if err != nil {
				return "", err
			}
			b.WriteString(s.src[i:j])
			i = j
		case isIdentStart(c) || isDigit(c):
			j := i + 1
			for j < to && isIdentChar(s.src[j]) {
				j++
			}
			if s.src[i:j] == s.cfg.call && !s.memberAccess(i) {
				open := skipSpace(s.src, j, to)
				if open < to && s.src[open] == '(' {
					call, next, err := s.rewriteCall(i, open, to)
					if err != nil {
						return "", err
					}
					b.WriteString(call)
					i = next
					continue
				}
			}
			b.WriteString(s.src[i:j])
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

func (s *scanner) memberAccess(identStart int) bool {
	for i := identStart - 1; i >= 0; i-- {
		switch s.src[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '.':
			return true
		default:
			return false
		}
	}
	return false
}

func (s *scanner) rewriteCall(nameStart, open, limit int) (string, int, error) {
	id := s.next
	s.next++
	line, col := position(s.src, nameStart)
	siteIdx := len(s.sites)
	s.sites = append(s.sites, Site{ID: id, Line: line, Column: col})

	args, closeIdx, err := s.splitArgs(open, limit, s.cfg.call+" call")
	if err != nil {
		return "", 0, err
	}

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, strconv.Itoa(id))
	for _, arg := range args {
		start, end := trimSpan(s.src, arg)
		if start == end {
			return "", 0, s.errorf(arg.start, "empty argument in %s call", s.cfg.call)
		}
		if name, valueStart, ok := s.keyword(start, end); ok {
			valueStart = skipSpace(s.src, valueStart, end)
			if valueStart == end {
				return "", 0, s.errorf(start, "missing value for keyword %q", name)
			}
			value, err := s.rewrite(valueStart, end)
			if err != nil {
				return "", 0, err
			}
			parts = append(parts, fmt.Sprintf("%s(%q, %s)", s.cfg.keyword, name, value))
			continue
		}
		value, err := s.rewrite(start, end)
		if err != nil {
			return "", 0, err
		}
		parts = append(parts, value)
	}

	chain, next, err := s.parsePipeline(closeIdx+1, limit)
	if err != nil {
		return "", 0, err
	}
	s.table[id] = chain
	s.sites[siteIdx].Call = s.src[nameStart:next]

	return s.cfg.target + "(" + strings.Join(parts, ", ") + ")", next, nil
}

// splitArgs splits the parenthesised list opening at open into top-level
// arguments and returns the index of the closing paren.
func (s *scanner) splitArgs(open, limit int, what string) ([]span, int, error) {
	var args []span
	depth := 0
	argStart := open + 1
	for i := open + 1; i < limit; {
		c := s.src[i]
		switch c {
		case '"', '\'':
			j, err := s.skipString(i, limit)
			if err != nil {
				return nil, 0, err
			}
			i = j
			continue
		case '(', '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return nil, 0, s.errorf(i, "unbalanced brackets in %s", what)
			}
		case ')':
			if depth == 0 {
				args = append(args, span{argStart, i})
				if len(args) == 1 {
					if start, end := trimSpan(s.src, args[0]); start == end {
						args = nil
					}
				}
				return args, i, nil
			}
			depth--
		case ',':
			if depth == 0 {
				args = append(args, span{argStart, i})
				argStart = i + 1
			}
		}
		i++
	}
	return nil, 0, s.errorf(open, "unbalanced parentheses in %s", what)
}

func (s *scanner) keyword(start, end int) (string, int, bool) {
	if !isIdentStart(s.src[start]) {
		return "", 0, false
	}
	j := start + 1
	for j < end && isIdentChar(s.src[j]) {
		j++
	}
	k := skipSpace(s.src, j, end)
	if k < end && s.src[k] == '=' && (k+1 >= end || s.src[k+1] != '=') {
		return s.src[start:j], k + 1, true
	}
	return "", 0, false
}

func (s *scanner) parsePipeline(from, limit int) ([]Filter, int, error) {
	var chain []Filter
	pos := from
	for {
		k := skipSpace(s.src, pos, limit)
		if k >= limit || s.src[k] != '|' {
			return chain, pos, nil
		}
		// "||" is an operator, not an empty filter.
		if k+1 < limit && s.src[k+1] == '|' {
			return chain, pos, nil
		}
		k = skipSpace(s.src, k+1, limit)
		if k >= limit || !isIdentStart(s.src[k]) {
			return nil, 0, s.errorf(k, "empty filter name")
		}
		nameEnd := k + 1
		for nameEnd < limit && isIdentChar(s.src[nameEnd]) {
			nameEnd++
		}
		f := Filter{Name: s.src[k:nameEnd]}
		pos = nameEnd

		switch {
		case pos < limit && s.src[pos] == '(':
			args, closeIdx, err := s.splitArgs(pos, limit, "filter "+strconv.Quote(f.Name))
			if err != nil {
				return nil, 0, err
			}
			for _, arg := range args {
				start, end := trimSpan(s.src, arg)
				if start == end {
					return nil, 0, s.errorf(arg.start, "empty argument for filter %q", f.Name)
				}
				if _, _, ok := s.keyword(start, end); ok {
					return nil, 0, s.errorf(start, "filter %q: keyword arguments are not supported", f.Name)
				}
				value, err := s.literal(f.Name, start, end)
				if err != nil {
					return nil, 0, err
				}
				f.Args = append(f.Args, value)
			}
			pos = closeIdx + 1
		case pos < limit && s.src[pos] == ':':
			start := skipSpace(s.src, pos+1, limit)
			end, err := s.literalEnd(start, limit)
			if err != nil {
				return nil, 0, err
			}
			if end == start {
				return nil, 0, s.errorf(start, "missing argument for filter %q", f.Name)
			}
			value, err := s.literal(f.Name, start, end)
			if err != nil {
				return nil, 0, err
			}
			f.Args = append(f.Args, value)
			pos = end
		}
		chain = append(chain, f)
	}
}

func (s *scanner) literalEnd(start, limit int) (int, error) {
	if start >= limit {
		return start, nil
	}
	if c := s.src[start]; c == '"' || c == '\'' {
		return s.skipString(start, limit)
	}
	j := start
	if s.src[j] == '-' || s.src[j] == '+' {
		j++
	}
	for j < limit && (isIdentChar(s.src[j]) || s.src[j] == '.') {
		j++
	}
	return j, nil
}

func (s *scanner) literal(filter string, start, end int) (any, error) {
	text := s.src[start:end]
	if q := text[0]; (q == '"' || q == '\'') && len(text) >= 2 && text[len(text)-1] == q {
		if j, err := s.skipString(start, end); err == nil && j == end {
			return unquote(text[1 : len(text)-1]), nil
		}
	}
	switch text {
	case "true", "True":
		return true, nil
	case "false", "False":
		return false, nil
	}
	if n, err := strconv.Atoi(text); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, nil
	}
	return nil, s.errorf(start, "filter %q: argument %q is not a literal", filter, text)
}

func (s *scanner) skipString(start, limit int) (int, error) {
	quote := s.src[start]
	for j := start + 1; j < limit; j++ {
		switch s.src[j] {
		case '\\':
			j++
		case quote:
			return j + 1, nil
		}
	}
	return 0, s.errorf(start, "unterminated string literal")
}

func unquote(body string) string {
	if !strings.Contains(body, `\`) {
		return body
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 >= len(body) {
			b.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String()
}

func trimSpan(src string, sp span) (int, int) {
	start, end := sp.start, sp.end
	for start < end && isSpace(src[start]) {
		start++
	}
	for end > start && isSpace(src[end-1]) {
		end--
	}
	return start, end
}

func skipSpace(src string, i, limit int) int {
	for i < limit && isSpace(src[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
