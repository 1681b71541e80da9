package filter

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/creativeprojects/postoffice/email"
)

type pattern struct {
	source string
	re     *regexp.Regexp
}

// HeaderRegexpFilter matches "Name: value" lines of the header, with encoded
// words decoded. Patterns are case insensitive and anchored at the start of the line.
type HeaderRegexpFilter struct {
	patterns []pattern
}

func NewHeaderRegexpFilter(expressions ...string) (*HeaderRegexpFilter, error) {
	patterns, err := compile("(?i)^(?:", ")", expressions)
	if err != nil {
		return nil, err
	}
	return &HeaderRegexpFilter{patterns: patterns}, nil
}

// NewHeaderRegexpFileFilter loads one expression per line
func NewHeaderRegexpFileFilter(filename string) (*HeaderRegexpFilter, error) {
	expressions, err := loadExpressions(filename)
	if err != nil {
		return nil, err
	}
	return NewHeaderRegexpFilter(expressions...)
}

func (f *HeaderRegexpFilter) Match(msg *email.Message) (string, bool) {
	lines := make([]string, 0, msg.Header.Len())
	fields := msg.Header.Fields()
	for fields.Next() {
		lines = append(lines, fields.Key()+": "+email.DecodeHeader(fields.Value()))
	}
	for _, pattern := range f.patterns {
		for _, line := range lines {
			if pattern.re.MatchString(line) {
				return fmt.Sprintf("header_regexp: headers match %q", pattern.source), true
			}
		}
	}
	return "", false
}

// BodyRegexpFilter searches the text parts of the body.
// Patterns are case insensitive and ^ and $ match at line boundaries.
type BodyRegexpFilter struct {
	patterns []pattern
}

func NewBodyRegexpFilter(expressions ...string) (*BodyRegexpFilter, error) {
	patterns, err := compile("(?im)", "", expressions)
	if err != nil {
		return nil, err
	}
	return &BodyRegexpFilter{patterns: patterns}, nil
}

func NewBodyRegexpFileFilter(filename string) (*BodyRegexpFilter, error) {
	expressions, err := loadExpressions(filename)
	if err != nil {
		return nil, err
	}
	return NewBodyRegexpFilter(expressions...)
}

func (f *BodyRegexpFilter) Match(msg *email.Message) (string, bool) {
	texts := make([]string, 0, 1)
	// a broken multipart structure still gives us the parts read so far
	_ = msg.Walk(func(part *email.Part) error {
		if !part.IsText() {
			return nil
		}
		if text, ok := email.DecodeText(part); ok {
			texts = append(texts, text)
		}
		return nil
	})
	for _, pattern := range f.patterns {
		for _, text := range texts {
			if pattern.re.MatchString(text) {
				return fmt.Sprintf("body_regexp: body matches %q", pattern.source), true
			}
		}
	}
	return "", false
}

func compile(prefix, suffix string, expressions []string) ([]pattern, error) {
	patterns := make([]pattern, len(expressions))
	for i, expression := range expressions {
		re, err := regexp.Compile(prefix + expression + suffix)
		if err != nil {
			return nil, fmt.Errorf("invalid regular expression %q: %w", expression, err)
		}
		patterns[i] = pattern{source: expression, re: re}
	}
	return patterns, nil
}

// loadExpressions reads one expression per line. Blank lines are ignored,
// leading and trailing spaces are part of the expression.
func loadExpressions(filename string) ([]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot open expressions file: %w", err)
	}
	defer file.Close()

	expressions := make([]string, 0)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		expressions = append(expressions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read expressions file %q: %w", filename, err)
	}
	return expressions, nil
}
