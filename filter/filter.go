// Package filter contains the message predicates used to route incoming mail
// to a queue, or to reject it before routing.
package filter

import (
	"fmt"
	"strings"

	"github.com/creativeprojects/postoffice/email"
)

const (
	TypeToHostname       = "to_hostname"
	TypeHeaderRegexp     = "header_regexp"
	TypeHeaderRegexpFile = "header_regexp_file"
	TypeBodyRegexp       = "body_regexp"
	TypeBodyRegexpFile   = "body_regexp_file"
)

// Filter is a predicate on a message. When it matches, reason describes why.
type Filter interface {
	Match(msg *email.Message) (reason string, matched bool)
}

// Chain matches when every filter in it matches.
// The reasons of all the filters are joined with "; ".
type Chain []Filter

func (c Chain) Match(msg *email.Message) (string, bool) {
	if len(c) == 0 {
		return "", false
	}
	reasons := make([]string, 0, len(c))
	for _, filter := range c {
		reason, matched := filter.Match(msg)
		if !matched {
			return "", false
		}
		reasons = append(reasons, reason)
	}
	return strings.Join(reasons, "; "), true
}

// Any returns the reason of the first filter matching the message
func Any(filters []Filter, msg *email.Message) (string, bool) {
	for _, filter := range filters {
		if reason, matched := filter.Match(msg); matched {
			return reason, true
		}
	}
	return "", false
}

// Parse builds a filter from its configuration form "type: expression"
func Parse(spec string) (Filter, error) {
	kind, expression, found := strings.Cut(spec, ":")
	if !found {
		return nil, fmt.Errorf("invalid filter %q: expected \"type: expression\"", spec)
	}
	kind = strings.TrimSpace(kind)
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("invalid filter %q: missing expression", spec)
	}

	switch kind {
	case TypeToHostname:
		return NewHostnameFilter(strings.Fields(expression)), nil
	case TypeHeaderRegexp:
		return NewHeaderRegexpFilter(expression)
	case TypeHeaderRegexpFile:
		return NewHeaderRegexpFileFilter(expression)
	case TypeBodyRegexp:
		return NewBodyRegexpFilter(expression)
	case TypeBodyRegexpFile:
		return NewBodyRegexpFileFilter(expression)
	default:
		return nil, fmt.Errorf("unknown filter type: %q", kind)
	}
}

// ParseChain parses every spec into a Chain
func ParseChain(specs []string) (Chain, error) {
	chain := make(Chain, 0, len(specs))
	for _, spec := range specs {
		filter, err := Parse(spec)
		if err != nil {
			return nil, err
		}
		chain = append(chain, filter)
	}
	return chain, nil
}
