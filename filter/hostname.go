package filter

import (
	"fmt"
	"strings"

	"github.com/creativeprojects/postoffice/email"
)

// DefaultHostnameHeaders are the recipient headers inspected by HostnameFilter
var DefaultHostnameHeaders = []string{email.HeaderTo, email.HeaderCc, "X-Original-To"}

// HostnameFilter matches the hostname of the recipient addresses.
// A domain starting with a dot matches the domain itself and all its subdomains.
type HostnameFilter struct {
	domains []string
	headers []string
}

func NewHostnameFilter(domains []string, headers ...string) *HostnameFilter {
	if len(headers) == 0 {
		headers = DefaultHostnameHeaders
	}
	lower := make([]string, len(domains))
	for i, domain := range domains {
		lower[i] = strings.ToLower(domain)
	}
	return &HostnameFilter{
		domains: lower,
		headers: headers,
	}
}

func (f *HostnameFilter) Match(msg *email.Message) (string, bool) {
	for _, header := range f.headers {
		for _, value := range msg.Header.Values(header) {
			for _, addr := range strings.Split(value, ",") {
				addr, hostname, ok := splitAddress(addr)
				if !ok {
					continue
				}
				for _, domain := range f.domains {
					if matchHostname(hostname, domain) {
						return fmt.Sprintf("to_hostname: %s matches %s", addr, domain), true
					}
				}
			}
		}
	}
	return "", false
}

func matchHostname(hostname, domain string) bool {
	if strings.HasPrefix(domain, ".") {
		return hostname == domain[1:] || strings.HasSuffix(hostname, domain)
	}
	return hostname == domain
}

// splitAddress extracts the address from "Name <user@host>" or "user@host"
// and returns it with its lower-cased hostname
func splitAddress(value string) (string, string, bool) {
	addr := strings.TrimSpace(value)
	if start := strings.Index(addr, "<"); start >= 0 {
		end := strings.LastIndex(addr, ">")
		if end < start {
			return "", "", false
		}
		addr = strings.TrimSpace(addr[start+1 : end])
	}
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return addr, strings.ToLower(addr[at+1:]), true
}
