package filter

import (
	"testing"

	"github.com/creativeprojects/postoffice/email"
	"github.com/stretchr/testify/assert"
)

func messageWithHeaders(headers map[string]string) *email.Message {
	msg := email.NewText("")
	for key, value := range headers {
		msg.Set(key, value)
	}
	return msg
}

func TestHostnameFilter(t *testing.T) {
	fixtures := []struct {
		name    string
		domains []string
		headers map[string]string
		reason  string
	}{
		{"no recipient", []string{"example.com"}, nil, ""},
		{"other domain", []string{"example.com"}, map[string]string{"To": "chris@foo.com"}, ""},
		{"absolute subdomain", []string{"example.com"}, map[string]string{"To": "chris@foo.example.com"}, ""},
		{"absolute", []string{"example.com"}, map[string]string{"To": "chris@example.com"}, "to_hostname: chris@example.com matches example.com"},
		{"absolute with name", []string{"example.com"}, map[string]string{"To": "Chris <chris@example.com>"}, "to_hostname: chris@example.com matches example.com"},
		{"relative other domain", []string{".example.com"}, map[string]string{"To": "chris@foo.com"}, ""},
		{"relative subdomain", []string{".example.com"}, map[string]string{"To": "chris@foo.example.com"}, "to_hostname: chris@foo.example.com matches .example.com"},
		{"relative bare domain", []string{".example.com"}, map[string]string{"To": "chris@example.com"}, "to_hostname: chris@example.com matches .example.com"},
		{"relative with name", []string{".example.com"}, map[string]string{"To": "Chris <chris@example.com>"}, "to_hostname: chris@example.com matches .example.com"},
		{"relative is a domain boundary", []string{".example.com"}, map[string]string{"To": "chris@notexample.com"}, ""},
		{"relative not a plain suffix", []string{".example.com"}, map[string]string{"To": "chris@badexample.com"}, ""},
		{"relative subdomain of a plain suffix", []string{".example.com"}, map[string]string{"To": "chris@foo.badexample.com"}, ""},
		{"case insensitive", []string{"example.com"}, map[string]string{"To": "chris@Example.com"}, "to_hostname: chris@Example.com matches example.com"},
		{"not an address", []string{"example.com"}, map[string]string{"To": "undisclosed recipients;;"}, ""},
		{"malformed address", []string{"example.com"}, map[string]string{"To": "karin@example.com <>"}, ""},
		{"multiple hosts relative", []string{"example1.com", ".example2.com", "example3.com"}, map[string]string{"To": "chris@foo.example2.com"}, "to_hostname: chris@foo.example2.com matches .example2.com"},
		{"multiple hosts no match", []string{"example1.com", ".example2.com", "example3.com"}, map[string]string{"To": "chris@foo.example1.com"}, ""},
		{"multiple hosts absolute", []string{"example1.com", ".example2.com", "example3.com"}, map[string]string{"To": "chris@example1.com"}, "to_hostname: chris@example1.com matches example1.com"},
		{"multiple addresses", []string{"example.com"}, map[string]string{"To": "Fred <fred@exemplar.com>, Barney <barney@example.com>"}, "to_hostname: barney@example.com matches example.com"},
		{"cc", []string{"example.com"}, map[string]string{"Cc": "Fred <fred@exemplar.com>, Barney <barney@example.com>"}, "to_hostname: barney@example.com matches example.com"},
		{"to or cc", []string{"example.com"}, map[string]string{"To": "Fred <fred@examplar.com>", "Cc": "Barney <barney@example.com>"}, "to_hostname: barney@example.com matches example.com"},
		{"cc or to", []string{"example.com"}, map[string]string{"To": "Barney <barney@example.com>", "Cc": "Fred <fred@examplar.com>"}, "to_hostname: barney@example.com matches example.com"},
		{"original recipient", []string{"example.com"}, map[string]string{"X-Original-To": "barney@example.com"}, "to_hostname: barney@example.com matches example.com"},
	}

	for _, fixture := range fixtures {
		t.Run(fixture.name, func(t *testing.T) {
			filter := NewHostnameFilter(fixture.domains)
			reason, matched := filter.Match(messageWithHeaders(fixture.headers))
			assert.Equal(t, fixture.reason != "", matched)
			assert.Equal(t, fixture.reason, reason)
		})
	}
}

func TestHostnameFilterCustomHeaders(t *testing.T) {
	filter := NewHostnameFilter([]string{"example.com"}, "Delivered-To")
	msg := messageWithHeaders(map[string]string{"To": "chris@example.com"})
	_, matched := filter.Match(msg)
	assert.False(t, matched)

	msg.Set("Delivered-To", "chris@example.com")
	_, matched = filter.Match(msg)
	assert.True(t, matched)
}
