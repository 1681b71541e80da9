// Package cfg loads and validates the postoffice configuration file.
package cfg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creativeprojects/postoffice/filter"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath           = "/postoffice"
	DefaultThrottlePeriod = 5 * time.Minute
	DefaultSMTPServer     = "localhost:25"
	DefaultFilename       = "postoffice.yaml"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

type Config struct {
	Postoffice Postoffice `yaml:"postoffice" toml:"postoffice"`
	Imap       *Imap      `yaml:"imap" toml:"imap"`
	SMTP       SMTP       `yaml:"smtp" toml:"smtp"`
	Queues     []*Queue   `yaml:"queues" toml:"queues"`

	rejectFilters  []filter.Filter
	maxMessageSize int64
}

type Postoffice struct {
	Database          string        `yaml:"database" toml:"database"`
	Path              string        `yaml:"path" toml:"path"`
	Maildir           string        `yaml:"maildir" toml:"maildir"`
	OOOLoopFrequency  float64       `yaml:"ooo_loop_frequency" toml:"ooo_loop_frequency"`
	OOOLoopHeaders    []string      `yaml:"ooo_loop_headers" toml:"ooo_loop_headers"`
	OOOThrottlePeriod time.Duration `yaml:"ooo_throttle_period" toml:"ooo_throttle_period"`
	MaxMessageSize    string        `yaml:"max_message_size" toml:"max_message_size"`
	RejectFilters     []string      `yaml:"reject_filters" toml:"reject_filters"`
	MetricsFile       string        `yaml:"metrics_file" toml:"metrics_file"`
}

type Imap struct {
	Server              string  `yaml:"server" toml:"server"`
	Username            string  `yaml:"username" toml:"username"`
	Password            string  `yaml:"password" toml:"password"`
	Mailbox             string  `yaml:"mailbox" toml:"mailbox"`
	ArchiveMailbox      string  `yaml:"archive_mailbox" toml:"archive_mailbox"`
	NoTLS               bool    `yaml:"no_tls" toml:"no_tls"`
	SkipTLSVerification bool    `yaml:"skip_tls_verification" toml:"skip_tls_verification"`
	RateLimit           float64 `yaml:"rate_limit" toml:"rate_limit"`
}

type SMTP struct {
	Server   string  `yaml:"server" toml:"server"`
	Username string  `yaml:"username" toml:"username"`
	Password string  `yaml:"password" toml:"password"`
	Rate     float64 `yaml:"rate" toml:"rate"`
}

// Queue is a destination queue, in order of priority
type Queue struct {
	Name       string   `yaml:"name" toml:"name"`
	Filters    []string `yaml:"filters" toml:"filters"`
	BounceFrom string   `yaml:"bounce_from_addr" toml:"bounce_from_addr"`

	chain filter.Chain
}

// Chain returns the filters a message must all match to be routed to this queue
func (q *Queue) Chain() filter.Chain {
	return q.chain
}

func newConfig() *Config {
	return &Config{
		Postoffice: Postoffice{
			Path:              DefaultPath,
			OOOThrottlePeriod: DefaultThrottlePeriod,
		},
		SMTP: SMTP{
			Server: DefaultSMTPServer,
		},
	}
}

// LoadFromFile loads and validates the configuration file. The format is TOML
// when the file name ends with .toml, YAML otherwise.
func LoadFromFile(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	format := FormatYAML
	if strings.EqualFold(filepath.Ext(filename), ".toml") {
		format = FormatTOML
	}
	return Load(file, format)
}

// Load reads and validates a configuration
func Load(reader io.Reader, format Format) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data, format)
}

func ParseBytes(data []byte, format Format) (*Config, error) {
	config := newConfig()
	switch format {
	case FormatTOML:
		metadata, err := toml.Decode(string(data), config)
		if err != nil {
			return nil, wrapValidationError("", err)
		}
		if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
			return nil, newValidationError("", "unknown key %q", undecoded[0].String())
		}
	case FormatYAML:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		err := decoder.Decode(config)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, wrapValidationError("", err)
		}
	default:
		return nil, newValidationError("", "unknown format %q", format)
	}
	err := config.validate()
	if err != nil {
		return nil, err
	}
	return config, nil
}

// RejectFilters are evaluated before routing: any match discards the message
func (c *Config) RejectFilters() []filter.Filter {
	return c.rejectFilters
}

// MaxMessageSize in bytes, zero when unlimited
func (c *Config) MaxMessageSize() int64 {
	return c.maxMessageSize
}

// QueueNames in order of declaration
func (c *Config) QueueNames() []string {
	names := make([]string, len(c.Queues))
	for i, queue := range c.Queues {
		names[i] = queue.Name
	}
	return names
}

// Queue returns the configuration of the named queue, or nil
func (c *Config) Queue(name string) *Queue {
	for _, queue := range c.Queues {
		if queue.Name == name {
			return queue
		}
	}
	return nil
}

func (c *Config) validate() error {
	const section = "postoffice"
	if c.Postoffice.Database == "" {
		return newValidationError(section, "missing database file")
	}
	if c.Postoffice.Path == "" {
		c.Postoffice.Path = DefaultPath
	}
	if c.Postoffice.Maildir == "" && c.Imap == nil {
		return newValidationError(section, "missing inbox: either maildir or an imap section is needed")
	}
	if c.Postoffice.Maildir != "" && c.Imap != nil {
		return newValidationError(section, "maildir and imap inboxes are mutually exclusive")
	}
	if c.Postoffice.OOOLoopFrequency < 0 {
		return newValidationError(section, "ooo_loop_frequency cannot be negative")
	}
	if c.Postoffice.OOOThrottlePeriod <= 0 {
		return newValidationError(section, "ooo_throttle_period must be positive")
	}
	size, err := ParseSize(c.Postoffice.MaxMessageSize)
	if err != nil {
		return wrapValidationError(section, err)
	}
	c.maxMessageSize = size

	c.rejectFilters = make([]filter.Filter, 0, len(c.Postoffice.RejectFilters))
	for _, spec := range c.Postoffice.RejectFilters {
		f, err := filter.Parse(spec)
		if err != nil {
			return wrapValidationError(section, err)
		}
		c.rejectFilters = append(c.rejectFilters, f)
	}

	if c.Imap != nil {
		if c.Imap.Server == "" || c.Imap.Username == "" || c.Imap.Password == "" {
			return newValidationError("imap", "server, username and password are needed")
		}
		if c.Imap.RateLimit < 0 {
			return newValidationError("imap", "rate_limit cannot be negative")
		}
	}
	if c.SMTP.Server == "" {
		c.SMTP.Server = DefaultSMTPServer
	}
	if c.SMTP.Rate < 0 {
		return newValidationError("smtp", "rate cannot be negative")
	}

	names := make(map[string]bool, len(c.Queues))
	for index, queue := range c.Queues {
		if queue == nil || queue.Name == "" {
			return newValidationError("queues", "queue #%d has no name", index+1)
		}
		if names[queue.Name] {
			return newValidationError("queues", "duplicate queue name %q", queue.Name)
		}
		names[queue.Name] = true
		queue.chain, err = filter.ParseChain(queue.Filters)
		if err != nil {
			return wrapValidationError("queue "+queue.Name, err)
		}
	}
	return nil
}

// FindConfigurationFile returns the first configuration file found in the usual places
func FindConfigurationFile() (string, error) {
	for _, location := range searchLocations() {
		if info, err := os.Stat(location); err == nil && !info.IsDir() {
			return location, nil
		}
	}
	return "", fmt.Errorf("configuration file %q not found", DefaultFilename)
}

func searchLocations() []string {
	locations := []string{
		DefaultFilename,
		filepath.Join("etc", DefaultFilename),
	}
	if exe, err := os.Executable(); err == nil {
		locations = append(locations, filepath.Join(filepath.Dir(exe), "..", "etc", DefaultFilename))
	}
	return append(locations, filepath.Join("/etc", DefaultFilename))
}
