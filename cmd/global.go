package cmd

import (
	"fmt"

	"github.com/creativeprojects/postoffice/cfg"
	"github.com/creativeprojects/postoffice/lib"
	"github.com/creativeprojects/postoffice/metrics"
	"github.com/creativeprojects/postoffice/notify"
	"github.com/creativeprojects/postoffice/router"
	"github.com/creativeprojects/postoffice/store"
	"github.com/creativeprojects/postoffice/term"
)

type GlobalFlags struct {
	configFile string
	quiet      bool
	verbose    bool
	timestamp  bool
}

var global GlobalFlags

func configFilename() string {
	return cfg.DefaultFilename
}

// loadConfig reads the file given on the command line, or the first one found
func loadConfig() (*cfg.Config, error) {
	filename := global.configFile
	if filename == "" {
		var err error
		filename, err = cfg.FindConfigurationFile()
		if err != nil {
			return nil, err
		}
	}
	term.Debugf("loading configuration from %q", filename)
	config, err := cfg.LoadFromFile(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot open or read configuration file: %w", err)
	}
	return config, nil
}

// environment is what a command needs to work on the queues
type environment struct {
	config  *cfg.Config
	db      *store.BoltStore
	router  *router.Router
	metrics *metrics.Metrics
}

func openEnvironment() (*environment, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := store.NewBoltStoreWithLogger(config.Postoffice.Database, debugLogger())
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	err = db.Init()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot initialize database: %w", err)
	}
	m := metrics.New()
	return &environment{
		config:  config,
		db:      db,
		metrics: m,
		router:  router.New(config, db, router.WithMetrics(m), router.WithDebugLogger(debugLogger())),
	}, nil
}

func (e *environment) Close() error {
	return e.db.Close()
}

// sender relays the notices through the configured SMTP server
func (e *environment) sender() *notify.SMTP {
	return notify.NewSMTP(notify.Config{
		Server:   e.config.SMTP.Server,
		Username: e.config.SMTP.Username,
		Password: e.config.SMTP.Password,
		Rate:     e.config.SMTP.Rate,
	}, debugLogger())
}

func debugLogger() lib.Logger {
	if global.verbose {
		return term.Logger{}
	}
	return &lib.NoLog{}
}
