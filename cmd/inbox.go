package cmd

import (
	"github.com/creativeprojects/postoffice/cfg"
	"github.com/creativeprojects/postoffice/lib"
	"github.com/creativeprojects/postoffice/source"
)

// verify interface
var (
	_ source.Inbox = &source.Maildir{}
	_ source.Inbox = &source.Imap{}
)

// NewInbox opens the inbox defined in the configuration
func NewInbox(config *cfg.Config, logger lib.Logger) (source.Inbox, error) {
	if config.Imap != nil {
		return source.NewImap(source.ImapConfig{
			ServerURL:           config.Imap.Server,
			Username:            config.Imap.Username,
			Password:            config.Imap.Password,
			Mailbox:             config.Imap.Mailbox,
			ArchiveMailbox:      config.Imap.ArchiveMailbox,
			NoTLS:               config.Imap.NoTLS,
			SkipTLSVerification: config.Imap.SkipTLSVerification,
			RateLimit:           config.Imap.RateLimit,
			DebugLogger:         logger,
		})
	}
	return source.NewMaildirWithLogger(config.Postoffice.Maildir, logger)
}
