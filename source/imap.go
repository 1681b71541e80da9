package source

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/creativeprojects/postoffice/lib"
	"github.com/creativeprojects/postoffice/limitio"
	"github.com/emersion/go-imap"
	compress "github.com/emersion/go-imap-compress"
	uidplus "github.com/emersion/go-imap-uidplus"
	"github.com/emersion/go-imap/client"
)

const (
	DefaultImapMailbox = "INBOX"
	DefaultImapArchive = "Archive"
)

type ImapConfig struct {
	ServerURL           string
	Username            string
	Password            string
	Mailbox             string
	ArchiveMailbox      string
	DebugLogger         lib.Logger
	NoTLS               bool
	SkipTLSVerification bool
	// RateLimit throttles the download of messages in bytes per second. Zero is unlimited.
	RateLimit float64
}

// Imap is an inbox reading the messages from a mailbox on a remote IMAP server.
// Processed messages are copied into a mailbox per day, then expunged.
type Imap struct {
	client        *client.Client
	uidplusClient *uidplus.Client
	log           lib.Logger
	delimiter     string
	mailbox       string
	archive       string
	rateLimit     float64
	now           func() time.Time
}

func NewImap(cfg ImapConfig) (*Imap, error) {
	log := cfg.DebugLogger
	if log == nil {
		log = &lib.NoLog{}
	}
	if cfg.ServerURL == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("missing information from IMAP configuration")
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = DefaultImapMailbox
	}
	if cfg.ArchiveMailbox == "" {
		cfg.ArchiveMailbox = DefaultImapArchive
	}

	var imapClient *client.Client
	var err error
	log.Printf("Connecting to server %s...", cfg.ServerURL)
	if cfg.NoTLS {
		imapClient, err = client.Dial(cfg.ServerURL)
	} else {
		tlsConfig := &tls.Config{}
		if cfg.SkipTLSVerification {
			tlsConfig.InsecureSkipVerify = true
		}
		imapClient, err = client.DialTLS(cfg.ServerURL, tlsConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot connect to server %s: %w", cfg.ServerURL, err)
	}
	log.Print("Connected")

	if err := imapClient.Login(cfg.Username, cfg.Password); err != nil {
		_ = imapClient.Logout()
		return nil, fmt.Errorf("authentication failure: %w", err)
	}
	log.Printf("Logged in as %s", cfg.Username)

	compressExt := compress.NewClient(imapClient)
	if supported, err := compressExt.SupportCompress(compress.Deflate); err == nil && supported {
		if err := compressExt.Compress(compress.Deflate); err != nil {
			log.Printf("cannot enable compression: %s", err)
		} else {
			log.Print("Compression enabled")
		}
	}

	uidExt := uidplus.NewClient(imapClient)
	supported, err := uidExt.SupportUidPlus()
	if err != nil || !supported {
		log.Print("IMAP server does NOT support UIDPLUS extension")
		uidExt = nil
	}

	inbox := &Imap{
		client:        imapClient,
		uidplusClient: uidExt,
		log:           log,
		mailbox:       cfg.Mailbox,
		archive:       cfg.ArchiveMailbox,
		rateLimit:     cfg.RateLimit,
		now:           time.Now,
	}
	status, err := imapClient.Select(cfg.Mailbox, false)
	if err != nil {
		_ = inbox.Close()
		return nil, fmt.Errorf("cannot select mailbox %q: %w", cfg.Mailbox, err)
	}
	log.Printf("Mailbox %q selected: %d message(s)", status.Name, status.Messages)
	return inbox, nil
}

// SetClock replaces time.Now to choose the archive mailbox
func (i *Imap) SetClock(now func() time.Time) {
	i.now = now
}

func (i *Imap) Close() error {
	i.log.Print("Closing connection")
	return i.client.Logout()
}

func (i *Imap) Delimiter() string {
	if i.delimiter == "" {
		_, _ = i.listMailboxes()
	}
	return i.delimiter
}

// Messages downloads all the messages not flagged as deleted
func (i *Imap) Messages() ([]Item, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.DeletedFlag}
	uids, err := i.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("cannot search mailbox %q: %w", i.mailbox, err)
	}
	if len(uids) == 0 {
		return []Item{}, nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	fetchItems := []imap.FetchItem{section.FetchItem(), imap.FetchUid, imap.FetchRFC822Size}

	receiver := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- i.client.UidFetch(seqset, fetchItems, receiver)
	}()

	items := make([]Item, 0, len(uids))
	var readErr error
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range receiver {
			if readErr != nil {
				continue
			}
			body := msg.GetBody(section)
			if body == nil {
				readErr = fmt.Errorf("server returned no body for uid %d", msg.Uid)
				continue
			}
			data, err := i.download(body)
			if err != nil {
				readErr = fmt.Errorf("cannot download message uid %d: %w", msg.Uid, err)
				continue
			}
			i.log.Printf("Received IMAP message uid=%d size=%d", msg.Uid, len(data))
			items = append(items, &imapItem{
				uid:  msg.Uid,
				data: data,
			})
		}
	}()
	err = <-done
	wg.Wait()
	if err != nil {
		return nil, fmt.Errorf("cannot fetch messages from %q: %w", i.mailbox, err)
	}
	if readErr != nil {
		return nil, readErr
	}
	sort.Slice(items, func(a, b int) bool {
		return items[a].Key() < items[b].Key()
	})
	return items, nil
}

// Archive copies the message into today's archive mailbox, then removes it from the inbox
func (i *Imap) Archive(item Item) error {
	source, ok := item.(*imapItem)
	if !ok {
		return fmt.Errorf("%w: item %q doesn't belong to an IMAP mailbox", lib.ErrInvalidArgument, item.Key())
	}
	name := i.archive + i.Delimiter() + ArchiveFolder(i.now())
	err := i.createMailbox(name)
	if err != nil {
		return fmt.Errorf("cannot create archive mailbox %q: %w", name, err)
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(source.uid)

	err = i.client.UidCopy(seqset, name)
	if err != nil {
		return fmt.Errorf("cannot copy message uid %d to %q: %w", source.uid, name, err)
	}
	storeItem := imap.FormatFlagsOp(imap.AddFlags, true)
	err = i.client.UidStore(seqset, storeItem, []interface{}{imap.DeletedFlag}, nil)
	if err != nil {
		return fmt.Errorf("cannot flag message uid %d as deleted: %w", source.uid, err)
	}
	if i.uidplusClient != nil {
		// only expunge the message we just archived
		err = i.uidplusClient.UidExpunge(seqset, nil)
	} else {
		err = i.client.Expunge(nil)
	}
	if err != nil {
		return fmt.Errorf("cannot expunge message uid %d: %w", source.uid, err)
	}
	i.log.Printf("Message archived: uid=%d mailbox=%q", source.uid, name)
	return nil
}

func (i *Imap) download(body io.Reader) ([]byte, error) {
	reader := limitio.NewReader(context.Background(), body)
	reader.SetRateLimit(i.rateLimit, limitio.DefaultBurst)
	buffer := &bytes.Buffer{}
	_, err := buffer.ReadFrom(reader)
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (i *Imap) listMailboxes() ([]string, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- i.client.List("", "*", mailboxes)
	}()

	names := make([]string, 0, 10)
	for m := range mailboxes {
		names = append(names, m.Name)
		if i.delimiter == "" {
			i.delimiter = m.Delimiter
		}
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return names, nil
}

func (i *Imap) createMailbox(name string) error {
	mailboxes, err := i.listMailboxes()
	if err != nil {
		return err
	}
	for _, mailbox := range mailboxes {
		if mailbox == name {
			return nil
		}
	}
	i.log.Printf("Creating mailbox %q", name)
	return i.client.Create(name)
}

type imapItem struct {
	uid  uint32
	data []byte
}

// Key sorts in UID order
func (i *imapItem) Key() string {
	return fmt.Sprintf("%010d", i.uid)
}

func (i *imapItem) Size() int64 {
	return int64(len(i.data))
}

func (i *imapItem) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(i.data)), nil
}
