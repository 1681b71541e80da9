package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/creativeprojects/postoffice/lib"
	"github.com/emersion/go-maildir"
)

// Maildir is an inbox reading the messages delivered into a Maildir.
// Processed messages are archived into a Maildir++ folder per day.
type Maildir struct {
	root string
	dir  maildir.Dir
	log  lib.Logger
	now  func() time.Time
}

func NewMaildir(root string) (*Maildir, error) {
	return NewMaildirWithLogger(root, nil)
}

func NewMaildirWithLogger(root string, logger lib.Logger) (*Maildir, error) {
	if runtime.GOOS == "windows" {
		return nil, errors.New("maildir is not supported on Windows")
	}
	if logger == nil {
		logger = &lib.NoLog{}
	}
	dir, err := initDir(root)
	if err != nil {
		return nil, err
	}
	return &Maildir{
		root: root,
		dir:  dir,
		log:  logger,
		now:  time.Now,
	}, nil
}

// SetClock replaces time.Now to choose the archive folder
func (m *Maildir) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Maildir) Root() string {
	return m.root
}

func (m *Maildir) Close() error {
	return nil
}

// Messages moves the newly delivered messages to cur, then lists them all
func (m *Maildir) Messages() ([]Item, error) {
	unseen, err := m.dir.Unseen()
	if err != nil {
		return nil, fmt.Errorf("cannot read new messages from %q: %w", m.root, err)
	}
	if len(unseen) > 0 {
		m.log.Printf("%d new message(s) in %q", len(unseen), m.root)
	}
	msgs, err := m.dir.Messages()
	if err != nil {
		return nil, fmt.Errorf("cannot list messages from %q: %w", m.root, err)
	}
	items := make([]Item, 0, len(msgs))
	for _, msg := range msgs {
		info, err := os.Stat(msg.Filename())
		if err != nil {
			return nil, fmt.Errorf("cannot stat %q: %w", msg.Filename(), err)
		}
		items = append(items, &maildirItem{
			msg:  msg,
			size: info.Size(),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Key() < items[j].Key()
	})
	return items, nil
}

// Archive copies the message into today's folder and removes it from the inbox
func (m *Maildir) Archive(item Item) error {
	source, ok := item.(*maildirItem)
	if !ok {
		return fmt.Errorf("%w: item %q doesn't belong to a maildir", lib.ErrInvalidArgument, item.Key())
	}
	folder, err := initDir(filepath.Join(m.root, "."+ArchiveFolder(m.now())))
	if err != nil {
		return err
	}
	reader, err := source.Open()
	if err != nil {
		return err
	}
	defer reader.Close()

	archived, writer, err := folder.Create(source.msg.Flags())
	if err != nil {
		return fmt.Errorf("cannot create archive message: %w", err)
	}
	_, err = io.Copy(writer, reader)
	if err != nil {
		writer.Close()
		_ = os.Remove(archived.Filename())
		return fmt.Errorf("cannot archive message %q: %w", source.Key(), err)
	}
	err = writer.Close()
	if err != nil {
		return fmt.Errorf("cannot archive message %q: %w", source.Key(), err)
	}
	err = os.Remove(source.msg.Filename())
	if err != nil {
		return fmt.Errorf("cannot remove message %q from the inbox: %w", source.Key(), err)
	}
	m.log.Printf("Message archived: key=%q folder=%q", source.Key(), string(folder))
	return nil
}

type maildirItem struct {
	msg  *maildir.Message
	size int64
}

func (i *maildirItem) Key() string {
	return i.msg.Key()
}

func (i *maildirItem) Size() int64 {
	return i.size
}

func (i *maildirItem) Open() (io.ReadCloser, error) {
	reader, err := i.msg.Open()
	if err != nil {
		return nil, fmt.Errorf("cannot open key %q: %w", i.msg.Key(), err)
	}
	return reader, nil
}

func initDir(path string) (maildir.Dir, error) {
	dir := maildir.Dir(path)
	if _, err := os.Stat(filepath.Join(path, "cur")); err == nil {
		return dir, nil
	}
	err := os.MkdirAll(path, 0700)
	if err != nil {
		return dir, err
	}
	err = dir.Init()
	if err != nil {
		return dir, fmt.Errorf("cannot initialize maildir %q: %w", path, err)
	}
	return dir, nil
}
