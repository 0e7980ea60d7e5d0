package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/knadh/go-pop3"

	"github.com/admitsync-io/admitsync/internal/logging"
)

type pop3Connection interface {
	Auth(user, password string) error
	Quit() error
	Uidl(msgID int) ([]pop3.MessageID, error)
	Top(msgID int, numLines int) (*gomessage.Entity, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
}

type pop3ConnFactory func(Account) (pop3Connection, error)

// POP3Retriever locates the report message over POP3/POP3S. POP3 has no
// server-side search, so sender and subject are matched client-side against
// each message's headers; "newest" means the highest message number among
// matches.
type POP3Retriever struct {
	dialTimeout time.Duration
	logger      *logging.Logger
	newConn     pop3ConnFactory
}

// POP3RetrieverOption customizes retriever behavior.
type POP3RetrieverOption func(*POP3Retriever)

// NewPOP3Retriever returns a POP3 retriever ready for a single run.
func NewPOP3Retriever(opts ...POP3RetrieverOption) *POP3Retriever {
	r := &POP3Retriever{
		dialTimeout: 10 * time.Second,
	}
	r.newConn = r.defaultConnFactory
	for _, opt := range opts {
		opt(r)
	}
	if r.newConn == nil {
		r.newConn = r.defaultConnFactory
	}
	return r
}

// WithPOP3Logger overrides the logger used for retriever diagnostics.
func WithPOP3Logger(logger *logging.Logger) POP3RetrieverOption {
	return func(r *POP3Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPOP3DialTimeout overrides the socket dial timeout.
func WithPOP3DialTimeout(timeout time.Duration) POP3RetrieverOption {
	return func(r *POP3Retriever) {
		if timeout > 0 {
			r.dialTimeout = timeout
		}
	}
}

func withPOP3ConnFactory(factory pop3ConnFactory) POP3RetrieverOption {
	return func(r *POP3Retriever) {
		r.newConn = factory
	}
}

// Name returns the retriever identifier.
func (r *POP3Retriever) Name() string {
	return "pop3"
}

// FindAndDownload scans the maildrop headers for messages matching the
// query, retrieves the match with the highest message number, and writes its
// first .zip attachment into destDir.
func (r *POP3Retriever) FindAndDownload(ctx context.Context, account Account, query Query, destDir string) (string, bool, error) {
	if err := validatePOP3Account(account); err != nil {
		return "", false, err
	}

	conn, err := r.newConn(account)
	if err != nil {
		return "", false, fmt.Errorf("pop3 connect: %w", err)
	}
	defer r.safeQuit(conn)

	if err := conn.Auth(account.Username, string(account.Password)); err != nil {
		return "", false, fmt.Errorf("pop3 auth: %w", err)
	}

	msgs, err := conn.Uidl(0)
	if err != nil {
		return "", false, fmt.Errorf("pop3 uidl: %w", err)
	}

	newest := 0
	for _, meta := range msgs {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		entity, err := conn.Top(meta.ID, 0)
		if err != nil {
			r.logger.Warnf("pop3: top %d failed: %v", meta.ID, err)
			continue
		}
		if matchesQuery(entity, query) && meta.ID > newest {
			newest = meta.ID
		}
	}
	if newest == 0 {
		r.logger.Warnf("pop3: no message from %q with subject %q", query.Sender, query.Subject)
		return "", false, nil
	}

	payload, err := conn.RetrRaw(newest)
	if err != nil {
		return "", false, fmt.Errorf("pop3 retr %d: %w", newest, err)
	}

	path, found, err := saveFirstArchive(payload.Bytes(), destDir, r.logger)
	if err != nil {
		return "", false, err
	}
	if !found {
		r.logger.Warnf("pop3: message %d carries no %s attachment", newest, archiveSuffix)
		return "", false, nil
	}
	r.logger.Infof("pop3: saved attachment from message %d to %s", newest, path)
	return path, true, nil
}

func matchesQuery(entity *gomessage.Entity, query Query) bool {
	if entity == nil {
		return false
	}
	header := gomail.Header{Header: entity.Header}
	subject, err := header.Subject()
	if err != nil {
		subject = entity.Header.Get("Subject")
	}
	from := entity.Header.Get("From")
	return containsFold(from, query.Sender) && containsFold(subject, query.Subject)
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func (r *POP3Retriever) safeQuit(conn pop3Connection) {
	if conn == nil {
		return
	}
	if err := conn.Quit(); err != nil {
		r.logger.Warnf("pop3 quit error: %v", err)
	}
}

func (r *POP3Retriever) defaultConnFactory(account Account) (pop3Connection, error) {
	if account.Host == "" {
		return nil, errors.New("pop3 account missing host")
	}
	port := account.Port
	if port == 0 {
		if usePOP3TLS(account.Type) {
			port = 995
		} else {
			port = 110
		}
	}
	client := pop3.New(pop3.Opt{
		Host:        account.Host,
		Port:        port,
		DialTimeout: r.dialTimeout,
		TLSEnabled:  usePOP3TLS(account.Type),
	})
	return client.NewConn()
}

func validatePOP3Account(account Account) error {
	if account.Username == "" {
		return errors.New("pop3 account missing username")
	}
	if len(account.Password) == 0 {
		return errors.New("pop3 account missing password")
	}
	if !supportsPOP3(account.Type) {
		return fmt.Errorf("account type %s not supported by POP3 retriever", account.Type)
	}
	return nil
}

func supportsPOP3(t string) bool {
	switch strings.ToLower(t) {
	case "pop3", "pop3s", "pop3_tls", "pop3s_tls":
		return true
	default:
		return false
	}
}

func usePOP3TLS(t string) bool {
	switch strings.ToLower(t) {
	case "pop3s", "pop3_tls", "pop3s_tls":
		return true
	default:
		return false
	}
}
