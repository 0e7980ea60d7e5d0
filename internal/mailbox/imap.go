package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/admitsync-io/admitsync/internal/logging"
)

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

// IMAPRetriever locates the report message over IMAP/IMAPS. The search runs
// server-side; "newest" means the highest UID among matches, which follows
// server fetch order rather than send time.
type IMAPRetriever struct {
	dialTimeout time.Duration
	logger      *logging.Logger
	newClient   func(Account) (imapClient, error)
}

// IMAPRetrieverOption customizes retriever behavior.
type IMAPRetrieverOption func(*IMAPRetriever)

// NewIMAPRetriever returns an IMAP retriever ready for a single run.
func NewIMAPRetriever(opts ...IMAPRetrieverOption) *IMAPRetriever {
	r := &IMAPRetriever{
		dialTimeout: 10 * time.Second,
	}
	r.newClient = r.defaultClientFactory
	for _, opt := range opts {
		opt(r)
	}
	if r.newClient == nil {
		r.newClient = r.defaultClientFactory
	}
	return r
}

// WithIMAPLogger overrides the logger used for retriever diagnostics.
func WithIMAPLogger(logger *logging.Logger) IMAPRetrieverOption {
	return func(r *IMAPRetriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPRetrieverOption {
	return func(r *IMAPRetriever) {
		if timeout > 0 {
			r.dialTimeout = timeout
		}
	}
}

func withIMAPClientFactory(factory func(Account) (imapClient, error)) IMAPRetrieverOption {
	return func(r *IMAPRetriever) {
		r.newClient = factory
	}
}

// Name returns the retriever identifier.
func (r *IMAPRetriever) Name() string {
	return "imap"
}

// FindAndDownload searches the account's folder for messages matching the
// query, fetches the match with the highest UID, and writes its first .zip
// attachment into destDir.
func (r *IMAPRetriever) FindAndDownload(ctx context.Context, account Account, query Query, destDir string) (string, bool, error) {
	if err := validateIMAPAccount(account); err != nil {
		return "", false, err
	}

	client, err := r.newClient(account)
	if err != nil {
		return "", false, fmt.Errorf("imap connect: %w", err)
	}
	defer r.safeClose(client)

	if err := client.Login(account.Username, string(account.Password)).Wait(); err != nil {
		return "", false, fmt.Errorf("imap auth: %w", err)
	}
	defer r.safeLogout(client)

	mailbox := account.Folder
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := client.Select(mailbox, nil).Wait(); err != nil {
		return "", false, fmt.Errorf("imap select %s: %w", mailbox, err)
	}

	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "From", Value: query.Sender},
			{Key: "Subject", Value: query.Subject},
		},
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return "", false, fmt.Errorf("imap search: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		r.logger.Warnf("imap: no message from %q with subject %q", query.Sender, query.Subject)
		return "", false, nil
	}

	if ctx.Err() != nil {
		return "", false, ctx.Err()
	}

	newest := uids[0]
	for _, uid := range uids[1:] {
		if uid > newest {
			newest = uid
		}
	}

	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	}
	fetchBuffers, err := client.Fetch(imap.UIDSetNum(newest), fetchOpts).Collect()
	if err != nil {
		return "", false, fmt.Errorf("imap fetch uid %d: %w", newest, err)
	}

	var raw []byte
	for _, buf := range fetchBuffers {
		if body := buf.FindBodySection(&imap.FetchItemBodySection{}); body != nil {
			raw = body
			break
		}
	}
	if len(raw) == 0 {
		r.logger.Warnf("imap: message uid %d has no body section", newest)
		return "", false, nil
	}

	path, found, err := saveFirstArchive(raw, destDir, r.logger)
	if err != nil {
		return "", false, err
	}
	if !found {
		r.logger.Warnf("imap: message uid %d carries no %s attachment", newest, archiveSuffix)
		return "", false, nil
	}
	r.logger.Infof("imap: saved attachment from uid %d to %s", newest, path)
	return path, true, nil
}

func (r *IMAPRetriever) safeClose(client imapClient) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		r.logger.Warnf("imap close error: %v", err)
	}
}

func (r *IMAPRetriever) safeLogout(client imapClient) {
	if err := client.Logout().Wait(); err != nil {
		r.logger.Warnf("imap logout error: %v", err)
	}
}

func (r *IMAPRetriever) defaultClientFactory(account Account) (imapClient, error) {
	if account.Host == "" {
		return nil, errors.New("imap account missing host")
	}
	port := account.Port
	if port == 0 {
		if useIMAPTLS(account.Type) {
			port = 993
		} else {
			port = 143
		}
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: r.dialTimeout}}
	addr := fmt.Sprintf("%s:%d", account.Host, port)
	var client *imapclient.Client
	var err error
	if useIMAPTLS(account.Type) {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}

func validateIMAPAccount(account Account) error {
	if account.Username == "" {
		return errors.New("imap account missing username")
	}
	if len(account.Password) == 0 {
		return errors.New("imap account missing password")
	}
	if !supportsIMAP(account.Type) {
		return fmt.Errorf("account type %s not supported by IMAP retriever", account.Type)
	}
	return nil
}

func supportsIMAP(t string) bool {
	switch strings.ToLower(t) {
	case "imap", "imaps", "imap_tls", "imaps_tls", "imaptls":
		return true
	default:
		return false
	}
}

func useIMAPTLS(t string) bool {
	switch strings.ToLower(t) {
	case "imaps", "imap_tls", "imaps_tls", "imaptls":
		return true
	default:
		return false
	}
}
