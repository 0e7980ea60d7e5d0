// Package mailbox locates the admission report message in a remote mail
// store and downloads its archive attachment.
package mailbox

import (
	"context"

	"github.com/admitsync-io/admitsync/internal/config"
)

// Account carries the minimal set of fields a retriever needs to open a
// mailbox. The mailbox is read-only from this system's perspective; no
// message is ever flagged or deleted.
type Account struct {
	Type     string // imap, imaps, pop3, pop3s
	Host     string
	Port     int
	Username string
	Password []byte
	Folder   string
}

// AccountFromConfig maps the mail section of the run configuration onto an
// Account.
func AccountFromConfig(mc config.MailConfig) Account {
	return Account{
		Type:     mc.Type,
		Host:     mc.Host,
		Port:     mc.Port,
		Username: mc.Username,
		Password: []byte(mc.Password),
		Folder:   mc.Folder,
	}
}

// Query selects the report message. Both filters must match; matching is a
// case-insensitive substring test, mirroring server-side IMAP search
// semantics.
type Query struct {
	Sender  string
	Subject string
}

// Retriever implementations (IMAP, POP3) find the newest message matching
// the query and write its first .zip attachment into destDir.
//
// Returns (path, true, nil) when an attachment was downloaded,
// ("", false, nil) when no matching message or no qualifying attachment
// exists, and ("", false, err) on connection or protocol failure. The
// session is closed on every path.
type Retriever interface {
	Name() string
	FindAndDownload(ctx context.Context, account Account, query Query, destDir string) (string, bool, error)
}

// Factory resolves the correct retriever implementation for a mailbox.
type Factory interface {
	RetrieverFor(account Account) (Retriever, error)
}
