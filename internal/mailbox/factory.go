package mailbox

import (
	"fmt"
	"strings"
	"time"

	"github.com/admitsync-io/admitsync/internal/logging"
)

// FactoryOption customizes a retriever factory.
type FactoryOption func(*simpleFactory)

type simpleFactory struct {
	retrievers map[string]Retriever
}

// NewFactory builds a retriever factory with the provided options.
func NewFactory(opts ...FactoryOption) Factory {
	f := &simpleFactory{retrievers: make(map[string]Retriever)}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// DefaultFactory returns a factory preloaded with the built-in retrievers,
// all sharing the provided logger and socket dial timeout. A zero timeout
// keeps each retriever's default.
func DefaultFactory(logger *logging.Logger, dialTimeout time.Duration) Factory {
	return NewFactory(
		WithRetriever(NewPOP3Retriever(
			WithPOP3Logger(logger),
			WithPOP3DialTimeout(dialTimeout),
		), "pop3", "pop3s", "pop3_tls", "pop3s_tls"),
		WithRetriever(NewIMAPRetriever(
			WithIMAPLogger(logger),
			WithIMAPDialTimeout(dialTimeout),
		), "imap", "imaps", "imap_tls", "imaps_tls", "imaptls"),
	)
}

// WithRetriever registers a retriever for the provided account types.
func WithRetriever(retriever Retriever, accountTypes ...string) FactoryOption {
	return func(f *simpleFactory) {
		if f == nil || retriever == nil {
			return
		}
		for _, t := range accountTypes {
			key := normalizeType(t)
			if key == "" {
				continue
			}
			f.retrievers[key] = retriever
		}
	}
}

func (f *simpleFactory) RetrieverFor(account Account) (Retriever, error) {
	key := normalizeType(account.Type)
	retriever, ok := f.retrievers[key]
	if !ok {
		return nil, fmt.Errorf("no retriever registered for account type %s", account.Type)
	}
	return retriever, nil
}

func normalizeType(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
