// Package pipeline drives one ingestion run: retrieve the report mail,
// unpack and parse its archive, insert the rows not already present.
package pipeline

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/admitsync-io/admitsync/internal/config"
	"github.com/admitsync-io/admitsync/internal/logging"
	"github.com/admitsync-io/admitsync/internal/mailbox"
	"github.com/admitsync-io/admitsync/internal/models"
	"github.com/admitsync-io/admitsync/internal/report"
	"github.com/admitsync-io/admitsync/internal/repository"
)

// ReportLoader unpacks the downloaded archive and parses its tabular file.
type ReportLoader interface {
	ExtractAndLoad(archivePath, dir string) ([]models.AdmissionRecord, bool, error)
}

type admissionStore interface {
	ExistingPatientIDs(ctx context.Context) (map[string]struct{}, error)
	InsertNew(ctx context.Context, records []models.AdmissionRecord, existing map[string]struct{}) (repository.InsertStats, error)
}

type storeOpener func(ctx context.Context) (admissionStore, io.Closer, error)

// Summary describes the outcome of a single run. A run that found nothing to
// do and a run that inserted rows both terminate the process identically;
// the summary and the log are the only places the difference shows.
type Summary struct {
	RunID           string
	AttachmentPath  string
	RowsParsed      int
	Inserted        int
	SkippedExisting int
	Failed          int
	Completed       bool
}

// Pipeline sequences the three stages with short-circuit semantics. No stage
// is retried, nothing runs concurrently, and the database connection is
// opened only once parsed rows exist.
type Pipeline struct {
	cfg       *config.Config
	logger    *logging.Logger
	factory   mailbox.Factory
	loader    ReportLoader
	openStore storeOpener
	newRunID  func() string
}

// Option customizes pipeline wiring.
type Option func(*Pipeline)

// WithMailFactory overrides the retriever factory.
func WithMailFactory(f mailbox.Factory) Option {
	return func(p *Pipeline) {
		if f != nil {
			p.factory = f
		}
	}
}

// WithLoader overrides the report loader.
func WithLoader(l ReportLoader) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.loader = l
		}
	}
}

func withStoreOpener(open storeOpener) Option {
	return func(p *Pipeline) {
		p.openStore = open
	}
}

func withRunID(id string) Option {
	return func(p *Pipeline) {
		p.newRunID = func() string { return id }
	}
}

// New wires a pipeline from the run configuration.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		logger:   logger,
		factory:  mailbox.DefaultFactory(logger, cfg.Mail.DialTimeout),
		loader:   report.NewLoader(logger),
		newRunID: uuid.NewString,
	}
	p.openStore = p.defaultStoreOpener
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the three stages once. Every failure is caught and logged
// here or below; absence of matching data ends the run at WARNING. The mail
// session and database connection are released on every path.
func (p *Pipeline) Run(ctx context.Context) Summary {
	summary := Summary{RunID: p.newRunID()}
	log := p.logger
	log.Infof("pipeline: run %s started", summary.RunID)

	destDir := p.cfg.Ingest.AttachmentDir
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		log.Errorf("pipeline: create attachment directory %s: %v", destDir, err)
		return summary
	}

	account := mailbox.AccountFromConfig(p.cfg.Mail)
	retriever, err := p.factory.RetrieverFor(account)
	if err != nil {
		log.Errorf("pipeline: %v", err)
		return summary
	}

	query := mailbox.Query{Sender: p.cfg.Mail.Sender, Subject: p.cfg.Mail.Subject}
	path, found, err := retriever.FindAndDownload(ctx, account, query, destDir)
	if err != nil {
		log.Errorf("pipeline: mail retrieval failed: %v", err)
		return summary
	}
	if !found {
		log.Warnf("pipeline: run %s ended, no report to ingest", summary.RunID)
		return summary
	}
	summary.AttachmentPath = path

	records, found, err := p.loader.ExtractAndLoad(path, destDir)
	if err != nil {
		log.Errorf("pipeline: archive load failed: %v", err)
		return summary
	}
	if !found {
		log.Warnf("pipeline: run %s ended, archive held no tabular data", summary.RunID)
		return summary
	}
	summary.RowsParsed = len(records)

	store, closer, err := p.openStore(ctx)
	if err != nil {
		log.Errorf("pipeline: database connect failed: %v", err)
		return summary
	}
	defer closer.Close()

	existing, err := store.ExistingPatientIDs(ctx)
	if err != nil {
		log.Errorf("pipeline: %v", err)
		return summary
	}

	stats, err := store.InsertNew(ctx, records, existing)
	summary.Inserted = stats.Inserted
	summary.SkippedExisting = stats.SkippedExisting
	summary.Failed = stats.Failed
	if err != nil {
		log.Errorf("pipeline: %v", err)
		return summary
	}

	summary.Completed = true
	log.Infof("pipeline: run %s finished, %d parsed, %d inserted, %d already present, %d failed",
		summary.RunID, summary.RowsParsed, summary.Inserted, summary.SkippedExisting, summary.Failed)
	return summary
}

func (p *Pipeline) defaultStoreOpener(ctx context.Context) (admissionStore, io.Closer, error) {
	dbCfg := p.cfg.Database
	db, err := sqlx.ConnectContext(ctx, dbCfg.Driver, dbCfg.DSN())
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewAdmissionRepository(db, dbCfg.QualifiedTable(), p.logger)
	return repo, db, nil
}
