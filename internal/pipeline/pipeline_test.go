package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/admitsync-io/admitsync/internal/config"
	"github.com/admitsync-io/admitsync/internal/logging"
	"github.com/admitsync-io/admitsync/internal/mailbox"
	"github.com/admitsync-io/admitsync/internal/models"
	"github.com/admitsync-io/admitsync/internal/repository"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Mail: config.MailConfig{
			Type:    "imaps",
			Host:    "mail.hospital.example",
			Sender:  "his@hospital.example",
			Subject: "Daily Admission Report",
		},
		Database: config.DatabaseConfig{Driver: "postgres", Table: "patient_admissions"},
		Ingest:   config.IngestConfig{AttachmentDir: t.TempDir()},
	}
}

type fakeRetriever struct {
	path  string
	found bool
	err   error
	calls int
}

func (f *fakeRetriever) Name() string { return "fake" }
func (f *fakeRetriever) FindAndDownload(_ context.Context, _ mailbox.Account, _ mailbox.Query, _ string) (string, bool, error) {
	f.calls++
	return f.path, f.found, f.err
}

type fakeFactory struct {
	retriever mailbox.Retriever
	err       error
}

func (f *fakeFactory) RetrieverFor(mailbox.Account) (mailbox.Retriever, error) {
	return f.retriever, f.err
}

type fakeLoader struct {
	records []models.AdmissionRecord
	found   bool
	err     error
	calls   int
}

func (f *fakeLoader) ExtractAndLoad(_, _ string) ([]models.AdmissionRecord, bool, error) {
	f.calls++
	return f.records, f.found, f.err
}

// fakeStore keeps an in-memory identifier set so idempotence across runs can
// be exercised.
type fakeStore struct {
	ids        map[string]struct{}
	scanErr    error
	insertErr  error
	openCalls  *int
	closeCalls *int
}

func (s *fakeStore) ExistingPatientIDs(context.Context) (map[string]struct{}, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	snapshot := make(map[string]struct{}, len(s.ids))
	for id := range s.ids {
		snapshot[id] = struct{}{}
	}
	return snapshot, nil
}

func (s *fakeStore) InsertNew(_ context.Context, records []models.AdmissionRecord, existing map[string]struct{}) (repository.InsertStats, error) {
	if s.insertErr != nil {
		return repository.InsertStats{}, s.insertErr
	}
	var stats repository.InsertStats
	for _, rec := range records {
		if rec.PatientID == "" {
			stats.Failed++
			continue
		}
		if _, ok := existing[rec.PatientID]; ok {
			stats.SkippedExisting++
			continue
		}
		s.ids[rec.PatientID] = struct{}{}
		existing[rec.PatientID] = struct{}{}
		stats.Inserted++
	}
	return stats, nil
}

type fakeCloser struct{ closes *int }

func (c fakeCloser) Close() error { *c.closes += 1; return nil }

func newTestPipeline(t *testing.T, retriever *fakeRetriever, loader *fakeLoader, store *fakeStore) (*Pipeline, *int, *int) {
	opens, closes := 0, 0
	opener := func(context.Context) (admissionStore, io.Closer, error) {
		opens++
		return store, fakeCloser{closes: &closes}, nil
	}
	p := New(testConfig(t), logging.NewWithWriter(io.Discard),
		WithMailFactory(&fakeFactory{retriever: retriever}),
		WithLoader(loader),
		withStoreOpener(opener),
		withRunID("run-1"),
	)
	return p, &opens, &closes
}

func TestRunInsertsOnlyNewRows(t *testing.T) {
	retriever := &fakeRetriever{path: "/tmp/report.zip", found: true}
	loader := &fakeLoader{
		records: []models.AdmissionRecord{{PatientID: "P001"}, {PatientID: "P002"}},
		found:   true,
	}
	store := &fakeStore{ids: map[string]struct{}{"P001": {}}}
	p, opens, closes := newTestPipeline(t, retriever, loader, store)

	summary := p.Run(context.Background())
	require.True(t, summary.Completed)
	require.Equal(t, "run-1", summary.RunID)
	require.Equal(t, "/tmp/report.zip", summary.AttachmentPath)
	require.Equal(t, 2, summary.RowsParsed)
	require.Equal(t, 1, summary.Inserted)
	require.Equal(t, 1, summary.SkippedExisting)
	require.Zero(t, summary.Failed)
	require.Equal(t, 1, *opens)
	require.Equal(t, 1, *closes)
}

func TestRunNoMatchingMessageSkipsEverything(t *testing.T) {
	retriever := &fakeRetriever{found: false}
	loader := &fakeLoader{}
	store := &fakeStore{ids: map[string]struct{}{}}
	p, opens, _ := newTestPipeline(t, retriever, loader, store)

	summary := p.Run(context.Background())
	require.False(t, summary.Completed)
	require.Empty(t, summary.AttachmentPath)
	require.Zero(t, summary.RowsParsed)
	require.Equal(t, 1, retriever.calls)
	require.Zero(t, loader.calls)
	require.Zero(t, *opens, "database must not be opened when no message matches")
}

func TestRunSecondPassIsIdempotent(t *testing.T) {
	retriever := &fakeRetriever{path: "/tmp/report.zip", found: true}
	loader := &fakeLoader{
		records: []models.AdmissionRecord{{PatientID: "P001"}, {PatientID: "P002"}},
		found:   true,
	}
	store := &fakeStore{ids: map[string]struct{}{}}
	p, _, _ := newTestPipeline(t, retriever, loader, store)

	first := p.Run(context.Background())
	require.Equal(t, 2, first.Inserted)

	second := p.Run(context.Background())
	require.True(t, second.Completed)
	require.Zero(t, second.Inserted)
	require.Equal(t, 2, second.SkippedExisting)
}

func TestRunRetrievalErrorStopsPipeline(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("imap auth: bad creds")}
	loader := &fakeLoader{}
	store := &fakeStore{ids: map[string]struct{}{}}
	p, opens, _ := newTestPipeline(t, retriever, loader, store)

	summary := p.Run(context.Background())
	require.False(t, summary.Completed)
	require.Zero(t, loader.calls)
	require.Zero(t, *opens)
}

func TestRunLoaderAbsentStopsBeforeDatabase(t *testing.T) {
	retriever := &fakeRetriever{path: "/tmp/report.zip", found: true}
	loader := &fakeLoader{found: false}
	store := &fakeStore{ids: map[string]struct{}{}}
	p, opens, _ := newTestPipeline(t, retriever, loader, store)

	summary := p.Run(context.Background())
	require.False(t, summary.Completed)
	require.Equal(t, 1, loader.calls)
	require.Zero(t, *opens)
}

func TestRunLoaderErrorStopsBeforeDatabase(t *testing.T) {
	retriever := &fakeRetriever{path: "/tmp/report.zip", found: true}
	loader := &fakeLoader{err: errors.New("open archive: not a zip")}
	store := &fakeStore{ids: map[string]struct{}{}}
	p, opens, _ := newTestPipeline(t, retriever, loader, store)

	summary := p.Run(context.Background())
	require.False(t, summary.Completed)
	require.Zero(t, *opens)
}

func TestRunSnapshotErrorClosesConnection(t *testing.T) {
	retriever := &fakeRetriever{path: "/tmp/report.zip", found: true}
	loader := &fakeLoader{records: []models.AdmissionRecord{{PatientID: "P001"}}, found: true}
	store := &fakeStore{ids: map[string]struct{}{}, scanErr: errors.New("table missing")}
	p, opens, closes := newTestPipeline(t, retriever, loader, store)

	summary := p.Run(context.Background())
	require.False(t, summary.Completed)
	require.Equal(t, 1, *opens)
	require.Equal(t, 1, *closes, "connection must be released on the error path")
}

func TestRunUnknownAccountType(t *testing.T) {
	store := &fakeStore{ids: map[string]struct{}{}}
	opens := 0
	p := New(testConfig(t), logging.NewWithWriter(io.Discard),
		WithMailFactory(&fakeFactory{err: errors.New("no retriever registered for account type graph")}),
		withStoreOpener(func(context.Context) (admissionStore, io.Closer, error) {
			opens++
			return store, fakeCloser{closes: new(int)}, nil
		}),
	)
	summary := p.Run(context.Background())
	require.False(t, summary.Completed)
	require.Zero(t, opens)
}
