package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "imaps", cfg.Mail.Type)
	require.Equal(t, "INBOX", cfg.Mail.Folder)
	require.Equal(t, 10*time.Second, cfg.Mail.DialTimeout)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "patient_admissions", cfg.Database.Table)
	require.Equal(t, "attachments", cfg.Ingest.AttachmentDir)
	require.Equal(t, "admitsync.log", cfg.Logging.File)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("ADMITSYNC_MAIL_HOST", "mail.hospital.example")
	t.Setenv("ADMITSYNC_MAIL_USERNAME", "reports")
	t.Setenv("ADMITSYNC_MAIL_SENDER", "his@hospital.example")
	t.Setenv("ADMITSYNC_MAIL_SUBJECT", "Daily Admission Report")
	t.Setenv("ADMITSYNC_DATABASE_DRIVER", "mysql")
	t.Setenv("ADMITSYNC_DATABASE_NAME", "hospital")
	t.Setenv("ADMITSYNC_DATABASE_TABLE", "admissions")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "mail.hospital.example", cfg.Mail.Host)
	require.Equal(t, "reports", cfg.Mail.Username)
	require.Equal(t, "his@hospital.example", cfg.Mail.Sender)
	require.Equal(t, "Daily Admission Report", cfg.Mail.Subject)
	require.Equal(t, "mysql", cfg.Database.Driver)
	require.Equal(t, "hospital", cfg.Database.Name)
	require.Equal(t, "admissions", cfg.Database.Table)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
mail:
  host: imap.example.org
  port: 993
  sender: sender@example.org
database:
  driver: sqlite3
  name: ./local.db
ingest:
  attachment_dir: /var/lib/admitsync
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "imap.example.org", cfg.Mail.Host)
	require.Equal(t, 993, cfg.Mail.Port)
	require.Equal(t, "sqlite3", cfg.Database.Driver)
	require.Equal(t, "/var/lib/admitsync", cfg.Ingest.AttachmentDir)
	// untouched keys keep defaults
	require.Equal(t, "INBOX", cfg.Mail.Folder)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDSNPerDriver(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5433, Name: "hospital", User: "app", Password: "pw", SSLMode: "require"}
	require.Equal(t, "host=db port=5433 user=app password=pw dbname=hospital sslmode=require", pg.DSN())

	pgDefault := DatabaseConfig{Driver: "postgres", Host: "db", Name: "hospital", User: "app", SSLMode: "disable"}
	require.Contains(t, pgDefault.DSN(), "port=5432")

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3307, Name: "hospital", User: "app", Password: "pw"}
	require.Equal(t, "app:pw@tcp(db:3307)/hospital?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite3", Name: "./local.db"}
	require.Equal(t, "./local.db", lite.DSN())
}

func TestQualifiedTable(t *testing.T) {
	c := DatabaseConfig{Schema: "public", Table: "patient_admissions"}
	require.Equal(t, "public.patient_admissions", c.QualifiedTable())

	c.Schema = ""
	require.Equal(t, "patient_admissions", c.QualifiedTable())
}
