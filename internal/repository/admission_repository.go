// Package repository talks to the destination admissions table.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/admitsync-io/admitsync/internal/logging"
	"github.com/admitsync-io/admitsync/internal/models"
)

// AdmissionRepository reads the existing-identifier snapshot and inserts new
// admission rows. The table must pre-exist.
type AdmissionRepository struct {
	db     *sqlx.DB
	table  string
	logger *logging.Logger
	now    func() time.Time
}

// AdmissionRepositoryOption customizes repository behavior.
type AdmissionRepositoryOption func(*AdmissionRepository)

// WithClock overrides the wall clock used for insertion timestamps,
// primarily for tests.
func WithClock(now func() time.Time) AdmissionRepositoryOption {
	return func(r *AdmissionRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewAdmissionRepository returns a repository bound to the (optionally
// schema-qualified) table name.
func NewAdmissionRepository(db *sqlx.DB, table string, logger *logging.Logger, opts ...AdmissionRepositoryOption) *AdmissionRepository {
	r := &AdmissionRepository{
		db:     db,
		table:  table,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExistingPatientIDs runs a full-table identifier scan and materializes the
// result set in memory. Acceptable only because report volumes are small;
// there is no pagination. The snapshot is never refreshed during a run, so
// concurrent external inserts are not detected.
func (r *AdmissionRepository) ExistingPatientIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	query := fmt.Sprintf("SELECT patient_id FROM %s", r.table)
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("scan existing patient ids: %w", err)
	}
	existing := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		existing[id] = struct{}{}
	}
	return existing, nil
}

// InsertStats reports the outcome of one insert batch. Failed rows are
// logged individually; the batch itself still commits.
type InsertStats struct {
	Inserted        int
	SkippedExisting int
	Failed          int
}

// InsertNew inserts every record whose identifier is absent from the
// existing snapshot, stamping each row with a generated insertion timestamp.
// Each insert runs inside a savepoint so one failing row never aborts the
// batch or rolls back earlier rows; a single commit finalizes all successful
// inserts.
func (r *AdmissionRepository) InsertNew(ctx context.Context, records []models.AdmissionRecord, existing map[string]struct{}) (InsertStats, error) {
	var stats InsertStats

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	seen := make(map[string]struct{}, len(existing))
	for id := range existing {
		seen[id] = struct{}{}
	}

	query := fmt.Sprintf(`INSERT INTO %s (
		patient_id, first_name, last_name, date_of_birth, gender,
		admission_date, discharge_date, ward_number, bed_number,
		diagnosis, treatment_plan, attending_physician_id,
		emergency_contact_name, emergency_contact_phone, insurance_provider,
		inserted_at
	) VALUES (
		:patient_id, :first_name, :last_name, :date_of_birth, :gender,
		:admission_date, :discharge_date, :ward_number, :bed_number,
		:diagnosis, :treatment_plan, :attending_physician_id,
		:emergency_contact_name, :emergency_contact_phone, :insurance_provider,
		:inserted_at
	)`, r.table)

	for i, rec := range records {
		if rec.PatientID == "" {
			stats.Failed++
			r.logger.Warnf("repository: row %d has no patient_id, skipped", i+1)
			continue
		}
		if _, ok := seen[rec.PatientID]; ok {
			stats.SkippedExisting++
			continue
		}

		savepoint := fmt.Sprintf("sp_row_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return stats, fmt.Errorf("savepoint for row %d: %w", i+1, err)
		}
		if _, err := tx.NamedExecContext(ctx, query, r.insertArgs(rec)); err != nil {
			stats.Failed++
			r.logger.Warnf("repository: insert %s failed, skipped: %v", rec.PatientID, err)
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
				return stats, fmt.Errorf("rollback to savepoint for row %d: %w", i+1, rbErr)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return stats, fmt.Errorf("release savepoint for row %d: %w", i+1, err)
		}
		stats.Inserted++
		seen[rec.PatientID] = struct{}{}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit inserts: %w", err)
	}
	return stats, nil
}

func (r *AdmissionRepository) insertArgs(rec models.AdmissionRecord) map[string]any {
	return map[string]any{
		"patient_id":              rec.PatientID,
		"first_name":              rec.FirstName,
		"last_name":               rec.LastName,
		"date_of_birth":           rec.DateOfBirth,
		"gender":                  rec.Gender,
		"admission_date":          rec.AdmissionDate,
		"discharge_date":          nullIfEmpty(rec.DischargeDate),
		"ward_number":             rec.WardNumber,
		"bed_number":              rec.BedNumber,
		"diagnosis":               nullIfEmpty(rec.Diagnosis),
		"treatment_plan":          nullIfEmpty(rec.TreatmentPlan),
		"attending_physician_id":  nullIfEmpty(rec.AttendingPhysicianID),
		"emergency_contact_name":  nullIfEmpty(rec.EmergencyContactName),
		"emergency_contact_phone": nullIfEmpty(rec.EmergencyContactPhone),
		"insurance_provider":      nullIfEmpty(rec.InsuranceProvider),
		"inserted_at":             r.now(),
	}
}

// nullIfEmpty maps empty optional fields to SQL NULL so date and foreign-key
// columns accept them.
func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
