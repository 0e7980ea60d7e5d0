package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/admitsync-io/admitsync/internal/models"
)

const (
	csvSuffix         = ".csv"
	spreadsheetSuffix = ".xlsx"
)

// LoadTabular scans dir for the first .csv file in listing order, falling
// back to the first .xlsx, and parses it into admission records. Exactly one
// tabular source is consumed even when several qualify. Returns
// (nil, false, nil) when the directory holds no tabular file.
func (l *Loader) LoadTabular(dir string) ([]models.AdmissionRecord, bool, error) {
	if path, ok := firstWithSuffix(dir, csvSuffix); ok {
		records, err := parseCSV(path)
		if err != nil {
			return nil, false, err
		}
		l.logger.Infof("report: loaded %d rows from %s", len(records), path)
		return records, true, nil
	}
	if path, ok := firstWithSuffix(dir, spreadsheetSuffix); ok {
		records, err := parseXLSX(path)
		if err != nil {
			return nil, false, err
		}
		l.logger.Infof("report: loaded %d rows from %s", len(records), path)
		return records, true, nil
	}
	l.logger.Warnf("report: no %s or %s file found in %s", csvSuffix, spreadsheetSuffix, dir)
	return nil, false, nil
}

func firstWithSuffix(dir, suffix string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(entry.Name()), suffix) {
			return filepath.Join(dir, entry.Name()), true
		}
	}
	return "", false
}

func parseCSV(path string) ([]models.AdmissionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return recordsFromRows(rows), nil
}

func parseXLSX(path string) ([]models.AdmissionRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s of %s: %w", sheet, path, err)
	}
	return recordsFromRows(rows), nil
}

// Column names of the fixed target schema as they appear in the report
// header row. Matching is case-insensitive after trimming.
var columnSetters = map[string]func(*models.AdmissionRecord, string){
	"patient_id":              func(r *models.AdmissionRecord, v string) { r.PatientID = v },
	"first_name":              func(r *models.AdmissionRecord, v string) { r.FirstName = v },
	"last_name":               func(r *models.AdmissionRecord, v string) { r.LastName = v },
	"date_of_birth":           func(r *models.AdmissionRecord, v string) { r.DateOfBirth = v },
	"gender":                  func(r *models.AdmissionRecord, v string) { r.Gender = v },
	"admission_date":          func(r *models.AdmissionRecord, v string) { r.AdmissionDate = v },
	"discharge_date":          func(r *models.AdmissionRecord, v string) { r.DischargeDate = v },
	"ward_number":             func(r *models.AdmissionRecord, v string) { r.WardNumber = v },
	"bed_number":              func(r *models.AdmissionRecord, v string) { r.BedNumber = v },
	"diagnosis":               func(r *models.AdmissionRecord, v string) { r.Diagnosis = v },
	"treatment_plan":          func(r *models.AdmissionRecord, v string) { r.TreatmentPlan = v },
	"attending_physician_id":  func(r *models.AdmissionRecord, v string) { r.AttendingPhysicianID = v },
	"emergency_contact_name":  func(r *models.AdmissionRecord, v string) { r.EmergencyContactName = v },
	"emergency_contact_phone": func(r *models.AdmissionRecord, v string) { r.EmergencyContactPhone = v },
	"insurance_provider":      func(r *models.AdmissionRecord, v string) { r.InsuranceProvider = v },
}

func recordsFromRows(rows [][]string) []models.AdmissionRecord {
	if len(rows) == 0 {
		return nil
	}
	header := make(map[int]func(*models.AdmissionRecord, string))
	for i, name := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(name))
		if setter, ok := columnSetters[key]; ok {
			header[i] = setter
		}
	}
	records := make([]models.AdmissionRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		var rec models.AdmissionRecord
		for i, cell := range row {
			if setter, ok := header[i]; ok {
				setter(&rec, strings.TrimSpace(cell))
			}
		}
		records = append(records, rec)
	}
	return records
}
