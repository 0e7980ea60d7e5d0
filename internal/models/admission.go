package models

// AdmissionRecord is one tabular row from a hospital admission report,
// mapped onto the fixed target schema. All fields are carried as the raw
// strings parsed from the report; the database owns type coercion.
type AdmissionRecord struct {
	PatientID             string
	FirstName             string
	LastName              string
	DateOfBirth           string
	Gender                string
	AdmissionDate         string
	DischargeDate         string
	WardNumber            string
	BedNumber             string
	Diagnosis             string
	TreatmentPlan         string
	AttendingPhysicianID  string
	EmergencyContactName  string
	EmergencyContactPhone string
	InsuranceProvider     string
}
