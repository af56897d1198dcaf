package bdi

// Field is one attribute of the harmonization target.
type Field struct {
	Name        string
	Description string
	Values      []string
}

// GDCSchema is the clinical subset of the GDC data dictionary files are
// harmonized to.
var GDCSchema = []Field{
	{Name: "case_submitter_id", Description: "Submitter identifier of the patient/case"},
	{Name: "project_id", Description: "Project the case belongs to, e.g. TCGA-BRCA"},
	{Name: "age_at_diagnosis", Description: "Age at diagnosis in days"},
	{Name: "gender", Description: "Self-reported gender", Values: []string{"female", "male", "unknown", "unspecified", "not reported"}},
	{Name: "race", Description: "Self-reported race", Values: []string{"white", "black or african american", "asian", "american indian or alaska native", "native hawaiian or other pacific islander", "other", "unknown", "not reported"}},
	{Name: "ethnicity", Description: "Self-reported ethnicity", Values: []string{"hispanic or latino", "not hispanic or latino", "unknown", "not reported"}},
	{Name: "vital_status", Description: "Alive or dead at last follow-up", Values: []string{"Alive", "Dead", "Unknown", "Not Reported"}},
	{Name: "days_to_death", Description: "Days from diagnosis to death"},
	{Name: "days_to_last_follow_up", Description: "Days from diagnosis to last follow-up"},
	{Name: "primary_diagnosis", Description: "Histological diagnosis, ICD-O-3 text"},
	{Name: "morphology", Description: "ICD-O-3 morphology code, e.g. 8500/3"},
	{Name: "tissue_or_organ_of_origin", Description: "ICD-O-3 topography text of the origin site"},
	{Name: "site_of_resection_or_biopsy", Description: "ICD-O-3 topography text of the sampled site"},
	{Name: "tumor_grade", Description: "Histologic grade", Values: []string{"G1", "G2", "G3", "G4", "GX", "GB", "High Grade", "Low Grade", "Unknown", "Not Reported"}},
	{Name: "ajcc_pathologic_stage", Description: "AJCC pathologic stage, e.g. Stage IIA"},
	{Name: "ajcc_pathologic_t", Description: "AJCC pathologic T category, e.g. T2"},
	{Name: "ajcc_pathologic_n", Description: "AJCC pathologic N category, e.g. N0"},
	{Name: "ajcc_pathologic_m", Description: "AJCC pathologic M category, e.g. M0"},
}

func fieldByName(name string) (Field, bool) {
	for _, f := range GDCSchema {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
