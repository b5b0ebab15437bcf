package mediator

import (
	"encoding/json"

	"github.com/SanteonNL/mpi-mediator/lib/coolfhir"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// PatientData is the patient a bundle is about: either an embedded Patient resource,
// or (when no Patient is embedded) a local reference to one.
type PatientData struct {
	// Resource is the embedded Patient resource, if any.
	Resource json.RawMessage
	// FullURL is the fullUrl of the entry containing the embedded Patient.
	FullURL string
	// ID is the local id of the patient.
	ID string
	// Reference is the local reference to the patient (e.g. Patient/9).
	Reference string
}

// IsEmpty returns true if the bundle doesn't involve a patient.
func (p PatientData) IsEmpty() bool {
	return len(p.Resource) == 0 && p.ID == ""
}

// Key returns the key of the patient's entry in an IdentityMap.
func (p PatientData) Key() string {
	if p.FullURL != "" {
		return p.FullURL
	}
	return p.Reference
}

// localReferences returns the references by which other entries in the bundle may refer to the patient.
func (p PatientData) localReferences() []string {
	var result []string
	if p.Reference != "" {
		result = append(result, p.Reference)
	}
	if p.FullURL != "" && p.FullURL != p.Reference {
		result = append(result, p.FullURL)
	}
	return result
}

// ExtractPatient finds the patient the bundle is about. An embedded Patient resource takes precedence;
// otherwise the first local Patient reference in any entry's resource (in bundle and document order) is returned.
// It returns an empty PatientData if the bundle doesn't involve a patient.
func ExtractPatient(bundle fhir.Bundle) PatientData {
	if idx, err := coolfhir.FirstBundleEntry(&bundle, coolfhir.EntryIsOfType("Patient")); err == nil {
		entry := bundle.Entry[idx]
		res, _ := coolfhir.DescribeEntry(entry)
		result := PatientData{
			Resource: entry.Resource,
			ID:       res.ID,
		}
		if entry.FullUrl != nil {
			result.FullURL = *entry.FullUrl
		}
		if res.ID != "" {
			result.Reference = res.Path()
		}
		return result
	}
	for _, entry := range bundle.Entry {
		for _, reference := range coolfhir.LiteralReferences(entry.Resource) {
			if id, ok := coolfhir.IsLocalReference(reference, "Patient"); ok {
				return PatientData{
					ID:        id,
					Reference: reference,
				}
			}
		}
	}
	return PatientData{}
}
