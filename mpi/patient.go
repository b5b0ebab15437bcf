package mpi

import (
	"encoding/json"
	"fmt"
)

// StrippedPatient is a Patient resource without the elements the MPI doesn't accept:
// extensions and the managing organization reference. The removed elements are kept, so they can be restored.
type StrippedPatient struct {
	Patient              json.RawMessage
	extension            json.RawMessage
	managingOrganization json.RawMessage
}

// StripPatient removes extension and managingOrganization from the given Patient resource.
func StripPatient(patient json.RawMessage) (*StrippedPatient, error) {
	var elements map[string]json.RawMessage
	if err := json.Unmarshal(patient, &elements); err != nil {
		return nil, fmt.Errorf("invalid Patient resource: %w", err)
	}
	result := StrippedPatient{
		extension:            elements["extension"],
		managingOrganization: elements["managingOrganization"],
	}
	delete(elements, "extension")
	delete(elements, "managingOrganization")
	var err error
	if result.Patient, err = json.Marshal(elements); err != nil {
		return nil, err
	}
	return &result, nil
}

// Restore puts the removed extensions and managing organization back onto the given Patient,
// which typically is the Patient as returned by the MPI. Empty extension lists aren't restored.
func (s StrippedPatient) Restore(patient json.RawMessage) (json.RawMessage, error) {
	var extensions []json.RawMessage
	if len(s.extension) > 0 {
		if err := json.Unmarshal(s.extension, &extensions); err != nil {
			return nil, fmt.Errorf("invalid Patient.extension: %w", err)
		}
	}
	restoreOrganization := len(s.managingOrganization) > 0 && string(s.managingOrganization) != "null"
	if len(extensions) == 0 && !restoreOrganization {
		return patient, nil
	}
	var elements map[string]json.RawMessage
	if err := json.Unmarshal(patient, &elements); err != nil {
		return nil, fmt.Errorf("invalid Patient resource: %w", err)
	}
	if elements == nil {
		elements = map[string]json.RawMessage{}
	}
	if len(extensions) > 0 {
		elements["extension"] = s.extension
	}
	if restoreOrganization {
		elements["managingOrganization"] = s.managingOrganization
	}
	return json.Marshal(elements)
}
