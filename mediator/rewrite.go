package mediator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/SanteonNL/mpi-mediator/lib/coolfhir"
	"github.com/SanteonNL/mpi-mediator/lib/to"
	"github.com/SanteonNL/mpi-mediator/mpi"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

var errMissingIdentityID = errors.New("ID in MPI response is missing")

// IdentityMap maps the key of a Patient entry (its fullUrl, see PatientData.Key) to the patient's canonical identity.
type IdentityMap map[string]mpi.Identity

// NormalizeBundleType changes a document bundle into a transaction bundle, so it can be applied by the data store.
// It returns true if the type was changed.
func NormalizeBundleType(bundle *fhir.Bundle) bool {
	if bundle.Type != fhir.BundleTypeDocument {
		return false
	}
	bundle.Type = fhir.BundleTypeTransaction
	return true
}

// SubstituteReferences replaces every reference in the bundle's resources that is a key in replacements
// with the mapped value. It returns a copy of the bundle; entries without matching references keep their exact content.
func SubstituteReferences(bundle fhir.Bundle, replacements map[string]string) (fhir.Bundle, error) {
	result := coolfhir.CopyBundle(bundle)
	for i, entry := range result.Entry {
		resource, changed, err := coolfhir.ReplaceReferences(entry.Resource, replacements)
		if err != nil {
			return fhir.Bundle{}, fmt.Errorf("bundle entry %d: %w", i, err)
		}
		if changed {
			result.Entry[i].Resource = resource
		}
	}
	return result, nil
}

// RewriteBundle prepares a bundle for the data store. It returns a copy of the bundle in which:
//   - a document bundle has become a transaction bundle,
//   - every Patient entry in identities is replaced by a stub that refers to the canonical patient, upserted at Patient/<canonical id>,
//   - every other entry without a request gets an upsert request for <resourceType>/<id>, even if either is absent.
//
// Entries that already have a request are left as-is, which makes rewriting an already rewritten bundle a no-op.
func RewriteBundle(bundle fhir.Bundle, identities IdentityMap) (fhir.Bundle, error) {
	result := coolfhir.CopyBundle(bundle)
	NormalizeBundleType(&result)
	for i, entry := range result.Entry {
		res, ok := coolfhir.DescribeEntry(entry)
		if ok && res.Type == "Patient" {
			if identity, mapped := identities[patientEntryKey(entry, res)]; mapped {
				if identity.ID == "" {
					return fhir.Bundle{}, &Failure{
						Kind:       DataConsistencyError,
						StatusCode: http.StatusInternalServerError,
						Body:       errorBody("error", errMissingIdentityID),
						Err:        errMissingIdentityID,
					}
				}
				stub, err := patientStub(identity.Reference)
				if err != nil {
					return fhir.Bundle{}, err
				}
				result.Entry[i].Resource = stub
				result.Entry[i].Request = coolfhir.UpsertRequest("Patient/" + identity.ID)
				continue
			}
		}
		if entry.Request != nil {
			continue
		}
		// Entries without type or id get an upsert the data store will reject; its response is reported as-is.
		result.Entry[i].Request = coolfhir.UpsertRequest(upsertPath(entry))
	}
	return result, nil
}

// upsertPath returns <resourceType>/<id> of the entry's resource, with empty parts for absent properties.
func upsertPath(entry fhir.BundleEntry) string {
	var res coolfhir.Resource
	_ = json.Unmarshal(entry.Resource, &res)
	return res.Path()
}

func patientEntryKey(entry fhir.BundleEntry, res coolfhir.Resource) string {
	if entry.FullUrl != nil && *entry.FullUrl != "" {
		return *entry.FullUrl
	}
	if res.ID == "" {
		return ""
	}
	return res.Path()
}

// patientStub returns a Patient resource that only refers to the canonical patient.
func patientStub(canonicalReference string) (json.RawMessage, error) {
	return json.Marshal(fhir.Patient{
		Link: []fhir.PatientLink{
			{
				Other: fhir.Reference{Reference: to.Ptr(canonicalReference)},
				Type:  fhir.LinkTypeRefer,
			},
		},
	})
}

func operationOutcomeBody(code fhir.IssueType, diagnostics string) json.RawMessage {
	data, _ := json.Marshal(coolfhir.NewOperationOutcome(code, diagnostics))
	return data
}
