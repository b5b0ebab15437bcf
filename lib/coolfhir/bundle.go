package coolfhir

import (
	"encoding/json"
	"errors"

	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

var ErrEntryNotFound = errors.New("entry not found in FHIR Bundle")

// Resource contains the properties every FHIR resource has.
type Resource struct {
	Type string `json:"resourceType"`
	ID   string `json:"id,omitempty"`
}

// Path returns the relative path of the resource, e.g. Patient/123.
func (r Resource) Path() string {
	return r.Type + "/" + r.ID
}

// DescribeEntry returns the type and ID of the resource in the given entry.
// It returns false if the entry has no (valid) resource.
func DescribeEntry(entry fhir.BundleEntry) (Resource, bool) {
	var res Resource
	if len(entry.Resource) == 0 || json.Unmarshal(entry.Resource, &res) != nil || res.Type == "" {
		return Resource{}, false
	}
	return res, true
}

func EntryIsOfType(resourceType string) func(entry fhir.BundleEntry) bool {
	return FilterResource(func(res Resource) bool {
		return res.Type == resourceType
	})
}

// FilterResource returns a filter function that filters resources in a bundle.
func FilterResource(fn func(resource Resource) bool) func(entry fhir.BundleEntry) bool {
	return func(entry fhir.BundleEntry) bool {
		res, ok := DescribeEntry(entry)
		if !ok {
			return false
		}
		return fn(res)
	}
}

// FirstBundleEntry returns the index of the first entry in the bundle that matches the filter.
// If no entry matches, ErrEntryNotFound is returned.
func FirstBundleEntry(bundle *fhir.Bundle, filter func(entry fhir.BundleEntry) bool) (int, error) {
	for i, entry := range bundle.Entry {
		if filter(entry) {
			return i, nil
		}
	}
	return -1, ErrEntryNotFound
}

// CopyBundle returns a copy of the bundle that can be changed without affecting the original:
// its entries and links are copied. Entry resources are raw JSON and replaced rather than altered, so they are shared.
func CopyBundle(bundle fhir.Bundle) fhir.Bundle {
	result := bundle
	if bundle.Entry != nil {
		result.Entry = make([]fhir.BundleEntry, len(bundle.Entry))
		copy(result.Entry, bundle.Entry)
	}
	if bundle.Link != nil {
		result.Link = make([]fhir.BundleLink, len(bundle.Link))
		copy(result.Link, bundle.Link)
	}
	return result
}

// UpsertRequest returns a bundle entry request that creates or replaces the resource at the given path.
func UpsertRequest(path string) *fhir.BundleEntryRequest {
	return &fhir.BundleEntryRequest{
		Method: fhir.HTTPVerbPUT,
		Url:    path,
	}
}
