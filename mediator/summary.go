package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/SanteonNL/mpi-mediator/lib/coolfhir"
	"github.com/SanteonNL/mpi-mediator/lib/logging"
	"github.com/SanteonNL/mpi-mediator/lib/metrics"
	"github.com/SanteonNL/mpi-mediator/lib/otel"
	"github.com/SanteonNL/mpi-mediator/lib/slices"
	"github.com/SanteonNL/mpi-mediator/lib/to"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const lastUpdatedLayout = "2006-01-02T15:04"

type mergeOptions struct {
	bundleType fhir.BundleType
	now        func() time.Time
}

type MergeOption func(*mergeOptions)

// AsDocument makes the merged bundle a document bundle, instead of a searchset.
func AsDocument() MergeOption {
	return func(o *mergeOptions) {
		o.bundleType = fhir.BundleTypeDocument
	}
}

// SummaryAggregator fetches patient summaries ($summary operation) from the data store and merges them.
type SummaryAggregator struct {
	client fhirclient.Client
	now    func() time.Time
}

func NewSummaryAggregator(client fhirclient.Client) *SummaryAggregator {
	return &SummaryAggregator{
		client: client,
		now:    time.Now,
	}
}

// FetchAndMergeSummaries fetches the summaries of the given patients concurrently and merges them into one bundle.
// References may be in any form (e.g. 9, Patient/9 or http://example.com/fhir/Patient/9); they're deduplicated by id.
// Patients for which the data store responds 404 are left out. Any other non-2xx response fails the whole fetch.
// Entries of the merged bundle are in fetch completion order.
func (s SummaryAggregator) FetchAndMergeSummaries(ctx context.Context, patientRefs []string, params url.Values, opts ...MergeOption) (*fhir.Bundle, error) {
	options := mergeOptions{
		bundleType: fhir.BundleTypeSearchset,
		now:        s.now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	ids := slices.Deduplicate(patientIDs(patientRefs), func(id string) string { return id })

	ctx, span := tracer.Start(ctx, "mediator.FetchSummaries", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	var mux sync.Mutex
	var bundles []fhir.Bundle
	group, groupCtx := errgroup.WithContext(ctx)
	for _, id := range ids {
		group.Go(func() error {
			bundle, err := s.fetch(groupCtx, id, params)
			if err != nil {
				return err
			}
			if bundle == nil {
				return nil
			}
			mux.Lock()
			defer mux.Unlock()
			bundles = append(bundles, *bundle)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		metrics.RecordSummaryFetch("error")
		return nil, otel.Error(span, err)
	}
	result := MergeBundles(bundles, options.bundleType, options.now())
	metrics.RecordSummaryFetch("success")
	span.SetAttributes(attribute.Int(otel.SummaryCount, len(bundles)))
	span.SetStatus(codes.Ok, "")
	return &result, nil
}

// FetchSummary fetches the summary of a single patient, as document bundle.
func (s SummaryAggregator) FetchSummary(ctx context.Context, patientRef string, params url.Values) Outcome {
	bundle, err := s.FetchAndMergeSummaries(ctx, []string{patientRef}, params, AsDocument())
	if err != nil {
		var failure *Failure
		if errors.As(err, &failure) {
			return failure.Outcome()
		}
		log.Ctx(ctx).Error().Err(err).Msg("Patient summary fetch failed")
		return Outcome{
			Status:     StatusFailed,
			StatusCode: http.StatusInternalServerError,
			Body:       json.RawMessage(`{}`),
		}
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return transportFailure(err).Outcome()
	}
	return Outcome{
		Status:     StatusSuccessful,
		StatusCode: http.StatusOK,
		Body:       data,
	}
}

// fetch returns the patient's summary bundle, or nil if the data store doesn't know the patient.
func (s SummaryAggregator) fetch(ctx context.Context, id string, params url.Values) (*fhir.Bundle, error) {
	start := time.Now()
	response, err := coolfhir.Exchange(func(opts ...fhirclient.Option) error {
		for key, values := range params {
			for _, value := range values {
				opts = append(opts, fhirclient.QueryParam(key, value))
			}
		}
		return s.client.ReadWithContext(ctx, "Patient/"+url.PathEscape(id)+"/$summary", nil, opts...)
	})
	metrics.ObserveUpstreamCall("datastore", "summary", start)
	if err != nil {
		return nil, transportFailure(fmt.Errorf("summary fetch for patient %s failed: %w", id, err))
	}
	if response.StatusCode == http.StatusNotFound {
		log.Ctx(ctx).Debug().Str(logging.FieldPatientID, id).Msg("No summary for patient")
		metrics.RecordSummaryFetch("not_found")
		return nil, nil
	}
	if !response.IsSuccessful() {
		log.Ctx(ctx).Error().Str(logging.FieldPatientID, id).Int(logging.FieldStatusCode, response.StatusCode).
			Msgf("Summary fetch failed: %s", string(response.Body))
		return nil, &Failure{
			Kind:       SummaryFetchFailure,
			StatusCode: response.StatusCode,
			Body:       response.Body,
			Err:        fmt.Errorf("summary fetch for patient %s failed (status=%d)", id, response.StatusCode),
		}
	}
	var bundle fhir.Bundle
	if err := json.Unmarshal(response.Body, &bundle); err != nil {
		return nil, transportFailure(fmt.Errorf("invalid summary bundle for patient %s: %w", id, err))
	}
	return &bundle, nil
}

// MergeBundles concatenates the entries of the given bundles into a new bundle of the given type.
// Total is the number of merged entries, links are relabelled as subsection links.
func MergeBundles(bundles []fhir.Bundle, bundleType fhir.BundleType, now time.Time) fhir.Bundle {
	result := fhir.Bundle{
		Meta: &fhir.Meta{
			LastUpdated: to.Ptr(now.Format(lastUpdatedLayout)),
		},
		Type:  bundleType,
		Entry: []fhir.BundleEntry{},
		Link:  []fhir.BundleLink{},
	}
	for _, bundle := range bundles {
		result.Entry = append(result.Entry, bundle.Entry...)
		for _, link := range bundle.Link {
			link.Relation = "subsection"
			result.Link = append(result.Link, link)
		}
	}
	result.Total = to.Ptr(len(result.Entry))
	return result
}

// patientIDs returns the ids (last path segment) of the given references, skipping empty ones.
func patientIDs(refs []string) []string {
	var result []string
	for _, ref := range refs {
		id := strings.TrimSpace(ref)
		if idx := strings.LastIndex(id, "/"); idx >= 0 {
			id = id[idx+1:]
		}
		if id != "" {
			result = append(result, id)
		}
	}
	return result
}
