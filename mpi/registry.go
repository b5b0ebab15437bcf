package mpi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/SanteonNL/mpi-mediator/lib/coolfhir"
	"github.com/SanteonNL/mpi-mediator/lib/logging"
	"github.com/SanteonNL/mpi-mediator/lib/metrics"
	"github.com/SanteonNL/mpi-mediator/lib/otel"
	"github.com/rs/zerolog/log"
	baseotel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = baseotel.Tracer("mpi")

// Identity is a patient identity as resolved by the MPI.
type Identity struct {
	// ID is the patient's logical id in the MPI. It is empty when the MPI reported success without returning an id.
	ID string
	// Patient is the Patient resource as returned by the MPI.
	// For newly created patients, stripped elements are restored onto it.
	Patient json.RawMessage
	// Reference is the canonical, absolute reference to the patient.
	Reference string
	// Created is true when the identity was created by this call, rather than looked up.
	Created bool
}

// Request describes the patient to resolve: either a full Patient resource (to be created)
// or the id of an existing patient (to be looked up). If both are set, the resource wins.
type Request struct {
	Patient   json.RawMessage
	PatientID string
}

func (r Request) IsEmpty() bool {
	return len(r.Patient) == 0 && r.PatientID == ""
}

// RegistryError is returned when the MPI responds with a status other than 200 or 201.
// It carries the MPI's response as-is.
type RegistryError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e RegistryError) Error() string {
	return fmt.Sprintf("MPI responded with status %d", e.StatusCode)
}

// Registry resolves patients to canonical identities in the MPI.
type Registry struct {
	client           fhirclient.Client
	tokens           TokenProvider
	canonicalBaseURL *url.URL
}

func NewRegistry(config Config, httpClient *http.Client, tokens TokenProvider) (*Registry, error) {
	fhirBaseURL, err := config.fhirBaseURL()
	if err != nil {
		return nil, fmt.Errorf("invalid MPI URL: %w", err)
	}
	canonicalBaseURL, err := config.canonicalBaseURL()
	if err != nil {
		return nil, fmt.Errorf("invalid MPI proxy URL: %w", err)
	}
	if tokens == nil {
		tokens = StaticTokenProvider("")
	}
	return &Registry{
		client:           coolfhir.NewClient(fhirBaseURL, httpClient),
		tokens:           tokens,
		canonicalBaseURL: canonicalBaseURL,
	}, nil
}

// CanonicalReference returns the canonical reference of the patient with the given MPI id.
func (r Registry) CanonicalReference(id string) string {
	return r.canonicalBaseURL.JoinPath("fhir", "Patient", id).String()
}

// Resolve creates the patient in the MPI (when a Patient resource is given) or checks that it exists (when only an id is given).
// Responses other than 200 and 201 are returned as RegistryError.
func (r Registry) Resolve(ctx context.Context, request Request) (*Identity, error) {
	ctx, span := tracer.Start(ctx, "mpi.Resolve", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var identity *Identity
	var err error
	if len(request.Patient) > 0 {
		identity, err = r.create(ctx, request.Patient)
	} else if request.PatientID != "" {
		identity, err = r.lookup(ctx, request.PatientID)
	} else {
		err = errors.New("no patient to resolve")
	}
	metrics.RecordIdentityResolution(identity != nil && identity.Created, err)
	if err != nil {
		return nil, otel.Error(span, err)
	}
	span.SetAttributes(
		attribute.String(otel.PatientReference, identity.Reference),
		attribute.Bool(otel.PatientCreated, identity.Created),
	)
	span.SetStatus(codes.Ok, "")
	return identity, nil
}

func (r Registry) create(ctx context.Context, patient json.RawMessage) (*Identity, error) {
	stripped, err := StripPatient(patient)
	if err != nil {
		return nil, err
	}
	authOpt, err := r.authorization(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	response, err := coolfhir.Exchange(func(opts ...fhirclient.Option) error {
		return r.client.CreateWithContext(ctx, []byte(stripped.Patient), nil, append(opts, authOpt)...)
	})
	metrics.ObserveUpstreamCall("mpi", "create", start)
	if err != nil {
		return nil, fmt.Errorf("MPI patient creation failed: %w", err)
	}
	if !isRegistrySuccess(response.StatusCode) {
		log.Ctx(ctx).Error().Int(logging.FieldStatusCode, response.StatusCode).Msgf("Patient resource creation in MPI failed: %s", string(response.Body))
		return nil, RegistryError{StatusCode: response.StatusCode, Body: response.Body}
	}
	identity, err := r.identityFrom(response.Body)
	if err != nil {
		return nil, err
	}
	identity.Created = true
	if identity.Patient, err = stripped.Restore(response.Body); err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str(logging.FieldPatientRef, identity.Reference).Msg("Created patient in MPI")
	return identity, nil
}

func (r Registry) lookup(ctx context.Context, id string) (*Identity, error) {
	authOpt, err := r.authorization(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	response, err := coolfhir.Exchange(func(opts ...fhirclient.Option) error {
		return r.client.ReadWithContext(ctx, "Patient/"+url.PathEscape(id), nil, append(opts, authOpt)...)
	})
	metrics.ObserveUpstreamCall("mpi", "read", start)
	if err != nil {
		return nil, fmt.Errorf("MPI patient lookup failed: %w", err)
	}
	if !isRegistrySuccess(response.StatusCode) {
		log.Ctx(ctx).Error().Str(logging.FieldPatientID, id).Int(logging.FieldStatusCode, response.StatusCode).
			Msgf("Checking of patient in MPI failed: %s", string(response.Body))
		return nil, RegistryError{StatusCode: response.StatusCode, Body: response.Body}
	}
	identity, err := r.identityFrom(response.Body)
	if err != nil {
		return nil, err
	}
	identity.Patient = response.Body
	return identity, nil
}

func (r Registry) identityFrom(body json.RawMessage) (*Identity, error) {
	var patient struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &patient); err != nil {
		return nil, fmt.Errorf("invalid MPI response: %w", err)
	}
	identity := &Identity{ID: patient.ID}
	if patient.ID != "" {
		identity.Reference = r.CanonicalReference(patient.ID)
	}
	return identity, nil
}

func (r Registry) authorization(ctx context.Context) (fhirclient.Option, error) {
	token, err := r.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return fhirclient.RequestHeaders(map[string][]string{}), nil
	}
	return fhirclient.RequestHeaders(map[string][]string{
		"Authorization": {"Bearer " + token},
	}), nil
}

func isRegistrySuccess(statusCode int) bool {
	return statusCode == http.StatusOK || statusCode == http.StatusCreated
}
