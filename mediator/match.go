package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/SanteonNL/mpi-mediator/lib/logging"
	"github.com/SanteonNL/mpi-mediator/lib/metrics"
	"github.com/SanteonNL/mpi-mediator/lib/otel"
	"github.com/SanteonNL/mpi-mediator/mpi"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
	baseotel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = baseotel.Tracer("mediator")

const (
	pipelineSync  = "sync"
	pipelineAsync = "async"
)

// IdentityResolver resolves a patient to its canonical identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, request mpi.Request) (*mpi.Identity, error)
}

var _ IdentityResolver = &mpi.Registry{}

// Mediator runs bundles through the matching pipeline: extract the patient, resolve it in the MPI,
// rewrite the bundle to refer to the canonical patient, then write it to the data store and broker.
type Mediator struct {
	resolver  IdentityResolver
	validator *Validator
	writer    *DualWriter
}

func NewMediator(resolver IdentityResolver, validator *Validator, writer *DualWriter) *Mediator {
	return &Mediator{
		resolver:  resolver,
		validator: validator,
		writer:    writer,
	}
}

// ResolveAndWrite runs the pipeline and returns its outcome, successful or not.
func (m Mediator) ResolveAndWrite(ctx context.Context, bundle fhir.Bundle) Outcome {
	outcome := m.run(ctx, pipelineSync, bundle)
	metrics.RecordPipelineOutcome(pipelineSync, outcome.IsSuccess())
	return outcome
}

// ResolveAndAccept validates the bundle and runs the pipeline. Failures are returned as ResolveAndWrite would,
// but a successful run yields 204 without body.
func (m Mediator) ResolveAndAccept(ctx context.Context, bundle fhir.Bundle) Outcome {
	outcome := m.accept(ctx, bundle)
	metrics.RecordPipelineOutcome(pipelineAsync, outcome.IsSuccess())
	return outcome
}

func (m Mediator) accept(ctx context.Context, bundle fhir.Bundle) Outcome {
	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		return transportFailure(err).Outcome()
	}
	if validation := m.validator.Validate(ctx, bundleJSON); !validation.IsSuccess() {
		return validation
	}
	outcome := m.run(ctx, pipelineAsync, bundle)
	if !outcome.IsSuccess() {
		return outcome
	}
	return Outcome{
		Status:     StatusSuccess,
		StatusCode: http.StatusNoContent,
	}
}

func (m Mediator) run(ctx context.Context, pipeline string, bundle fhir.Bundle) Outcome {
	ctx, span := tracer.Start(ctx, "mediator.ResolveAndWrite", trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(otel.OperationName, pipeline),
			attribute.String(otel.FHIRBundleType, bundle.Type.Code()),
			attribute.Int(otel.FHIRBundleEntryCount, len(bundle.Entry)),
		))
	defer span.End()
	ctx = log.Ctx(ctx).With().Str(logging.FieldPipeline, pipeline).Logger().WithContext(ctx)

	rewritten, created, err := m.resolveAndRewrite(ctx, bundle)
	if err != nil {
		failure := AsFailure(err)
		log.Ctx(ctx).Error().Err(err).Int(logging.FieldStatusCode, failure.StatusCode).Msg("Bundle could not be matched to MPI")
		metrics.RecordFailure(string(failure.Kind))
		_ = otel.Error(span, failure)
		return failure.Outcome()
	}
	outcome := m.writer.Write(ctx, rewritten, created)
	log.Ctx(ctx).Info().Str(logging.FieldTransaction, string(outcome.Status)).Int(logging.FieldStatusCode, outcome.StatusCode).
		Msg("Bundle processed")
	return outcome
}

// resolveAndRewrite returns the rewritten bundle and, if the patient was created in the MPI, its identity.
func (m Mediator) resolveAndRewrite(ctx context.Context, bundle fhir.Bundle) (fhir.Bundle, *mpi.Identity, error) {
	patient := ExtractPatient(bundle)
	if patient.IsEmpty() {
		log.Ctx(ctx).Debug().Msg("Bundle doesn't involve a patient, no MPI resolution needed")
		rewritten, err := RewriteBundle(bundle, nil)
		return rewritten, nil, err
	}

	identity, err := m.resolver.Resolve(ctx, mpi.Request{
		Patient:   patient.Resource,
		PatientID: patient.ID,
	})
	if err != nil {
		var registryErr mpi.RegistryError
		if errors.As(err, &registryErr) {
			return fhir.Bundle{}, nil, &Failure{
				Kind:       RegistryFailure,
				StatusCode: registryErr.StatusCode,
				Body:       registryErr.Body,
				Err:        err,
			}
		}
		return fhir.Bundle{}, nil, transportFailure(err)
	}
	if identity.ID == "" {
		return fhir.Bundle{}, nil, &Failure{
			Kind:       DataConsistencyError,
			StatusCode: http.StatusInternalServerError,
			Body:       errorBody("error", errMissingIdentityID),
			Err:        errMissingIdentityID,
		}
	}
	log.Ctx(ctx).Debug().Str(logging.FieldPatientRef, identity.Reference).Msgf("Resolved patient %s", patient.Key())

	replacements := make(map[string]string)
	for _, reference := range patient.localReferences() {
		replacements[reference] = identity.Reference
	}
	substituted, err := SubstituteReferences(bundle, replacements)
	if err != nil {
		return fhir.Bundle{}, nil, transportFailure(fmt.Errorf("reference substitution failed: %w", err))
	}
	identities := IdentityMap{}
	if len(patient.Resource) > 0 {
		identities[patient.Key()] = *identity
	}
	rewritten, err := RewriteBundle(substituted, identities)
	if err != nil {
		return fhir.Bundle{}, nil, err
	}
	if identity.Created {
		return rewritten, identity, nil
	}
	return rewritten, nil, nil
}
