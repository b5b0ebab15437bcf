package mediator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/SanteonNL/mpi-mediator/lib/coolfhir"
	"github.com/SanteonNL/mpi-mediator/lib/logging"
	"github.com/SanteonNL/mpi-mediator/lib/metrics"
	"github.com/SanteonNL/mpi-mediator/lib/otel"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Validator validates resources using the $validate operation of a FHIR server.
type Validator struct {
	client fhirclient.Client
}

func NewValidator(client fhirclient.Client) *Validator {
	return &Validator{client: client}
}

// Validate posts the resource to /<resourceType>/$validate. Any 2xx response means the resource is valid;
// the outcome carries the validator's status and body as-is.
func (v Validator) Validate(ctx context.Context, resource json.RawMessage) Outcome {
	ctx, span := tracer.Start(ctx, "mediator.Validate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var described coolfhir.Resource
	if err := json.Unmarshal(resource, &described); err != nil || described.Type == "" {
		failure := &Failure{
			Kind:       ValidationFailure,
			StatusCode: http.StatusBadRequest,
			Body:       operationOutcomeBody(fhir.IssueTypeInvalid, "resource has no resourceType"),
		}
		_ = otel.Error(span, failure)
		return failure.Outcome()
	}
	span.SetAttributes(attribute.String(otel.FHIRResourceType, described.Type))

	start := time.Now()
	response, err := coolfhir.Exchange(func(opts ...fhirclient.Option) error {
		return v.client.CreateWithContext(ctx, []byte(resource), nil, append(opts, fhirclient.AtPath(described.Type+"/$validate"))...)
	})
	metrics.ObserveUpstreamCall("validator", "validate", start)
	if err != nil {
		failure := transportFailure(fmt.Errorf("validation request failed: %w", err))
		_ = otel.Error(span, failure)
		return failure.Outcome()
	}
	span.SetAttributes(attribute.Int(otel.HTTPStatusCode, response.StatusCode))
	if !response.IsSuccessful() {
		log.Ctx(ctx).Info().Str(logging.FieldResourceType, described.Type).Int(logging.FieldStatusCode, response.StatusCode).
			Msg("Resource failed validation")
		span.SetAttributes(attribute.Bool(otel.ValidationResult, false))
		metrics.RecordFailure(string(ValidationFailure))
		return (&Failure{
			Kind:       ValidationFailure,
			StatusCode: response.StatusCode,
			Body:       response.Body,
		}).Outcome()
	}
	span.SetAttributes(attribute.Bool(otel.ValidationResult, true))
	return Outcome{
		Status:     StatusSuccess,
		StatusCode: response.StatusCode,
		Body:       response.Body,
	}
}
