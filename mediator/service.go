package mediator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/SanteonNL/mpi-mediator/lib/coolfhir"
	"github.com/SanteonNL/mpi-mediator/lib/coolfhir/pipeline"
	"github.com/SanteonNL/mpi-mediator/lib/httpserv"
	"github.com/SanteonNL/mpi-mediator/lib/logging"
	"github.com/SanteonNL/mpi-mediator/lib/otel"
	"github.com/SanteonNL/mpi-mediator/messaging"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

const patientQueryParam = "patient"

// Service exposes the mediator over HTTP, as OpenHIM mediator.
type Service struct {
	mediator       *Mediator
	validator      *Validator
	summaries      *SummaryAggregator
	urn            string
	maxRequestSize int64
	now            func() time.Time
}

// New creates the HTTP service. Bundles are written to the data store configured in config,
// and published to the given topic of the broker.
func New(config Config, resolver IdentityResolver, broker messaging.Broker, topic string) (*Service, error) {
	dataStoreURL, err := config.DataStore.fhirBaseURL()
	if err != nil {
		return nil, fmt.Errorf("invalid data store URL: %w", err)
	}
	dataStore := coolfhir.NewClient(dataStoreURL, coolfhir.NewHTTPClient(config.DataStore.Timeout))
	validator := NewValidator(dataStore)
	return &Service{
		mediator:       NewMediator(resolver, validator, NewDualWriter(dataStore, dataStoreURL, broker, topic)),
		validator:      validator,
		summaries:      NewSummaryAggregator(dataStore),
		urn:            config.URN,
		maxRequestSize: config.MaxRequestSize,
		now:            time.Now,
	}, nil
}

func (s *Service) RegisterHandlers(mux *http.ServeMux) {
	bodyMiddleware := httpserv.Chain(httpserv.LimitRequestBody(s.maxRequestSize), httpserv.RequireJSONContent)
	httpserv.RegisterRoutes(mux,
		httpserv.Route{
			Method:     http.MethodPost,
			Path:       "/fhir",
			Handler:    otel.HandlerWithTracing(tracer, "Mediator/ResolveAndWrite", s.handleResolveAndWrite),
			Middleware: bodyMiddleware,
		},
		httpserv.Route{
			Method:     http.MethodPost,
			Path:       "/async/fhir",
			Handler:    otel.HandlerWithTracing(tracer, "Mediator/ResolveAndAccept", s.handleResolveAndAccept),
			Middleware: bodyMiddleware,
		},
		httpserv.Route{
			Method:     http.MethodPost,
			Path:       "/fhir/validate",
			Handler:    otel.HandlerWithTracing(tracer, "Mediator/Validate", s.handleValidate),
			Middleware: bodyMiddleware,
		},
		httpserv.Route{
			Method:  http.MethodGet,
			Path:    "/fhir/Patient/{id}/$summary",
			Handler: otel.HandlerWithTracing(tracer, "Mediator/FetchSummary", s.handleFetchSummary),
		},
		httpserv.Route{
			Method:  http.MethodGet,
			Path:    "/fhir/Patient/$summary",
			Handler: otel.HandlerWithTracing(tracer, "Mediator/FetchAndMergeSummaries", s.handleFetchAndMergeSummaries),
		},
	)
}

func (s *Service) handleResolveAndWrite(httpResponse http.ResponseWriter, request *http.Request) {
	bundle, bundleJSON, err := s.readBundle(request)
	if err != nil {
		coolfhir.WriteOperationOutcomeFromError(request.Context(), err, "Mediator/ResolveAndWrite", httpResponse)
		return
	}
	if validation := s.validator.Validate(request.Context(), bundleJSON); !validation.IsSuccess() {
		s.writeOutcome(httpResponse, validation)
		return
	}
	s.writeOutcome(httpResponse, s.mediator.ResolveAndWrite(request.Context(), bundle))
}

func (s *Service) handleResolveAndAccept(httpResponse http.ResponseWriter, request *http.Request) {
	bundle, _, err := s.readBundle(request)
	if err != nil {
		coolfhir.WriteOperationOutcomeFromError(request.Context(), err, "Mediator/ResolveAndAccept", httpResponse)
		return
	}
	outcome := s.mediator.ResolveAndAccept(request.Context(), bundle)
	if outcome.IsSuccess() {
		httpResponse.WriteHeader(outcome.StatusCode)
		return
	}
	s.writeOutcome(httpResponse, outcome)
}

func (s *Service) handleValidate(httpResponse http.ResponseWriter, request *http.Request) {
	data, err := readBody(request)
	if err == nil && !json.Valid(data) {
		err = coolfhir.BadRequest("request body is not valid JSON")
	}
	if err != nil {
		coolfhir.WriteOperationOutcomeFromError(request.Context(), err, "Mediator/Validate", httpResponse)
		return
	}
	s.writeOutcome(httpResponse, s.validator.Validate(request.Context(), data))
}

func (s *Service) handleFetchSummary(httpResponse http.ResponseWriter, request *http.Request) {
	patientID := request.PathValue("id")
	log.Ctx(request.Context()).Debug().Str(logging.FieldPatientID, patientID).Msg("Fetching patient summary")
	s.writeOutcome(httpResponse, s.summaries.FetchSummary(request.Context(), patientID, request.URL.Query()))
}

// handleFetchAndMergeSummaries returns the merged summaries of all patients given as patient query parameter.
// Other query parameters are passed on to the data store. The response is a plain FHIR Bundle, not an OpenHIM response.
func (s *Service) handleFetchAndMergeSummaries(httpResponse http.ResponseWriter, request *http.Request) {
	params := request.URL.Query()
	patientRefs := params[patientQueryParam]
	if len(patientRefs) == 0 {
		coolfhir.WriteOperationOutcomeFromError(request.Context(), coolfhir.BadRequest("missing '%s' query parameter", patientQueryParam), "Mediator/FetchAndMergeSummaries", httpResponse)
		return
	}
	forwarded := url.Values{}
	for key, values := range params {
		if key != patientQueryParam {
			forwarded[key] = values
		}
	}
	bundle, err := s.summaries.FetchAndMergeSummaries(request.Context(), patientRefs, forwarded, AsDocument())
	if err != nil {
		var failure *Failure
		if errors.As(err, &failure) {
			pipeline.New().DoAndWrite(httpResponse, failure.Outcome().Body, failure.StatusCode)
			return
		}
		pipeline.New().DoAndWrite(httpResponse, json.RawMessage(`{}`), http.StatusInternalServerError)
		return
	}
	pipeline.New().DoAndWrite(httpResponse, bundle, http.StatusOK)
}

func (s *Service) writeOutcome(httpResponse http.ResponseWriter, outcome Outcome) {
	pipeline.New().
		AppendResponseTransformer(pipeline.ResponseHeaderSetter{"Content-Type": {OpenHIMMediaType}}).
		DoAndWrite(httpResponse, NewOpenHIMResponse(s.urn, outcome, s.now()), outcome.StatusCode)
}

// readBundle reads a Bundle from the request body. It returns the parsed bundle and the raw JSON.
func (s *Service) readBundle(request *http.Request) (fhir.Bundle, json.RawMessage, error) {
	data, err := readBody(request)
	if err != nil {
		return fhir.Bundle{}, nil, err
	}
	var resource coolfhir.Resource
	if err := json.Unmarshal(data, &resource); err != nil {
		return fhir.Bundle{}, nil, coolfhir.BadRequest("request body is not valid JSON: %v", err)
	}
	if resource.Type != "Bundle" {
		return fhir.Bundle{}, nil, coolfhir.BadRequest("expected a Bundle, got resourceType '%s'", resource.Type)
	}
	var bundle fhir.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fhir.Bundle{}, nil, coolfhir.BadRequest("invalid Bundle: %v", err)
	}
	return bundle, data, nil
}

func readBody(request *http.Request) ([]byte, error) {
	data, err := io.ReadAll(request.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, coolfhir.NewErrorWithCode("request body too large", http.StatusRequestEntityTooLarge)
		}
		return nil, coolfhir.BadRequest("unable to read request body: %v", err)
	}
	return data, nil
}
