package mediator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/SanteonNL/mpi-mediator/lib/coolfhir"
	"github.com/SanteonNL/mpi-mediator/lib/logging"
	"github.com/SanteonNL/mpi-mediator/lib/metrics"
	"github.com/SanteonNL/mpi-mediator/lib/otel"
	"github.com/SanteonNL/mpi-mediator/lib/to"
	"github.com/SanteonNL/mpi-mediator/messaging"
	"github.com/SanteonNL/mpi-mediator/mpi"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const kafkaErrorKey = "kafkaResponseError"

// DualWriter writes rewritten bundles to the FHIR data store, then publishes them to the message broker.
// The two writes are not transactional: a failed publish doesn't undo the store write.
type DualWriter struct {
	store    fhirclient.Client
	storeURL *url.URL
	broker   messaging.Broker
	topic    string
}

func NewDualWriter(store fhirclient.Client, storeURL *url.URL, broker messaging.Broker, topic string) *DualWriter {
	return &DualWriter{
		store:    store,
		storeURL: storeURL,
		broker:   broker,
		topic:    topic,
	}
}

// Write posts the bundle to the data store (only 200 is success) and publishes it to the broker.
// If created is non-nil, an entry upserting the created patient is added to both the published bundle
// and the store's response body.
func (w DualWriter) Write(ctx context.Context, bundle fhir.Bundle, created *mpi.Identity) Outcome {
	ctx, span := tracer.Start(ctx, "mediator.DualWrite", trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(otel.FHIRBundleType, bundle.Type.Code()),
			attribute.Int(otel.FHIRBundleEntryCount, len(bundle.Entry)),
			attribute.String(otel.MessagingTopic, w.topic),
		))
	defer span.End()

	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		return w.fail(span, transportFailure(fmt.Errorf("unable to marshal bundle: %w", err)))
	}
	start := time.Now()
	response, err := coolfhir.Exchange(func(opts ...fhirclient.Option) error {
		return w.store.CreateWithContext(ctx, bundleJSON, nil, append(opts, fhirclient.AtUrl(w.storeURL))...)
	})
	metrics.ObserveUpstreamCall("datastore", "transaction", start)
	if err != nil {
		return w.fail(span, transportFailure(fmt.Errorf("data store write failed: %w", err)))
	}
	span.SetAttributes(attribute.Int(otel.HTTPStatusCode, response.StatusCode))
	if response.StatusCode != http.StatusOK {
		log.Ctx(ctx).Error().Int(logging.FieldStatusCode, response.StatusCode).Msgf("Data store rejected bundle: %s", string(response.Body))
		return w.fail(span, &Failure{
			Kind:       StoreWriteFailure,
			StatusCode: response.StatusCode,
			Body:       response.Body,
			Err:        fmt.Errorf("data store responded with status %d", response.StatusCode),
		})
	}

	responseBody := response.Body
	if created != nil {
		entry := createdPatientEntry(*created)
		bundle = coolfhir.CopyBundle(bundle)
		bundle.Entry = append(bundle.Entry, entry)
		if bundleJSON, err = json.Marshal(bundle); err != nil {
			return w.fail(span, transportFailure(fmt.Errorf("unable to marshal bundle: %w", err)))
		}
		if augmented, err := appendResponseEntry(responseBody, entry); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("Unable to add created patient to data store response")
		} else {
			responseBody = augmented
		}
	}

	err = w.broker.SendMessage(ctx, w.topic, &messaging.Message{
		Body:          bundleJSON,
		ContentType:   coolfhir.FHIRJSONMediaType,
		CorrelationID: to.Ptr(uuid.NewString()),
	})
	metrics.RecordBrokerPublish(w.topic, err)
	if err != nil {
		// The store write stays: there's nothing to roll it back with.
		log.Ctx(ctx).Error().Err(err).Str(logging.FieldTopic, w.topic).Msg("Bundle written to data store, but publishing it failed")
		return w.fail(span, &Failure{
			Kind:       BrokerPublishFailure,
			StatusCode: http.StatusInternalServerError,
			Body:       errorBody(kafkaErrorKey, err),
			Err:        err,
		})
	}
	span.SetStatus(codes.Ok, "")
	return Outcome{
		Status:     StatusSuccess,
		StatusCode: response.StatusCode,
		Body:       responseBody,
	}
}

func (w DualWriter) fail(span trace.Span, failure *Failure) Outcome {
	_ = otel.Error(span, failure)
	metrics.RecordFailure(string(failure.Kind))
	return failure.Outcome()
}

// createdPatientEntry returns the entry that upserts a newly created patient at its canonical reference.
func createdPatientEntry(identity mpi.Identity) fhir.BundleEntry {
	return fhir.BundleEntry{
		FullUrl:  to.Ptr(identity.Reference),
		Resource: identity.Patient,
		Request:  coolfhir.UpsertRequest(identity.Reference),
	}
}

// appendResponseEntry adds the entry to the "entry" array of a JSON object, creating the array if needed.
func appendResponseEntry(body json.RawMessage, entry fhir.BundleEntry) (json.RawMessage, error) {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(body, &object); err != nil || object == nil {
		return nil, fmt.Errorf("response body is not a JSON object")
	}
	var entries []json.RawMessage
	if existing, ok := object["entry"]; ok {
		if err := json.Unmarshal(existing, &entries); err != nil {
			return nil, fmt.Errorf("response entry is not an array: %w", err)
		}
	}
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	entries = append(entries, entryJSON)
	if object["entry"], err = json.Marshal(entries); err != nil {
		return nil, err
	}
	return json.Marshal(object)
}
