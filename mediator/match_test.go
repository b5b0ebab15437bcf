package mediator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/SanteonNL/mpi-mediator/lib/coolfhir"
	"github.com/SanteonNL/mpi-mediator/lib/test"
	"github.com/SanteonNL/mpi-mediator/lib/to"
	"github.com/SanteonNL/mpi-mediator/messaging"
	"github.com/SanteonNL/mpi-mediator/mpi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

func TestMediator_ResolveAndWrite(t *testing.T) {
	ctx := context.Background()
	t.Run("referenced patient is looked up and references are rewritten", func(t *testing.T) {
		store := setupDataStore(t)
		registry, resolver := setupMPI(t)
		registry.read["9"] = fakeResponse{status: http.StatusOK, body: `{"resourceType":"Patient","id":"9"}`}
		broker := messaging.NewMemoryBroker()
		bundle := fhir.Bundle{
			Type: fhir.BundleTypeDocument,
			Entry: []fhir.BundleEntry{
				{
					FullUrl:  to.Ptr("Encounter/1"),
					Resource: json.RawMessage(`{"resourceType":"Encounter","id":"1","subject":{"reference":"Patient/9"}}`),
				},
			},
		}

		outcome := setupMediator(store, resolver, broker).ResolveAndWrite(ctx, bundle)

		assert.Equal(t, StatusSuccess, outcome.Status)
		assert.Equal(t, http.StatusOK, outcome.StatusCode)
		assert.Equal(t, []string{"GET /fhir/Patient/9"}, registry.Requests())
		require.Len(t, store.Transactions(), 1)
		var written fhir.Bundle
		require.NoError(t, json.Unmarshal(store.Transactions()[0], &written))
		assert.Equal(t, fhir.BundleTypeTransaction, written.Type)
		require.Len(t, written.Entry, 1)
		assert.Equal(t, &fhir.BundleEntryRequest{Method: fhir.HTTPVerbPUT, Url: "Encounter/1"}, written.Entry[0].Request)
		assert.JSONEq(t, `{"resourceType":"Encounter","id":"1","subject":{"reference":"http://mpi.example.com/fhir/Patient/9"}}`, string(written.Entry[0].Resource))
		// looked up patients aren't added to the published bundle
		require.Len(t, broker.Messages(testTopic), 1)
		assert.JSONEq(t, string(store.Transactions()[0]), string(broker.Messages(testTopic)[0].Body))
	})
	t.Run("embedded patient is created and replaced by stub", func(t *testing.T) {
		store := setupDataStore(t)
		registry, resolver := setupMPI(t)
		registry.create = fakeResponse{status: http.StatusCreated, body: `{"resourceType":"Patient","id":"abc","name":[{"family":"Lovelace","given":["Ada"]}]}`}
		broker := messaging.NewMemoryBroker()
		bundle := test.ReadJSON[fhir.Bundle](t, "testdata/document-bundle.json")

		outcome := setupMediator(store, resolver, broker).ResolveAndWrite(ctx, bundle)

		require.Equal(t, StatusSuccess, outcome.Status)
		assert.Equal(t, []string{"POST /fhir/Patient"}, registry.Requests())
		const canonical = "http://mpi.example.com/fhir/Patient/abc"
		var written fhir.Bundle
		require.NoError(t, json.Unmarshal(store.Transactions()[0], &written))
		require.Len(t, written.Entry, 3)
		assert.JSONEq(t, `{"resourceType":"Patient","link":[{"other":{"reference":"`+canonical+`"},"type":"refer"}]}`, string(written.Entry[1].Resource))
		assert.Equal(t, "Patient/abc", written.Entry[1].Request.Url)
		assert.Contains(t, string(written.Entry[0].Resource), `"subject":{"reference":"`+canonical+`"}`)
		assert.Contains(t, string(written.Entry[2].Resource), `"subject":{"reference":"`+canonical+`"}`)
		assert.Contains(t, string(written.Entry[0].Resource), `"Organization/org-1"`)

		var published fhir.Bundle
		require.NoError(t, json.Unmarshal(broker.Messages(testTopic)[0].Body, &published))
		require.Len(t, published.Entry, 4)
		assert.Equal(t, canonical, *published.Entry[3].FullUrl)
		// stripped elements are restored on the created patient
		assert.Contains(t, string(published.Entry[3].Resource), "managingOrganization")
		assert.Contains(t, string(outcome.Body), canonical)
	})
	t.Run("bundle without patient", func(t *testing.T) {
		store := setupDataStore(t)
		bundle := fhir.Bundle{
			Type: fhir.BundleTypeDocument,
			Entry: []fhir.BundleEntry{
				{Resource: json.RawMessage(`{"resourceType":"Organization","id":"1"}`)},
			},
		}
		resolver := resolverFunc(func(context.Context, mpi.Request) (*mpi.Identity, error) {
			t.Fatal("resolver must not be called")
			return nil, nil
		})

		outcome := setupMediator(store, resolver, messaging.NewMemoryBroker()).ResolveAndWrite(ctx, bundle)

		assert.Equal(t, StatusSuccess, outcome.Status)
		var written fhir.Bundle
		require.NoError(t, json.Unmarshal(store.Transactions()[0], &written))
		assert.Equal(t, fhir.BundleTypeTransaction, written.Type)
		assert.Equal(t, coolfhir.UpsertRequest("Organization/1"), written.Entry[0].Request)
	})
	t.Run("escaped reference is rewritten", func(t *testing.T) {
		store := setupDataStore(t)
		registry, resolver := setupMPI(t)
		registry.read["9"] = fakeResponse{status: http.StatusOK, body: `{"resourceType":"Patient","id":"9"}`}
		bundle := fhir.Bundle{
			Type: fhir.BundleTypeTransaction,
			Entry: []fhir.BundleEntry{
				{Resource: json.RawMessage(`{"resourceType":"Encounter","id":"1","subject":{"reference":"Patient\/9"}}`)},
			},
		}

		outcome := setupMediator(store, resolver, messaging.NewMemoryBroker()).ResolveAndWrite(ctx, bundle)

		assert.Equal(t, StatusSuccess, outcome.Status)
		assert.Equal(t, []string{"GET /fhir/Patient/9"}, registry.Requests())
		var written fhir.Bundle
		require.NoError(t, json.Unmarshal(store.Transactions()[0], &written))
		assert.JSONEq(t, `{"resourceType":"Encounter","id":"1","subject":{"reference":"http://mpi.example.com/fhir/Patient/9"}}`, string(written.Entry[0].Resource))
	})
	t.Run("entry without id is left for the data store to reject", func(t *testing.T) {
		store := setupDataStore(t)
		store.transaction = fakeResponse{status: http.StatusBadRequest, body: `{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"invalid","diagnostics":"missing id"}]}`}
		bundle := fhir.Bundle{
			Type: fhir.BundleTypeDocument,
			Entry: []fhir.BundleEntry{
				{Resource: json.RawMessage(`{"resourceType":"Organization","id":"1"}`)},
				{Resource: json.RawMessage(`{"resourceType":"Observation","status":"final"}`)},
			},
		}

		outcome := setupMediator(store, resolverFunc(nil), messaging.NewMemoryBroker()).ResolveAndWrite(ctx, bundle)

		assert.Equal(t, StatusFailed, outcome.Status)
		assert.Equal(t, http.StatusBadRequest, outcome.StatusCode)
		assert.Contains(t, string(outcome.Body), "missing id")
		require.Len(t, store.Transactions(), 1)
		var written fhir.Bundle
		require.NoError(t, json.Unmarshal(store.Transactions()[0], &written))
		assert.Equal(t, coolfhir.UpsertRequest("Observation/"), written.Entry[1].Request)
	})
	t.Run("unknown patient", func(t *testing.T) {
		store := setupDataStore(t)
		registry, resolver := setupMPI(t)
		bundle := fhir.Bundle{
			Type: fhir.BundleTypeTransaction,
			Entry: []fhir.BundleEntry{
				{Resource: json.RawMessage(`{"resourceType":"Encounter","id":"1","subject":{"reference":"Patient/9"}}`)},
			},
		}

		outcome := setupMediator(store, resolver, messaging.NewMemoryBroker()).ResolveAndWrite(ctx, bundle)

		assert.Equal(t, StatusFailed, outcome.Status)
		assert.Equal(t, http.StatusNotFound, outcome.StatusCode)
		assert.Contains(t, string(outcome.Body), "Patient not found")
		assert.Equal(t, []string{"GET /fhir/Patient/9"}, registry.Requests())
		assert.Empty(t, store.Transactions())
	})
	t.Run("registry responds without id", func(t *testing.T) {
		store := setupDataStore(t)
		registry, resolver := setupMPI(t)
		registry.create = fakeResponse{status: http.StatusOK, body: `{"resourceType":"Patient"}`}
		bundle := fhir.Bundle{
			Type:  fhir.BundleTypeTransaction,
			Entry: []fhir.BundleEntry{{Resource: json.RawMessage(`{"resourceType":"Patient","id":"1"}`)}},
		}

		outcome := setupMediator(store, resolver, messaging.NewMemoryBroker()).ResolveAndWrite(ctx, bundle)

		assert.Equal(t, StatusFailed, outcome.Status)
		assert.Equal(t, http.StatusInternalServerError, outcome.StatusCode)
		assert.JSONEq(t, `{"error":"ID in MPI response is missing"}`, string(outcome.Body))
		assert.Empty(t, store.Transactions())
	})
	t.Run("resolver transport error", func(t *testing.T) {
		store := setupDataStore(t)
		resolver := resolverFunc(func(context.Context, mpi.Request) (*mpi.Identity, error) {
			return nil, errors.New("connection refused")
		})
		bundle := fhir.Bundle{
			Type:  fhir.BundleTypeTransaction,
			Entry: []fhir.BundleEntry{{Resource: json.RawMessage(`{"resourceType":"Patient","id":"1"}`)}},
		}

		outcome := setupMediator(store, resolver, messaging.NewMemoryBroker()).ResolveAndWrite(ctx, bundle)

		assert.Equal(t, http.StatusInternalServerError, outcome.StatusCode)
		assert.JSONEq(t, `{"error":"connection refused"}`, string(outcome.Body))
	})
	t.Run("broker failure", func(t *testing.T) {
		store := setupDataStore(t)
		broker := messaging.NewMemoryBroker()
		broker.Err = errors.New("kafka down")
		bundle := fhir.Bundle{
			Type:  fhir.BundleTypeTransaction,
			Entry: []fhir.BundleEntry{{Resource: json.RawMessage(`{"resourceType":"Organization","id":"1"}`)}},
		}

		outcome := setupMediator(store, nil, broker).ResolveAndWrite(ctx, bundle)

		assert.Equal(t, StatusFailed, outcome.Status)
		assert.Equal(t, http.StatusInternalServerError, outcome.StatusCode)
		assert.JSONEq(t, `{"kafkaResponseError":"kafka down"}`, string(outcome.Body))
		assert.Len(t, store.Transactions(), 1)
	})
}

func TestMediator_ResolveAndAccept(t *testing.T) {
	ctx := context.Background()
	bundle := fhir.Bundle{
		Type:  fhir.BundleTypeTransaction,
		Entry: []fhir.BundleEntry{{Resource: json.RawMessage(`{"resourceType":"Organization","id":"1"}`)}},
	}
	t.Run("ok", func(t *testing.T) {
		store := setupDataStore(t)

		outcome := setupMediator(store, nil, messaging.NewMemoryBroker()).ResolveAndAccept(ctx, bundle)

		assert.Equal(t, Outcome{Status: StatusSuccess, StatusCode: http.StatusNoContent}, outcome)
		assert.Len(t, store.validations, 1)
		assert.Len(t, store.Transactions(), 1)
	})
	t.Run("invalid bundle", func(t *testing.T) {
		store := setupDataStore(t)
		store.validation = fakeResponse{status: http.StatusUnprocessableEntity, body: `{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"invalid","diagnostics":"bad"}]}`}

		outcome := setupMediator(store, nil, messaging.NewMemoryBroker()).ResolveAndAccept(ctx, bundle)

		assert.Equal(t, StatusFailed, outcome.Status)
		assert.Equal(t, http.StatusUnprocessableEntity, outcome.StatusCode)
		assert.JSONEq(t, store.validation.body, string(outcome.Body))
		assert.Empty(t, store.Transactions())
	})
	t.Run("pipeline failure is returned as-is", func(t *testing.T) {
		store := setupDataStore(t)
		store.transaction = fakeResponse{status: http.StatusConflict, body: `{"resourceType":"OperationOutcome"}`}

		outcome := setupMediator(store, nil, messaging.NewMemoryBroker()).ResolveAndAccept(ctx, bundle)

		assert.Equal(t, StatusFailed, outcome.Status)
		assert.Equal(t, http.StatusConflict, outcome.StatusCode)
	})
}
