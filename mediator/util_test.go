package mediator

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/SanteonNL/mpi-mediator/lib/coolfhir"
	"github.com/SanteonNL/mpi-mediator/messaging"
	"github.com/SanteonNL/mpi-mediator/mpi"
	"github.com/stretchr/testify/require"
)

const testTopic = "bundles"

type fakeResponse struct {
	status int
	body   string
}

// fakeDataStore is an HTTP FHIR data store that records transactions and serves canned responses.
type fakeDataStore struct {
	mux          sync.Mutex
	server       *httptest.Server
	transactions [][]byte
	validations  [][]byte
	summaryPaths []string
	transaction  fakeResponse
	validation   fakeResponse
	// summaries maps patient ids to $summary responses. Unknown patients yield 404.
	summaries map[string]fakeResponse
}

func setupDataStore(t *testing.T) *fakeDataStore {
	store := &fakeDataStore{
		transaction: fakeResponse{status: http.StatusOK, body: `{"resourceType":"Bundle","type":"transaction-response","entry":[]}`},
		validation:  fakeResponse{status: http.StatusOK, body: `{"resourceType":"OperationOutcome","issue":[{"severity":"information","code":"informational"}]}`},
		summaries:   map[string]fakeResponse{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /fhir", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		store.mux.Lock()
		store.transactions = append(store.transactions, body)
		response := store.transaction
		store.mux.Unlock()
		writeFakeResponse(w, response)
	})
	mux.HandleFunc("POST /fhir/{type}/$validate", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		store.mux.Lock()
		store.validations = append(store.validations, body)
		response := store.validation
		store.mux.Unlock()
		writeFakeResponse(w, response)
	})
	mux.HandleFunc("GET /fhir/Patient/{id}/$summary", func(w http.ResponseWriter, r *http.Request) {
		store.mux.Lock()
		store.summaryPaths = append(store.summaryPaths, r.URL.RequestURI())
		response, ok := store.summaries[r.PathValue("id")]
		store.mux.Unlock()
		if !ok {
			response = fakeResponse{status: http.StatusNotFound, body: `{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"not-found"}]}`}
		}
		writeFakeResponse(w, response)
	})
	store.server = httptest.NewServer(mux)
	t.Cleanup(store.server.Close)
	return store
}

func (f *fakeDataStore) fhirBaseURL() *url.URL {
	u, _ := url.Parse(f.server.URL)
	return u.JoinPath("fhir")
}

func (f *fakeDataStore) Transactions() [][]byte {
	f.mux.Lock()
	defer f.mux.Unlock()
	return append([][]byte{}, f.transactions...)
}

func writeFakeResponse(w http.ResponseWriter, response fakeResponse) {
	w.Header().Set("Content-Type", coolfhir.FHIRJSONMediaType)
	w.WriteHeader(response.status)
	_, _ = w.Write([]byte(response.body))
}

// setupMediator wires a Mediator to the given data store and broker, resolving patients with the given resolver.
func setupMediator(store *fakeDataStore, resolver IdentityResolver, broker messaging.Broker) *Mediator {
	client := coolfhir.NewClient(store.fhirBaseURL(), store.server.Client())
	return NewMediator(resolver, NewValidator(client), NewDualWriter(client, store.fhirBaseURL(), broker, testTopic))
}

// fakeMPI is an MPI that serves canned responses, recording the requests it receives.
type fakeMPI struct {
	mux      sync.Mutex
	requests []string
	create   fakeResponse
	read     map[string]fakeResponse
}

func setupMPI(t *testing.T) (*fakeMPI, *mpi.Registry) {
	fake := &fakeMPI{read: map[string]fakeResponse{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /fhir/Patient", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		writeFakeResponse(w, fake.create)
	})
	mux.HandleFunc("GET /fhir/Patient/{id}", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		response, ok := fake.read[r.PathValue("id")]
		if !ok {
			response = fakeResponse{status: http.StatusNotFound, body: `{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"not-found","diagnostics":"Patient not found"}]}`}
		}
		writeFakeResponse(w, response)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	registry, err := mpi.NewRegistry(mpi.Config{URL: server.URL, ProxyURL: "http://mpi.example.com"}, server.Client(), mpi.StaticTokenProvider("token"))
	require.NoError(t, err)
	return fake, registry
}

func (f *fakeMPI) record(r *http.Request) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
}

func (f *fakeMPI) Requests() []string {
	f.mux.Lock()
	defer f.mux.Unlock()
	return append([]string{}, f.requests...)
}

type resolverFunc func(ctx context.Context, request mpi.Request) (*mpi.Identity, error)

func (f resolverFunc) Resolve(ctx context.Context, request mpi.Request) (*mpi.Identity, error) {
	return f(ctx, request)
}
