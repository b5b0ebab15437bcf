package mediator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// TransactionStatus is the overall status of a mediated transaction, as reported to OpenHIM.
type TransactionStatus string

const (
	StatusSuccess TransactionStatus = "Success"
	StatusFailed  TransactionStatus = "Failed"
	// StatusSuccessful is reported for successful patient summary fetches.
	StatusSuccessful TransactionStatus = "Successful"
)

// Outcome is the consolidated result of a pipeline invocation.
type Outcome struct {
	Status     TransactionStatus
	StatusCode int
	Body       json.RawMessage
}

func (o Outcome) IsSuccess() bool {
	return o.Status != StatusFailed
}

type FailureKind string

const (
	ValidationFailure    FailureKind = "ValidationFailure"
	RegistryFailure      FailureKind = "RegistryFailure"
	DataConsistencyError FailureKind = "DataConsistencyError"
	StoreWriteFailure    FailureKind = "StoreWriteFailure"
	BrokerPublishFailure FailureKind = "BrokerPublishFailure"
	SummaryFetchFailure  FailureKind = "SummaryFetchFailure"
	TransportFailure     FailureKind = "TransportFailure"
)

// Failure is a failed pipeline step. StatusCode and Body are what's reported to the caller.
type Failure struct {
	Kind       FailureKind
	StatusCode int
	Body       json.RawMessage
	Err        error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s (status=%d): %s", f.Kind, f.StatusCode, f.Err.Error())
	}
	return fmt.Sprintf("%s (status=%d)", f.Kind, f.StatusCode)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) Outcome() Outcome {
	body := f.Body
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}
	return Outcome{
		Status:     StatusFailed,
		StatusCode: f.StatusCode,
		Body:       body,
	}
}

// AsFailure returns the Failure in err's chain, or a TransportFailure wrapping err if there is none.
func AsFailure(err error) *Failure {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	return transportFailure(err)
}

// transportFailure is reported when an upstream service couldn't be reached or returned garbage.
func transportFailure(err error) *Failure {
	return &Failure{
		Kind:       TransportFailure,
		StatusCode: http.StatusInternalServerError,
		Body:       errorBody("error", err),
		Err:        err,
	}
}

// errorBody returns a JSON object with the error message under the given key.
func errorBody(key string, err error) json.RawMessage {
	data, _ := json.Marshal(map[string]string{key: err.Error()})
	return data
}
