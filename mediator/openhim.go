package mediator

import (
	"encoding/json"
	"time"
)

// OpenHIMMediaType is the content type of mediator responses, which OpenHIM unwraps.
const OpenHIMMediaType = "application/openhim+json"

const openHIMTimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// OpenHIMResponse is the mediator response format of OpenHIM.
type OpenHIMResponse struct {
	MediatorURN string                `json:"x-mediator-urn"`
	Status      TransactionStatus     `json:"status"`
	Response    OpenHIMResponseDetail `json:"response"`
}

type OpenHIMResponseDetail struct {
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Body      json.RawMessage   `json:"body"`
	Timestamp string            `json:"timestamp"`
}

func NewOpenHIMResponse(mediatorURN string, outcome Outcome, now time.Time) OpenHIMResponse {
	body := outcome.Body
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}
	return OpenHIMResponse{
		MediatorURN: mediatorURN,
		Status:      outcome.Status,
		Response: OpenHIMResponseDetail{
			Status: outcome.StatusCode,
			Headers: map[string]string{
				"Content-Type": "application/json",
			},
			Body:      body,
			Timestamp: now.Format(openHIMTimestampLayout),
		},
	}
}
