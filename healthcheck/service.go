package healthcheck

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// New creates the health check endpoint. The mediator URN is reported along with the status,
// so OpenHIM operators can tell which mediator instance answered.
func New(mediatorURN string) *Service {
	return &Service{mediatorURN: mediatorURN}
}

type Service struct {
	mediatorURN string
}

func (s Service) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealthCheck)
}

func (s Service) handleHealthCheck(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(writer).Encode(map[string]string{
		"status":         "up",
		"x-mediator-urn": s.mediatorURN,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to write health check response")
	}
}
