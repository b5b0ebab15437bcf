package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedpandaPort is the fixed host port the Kafka API is published on.
// Kafka clients connect to the advertised address, so the host port can't be random.
const RedpandaPort = "19092"

// SetupRedpanda starts a single-node Redpanda (Kafka API compatible) broker and returns its bootstrap address.
func SetupRedpanda(t *testing.T) string {
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "docker.redpanda.com/redpandadata/redpanda:v24.1.7",
		ExposedPorts: []string{RedpandaPort + ":9092/tcp"},
		Cmd: []string{
			"redpanda", "start",
			"--mode", "dev-container",
			"--smp", "1",
			"--kafka-addr", "PLAINTEXT://0.0.0.0:9092",
			"--advertise-kafka-addr", "PLAINTEXT://localhost:" + RedpandaPort,
		},
		WaitingFor: wait.ForLog("Successfully started Redpanda!").WithStartupTimeout(2 * time.Minute),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			panic(err)
		}
	})
	return "localhost:" + RedpandaPort
}
