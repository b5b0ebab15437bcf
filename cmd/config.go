package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SanteonNL/mpi-mediator/lib/otel"
	"github.com/SanteonNL/mpi-mediator/mediator"
	"github.com/SanteonNL/mpi-mediator/messaging"
	"github.com/SanteonNL/mpi-mediator/mpi"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

const envPrefix = "MEDIATOR_"

type Config struct {
	// Public holds the configuration for the public interface.
	Public InterfaceConfig `koanf:"public"`
	// MPI holds the configuration for the MPI (client registry) patients are resolved in.
	MPI       mpi.Config       `koanf:"mpi"`
	Mediator  mediator.Config  `koanf:"mediator"`
	Messaging messaging.Config `koanf:"messaging"`
	LogLevel  zerolog.Level    `koanf:"loglevel"`
	// StrictMode requires production-grade configuration: authenticated MPI access and Kafka messaging.
	StrictMode bool `koanf:"strictmode"`
	// OpenTelemetry holds the configuration for observability
	OpenTelemetry otel.Config `koanf:"opentelemetry"`
}

func (c Config) Validate() error {
	if c.Public.Address == "" {
		return errors.New("public address is not configured")
	}
	if err := c.MPI.Validate(c.StrictMode); err != nil {
		return fmt.Errorf("invalid MPI configuration: %w", err)
	}
	if err := c.Mediator.Validate(); err != nil {
		return fmt.Errorf("invalid mediator configuration: %w", err)
	}
	if err := c.Messaging.Validate(c.StrictMode); err != nil {
		return fmt.Errorf("invalid messaging configuration: %w", err)
	}
	if err := c.OpenTelemetry.Validate(); err != nil {
		return fmt.Errorf("invalid OpenTelemetry configuration: %w", err)
	}
	return nil
}

// InterfaceConfig holds the configuration for an HTTP interface.
type InterfaceConfig struct {
	// Address holds the address to listen on.
	Address string `koanf:"address"`
}

// LoadConfig loads the configuration from the environment.
func LoadConfig() (*Config, error) {
	result := DefaultConfig()
	err := loadConfigInto(&result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func loadConfigInto(target any) error {
	k := koanf.New(".")
	err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key string, value string) (string, interface{}) {
		key = strings.Replace(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "_", ".", -1)
		if len(value) == 0 {
			return key, nil
		}
		sliceValues := splitWithEscaping(value, ",", "\\")
		for i, s := range sliceValues {
			sliceValues[i] = strings.TrimSpace(s)
		}
		var parsedValue any = sliceValues
		if len(sliceValues) == 1 {
			parsedValue = sliceValues[0]
		}
		return key, parsedValue
	}), nil)
	if err != nil {
		return err
	}
	return k.Unmarshal("", target)
}

func splitWithEscaping(s, separator, escape string) []string {
	s = strings.ReplaceAll(s, escape+separator, "\x00")
	tokens := strings.Split(s, separator)
	for i, token := range tokens {
		tokens[i] = strings.ReplaceAll(token, "\x00", separator)
	}
	return tokens
}

// DefaultConfig returns sensible, but not complete, default configuration values.
func DefaultConfig() Config {
	return Config{
		LogLevel:   zerolog.InfoLevel,
		StrictMode: true,
		Public: InterfaceConfig{
			Address: ":8080",
		},
		MPI: mpi.Config{
			Timeout: 30 * time.Second,
		},
		Mediator: mediator.DefaultConfig(),
		Messaging: messaging.Config{
			Topic: "fhir-bundles",
		},
		OpenTelemetry: otel.DefaultConfig(),
	}
}
