// Package forage defines the integration contracts for external
// content-fetch providers.
//
// This package contains:
//   - Provider identity tags and the IntegrationDef tagged union
//   - Setup and Arguments contracts per provider (spider, llama_parse)
//   - The normalized Document / FetchOutput result shape
//   - A registry mapping provider tags to their contracts
//
// The package is declarative: validation and normalization are pure
// functions over their inputs. Network invocation lives in the invoke
// subpackage.
package forage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Provider identifies an external content-fetch provider.
// The set of providers is fixed; unknown tags are rejected.
type Provider string

const (
	ProviderSpider     Provider = "spider"
	ProviderLlamaParse Provider = "llama_parse"
)

// String returns the string representation of the Provider.
func (p Provider) String() string {
	return string(p)
}

// ErrUnknownProvider is returned when a provider tag does not match any
// registered contract.
var ErrUnknownProvider = errors.New("unknown provider")

// Setup holds the credentials required to authenticate with a provider.
type Setup interface {
	Provider() Provider

	// Validate checks that required credential fields are present and
	// non-empty. It performs no network I/O and returns a *ConfigError
	// on failure.
	Validate() error
}

// Arguments is the per-call request payload sent to a provider.
type Arguments interface {
	Provider() Provider

	// ApplyDefaults substitutes declared default values for omitted
	// fields. It is idempotent: applying it to an already-defaulted
	// value is a no-op.
	ApplyDefaults()

	// Validate checks declared range and enum constraints. Callers run
	// ApplyDefaults first; Validate does not mutate the receiver and
	// returns a *ValidationError on failure.
	Validate() error
}

// IntegrationDef composes a provider tag, an optional method name, and
// the provider-specific setup and arguments values. It is the unit the
// loader, server, and invoker all operate on.
type IntegrationDef struct {
	Provider  Provider
	Method    string
	Setup     Setup
	Arguments Arguments
}

// integrationDefEnvelope is the wire shape of IntegrationDef. Setup and
// Arguments stay raw until the provider tag selects their concrete types.
type integrationDefEnvelope struct {
	Provider  Provider        `json:"provider"`
	Method    string          `json:"method,omitempty"`
	Setup     json.RawMessage `json:"setup,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// UnmarshalJSON decodes the tagged union, dispatching Setup and
// Arguments to the concrete types registered for the provider tag.
func (d *IntegrationDef) UnmarshalJSON(data []byte) error {
	var env integrationDefEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decoding integration definition: %w", err)
	}

	contract, ok := Global().Lookup(env.Provider)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, env.Provider)
	}

	d.Provider = env.Provider
	d.Method = env.Method
	d.Setup = nil
	d.Arguments = nil

	if len(env.Setup) > 0 && string(env.Setup) != "null" {
		setup := contract.NewSetup()
		if err := json.Unmarshal(env.Setup, setup); err != nil {
			return fmt.Errorf("decoding %s setup: %w", env.Provider, err)
		}
		d.Setup = setup
	}
	if len(env.Arguments) > 0 && string(env.Arguments) != "null" {
		args := contract.NewArguments()
		if err := json.Unmarshal(env.Arguments, args); err != nil {
			return fmt.Errorf("decoding %s arguments: %w", env.Provider, err)
		}
		d.Arguments = args
	}
	return nil
}

// MarshalJSON encodes the tagged union back to its wire shape.
func (d IntegrationDef) MarshalJSON() ([]byte, error) {
	env := integrationDefEnvelope{
		Provider: d.Provider,
		Method:   d.Method,
	}
	if d.Setup != nil {
		raw, err := json.Marshal(d.Setup)
		if err != nil {
			return nil, fmt.Errorf("encoding %s setup: %w", d.Provider, err)
		}
		env.Setup = raw
	}
	if d.Arguments != nil {
		raw, err := json.Marshal(d.Arguments)
		if err != nil {
			return nil, fmt.Errorf("encoding %s arguments: %w", d.Provider, err)
		}
		env.Arguments = raw
	}
	return json.Marshal(env)
}

// Validate checks the definition end to end: the provider tag must be
// registered, the setup (when present) must carry its credentials, and
// the arguments (when present) are defaulted then range/enum checked.
func (d *IntegrationDef) Validate() error {
	if _, ok := Global().Lookup(d.Provider); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, d.Provider)
	}
	if d.Setup != nil {
		if d.Setup.Provider() != d.Provider {
			return fmt.Errorf("setup provider %q does not match definition provider %q",
				d.Setup.Provider(), d.Provider)
		}
		if err := d.Setup.Validate(); err != nil {
			return err
		}
	}
	if d.Arguments != nil {
		if d.Arguments.Provider() != d.Provider {
			return fmt.Errorf("arguments provider %q does not match definition provider %q",
				d.Arguments.Provider(), d.Provider)
		}
		d.Arguments.ApplyDefaults()
		if err := d.Arguments.Validate(); err != nil {
			return err
		}
	}
	return nil
}
