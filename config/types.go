package config

import (
	"fmt"
	"strings"

	"spotchain/crypto"
	nativecommon "spotchain/native/common"
	"spotchain/native/fees"
)

// Fee configures the platform fee of one engine. Sink and Admin accept
// bech32 or 0x hex addresses.
type Fee struct {
	RateBps uint64 `toml:"RateBps" yaml:"rate_bps"`
	Sink    string `toml:"Sink" yaml:"sink"`
	Admin   string `toml:"Admin" yaml:"admin"`
}

// Fees groups the per-engine fee schedules.
type Fees struct {
	Lending Fee `toml:"lending" yaml:"lending"`
	Stream  Fee `toml:"stream" yaml:"stream"`
	Pool    Fee `toml:"pool" yaml:"pool"`
}

// Pauses switches modules off at startup.
type Pauses struct {
	Lending bool `toml:"Lending" yaml:"lending"`
	Stream  bool `toml:"Stream" yaml:"stream"`
	Pool    bool `toml:"Pool" yaml:"pool"`
}

// Telemetry configures OTLP trace export. An empty endpoint disables it.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}

// View returns the pause switches in the form engines consume.
func (p Pauses) View() nativecommon.StaticPauses {
	return nativecommon.StaticPauses{
		"lending": p.Lending,
		"stream":  p.Stream,
		"pool":    p.Pool,
	}
}

// Schedule builds the fee schedule described by f.
func (f Fee) Schedule() (*fees.Schedule, error) {
	sink, err := optionalAddress(f.Sink)
	if err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}
	admin, err := optionalAddress(f.Admin)
	if err != nil {
		return nil, fmt.Errorf("admin: %w", err)
	}
	return fees.NewSchedule(f.RateBps, sink, admin)
}

func (f *Fee) normalize() {
	f.Sink = strings.TrimSpace(f.Sink)
	f.Admin = strings.TrimSpace(f.Admin)
}

func optionalAddress(raw string) (crypto.Address, error) {
	if raw == "" {
		return crypto.ZeroAddress, nil
	}
	return crypto.DecodeAddress(raw)
}
