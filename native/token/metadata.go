package token

import (
	"strings"

	"spotchain/crypto"
)

// Fallback metadata used when an asset does not answer.
const (
	DefaultDecimals uint8 = 18
	DefaultName           = "Unknown"
	DefaultSymbol         = "UNKNOWN"
)

// SafeMetadata resolves the metadata of asset without ever failing. Each field
// is looked up independently; lookups that error, panic or return an empty
// string fall back to the defaults.
func SafeMetadata(src MetadataSource, asset crypto.Address) Metadata {
	return Metadata{
		Name:     safeString(func() (string, error) { return src.Name(asset) }, DefaultName),
		Symbol:   safeString(func() (string, error) { return src.Symbol(asset) }, DefaultSymbol),
		Decimals: SafeDecimals(src, asset),
	}
}

// SafeDecimals returns the decimals of asset or DefaultDecimals.
func SafeDecimals(src MetadataSource, asset crypto.Address) (decimals uint8) {
	decimals = DefaultDecimals
	if src == nil {
		return decimals
	}
	defer func() {
		if recover() != nil {
			decimals = DefaultDecimals
		}
	}()
	value, err := src.Decimals(asset)
	if err != nil {
		return DefaultDecimals
	}
	return value
}

func safeString(lookup func() (string, error), fallback string) (out string) {
	out = fallback
	defer func() {
		if recover() != nil {
			out = fallback
		}
	}()
	value, err := lookup()
	if err != nil || strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
