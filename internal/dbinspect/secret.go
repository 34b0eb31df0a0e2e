// Package dbinspect extracts database schemas, foreign-key
// relationships, and PII findings from live databases.
package dbinspect

import "encoding/json"

// Secret is an opaque credential string. Every implicit conversion to
// text yields a fixed redacted form; only ExposeSecret returns the
// value.
type Secret string

const redactedSecret = "***"

func (s Secret) String() string { return redactedSecret }

func (s Secret) GoString() string { return redactedSecret }

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedSecret + `"`), nil
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*s = Secret(value)
	return nil
}

// ExposeSecret returns the underlying value. Call sites are the only
// places credentials leave the type.
func (s Secret) ExposeSecret() string { return string(s) }
