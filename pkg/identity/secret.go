package identity

import "log/slog"

const redacted = "[redacted]"

// Secret is an opaque credential. It never appears in logs, JSON, YAML,
// or fmt output; callers that need the raw material use Bytes.
type Secret struct {
	value []byte
}

// NewSecret wraps raw key material. The input slice is copied.
func NewSecret(value []byte) Secret {
	out := make([]byte, len(value))
	copy(out, value)
	return Secret{value: out}
}

// SecretFromString wraps a string credential, e.g. an API key from config.
func SecretFromString(value string) Secret {
	return Secret{value: []byte(value)}
}

// Bytes returns a copy of the key material for signing.
func (s Secret) Bytes() []byte {
	out := make([]byte, len(s.value))
	copy(out, s.value)
	return out
}

// Empty reports whether no credential is held.
func (s Secret) Empty() bool { return len(s.value) == 0 }

// String implements fmt.Stringer with a redaction.
func (s Secret) String() string { return redacted }

// GoString keeps %#v output redacted as well.
func (s Secret) GoString() string { return "identity.Secret{" + redacted + "}" }

// LogValue implements slog.LogValuer with a redaction.
func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalJSON implements json.Marshaler with a redaction.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// MarshalYAML implements yaml.Marshaler with a redaction.
func (s Secret) MarshalYAML() (any, error) {
	return redacted, nil
}
