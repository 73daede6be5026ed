package db

import "encoding/json"

// encodePluginConfig and decodePluginConfig convert between the JSON map a
// plugin expects and the opaque []byte column Stream.PluginConfig stores.
// Codec then encrypts/decrypts the encoded JSON as one whole blob; no
// per-sub-key encryption is applied (spec.md §9).
func encodePluginConfig(cfg map[string]interface{}) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	return json.Marshal(cfg)
}

func decodePluginConfig(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Codec encrypts/decrypts the PluginConfig blob at rest. The default NoopCodec
// stores plaintext JSON; deployments handling credentials at rest should
// supply one backed by an external KMS or a local key file (spec.md §9
// "sensitive plugin config values SHOULD be encrypted at rest" is phrased as
// a SHOULD, so no-op is a valid default, recorded as an Open Question
// decision).
type Codec interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// NoopCodec stores the plugin config blob as-is.
type NoopCodec struct{}

func (NoopCodec) Encrypt(b []byte) ([]byte, error) { return b, nil }
func (NoopCodec) Decrypt(b []byte) ([]byte, error) { return b, nil }
