package data

// SigningKeyEntry is one registered signing key. CreatedAt is RFC 3339.
// URI is either file://<abs-path> or a pkcs11: URI.
type SigningKeyEntry struct {
	KeyID     string `json:"keyid"`
	Algorithm string `json:"algorithm"`
	CreatedAt string `json:"created_at"`
	URI       string `json:"uri"`
}

// KeyRegistryFile is the on-disk shape of the signing-key registry.
type KeyRegistryFile struct {
	Keys map[string]SigningKeyEntry `json:"keys"`
}

// DefaultKeyName is reserved for the auto-generated update key.
const DefaultKeyName = "default"
