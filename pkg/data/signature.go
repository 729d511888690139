package data

// SignatureFile is the detached signature written at <file>.sig.
// Checksum and Signature are hex encoded.
type SignatureFile struct {
	Version           string `json:"version"`
	ChecksumAlgorithm string `json:"checksum_algorithm"`
	Checksum          string `json:"checksum"`
	Signature         string `json:"signature"`
	KeyName           string `json:"key_name"`
	KeyID             string `json:"keyid"`
}

const SignatureFileVersion = "1"
