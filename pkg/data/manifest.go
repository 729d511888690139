package data

// ManifestFile is one hashed file inside the shared volume.
type ManifestFile struct {
	ContainerPath string `json:"container_path"`
	Hash          string `json:"hash"`
	Size          int64  `json:"size"`
}

// HashManifest is produced inside the container and consumed by the
// host-side signer.
type HashManifest struct {
	Runtime           string         `json:"runtime"`
	ChecksumAlgorithm string         `json:"checksum_algorithm"`
	Files             []ManifestFile `json:"files"`
}
