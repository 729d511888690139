package data

// SignRequest is one newline-framed JSON request on the signing socket.
type SignRequest struct {
	Type              string `json:"type"`
	BinaryPath        string `json:"binary_path"`
	ChecksumAlgorithm string `json:"checksum_algorithm"`
}

// SignResponse answers a SignRequest.
type SignResponse struct {
	Type             string  `json:"type"`
	Success          bool    `json:"success"`
	SignaturePath    string  `json:"signature_path,omitempty"`
	SignatureContent string  `json:"signature_content,omitempty"`
	Error            *string `json:"error"`
}

const (
	SignRequestType  = "sign_request"
	SignResponseType = "sign_response"
)
