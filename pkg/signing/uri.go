package signing

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	fileScheme   = "file://"
	pkcs11Scheme = "pkcs11:"
)

func FileURI(path string) string { return fileScheme + path }

func ParseFileURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, fileScheme) {
		return "", errors.Errorf("not a file:// URI: %s", uri)
	}

	return strings.TrimPrefix(uri, fileScheme), nil
}

func IsPKCS11URI(uri string) bool { return strings.HasPrefix(uri, pkcs11Scheme) }

// PKCS11URI identifies a private key object on a hardware token.
type PKCS11URI struct {
	Token  string
	Object string
	Type   string
}

// String renders the URI with spaces, semicolons, and equals signs in
// labels percent-encoded.
func (u PKCS11URI) String() string {
	typ := u.Type
	if typ == "" {
		typ = "private"
	}

	return pkcs11Scheme +
		"token=" + encodeLabel(u.Token) +
		";object=" + encodeLabel(u.Object) +
		";type=" + typ
}

func ParsePKCS11URI(uri string) (*PKCS11URI, error) {
	if !IsPKCS11URI(uri) {
		return nil, errors.Errorf("not a pkcs11: URI: %s", uri)
	}

	out := &PKCS11URI{Type: "private"}

	for _, attr := range strings.Split(strings.TrimPrefix(uri, pkcs11Scheme), ";") {
		if attr == "" {
			continue
		}

		k, v, found := strings.Cut(attr, "=")
		if !found {
			return nil, errors.Errorf("malformed pkcs11 URI attribute '%s'", attr)
		}

		switch k {
		case "token":
			out.Token = decodeLabel(v)
		case "object":
			out.Object = decodeLabel(v)
		case "type":
			out.Type = v
		}
	}

	if out.Token == "" || out.Object == "" {
		return nil, errors.Errorf("pkcs11 URI must carry token and object: %s", uri)
	}

	return out, nil
}

var labelEncoder = strings.NewReplacer(
	"%", "%25",
	" ", "%20",
	";", "%3B",
	"=", "%3D",
)

var labelDecoder = strings.NewReplacer(
	"%20", " ",
	"%3B", ";",
	"%3b", ";",
	"%3D", "=",
	"%3d", "=",
	"%25", "%",
)

func encodeLabel(s string) string { return labelEncoder.Replace(s) }
func decodeLabel(s string) string { return labelDecoder.Replace(s) }
