package update

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/pkg/errors"
)

// RootExpiry is how far in the future a generated root document
// expires.
const RootExpiry = 365 * 24 * time.Hour

// tufKey is the TUF 1.0 representation of an ed25519 public key.
type tufKey struct {
	KeyType string            `json:"keytype"`
	KeyVal  map[string]string `json:"keyval"`
	Scheme  string            `json:"scheme"`
}

type tufRole struct {
	KeyIDs    []string `json:"keyids"`
	Threshold int      `json:"threshold"`
}

type rootSigned struct {
	Type               string             `json:"_type"`
	ConsistentSnapshot bool               `json:"consistent_snapshot"`
	Expires            string             `json:"expires"`
	Keys               map[string]tufKey  `json:"keys"`
	Roles              map[string]tufRole `json:"roles"`
	SpecVersion        string             `json:"spec_version"`
	Version            int                `json:"version"`
}

type tufSignature struct {
	KeyID string `json:"keyid"`
	Sig   string `json:"sig"`
}

type rootEnvelope struct {
	Signatures []tufSignature `json:"signatures"`
	Signed     rootSigned     `json:"signed"`
}

func keyObject(pub ed25519.PublicKey) tufKey {
	return tufKey{
		KeyType: "ed25519",
		KeyVal:  map[string]string{"public": hex.EncodeToString(pub)},
		Scheme:  "ed25519",
	}
}

// TUFKeyID is the hex SHA-256 of the RFC 8785 canonical form of the key
// object. Other TUF tools reject anything else.
func TUFKeyID(pub ed25519.PublicKey) (string, error) {
	raw, err := json.Marshal(keyObject(pub))
	if err != nil {
		return "", errors.WithStack(err)
	}

	canon, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return "", errors.Wrap(err, "canonicalizing key object")
	}

	sum := sha256.Sum256(canon)

	return hex.EncodeToString(sum[:]), nil
}

// GenerateRoot emits a signed TUF 1.0 root.json naming the single key
// for all four roles at threshold 1.
func GenerateRoot(priv ed25519.PrivateKey, now time.Time) ([]byte, error) {
	pub := priv.Public().(ed25519.PublicKey)

	keyid, err := TUFKeyID(pub)
	if err != nil {
		return nil, err
	}

	role := tufRole{KeyIDs: []string{keyid}, Threshold: 1}

	signed := rootSigned{
		Type:               "root",
		ConsistentSnapshot: false,
		Expires:            now.Add(RootExpiry).UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z"),
		Keys:               map[string]tufKey{keyid: keyObject(pub)},
		Roles: map[string]tufRole{
			"root":      role,
			"snapshot":  role,
			"targets":   role,
			"timestamp": role,
		},
		SpecVersion: "1.0.0",
		Version:     1,
	}

	rawSigned, err := json.Marshal(signed)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	canon, err := jsoncanonicalizer.Transform(rawSigned)
	if err != nil {
		return nil, errors.Wrap(err, "canonicalizing signed object")
	}

	env := rootEnvelope{
		Signatures: []tufSignature{{
			KeyID: keyid,
			Sig:   hex.EncodeToString(ed25519.Sign(priv, canon)),
		}},
		Signed: signed,
	}

	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return append(out, '\n'), nil
}

// VerifyRoot checks a root document's signature against its own
// embedded key.
func VerifyRoot(doc []byte) error {
	var env rootEnvelope

	if err := json.Unmarshal(doc, &env); err != nil {
		return errors.Wrap(err, "parsing root document")
	}

	if len(env.Signatures) == 0 {
		return errors.New("root document carries no signatures")
	}

	rawSigned, err := json.Marshal(env.Signed)
	if err != nil {
		return errors.WithStack(err)
	}

	canon, err := jsoncanonicalizer.Transform(rawSigned)
	if err != nil {
		return errors.Wrap(err, "canonicalizing signed object")
	}

	for _, sig := range env.Signatures {
		key, ok := env.Signed.Keys[sig.KeyID]
		if !ok {
			return errors.Errorf("signature names unknown keyid %s", sig.KeyID)
		}

		pub, err := hex.DecodeString(key.KeyVal["public"])
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return errors.Errorf("malformed public key for keyid %s", sig.KeyID)
		}

		rawSig, err := hex.DecodeString(sig.Sig)
		if err != nil {
			return errors.Wrap(err, "decoding signature")
		}

		if !ed25519.Verify(ed25519.PublicKey(pub), canon, rawSig) {
			return errors.Errorf("signature by keyid %s does not verify", sig.KeyID)
		}
	}

	return nil
}
