package signing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/avocado-linux/avocado/pkg/data"
)

// AuthMode selects how the token PIN is obtained.
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthPrompt AuthMode = "prompt"
	AuthEnv    AuthMode = "env"
)

// PINEnvVar is consulted for the env authentication mode.
const PINEnvVar = "AVOCADO_PKCS11_PIN"

// ckmEDDSA is the CKM_EDDSA mechanism from PKCS#11 v3.0; miekg/pkcs11
// generates its constants from the v2.40 headers and does not define it.
const ckmEDDSA = 0x00001057

// ResolvePIN obtains a PIN according to the auth mode. An empty mode
// picks env when the variable is set, prompt on a terminal, and none
// otherwise.
func ResolvePIN(mode AuthMode) (string, error) {
	if mode == "" {
		switch {
		case os.Getenv(PINEnvVar) != "":
			mode = AuthEnv
		case term.IsTerminal(int(os.Stdin.Fd())):
			mode = AuthPrompt
		default:
			mode = AuthNone
		}
	}

	switch mode {
	case AuthNone:
		return "", nil
	case AuthEnv:
		pin := os.Getenv(PINEnvVar)
		if pin == "" {
			return "", errors.Errorf("%s is not set", PINEnvVar)
		}

		return pin, nil
	case AuthPrompt:
		fmt.Fprint(os.Stderr, "Token PIN: ")

		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", errors.Wrap(err, "reading PIN")
		}

		return string(raw), nil
	default:
		return "", errors.Errorf("unknown auth mode '%s'", mode)
	}
}

// Token is an open session against one PKCS#11 token.
type Token struct {
	module  string
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	label   string
}

// OpenToken loads the module and opens a read-write session against the
// slot whose token label matches.
func OpenToken(modulePath, tokenLabel string) (*Token, error) {
	p := pkcs11.New(modulePath)
	if p == nil {
		return nil, errors.Errorf("cannot load PKCS#11 module %s", modulePath)
	}

	if err := p.Initialize(); err != nil {
		p.Destroy()
		return nil, errors.Wrapf(err, "initializing PKCS#11 module %s", modulePath)
	}

	slots, err := p.GetSlotList(true)
	if err != nil {
		p.Finalize()
		p.Destroy()
		return nil, errors.Wrap(err, "listing PKCS#11 slots")
	}

	for _, slot := range slots {
		info, err := p.GetTokenInfo(slot)
		if err != nil {
			continue
		}

		if strings.TrimSpace(info.Label) != tokenLabel {
			continue
		}

		session, err := p.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
		if err != nil {
			p.Finalize()
			p.Destroy()
			return nil, errors.Wrapf(err, "opening session on token '%s'", tokenLabel)
		}

		return &Token{module: modulePath, ctx: p, session: session, label: tokenLabel}, nil
	}

	p.Finalize()
	p.Destroy()

	return nil, errors.Errorf("token '%s' not found via %s", tokenLabel, modulePath)
}

func (t *Token) Close() {
	t.ctx.Logout(t.session)
	t.ctx.CloseSession(t.session)
	t.ctx.Finalize()
	t.ctx.Destroy()
}

// Login performs a user login; an already-logged-in session is fine.
func (t *Token) Login(pin string) error {
	err := t.ctx.Login(t.session, pkcs11.CKU_USER, pin)
	if err != nil {
		if p11err, ok := err.(pkcs11.Error); ok && p11err == pkcs11.CKR_USER_ALREADY_LOGGED_IN {
			return nil
		}

		return errors.Wrapf(err, "logging into token '%s'", t.label)
	}

	return nil
}

// FindPrivateKey locates the private key object with the given label.
func (t *Token) FindPrivateKey(objectLabel string) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, objectLabel),
	}

	if err := t.ctx.FindObjectsInit(t.session, template); err != nil {
		return 0, errors.Wrap(err, "searching for key object")
	}

	objs, _, err := t.ctx.FindObjects(t.session, 1)
	t.ctx.FindObjectsFinal(t.session)

	if err != nil {
		return 0, errors.Wrap(err, "searching for key object")
	}

	if len(objs) == 0 {
		return 0, errors.Errorf("key object '%s' not found on token '%s'", objectLabel, t.label)
	}

	return objs[0], nil
}

// alwaysAuthenticate reports whether the key requires a context-specific
// login per operation, as hardware tokens commonly do.
func (t *Token) alwaysAuthenticate(obj pkcs11.ObjectHandle) bool {
	attrs, err := t.ctx.GetAttributeValue(t.session, obj, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_ALWAYS_AUTHENTICATE, nil),
	})
	if err != nil || len(attrs) == 0 || len(attrs[0].Value) == 0 {
		return false
	}

	return attrs[0].Value[0] != 0
}

// Sign signs data with an ed25519 key object. Keys flagged
// always-authenticate get a context-specific login first.
func (t *Token) Sign(obj pkcs11.ObjectHandle, pin string, payload []byte) ([]byte, error) {
	if t.alwaysAuthenticate(obj) && pin != "" {
		err := t.ctx.Login(t.session, pkcs11.CKU_CONTEXT_SPECIFIC, pin)
		if err != nil {
			if p11err, ok := err.(pkcs11.Error); !ok || p11err != pkcs11.CKR_USER_ALREADY_LOGGED_IN {
				return nil, errors.Wrap(err, "context-specific login")
			}
		}
	}

	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(ckmEDDSA, nil)}

	if err := t.ctx.SignInit(t.session, mech, obj); err != nil {
		return nil, errors.Wrap(err, "initializing sign operation")
	}

	sig, err := t.ctx.Sign(t.session, payload)
	if err != nil {
		return nil, errors.Wrap(err, "signing")
	}

	return sig, nil
}

// DestroyKey removes the named key object from the token.
func (t *Token) DestroyKey(objectLabel string) error {
	obj, err := t.FindPrivateKey(objectLabel)
	if err != nil {
		return err
	}

	if err := t.ctx.DestroyObject(t.session, obj); err != nil {
		return errors.Wrapf(err, "destroying key object '%s'", objectLabel)
	}

	return nil
}

// signPKCS11 signs a digest with a hardware-backed key: discover the
// module, open the token named by the URI, authenticate, and sign.
func (s *Signer) signPKCS11(ctx context.Context, entry data.SigningKeyEntry, digest []byte) ([]byte, error) {
	uri, err := ParsePKCS11URI(entry.URI)
	if err != nil {
		return nil, err
	}

	kind := InferDeviceKind(uri.Token)

	module, err := DiscoverModule(kind)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("using PKCS#11 module", "module", module, "token", uri.Token)

	tok, err := OpenToken(module, uri.Token)
	if err != nil {
		return nil, err
	}
	defer tok.Close()

	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	pin, err := ResolvePIN("")
	if err != nil {
		return nil, err
	}

	if pin != "" {
		if err := tok.Login(pin); err != nil {
			return nil, err
		}
	}

	obj, err := tok.FindPrivateKey(uri.Object)
	if err != nil {
		return nil, err
	}

	return tok.Sign(obj, pin, digest)
}
