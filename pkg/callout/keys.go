package callout

import (
	"fmt"
	"strings"

	"github.com/nats-io/nkeys"
)

// LoadIssuer parses the account seed used to sign user JWTs and responses.
func LoadIssuer(seed string) (nkeys.KeyPair, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return nil, fmt.Errorf("issuer seed is empty")
	}
	kp, err := nkeys.FromSeed([]byte(seed))
	if err != nil {
		return nil, fmt.Errorf("parse issuer seed: %w", err)
	}
	pub, err := kp.PublicKey()
	if err != nil {
		return nil, err
	}
	if !nkeys.IsValidPublicAccountKey(pub) {
		return nil, fmt.Errorf("issuer seed is not an account key")
	}
	return kp, nil
}

// LoadXKey parses the optional curve seed used to decrypt requests and
// encrypt responses. An empty seed returns nil.
func LoadXKey(seed string) (nkeys.KeyPair, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return nil, nil
	}
	kp, err := nkeys.FromCurveSeed([]byte(seed))
	if err != nil {
		return nil, fmt.Errorf("parse xkey seed: %w", err)
	}
	return kp, nil
}

// GeneratedKeys holds freshly created callout key material.
type GeneratedKeys struct {
	IssuerSeed   string
	IssuerPublic string
	XKeySeed     string
	XKeyPublic   string
}

// GenerateKeys creates an issuer account key pair and, if withXKey is set,
// a curve key pair.
func GenerateKeys(withXKey bool) (*GeneratedKeys, error) {
	acct, err := nkeys.CreateAccount()
	if err != nil {
		return nil, fmt.Errorf("create account key: %w", err)
	}
	seed, err := acct.Seed()
	if err != nil {
		return nil, err
	}
	pub, err := acct.PublicKey()
	if err != nil {
		return nil, err
	}
	out := &GeneratedKeys{IssuerSeed: string(seed), IssuerPublic: pub}
	if !withXKey {
		return out, nil
	}

	curve, err := nkeys.CreateCurveKeys()
	if err != nil {
		return nil, fmt.Errorf("create curve key: %w", err)
	}
	xseed, err := curve.Seed()
	if err != nil {
		return nil, err
	}
	xpub, err := curve.PublicKey()
	if err != nil {
		return nil, err
	}
	out.XKeySeed = string(xseed)
	out.XKeyPublic = xpub
	return out, nil
}
