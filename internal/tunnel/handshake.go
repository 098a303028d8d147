package tunnel

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Handshake is what a client asked for in its first buffer.
type Handshake struct {
	Target     string // raw host[:port]
	Passphrase string
	Split      bool // the client sends one more framing buffer before the payload
}

// ParseHandshake extracts the tunnel request from the first buffer read
// from a client. A missing X-Real-Host falls back to defaultTarget. It
// never fails; validation happens in Policy.Check and the connect phase.
func ParseHandshake(buf []byte, defaultTarget string) Handshake {
	h := Handshake{
		Target:     HeaderValue(buf, HeaderRealHost),
		Passphrase: HeaderValue(buf, HeaderPass),
	}
	if h.Target == "" {
		h.Target = defaultTarget
	}
	_, h.Split = lookupHeader(buf, HeaderSplit)
	return h
}

// Endpoint splits the target into host and port. See SplitTarget.
func (h Handshake) Endpoint() (string, int, error) {
	return SplitTarget(h.Target)
}

// Policy decides whether a handshake may proceed to the connect phase.
//
// With no passphrase configured every target is allowed. Once a passphrase
// is configured, the client must present it and the target must start with
// 127.0.0.1 or localhost. An empty passphrase makes an open proxy.
type Policy struct {
	Passphrase     string
	PassphraseHash []byte // bcrypt hash, used instead of Passphrase when set
}

// Enabled reports whether a shared passphrase is configured.
func (p Policy) Enabled() bool {
	return p.Passphrase != "" || len(p.PassphraseHash) > 0
}

// Check returns ErrWrongPassphrase or ErrForbiddenHost when h is not allowed.
func (p Policy) Check(h Handshake) error {
	if !p.Enabled() {
		return nil
	}
	if !p.matches(h.Passphrase) {
		return ErrWrongPassphrase
	}
	if !strings.HasPrefix(h.Target, "127.0.0.1") && !strings.HasPrefix(h.Target, "localhost") {
		return ErrForbiddenHost
	}
	return nil
}

func (p Policy) matches(given string) bool {
	if len(p.PassphraseHash) > 0 {
		return bcrypt.CompareHashAndPassword(p.PassphraseHash, []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(p.Passphrase)) == 1
}

// HashPassphrase returns the bcrypt hash to store as passphrase_bcrypt.
func HashPassphrase(pass string) (string, error) {
	if pass == "" {
		return "", errors.New("empty passphrase")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
