// Package identity turns user-supplied recipient strings into wallet
// addresses or normalised off-chain identities and their hashes.
//
// Normalisation is the security boundary for rebinding: two spellings of the
// same mailbox or handle must hash identically, otherwise a stream sent to
// "Alice@Example.com" could never be claimed by the owner of
// "alice@example.com". Strings are NFKC-normalised and case-folded before
// hashing.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/streampay/internal/ir"
)

// Kind is the channel an identity belongs to.
type Kind string

const (
	KindEmail    Kind = "email"
	KindX        Kind = "x"
	KindGitHub   Kind = "github"
	KindTelegram Kind = "telegram"
	KindDiscord  Kind = "discord"
)

// kindAliases maps accepted prefixes to kinds.
var kindAliases = map[string]Kind{
	"email":    KindEmail,
	"mailto":   KindEmail,
	"x":        KindX,
	"twitter":  KindX,
	"github":   KindGitHub,
	"gh":       KindGitHub,
	"telegram": KindTelegram,
	"tg":       KindTelegram,
	"discord":  KindDiscord,
}

// handlePatterns constrain normalised handles per kind.
var handlePatterns = map[Kind]*regexp.Regexp{
	KindX:        regexp.MustCompile(`^[a-z0-9_]{1,15}$`),
	KindGitHub:   regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,37}[a-z0-9])?$`),
	KindTelegram: regexp.MustCompile(`^[a-z][a-z0-9_]{4,31}$`),
	KindDiscord:  regexp.MustCompile(`^[a-z0-9_.]{2,32}$`),
}

// ErrUnrecognized is returned when a string is neither an address nor an identity.
var ErrUnrecognized = errors.New("unrecognized recipient")

var validate = validator.New()

// Identity is a normalised off-chain identity.
type Identity struct {
	Kind  Kind
	Value string
}

// String renders the identity in its canonical "kind:value" form.
func (i Identity) String() string {
	return string(i.Kind) + ":" + i.Value
}

// Hash returns the identity hash recorded on streams addressed to i.
func (i Identity) Hash() ir.IdentityHash {
	return ir.HashIdentity(string(i.Kind), i.Value)
}

// Channel describes where a notification for this identity is delivered.
func (i Identity) Channel() string {
	if i.Kind == KindEmail {
		return "email"
	}
	return "social:" + string(i.Kind)
}

// New normalises value for kind and validates the result.
func New(kind Kind, value string) (Identity, error) {
	normalized := normalize(value)
	switch kind {
	case KindEmail:
		if err := validate.Var(normalized, "required,email"); err != nil {
			return Identity{}, fmt.Errorf("email %q: invalid address", value)
		}
	case KindX, KindGitHub, KindTelegram, KindDiscord:
		normalized = strings.TrimPrefix(normalized, "@")
		if !handlePatterns[kind].MatchString(normalized) {
			return Identity{}, fmt.Errorf("%s handle %q: invalid", kind, value)
		}
	default:
		return Identity{}, fmt.Errorf("identity kind %q: unsupported", kind)
	}
	return Identity{Kind: kind, Value: normalized}, nil
}

// Parse reads an identity in one of the accepted forms:
//
//	email:alice@example.com   alice@example.com
//	x:@alice   twitter:alice  @alice (x)
//	github:alice  telegram:alice  discord:alice
func Parse(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identity{}, fmt.Errorf("identity: empty")
	}

	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		if kind, known := kindAliases[strings.ToLower(prefix)]; known {
			return New(kind, rest)
		}
	}

	switch {
	case strings.HasPrefix(s, "@"):
		return New(KindX, s)
	case strings.Contains(s, "@"):
		return New(KindEmail, s)
	}
	return Identity{}, fmt.Errorf("identity %q: %w", s, ErrUnrecognized)
}

// normalize applies NFKC, trims whitespace and case-folds.
func normalize(s string) string {
	s = norm.NFKC.String(strings.TrimSpace(s))
	// A Caser is stateful and must not be shared across goroutines.
	return cases.Fold().String(s)
}
