package airlock

import (
	"errors"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	// DefaultCookieName is the client-side token cookie.
	DefaultCookieName = "airlock_token"

	defaultSaltRounds      = 5
	defaultTokenExpiration = 14 * 24 * time.Hour
)

var baseIDPattern = regexp.MustCompile(`^app[a-zA-Z0-9]+$`)

// Options is the validated, immutable configuration consumed by every
// component. The bootstrap layer owns construction; the core only reads it.
type Options struct {
	// UpstreamBaseURL overrides the official upstream endpoint. Leave empty
	// for the default.
	UpstreamBaseURL string

	// APIKeys holds one or more upstream credentials; with several, the
	// gateway rotates across them per request.
	APIKeys []string

	BaseID         string
	UserTableName  string
	UsernameColumn string
	PasswordColumn string

	// DisableHashPassword switches password checks to plain comparison. A
	// deliberately insecure development convenience.
	DisableHashPassword bool
	SaltRounds          int

	TokenExpiration time.Duration
	CookieName      string
	CookieDuration  time.Duration
	CacheTTL        time.Duration

	// AllowedOrigins is the CORS allow-list. Empty permits all origins.
	AllowedOrigins []string

	// AccessResolvers maps table names to per-record access policies.
	AccessResolvers map[string]Resolver

	// PEM-encoded RS256 key material, provisioned out of core.
	PrivateKey []byte
	PublicKey  []byte

	RevocationStore RevocationStore
	Logger          Logger
}

// Validate checks the options the way the bootstrap layer expects: it never
// mutates, so call withDefaults first.
func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.APIKeys, validation.Required, validation.By(validateNonEmptyStrings)),
		validation.Field(&o.BaseID, validation.Required, validation.Match(baseIDPattern)),
		validation.Field(&o.UserTableName, validation.Required),
		validation.Field(&o.UsernameColumn, validation.Required),
		validation.Field(&o.PasswordColumn, validation.Required),
		validation.Field(&o.SaltRounds, validation.Min(4), validation.Max(31)),
		validation.Field(&o.TokenExpiration, validation.Min(time.Minute)),
		validation.Field(&o.CookieDuration, validation.Min(time.Duration(0))),
		validation.Field(&o.AllowedOrigins, validation.By(validateNonEmptyStrings)),
		validation.Field(&o.PrivateKey, validation.Required),
		validation.Field(&o.PublicKey, validation.Required),
		validation.Field(&o.RevocationStore, validation.Required),
	)
}

// withDefaults fills unset optional fields.
func (o Options) withDefaults() Options {
	if o.SaltRounds == 0 {
		o.SaltRounds = defaultSaltRounds
	}
	if o.TokenExpiration == 0 {
		o.TokenExpiration = defaultTokenExpiration
	}
	if o.CookieName == "" {
		o.CookieName = DefaultCookieName
	}
	if o.CookieDuration == 0 {
		o.CookieDuration = o.TokenExpiration
	}
	if o.CacheTTL == 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.AccessResolvers == nil {
		o.AccessResolvers = map[string]Resolver{}
	}
	if o.Logger == nil {
		o.Logger = defLogger{}
	}
	return o
}

func validateNonEmptyStrings(value interface{}) error {
	values, ok := value.([]string)
	if !ok {
		return errors.New("must be a list of strings")
	}
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return errors.New("must not contain blank entries")
		}
	}
	return nil
}

func (o Options) logger() Logger {
	if o.Logger == nil {
		return defLogger{}
	}
	return o.Logger
}
