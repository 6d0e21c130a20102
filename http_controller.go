package airlock

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const localsCredentials = "airlock_credentials"

type credentialsPayload struct {
	Username string         `json:"username"`
	Password string         `json:"password"`
	Fields   map[string]any `json:"fields"`
}

type authResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	User    Record `json:"user"`
}

// CheckForExistingUser queries the upstream user table by username and
// attaches the found record to the request. Absence is a valid, expected
// state consumed by both login and registration.
func (a *Airlock) CheckForExistingUser(c *fiber.Ctx) error {
	creds := credentialsPayload{}
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &creds); err != nil {
			return NewInputError("Malformed request body")
		}
	}
	c.Locals(localsCredentials, creds)

	if creds.Username == "" {
		return c.Next()
	}

	user, found, err := a.upstream.FindUserByUsername(c.UserContext(), creds.Username)
	if err != nil {
		return err
	}
	if found {
		c.Locals(localsUser, user)
	}
	return c.Next()
}

// Login verifies the password against the matched user record and issues a
// token. Password verification is a plain comparison when hashing is
// disabled, a bcrypt comparison otherwise.
func (a *Airlock) Login(c *fiber.Ctx) error {
	user, found := localUser(c)
	if !found {
		return NewAuthorizationError("Incorrect username or password")
	}

	creds := localCredentials(c)

	// a record without a stored credential can never authenticate, even
	// against an empty supplied password
	stored, _ := user.Fields[a.opts.PasswordColumn].(string)
	if stored == "" {
		return NewAuthorizationError("Incorrect username or password")
	}

	if a.opts.DisableHashPassword {
		if stored != creds.Password {
			return NewAuthorizationError("Incorrect username or password")
		}
	} else if err := ComparePasswordAndHash(creds.Password, stored); err != nil {
		return NewAuthorizationError("Incorrect username or password")
	}

	token, err := a.tokens.CreateToken(user)
	if err != nil {
		return err
	}
	return a.sendToken(c, token, user)
}

// Register creates the user record upstream and issues a token exactly as
// login does. A matched existing user or a blank password is a client error.
func (a *Airlock) Register(c *fiber.Ctx) error {
	if _, found := localUser(c); found {
		return NewInputError("User exists")
	}

	creds := localCredentials(c)
	if strings.TrimSpace(creds.Password) == "" {
		return NewInputError("No password was specified")
	}

	password := creds.Password
	if !a.opts.DisableHashPassword {
		hash, err := HashPassword(creds.Password, a.opts.SaltRounds)
		if err != nil {
			return err
		}
		password = hash
	}

	fields := map[string]any{}
	for key, value := range creds.Fields {
		fields[key] = value
	}
	fields[a.opts.UsernameColumn] = creds.Username
	fields[a.opts.PasswordColumn] = password

	user, err := a.upstream.CreateUser(c.UserContext(), fields)
	if err != nil {
		return err
	}

	token, err := a.tokens.CreateToken(user)
	if err != nil {
		return err
	}
	return a.sendToken(c, token, user)
}

// Logout records a revocation entry for the presented token. A missing or
// already revoked token is reported in the body, never as an error.
func (a *Airlock) Logout(c *fiber.Ctx) error {
	token := a.extractToken(c)
	if token == "" {
		return c.JSON(fiber.Map{"success": false, "message": "No token supplied"})
	}

	_, revoked, err := a.store.IsRevoked(c.UserContext(), token)
	if err != nil {
		return err
	}
	if revoked {
		return c.JSON(fiber.Map{"success": false, "message": "Token already revoked"})
	}

	if err := a.store.Revoke(c.UserContext(), token, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	a.clearTokenCookie(c)
	return c.JSON(fiber.Map{"success": true, "message": "Logged out"})
}

// VerifyToken guards the proxied routes. On success it re-hydrates the
// current user record from upstream, because the token's embedded snapshot
// may be stale relative to the live record.
func (a *Airlock) VerifyToken(c *fiber.Ctx) error {
	token := a.extractToken(c)
	if token == "" {
		return NewInputError("No token supplied")
	}

	snapshot, err := a.tokens.VerifyToken(token)
	if err != nil {
		return NewAuthorizationError("Invalid token supplied")
	}

	_, revoked, err := a.store.IsRevoked(c.UserContext(), token)
	if err != nil {
		return err
	}
	if revoked {
		return NewAuthorizationError("Token has been revoked")
	}

	c.Locals(localsToken, token)

	username, _ := snapshot.Fields[a.opts.UsernameColumn].(string)
	if username == "" {
		c.Locals(localsUser, snapshot)
		return c.Next()
	}

	current, found, err := a.upstream.FindUserByUsername(c.UserContext(), username)
	if err != nil {
		return err
	}
	if !found {
		return NewAuthorizationError("User no longer exists")
	}

	c.Locals(localsUser, current)
	return c.Next()
}

func (a *Airlock) sendToken(c *fiber.Ctx, token string, user Record) error {
	c.Cookie(&fiber.Cookie{
		Name:     a.opts.CookieName,
		Value:    token,
		Expires:  time.Now().Add(a.opts.CookieDuration),
		HTTPOnly: true,
	})

	return c.JSON(authResponse{
		Success: true,
		Token:   token,
		User:    user.WithoutFields(a.opts.PasswordColumn),
	})
}

func (a *Airlock) extractToken(c *fiber.Ctx) string {
	if token := c.Get("token"); token != "" {
		return token
	}
	return c.Cookies(a.opts.CookieName)
}

func (a *Airlock) clearTokenCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     a.opts.CookieName,
		Value:    "",
		Expires:  time.Now().Add(-24 * time.Hour * 365),
		HTTPOnly: true,
	})
}

func localUser(c *fiber.Ctx) (Record, bool) {
	user, ok := c.Locals(localsUser).(Record)
	if !ok || user.IsZero() {
		return Record{}, false
	}
	return user, true
}

func localCredentials(c *fiber.Ctx) credentialsPayload {
	creds, _ := c.Locals(localsCredentials).(credentialsPayload)
	return creds
}
