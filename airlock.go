package airlock

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	localsUser      = "airlock_user"
	localsToken     = "airlock_raw_token"
	localsRequestID = "airlock_request_id"
)

var allowedMethods = strings.Join([]string{
	fiber.MethodGet, fiber.MethodPost, fiber.MethodPatch,
	fiber.MethodPut, fiber.MethodDelete, fiber.MethodOptions,
}, ", ")

var allowedHeaders = strings.Join([]string{
	"Origin", "X-Requested-With", "Content-Type", "Accept",
	"x-airtable-user-agent", "x-airtable-application-id",
	"x-api-version", "authorization", "token",
}, ", ")

// Airlock is the authentication-and-proxy gateway. It issues its own session
// tokens and forwards authorized requests to the single upstream base the
// deployment is configured for.
type Airlock struct {
	opts     Options
	logger   Logger
	tokens   *TokenService
	cache    *ResponseCache
	upstream *UpstreamClient
	proxy    *ProxyClient
	engine   *AccessFilterEngine
	store    RevocationStore
}

// New validates the options and wires the request-processing pipeline.
func New(opts Options) (*Airlock, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.logger()

	tokens, err := NewTokenService(opts.PrivateKey, opts.PublicKey, opts.TokenExpiration, opts.PasswordColumn, logger)
	if err != nil {
		return nil, err
	}

	cache := NewResponseCache(opts.CacheTTL, logger)
	upstream := NewUpstreamClient(opts)

	return &Airlock{
		opts:     opts,
		logger:   logger,
		tokens:   tokens,
		cache:    cache,
		upstream: upstream,
		proxy:    NewProxyClient(upstream.baseURL, opts.APIKeys, cache, logger),
		engine:   NewAccessFilterEngine(opts.AccessResolvers, logger),
		store:    opts.RevocationStore,
	}, nil
}

// App returns a fiber application with the gateway mounted and the error
// taxonomy wired as the app-level error handler.
func (a *Airlock) App() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          a.ErrorHandler,
		DisableStartupMessage: true,
	})
	a.Mount(app)
	return app
}

// Listen serves the gateway on addr.
func (a *Airlock) Listen(addr string) error {
	a.logger.Info("airlock mounted and listening on %s", addr)
	if len(a.opts.AllowedOrigins) == 0 {
		a.logger.Warn("no allowed origins specified, permitting all cross-origin requests")
	}
	return a.App().Listen(addr)
}

// Mount registers the gateway routes on an existing application. When
// embedding, install ErrorHandler on the host app for correct status mapping.
func (a *Airlock) Mount(app *fiber.App) {
	app.Use(a.RequestID())
	app.Use(a.CORS())

	app.Post("/:version/:baseId/__airlock_register__", a.CheckForExistingUser, a.Register)
	app.Post("/:version/:baseId/__airlock_login__", a.CheckForExistingUser, a.Login)
	app.Post("/:version/:baseId/__airlock_logout__", a.Logout)

	app.All("/:version/:baseId/:tableName/:recordId?", a.VerifyToken, a.HandleTable)
}

// RequestID tags every request so pipeline logs can be correlated.
func (a *Airlock) RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := uuid.NewString()
		c.Locals(localsRequestID, id)
		c.Set("X-Airlock-Request-Id", id)
		return c.Next()
	}
}

// CORS reflects either the wildcard or the configured allow-list, mirroring
// headers the upstream client libraries send.
func (a *Airlock) CORS() fiber.Handler {
	origins := a.opts.AllowedOrigins
	return func(c *fiber.Ctx) error {
		if len(origins) == 0 {
			c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		} else {
			origin := c.Get(fiber.HeaderOrigin)
			if containsOrigin(origins, origin) {
				c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
				c.Set(fiber.HeaderAccessControlAllowCredentials, "true")
			} else {
				// unknown or absent Origin gets the first allowed origin
				c.Set(fiber.HeaderAccessControlAllowOrigin, origins[0])
			}
		}

		c.Set(fiber.HeaderAccessControlAllowMethods, allowedMethods)
		c.Set(fiber.HeaderAccessControlAllowHeaders, allowedHeaders)

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusOK)
		}
		return c.Next()
	}
}

// ErrorHandler maps the error taxonomy onto status codes: InputError to 400,
// AuthorizationError to 401, everything else to 500 with the error
// stringified.
func (a *Airlock) ErrorHandler(c *fiber.Ctx, err error) error {
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": inputErr.Message,
		})
	}

	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": authErr.Message,
		})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiberErr.Message,
		})
	}

	a.logger.Error("unexpected gateway error on request %v: %v", c.Locals(localsRequestID), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func containsOrigin(origins []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range origins {
		if allowed == origin {
			return true
		}
	}
	return false
}
