package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/static"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PackageHandler describes the component that serves package files. It allows
// injecting fake handlers during tests.
type PackageHandler interface {
	Handle(fiber.Ctx) error
}

// PackageHandlerFunc adapts a function to the PackageHandler interface.
type PackageHandlerFunc func(fiber.Ctx) error

// Handle makes PackageHandlerFunc satisfy PackageHandler.
func (f PackageHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Handler    PackageHandler
	ListenPort int
	// PublicDir 非空时以一年缓存提供静态资源，未命中的请求继续交给包路由。
	PublicDir  string
	EnableCORS bool
}

const contextKeyRequestID = "_pkgcdn_request_id"

// staticMaxAge 为静态资源的 Cache-Control max-age（一年）。
const staticMaxAge = 365 * 24 * 60 * 60

// NewApp builds a Fiber application with the package route and structured
// error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("package handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		StrictRouting: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())
	if opts.EnableCORS {
		app.Use(cors.New())
	}
	if dir := strings.TrimSpace(opts.PublicDir); dir != "" {
		app.Use(static.New(dir, static.Config{MaxAge: staticMaxAge}))
	}

	app.Get("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return opts.Handler.Handle(c)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID，写入 Locals 与 X-Request-ID 响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// errorHandler 记录未被 handler 自行处理的错误，并以 JSON 返回。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		fields := logrus.Fields{
			"action": "http",
			"path":   string(c.Request().URI().Path()),
			"status": status,
		}
		if reqID := RequestID(c); reqID != "" {
			fields["request_id"] = reqID
		}
		if status >= fiber.StatusInternalServerError {
			logger.WithFields(fields).WithError(err).Error("request_failed")
		}
		return c.Status(status).JSON(fiber.Map{"error": errorCode(status)})
	}
}

// errorCode 把状态码转换为 snake_case 错误码，例如 404 -> not_found。
func errorCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ToLower(strings.ReplaceAll(text, " ", "_"))
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
