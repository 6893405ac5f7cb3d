package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/any-hub/catcache/internal/metrics"
	"github.com/any-hub/catcache/internal/version"
)

// ProxyHandler describes the component that serves cache requests. It allows
// injecting fake handlers during tests.
type ProxyHandler interface {
	Handle(fiber.Ctx) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger  *logrus.Logger
	Proxy   ProxyHandler
	Metrics *metrics.Recorder

	// EnableDiagnostics 为 true 时注册 GET /-/stats；关闭时该路径与其它路径一样交给 Proxy。
	EnableDiagnostics bool
	BodyLimit         int
}

const (
	contextKeyRequestID = "_catcache_request_id"

	// AllowedMethods 是 405 响应 Allow 头的取值。
	AllowedMethods = "GET, PUT, DELETE"
	// MethodNotAllowedBody 是 405 响应正文。
	MethodNotAllowedBody = "Method Not Allowed\n"

	// DiagnosticsStatsPath 返回指标快照。
	DiagnosticsStatsPath = "/-/stats"
)

// NewApp builds a Fiber application with request-ID middleware, panic
// recovery and a plain-text error handler.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.BodyLimit < 0 {
		return nil, fmt.Errorf("invalid body limit: %d", opts.BodyLimit)
	}

	app := fiber.New(fiber.Config{
		AppName:       version.Name,
		CaseSensitive: true,
		StrictRouting: true,
		BodyLimit:     opts.BodyLimit,
		ErrorHandler:  plainTextErrorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	if opts.EnableDiagnostics {
		app.Get(DiagnosticsStatsPath, func(c fiber.Ctx) error {
			return c.JSON(opts.Metrics.Snapshot())
		})
	}

	app.Use(func(c fiber.Ctx) error {
		return opts.Proxy.Handle(c)
	})

	// Fiber 只路由 RequestMethods 中的方法，其余方法在进入中间件前就被回 501，
	// 因此在 fasthttp 层统一改写为 405。
	next := app.Server().Handler
	if next == nil {
		next = app.Handler()
	}
	app.Server().Handler = rejectUnroutableMethods(next, app.Config().RequestMethods, opts.Logger)

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID，并回写 X-Request-ID 头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// plainTextErrorHandler 兜底处理 handler 返回的错误与被 recover 捕获的 panic，
// 只输出状态文本，不暴露错误细节或堆栈。
func plainTextErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
			message = fiberErr.Message
		}

		logger.WithError(err).WithFields(logrus.Fields{
			"action":     "request",
			"status":     status,
			"method":     c.Method(),
			"path":       c.Path(),
			"request_id": RequestID(c),
		}).Error("request_error")

		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(status).SendString(message + "\n")
	}
}

// rejectUnroutableMethods 对 Fiber 无法路由的扩展方法（如 PROPFIND）直接回 405，
// 其余请求原样交给 next。
func rejectUnroutableMethods(next fasthttp.RequestHandler, routable []string, logger *logrus.Logger) fasthttp.RequestHandler {
	if len(routable) == 0 {
		routable = []string{
			fiber.MethodGet, fiber.MethodHead, fiber.MethodPost, fiber.MethodPut, fiber.MethodDelete,
			fiber.MethodConnect, fiber.MethodOptions, fiber.MethodTrace, fiber.MethodPatch,
		}
	}
	known := make(map[string]struct{}, len(routable))
	for _, method := range routable {
		known[method] = struct{}{}
	}
	return func(fctx *fasthttp.RequestCtx) {
		if _, ok := known[string(fctx.Method())]; ok {
			next(fctx)
			return
		}
		logger.WithFields(logrus.Fields{
			"action": "request",
			"method": string(fctx.Method()),
			"path":   string(fctx.Path()),
			"status": fiber.StatusMethodNotAllowed,
		}).Info("request_complete")

		fctx.Response.Header.Set(fiber.HeaderAllow, AllowedMethods)
		fctx.SetContentType(fiber.MIMETextPlainCharsetUTF8)
		fctx.SetStatusCode(fiber.StatusMethodNotAllowed)
		fctx.SetBodyString(MethodNotAllowedBody)
	}
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
