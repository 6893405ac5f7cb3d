package proxy

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/catcache/internal/cache"
	"github.com/any-hub/catcache/internal/logging"
	"github.com/any-hub/catcache/internal/server"
)

// 响应正文均为单行纯文本并以换行结尾。
const (
	bodyOK               = "OK\n"
	bodyCreated          = "Created\n"
	bodyNotFound         = "Not Found\n"
	bodyInvalidKey       = "Bad Request: Invalid HTTP code\n"
	bodyMethodNotAllowed = server.MethodNotAllowedBody
	bodyInternalError    = "Internal Server Error\n"
)

// Handler 把 GET/PUT/DELETE /<code> 请求映射到 Coordinator，并把结果翻译为状态码。
type Handler struct {
	coordinator *Coordinator
	logger      *logrus.Logger
}

// NewHandler constructs a handler around the coordinator.
func NewHandler(coordinator *Coordinator, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		coordinator: coordinator,
		logger:      logger,
	}
}

// Handle 先校验方法再校验 key：不支持的方法无论 key 是否合法都返回 405，
// 合法方法配非法 key 返回 400，两种情况都不会调用 Coordinator。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	method := c.Method()
	rawKey := extractKey(c)

	if !isAllowedMethod(method) {
		c.Set(fiber.HeaderAllow, server.AllowedMethods)
		return h.respondText(c, fiber.StatusMethodNotAllowed, bodyMethodNotAllowed, rawKey, "", started, nil)
	}

	key, err := cache.ParseKey(rawKey)
	if err != nil {
		return h.respondText(c, fiber.StatusBadRequest, bodyInvalidKey, rawKey, "", started, nil)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch method {
	case http.MethodGet:
		return h.handleGet(ctx, c, key, started)
	case http.MethodPut:
		return h.handlePut(ctx, c, key, started)
	default:
		return h.handleDelete(ctx, c, key, started)
	}
}

func (h *Handler) handleGet(ctx context.Context, c fiber.Ctx, key cache.Key, started time.Time) error {
	data, outcome, err := h.coordinator.Get(ctx, key)
	if outcome != "" {
		c.Set("X-Cache-Outcome", string(outcome))
	}
	if err != nil {
		status, body := statusForError(err)
		return h.respondText(c, status, body, key.String(), outcome, started, err)
	}

	c.Set(fiber.HeaderContentType, cache.ContentType)
	c.Status(fiber.StatusOK)
	h.logResult(c, key.String(), outcome, fiber.StatusOK, started, nil)
	return c.Send(data)
}

// handlePut 在写入前完整缓冲请求体，不限制大小（仅受 BodyLimit 约束）。
func (h *Handler) handlePut(ctx context.Context, c fiber.Ctx, key cache.Key, started time.Time) error {
	body := append([]byte(nil), c.BodyRaw()...)
	if err := h.coordinator.Put(ctx, key, body); err != nil {
		status, text := statusForError(err)
		if status == fiber.StatusNotFound {
			status, text = fiber.StatusInternalServerError, bodyInternalError
		}
		return h.respondText(c, status, text, key.String(), "", started, err)
	}
	return h.respondText(c, fiber.StatusCreated, bodyCreated, key.String(), "", started, nil)
}

func (h *Handler) handleDelete(ctx context.Context, c fiber.Ctx, key cache.Key, started time.Time) error {
	if err := h.coordinator.Delete(ctx, key); err != nil {
		status, body := statusForError(err)
		return h.respondText(c, status, body, key.String(), "", started, err)
	}
	return h.respondText(c, fiber.StatusOK, bodyOK, key.String(), "", started, nil)
}

func (h *Handler) respondText(
	c fiber.Ctx,
	status int,
	body string,
	key string,
	outcome Outcome,
	started time.Time,
	err error,
) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	c.Status(status)
	h.logResult(c, key, outcome, status, started, err)
	return c.SendString(body)
}

func (h *Handler) logResult(c fiber.Ctx, key string, outcome Outcome, status int, started time.Time, err error) {
	fields := logging.RequestFields(server.RequestID(c), c.Method(), key, string(outcome))
	fields["action"] = "request"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
	}
	if status >= fiber.StatusInternalServerError {
		h.logger.WithFields(fields).Error("request_failed")
		return
	}
	h.logger.WithFields(fields).Info("request_complete")
}

// statusForError 将 Coordinator 错误映射为状态码；未知错误一律 500，正文不携带细节。
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, cache.ErrInvalidKey):
		return fiber.StatusBadRequest, bodyInvalidKey
	case errors.Is(err, cache.ErrNotFound):
		return fiber.StatusNotFound, bodyNotFound
	default:
		return fiber.StatusInternalServerError, bodyInternalError
	}
}

// extractKey 基于原始请求路径去掉开头的一个 "/"，不做 fasthttp 的路径规范化
// （"//200"、"/../200" 均视为非法 key），查询串不参与。
func extractKey(c fiber.Ctx) string {
	path := string(c.Request().URI().PathOriginal())
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return strings.TrimPrefix(path, "/")
}

func isAllowedMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}
