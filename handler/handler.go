package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"telegram-relay/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 1 << 20
)

// Relayer processes one raw Telegram update.
type Relayer interface {
	Handle(ctx context.Context, raw []byte) (usecase.Outcome, error)
}

type Handler struct {
	relay  Relayer
	logger *slog.Logger
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

var newCorrelationID = uuid.NewString

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type, Authorization",
}

func NewHandler(relay Relayer) (*Handler, error) {
	if relay == nil {
		return nil, errors.New("handler: relay must not be nil")
	}
	return &Handler{relay: relay, logger: slog.Default()}, nil
}

// WithLogger replaces the base logger request loggers derive from.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// response is the transport-neutral result of one webhook request.
type response struct {
	status  int
	headers map[string]string
	body    string
}

// Handle is the API Gateway entry point.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			res := h.errorJSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorParse), Reason: "invalid_base64"})
			res.headers[correlationHeader] = correlationID(event.Headers)
			return toProxy(res), nil
		}
		body = decoded
	}
	return toProxy(h.process(ctx, event.HTTPMethod, correlationID(event.Headers), body)), nil
}

// ServeHTTP serves the same contract over plain net/http.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	var body []byte
	if r.Body != nil {
		// One byte past the limit is enough for process to reject the body.
		buf, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			res := h.errorJSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorParse), Reason: "unreadable_body"})
			res.headers[correlationHeader] = correlationID(headers)
			h.write(w, res)
			return
		}
		body = buf
	}
	h.write(w, h.process(r.Context(), r.Method, correlationID(headers), body))
}

func (h *Handler) process(ctx context.Context, method, corrID string, body []byte) response {
	var res response
	switch method {
	case http.MethodOptions:
		res = response{status: http.StatusOK, headers: map[string]string{"Content-Type": "application/json"}, body: "{}"}
		for k, v := range corsHeaders {
			res.headers[k] = v
		}
	case http.MethodGet:
		res = response{status: http.StatusOK, headers: map[string]string{"Content-Type": "text/plain; charset=utf-8"}, body: "ok"}
	case http.MethodPost:
		if len(body) > maxBodyBytes {
			h.logger.WarnContext(ctx, "webhook body too large", "correlation_id", corrID, "max_bytes", maxBodyBytes)
			res = h.errorJSON(http.StatusRequestEntityTooLarge, errorResponse{Error: string(usecase.ErrorParse), Reason: "body_too_large"})
			break
		}
		res = h.relayUpdate(ctx, corrID, body)
	default:
		res = h.errorJSON(http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
	}
	res.headers[correlationHeader] = corrID
	return res
}

func (h *Handler) relayUpdate(ctx context.Context, corrID string, body []byte) response {
	logger := h.logger.With("correlation_id", corrID)
	ctx = usecase.WithLogger(ctx, logger)

	out, err := h.relay.Handle(ctx, body)
	if err != nil {
		status, resp := mapError(err)
		logger.WarnContext(ctx, "webhook failed", "status", status, "code", resp.Error, "reason", resp.Reason, "stage", string(out.Stage))
		return h.errorJSON(status, resp)
	}
	logger.InfoContext(ctx, "webhook handled",
		"stage", string(out.Stage),
		"delivered", out.Delivered,
		"turns_written", out.TurnsWritten,
		"degraded", len(out.Degraded),
	)
	return h.json(http.StatusOK, okResponse{OK: true})
}

func mapError(err error) (int, errorResponse) {
	var uerr *usecase.Error
	if !errors.As(err, &uerr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}
	resp := errorResponse{Error: string(uerr.Code), Reason: uerr.Reason}
	switch uerr.Code {
	case usecase.ErrorParse:
		return http.StatusBadRequest, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

func (h *Handler) json(status int, v any) response {
	body, err := json.Marshal(v)
	if err != nil {
		return response{
			status:  http.StatusInternalServerError,
			headers: map[string]string{"Content-Type": "application/json"},
			body:    `{"error":"INTERNAL_ERROR"}`,
		}
	}
	return response{status: status, headers: map[string]string{"Content-Type": "application/json"}, body: string(body)}
}

func (h *Handler) errorJSON(status int, resp errorResponse) response {
	return h.json(status, resp)
}

func (h *Handler) write(w http.ResponseWriter, res response) {
	for k, v := range res.headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(res.status)
	_, _ = w.Write([]byte(res.body))
}

func toProxy(res response) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: res.status, Headers: res.headers, Body: res.body}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return newCorrelationID()
}
