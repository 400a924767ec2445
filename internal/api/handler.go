package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/application"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/data/models"
	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/ports"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	idempotencyHeader   = "X-Idempotency-Key"
	maxBodyBytes        = 1 << 20
	defaultStoreTimeout = 5 * time.Second
)

// nameKeys are the create-body spellings of the node name, in priority order.
var nameKeys = []string{"name", "node_name", "node"}

type Handler struct {
	nodes        *application.NodeService
	idempotency  ports.IdempotencyKeyStore
	storeTimeout time.Duration
}

// NewHandler wires the HTTP routes to nodes. idempotency may be nil, in which
// case X-Idempotency-Key is ignored.
func NewHandler(nodes *application.NodeService, idempotency ports.IdempotencyKeyStore, storeTimeout time.Duration) *Handler {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Handler{
		nodes:        nodes,
		idempotency:  idempotency,
		storeTimeout: storeTimeout,
	}
}

func (h *Handler) Register(router gin.IRouter) {
	router.GET("/health", h.health)

	v1 := router.Group("/api/1.0")
	v1.GET("/nodes", h.listNodes)
	v1.POST("/nodes", h.createNode)
	v1.GET("/nodes/:name", h.getNode)
	v1.DELETE("/nodes/:name", h.deleteNode)
	v1.POST("/nodes/:name/reserve", h.reserveNode)
	v1.POST("/nodes/:name/release", h.releaseNode)
	v1.POST("/maintenance/sweep", h.sweep)
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := h.storeContext(c)
	defer cancel()
	if err := h.nodes.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("store health check failed")
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Store: err.Error()})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *Handler) listNodes(c *gin.Context) {
	ctx, cancel := h.storeContext(c)
	defer cancel()

	nodes, err := h.nodes.List(ctx)
	if err != nil {
		writeErr(c, err)
		return
	}
	now := h.nodes.Now()
	response := ListNodesResponse{Data: make([]NodeView, 0, len(nodes))}
	for _, node := range nodes {
		response.Data = append(response.Data, toView(node, now))
	}
	c.JSON(http.StatusOK, response)
}

func (h *Handler) getNode(c *gin.Context) {
	ctx, cancel := h.storeContext(c)
	defer cancel()

	node, err := h.nodes.Get(ctx, c.Param("name"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toView(node, h.nodes.Now()))
}

func (h *Handler) deleteNode(c *gin.Context) {
	ctx, cancel := h.storeContext(c)
	defer cancel()

	if err := h.nodes.Remove(ctx, c.Param("name")); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "node deleted"})
}

func (h *Handler) createNode(c *gin.Context) {
	var body map[string]any
	hash, done := h.decodeWithIdempotency(c, "nodes", &body)
	if done {
		return
	}
	name, attributes, err := splitCreateBody(body)
	if err != nil {
		writeErr(c, err)
		return
	}

	ctx, cancel := h.storeContext(c)
	defer cancel()
	node, err := h.nodes.Register(ctx, name, attributes)
	if err != nil {
		writeErr(c, err)
		return
	}
	h.respond(c, "nodes", hash, http.StatusCreated, toView(node, h.nodes.Now()))
}

func (h *Handler) reserveNode(c *gin.Context) {
	var req ReserveNodeRequest
	scope := "nodes/" + c.Param("name") + "/reserve"
	hash, done := h.decodeWithIdempotency(c, scope, &req)
	if done {
		return
	}
	deadline, err := req.rawDeadline()
	if err != nil {
		writeErr(c, err)
		return
	}

	ctx, cancel := h.storeContext(c)
	defer cancel()
	node, err := h.nodes.Acquire(ctx, c.Param("name"), req.User, deadline)
	if err != nil {
		writeErr(c, err)
		return
	}
	h.respond(c, scope, hash, http.StatusOK, toView(node, h.nodes.Now()))
}

func (h *Handler) releaseNode(c *gin.Context) {
	scope := "nodes/" + c.Param("name") + "/release"
	hash, done := h.decodeWithIdempotency(c, scope, nil)
	if done {
		return
	}

	ctx, cancel := h.storeContext(c)
	defer cancel()
	node, err := h.nodes.Release(ctx, c.Param("name"))
	if err != nil {
		writeErr(c, err)
		return
	}
	h.respond(c, scope, hash, http.StatusOK, toView(node, h.nodes.Now()))
}

func (h *Handler) sweep(c *gin.Context) {
	ctx, cancel := h.storeContext(c)
	defer cancel()

	released, err := h.nodes.Sweep(ctx)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, SweepResponse{Released: released})
}

func (h *Handler) storeContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.storeTimeout)
}

// decodeWithIdempotency reads the body, replays a stored response when the
// idempotency key was seen before and otherwise decodes into out (skipped when
// out is nil or the body is empty). done reports that a response was written.
func (h *Handler) decodeWithIdempotency(c *gin.Context, scope string, out interface{}) (string, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		writeErr(c, nlerrors.InvalidRequest("invalid request body"))
		return "", true
	}

	hash := sha256.Sum256(body)
	requestHash := hex.EncodeToString(hash[:])

	key := strings.TrimSpace(c.GetHeader(idempotencyHeader))
	if key != "" && h.idempotency != nil {
		ctx, cancel := h.storeContext(c)
		record, err := h.idempotency.Get(ctx, scope, key)
		cancel()
		if err != nil {
			writeErr(c, nlerrors.Unavailable(err))
			return "", true
		}
		if record != nil {
			if record.RequestHash != requestHash {
				writeErr(c, nlerrors.ErrIdempotencyMismatch)
				return "", true
			}
			c.Header("X-Idempotent-Replay", "true")
			c.Data(record.StatusCode, record.ContentType, record.ResponseBody)
			return "", true
		}
	}

	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		decoder := json.NewDecoder(bytes.NewReader(body))
		decoder.UseNumber()
		if err := decoder.Decode(out); err != nil {
			writeErr(c, nlerrors.InvalidRequest("invalid request payload"))
			return "", true
		}
	}
	return requestHash, false
}

// respond writes payload and, when the request carried an idempotency key,
// stores it for replay.
func (h *Handler) respond(c *gin.Context, scope, hash string, status int, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Data(status, "application/json", raw)

	key := strings.TrimSpace(c.GetHeader(idempotencyHeader))
	if key == "" || h.idempotency == nil {
		return
	}
	ctx, cancel := h.storeContext(c)
	defer cancel()
	err = h.idempotency.Put(ctx, scope, key, models.IdempotencyRecord{
		RequestHash:  hash,
		StatusCode:   status,
		ResponseBody: raw,
		ContentType:  "application/json",
	})
	if err != nil {
		log.Warn().Err(err).Str("scope", scope).Str("idempotency_key", key).Msg("failed to store idempotency record")
	}
}

func (r ReserveNodeRequest) rawDeadline() (string, error) {
	given := 0
	var raw string
	if r.ExpiresAt != nil {
		given++
		raw = *r.ExpiresAt
	}
	if r.TTLSeconds != nil {
		given++
	}
	if r.DurationHours != nil {
		given++
	}
	if given != 1 {
		return "", nlerrors.InvalidRequest("exactly one of expires_at, ttl_seconds, duration_hours is required")
	}
	switch {
	case r.TTLSeconds != nil:
		return relativeDeadline("ttl_seconds", *r.TTLSeconds, time.Second)
	case r.DurationHours != nil:
		return relativeDeadline("duration_hours", *r.DurationHours, time.Hour)
	}
	return raw, nil
}

// relativeDeadline renders value*unit as a duration string. Products outside
// the int64 nanosecond range are rejected rather than converted.
func relativeDeadline(field string, value float64, unit time.Duration) (string, error) {
	ns := value * float64(unit)
	if math.IsNaN(ns) || math.IsInf(ns, 0) || ns >= math.MaxInt64 || ns <= math.MinInt64 {
		return "", nlerrors.InvalidDeadline("%s out of range", field)
	}
	return time.Duration(ns).String(), nil
}

// splitCreateBody pulls the node name out of body and treats every other key
// as an attribute. An explicit "attributes" object is merged in last.
func splitCreateBody(body map[string]any) (string, map[string]any, error) {
	var name string
	attributes := make(map[string]any, len(body))
	for key, value := range body {
		if isNameKey(key) {
			s, ok := value.(string)
			if !ok {
				return "", nil, nlerrors.InvalidRequest(key + " must be a string")
			}
			if name != "" && name != s {
				return "", nil, nlerrors.InvalidRequest("conflicting node name fields")
			}
			name = s
			continue
		}
		if key == "attributes" {
			continue
		}
		attributes[key] = value
	}
	if nested, ok := body["attributes"]; ok && nested != nil {
		merged, ok := nested.(map[string]any)
		if !ok {
			return "", nil, nlerrors.InvalidRequest("attributes must be an object")
		}
		for key, value := range merged {
			attributes[key] = value
		}
	}
	if strings.TrimSpace(name) == "" {
		return "", nil, nlerrors.InvalidRequest("name is required")
	}
	if len(attributes) == 0 {
		attributes = nil
	}
	return name, normalizeNumbers(attributes).(map[string]any), nil
}

func isNameKey(key string) bool {
	for _, k := range nameKeys {
		if k == key {
			return true
		}
	}
	return false
}

// normalizeNumbers turns every json.Number into float64, the type each
// backend hands back after its JSON or attribute-value round trip, so numeric
// attributes read the same whatever the store.
func normalizeNumbers(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		if typed == nil {
			return typed
		}
		for k, item := range typed {
			typed[k] = normalizeNumbers(item)
		}
		return typed
	case []any:
		for i, item := range typed {
			typed[i] = normalizeNumbers(item)
		}
		return typed
	case json.Number:
		f, _ := typed.Float64()
		return f
	default:
		return v
	}
}

func toView(node models.Node, now time.Time) NodeView {
	view := NodeView{
		Name:       node.Name,
		Status:     string(node.Status),
		Holder:     node.Holder,
		ExpiresAt:  node.ExpiresAt,
		UpdatedAt:  node.UpdatedAt,
		Attributes: node.Attributes,
	}
	if node.ExpiresAt != nil {
		view.ExpiresIn = humanize.RelTime(*node.ExpiresAt, now, "ago", "from now")
	}
	return view
}

func statusFor(err error) int {
	switch nlerrors.Kind(err) {
	case "NotFound":
		return http.StatusNotFound
	case "AlreadyExists", "AlreadyReserved", "IdempotencyMismatch":
		return http.StatusConflict
	case "InvalidDeadline", "InvalidRequest":
		return http.StatusBadRequest
	case "StoreUnavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(c.Request.Context())).Str("path", c.FullPath()).Msg("unhandled error")
		message = "internal error"
	}
	c.JSON(status, ErrorResponse{Error: message, Kind: nlerrors.Kind(err)})
}

type requestIDContextKey string

const requestIDKey requestIDContextKey = "request_id"

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	val := ctx.Value(requestIDKey)
	id, _ := val.(string)
	return id
}
