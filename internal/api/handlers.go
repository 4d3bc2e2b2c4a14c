package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"msgarchive/internal/auth"
	"msgarchive/internal/events"
	"msgarchive/internal/metrics"
	"msgarchive/internal/models"
	"msgarchive/internal/service/archive"
)

const defaultPingInterval = 25 * time.Second

// Handler wires HTTP routes to the archive service and the auth gate.
type Handler struct {
	archive      *archive.Service
	verifier     auth.Verifier
	events       *events.Broker
	metrics      *metrics.Metrics
	staticDir    string
	pingInterval time.Duration
}

// Options carries the optional collaborators of a Handler.
type Options struct {
	Events    *events.Broker
	Metrics   *metrics.Metrics
	StaticDir string
}

// NewHandler constructs a Handler instance.
func NewHandler(service *archive.Service, verifier auth.Verifier, opts Options) *Handler {
	return &Handler{
		archive:      service,
		verifier:     verifier,
		events:       opts.Events,
		metrics:      opts.Metrics,
		staticDir:    opts.StaticDir,
		pingInterval: defaultPingInterval,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/login", h.login)
	router.POST("/upload-messages", h.uploadMessages)

	router.GET("/threads", h.listThreads)
	router.PUT("/threads/:phone", h.renameThread)
	router.DELETE("/threads/:phone", h.deleteThread)

	router.GET("/messages", h.listMessages)
	router.GET("/messages/:phone", h.threadMessages)
	router.POST("/messages", h.createMessage)
	router.PUT("/messages/:id", h.updateMessage)
	router.DELETE("/messages/:id", h.deleteMessage)

	router.GET("/health", h.health)
	if h.events != nil {
		router.GET("/events", h.streamEvents)
	}
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
	if h.staticDir != "" {
		router.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusFound, "/login.html")
		})
	}
	router.NoRoute(h.notFound)
}

func (h *Handler) login(c *gin.Context) {
	var cred auth.Credential
	if !bindJSON(c, &cred) {
		return
	}
	identity, err := h.verifier.Verify(c.Request.Context(), cred)
	if err != nil {
		failWith(c, err, "Login failed")
		return
	}
	respond(c, http.StatusOK, gin.H{
		"message": "Login successful",
		"user":    identity,
	})
}

type uploadRequest struct {
	Messages json.RawMessage `json:"messages"`
}

func (h *Handler) uploadMessages(c *gin.Context) {
	var req uploadRequest
	if !bindJSON(c, &req) {
		return
	}
	raw := strings.TrimSpace(string(req.Messages))
	if raw == "" || raw == "null" {
		fail(c, http.StatusBadRequest, "messages_required", "Messages array is required")
		return
	}
	var items []json.RawMessage
	if err := json.Unmarshal(req.Messages, &items); err != nil {
		fail(c, http.StatusBadRequest, "invalid_format", "Messages must be an array")
		return
	}

	records := make([]archive.ImportRecord, len(items))
	for i, item := range items {
		if err := json.Unmarshal(item, &records[i]); err != nil {
			fail(c, http.StatusBadRequest, "invalid_message_structure",
				"Message at index "+strconv.Itoa(i)+" is missing required fields (phone, body, direction, timestamp)")
			return
		}
	}

	result, err := h.archive.BulkImport(c.Request.Context(), records)
	if err != nil {
		failWith(c, err, "Failed to upload messages")
		return
	}
	h.metrics.ObserveImport(result.Count, result.Duplicates)

	payload := gin.H{
		"message":    "Messages uploaded successfully",
		"count":      result.Count,
		"duplicates": result.Duplicates,
	}
	if result.Duplicates > 0 {
		payload["message"] = "Messages processed (some duplicates skipped)"
		payload["warning"] = "Some messages were already in the database"
	}
	respond(c, http.StatusOK, payload)
}

func (h *Handler) listThreads(c *gin.Context) {
	threads, err := h.archive.ListThreads(c.Request.Context())
	if err != nil {
		failWith(c, err, "Failed to retrieve threads")
		return
	}
	respond(c, http.StatusOK, gin.H{"threads": threads})
}

func (h *Handler) listMessages(c *gin.Context) {
	messages, err := h.archive.ListAll(c.Request.Context())
	if err != nil {
		failWith(c, err, "Failed to retrieve messages")
		return
	}
	respond(c, http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) threadMessages(c *gin.Context) {
	messages, err := h.archive.ListByPhone(c.Request.Context(), c.Param("phone"))
	if err != nil {
		failWith(c, err, "Failed to retrieve messages")
		return
	}
	respond(c, http.StatusOK, gin.H{"messages": messages})
}

type createMessageRequest struct {
	Phone     string  `json:"phone"`
	Name      *string `json:"name"`
	Body      string  `json:"body"`
	Direction string  `json:"direction"`
}

func (h *Handler) createMessage(c *gin.Context) {
	var req createMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.archive.Create(c.Request.Context(), archive.NewMessage{
		Phone:     req.Phone,
		Name:      req.Name,
		Body:      req.Body,
		Direction: models.Direction(req.Direction),
	})
	if err != nil {
		failWith(c, err, "Failed to create message")
		return
	}
	respond(c, http.StatusCreated, gin.H{
		"message": "Message created successfully",
		"data":    msg,
	})
}

type updateMessageRequest struct {
	Body *string        `json:"body"`
	Name optionalString `json:"name"`
}

func (h *Handler) updateMessage(c *gin.Context) {
	var req updateMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.archive.Update(c.Request.Context(), c.Param("id"), archive.MessagePatch{
		Body:    req.Body,
		SetName: req.Name.Set,
		Name:    req.Name.Value,
	})
	if err != nil {
		failWith(c, err, "Failed to update message")
		return
	}
	respond(c, http.StatusOK, gin.H{
		"message": "Message updated successfully",
		"data":    msg,
	})
}

func (h *Handler) deleteMessage(c *gin.Context) {
	if err := h.archive.Delete(c.Request.Context(), c.Param("id")); err != nil {
		failWith(c, err, "Failed to delete message")
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Message deleted successfully"})
}

type renameThreadRequest struct {
	Name *string `json:"name"`
}

func (h *Handler) renameThread(c *gin.Context) {
	var req renameThreadRequest
	// an empty body clears the name
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	modified, err := h.archive.RenameThread(c.Request.Context(), c.Param("phone"), req.Name)
	if err != nil {
		failWith(c, err, "Failed to update contact name")
		return
	}
	respond(c, http.StatusOK, gin.H{
		"message":       "Contact name updated successfully",
		"modifiedCount": modified,
	})
}

func (h *Handler) deleteThread(c *gin.Context) {
	deleted, err := h.archive.DeleteThread(c.Request.Context(), c.Param("phone"))
	if err != nil {
		failWith(c, err, "Failed to delete conversation")
		return
	}
	respond(c, http.StatusOK, gin.H{
		"message":      "Conversation deleted successfully",
		"deletedCount": deleted,
	})
}

func (h *Handler) health(c *gin.Context) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := h.archive.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ok":        false,
			"error":     "unhealthy",
			"message":   "Database is unreachable",
			"timestamp": now,
		})
		return
	}
	respond(c, http.StatusOK, gin.H{"status": "healthy", "timestamp": now})
}

// notFound serves static files for unmatched GETs when a static directory
// is configured, and the JSON envelope otherwise.
func (h *Handler) notFound(c *gin.Context) {
	if h.staticDir != "" && (c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead) {
		if path, ok := h.staticFile(c.Request.URL.Path); ok {
			c.File(path)
			return
		}
	}
	fail(c, http.StatusNotFound, "not_found", "Route not found")
}

func (h *Handler) staticFile(urlPath string) (string, bool) {
	clean := filepath.Clean("/" + urlPath)
	path := filepath.Join(h.staticDir, filepath.FromSlash(clean))
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "index.html")
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}
