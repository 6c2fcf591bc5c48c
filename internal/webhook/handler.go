package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"news_ingest/internal/domain"
	"news_ingest/internal/service"
)

// AcceptedResponse is the body returned for every successfully recorded
// delivery, duplicates included. Duplicates are an expected outcome,
// not an error: returning anything but 2xx would feed the sender's
// retry loop and amplify the duplicate pressure.
type AcceptedResponse struct {
	Accepted  bool   `json:"accepted"`
	RunID     string `json:"runId"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

var validRunStatuses = map[string]bool{
	domain.RunStatusSucceeded: true,
	domain.RunStatusFailed:    true,
	domain.RunStatusTimedOut:  true,
	domain.RunStatusAborted:   true,
}

// Handler receives actor-run webhooks and records them in the ledger.
type Handler struct {
	ledger service.DeliveryLedger
	jobs   service.JobPublisher
	logger *slog.Logger
}

func NewHandler(ledger service.DeliveryLedger, jobs service.JobPublisher, logger *slog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		jobs:   jobs,
		logger: logger.With("component", "webhook"),
	}
}

// Register mounts the webhook routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/webhooks/apify", h.HandleActorRun)
	r.GET("/healthz", h.HandleHealth)
}

// NewRouter constructs a Gin engine with registered routes.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	h.Register(r)
	return r
}

// HandleActorRun processes one webhook delivery attempt. Validation
// failures never touch the ledger, so malformed senders cannot poison
// it with garbage keys.
func (h *Handler) HandleActorRun(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var payload domain.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}

	if reason := validate(payload); reason != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": reason})
		return
	}

	delivery := &domain.WebhookDelivery{
		RunID:      payload.RunID,
		ActorID:    payload.ActorID,
		Status:     domain.DeliveryStatusReceived,
		RawPayload: raw,
	}

	outcome, err := h.ledger.Record(c.Request.Context(), delivery)
	if err != nil {
		// The one path where the sender's retry-on-5xx behavior is
		// wanted: the storage fault is transient and a redelivery can
		// succeed.
		h.logger.Error("ledger write failed", "run_id", payload.RunID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, retry"})
		return
	}

	if outcome == domain.OutcomeAlreadyExists {
		h.logger.Debug("duplicate delivery", "run_id", payload.RunID)
		c.JSON(http.StatusAccepted, AcceptedResponse{
			Accepted:  true,
			RunID:     payload.RunID,
			Duplicate: true,
		})
		return
	}

	// The row is durable; a failed enqueue is recovered by the
	// reconciler's stale-RECEIVED scan, so the acknowledgment stands.
	if err := h.jobs.PublishDispatch(c.Request.Context(), delivery.ID, delivery.RunID); err != nil {
		h.logger.Error("enqueue dispatch failed",
			"delivery_id", delivery.ID,
			"run_id", delivery.RunID,
			"error", err,
		)
	}

	h.logger.Info("delivery accepted",
		"delivery_id", delivery.ID,
		"run_id", payload.RunID,
		"actor_id", payload.ActorID,
	)

	c.JSON(http.StatusAccepted, AcceptedResponse{
		Accepted: true,
		RunID:    payload.RunID,
	})
}

func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func validate(payload domain.WebhookPayload) string {
	switch {
	case payload.RunID == "":
		return "runId is required"
	case payload.ActorID == "":
		return "actorId is required"
	case payload.Status == "":
		return "status is required"
	case !validRunStatuses[payload.Status]:
		return "status must be one of SUCCEEDED, FAILED, TIMED-OUT, ABORTED"
	case payload.DatasetID == "" && payload.Status == domain.RunStatusSucceeded:
		return "datasetId is required for succeeded runs"
	}
	return ""
}
