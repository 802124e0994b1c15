package httpapi

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	apperrors "github.com/knearme/showcase/internal/errors"
	"github.com/knearme/showcase/internal/health"
	"github.com/knearme/showcase/internal/metrics"
	"github.com/knearme/showcase/internal/orchestrator"
	"github.com/knearme/showcase/internal/publish"
	"github.com/knearme/showcase/internal/requestid"
	"github.com/knearme/showcase/internal/state"
	"github.com/knearme/showcase/internal/store"
	"github.com/knearme/showcase/internal/stream"
	"github.com/knearme/showcase/internal/subagent"
)

const apiVersion = "1.0.0"

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine    *orchestrator.Engine
	store     *store.Store
	publisher *publish.Publisher
	checker   *health.Checker
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(engine *orchestrator.Engine, st *store.Store, pub *publish.Publisher, checker *health.Checker, m *metrics.Metrics, logger zerolog.Logger) *Handlers {
	return &Handlers{
		engine:    engine,
		store:     st,
		publisher: pub,
		checker:   checker,
		metrics:   m,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

// RunTurn handles POST /api/v1/projects/:id/turns. The response is a
// Server-Sent Events stream of turn events ending in done or error;
// failures after the stream opens ride the stream, not the status code.
func (h *Handlers) RunTurn(c *fiber.Ctx) error {
	projectID := c.Params("id")

	var req TurnRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Images) == 0 {
		return problemResponse(c, fiber.StatusBadRequest,
			"empty_turn", "Bad Request",
			"A turn needs text or at least one image")
	}

	in := subagent.TurnInput{Text: req.Text}
	for _, img := range req.Images {
		in.Images = append(in.Images, state.Image{ID: img.ID, URL: img.URL, AltText: img.AltText})
	}

	// The turn outlives this handler and fasthttp recycles the request
	// context, so the engine gets a detached one carrying only the
	// request id. Client disconnects surface as sink write errors.
	ctx := context.Background()
	if id, ok := c.Locals("request_id").(string); ok {
		ctx = requestid.WithRequestID(ctx, id)
	}

	engine := h.engine
	m := h.metrics
	logger := h.logger

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		em := stream.NewEmitter(stream.NewSSESink(w), stream.WithEventObserver(func(ev stream.Event) {
			m.RecordStreamEvent(string(ev.Type))
		}))
		if err := engine.RunTurn(ctx, projectID, in, em); err != nil {
			logger.Error().Err(err).Str("project_id", projectID).Msg("turn failed")
		}
	}))
	return nil
}

// GetProject handles GET /api/v1/projects/:id.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	info, err := h.store.GetProjectInfo(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	if info == nil {
		return problemResponse(c, fiber.StatusNotFound,
			"project_not_found", "Not Found",
			"Project not found: "+c.Params("id"))
	}

	return c.JSON(ProjectResponse{
		ID:          info.ID,
		Phase:       string(info.Phase),
		Draft:       info.State,
		TurnCount:   info.TurnCount,
		Published:   info.Published(),
		PublishedAt: info.PublishedAt,
		CreatedAt:   info.CreatedAt,
		UpdatedAt:   info.UpdatedAt,
	})
}

// ListCheckpoints handles GET /api/v1/projects/:id/checkpoints.
func (h *Handlers) ListCheckpoints(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	cps, err := h.store.ListCheckpoints(c.Context(), c.Params("id"), limit)
	if err != nil {
		return err
	}

	summaries := make([]CheckpointSummary, 0, len(cps))
	for _, cp := range cps {
		summaries = append(summaries, CheckpointSummary{
			ID:        cp.ID,
			Phase:     string(cp.Phase),
			TurnCount: cp.TurnCount,
			CreatedAt: cp.CreatedAt.UnixMilli(),
		})
	}
	return c.JSON(CheckpointListResponse{Checkpoints: summaries, Total: len(summaries)})
}

// LatestCheckpoint handles GET /api/v1/projects/:id/checkpoints/latest.
// Returns the full snapshot so a client can recover the freshest draft.
func (h *Handlers) LatestCheckpoint(c *fiber.Ctx) error {
	projectID := c.Params("id")

	// The engine journals recent checkpoints in memory; only cold
	// projects pay for a store read.
	cp, ok := h.engine.Journal().Latest(projectID)
	if !ok {
		var err error
		cp, ok, err = h.store.LatestCheckpoint(c.Context(), projectID)
		if err != nil {
			return err
		}
	}
	if !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"no_checkpoints", "Not Found",
			"No checkpoints recorded for project: "+projectID)
	}

	return c.JSON(CheckpointResponse{
		ID:        cp.ID,
		Phase:     string(cp.Phase),
		TurnCount: cp.TurnCount,
		CreatedAt: cp.CreatedAt.UnixMilli(),
		Draft:     cp.State,
	})
}

// ListImages handles GET /api/v1/projects/:id/images.
func (h *Handlers) ListImages(c *fiber.Ctx) error {
	imgs, err := h.store.LoadImages(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	if imgs == nil {
		imgs = []state.Image{}
	}
	return c.JSON(ImageListResponse{Images: imgs, Total: len(imgs)})
}

// AddImage handles POST /api/v1/projects/:id/images. The upload
// pipeline calls this after storing the file; the next turn folds the
// image into the draft.
func (h *Handlers) AddImage(c *fiber.Ctx) error {
	var req AddImageRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	img, err := h.store.AddImage(c.Context(), c.Params("id"), state.Image{
		ID:      req.ID,
		URL:     req.URL,
		Role:    req.Role,
		AltText: req.AltText,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidInput) {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_image", "Bad Request", err.Error())
		}
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(ImageResponse{Image: img})
}

// ReorderImages handles PUT /api/v1/projects/:id/images/order.
func (h *Handlers) ReorderImages(c *fiber.Ctx) error {
	var req ReorderImagesRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	if err := h.store.ReorderImages(c.Context(), c.Params("id"), req.Order); err != nil {
		if errors.Is(err, apperrors.ErrInvalidInput) {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_order", "Bad Request", err.Error())
		}
		return err
	}

	imgs, err := h.store.LoadImages(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(ImageListResponse{Images: imgs, Total: len(imgs)})
}

// Publish handles POST /api/v1/projects/:id/publish. A draft that fails
// the readiness gate comes back 409 with the missing items.
func (h *Handlers) Publish(c *fiber.Ctx) error {
	v, err := h.publisher.Publish(c.Context(), c.Params("id"))
	switch {
	case err == nil:
		h.metrics.RecordPublish("published")
		return c.JSON(PublishResponse{Published: true})
	case publish.IsNotReady(err):
		h.metrics.RecordPublish("rejected")
		return c.Status(fiber.StatusConflict).JSON(PublishResponse{
			Published: false,
			Missing:   v.Missing,
		})
	case errors.Is(err, apperrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound,
			"project_not_found", "Not Found", err.Error())
	default:
		return err
	}
}

// ValidatePublish handles GET /api/v1/projects/:id/publish/validate. It
// runs the readiness gate without publishing.
func (h *Handlers) ValidatePublish(c *fiber.Ctx) error {
	v, err := h.publisher.ValidateProject(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(ValidationResponse{Ready: v.Ready, Missing: v.Missing})
}

// HealthDetail handles GET /api/v1/health.
func (h *Handlers) HealthDetail(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())

	checks := make(map[string]string, len(results))
	overall := "ok"
	for name, status := range results {
		checks[name] = string(status)
		if status != health.StatusOK {
			overall = "degraded"
		}
	}

	return c.JSON(HealthDetailResponse{
		Status:  overall,
		Checks:  checks,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
		Version: apiVersion,
	})
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	report := h.checker.Report(c.Context())
	if !report.Ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(report)
	}
	return c.JSON(report)
}
