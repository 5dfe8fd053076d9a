package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"ragqa/pipeline"
	"ragqa/types"
)

// PipelineProvider hands out the pipeline, or the reason it is unavailable.
type PipelineProvider interface {
	Pipeline(ctx context.Context) (*pipeline.Pipeline, error)
	// Probe reports the index status straight from the vector store.
	Probe(ctx context.Context) (types.IndexStatusResponse, error)
}

type RAGHandler struct {
	provider PipelineProvider
	logger   *slog.Logger
}

func NewRAGHandler(provider PipelineProvider) *RAGHandler {
	return &RAGHandler{
		provider: provider,
		logger:   slog.Default().With("component", "api"),
	}
}

func (h *RAGHandler) pipeline(c *fiber.Ctx) (*pipeline.Pipeline, error) {
	p, err := h.provider.Pipeline(c.UserContext())
	if err != nil {
		return nil, ErrUnavailable(err)
	}
	return p, nil
}

func (h *RAGHandler) HandleIndexDocuments(c *fiber.Ctx) error {
	p, err := h.pipeline(c)
	if err != nil {
		return err
	}

	var params types.IndexParams
	if len(c.Body()) > 0 {
		if c.BodyParser(&params) != nil {
			return ErrBadRequest()
		}
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	path := params.Path()
	h.logger.Info("[INDEX] indexing requested", "path", path)
	report, err := p.Index(c.UserContext(), path)
	if err != nil {
		if errors.Is(err, types.ErrInvalidPath) {
			return ErrInvalidPath(path)
		}
		return ErrInternal("index documents", err)
	}

	return c.JSON(types.MessageResponse{Message: report.Message})
}

func (h *RAGHandler) HandleQuery(c *fiber.Ctx) error {
	p, err := h.pipeline(c)
	if err != nil {
		return err
	}

	var params types.QueryParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	answer, err := p.Query(c.UserContext(), params.Question)
	if err != nil {
		if errors.Is(err, types.ErrEmptyQuestion) {
			return NewError(fiber.StatusBadRequest, err.Error())
		}
		return ErrInternal("process query", err)
	}

	return c.JSON(types.QueryResponse{Question: params.Question, Answer: answer})
}

func (h *RAGHandler) HandleIndexStatus(c *fiber.Ctx) error {
	p, err := h.provider.Pipeline(c.UserContext())
	if err != nil {
		h.logger.Warn("[STATUS] pipeline unavailable, probing store directly", "error", err)
		status, probeErr := h.provider.Probe(c.UserContext())
		if probeErr != nil {
			return NewError(fiber.StatusServiceUnavailable, "RAG pipeline not initialized, and error checking index status: "+probeErr.Error())
		}
		return c.JSON(status)
	}

	status, err := p.Status(c.UserContext())
	if err != nil {
		return ErrInternal("get index status", err)
	}
	return c.JSON(status)
}

func (h *RAGHandler) HandleDeleteIndex(c *fiber.Ctx) error {
	p, err := h.pipeline(c)
	if err != nil {
		return err
	}
	if !c.QueryBool("confirm", false) {
		return ErrDeleteNotConfirmed(p.IndexName())
	}

	msg, err := p.DeleteIndex(c.UserContext())
	if err != nil {
		return ErrInternal("delete index", err)
	}
	return c.JSON(types.MessageResponse{Message: msg})
}
