package handlers

import (
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/field-service/internal/storage"
	apperrors "github.com/spec-kit/field-service/pkg/util"
)

const maxEvidenceBytes = 10 << 20

// EvidenceHandler accepts completion evidence uploads. The returned URL is
// what a technician passes along with the COMPLETED transition.
type EvidenceHandler struct {
	store storage.EvidenceStore
}

// NewEvidenceHandler constructs handler.
func NewEvidenceHandler(store storage.EvidenceStore) *EvidenceHandler {
	return &EvidenceHandler{store: store}
}

// Upload POST /evidence.
func (h *EvidenceHandler) Upload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return apperrors.NewValidationError("file upload required", nil)
	}
	if fileHeader.Size > maxEvidenceBytes {
		return apperrors.NewValidationError("file exceeds 10MB limit", nil)
	}
	file, err := fileHeader.Open()
	if err != nil {
		return apperrors.NewValidationError("unreadable upload", nil)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxEvidenceBytes+1))
	if err != nil {
		return apperrors.MapError(err)
	}
	if len(data) > maxEvidenceBytes {
		return apperrors.NewValidationError("file exceeds 10MB limit", nil)
	}

	url, err := h.store.Save(fileHeader.Filename, data)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": fiber.Map{"url": url}})
}
