package server

import (
	"bytes"
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/collabd/internal/cerrors"
	"github.com/p-blackswan/collabd/internal/directory"
)

// CreateProject handles POST /api/v1/projects.
func (h *Handlers) CreateProject(c *fiber.Ctx) error {
	var in directory.CreateInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if in.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}

	p, err := h.dir.Create(in)
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

// ListProjects handles GET /api/v1/projects.
func (h *Handlers) ListProjects(c *fiber.Ctx) error {
	projects, err := h.dir.List()
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	if projects == nil {
		projects = []*directory.Project{}
	}
	return c.JSON(fiber.Map{"projects": projects, "total": len(projects)})
}

// GetProject handles GET /api/v1/projects/:id.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	p, err := h.dir.Get(c.Params("id"))
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	if p == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Project not found"})
	}
	return c.JSON(p)
}

// UpdateProject handles PUT /api/v1/projects/:id. Only fields explicitly
// present in the body are touched; "description": null is a valid value
// distinct from leaving the key out.
func (h *Handlers) UpdateProject(c *fiber.Ctx) error {
	patch, err := parseProjectPatch(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": cerrors.Message(err)})
	}

	p, err := h.dir.Update(c.Params("id"), patch)
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	if p == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Project not found"})
	}
	return c.JSON(p)
}

// DeleteProject handles DELETE /api/v1/projects/:id. Dependent records
// cascade at the store level.
func (h *Handlers) DeleteProject(c *fiber.Ctx) error {
	found, err := h.dir.Delete(c.Params("id"))
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	if !found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Project not found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

var jsonNull = []byte("null")

// parseProjectPatch decodes a partial project update, distinguishing an
// absent key from an explicit null.
func parseProjectPatch(body []byte) (directory.Patch, error) {
	var raw map[string]json.RawMessage
	if len(body) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return directory.Patch{}, cerrors.Invalid("invalid request body")
		}
	}

	var patch directory.Patch
	if v, ok := raw["name"]; ok && !bytes.Equal(v, jsonNull) {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return directory.Patch{}, cerrors.Invalid("name must be a string")
		}
		patch.Name = &s
	}
	if v, ok := raw["description"]; ok {
		patch.DescriptionSet = true
		if !bytes.Equal(v, jsonNull) {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return directory.Patch{}, cerrors.Invalid("description must be a string or null")
			}
			patch.Description = &s
		}
	}
	if v, ok := raw["status"]; ok && !bytes.Equal(v, jsonNull) {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return directory.Patch{}, cerrors.Invalid("status must be a string")
		}
		patch.Status = &s
	}
	return patch, nil
}
