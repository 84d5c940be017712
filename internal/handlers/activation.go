package handlers

import (
	"errors"

	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/licensing"
	"github.com/gofiber/fiber/v2"
)

// ActivationHandler serves the remote activation protocol spoken by
// installed product instances. Responses are deliberately thin: success,
// a machine-readable error kind, and the activation id the client must
// keep to deactivate later. No customer data crosses this surface.
type ActivationHandler struct {
	validator *licensing.Validator
	ledger    *licensing.Ledger
}

func NewActivationHandler(validator *licensing.Validator, ledger *licensing.Ledger) *ActivationHandler {
	return &ActivationHandler{validator: validator, ledger: ledger}
}

// ActivationRequest is the payload of all three remote calls
type ActivationRequest struct {
	LicenseKey    string `json:"license_key"`
	Domain        string `json:"domain"`
	JournalPath   string `json:"journal_path"`
	ClientVersion string `json:"client_version"`
	ActivationID  uint   `json:"activation_id"` // deactivate only
}

// Activate claims an activation slot for the calling installation
func (h *ActivationHandler) Activate(c *fiber.Ctx) error {
	var req ActivationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success":    false,
			"error_kind": "invalid_request",
			"message":    "Invalid request body",
		})
	}

	activation, err := h.ledger.Activate(h.validator, licensing.ActivateRequest{
		Key:           req.LicenseKey,
		Domain:        req.Domain,
		JournalPath:   req.JournalPath,
		ClientVersion: req.ClientVersion,
		ClientIP:      c.IP(),
	})
	if err != nil {
		return remoteError(c, err)
	}

	database.InvalidateLicenseCache(licensing.NormalizeKey(req.LicenseKey))

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"activation_id": activation.ID,
			"activated_at":  activation.ActivatedAt,
		},
	})
}

// CheckIn refreshes the calling installation's last_check_at
func (h *ActivationHandler) CheckIn(c *fiber.Ctx) error {
	var req ActivationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success":    false,
			"error_kind": "invalid_request",
			"message":    "Invalid request body",
		})
	}

	activation, err := h.ledger.CheckIn(h.validator, req.LicenseKey, req.Domain, req.JournalPath)
	if err != nil {
		return remoteError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"activation_id": activation.ID,
			"last_check_at": activation.LastCheckAt,
		},
	})
}

// Deactivate releases the calling installation's slot. Works in any
// license state so decommissioned sites can always clean up.
func (h *ActivationHandler) Deactivate(c *fiber.Ctx) error {
	var req ActivationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success":    false,
			"error_kind": "invalid_request",
			"message":    "Invalid request body",
		})
	}

	if err := h.ledger.Deactivate(req.LicenseKey, req.ActivationID); err != nil {
		return remoteError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Deactivated",
	})
}

// Validate resolves a key without consuming a slot, so an installer can
// pre-check a key before activating. Uses the cache when warm.
func (h *ActivationHandler) Validate(c *fiber.Ctx) error {
	var req ActivationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success":    false,
			"error_kind": "invalid_request",
			"message":    "Invalid request body",
		})
	}

	normalized := licensing.NormalizeKey(req.LicenseKey)
	if cached := database.GetCachedLicense(normalized); cached != nil {
		// The cached status is a fill-time snapshot; expiry can pass
		// within the TTL, so it is re-derived on every read
		return c.JSON(fiber.Map{
			"success": true,
			"data": fiber.Map{
				"status":     cached.EffectiveStatus(h.validator.Now()),
				"scope":      cached.Scope,
				"expires_at": cached.ExpiresAt,
			},
		})
	}

	license, err := h.validator.Resolve(req.LicenseKey, req.Domain, req.JournalPath)
	if err != nil {
		return remoteError(c, err)
	}

	status := h.validator.EffectiveStatus(license)
	database.SetCachedLicense(&database.CachedLicense{
		ID:             license.ID,
		Key:            license.Key,
		Status:         string(status),
		Scope:          string(license.Scope),
		MaxActivations: license.MaxActivations,
		ExpiresAt:      license.ExpiresAt,
	})

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"status":     status,
			"scope":      license.Scope,
			"expires_at": license.ExpiresAt,
		},
	})
}

// remoteError maps licensing errors to the thin wire representation
func remoteError(c *fiber.Ctx, err error) error {
	kind := licensing.ErrorKind(err)

	status := fiber.StatusConflict
	switch kind {
	case "invalid_key_format", "scope_mismatch":
		status = fiber.StatusBadRequest
	case "license_not_found", "activation_not_found":
		status = fiber.StatusNotFound
	case "internal", "transient":
		status = fiber.StatusInternalServerError
	}

	message := err.Error()
	if kind == "internal" {
		// Do not leak storage details to remote installations
		message = "Internal error"
	}
	var it *licensing.InvalidTransitionError
	if errors.As(err, &it) {
		message = it.Error()
	}

	return c.Status(status).JSON(fiber.Map{
		"success":    false,
		"error_kind": kind,
		"message":    message,
	})
}
