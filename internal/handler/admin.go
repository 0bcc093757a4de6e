package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/marketplace-api/internal/account"
)

// AdminHandler serves account administration for admins.
type AdminHandler struct {
	Accounts *account.Service
}

func NewAdminHandler(a *account.Service) *AdminHandler { return &AdminHandler{Accounts: a} }

type setStatusReq struct {
	IsActive *bool `json:"is_active"`
}

// SetUserStatus activates or deactivates a user.  Deactivation revokes the
// user's sessions when SESSION_REVOKE_ON_DEACTIVATE is on.
func (h *AdminHandler) SetUserStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	var req setStatusReq
	if err := c.Bind(&req); err != nil || req.IsActive == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "is_active required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	u, err := h.Accounts.SetActive(ctx, id, *req.IsActive)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toUserPart(u))
}
