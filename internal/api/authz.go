package api

import (
	"github.com/labstack/echo/v4"

	"github.com/foilportal/internal/api/auth"
	"github.com/foilportal/internal/users"
	"github.com/foilportal/pkg/models"
)

// editPerms and deletePerms map a response variant to the capability its
// edit or delete action requires. Variants absent from a map have no such
// action; the registry rejects them on its own.
var editPerms = map[models.ResponseType]models.Permission{
	models.ResponseFile:        models.PermEditFile,
	models.ResponseNote:        models.PermEditNote,
	models.ResponseLink:        models.PermEditLink,
	models.ResponseInstruction: models.PermEditInstruction,
}

var deletePerms = map[models.ResponseType]models.Permission{
	models.ResponseFile: models.PermDeleteFile,
	models.ResponseNote: models.PermDeleteNote,
}

// requirePermission loads the caller's assignment on the request and asks
// the permission matrix whether the action may proceed. The denial maps to
// 403 via domainError, before any state is touched.
func (s *Server) requirePermission(c echo.Context, requestID string, perm models.Permission) error {
	user := auth.GetUser(c)
	if user == nil {
		return users.ErrPermissionDenied
	}
	if user.IsSuper {
		return nil
	}

	assignment, err := s.users.RequestAssignment(c.Request().Context(), requestID, user)
	if err != nil {
		return err
	}
	if !users.CanActOnRequest(user, assignment, perm) {
		return users.ErrPermissionDenied
	}
	return nil
}
