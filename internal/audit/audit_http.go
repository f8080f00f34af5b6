package audit

import (
	"errors"
	"net/http"

	"github.com/gflze/gflbans/internal/httphelper"
	"github.com/gin-gonic/gin"
)

type auditHandler struct {
	audits Audits
}

func NewAuditHandler(engine *gin.Engine, audits Audits, authenticate gin.HandlerFunc) {
	handler := &auditHandler{audits: audits}

	authed := engine.Group("/api/v1/audit")
	authed.Use(authenticate)
	{
		authed.POST("", handler.onAPIPostQuery())
	}
}

func (h *auditHandler) onAPIPostQuery() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindJSON[Query](ctx)
		if !okReq {
			return
		}

		result, errList := h.audits.List(ctx, actor, req)
		if errList != nil {
			if errors.Is(errList, ErrPermissionDenied) {
				httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusForbidden, errList))

				return
			}

			httphelper.HandleErr(ctx, errList)

			return
		}

		ctx.JSON(http.StatusOK, result)
	}
}
