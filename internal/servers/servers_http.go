package servers

import (
	"errors"
	"net/http"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/httphelper"
	"github.com/gin-gonic/gin"
)

type serversHandler struct {
	servers Servers
}

func NewServersHandler(engine *gin.Engine, servers Servers, authenticator *ServerAuth) {
	handler := &serversHandler{servers: servers}

	admin := engine.Group("/api/v1/servers")
	admin.Use(authenticator.Middleware, auth.RequirePermission(auth.PermManageServers))
	{
		admin.GET("", handler.onAPIGetServers())
		admin.POST("", handler.onAPIPostServer())
		admin.GET("/:server_id", handler.onAPIGetServer())
		admin.PATCH("/:server_id", handler.onAPIPatchServer())
		admin.POST("/:server_id/rotate_key", handler.onAPIPostRotateKey())
		admin.DELETE("/:server_id", handler.onAPIDeleteServer())
	}
}

func handleErr(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidServer), errors.Is(err, ErrInvalidAddress):
		httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusBadRequest, errors.Join(err, httphelper.ErrBadRequest)))
	default:
		httphelper.HandleErr(ctx, err)
	}
}

func (h *serversHandler) onAPIGetServers() gin.HandlerFunc {
	type serverQuery struct {
		IncludeDisabled bool `schema:"include_disabled"`
	}

	return func(ctx *gin.Context) {
		req, ok := httphelper.BindQuery[serverQuery](ctx)
		if !ok {
			return
		}

		servers, errServers := h.servers.List(ctx, req.IncludeDisabled)
		if errServers != nil {
			handleErr(ctx, errServers)

			return
		}

		ctx.JSON(http.StatusOK, servers)
	}
}

func (h *serversHandler) onAPIGetServer() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		serverID, idFound := httphelper.GetUUIDParam(ctx, "server_id")
		if !idFound {
			return
		}

		server, errServer := h.servers.Server(ctx, serverID)
		if errServer != nil {
			handleErr(ctx, errServer)

			return
		}

		ctx.JSON(http.StatusOK, server)
	}
}

func (h *serversHandler) onAPIPostServer() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		req, ok := httphelper.BindJSON[RequestServerCreate](ctx)
		if !ok {
			return
		}

		credential, errCreate := h.servers.Create(ctx, req)
		if errCreate != nil {
			handleErr(ctx, errCreate)

			return
		}

		ctx.JSON(http.StatusCreated, credential)
	}
}

func (h *serversHandler) onAPIPatchServer() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		serverID, idFound := httphelper.GetUUIDParam(ctx, "server_id")
		if !idFound {
			return
		}

		req, ok := httphelper.BindJSON[RequestServerUpdate](ctx)
		if !ok {
			return
		}

		server, errSave := h.servers.Update(ctx, serverID, req)
		if errSave != nil {
			handleErr(ctx, errSave)

			return
		}

		ctx.JSON(http.StatusOK, server)
	}
}

func (h *serversHandler) onAPIPostRotateKey() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		serverID, idFound := httphelper.GetUUIDParam(ctx, "server_id")
		if !idFound {
			return
		}

		credential, errRotate := h.servers.RotateKey(ctx, serverID)
		if errRotate != nil {
			handleErr(ctx, errRotate)

			return
		}

		ctx.JSON(http.StatusOK, credential)
	}
}

func (h *serversHandler) onAPIDeleteServer() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		serverID, idFound := httphelper.GetUUIDParam(ctx, "server_id")
		if !idFound {
			return
		}

		if err := h.servers.Delete(ctx, serverID); err != nil {
			handleErr(ctx, err)

			return
		}

		ctx.Status(http.StatusNoContent)
	}
}
