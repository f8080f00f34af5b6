package vpn

import (
	"errors"
	"net/http"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/httphelper"
	"github.com/gin-gonic/gin"
	"github.com/leighmacdonald/steamid/v4/steamid"
)

// AdminDirectory returns the permissions of a staff member.
type AdminDirectory interface {
	Permissions(sid steamid.SteamID) (auth.Permission, bool)
}

type vpnHandler struct {
	vpns   VPNs
	admins AdminDirectory
}

// NewVPNHandler registers the blocklist management routes and the game server vpn check.
func NewVPNHandler(engine *gin.Engine, vpns VPNs, admins AdminDirectory, authenticate gin.HandlerFunc) {
	handler := &vpnHandler{vpns: vpns, admins: admins}

	manage := engine.Group("/api/v1/vpn")
	manage.Use(authenticate, auth.RequirePermission(auth.PermManageVPNs))
	{
		manage.GET("", handler.onAPIGetRules())
		manage.POST("", handler.onAPIPostRule())
		manage.PATCH("/:rule_id", handler.onAPIPatchRule())
		manage.DELETE("", handler.onAPIDeleteRule())
	}

	gameServer := engine.Group("/api/v1/gs")
	gameServer.Use(authenticate)
	{
		gameServer.GET("/vpn", handler.onAPIGetCheck())
	}
}

func handleErr(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidRule), errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrNoChanges):
		httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusBadRequest, errors.Join(err, httphelper.ErrBadRequest)))
	case errors.Is(err, ErrPermissionDenied):
		httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusForbidden, err))
	default:
		httphelper.HandleErr(ctx, err)
	}
}

func (h *vpnHandler) onAPIGetRules() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindQuery[ListQuery](ctx)
		if !okReq {
			return
		}

		result, errList := h.vpns.List(ctx, actor, req)
		if errList != nil {
			handleErr(ctx, errList)

			return
		}

		ctx.JSON(http.StatusOK, result)
	}
}

func (h *vpnHandler) onAPIPostRule() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindJSON[RuleCreate](ctx)
		if !okReq {
			return
		}

		rule, errCreate := h.vpns.Create(ctx, actor, req)
		if errCreate != nil {
			handleErr(ctx, errCreate)

			return
		}

		ctx.JSON(http.StatusCreated, rule)
	}
}

func (h *vpnHandler) onAPIPatchRule() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		ruleID, idFound := httphelper.GetUUIDParam(ctx, "rule_id")
		if !idFound {
			return
		}

		req, okReq := httphelper.BindJSON[RuleUpdate](ctx)
		if !okReq {
			return
		}

		rule, errEdit := h.vpns.Edit(ctx, actor, ruleID, req)
		if errEdit != nil {
			handleErr(ctx, errEdit)

			return
		}

		ctx.JSON(http.StatusOK, rule)
	}
}

func (h *vpnHandler) onAPIDeleteRule() gin.HandlerFunc {
	type deleteRequest struct {
		Payload string `json:"as_number_or_cidr" binding:"required"`
	}

	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindJSON[deleteRequest](ctx)
		if !okReq {
			return
		}

		if errDelete := h.vpns.Delete(ctx, actor, req.Payload); errDelete != nil {
			handleErr(ctx, errDelete)

			return
		}

		ctx.Status(http.StatusNoContent)
	}
}

func (h *vpnHandler) onAPIGetCheck() gin.HandlerFunc {
	type checkQuery struct {
		Service string `schema:"gs_service"`
		UserID  string `schema:"gs_id"`
		IP      string `schema:"ip"`
	}

	type checkReply struct {
		CheckResult

		Immune bool `json:"is_immune"`
	}

	return func(ctx *gin.Context) {
		req, okReq := httphelper.BindQuery[checkQuery](ctx)
		if !okReq {
			return
		}

		result, errCheck := h.vpns.Check(ctx, req.IP)
		if errCheck != nil {
			handleErr(ctx, errCheck)

			return
		}

		reply := checkReply{CheckResult: result}

		if h.admins != nil && req.Service == "steam" {
			if perms, found := h.admins.Permissions(steamid.New(req.UserID)); found {
				reply.Immune = perms.Has(auth.PermVPNCheckSkip)
			}
		}

		ctx.JSON(http.StatusOK, reply)
	}
}
