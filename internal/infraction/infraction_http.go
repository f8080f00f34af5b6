package infraction

import (
	"errors"
	"net/http"

	"github.com/gflze/gflbans/internal/httphelper"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
)

type infractionHandler struct {
	infractions Infractions
}

// NewInfractionHandler registers the staff facing infraction routes and the game server check and heartbeat
// routes. Every route requires authenticate to attach an actor.
func NewInfractionHandler(engine *gin.Engine, infractions Infractions, authenticate gin.HandlerFunc) {
	handler := &infractionHandler{infractions: infractions}

	authed := engine.Group("/api/v1/infractions")
	authed.Use(authenticate)
	{
		authed.POST("", handler.onAPIPostInfraction())
		authed.POST("/search", handler.onAPIPostSearch())
		authed.POST("/alts", handler.onAPIPostAlts())
		authed.POST("/remove", handler.onAPIPostRemoveByTarget())
		authed.GET("/stats", handler.onAPIGetStats())
		authed.GET("/policies", handler.onAPIGetPolicies())
		authed.POST("/register_policy", handler.onAPIPostRegisterPolicy())
		authed.POST("/unlink_policy", handler.onAPIPostUnlinkPolicy())
		authed.POST("/using_policy", handler.onAPIPostUsingPolicy())
		authed.GET("/:infraction_id", handler.onAPIGetInfraction())
		authed.PATCH("/:infraction_id", handler.onAPIPatchInfraction())
		authed.POST("/:infraction_id/comment", handler.onAPIPostComment())
		authed.PUT("/:infraction_id/comment", handler.onAPIPutComment())
		authed.DELETE("/:infraction_id/comment", handler.onAPIDeleteComment())
		authed.POST("/:infraction_id/files", handler.onAPIPostFile())
		authed.DELETE("/:infraction_id/files/:file_index", handler.onAPIDeleteFile())
	}

	gameServer := engine.Group("/api/v1/gs")
	gameServer.Use(authenticate)
	{
		gameServer.GET("/check", handler.onAPIGetCheck())
		gameServer.POST("/heartbeat", handler.onAPIPostHeartbeat())
	}
}

func handleErr(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrInvalidTransition):
		httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusBadRequest, errors.Join(err, httphelper.ErrBadRequest)))
	case errors.Is(err, ErrPermissionDenied):
		httphelper.SetError(ctx, httphelper.NewAPIError(http.StatusForbidden, err))
	default:
		httphelper.HandleErr(ctx, err)
	}
}

func (h *infractionHandler) onAPIPostInfraction() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindJSON[Opts](ctx)
		if !okReq {
			return
		}

		inf, errCreate := h.infractions.Create(ctx, actor, req)
		if errCreate != nil {
			handleErr(ctx, errCreate)

			return
		}

		ctx.JSON(http.StatusCreated, inf.Redacted(actor))
	}
}

func (h *infractionHandler) onAPIGetInfraction() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		infractionID, idFound := httphelper.GetUUIDParam(ctx, "infraction_id")
		if !idFound {
			return
		}

		inf, errGet := h.infractions.Get(ctx, actor, infractionID)
		if errGet != nil {
			handleErr(ctx, errGet)

			return
		}

		ctx.JSON(http.StatusOK, inf)
	}
}

func (h *infractionHandler) onAPIPatchInfraction() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		infractionID, idFound := httphelper.GetUUIDParam(ctx, "infraction_id")
		if !idFound {
			return
		}

		req, okReq := httphelper.BindJSON[EditOpts](ctx)
		if !okReq {
			return
		}

		inf, errEdit := h.infractions.Edit(ctx, actor, infractionID, req)
		if errEdit != nil {
			handleErr(ctx, errEdit)

			return
		}

		ctx.JSON(http.StatusOK, inf)
	}
}

func (h *infractionHandler) onAPIPostSearch() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindJSON[Criteria](ctx)
		if !okReq {
			return
		}

		results, errSearch := h.infractions.Search(ctx, actor, req)
		if errSearch != nil {
			handleErr(ctx, errSearch)

			return
		}

		if results.Results == nil {
			results.Results = []Infraction{}
		}

		ctx.JSON(http.StatusOK, results)
	}
}

func (h *infractionHandler) onAPIPostAlts() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindJSON[AltQuery](ctx)
		if !okReq {
			return
		}

		records, errAlts := h.infractions.Alts(ctx, actor, req)
		if errAlts != nil {
			handleErr(ctx, errAlts)

			return
		}

		if records == nil {
			records = []Infraction{}
		}

		ctx.JSON(http.StatusOK, records)
	}
}

func (h *infractionHandler) onAPIPostRemoveByTarget() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindJSON[RemoveOpts](ctx)
		if !okReq {
			return
		}

		result, errRemove := h.infractions.RemoveByTarget(ctx, actor, req)
		if errRemove != nil {
			handleErr(ctx, errRemove)

			return
		}

		ctx.JSON(http.StatusOK, result)
	}
}

func (h *infractionHandler) onAPIGetStats() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindQuery[Lookup](ctx)
		if !okReq {
			return
		}

		stats, errStats := h.infractions.Stats(ctx, actor, req)
		if errStats != nil {
			handleErr(ctx, errStats)

			return
		}

		ctx.JSON(http.StatusOK, stats)
	}
}

type requestComment struct {
	CommentOpts

	Index int `json:"comment_index"`
}

func (h *infractionHandler) onAPIPostComment() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		infractionID, idFound := httphelper.GetUUIDParam(ctx, "infraction_id")
		if !idFound {
			return
		}

		req, okReq := httphelper.BindJSON[CommentOpts](ctx)
		if !okReq {
			return
		}

		inf, errComment := h.infractions.AddComment(ctx, actor, infractionID, req)
		if errComment != nil {
			handleErr(ctx, errComment)

			return
		}

		ctx.JSON(http.StatusCreated, inf)
	}
}

func (h *infractionHandler) onAPIPutComment() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		infractionID, idFound := httphelper.GetUUIDParam(ctx, "infraction_id")
		if !idFound {
			return
		}

		req, okReq := httphelper.BindJSON[requestComment](ctx)
		if !okReq {
			return
		}

		inf, errComment := h.infractions.EditComment(ctx, actor, infractionID, req.Index, req.CommentOpts)
		if errComment != nil {
			handleErr(ctx, errComment)

			return
		}

		ctx.JSON(http.StatusOK, inf)
	}
}

func (h *infractionHandler) onAPIDeleteComment() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		infractionID, idFound := httphelper.GetUUIDParam(ctx, "infraction_id")
		if !idFound {
			return
		}

		req, okReq := httphelper.BindJSON[requestComment](ctx)
		if !okReq {
			return
		}

		inf, errComment := h.infractions.DeleteComment(ctx, actor, infractionID, req.Index, req.Admin)
		if errComment != nil {
			handleErr(ctx, errComment)

			return
		}

		ctx.JSON(http.StatusOK, inf)
	}
}

func (h *infractionHandler) onAPIPostFile() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		infractionID, idFound := httphelper.GetUUIDParam(ctx, "infraction_id")
		if !idFound {
			return
		}

		req, okReq := httphelper.BindJSON[File](ctx)
		if !okReq {
			return
		}

		inf, errFile := h.infractions.AttachFile(ctx, actor, infractionID, req)
		if errFile != nil {
			handleErr(ctx, errFile)

			return
		}

		ctx.JSON(http.StatusCreated, inf)
	}
}

func (h *infractionHandler) onAPIDeleteFile() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		infractionID, idFound := httphelper.GetUUIDParam(ctx, "infraction_id")
		if !idFound {
			return
		}

		index, indexFound := httphelper.GetIntParam(ctx, "file_index")
		if !indexFound {
			return
		}

		inf, errFile := h.infractions.DeleteFile(ctx, actor, infractionID, index)
		if errFile != nil {
			handleErr(ctx, errFile)

			return
		}

		ctx.JSON(http.StatusOK, inf)
	}
}

func (h *infractionHandler) onAPIGetCheck() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindQuery[Lookup](ctx)
		if !okReq {
			return
		}

		summary, errCheck := h.infractions.Check(ctx, actor, req)
		if errCheck != nil {
			handleErr(ctx, errCheck)

			return
		}

		ctx.JSON(http.StatusOK, summary)
	}
}

type requestHeartbeat struct {
	Players []OnlinePlayer `json:"players"`
}

func (h *infractionHandler) onAPIPostHeartbeat() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindJSON[requestHeartbeat](ctx)
		if !okReq {
			return
		}

		checks, errBeat := h.infractions.Heartbeat(ctx, actor, req.Players)
		if errBeat != nil {
			handleErr(ctx, errBeat)

			return
		}

		ctx.JSON(http.StatusOK, checks)
	}
}

// PolicyQuery selects the policies of a server. Servers default to their own.
type PolicyQuery struct {
	Server string `schema:"server" url:"server,omitempty"`
}

func (h *infractionHandler) onAPIGetPolicies() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindQuery[PolicyQuery](ctx)
		if !okReq {
			return
		}

		serverID := actor.ServerID

		if req.Server != "" {
			parsed, errID := uuid.FromString(req.Server)
			if errID != nil {
				handleErr(ctx, errors.Join(errID, ErrInvalidArgument))

				return
			}

			serverID = parsed
		} else if !actor.IsServer() {
			handleErr(ctx, errors.Join(errors.New("server is required"), ErrInvalidArgument))

			return
		}

		policies, errPolicies := h.infractions.Policies(ctx, serverID)
		if errPolicies != nil {
			handleErr(ctx, errPolicies)

			return
		}

		ctx.JSON(http.StatusOK, policies)
	}
}

func (h *infractionHandler) onAPIPostRegisterPolicy() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindJSON[PolicyRequest](ctx)
		if !okReq {
			return
		}

		policy, errRegister := h.infractions.RegisterPolicy(ctx, actor, req)
		if errRegister != nil {
			handleErr(ctx, errRegister)

			return
		}

		ctx.JSON(http.StatusCreated, PolicyRef{PolicyID: policy.PolicyID})
	}
}

func (h *infractionHandler) onAPIPostUnlinkPolicy() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindJSON[PolicyRef](ctx)
		if !okReq {
			return
		}

		if err := h.infractions.UnlinkPolicy(ctx, actor, req.PolicyID); err != nil {
			handleErr(ctx, err)

			return
		}

		ctx.Status(http.StatusNoContent)
	}
}

func (h *infractionHandler) onAPIPostUsingPolicy() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := httphelper.CurrentActor(ctx)
		if !ok {
			return
		}

		req, okReq := httphelper.BindJSON[PolicyOpts](ctx)
		if !okReq {
			return
		}

		inf, errCreate := h.infractions.CreateUsingPolicy(ctx, actor, req)
		if errCreate != nil {
			handleErr(ctx, errCreate)

			return
		}

		ctx.JSON(http.StatusCreated, inf.Redacted(actor))
	}
}
