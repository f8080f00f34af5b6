package httphelper

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/schema"
)

func BindJSON[T any](ctx *gin.Context) (T, bool) { //nolint:ireturn
	var value T
	if err := ctx.ShouldBindJSON(&value); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			SetError(ctx, NewAPIError(http.StatusBadRequest, validationErrs))
		} else {
			SetError(ctx, NewAPIErrorf(http.StatusBadRequest, errors.Join(err, ErrBadRequest), "Could not decode request body"))
		}

		return value, false
	}

	return value, true
}

// Decoder is a package global because it caches
// meta-data about structs, and an instance can be shared safely.
var Decoder = schema.NewDecoder() //nolint:gochecknoglobals

func init() { //nolint:gochecknoinits
	Decoder.IgnoreUnknownKeys(true)
}

func BindQuery[T any](ctx *gin.Context) (T, bool) { //nolint:ireturn
	var value T
	if errBind := Decoder.Decode(&value, ctx.Request.URL.Query()); errBind != nil {
		SetError(ctx, NewAPIErrorf(http.StatusBadRequest, errors.Join(errBind, ErrBadRequest),
			"Could not decode query params"))

		return value, false
	}

	return value, true
}

func GetUUIDParam(ctx *gin.Context, key string) (uuid.UUID, bool) {
	valueStr := ctx.Param(key)
	if valueStr == "" {
		SetError(ctx, NewAPIErrorf(http.StatusBadRequest, ErrParamKeyMissing,
			"Cannot find param: %s", key))

		return uuid.UUID{}, false
	}

	parsedUUID, errString := uuid.FromString(valueStr)
	if errString != nil {
		SetError(ctx, NewAPIErrorf(http.StatusBadRequest, ErrParamParse, "Supplied value is not a valid UUID: %s", valueStr))

		return uuid.UUID{}, false
	}

	return parsedUUID, true
}

func GetIntParam(ctx *gin.Context, key string) (int, bool) {
	valueStr := ctx.Param(key)
	if valueStr == "" {
		SetError(ctx, NewAPIErrorf(http.StatusBadRequest, ErrParamKeyMissing,
			"Cannot read value for param: %s", key))

		return 0, false
	}

	value, errValue := strconv.Atoi(valueStr)
	if errValue != nil || value < 0 {
		SetError(ctx, NewAPIErrorf(http.StatusBadRequest, ErrParamParse, "Must be a positive integer: %s", key))

		return 0, false
	}

	return value, true
}

// CurrentActor returns the authenticated actor, responding with a 401 when the request has none.
func CurrentActor(ctx *gin.Context) (auth.Actor, bool) {
	actor, found := auth.CurrentActor(ctx)
	if !found {
		SetError(ctx, NewAPIError(http.StatusUnauthorized, errors.Join(auth.ErrNoActor, ErrUnauthorized)))

		return auth.Actor{}, false
	}

	return actor, true
}

type ResultsCount struct {
	Count int64 `json:"count"`
}

type LazyResult struct {
	Count int64 `json:"count"`
	Data  any   `json:"data"`
}

func NewLazyResult(count int64, data any) LazyResult {
	if count == 0 {
		// Return an empty list instead of null
		return LazyResult{0, []any{}}
	}

	return LazyResult{Count: count, Data: data}
}

func NewServer(listenAddr string, handler http.Handler) *http.Server {
	httpServer := &http.Server{
		Addr:           listenAddr,
		Handler:        handler,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return httpServer
}
