package http

import (
	"errors"
	"net/http"
	"strconv"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
	"crosspost/usecase"

	"github.com/gin-gonic/gin"
)

type ICrossPostHandler interface {
	Start(ctx *gin.Context)
	Status(ctx *gin.Context)
	History(ctx *gin.Context)
	Retry(ctx *gin.Context)
	Cancel(ctx *gin.Context)
	UpdateListing(ctx *gin.Context)
	DeleteListing(ctx *gin.Context)
	Marketplaces(ctx *gin.Context)
}

type CrossPostHandler struct {
	crossPostUsecase usecase.ICrossPostUsecase
}

func NewCrossPostHandler(uc usecase.ICrossPostUsecase) ICrossPostHandler {
	return &CrossPostHandler{crossPostUsecase: uc}
}

func requester(ctx *gin.Context) (string, bool) {
	userID := ctx.GetString("user_id")
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized: missing user_id"})
		return "", false
	}
	return userID, true
}

// writeError maps usecase and domain errors onto HTTP statuses.
func writeError(ctx *gin.Context, err error) {
	var f *model.Failure
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest), errors.Is(err, usecase.ErrUnknownPlatform):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrForbidden):
		ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, usecase.ErrProductNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, usecase.ErrNothingToRetry), errors.Is(err, usecase.ErrAlreadyCompleted), errors.Is(err, usecase.ErrNoListing):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &f):
		status := http.StatusBadGateway
		if f.Kind == model.KindValidation {
			status = http.StatusUnprocessableEntity
		}
		ctx.JSON(status, gin.H{"error": f.Message, "kind": f.Kind})
	default:
		logger.GetLogger().WithField("path", ctx.FullPath()).WithField("error", err).Error("Cross-post request failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *CrossPostHandler) Start(ctx *gin.Context) {
	userID, ok := requester(ctx)
	if !ok {
		return
	}
	var req dto.CrossPostRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id, err := h.crossPostUsecase.Start(ctx.Request.Context(), model.CrossPostRequest{
		ProductID:   req.ProductID,
		RequesterID: userID,
		Platforms:   req.Platforms,
	})
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, dto.StatusIDResponse{StatusID: id})
}

func (h *CrossPostHandler) Status(ctx *gin.Context) {
	userID, ok := requester(ctx)
	if !ok {
		return
	}
	status, err := h.crossPostUsecase.Status(ctx.Request.Context(), userID, ctx.Param("statusId"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, status)
}

func (h *CrossPostHandler) History(ctx *gin.Context) {
	userID, ok := requester(ctx)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(ctx.Query("page_size"))
	res, err := h.crossPostUsecase.History(ctx.Request.Context(), userID, ctx.Query("product_id"), page, pageSize)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

func (h *CrossPostHandler) Retry(ctx *gin.Context) {
	userID, ok := requester(ctx)
	if !ok {
		return
	}
	id, err := h.crossPostUsecase.Retry(ctx.Request.Context(), userID, ctx.Param("statusId"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, dto.StatusIDResponse{StatusID: id})
}

func (h *CrossPostHandler) Cancel(ctx *gin.Context) {
	userID, ok := requester(ctx)
	if !ok {
		return
	}
	statusID := ctx.Param("statusId")
	if err := h.crossPostUsecase.Cancel(ctx.Request.Context(), userID, statusID); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, dto.StatusIDResponse{StatusID: statusID})
}

func (h *CrossPostHandler) UpdateListing(ctx *gin.Context) {
	userID, ok := requester(ctx)
	if !ok {
		return
	}
	res, err := h.crossPostUsecase.UpdateListing(ctx.Request.Context(), userID, ctx.Param("statusId"), ctx.Param("platform"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

func (h *CrossPostHandler) DeleteListing(ctx *gin.Context) {
	userID, ok := requester(ctx)
	if !ok {
		return
	}
	if err := h.crossPostUsecase.DeleteListing(ctx.Request.Context(), userID, ctx.Param("statusId"), ctx.Param("platform")); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *CrossPostHandler) Marketplaces(ctx *gin.Context) {
	userID, ok := requester(ctx)
	if !ok {
		return
	}
	infos, err := h.crossPostUsecase.Marketplaces(ctx.Request.Context(), userID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"marketplaces": infos})
}
