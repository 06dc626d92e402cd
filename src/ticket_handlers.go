package main

import (
	"context"
	"errors"
	"log"
	"net/http"

	"arts/src/common"
	"arts/src/db"
	"arts/src/models"
	"arts/src/types"

	"github.com/gin-gonic/gin"
)

func ticketHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		GET("/tickets", func(ctx *gin.Context) {
			var filters types.TicketQueryFilters
			if err := ctx.ShouldBindQuery(&filters); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var tickets []models.Ticket
			db := db.GetDb()
			q := db.Order("created_at desc")
			if filters.Status != "" {
				q = q.Where(&models.Ticket{Status: types.TicketStatus(filters.Status)})
			}
			if err := q.Find(&tickets).Error; err != nil {
				log.Printf("Error retrieving tickets: %s\n", err.Error())
				ctx.Status(http.StatusBadRequest)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": tickets})
		}).
		GET("/tickets/:id", func(ctx *gin.Context) {
			var params types.TicketRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			ticket, err := manager.Get(ctx, params.ID)
			if err != nil {
				abortTicketError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": ticket})
		}).
		POST("/tickets/ingest", func(ctx *gin.Context) {
			id, err := manager.Ingest(ctx)
			if err != nil {
				abortTicketError(ctx, err)
				return
			}
			if id == "" {
				ctx.Status(http.StatusNoContent)
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": gin.H{"id": id}})
		}).
		POST("/tickets/:id/confirm", transitionHandler(manager.Confirm)).
		POST("/tickets/:id/accept", transitionHandler(manager.Accept)).
		POST("/tickets/:id/deny", transitionHandler(manager.Deny)).
		POST("/tickets/sweep", func(ctx *gin.Context) {
			purged, err := manager.ExpireAndPurge(ctx)
			if err != nil {
				abortTicketError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": gin.H{"purged": purged}})
		})
	return g
}

func transitionHandler(op func(ctx context.Context, id string) error) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var params types.TicketRequestParams
		if err := ctx.ShouldBindUri(&params); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := op(ctx, params.ID); err != nil {
			abortTicketError(ctx, err)
			return
		}
		ctx.Status(http.StatusOK)
	}
}

func abortTicketError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrInvalidTransition):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrIntakeConflict):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrInvalidPayload):
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrStorage):
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.Printf("Unexpected error: %s\n", err.Error())
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
