// Package httpapi exposes the booking engine over HTTP. It is a thin
// translation layer: handlers parse the wire shapes, call the services, and
// map domain errors onto status codes. No booking rules live here.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/rinkbook/internal/booking"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/pairing"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/recurring"
	"github.com/MarkoPoloResearchLab/rinkbook/internal/reschedule"
	"github.com/MarkoPoloResearchLab/rinkbook/pkg/credits"
)

// ErrInvalidServerConfig rejects a server wired without its dependencies.
var ErrInvalidServerConfig = errors.New("invalid server config")

// Deps carries the services the API fronts.
type Deps struct {
	Ledger    *credits.Service
	Bookings  *booking.Service
	Matcher   *pairing.Matcher
	Schedules *recurring.Processor
	Changes   *reschedule.Manager
	Logger    *zap.Logger
}

// Server owns the gin router and the HTTP listener lifecycle.
type Server struct {
	cfg    Config
	deps   Deps
	router *gin.Engine
}

// NewServer validates dependencies and builds the router.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Ledger == nil || deps.Bookings == nil || deps.Matcher == nil || deps.Schedules == nil || deps.Changes == nil {
		return nil, fmt.Errorf("%w: missing service dependency", ErrInvalidServerConfig)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	server := &Server{cfg: cfg, deps: deps}
	server.router = server.setupRouter()
	return server, nil
}

// Router exposes the configured engine, mainly for tests.
func (server *Server) Router() *gin.Engine {
	return server.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.router,
	}

	errCh := make(chan error, 1)
	go func() {
		server.deps.Logger.Info("booking api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.deps.Logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")

	api.POST("/credits/purchases", server.handlePurchase)
	api.GET("/credits/:owner/balance", server.handleBalance)
	api.GET("/credits/:owner/history", server.handleHistory)

	api.POST("/bookings", server.handleReserve)
	api.GET("/bookings/:id", server.handleGetBooking)
	api.POST("/bookings/:id/cancel", server.handleCancel)
	api.POST("/bookings/:id/confirm", server.handleConfirmPayment)
	api.POST("/bookings/:id/release", server.handleReleasePayment)
	api.POST("/bookings/:id/attendance", server.handleAttendance)
	api.POST("/bookings/:id/move", server.handleMoveBooking)
	api.GET("/players/:id/bookings", server.handleListBookings)

	api.POST("/pairing/players", server.handleEnroll)
	api.GET("/pairing/opportunities", server.handleOpportunities)
	api.POST("/pairing/commit", server.handleCommitPairing)
	api.POST("/pairing/:id/dissolve", server.handleDissolvePairing)

	api.POST("/schedules", server.handleCreateSchedule)
	api.GET("/schedules/:id", server.handleGetSchedule)
	api.POST("/schedules/:id/pause", server.handlePauseSchedule)
	api.POST("/schedules/:id/resume", server.handleResumeSchedule)
	api.POST("/schedules/:id/move", server.handleMoveSchedule)
	api.DELETE("/schedules/:id", server.handleDeleteSchedule)
	api.GET("/players/:id/schedules", server.handleListSchedules)

	api.POST("/changes", server.handleRequestChange)
	api.GET("/changes/:id", server.handleGetChange)
	api.POST("/changes/:id/approve", server.handleApproveChange)
	api.POST("/changes/:id/reject", server.handleRejectChange)
	api.POST("/changes/:id/cancel", server.handleCancelChange)
	api.POST("/changes/:id/apply", server.handleApplyChange)
	api.GET("/players/:id/changes", server.handleListChanges)

	return router
}

// respondError maps domain errors onto HTTP status codes. Unexpected errors
// are logged and surface as an opaque 500.
func (server *Server) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, credits.ErrInsufficientCredits):
		ctx.JSON(http.StatusPaymentRequired, errorResponse("insufficient_credits", err))
	case errors.Is(err, booking.ErrSlotFull):
		ctx.JSON(http.StatusConflict, errorResponse("slot_full", err))
	case errors.Is(err, pairing.ErrStaleOpportunity):
		ctx.JSON(http.StatusConflict, errorResponse("stale_opportunity", err))
	case errors.Is(err, booking.ErrBookingClosed):
		ctx.JSON(http.StatusConflict, errorResponse("booking_closed", err))
	case errors.Is(err, pairing.ErrPairingClosed):
		ctx.JSON(http.StatusConflict, errorResponse("pairing_closed", err))
	case errors.Is(err, reschedule.ErrInvalidTransition):
		ctx.JSON(http.StatusConflict, errorResponse("invalid_transition", err))
	case errors.Is(err, recurring.ErrScheduleNotPaused):
		ctx.JSON(http.StatusConflict, errorResponse("schedule_not_paused", err))
	case errors.Is(err, booking.ErrInvalidSlotForProgram):
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse("invalid_slot_for_program", err))
	case errors.Is(err, pairing.ErrCategoryMismatch):
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse("category_mismatch", err))
	case errors.Is(err, pairing.ErrInvalidSlotChoice):
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse("invalid_slot_choice", err))
	case errors.Is(err, booking.ErrUnknownBooking):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_booking", err))
	case errors.Is(err, pairing.ErrUnknownPlayer):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_player", err))
	case errors.Is(err, pairing.ErrUnknownPairing):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_pairing", err))
	case errors.Is(err, recurring.ErrUnknownSchedule):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_schedule", err))
	case errors.Is(err, reschedule.ErrUnknownChange):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_change", err))
	case errors.Is(err, reschedule.ErrUnknownTargetBooking):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_target_booking", err))
	case errors.Is(err, credits.ErrInvalidOwnerID),
		errors.Is(err, credits.ErrInvalidQuantity),
		errors.Is(err, credits.ErrInvalidExpiry),
		errors.Is(err, booking.ErrInvalidPlayerID),
		errors.Is(err, booking.ErrInvalidStatus),
		errors.Is(err, pairing.ErrInvalidPlayer),
		errors.Is(err, recurring.ErrInvalidSchedule),
		errors.Is(err, reschedule.ErrInvalidChange):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err))
	default:
		server.deps.Logger.Error("request failed",
			zap.String("path", ctx.FullPath()),
			zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": "internal", "message": "internal error"},
		})
	}
}

func errorResponse(code string, err error) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": err.Error(),
		},
	}
}
