package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abhinavjnu/opencoop/config"
	"github.com/abhinavjnu/opencoop/middlewares"
	"github.com/abhinavjnu/opencoop/models"
	"github.com/abhinavjnu/opencoop/utils"
	"github.com/abhinavjnu/opencoop/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	gate := workflow.NewIdempotencyGate(logger)
	board := workflow.NewJobBoard(logger)

	r := gin.Default()
	r.Use(cors.Default())
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.IdempotencyMiddleware(gate))

	registerRoutes(r, board)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// Start listening first (Cloud Run), then bring up dependencies.
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			config.LogError(logger, "server.go", "main", "ListenAndServe", nil, err)
			os.Exit(1)
		}
	}()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()
	workflow.StartEventFanout(rootCtx, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func registerRoutes(r *gin.Engine, board *workflow.JobBoard) {
	logger := config.GetLogger()

	r.POST("/orders", func(c *gin.Context) {
		var input models.NewOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		order, err := workflow.CreateOrder(c.Request.Context(), logger, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, order)
	})

	r.POST("/orders/:id/hold", func(c *gin.Context) {
		order, err := workflow.HoldPayment(c.Request.Context(), logger, c.Param("id"))
		respondOrder(c, order, err)
	})

	r.POST("/orders/:id/accept", func(c *gin.Context) {
		order, err := workflow.AcceptOrder(c.Request.Context(), logger, c.Param("id"))
		respondOrder(c, order, err)
	})

	r.POST("/orders/:id/reject", func(c *gin.Context) {
		var input struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&input)
		order, err := workflow.RejectOrder(c.Request.Context(), logger, c.Param("id"), input.Reason)
		respondOrder(c, order, err)
	})

	r.POST("/orders/:id/post", func(c *gin.Context) {
		order, err := workflow.PostToBoard(c.Request.Context(), logger, board, c.Param("id"))
		respondOrder(c, order, err)
	})

	r.POST("/orders/:id/claim", func(c *gin.Context) {
		actor, ok := utils.GetActorFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		order, err := workflow.ClaimOrder(c.Request.Context(), logger, board, c.Param("id"), actor.ID)
		respondOrder(c, order, err)
	})

	r.POST("/orders/:id/release", func(c *gin.Context) {
		order, err := workflow.ReleaseClaim(c.Request.Context(), logger, board, c.Param("id"))
		respondOrder(c, order, err)
	})

	r.POST("/orders/:id/pickup", func(c *gin.Context) {
		order, err := workflow.MarkPickedUp(c.Request.Context(), logger, c.Param("id"))
		respondOrder(c, order, err)
	})

	r.POST("/orders/:id/deliver", func(c *gin.Context) {
		order, split, err := workflow.MarkDelivered(c.Request.Context(), logger, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": order, "settlement": split})
	})

	r.POST("/orders/:id/cancel", func(c *gin.Context) {
		var input struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&input)
		order, err := workflow.CancelOrder(c.Request.Context(), logger, board, c.Param("id"), input.Reason)
		respondOrder(c, order, err)
	})

	r.POST("/orders/:id/dispute", func(c *gin.Context) {
		var input struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&input)
		order, err := workflow.OpenDispute(c.Request.Context(), logger, c.Param("id"), input.Reason)
		respondOrder(c, order, err)
	})

	r.POST("/orders/:id/resolve", func(c *gin.Context) {
		var input struct {
			Resolution string `json:"resolution"`
		}
		_ = c.ShouldBindJSON(&input)
		order, split, err := workflow.ResolveDispute(c.Request.Context(), logger, c.Param("id"), input.Resolution)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": order, "settlement": split})
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		order, err := models.GetOrderById(c.Request.Context(), config.GetDB(), c.Param("id"))
		respondOrder(c, order, err)
	})

	r.GET("/orders/:id/events", func(c *gin.Context) {
		events, err := models.ListEventsByAggregate(c.Request.Context(), config.GetDB(), c.Param("id"), models.AggregateTypeOrder)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, events)
	})

	r.GET("/orders/:id/verify", func(c *gin.Context) {
		report, err := models.VerifyAggregateChain(c.Request.Context(), config.GetDB(), c.Param("id"), models.AggregateTypeOrder)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	r.GET("/orders/:id/settlement", func(c *gin.Context) {
		escrow, err := models.GetEscrowByOrderId(c.Request.Context(), config.GetDB(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, escrow)
	})

	r.GET("/jobs", func(c *gin.Context) {
		entries, err := board.List()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	})
}

func respondOrder(c *gin.Context, order *models.Order, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func respondError(c *gin.Context, err error) {
	if ce, ok := utils.AsConflict(err); ok {
		c.JSON(http.StatusConflict, gin.H{"error": ce.Message, "reason": ce.Reason})
		return
	}
	if errors.Is(err, utils.ErrorRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	// Integrity violations and everything else: generic failure, no
	// internals leaked.
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
