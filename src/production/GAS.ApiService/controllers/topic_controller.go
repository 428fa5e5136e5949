package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
)

// TopicEnsurer provisions the readings topic.
type TopicEnsurer interface {
	EnsureTopic(ctx context.Context) (bool, error)
}

// TopicController exposes topic provisioning over HTTP
type TopicController struct {
	admin  TopicEnsurer
	logger *logger.Logger
}

// NewTopicController creates a new topic controller
func NewTopicController(admin TopicEnsurer, logger *logger.Logger) *TopicController {
	return &TopicController{admin: admin, logger: logger}
}

// RegisterRoutes registers the topic routes with Gin
func (c *TopicController) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/create-kafka-topic", c.CreateKafkaTopic)
}

func (c *TopicController) CreateKafkaTopic(ctx *gin.Context) {
	created, err := c.admin.EnsureTopic(ctx.Request.Context())
	if err != nil {
		respondError(ctx, c.logger, err, "Failed to create Kafka topic")
		return
	}

	message := "Topic already exists"
	if created {
		message = "Topic created successfully"
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}
