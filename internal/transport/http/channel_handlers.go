package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/core"
)

// ChannelHandlers provides HTTP handlers for channel management endpoints.
type ChannelHandlers struct {
	coord *core.Server
	log   *zerolog.Logger
}

// NewChannelHandlers creates a new channel handlers instance.
func NewChannelHandlers(coord *core.Server, logger *zerolog.Logger) *ChannelHandlers {
	return &ChannelHandlers{
		coord: coord,
		log:   logger,
	}
}

// CreateChannelRequest represents the create channel request body.
type CreateChannelRequest struct {
	Name string `json:"name" binding:"required,min=1,max=64"`
}

// SetTopicRequest represents the set topic request body.
type SetTopicRequest struct {
	Topic string `json:"topic"`
}

// ChannelResponse represents a channel in API responses.
type ChannelResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Topic     string `json:"topic,omitempty"`
	UserCount int    `json:"user_count"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func channelResponse(info core.ChannelInfo) ChannelResponse {
	return ChannelResponse{
		ID:        info.ID.String(),
		Name:      info.Name,
		Topic:     info.Topic,
		UserCount: info.UserCount,
	}
}

// ListChannels handles GET /channels.
func (h *ChannelHandlers) ListChannels(c *gin.Context) {
	channels, err := h.coord.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	out := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		out = append(out, channelResponse(ch))
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

// CreateChannel handles POST /channels.
func (h *ChannelHandlers) CreateChannel(c *gin.Context) {
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	info, err := h.coord.NewChannel(c.Request.Context(), req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, channelResponse(info))
}

// GetChannel handles GET /channels/:name.
func (h *ChannelHandlers) GetChannel(c *gin.Context) {
	info, err := h.coord.FindChannel(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, channelResponse(info))
}

// SetTopic handles PUT /channels/:name/topic.
func (h *ChannelHandlers) SetTopic(c *gin.Context) {
	var req SetTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	info, err := h.coord.FindChannel(ctx, c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.coord.SetTopic(ctx, info.ID, req.Topic); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DropChannel handles DELETE /channels/:name.
func (h *ChannelHandlers) DropChannel(c *gin.Context) {
	ctx := c.Request.Context()
	info, err := h.coord.FindChannel(ctx, c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.coord.DropChannel(ctx, info.ID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps a domain error to its HTTP status.
func (h *ChannelHandlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidChannelName):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrChannelNameNotFound),
		errors.Is(err, core.ErrChannelNotFound),
		errors.Is(err, core.ErrUserNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrNickTaken),
		errors.Is(err, core.ErrAlreadyJoined),
		errors.Is(err, core.ErrNotJoined):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("command failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
