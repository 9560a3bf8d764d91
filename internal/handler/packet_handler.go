package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
)

// PacketHandler handles teacher authoring of packets and questions.
type PacketHandler struct {
	packets *service.PacketService
}

// NewPacketHandler creates a new PacketHandler.
func NewPacketHandler(packets *service.PacketService) *PacketHandler {
	return &PacketHandler{packets: packets}
}

// ListPackets godoc
// GET /api/v1/teacher/packets
func (h *PacketHandler) ListPackets(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	packets, err := h.packets.ListPackets(c.Request.Context(), actor)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"packets": packets})
}

// CreatePacket godoc
// POST /api/v1/teacher/packets
// Creates an inactive packet with a fresh join token.
func (h *PacketHandler) CreatePacket(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreatePacketRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	p, err := h.packets.CreatePacket(c.Request.Context(), actor, req)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Created(c, p)
}

// GetPacket godoc
// GET /api/v1/teacher/packets/:packet_id
// Returns the packet with questions and answer keys.
func (h *PacketHandler) GetPacket(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	packetID, ok := parseID(c, "packet_id")
	if !ok {
		return
	}

	detail, err := h.packets.GetPacketDetail(c.Request.Context(), actor, packetID)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, detail)
}

// SetActive godoc
// PATCH /api/v1/teacher/packets/:packet_id/active
func (h *PacketHandler) SetActive(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	packetID, ok := parseID(c, "packet_id")
	if !ok {
		return
	}

	var req model.SetPacketActiveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	p, err := h.packets.SetActive(c.Request.Context(), actor, packetID, *req.IsActive)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, p)
}

// DeletePacket godoc
// DELETE /api/v1/teacher/packets/:packet_id
// Deletes the packet and every session, answer and violation under it.
func (h *PacketHandler) DeletePacket(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	packetID, ok := parseID(c, "packet_id")
	if !ok {
		return
	}

	if err := h.packets.DeletePacket(c.Request.Context(), actor, packetID); err != nil {
		failWith(c, err)
		return
	}
	response.NoContent(c)
}

// AddQuestion godoc
// POST /api/v1/teacher/packets/:packet_id/questions
func (h *PacketHandler) AddQuestion(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	packetID, ok := parseID(c, "packet_id")
	if !ok {
		return
	}

	var req model.CreateQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	q, err := h.packets.AddQuestion(c.Request.Context(), actor, packetID, req)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Created(c, q)
}

// DeleteQuestion godoc
// DELETE /api/v1/teacher/packets/:packet_id/questions/:question_id
func (h *PacketHandler) DeleteQuestion(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	packetID, ok := parseID(c, "packet_id")
	if !ok {
		return
	}
	questionID, ok := parseID(c, "question_id")
	if !ok {
		return
	}

	if err := h.packets.DeleteQuestion(c.Request.Context(), actor, packetID, questionID); err != nil {
		failWith(c, err)
		return
	}
	response.NoContent(c)
}
