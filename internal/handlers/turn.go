package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/avvvet/lgdl-runtime/internal/models"
)

// FallbackMessage is shown to the user when a turn cannot be processed.
const FallbackMessage = "I'm sorry, I encountered an error processing your request. Please try again."

// TurnProcessor runs one dialogue turn.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, conversationID, userID, text string, turnContext map[string]any) (*models.TurnResponse, error)
}

type TurnHandler struct {
	engine TurnProcessor
}

func NewTurnHandler(engine TurnProcessor) *TurnHandler {
	return &TurnHandler{
		engine: engine,
	}
}

// ProcessTurn validates the request and hands it to the engine. Failures
// come back as error responses, never as a Go error.
func (h *TurnHandler) ProcessTurn(ctx context.Context, request *models.TurnRequest) *models.TurnResponse {
	// Validate request
	if err := h.validateRequest(request); err != nil {
		return h.createErrorResponse(request, models.ErrorInvalidRequest, err.Error())
	}

	response, err := h.engine.ProcessTurn(ctx, request.ConversationID, request.UserID, request.Text, request.Context)
	if err != nil {
		log.Printf("Turn failed for conversation %s: %v", request.ConversationID, err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return h.createErrorResponse(request, models.ErrorTimeout, err.Error())
		}
		return h.createErrorResponse(request, models.ErrorStorage, err.Error())
	}

	log.Printf("Turn processed for conversation %s: move=%s, confidence=%.2f, stage=%s",
		request.ConversationID, response.MoveID, response.Confidence, response.Stage)

	return response
}

func (h *TurnHandler) validateRequest(request *models.TurnRequest) error {
	if request.ConversationID == "" {
		return fmt.Errorf("conversation_id is required")
	}
	if strings.TrimSpace(request.Text) == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

func (h *TurnHandler) createErrorResponse(request *models.TurnRequest, errorCode, errorMessage string) *models.TurnResponse {
	return &models.TurnResponse{
		ConversationID: request.ConversationID,
		MoveID:         models.MoveNone,
		Response:       FallbackMessage,
		ErrorCode:      &errorCode,
		ErrorMessage:   &errorMessage,
	}
}
