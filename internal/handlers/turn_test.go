package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/avvvet/lgdl-runtime/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	resp  *models.TurnResponse
	err   error
	calls int
	ctx   map[string]any
}

func (s *stubEngine) ProcessTurn(ctx context.Context, conversationID, userID, text string, turnContext map[string]any) (*models.TurnResponse, error) {
	s.calls++
	s.ctx = turnContext
	return s.resp, s.err
}

func TestTurnHandlerValidation(t *testing.T) {
	tests := []struct {
		name    string
		request *models.TurnRequest
		message string
	}{
		{"missing conversation", &models.TurnRequest{Text: "hi"}, "conversation_id is required"},
		{"blank text", &models.TurnRequest{ConversationID: "c1", Text: "   "}, "text is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{}
			resp := NewTurnHandler(engine).ProcessTurn(context.Background(), tt.request)

			require.NotNil(t, resp.ErrorCode)
			assert.Equal(t, models.ErrorInvalidRequest, *resp.ErrorCode)
			assert.Equal(t, tt.message, *resp.ErrorMessage)
			assert.Equal(t, FallbackMessage, resp.Response)
			assert.Zero(t, engine.calls)
		})
	}
}

func TestTurnHandlerPassesThrough(t *testing.T) {
	engine := &stubEngine{resp: &models.TurnResponse{ConversationID: "c1", MoveID: "greeting", Confidence: 0.92}}
	resp := NewTurnHandler(engine).ProcessTurn(context.Background(), &models.TurnRequest{
		ConversationID: "c1",
		Text:           "hello",
		Context:        map[string]any{"patient_id": "p7"},
	})

	assert.Equal(t, "greeting", resp.MoveID)
	assert.Nil(t, resp.ErrorCode)
	assert.Equal(t, map[string]any{"patient_id": "p7"}, engine.ctx)
}

func TestTurnHandlerStorageError(t *testing.T) {
	engine := &stubEngine{err: errors.New("database is locked")}
	resp := NewTurnHandler(engine).ProcessTurn(context.Background(), &models.TurnRequest{ConversationID: "c1", Text: "hello"})

	require.NotNil(t, resp.ErrorCode)
	assert.Equal(t, models.ErrorStorage, *resp.ErrorCode)
	assert.Equal(t, "c1", resp.ConversationID)
	assert.Equal(t, models.MoveNone, resp.MoveID)
}

func TestTurnHandlerTimeout(t *testing.T) {
	engine := &stubEngine{err: context.DeadlineExceeded}
	resp := NewTurnHandler(engine).ProcessTurn(context.Background(), &models.TurnRequest{ConversationID: "c1", Text: "hello"})

	require.NotNil(t, resp.ErrorCode)
	assert.Equal(t, models.ErrorTimeout, *resp.ErrorCode)
}
