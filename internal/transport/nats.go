package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/avvvet/lgdl-runtime/internal/config"
	"github.com/avvvet/lgdl-runtime/internal/handlers"
	"github.com/avvvet/lgdl-runtime/internal/models"
	"github.com/nats-io/nats.go"
)

type NATSTransport struct {
	conn    *nats.Conn
	config  *config.Config
	handler *handlers.TurnHandler
	sub     *nats.Subscription
	turns   *dispatcher
}

func NewNATSTransport(cfg *config.Config, handler *handlers.TurnHandler) (*NATSTransport, error) {
	// Connect to NATS
	conn, err := nats.Connect(cfg.NatsURL,
		nats.Name(cfg.ServiceName),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1), // Infinite reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Printf("Connected to NATS server: %s", cfg.NatsURL)

	return &NATSTransport{
		conn:    conn,
		config:  cfg,
		handler: handler,
		turns:   newDispatcher(),
	}, nil
}

// SetHandler attaches the turn handler. The engine needs the transport as
// its clarifier, so the handler is built after the connection.
func (nt *NATSTransport) SetHandler(handler *handlers.TurnHandler) {
	nt.handler = handler
}

func (nt *NATSTransport) Start() error {
	if nt.handler == nil {
		return fmt.Errorf("no turn handler set")
	}

	// Messages arrive here one at a time, so queueing by conversation id
	// keeps each conversation's turns in the order they were sent. A turn
	// blocked on a clarification only holds up its own conversation.
	sub, err := nt.conn.Subscribe(nt.config.NatsTurnSubject, func(msg *nats.Msg) {
		request, ok := nt.parseTurnRequest(msg)
		if !ok {
			return
		}
		nt.turns.submit(request.ConversationID, func() { nt.handleTurnRequest(msg, request) })
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", nt.config.NatsTurnSubject, err)
	}
	nt.sub = sub

	log.Printf("Subscribed to subject: %s", nt.config.NatsTurnSubject)
	return nil
}

func (nt *NATSTransport) parseTurnRequest(msg *nats.Msg) (*models.TurnRequest, bool) {
	var request models.TurnRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		log.Printf("Error parsing request: %v", err)
		nt.sendErrorResponse(msg, &request, models.ErrorParseError, "Invalid request format")
		return nil, false
	}
	return &request, true
}

func (nt *NATSTransport) handleTurnRequest(msg *nats.Msg, request *models.TurnRequest) {
	log.Printf("Processing turn for conversation: %s", request.ConversationID)

	// The deadline covers negotiation rounds, each bounded by the
	// clarify timeout.
	ctx, cancel := context.WithTimeout(context.Background(), nt.turnTimeout())
	defer cancel()

	response := nt.handler.ProcessTurn(ctx, request)

	// Send response
	if err := nt.sendResponse(msg, response); err != nil {
		log.Printf("Error sending response: %v", err)
	}
}

func (nt *NATSTransport) turnTimeout() time.Duration {
	timeout := nt.config.NatsTimeout
	if nt.config.NegotiationEnabled {
		timeout += time.Duration(nt.config.NegotiationMaxRounds) * nt.config.ClarifyTimeout
	}
	return timeout
}

func (nt *NATSTransport) sendResponse(msg *nats.Msg, response *models.TurnResponse) error {
	responseData, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if err := msg.Respond(responseData); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}

	log.Printf("Response sent for conversation: %s, move: %s", response.ConversationID, response.MoveID)
	return nil
}

func (nt *NATSTransport) sendErrorResponse(msg *nats.Msg, request *models.TurnRequest, errorCode, errorMessage string) {
	response := &models.TurnResponse{
		ConversationID: request.ConversationID,
		MoveID:         models.MoveNone,
		Response:       handlers.FallbackMessage,
		ErrorCode:      &errorCode,
		ErrorMessage:   &errorMessage,
	}

	if err := nt.sendResponse(msg, response); err != nil {
		log.Printf("Failed to send error response: %v", err)
	}
}

// ClarifySubject is where questions for a conversation are sent.
func (nt *NATSTransport) ClarifySubject(conversationID string) string {
	return nt.config.NatsClarifySubject + "." + conversationID
}

// Ask sends a clarification question to the client owning the
// conversation and waits for its answer.
func (nt *NATSTransport) Ask(ctx context.Context, conversationID, question string, options []string) (string, error) {
	data, err := json.Marshal(&models.ClarifyRequest{
		ConversationID: conversationID,
		Question:       question,
		Options:        options,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal clarify request: %w", err)
	}

	reply, err := nt.conn.RequestWithContext(ctx, nt.ClarifySubject(conversationID), data)
	if err != nil {
		return "", fmt.Errorf("clarification request failed: %w", err)
	}

	var answer models.ClarifyAnswer
	if err := json.Unmarshal(reply.Data, &answer); err != nil {
		return "", fmt.Errorf("failed to parse clarify answer: %w", err)
	}
	return answer.Answer, nil
}

// Record publishes an interaction for the learning pipeline.
func (nt *NATSTransport) Record(ctx context.Context, interaction *models.Interaction) error {
	data, err := json.Marshal(interaction)
	if err != nil {
		return fmt.Errorf("failed to marshal interaction: %w", err)
	}
	if err := nt.conn.Publish(nt.config.NatsInteractionSubject, data); err != nil {
		return fmt.Errorf("failed to publish interaction: %w", err)
	}
	return nil
}

func (nt *NATSTransport) Close() error {
	if nt.sub != nil {
		if err := nt.sub.Drain(); err != nil {
			log.Printf("⚠️ Failed to drain subscription: %v", err)
		}
		nt.sub = nil
	}
	if nt.conn != nil {
		nt.conn.Close()
		nt.conn = nil
		log.Println("NATS connection closed")
	}
	return nil
}
