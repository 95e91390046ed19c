package transport

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/avvvet/lgdl-runtime/internal/config"
	"github.com/avvvet/lgdl-runtime/internal/handlers"
	"github.com/avvvet/lgdl-runtime/internal/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoEngine struct{}

func (echoEngine) ProcessTurn(ctx context.Context, conversationID, userID, text string, turnContext map[string]any) (*models.TurnResponse, error) {
	return &models.TurnResponse{ConversationID: conversationID, MoveID: "echo", Response: text}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	cfg := config.Default()
	prefix := "lgdl-test-" + uuid.NewString()
	cfg.NatsURL = url
	cfg.NatsTurnSubject = prefix + ".turn"
	cfg.NatsClarifySubject = prefix + ".clarify"
	cfg.NatsInteractionSubject = prefix + ".interactions"
	cfg.NatsTimeout = 5 * time.Second
	return cfg
}

func TestTurnRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	nt, err := NewNATSTransport(cfg, handlers.NewTurnHandler(echoEngine{}))
	require.NoError(t, err)
	defer nt.Close()
	require.NoError(t, nt.Start())

	client, err := nats.Connect(cfg.NatsURL)
	require.NoError(t, err)
	defer client.Close()

	data, _ := json.Marshal(&models.TurnRequest{ConversationID: "c1", Text: "hello"})
	msg, err := client.Request(cfg.NatsTurnSubject, data, 5*time.Second)
	require.NoError(t, err)

	var resp models.TurnResponse
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	assert.Equal(t, "echo", resp.MoveID)
	assert.Equal(t, "hello", resp.Response)

	msg, err = client.Request(cfg.NatsTurnSubject, []byte("{not json"), 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	require.NotNil(t, resp.ErrorCode)
	assert.Equal(t, models.ErrorParseError, *resp.ErrorCode)
}

func TestAskAndRecord(t *testing.T) {
	cfg := testConfig(t)
	nt, err := NewNATSTransport(cfg, nil)
	require.NoError(t, err)
	defer nt.Close()

	client, err := nats.Connect(cfg.NatsURL)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Subscribe(nt.ClarifySubject("c1"), func(msg *nats.Msg) {
		var req models.ClarifyRequest
		_ = json.Unmarshal(msg.Data, &req)
		answer, _ := json.Marshal(&models.ClarifyAnswer{ConversationID: req.ConversationID, Answer: req.Options[0]})
		_ = msg.Respond(answer)
	})
	require.NoError(t, err)
	interactions, err := client.SubscribeSync(cfg.NatsInteractionSubject)
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	answer, err := nt.Ask(ctx, "c1", "Which doctor?", []string{"Smith", "Jones"})
	require.NoError(t, err)
	assert.Equal(t, "Smith", answer)

	require.NoError(t, nt.Record(ctx, &models.Interaction{ConversationID: "c1", Outcome: models.OutcomeSuccess}))
	msg, err := interactions.NextMsg(5 * time.Second)
	require.NoError(t, err)
	var in models.Interaction
	require.NoError(t, json.Unmarshal(msg.Data, &in))
	assert.Equal(t, models.OutcomeSuccess, in.Outcome)
}

func TestTurnTimeoutCoversNegotiation(t *testing.T) {
	cfg := config.Default()
	cfg.NatsTimeout = 30 * time.Second
	nt := &NATSTransport{config: cfg}
	assert.Equal(t, 30*time.Second+3*2*time.Minute, nt.turnTimeout())

	cfg.NegotiationEnabled = false
	assert.Equal(t, 30*time.Second, nt.turnTimeout())
}
