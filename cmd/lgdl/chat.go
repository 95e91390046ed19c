package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/avvvet/lgdl-runtime/internal/app"
	"github.com/avvvet/lgdl-runtime/internal/handlers"
	"github.com/avvvet/lgdl-runtime/internal/models"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Chat with a game in the terminal",
		Long:  `Reads one utterance per line and prints the engine's reply. Clarification questions are answered inline. Type /quit to exit.`,
		RunE:  runChatCommand,
	}
	conversationID string
	showTrace      bool
)

func init() {
	chatCmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id to resume (default: new id)")
	chatCmd.Flags().BoolVar(&showTrace, "trace", false, "print move, confidence and stage after each reply")
}

func runChatCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Clarifications read from the same terminal as the chat loop, so a
	// question must never be abandoned on a timer.
	cfg.ClarifyTimeout = 0
	if !verbose {
		log.SetOutput(io.Discard)
	}

	session := newTerminal(os.Stdin, cmd.OutOrStdout())
	rt, err := app.Build(cfg, app.Hooks{Clarifier: session})
	if err != nil {
		return err
	}
	defer rt.Close()

	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (conversation %s)\n", rt.Game.Name, conversationID)
	return session.run(cmd.Context(), handlers.NewTurnHandler(rt.Engine), conversationID, showTrace)
}

// terminal is a line-oriented chat session. It also answers clarification
// questions, which arrive while run is inside a turn.
type terminal struct {
	in  *bufio.Scanner
	out io.Writer
}

func newTerminal(in io.Reader, out io.Writer) *terminal {
	return &terminal{in: bufio.NewScanner(in), out: out}
}

func (t *terminal) readLine(prompt string) (string, bool) {
	fmt.Fprint(t.out, prompt)
	if !t.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(t.in.Text()), true
}

func (t *terminal) Ask(ctx context.Context, conversationID, question string, options []string) (string, error) {
	if len(options) > 0 {
		fmt.Fprintf(t.out, "bot> %s [%s]\n", question, strings.Join(options, " / "))
	} else {
		fmt.Fprintf(t.out, "bot> %s\n", question)
	}
	answer, ok := t.readLine("you> ")
	if !ok {
		return "", io.EOF
	}
	return answer, nil
}

func (t *terminal) run(ctx context.Context, handler *handlers.TurnHandler, conversationID string, trace bool) error {
	for {
		line, ok := t.readLine("you> ")
		if !ok {
			return t.in.Err()
		}
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		resp := handler.ProcessTurn(ctx, &models.TurnRequest{ConversationID: conversationID, Text: line})
		fmt.Fprintf(t.out, "bot> %s\n", resp.Response)
		if trace {
			fmt.Fprintf(t.out, "     [%s %.2f %s]\n", resp.MoveID, resp.Confidence, resp.Stage)
		}
		if resp.ErrorMessage != nil {
			fmt.Fprintf(t.out, "     error: %s\n", *resp.ErrorMessage)
		}
	}
}
