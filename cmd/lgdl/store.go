package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/avvvet/lgdl-runtime/internal/app"
	"github.com/avvvet/lgdl-runtime/internal/memory"
	"github.com/spf13/cobra"
)

var (
	historyCmd = &cobra.Command{
		Use:   "history [conversation-id]",
		Short: "Print the turns of a stored conversation",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryCommand,
	}
	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Delete conversations not updated recently",
		RunE:  runCleanupCommand,
	}
	olderThan time.Duration
)

func init() {
	cleanupCmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "delete conversations idle for longer than this")
}

func runHistoryCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	storage, err := app.OpenStorage(cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	state, err := storage.LoadConversation(cmd.Context(), args[0])
	if errors.Is(err, memory.ErrNotFound) {
		return fmt.Errorf("conversation %s not found", args[0])
	}
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), state)
	return nil
}

func printHistory(w io.Writer, state *memory.PersistentState) {
	fmt.Fprintf(w, "conversation %s (created %s, %d turns)\n",
		state.ConversationID, state.CreatedAt.Format(time.RFC3339), len(state.Turns))
	for _, t := range state.Turns {
		move := t.MatchedMove
		if move == "" {
			move = "-"
		}
		fmt.Fprintf(w, "%3d  you> %s\n", t.TurnNum, t.UserInput)
		fmt.Fprintf(w, "     bot> %s  [%s %.2f]\n", t.Response, move, t.Confidence)
	}
	if state.AwaitingSlotName != "" {
		fmt.Fprintf(w, "awaiting %s for %s\n", state.AwaitingSlotName, state.AwaitingSlotMove)
	}
}

func runCleanupCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	storage, err := app.OpenStorage(cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	// Evict from the shared cache too, or a running server would write
	// the deleted conversations back.
	var cache memory.Cache
	if cfg.RedisURL != "" {
		redisCache, err := memory.NewRedisCache(cfg.RedisURL, cfg.StateTTL)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		cache = redisCache
	}

	n, err := memory.NewManager(storage, cache).CleanupOld(cmd.Context(), olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d conversations idle for more than %s\n", n, olderThan)
	return nil
}
