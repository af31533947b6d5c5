package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ragcore/internal/orchestrator"
	"ragcore/internal/system"
	"ragcore/internal/types"
)

var (
	chatSessionID    string
	chatTitle        string
	chatSystemPrompt string
	chatShowSteps    bool
)

// chatCmd runs conversation turns from the terminal
var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the model, grounded in the knowledge base",
	Long: `Sends a message through the full turn pipeline: history, context search,
streamed generation and persistence.

With a message argument a single turn runs and the command exits. Without one
an interactive prompt reads messages from stdin until EOF or "/exit".

Example:
  ragcore chat --session 3f2a... "What does the release note say about caching?"`,
	RunE: runChat,
}

// sessionCmd manages chat sessions
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage chat sessions",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a chat session",
	RunE:  runSessionNew,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chat sessions",
	RunE:  runSessionList,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session's messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var _ types.Notifier = (*terminalNotifier)(nil)

// terminalNotifier streams tokens to a writer as they arrive.
type terminalNotifier struct {
	mu        sync.Mutex
	out       io.Writer
	showSteps bool
}

func (n *terminalNotifier) ThinkingStep(_, label string) {
	if !n.showSteps {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.out, "· %s\n", label)
}

func (n *terminalNotifier) ChatToken(_, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprint(n.out, token)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	notifier := &terminalNotifier{out: cmd.OutOrStdout(), showSteps: chatShowSteps}
	sys, err := bootSystem(ctx, system.BootOptions{Notifier: notifier})
	if err != nil {
		return err
	}
	defer closeSystem(sys)

	sessions, err := requireSessions(sys)
	if err != nil {
		return err
	}
	sessionID := chatSessionID
	if sessionID == "" {
		session, err := sessions.CreateSession(ctx, chatTitle, modelConfig())
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		sessionID = session.ID
		fmt.Fprintf(cmd.ErrOrStderr(), "Session %s\n", sessionID)
	}

	if len(args) > 0 {
		return chatTurn(ctx, cmd.OutOrStdout(), sys.Orchestrator, sessionID, joinArgs(args))
	}

	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		}
		if err := chatTurn(ctx, out, sys.Orchestrator, sessionID, line); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func chatTurn(ctx context.Context, out io.Writer, orch *orchestrator.Handle, sessionID, content string) error {
	start := time.Now()
	_, err := orch.ProcessUserMessage(ctx, sessionID, content)
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	logger.Debug("Turn finished", zap.String("session", sessionID), zap.Duration("elapsed", time.Since(start)))
	return nil
}

func modelConfig() types.ModelConfig {
	mc := types.ModelConfig{SystemPrompt: chatSystemPrompt}
	if mc.SystemPrompt == "" {
		mc.SystemPrompt = cfg.Generation.SystemPrompt
	}
	if cfg.Generation.Backend == "openai" {
		mc.Model = cfg.Generation.OpenAIModel
	}
	return mc
}

func runSessionNew(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	sys, err := bootSystem(ctx, system.BootOptions{WithoutGeneration: true})
	if err != nil {
		return err
	}
	defer closeSystem(sys)

	sessions, err := requireSessions(sys)
	if err != nil {
		return err
	}
	session, err := sessions.CreateSession(ctx, joinArgs(args), modelConfig())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), session.ID)
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	sys, err := bootSystem(ctx, system.BootOptions{WithoutGeneration: true})
	if err != nil {
		return err
	}
	defer closeSystem(sys)

	sessions, err := requireSessions(sys)
	if err != nil {
		return err
	}
	list, err := sessions.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}
	for _, s := range list {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(out, "%s  %s  %s\n", s.ID, s.CreatedAt.Format(time.DateTime), title)
	}
	fmt.Fprintf(out, "Total: %d sessions\n", len(list))
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	sys, err := bootSystem(ctx, system.BootOptions{WithoutGeneration: true})
	if err != nil {
		return err
	}
	defer closeSystem(sys)

	sessions, err := requireSessions(sys)
	if err != nil {
		return err
	}
	messages, err := sessions.GetSessionMessages(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	for _, m := range messages {
		fmt.Fprintln(cmd.OutOrStdout(), m.String())
	}
	return nil
}

func init() {
	chatCmd.Flags().StringVarP(&chatSessionID, "session", "s", "", "Continue an existing session")
	chatCmd.Flags().StringVar(&chatTitle, "title", "", "Title for a new session")
	chatCmd.Flags().StringVar(&chatSystemPrompt, "system", "", "System prompt for a new session")
	chatCmd.Flags().BoolVar(&chatShowSteps, "steps", false, "Print thinking steps")

	sessionNewCmd.Flags().StringVar(&chatSystemPrompt, "system", "", "System prompt for the session")
	sessionCmd.AddCommand(sessionNewCmd, sessionListCmd, sessionShowCmd)
}
