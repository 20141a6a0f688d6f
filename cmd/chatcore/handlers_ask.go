package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/chatcore/internal/chat"
)

const askPrompt = "you> "

// runAsk answers one question, or runs an interactive chat when no
// question is given. The session is deleted on exit.
func runAsk(cmd *cobra.Command, user string, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a := newApp(cfg)
	ctx := cmd.Context()
	defer a.Close(context.WithoutCancel(ctx))

	chatService, err := a.openChat(ctx)
	if err != nil {
		return err
	}
	idx, loader, err := a.openIndex()
	if err != nil {
		return err
	}
	if count, err := idx.Count(ctx); err == nil && count == 0 {
		if _, err := loader.Load(ctx); err != nil {
			a.logger.Warn("index load failed", "error", err)
		}
	}

	sessionID, err := chatService.CreateSession(ctx, user)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = chatService.DeleteSession(context.WithoutCancel(ctx), sessionID, user)
	}()

	if len(args) > 0 {
		return ask(ctx, chatService, sessionID, user, strings.Join(args, " "), cmd.OutOrStdout())
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		return chatTerminal(ctx, chatService, sessionID, user, fd)
	}
	return chatLines(ctx, chatService, sessionID, user, cmd.InOrStdin(), cmd.OutOrStdout())
}

// chatTerminal runs the chat with line editing and history.
func chatTerminal(ctx context.Context, svc *chat.Service, sessionID, user string, fd int) error {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer term.Restore(fd, state)

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, askPrompt)
	if width, height, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(width, height)
	}
	fmt.Fprintln(t, "Ask about Jenkins. Type /exit or press Ctrl-D to quit.")

	for {
		line, err := t.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		done, err := handleLine(ctx, svc, sessionID, user, line, t)
		if done || err != nil {
			return err
		}
	}
}

// chatLines reads one question per line, for piped input.
func chatLines(ctx context.Context, svc *chat.Service, sessionID, user string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		done, err := handleLine(ctx, svc, sessionID, user, scanner.Text(), out)
		if done || err != nil {
			return err
		}
	}
	return scanner.Err()
}

func handleLine(ctx context.Context, svc *chat.Service, sessionID, user, line string, out io.Writer) (bool, error) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false, nil
	case "/exit", "/quit":
		return true, nil
	}
	if err := ask(ctx, svc, sessionID, user, line, out); err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		fmt.Fprintf(out, "error: %v\n", err)
	}
	return false, nil
}

func ask(ctx context.Context, svc *chat.Service, sessionID, user, question string, out io.Writer) error {
	streamed := false
	reply, err := svc.StreamMessage(ctx, sessionID, user, question, nil, func(token string) {
		streamed = true
		fmt.Fprint(out, token)
	})
	if err != nil {
		return err
	}
	if !streamed {
		fmt.Fprint(out, reply.Reply)
	}
	fmt.Fprintln(out)
	return nil
}
