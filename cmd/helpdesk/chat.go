package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mspsdc/helpdesk/internal/assistant"
	"github.com/mspsdc/helpdesk/internal/config"
	"github.com/mspsdc/helpdesk/internal/logging"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const consoleChannel = "console"

func newChatCmd() *cobra.Command {
	var (
		configPath string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the bot from the terminal",
		Long: "Opens an interactive session against the same fallback chain the bot serves.\n" +
			"Type /reset to start over, /mode to show the answering mode, /quit to leave.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, user)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "helpdesk.yaml", "path to helpdesk config file")
	cmd.Flags().StringVarP(&user, "user", "u", "", "session user id (defaults to $USER)")
	return cmd
}

func runChat(cmd *cobra.Command, configPath, user string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Keep log lines out of the conversation.
	logCloser, err := logging.Configure("error", cfg.Log.File)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = "console"
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fd := int(os.Stdin.Fd())
	if cmd.InOrStdin() == os.Stdin && term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("chat: raw terminal: %w", err)
		}
		defer term.Restore(fd, state)
		t := term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{os.Stdin, out}, "you> ")
		return chatLoop(ctx, a.svc, a.backends.mode.Name(), t, t, user)
	}
	return chatLoop(ctx, a.svc, a.backends.mode.Name(), newScanReader(cmd.InOrStdin()), out, user)
}

// lineReader is satisfied by *term.Terminal and scanReader.
type lineReader interface {
	ReadLine() (string, error)
}

type scanReader struct{ s *bufio.Scanner }

func newScanReader(r io.Reader) *scanReader { return &scanReader{s: bufio.NewScanner(r)} }

func (r *scanReader) ReadLine() (string, error) {
	if r.s.Scan() {
		return r.s.Text(), nil
	}
	if err := r.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// chatService is the part of the assistant the console needs.
type chatService interface {
	HandleSync(ctx context.Context, in assistant.Inbound) (assistant.Reply, error)
	Reset(ctx context.Context, channel, userID string) error
}

// chatLoop reads lines until EOF or /quit. Output uses \r\n so it renders
// in a raw terminal.
func chatLoop(ctx context.Context, svc chatService, mode string, in lineReader, out io.Writer, user string) error {
	fmt.Fprintf(out, "MSPSDC helpdesk (%s mode). /quit to leave.\r\n", mode)
	for {
		line, err := in.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("chat: read: %w", err)
		}
		line = strings.TrimSpace(line)

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := svc.Reset(ctx, consoleChannel, user); err != nil {
				return err
			}
			fmt.Fprint(out, "Conversation cleared.\r\n")
			continue
		case "/mode":
			fmt.Fprintf(out, "Mode: %s\r\n", mode)
			continue
		}

		reply, err := svc.HandleSync(ctx, assistant.Inbound{
			Channel:    consoleChannel,
			UserID:     user,
			Text:       line,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			return err
		}
		text := strings.ReplaceAll(reply.Text, "\n", "\r\n")
		fmt.Fprintf(out, "bot [%s]> %s\r\n", reply.Backend, text)
	}
}
