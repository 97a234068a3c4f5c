package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"finboard/internal/util"
	"finboard/pkg/domain"
	"finboard/services/dashboard/internal/app"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant from the terminal",
	Long: `Signs in and starts one conversation with the assistant.
Type "logout" or press Ctrl-D to end it.`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Keep logs off the conversation.
	util.InitLoggerTo(cmd.ErrOrStderr(), "warn")

	ctx := cmd.Context()
	appCore, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer appCore.Close()

	in := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	sess := appCore.NewSession()

	fmt.Fprint(out, "username: ")
	if !in.Scan() {
		return in.Err()
	}
	username := strings.TrimSpace(in.Text())
	password, err := readPassword(in, out)
	if err != nil {
		return err
	}
	view, err := appCore.Login(ctx, sess, username, password)
	if err != nil {
		return err
	}
	defer appCore.Logout(ctx, sess)

	chatSessionID := uuid.NewString()
	appCore.SetChatSession(sess, chatSessionID)
	fmt.Fprintf(out, "signed in as %s\n", view.Username)

	for {
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		switch line {
		case "":
			continue
		case "logout", "exit", "quit":
			return nil
		}
		reply, err := appCore.Chat(ctx, sess, "", line)
		switch {
		case err == nil:
			fmt.Fprintln(out, reply.Reply)
		case errors.Is(err, domain.ErrValidation):
			fmt.Fprintln(out, "!", err)
		case errors.Is(err, app.ErrAssistantUnavailable):
			fmt.Fprintln(out, "! assistant unavailable, try again")
		default:
			return err
		}
	}
}

// readPassword reads without echo on a terminal and falls back to the
// scanner when stdin is piped.
func readPassword(in *bufio.Scanner, out io.Writer) (string, error) {
	fmt.Fprint(out, "password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	if !in.Scan() {
		if err := in.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return in.Text(), nil
}
