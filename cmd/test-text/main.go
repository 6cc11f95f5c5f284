// Package main sends one text message to an agent server and prints the
// sealed reply. It exits non-zero when no reply arrives in time.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/chat"
	"github.com/room4-2/ConverseLive/logging"
	"github.com/room4-2/ConverseLive/session"
	"github.com/room4-2/ConverseLive/transport"
)

func main() {
	app := &cli.App{
		Name:  "test-text",
		Usage: "Send one message and print the agent's reply",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "ws://localhost:8080", EnvVars: []string{"CONVERSE_SERVER_URL"}},
			&cli.StringFlag{Name: "user", Value: "test-user", EnvVars: []string{"CONVERSE_USER_ID"}},
			&cli.StringFlag{Name: "token", EnvVars: []string{"CONVERSE_TOKEN"}},
			&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Value: "Hello! Say hi back in one sentence."},
			&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second},
		},
		Action: probe,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func probe(c *cli.Context) error {
	logger, err := logging.New("info", "console")
	if err != nil {
		return err
	}
	defer logger.Sync()

	var tokens transport.TokenProvider
	if tok := c.String("token"); tok != "" {
		tokens = transport.StaticToken(tok)
	}

	sess, err := session.New(session.Config{
		UserID:    c.String("user"),
		Tokens:    tokens,
		Transport: transport.Options{BaseURL: c.String("server")},
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	replies := make(chan chat.Message, 1)
	sess.OnSeal(func(m chat.Message) {
		if m.Role == chat.RoleAssistant {
			select {
			case replies <- m:
			default:
			}
		}
	})

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	if err := sess.Open(ctx); err != nil {
		return err
	}
	if sess.State() != transport.Connected {
		return fmt.Errorf("connect failed: %w", sess.LastError())
	}

	message := c.String("message")
	logger.Info("📤 sending", zap.String("text", message))
	if !sess.SendText(message) {
		return fmt.Errorf("send failed: %w", sess.LastError())
	}

	select {
	case m := <-replies:
		fmt.Println(m.Text)
		return nil
	case <-ctx.Done():
		return cli.Exit("timed out waiting for a reply", 1)
	}
}
