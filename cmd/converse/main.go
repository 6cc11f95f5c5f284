// Package main is the interactive conversation client.
//
// Usage:
//
//	converse [--server ws://host:8080] [--user id] [--audio] [--token t]
//
// Lines typed at the prompt are sent as text. Commands: /mic, /audio,
// /text, /history, /clear, /quit.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:           "converse",
		Usage:          "Talk to a conversation agent over WebSocket",
		Flags:          flags(),
		Action:         run,
		ExitErrHandler: exitErrHandler,
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML config file",
			EnvVars: []string{"CONVERSE_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "server",
			Usage: "Agent server root, e.g. ws://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "user",
			Aliases: []string{"u"},
			Usage:   "User id in the connection path",
		},
		&cli.BoolFlag{
			Name:  "audio",
			Usage: "Start in audio mode",
		},
		&cli.StringFlag{
			Name:  "token",
			Usage: "Auth token",
		},
		&cli.StringFlag{
			Name:  "token-file",
			Usage: "File holding the auth token, re-read on every connect",
		},
		&cli.StringFlag{
			Name:  "token-placement",
			Usage: "Where the token goes: query or subprotocol",
		},
		&cli.StringFlag{
			Name:  "file",
			Usage: "Replay a PCM or WAV file instead of the microphone",
		},
		&cli.StringFlag{
			Name:  "session",
			Usage: "History key for this conversation (defaults to the user id)",
		},
		&cli.StringFlag{
			Name:  "history-redis",
			Usage: "Redis address for transcript history (in memory when empty)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
	}
}

// exitErrHandler keeps the exit code of cli.Exit errors
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
