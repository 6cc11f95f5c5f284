package main

import (
	"bufio"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/room4-2/ConverseLive/capture"
	"github.com/room4-2/ConverseLive/config"
	"github.com/room4-2/ConverseLive/history"
	"github.com/room4-2/ConverseLive/logging"
	"github.com/room4-2/ConverseLive/playback"
	"github.com/room4-2/ConverseLive/session"
	"github.com/room4-2/ConverseLive/transport"
)

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := history.Open(ctx, history.Config{
		RedisURL: c.String("history-redis"),
		TTL:      cfg.HistoryTTL,
		Logger:   logger.Named("history"),
	})
	defer store.Close()

	scfg := sessionConfig(cfg, c.String("file"), store, logger)
	scfg.ID = c.String("session")
	if scfg.ID == "" {
		scfg.ID = cfg.UserID
	}

	sess, err := session.New(scfg)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer sess.Close()

	ui := newREPL(sess, os.Stdout)
	defer sess.OnStatus(ui.showStatus)()
	defer sess.OnSeal(ui.showReply)()

	if err := sess.Open(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	ui.help()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := ui.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// loadConfig layers command line flags over the environment config
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if path := c.String("config"); path != "" && path != os.Getenv("CONVERSE_CONFIG") {
		if err := config.LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if c.IsSet("server") {
		cfg.ServerURL = c.String("server")
	}
	if c.IsSet("user") {
		cfg.UserID = c.String("user")
	}
	if c.IsSet("audio") {
		cfg.Audio = c.Bool("audio")
	}
	if c.IsSet("token") {
		cfg.Token = c.String("token")
	}
	if c.IsSet("token-file") {
		cfg.TokenFile = c.String("token-file")
	}
	if c.IsSet("token-placement") {
		cfg.TokenPlacement = c.String("token-placement")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}

	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func sessionConfig(cfg *config.Config, file string, store history.Store, logger *zap.Logger) session.Config {
	mode := session.ModeText
	if cfg.Audio {
		mode = session.ModeAudio
	}

	var source capture.Source = &capture.SoxSource{Logger: logger.Named("mic")}
	if file != "" {
		source = &capture.FileSource{Path: file, Logger: logger.Named("file")}
	}

	return session.Config{
		UserID: cfg.UserID,
		Mode:   mode,
		Tokens: tokenProvider(cfg),
		Transport: transport.Options{
			BaseURL:        cfg.ServerURL,
			ReconnectDelay: cfg.ReconnectDelay,
			TokenPlacement: transport.TokenPlacement(cfg.TokenPlacement),
		},
		Source: source,
		CaptureOptions: []capture.Option{
			capture.WithFlushInterval(cfg.FlushInterval),
			capture.WithMaxBufferSize(cfg.MaxBufferSize),
		},
		Sink: &playback.SoxSink{Logger: logger.Named("speaker")},
		PlaybackOptions: []playback.Option{
			playback.WithPeriod(cfg.PlaybackPeriod),
		},
		History: store,
		Logger:  logger,
	}
}

// tokenProvider prefers a token file, then a static token. No token at all
// connects without one.
func tokenProvider(cfg *config.Config) transport.TokenProvider {
	switch {
	case cfg.TokenFile != "":
		return transport.FileToken{Path: cfg.TokenFile}
	case cfg.Token != "":
		return transport.StaticToken(cfg.Token)
	default:
		return nil
	}
}
