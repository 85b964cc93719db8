// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/boardhost/client"
	"github.com/bureau-foundation/boardhost/eventbridge"
	"github.com/bureau-foundation/boardhost/lib/config"
	"github.com/bureau-foundation/boardhost/lib/ref"
	"github.com/bureau-foundation/boardhost/lib/version"
	"github.com/bureau-foundation/boardhost/lifecycle"
	"github.com/bureau-foundation/boardhost/widgetapi"
)

// maxLoginAttempts bounds how often the user is asked to paste a
// callback URL before boardhost gives up.
const maxLoginAttempts = 3

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	homeserver  string
	autoStart   bool
	backend     string
	storagePath string
	sealed      bool
	logLevel    string
	logFormat   string
	room        string
	watchType   string
	logout      bool
	callbackURL string
}

func parseFlags(args []string) (*options, *pflag.FlagSet, error) {
	var opts options
	flagSet := pflag.NewFlagSet("boardhost", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&opts.homeserver, "homeserver", "", "homeserver URL to log in to")
	flagSet.BoolVar(&opts.autoStart, "auto-start", false, "start a login immediately when no session exists")
	flagSet.StringVar(&opts.backend, "storage", "", "credential storage backend: memory, dir, or sqlite")
	flagSet.StringVar(&opts.storagePath, "storage-path", "", "storage directory (dir) or database file (sqlite)")
	flagSet.BoolVar(&opts.sealed, "sealed", false, "encrypt stored credentials with an age identity")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, or error")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	flagSet.StringVar(&opts.room, "room", "", "room ID to open the board in (default: all joined rooms)")
	flagSet.StringVar(&opts.watchType, "event-type", "m.room.message", "room event type to follow")
	flagSet.BoolVar(&opts.logout, "logout", false, "log out of the stored session and exit")
	flagSet.Bool("version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		return nil, flagSet, err
	}
	switch rest := flagSet.Args(); len(rest) {
	case 0:
	case 1:
		opts.callbackURL = rest[0]
	default:
		return nil, flagSet, fmt.Errorf("unexpected argument: %s", rest[1])
	}
	return &opts, flagSet, nil
}

// loadConfig reads the config file, or the defaults when none is named,
// and applies the flags the user set.
func loadConfig(opts *options, flagSet *pflag.FlagSet) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	if flagSet.Changed("homeserver") {
		cfg.Homeserver.URL = opts.homeserver
	}
	if flagSet.Changed("auto-start") {
		cfg.Homeserver.AutoStartLogin = opts.autoStart
	}
	if flagSet.Changed("storage") {
		cfg.Storage.Backend = opts.backend
	}
	if flagSet.Changed("storage-path") {
		cfg.Storage.Path = opts.storagePath
	}
	if flagSet.Changed("sealed") {
		cfg.Storage.Sealed = opts.sealed
	}
	if flagSet.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.Logging.Format = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, output io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handlerOptions := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(output, handlerOptions))
	}
	return slog.New(slog.NewTextHandler(output, handlerOptions))
}

// echoTimeout maps the file's zero (wait for the caller) onto the
// bridge's negative value.
func echoTimeout(cfg config.BridgeConfig) time.Duration {
	if cfg.EchoTimeout == 0 {
		return -1
	}
	return cfg.EchoTimeout.Std()
}

func run(args []string) error {
	opts, flagSet, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion, _ := flagSet.GetBool("version"); showVersion {
		version.Print("boardhost")
		return nil
	}

	cfg, err := loadConfig(opts, flagSet)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	storage, closeStorage, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			logger.Warn("closing credential storage failed", "error", err)
		}
	}()

	pageURL := cfg.OIDC.RedirectURL
	if opts.callbackURL != "" {
		pageURL = opts.callbackURL
	}
	navigator, err := newTerminalNavigator(pageURL, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	controller, err := lifecycle.New(lifecycle.Config{
		Storage:       storage,
		Navigator:     navigator,
		HomeserverURL: cfg.Homeserver.URL,
		AutoStart:     cfg.Homeserver.AutoStartLogin,
		ClientName:    cfg.OIDC.ClientName,
		ClientURI:     cfg.OIDC.ClientURI,
		Client: client.Config{
			SyncTimeout:      cfg.Client.SyncTimeout.Std(),
			TURNRefreshFloor: cfg.Client.TURNRefreshFloor.Std(),
		},
		EchoTimeout: echoTimeout(cfg.Bridge),
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer controller.Destroy("")

	logger.Info("starting boardhost",
		"version", version.Info(),
		"homeserver_url", cfg.Homeserver.URL,
		"storage", cfg.Storage.Backend,
	)

	loggedIn, err := establishSession(ctx, controller, navigator, cfg.Homeserver.URL, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Logged in as %s (device %s) on %s\n", loggedIn.UserID, loggedIn.DeviceID, loggedIn.HomeserverURL)

	if opts.logout {
		return controller.Logout(ctx, "")
	}
	return runWidget(ctx, loggedIn, opts, logger)
}

// establishSession runs Start until a session is up, prompting the
// user for the callback URL of each login it begins.
func establishSession(ctx context.Context, controller *lifecycle.Controller, navigator *terminalNavigator, homeserverURL string, logger *slog.Logger) (*lifecycle.LoggedInState, error) {
	for attempt := 0; ; attempt++ {
		err := controller.Start(ctx)
		if errors.Is(err, lifecycle.ErrSessionInvalidated) {
			logger.Warn("stored session is no longer valid, log in again", "error", err)
		} else if err != nil {
			return nil, err
		}

		state := controller.State()
		logger.Debug("start finished", "phase", state.Phase.String(), "trail", state.Trail)
		if state.Phase == lifecycle.LoggedIn {
			return state.LoggedIn, nil
		}
		if attempt >= maxLoginAttempts {
			return nil, fmt.Errorf("not logged in after %d attempts", maxLoginAttempts)
		}
		if state.Phase == lifecycle.NotLoggedIn {
			if homeserverURL == "" {
				return nil, fmt.Errorf("not logged in; pass --homeserver or set homeserver.url to log in")
			}
			if err := controller.BeginLogin(ctx, ""); err != nil {
				return nil, fmt.Errorf("starting login: %w", err)
			}
		}
		if !navigator.awaitingCallback() {
			return nil, fmt.Errorf("login did not produce an authorization URL")
		}
		callback, err := promptCallbackURL(os.Stdin, os.Stderr)
		if err != nil {
			return nil, err
		}
		navigator.ReplaceURL(callback)
	}
}

// runWidget hands the session to the board widget and follows the
// events it would receive until ctx ends.
func runWidget(ctx context.Context, loggedIn *lifecycle.LoggedInState, opts *options, logger *slog.Logger) error {
	scope := widgetapi.AnyRoom()
	if opts.room != "" {
		roomID, err := ref.ParseRoomID(opts.room)
		if err != nil {
			return fmt.Errorf("--room: %w", err)
		}
		loggedIn.Widget.Resolve(roomID)
		params, err := loggedIn.Widget.Wait(ctx)
		if err != nil {
			return err
		}
		logger.Info("board opened", "room_id", params.RoomID, "user_id", params.UserID)
		scope = widgetapi.Rooms(params.RoomID)
	}

	go followTURN(ctx, loggedIn.Adapter, logger)

	stream := loggedIn.Bridge.ObserveRoomEvents(ctx, ref.EventType(opts.watchType), eventbridge.RoomFilter{Scope: scope})
	defer stream.Close()
	for event := range stream.Events() {
		logger.Info("room event",
			"room_id", event.RoomID,
			"event_id", event.EventID,
			"sender", event.Sender,
			"type", event.Type,
		)
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func followTURN(ctx context.Context, adapter *widgetapi.Adapter, logger *slog.Logger) {
	for server, err := range adapter.TURNServers(ctx) {
		if err != nil {
			logger.Warn("TURN credentials unavailable", "error", err)
			return
		}
		logger.Info("TURN credentials", "urls", server.URLs, "username", server.Username)
	}
}

func callbackFromString(raw string) (*url.URL, error) {
	callback, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("callback URL: %w", err)
	}
	if callback.Scheme != "http" && callback.Scheme != "https" {
		return nil, fmt.Errorf("callback URL %q: scheme must be http or https", raw)
	}
	query := callback.Query()
	if !query.Has("code") && !query.Has("loginToken") && !query.Has("error") {
		return nil, fmt.Errorf("callback URL carries no login response; paste the full URL the browser was redirected to")
	}
	return callback, nil
}
