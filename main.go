// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

// heyhi is a terminal chat client with persistent conversations and
// multi-backend completion fallback.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/loopmaster303/heyhihosted-sub000/internal/chat"
	"github.com/loopmaster303/heyhihosted-sub000/internal/config"
	"github.com/loopmaster303/heyhihosted-sub000/internal/gateway"
	"github.com/loopmaster303/heyhihosted-sub000/internal/kv"
	"github.com/loopmaster303/heyhihosted-sub000/internal/logging"
	"github.com/loopmaster303/heyhihosted-sub000/internal/migrate"
	"github.com/loopmaster303/heyhihosted-sub000/internal/model"
	"github.com/loopmaster303/heyhihosted-sub000/internal/store"
	"github.com/loopmaster303/heyhihosted-sub000/internal/title"
	"github.com/loopmaster303/heyhihosted-sub000/internal/util"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "heyhi: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to config.toml (default: <data dir>/config.toml)")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	logger, err := logging.New(*debug)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	if *configPath == "" {
		*configPath = filepath.Join(config.ExpandHome("~/.heyhi"), config.DefaultFileName)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	kvStore, err := kv.NewFileStore(cfg.KVDir())
	if err != nil {
		return err
	}
	bulk, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer bulk.Close()

	ctx := context.Background()

	// One-time legacy migration. A failed run is logged and retried on
	// the next start; the app keeps working on whatever migrated.
	if err := migrate.New(kvStore, bulk, logger).Run(ctx); err != nil {
		logger.Error("legacy migration incomplete", zap.Error(err))
	}

	gw := gateway.New(cfg.GatewayTargets(), logger)
	titles := title.New(cfg.Title.Endpoint, cfg.Title.Credential, logger)

	svc, err := chat.NewService(ctx, kvStore, bulk, gw, titles, chat.Settings{
		DefaultModel:    cfg.Chat.DefaultModel,
		DefaultStyle:    cfg.Chat.DefaultStyle,
		SystemPrompt:    cfg.Chat.SystemPrompt,
		UserDisplayName: cfg.Chat.UserDisplayName,
		Temperature:     cfg.Chat.Temperature,
		MaxTokens:       cfg.Chat.MaxTokens,
	}, logger)
	if err != nil {
		return err
	}
	defer svc.Close()
	svc.WithNotifier(consoleNotifier{})

	// Hot-reload backend targets on config edits.
	stopWatch, err := config.Watch(*configPath, logger, func(c *config.Config) {
		gw.SetTargets(c.GatewayTargets())
	})
	if err != nil {
		logger.Warn("config watching disabled", zap.Error(err))
	} else {
		defer stopWatch()
	}

	return repl(ctx, svc, cfg)
}

// consoleNotifier prints service events to the terminal.
type consoleNotifier struct{}

func (consoleNotifier) Notify(e chat.Event) {
	switch e.Kind {
	case chat.EventError:
		fmt.Printf("! %s\n", e.Message)
	case chat.EventTitleUpdated:
		fmt.Printf("* conversation titled %q\n", e.Message)
	default:
		fmt.Printf("* %s\n", e.Message)
	}
}

// =============================================================================
// REPL
// =============================================================================

const helpText = `Commands:
  /new               start a new conversation
  /list              list conversations
  /select <n>        switch to conversation number n from /list
  /rename <title>    rename the current conversation
  /delete            delete the current conversation
  /export            print the current conversation as Markdown
  /help              show this help
  /quit              exit`

func repl(ctx context.Context, svc *chat.Service, cfg *config.Config) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := filepath.Join(cfg.Storage.Dir, "input_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("heyhi - type /help for commands")

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := handleCommand(svc, input)
			if err != nil {
				fmt.Printf("! %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		conv, err := svc.SendMessage(ctx, input, chat.SendOptions{})
		if err != nil {
			if !errors.Is(err, chat.ErrBusy) {
				// The failure is already in the transcript and notified.
				continue
			}
			fmt.Println("! still waiting for the previous reply")
			continue
		}
		if last := conv.LastMessage(); last != nil {
			fmt.Println(last.Content)
		}
	}
}

func handleCommand(svc *chat.Service, input string) (quit bool, err error) {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Println(helpText)

	case "/new":
		conv := svc.StartNewChat()
		fmt.Printf("started %s\n", conv.ID)

	case "/list":
		for i, meta := range svc.List() {
			name := meta.Title
			if name == model.DefaultTitle {
				name = "(untitled)"
			}
			fmt.Printf("%2d. %s  [%d messages]  %s\n",
				i+1, util.TruncateRunes(name, 40), meta.MessageCount,
				meta.UpdatedAt.Format("2006-01-02 15:04"))
		}

	case "/select":
		metas := svc.List()
		n, convErr := strconv.Atoi(arg)
		if convErr != nil || n < 1 || n > len(metas) {
			return false, fmt.Errorf("usage: /select <1..%d>", len(metas))
		}
		conv, selErr := svc.SelectChat(metas[n-1].ID)
		if selErr != nil {
			return false, selErr
		}
		fmt.Printf("switched to %q\n", conv.Title)
		for _, msg := range conv.Messages {
			fmt.Printf("%s: %s\n", msg.Role.DisplayName(), util.TruncateRunes(msg.Content, 200))
		}

	case "/rename":
		active := svc.Active()
		if active == nil {
			return false, errors.New("no active conversation")
		}
		if renameErr := svc.RenameConversation(active.ID, arg); renameErr != nil {
			return false, renameErr
		}
		fmt.Println("renamed")

	case "/delete":
		active := svc.Active()
		if active == nil {
			return false, errors.New("no active conversation")
		}
		return false, svc.DeleteChat(active.ID, false)

	case "/export":
		active := svc.Active()
		if active == nil {
			return false, errors.New("no active conversation")
		}
		md, exportErr := svc.ExportMarkdown(active.ID)
		if exportErr != nil {
			return false, exportErr
		}
		fmt.Println(md)

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}
