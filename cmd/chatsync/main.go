// Command chatsync is a terminal chat client for the Lotmarket dev
// backend: it logs in, opens one conversation and synchronizes it live.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mbeoliero/kit/log"

	"github.com/lotmarket/chatsync/internal/channel"
	"github.com/lotmarket/chatsync/internal/config"
	"github.com/lotmarket/chatsync/internal/engine"
	"github.com/lotmarket/chatsync/internal/identity"
	"github.com/lotmarket/chatsync/internal/model"
	"github.com/lotmarket/chatsync/internal/rest"
)

func main() {
	ctx := context.Background()

	configPath := flag.String("config", "config/config.yaml", "path to config file")
	userId := flag.String("user", "u_anna", "dev account user id")
	password := flag.String("password", "password123", "dev account password")
	convId := flag.String("conversation", "conv_1", "conversation to open")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.CtxError(ctx, "failed to load config: %v", err)
		os.Exit(1)
	}

	api, err := rest.NewClient(cfg.API)
	if err != nil {
		log.CtxError(ctx, "create rest client: %v", err)
		os.Exit(1)
	}

	login, err := api.Login(ctx, *userId, *password)
	if err != nil {
		log.CtxError(ctx, "login: %v", err)
		os.Exit(1)
	}

	sess, err := identity.FromToken(login.Token)
	if err != nil {
		log.CtxError(ctx, "bad token: %v", err)
		os.Exit(1)
	}

	ch := channel.New(cfg.Channel, sess)
	if err := ch.Connect(ctx); err != nil {
		log.CtxError(ctx, "connect channel: %v", err)
		os.Exit(1)
	}
	defer ch.Close()

	eng := engine.New(api, ch, sess, cfg.Typing.StopAfter)
	session, err := eng.Open(ctx, *convId)
	if err != nil {
		log.CtxError(ctx, "open conversation: %v", err)
		os.Exit(1)
	}
	defer session.Close()

	printHeader(session, sess)
	for _, m := range session.Messages() {
		printMessage(sess, m)
	}

	// Render straight off the channel; the session keeps the store and
	// read receipts in sync on its own subscriptions.
	renderSub := ch.OnNewMessage(func(ev channel.NewMessageEvent) {
		if ev.Message.ConversationId == *convId {
			printMessage(sess, ev.Message)
		}
	})
	defer renderSub.Close()

	typingSub := ch.OnTypingStart(func(ev channel.TypingEvent) {
		if ev.ConversationId == *convId && !sess.IsSelf(ev.UserId) {
			fmt.Printf("  * %s is typing...\n", ev.UserName)
		}
	})
	defer typingSub.Close()

	stateSub := ch.OnStateChange(func(st channel.State) {
		fmt.Printf("  * channel %s\n", st)
	})
	defer stateSub.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			session.InputCleared()
			continue
		}
		if line == "/quit" {
			return
		}
		if err := session.Send(line); err != nil {
			fmt.Printf("  ! send failed: %v\n", err)
		}
	}
}

func printHeader(session *engine.Session, sess *identity.Session) {
	conv := session.Conversation()
	other := session.Other()
	fmt.Printf("-- conversation %s with %s --\n", conv.ConversationId, other.Nickname)
	if l := session.Listing(); l != nil {
		fmt.Printf("-- listing: %s (%d %s, %s) --\n", l.Title, l.Price, l.Currency, l.Status)
		if !session.ContactEnabled() {
			fmt.Println("-- listing no longer available; contact actions disabled --")
		}
	}
}

func printMessage(sess *identity.Session, m model.Message) {
	who := m.SenderName
	if sess.IsSelf(m.SenderId) {
		who = "you"
	}
	switch m.MsgType {
	case model.MsgTypeAudio:
		fmt.Printf("[%s] (voice message) %s\n", who, m.Attachment)
	case model.MsgTypeDeleted:
		fmt.Printf("[%s] (message deleted)\n", who)
	default:
		fmt.Printf("[%s] %s\n", who, m.Content)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}
