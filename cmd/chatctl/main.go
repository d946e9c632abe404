package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"tutorlink/chat/internal/chat"
	"tutorlink/chat/internal/config"
	"tutorlink/chat/internal/historyapi"
	"tutorlink/chat/internal/identity"
	"tutorlink/chat/internal/models"
	"tutorlink/chat/internal/realtime"
	"tutorlink/chat/internal/storage"
	"tutorlink/chat/pkg/logger"
)

const usage = `Usage: chatctl <command> [args]

Commands:
  conversations                     list conversations, most recent first
  history <conversationId>          print a conversation's messages
  send <conversationId> <text>      send a message over the live channel
  archive <conversationId>          print messages from the local archive
  watch                             follow chat views published by chatd
  token <userId> [role]             sign a development token with CHAT_JWT_SECRET`

type app struct {
	cfg     *config.Config
	log     *logger.Logger
	session *identity.Session
	api     *historyapi.Client
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := logger.New("warn")
	if err != nil {
		log = logger.NewNop()
	}

	session := identity.NewSession(cfg.JWTSecret)
	a := &app{
		cfg:     cfg,
		log:     log,
		session: session,
		api:     historyapi.New(cfg.APIBaseURL, cfg.HTTPTimeout, session.Token, log),
	}

	command, args := os.Args[1], os.Args[2:]
	switch command {
	case "conversations":
		err = a.conversations(ctx)
	case "history":
		err = withID(args, 1, func(id int64) error { return a.history(ctx, id) })
	case "send":
		if len(args) < 2 {
			err = errUsage
			break
		}
		err = withID(args[:1], 1, func(id int64) error {
			return a.send(ctx, id, strings.Join(args[1:], " "))
		})
	case "archive":
		err = withID(args, 1, func(id int64) error { return a.archive(ctx, id) })
	case "watch":
		err = a.watch(ctx)
	case "token":
		err = a.token(args)
	default:
		err = fmt.Errorf("unknown command %q", command)
	}

	if errors.Is(err, errUsage) {
		fmt.Println(usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func withID(args []string, n int, fn func(int64) error) error {
	if len(args) != n {
		return errUsage
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid conversation id %q", args[0])
	}
	return fn(id)
}

func (a *app) login(ctx context.Context) (*models.Identity, error) {
	token := identity.LoadToken(a.cfg.Token, a.cfg.TokenFile)
	if token == "" {
		return nil, errors.New("no token: set CHAT_TOKEN or CHAT_TOKEN_FILE")
	}
	return a.session.Login(ctx, token, a.api)
}

func (a *app) conversations(ctx context.Context) error {
	if _, err := a.login(ctx); err != nil {
		return err
	}
	list, err := a.api.Conversations(ctx)
	if err != nil {
		return err
	}

	dir := chat.NewDirectory()
	dir.Replace(list)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPARTNER\tLAST MESSAGE\tAT")
	for _, c := range dir.List() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.ID, c.PartnerName, c.LastMessage, stamp(c.LastMessageAt))
	}
	return w.Flush()
}

func (a *app) history(ctx context.Context, id int64) error {
	me, err := a.login(ctx)
	if err != nil {
		return err
	}
	msgs, err := a.api.Messages(ctx, id)
	if err != nil {
		return err
	}
	printMessages(me.ID, msgs)
	return nil
}

// send drives the same chat loop chatd runs: bind, load, select, send.
func (a *app) send(ctx context.Context, id int64, text string) error {
	manager := realtime.NewManager(realtime.Options{URL: a.cfg.SocketURL}, a.session.Token, a.log)
	orch := chat.New(a.api, manager, chat.Options{AckTimeout: a.cfg.AckTimeout}, a.log)
	manager.SetHandler(orch)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = orch.Run(loopCtx) }()
	defer manager.Unbind()

	me, err := a.login(ctx)
	if err != nil {
		return err
	}
	if err := orch.SetIdentity(ctx, me); err != nil {
		return err
	}
	if err := orch.SelectConversation(ctx, id); err != nil {
		return err
	}

	msg, err := orch.Send(ctx, text)
	if err != nil {
		return err
	}
	fmt.Printf("sent #%d at %s\n", msg.ID, stamp(msg.CreatedAt))
	return nil
}

func (a *app) archive(ctx context.Context, id int64) error {
	if a.cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is not set")
	}
	db, err := storage.OpenPostgres(a.cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	store := storage.NewStorageService(db, nil)

	msgs, err := store.Messages(ctx, id)
	if err != nil {
		return err
	}
	var me int64
	if _, err := a.login(ctx); err == nil {
		me = a.session.Current().ID
	}
	printMessages(me, msgs)
	return nil
}

func (a *app) watch(ctx context.Context) error {
	if a.cfg.RedisAddr == "" {
		return errors.New("REDIS_ADDR is not set")
	}
	me, err := a.login(ctx)
	if err != nil {
		return err
	}
	rdb, err := storage.OpenRedis(ctx, a.cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	sub := storage.NewStorageService(nil, rdb).SubscribeViews(ctx, me.ID)
	defer sub.Close()

	fmt.Printf("watching %s\n", storage.ViewChannel(me.ID))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			fmt.Println(msg.Payload)
		}
	}
}

func (a *app) token(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	if a.cfg.JWTSecret == "" {
		return errors.New("CHAT_JWT_SECRET is not set")
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || userID <= 0 {
		return fmt.Errorf("invalid user id %q", args[0])
	}
	role := models.RoleStudent
	if len(args) == 2 {
		role = args[1]
	}

	token, err := identity.Sign(&models.Identity{ID: userID, Role: role}, a.cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func printMessages(me int64, msgs []models.Message) {
	for _, m := range msgs {
		who := strconv.FormatInt(m.SenderID, 10)
		if m.SenderID == me {
			who = "me"
		}
		fmt.Printf("[%s] %s: %s\n", stamp(m.CreatedAt), who, m.Text)
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
