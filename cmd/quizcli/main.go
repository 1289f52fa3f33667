package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/quizarena/syncengine/internal/config"
	"github.com/quizarena/syncengine/internal/engine"
	"github.com/quizarena/syncengine/internal/gameserver"
	"github.com/quizarena/syncengine/internal/gateway"
	"github.com/quizarena/syncengine/pkg/types"
)

func main() {
	local := flag.Bool("local", false, "run an embedded game server on :8080")
	cfgPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	if *local {
		srv := gameserver.New(logger.Named("gameserver"))
		go func() {
			logger.Info("embedded game server listening on :8080")
			if err := http.ListenAndServe(":8080", srv.Handler()); err != nil {
				logger.Fatal("game server", zap.Error(err))
			}
		}()
	}

	eng := engine.New(cfg, logger)
	defer eng.Close()

	ctx := context.Background()
	if err := eng.Connect(ctx); err != nil {
		logger.Warn("initial connect failed, supervisor will retry", zap.Error(err))
	}

	go func() {
		for snap := range eng.Snapshots("cli") {
			st := snap.State
			fmt.Printf("[v%d] conn=%s room=%q phase=%s players=%d\n",
				snap.Version, st.Conn, st.Session.RoomCode, st.Phase, len(st.Players))
			if st.Question != nil {
				fmt.Printf("      Q%d: %s %v\n", st.Question.Index, st.Question.Text, st.Question.Options)
			}
		}
	}()

	repl(ctx, eng)
}

func repl(ctx context.Context, eng *engine.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: rooms | create <name> | join <code> <name> | start | next | answer <text> | leave | state | quit")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "rooms":
			rooms, err := eng.Gateway().GetActiveRooms(ctx)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, r := range rooms {
				fmt.Printf("  %s host=%s players=%d\n", r.RoomCode, r.HostName, r.PlayerCount)
			}

		case "create":
			if len(fields) < 2 {
				fmt.Println("usage: create <name>")
				continue
			}
			err := eng.CreateRoom(ctx, fields[1], 0, "", types.RoomSettings{
				QuestionCount:      10,
				SecondsPerQuestion: 20,
			})
			if err != nil {
				fmt.Println("error:", err)
			}

		case "join":
			if len(fields) < 3 {
				fmt.Println("usage: join <code> <name>")
				continue
			}
			if err := eng.JoinRoom(ctx, fields[1], fields[2], 0, ""); err != nil {
				fmt.Println("error:", err)
			}

		case "start":
			sess := eng.View().State.Session
			if err := eng.Gateway().StartGame(ctx, sess.RoomCode); err != nil {
				fmt.Println("error:", err)
			}

		case "next":
			sess := eng.View().State.Session
			if err := eng.Gateway().NextQuestion(ctx, sess.RoomCode); err != nil {
				fmt.Println("error:", err)
			}

		case "answer":
			if len(fields) < 2 {
				fmt.Println("usage: answer <text>")
				continue
			}
			sess := eng.View().State.Session
			err := eng.Gateway().SubmitAnswer(ctx, gateway.SubmitAnswerRequest{
				RoomCode: sess.RoomCode,
				PlayerID: sess.PlayerID,
				Answer:   strings.Join(fields[1:], " "),
			})
			if err != nil {
				fmt.Println("error:", err)
			}

		case "leave":
			if err := eng.LeaveRoom(ctx); err != nil {
				fmt.Println("error:", err)
			}

		case "state":
			v := eng.View()
			fmt.Printf("version=%d state=%+v\n", v.Version, v.State)

		case "quit":
			eng.Disconnect()
			return

		default:
			fmt.Println("unknown command")
		}
	}
}
