// Command wsreactor-chat runs a broadcast chat server: every message a
// client sends is relayed as JSON to every connected client (the sender
// included),
// with join/leave notifications.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/coregx/wsreactor/wsconn"
	"github.com/coregx/wsreactor/wslog"
	"github.com/coregx/wsreactor/wsproto"
	"github.com/coregx/wsreactor/wsserver"
)

// chatMessage is the broadcast wire format: a tagged union of
// join/message/leave events.
type chatMessage struct {
	Type      string    `json:"type"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func main() {
	cmd := &cli.Command{
		Name:  "wsreactor-chat",
		Usage: "WebSocket broadcast chat server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "", Usage: "bind address"},
			&cli.IntFlag{Name: "port", Value: 8080, Usage: "listen port"},
			&cli.IntFlag{Name: "max-clients", Value: 1024, Usage: "max concurrent connections"},
			&cli.IntFlag{Name: "heartbeat-ms", Value: 30_000, Usage: "heartbeat interval in ms, 0 disables"},
			&cli.BoolFlag{Name: "pretty-log", Usage: "human-readable console logging, instead of JSON"},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log := wslog.New(os.Stderr, zerolog.InfoLevel)
	if cmd.Bool("pretty-log") {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	opts := wsserver.NewOptions(cmd.String("addr"), int(cmd.Int("port")))
	opts.MaxClients = int(cmd.Int("max-clients"))
	opts.HeartbeatIntervalMS = cmd.Int("heartbeat-ms")
	opts.HeartbeatTTLMS = cmd.Int("heartbeat-ms")
	opts.Logger = &log

	var srv *wsserver.Server
	opts.Handlers = wsconn.Callbacks{
		OnOpen: func(e *wsconn.Endpoint) {
			username := "guest-" + uuid.NewString()[:8]
			e.SetUserData(username)
			log.Info().Str("conn_id", e.ID()).Str("username", username).Msg("user joined")
			broadcastEvent(srv, "join", username, username+" joined the chat")
		},
		OnMessage: func(e *wsconn.Endpoint, mt wsproto.MessageType, payload []byte) {
			if mt != wsproto.TextMessage {
				return
			}
			username, _ := e.UserData().(string)
			broadcastEvent(srv, "message", username, string(payload))
		},
		OnClose: func(e *wsconn.Endpoint, code wsproto.CloseCode, reason string) {
			username, _ := e.UserData().(string)
			log.Info().Str("conn_id", e.ID()).Str("username", username).Msg("user left")
			broadcastEvent(srv, "leave", username, username+" left the chat")
		},
	}

	var err error
	srv, err = wsserver.New(opts)
	if err != nil {
		return err
	}
	defer srv.Close()

	log.Info().Str("port", strconv.Itoa(int(cmd.Int("port")))).Msg("wsreactor-chat listening")
	return srv.Listen()
}

func broadcastEvent(srv *wsserver.Server, kind, username, text string) {
	if srv == nil {
		return
	}
	msg := chatMessage{Type: kind, Username: username, Text: text, Timestamp: time.Now()}
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	srv.BroadcastText(string(body))
}
