// Command wsreactor-echo runs a minimal echo server: every text or
// binary message a client sends is written straight back.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/coregx/wsreactor/wsconn"
	"github.com/coregx/wsreactor/wslog"
	"github.com/coregx/wsreactor/wsproto"
	"github.com/coregx/wsreactor/wsserver"
)

func main() {
	cmd := &cli.Command{
		Name:  "wsreactor-echo",
		Usage: "WebSocket echo server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "", Usage: "bind address"},
			&cli.IntFlag{Name: "port", Value: 8080, Usage: "listen port"},
			&cli.IntFlag{Name: "max-clients", Value: 1024, Usage: "max concurrent connections"},
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
	opts.Logger = &log
	opts.Handlers = wsconn.Callbacks{
		OnOpen: func(e *wsconn.Endpoint) {
			log.Info().Str("conn_id", e.ID()).Msg("client connected")
		},
		OnMessage: func(e *wsconn.Endpoint, mt wsproto.MessageType, payload []byte) {
			if err := e.SendMessage(mt, payload); err != nil {
				log.Warn().Str("conn_id", e.ID()).Err(err).Msg("echo write failed")
			}
		},
		OnClose: func(e *wsconn.Endpoint, code wsproto.CloseCode, reason string) {
			log.Info().Str("conn_id", e.ID()).Int("code", int(code)).Msg("client disconnected")
		},
	}

	srv, err := wsserver.New(opts)
	if err != nil {
		return err
	}
	defer srv.Close()

	log.Info().Int("port", int(cmd.Int("port"))).Msg("wsreactor-echo listening")
	return srv.Listen()
}
