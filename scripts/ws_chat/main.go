package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/parleychat/parley/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	nick := flag.String("nick", "cli-user", "nick to connect with")
	channel := flag.String("channel", "general", "channel to join")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(typ string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		return wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload})
	}

	if err := send(proto.InboundTypeHello, proto.HelloData{Nick: *nick, Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}
	if err := send(proto.InboundTypeJoin, proto.JoinData{Channel: *channel}); err != nil {
		return err
	}

	go func() {
		defer cancel()
		for {
			var outbound proto.Outbound
			if err := wsjson.Read(ctx, conn, &outbound); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Printf("read: %v", err)
				}
				return
			}
			switch outbound.Type {
			case proto.OutboundTypeWelcome:
				fmt.Printf("* connected as %s\n", *nick)
			case proto.OutboundTypeError:
				fmt.Printf("! %s: %s\n", outbound.Error.Code, outbound.Error.Msg)
			default:
				raw, _ := json.Marshal(outbound.Data)
				var msg proto.EventMessage
				if err := json.Unmarshal(raw, &msg); err == nil && msg.Text != "" {
					fmt.Printf("[%s] %s: %s\n", msg.Channel, msg.From, msg.Text)
				}
			}
		}
	}()

	fmt.Printf("type to chat in #%s, /quit to exit\n", *channel)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}
		if err := send(proto.InboundTypeMsg, proto.MsgData{Channel: *channel, Text: line}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
	return scanner.Err()
}
