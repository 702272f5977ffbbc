// Command chatclient is a terminal client for the chat server. Lines typed on
// stdin are sent as chat messages (commands such as /nick work as typed) and
// everything the server broadcasts is printed to stdout.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/mcp-training/chatroom/chat/message"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "chatclient",
		Usage: "Join a chat room from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "WebSocket endpoint of the chat server",
				Value:   "ws://localhost:8080/ws",
				Sources: cli.EnvVars("CHAT_URL"),
			},
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "Display name (the server assigns one when empty)",
				Sources: cli.EnvVars("CHAT_NAME"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "chatclient: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	target, err := dialURL(cmd.String("url"), cmd.String("name"))
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	defer conn.CloseNow()

	return chat(ctx, conn, os.Stdin, os.Stdout)
}

// dialURL adds the display name to the endpoint's query string.
func dialURL(endpoint, name string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid url %q: scheme must be ws or wss", endpoint)
	}

	if name = strings.TrimSpace(name); name != "" {
		q := u.Query()
		q.Set("name", name)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// chat relays lines from in to conn and messages from conn to out. It returns
// nil when in reaches EOF or the server closes normally.
func chat(ctx context.Context, conn *websocket.Conn, in io.Reader, out io.Writer) error {
	g, ctx := errgroup.WithContext(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var leaving atomic.Bool

	g.Go(func() error {
		for {
			var msg message.ChatMessage
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return err
			}
			fmt.Fprintln(out, formatMessage(msg))
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					leaving.Store(true)
					return conn.Close(websocket.StatusNormalClosure, "bye")
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if err := wsjson.Write(ctx, conn, message.Envelope{Message: &line}); err != nil {
					return err
				}
			}
		}
	})

	err := g.Wait()
	if leaving.Load() || errors.Is(err, context.Canceled) {
		return nil
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	return err
}

func formatMessage(msg message.ChatMessage) string {
	ts := msg.Timestamp.Format("15:04:05")
	switch msg.Kind {
	case message.KindSystem:
		return fmt.Sprintf("[%s] * %s", ts, msg.Body)
	case message.KindError:
		return fmt.Sprintf("[%s] ! %s", ts, msg.Body)
	default:
		return fmt.Sprintf("[%s] %s: %s", ts, msg.Sender, msg.Body)
	}
}
