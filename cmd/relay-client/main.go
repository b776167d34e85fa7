package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"relaychat.com/internal/client/command"
	"relaychat.com/internal/client/reconnect"
	"relaychat.com/pkg/logger"
)

// relay-client keeps one socket to the gateway, prints every command it
// receives and sends each stdin line as a frame.
func main() {
	var (
		addr  = flag.String("url", "ws://127.0.0.1:8080/ws", "gateway websocket url")
		token = flag.String("token", os.Getenv("RELAY_TOKEN"), "bearer token")
		room  = flag.String("room", "", "room to enter on every open")
		level = flag.String("log", "warn", "log level")
	)
	flag.Parse()
	logger.InitWithFile("relay-client", *level, "-")
	defer logger.Sync()

	u, err := url.Parse(*addr)
	if err != nil {
		log.Fatalf("bad url: %v", err)
	}
	q := u.Query()
	q.Set("token", *token)
	u.RawQuery = q.Encode()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	show := func(cmd command.Command) { fmt.Println(string(cmd.Raw)) }
	c := reconnect.New(ctx, u.String(), reconnect.WithStateHook(func(s reconnect.State) {
		fmt.Fprintf(os.Stderr, "[%s]\n", s)
	}))
	c.SelectRoom(*room)
	c.Connect(&command.Handlers{
		RoomsList:      show,
		RoomsGet:       show,
		RoomEnter:      show,
		RoomMessages:   show,
		MessageCreated: show,
		UserNew:        show,
		UserInfo:       show,
		Error:          show,
	})
	defer c.Close()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := c.Send(sctx, []byte(line)); err != nil {
				fmt.Fprintf(os.Stderr, "send: %v\n", err)
			}
			cancel()
		}
	}
}
