// Command letschat-client is a terminal client for one conversation. It
// reads lines from stdin, sends each as a message to the peer given as the
// only argument, and prints the thread as push events arrive.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"letschat/internal/client"
	"letschat/internal/config"
	"letschat/internal/logging"
	"letschat/internal/models"
)

func main() {
	logging.Init("warn")
	log := logging.New("letschat-client")

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: letschat-client <peer-user-id>")
		os.Exit(2)
	}
	peerID := os.Args[1]

	conf, err := config.LoadClient()
	if err != nil {
		log.WithError(err).Fatal("failed to load client config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewAPI(conf.BaseURL, conf.Token, nil)

	var session *client.Session
	sock, err := client.NewSocket(wsURL(conf.BaseURL), conf.Token, conf.UserID, func(ev models.Event) {
		if err := session.Apply(ctx, ev); err != nil {
			log.WithError(err).Debug("apply event")
		}
		render(session.Thread(peerID))
	}, conf.ReconnectDelay)
	if err != nil {
		log.WithError(err).Fatal("invalid push channel url")
	}
	session, err = client.NewSession(api, sock, conf.UserID, client.Options{
		CachedPeers:  conf.CachedPeers,
		SeenTTL:      conf.SeenIDTTL,
		PollInterval: conf.PollInterval,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to build session")
	}

	go func() {
		if err := sock.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("push channel stopped")
		}
	}()
	go session.Poll(ctx)

	thread, err := session.Open(ctx, peerID, render)
	if err != nil {
		log.WithError(err).Fatal("failed to open conversation")
	}
	render(thread)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = sock.GoingOffline()
			return
		case line, ok := <-lines:
			if !ok {
				_ = sock.GoingOffline()
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if _, err := session.Send(ctx, client.SendRequest{RecipientID: peerID, Content: line}); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
			render(session.Thread(peerID))
		}
	}
}

func wsURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func render(thread []client.Entry) {
	const tail = 20
	if len(thread) > tail {
		thread = thread[len(thread)-tail:]
	}
	fmt.Print("\033[H\033[2J")
	for _, e := range thread {
		mark := string(e.Message.Status)
		if e.State != client.StateConfirmed {
			mark = string(e.State)
		}
		fmt.Printf("%s %-9s %s: %s\n", e.Message.CreatedAt.Local().Format("15:04"), mark, e.Message.SenderID, e.Message.Content)
	}
}
