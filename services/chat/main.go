// Terminal chat client: opens one conversation over the shared broker
// connection, seeds the backlog from the history API and bridges stdin to
// the realtime channel. Stand-in for the mobile conversation screen.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/courierchat/internal/auth"
	"github.com/courierchat/internal/chat"
	"github.com/courierchat/internal/config"
	"github.com/courierchat/internal/history"
	"github.com/courierchat/internal/logger"
	"github.com/courierchat/internal/model"
	"github.com/courierchat/internal/mqtt"
)

func main() {
	logger.SetPrefix("chat")
	defer logger.Sync()

	roomID := flag.String("room", "", "conversation room id (defaults to errand:<user>:<peer>)")
	userID := flag.String("user", "", "current user id")
	name := flag.String("name", "", "current user display name")
	role := flag.String("role", "customer", "current user role: customer or driver")
	peerID := flag.String("peer", "", "peer user id")
	peerName := flag.String("peer-name", "", "peer display name")
	token := flag.String("token", "", "bearer token (skips the dev login)")
	flag.Parse()

	if *userID == "" || *peerID == "" {
		fmt.Fprintln(os.Stderr, "usage: chat -user <id> -peer <id> [-room <id>] [-role customer|driver]")
		os.Exit(2)
	}
	room := *roomID
	if room == "" {
		room = fmt.Sprintf("errand:%s:%s", *userID, *peerID)
	}

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bearer := *token
	if bearer == "" {
		var err error
		bearer, err = history.Login(ctx, cfg.HistoryAPIURL, *userID, *name, model.Role(*role))
		if err != nil {
			logger.Errorf("login: %v", err)
			os.Exit(1)
		}
	}
	session, err := auth.SessionFromTokenUnverified(bearer)
	if err != nil {
		logger.Errorf("decode token: %v", err)
		os.Exit(1)
	}
	otherUser := model.UserPublic{ID: *peerID, Name: *peerName, Role: peerRole(session.Role)}

	reducer := chat.NewReducer(session, otherUser)
	histClient := history.NewClient(cfg.HistoryAPIURL, bearer)

	reducer.SetDetail(chat.DetailLoading, "")
	if err := seedBacklog(ctx, histClient, reducer, room, session, otherUser); err != nil {
		logger.Errorf("history: %v (continuing without backlog)", err)
		reducer.SetDetail(chat.DetailFailure, err.Error())
	} else {
		reducer.SetDetail(chat.DetailSuccess, "")
	}
	for _, m := range reducer.Snapshot().Messages {
		printMessage(session, otherUser, m)
	}

	provider := mqtt.NewProvider(cfg.Broker)
	if err := provider.Connect(ctx); err != nil {
		logger.Errorf("broker connect: %v", err)
		os.Exit(1)
	}
	defer provider.Disconnect()

	channel := chat.NewChannel(provider, chat.NewTopicNamer(cfg.Broker.TopicPrefix), cfg.Broker.QoS)
	channel.Open(room, session.UserID, otherUser.ID)
	defer channel.Close()

	cancelMessages := channel.ListenMessages(func(m model.Message) {
		reducer.ApplyIncoming(m)
		printMessage(session, otherUser, m)
	})
	defer cancelMessages()
	cancelTyping := channel.ListenTyping(func(isTyping bool) {
		reducer.ApplyTyping(isTyping)
		if isTyping {
			fmt.Printf("\r%s is typing...\n> ", displayName(otherUser))
		}
	})
	defer cancelTyping()

	logger.Infof("joined room=%s as user=%s client_id=%s", room, session.UserID, provider.ClientID())
	fmt.Println("commands: /typing toggles the typing flag, /quit exits")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go readInput(channel, reducer, histClient, session, room, quit)

	<-quit
	logger.Info("shutting down")
}

// seedBacklog makes sure the room exists and loads the persisted messages
// into the reducer before realtime delivery starts.
func seedBacklog(ctx context.Context, hist *history.Client, reducer *chat.Reducer, roomID string, session model.Session, otherUser model.UserPublic) error {
	room := model.Room{
		ID: roomID,
		Members: []model.UserPublic{
			{ID: session.UserID, Name: session.Name, Role: session.Role},
			otherUser,
		},
	}
	if err := hist.EnsureRoom(ctx, room); err != nil {
		return err
	}
	messages, err := hist.Messages(ctx, roomID)
	if err != nil {
		return err
	}
	reducer.SeedHistory(messages)
	return nil
}

// readInput bridges stdin lines to the realtime channel. Each send is
// optimistic: the reducer shows it immediately, the publish result decides
// whether it lands in the failed set, and successful sends are mirrored to
// history so the peer's next backlog fetch includes them.
func readInput(channel *chat.Channel, reducer *chat.Reducer, hist *history.Client, session model.Session, roomID string, quit chan<- os.Signal) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		text := scanner.Text()
		switch text {
		case "":
			fmt.Print("> ")
			continue
		case "/quit":
			quit <- syscall.SIGTERM
			return
		case "/typing":
			next := !reducer.Snapshot().IsCurrentUserTyping
			payload := roomID
			if !next {
				payload = ""
			}
			if err := channel.NotifyTyping(payload); err != nil {
				logger.Errorf("typing publish: %v", err)
			} else {
				reducer.SetCurrentUserTyping(next)
			}
			fmt.Print("> ")
			continue
		}

		m := model.Message{
			ID:        uuid.NewString(),
			RoomID:    roomID,
			UserID:    session.UserID,
			Body:      text,
			CreatedAt: time.Now().UTC(),
		}
		reducer.BeginSend(m)
		err := channel.NotifyMessage(m)
		reducer.FinishSend(m.ID, err)
		if err != nil {
			logger.Errorf("send failed: %v", err)
			fmt.Print("> ")
			continue
		}
		// Sending a message implies the user stopped typing.
		if reducer.Snapshot().IsCurrentUserTyping {
			if err := channel.NotifyTyping(""); err == nil {
				reducer.SetCurrentUserTyping(false)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := hist.SaveMessage(ctx, m); err != nil {
			logger.Errorf("history mirror: %v", err)
		}
		cancel()
		fmt.Print("> ")
	}
	quit <- syscall.SIGTERM
}

func printMessage(session model.Session, otherUser model.UserPublic, m model.Message) {
	who := m.UserID
	switch m.UserID {
	case session.UserID:
		who = "you"
	case otherUser.ID:
		who = displayName(otherUser)
	}
	fmt.Printf("\r[%s] %s: %s\n> ", m.CreatedAt.Local().Format("15:04"), who, m.Body)
}

func displayName(u model.UserPublic) string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

// peerRole guesses the counterpart's role for display when it is not known.
func peerRole(own model.Role) model.Role {
	if own == model.RoleDriver {
		return model.RoleCustomer
	}
	return model.RoleDriver
}
