// ABOUTME: Websocket probe client for poking a running livedesk server
// ABOUTME: Speaks either channel: customer connect-and-send or agent login-and-watch

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/2389/livedesk/internal/wire"
)

func main() {
	var (
		server   = flag.String("server", "ws://127.0.0.1:8080", "server base URL")
		tenantK  = flag.String("tenant", "", "tenant routing key (required)")
		agent    = flag.Bool("agent", false, "connect the agent channel instead of the customer one")
		username = flag.String("username", "", "agent username")
		password = flag.String("password", "", "agent password")
		name     = flag.String("name", "probe", "customer display name")
		message  = flag.String("message", "", "message to send after connecting")
	)
	flag.Parse()

	if *tenantK == "" {
		fmt.Fprintln(os.Stderr, "Error: --tenant is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	if *agent {
		err = runAgent(ctx, *server, *tenantK, *username, *password)
	} else {
		err = runCustomer(ctx, *server, *tenantK, *name, *message)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// inboundFrame is the union of event frames and acks.
type inboundFrame struct {
	Event   string          `json:"event"`
	AckID   int64           `json:"ack_id"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func dial(ctx context.Context, server, path, tenantKey string) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s%s?tenant=%s", server, path, tenantKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	color.Green("✓ connected to %s", url)
	return conn, nil
}

func send(conn *websocket.Conn, event string, ackID int64, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.WriteJSON(wire.Frame{Event: event, AckID: ackID, Data: raw})
}

// awaitAck reads frames until the ack arrives, printing events on the way.
func awaitAck(conn *websocket.Conn, ackID int64) (inboundFrame, error) {
	for {
		var f inboundFrame
		if err := conn.ReadJSON(&f); err != nil {
			return f, err
		}
		if f.AckID == ackID {
			if f.Code != 0 {
				return f, fmt.Errorf("ack %d failed: code=%d %s", ackID, f.Code, f.Message)
			}
			return f, nil
		}
		printFrame(f)
	}
}

func printFrame(f inboundFrame) {
	ts := color.HiBlackString(time.Now().Format("15:04:05"))
	switch f.Event {
	case wire.EventMessage:
		var msg wire.MessagePayload
		if json.Unmarshal(f.Data, &msg) == nil {
			fmt.Printf("%s %s %s: %s\n", ts, color.CyanString("msg"), msg.Sender, msg.Content)
			return
		}
	case wire.EventMessageError:
		fmt.Printf("%s %s %s\n", ts, color.RedString("err"), string(f.Data))
		return
	case wire.EventDuplicateLogin:
		fmt.Printf("%s %s session replaced by another connection\n", ts, color.YellowString("dup"))
		return
	}
	fmt.Printf("%s %s %s\n", ts, color.YellowString(f.Event), string(f.Data))
}

// watch prints every incoming frame until the context ends.
func watch(ctx context.Context, conn *websocket.Conn) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		var f inboundFrame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		printFrame(f)
	}
}

func runCustomer(ctx context.Context, server, tenantKey, name, message string) error {
	conn, err := dial(ctx, server, "/ws/customer", tenantKey)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := send(conn, wire.EventConnect, 1, wire.ConnectRequest{Name: name}); err != nil {
		return err
	}
	ack, err := awaitAck(conn, 1)
	if err != nil {
		return err
	}
	var result struct {
		ChatKey string          `json:"chat_key"`
		Talk    wire.TalkDetail `json:"talk"`
	}
	if err := json.Unmarshal(ack.Data, &result); err != nil {
		return fmt.Errorf("decoding connect ack: %w", err)
	}
	color.Green("✓ talk %d open, chat key %s", result.Talk.ID, result.ChatKey)

	if message != "" {
		if err := send(conn, wire.EventTalkSend, 2, wire.SendRequest{
			TalkID: result.Talk.ID, Type: wire.ContentText, Content: message,
		}); err != nil {
			return err
		}
		if _, err := awaitAck(conn, 2); err != nil {
			return err
		}
		color.Green("✓ message sent")
	}
	return watch(ctx, conn)
}

func runAgent(ctx context.Context, server, tenantKey, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("--username and --password are required with --agent")
	}

	conn, err := dial(ctx, server, "/ws/agent", tenantKey)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := send(conn, wire.EventLogin, 1, wire.LoginRequest{Username: username, Password: password}); err != nil {
		return err
	}
	if _, err := awaitAck(conn, 1); err != nil {
		return err
	}
	color.Green("✓ logged in as %s", username)

	if err := send(conn, wire.EventReady, 2, wire.ReadyRequest{Ready: true}); err != nil {
		return err
	}
	if _, err := awaitAck(conn, 2); err != nil {
		return err
	}
	color.Green("✓ ready for assignment, watching events")

	return watch(ctx, conn)
}
