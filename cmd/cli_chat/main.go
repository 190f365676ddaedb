package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/joho/godotenv"

	"securechat/internal/domain"
	"securechat/internal/service"
)

// Cliente de consola para probar el gateway a mano.
//
// Variables: CHAT_SERVER_URL (ws://localhost:5000/ws), CHAT_TOKEN o bien
// CHAT_USER_ID + JWT_SECRET para firmar un token local.
func main() {
	_ = godotenv.Load()

	serverURL := envOr("CHAT_SERVER_URL", "ws://localhost:5000/ws")
	token, userID, err := resolveToken()
	if err != nil {
		log.Fatal(err)
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		log.Fatalf("server url: %v", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			log.Fatalf("dial: %v (status %d)", err, resp.StatusCode)
		}
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fmt.Printf("Conectado como %s\n", userID)
	printHelp()

	done := make(chan struct{})
	go readLoop(conn, done)

	reader := bufio.NewReader(os.Stdin)
	var peer string
	for {
		select {
		case <-done:
			fmt.Println("Conexión cerrada por el servidor.")
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case line == "/help":
			printHelp()
		case strings.HasPrefix(line, "/to "):
			peer = strings.TrimSpace(strings.TrimPrefix(line, "/to "))
			fmt.Printf("Destinatario: %s\n", peer)
		case line == "/typing":
			if peer == "" {
				fmt.Println("Primero elige un destinatario con /to <userId>.")
				continue
			}
			write(conn, domain.EventTyping, domain.TypingRequest{RecipientID: peer})
		case strings.HasPrefix(line, "/read"):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/read"))
			if id == "" {
				id, _ = lastReceived.Load().(string)
			}
			if id == "" {
				fmt.Println("No hay mensaje para marcar como leído.")
				continue
			}
			write(conn, domain.EventMarkAsRead, domain.MessageRef{MessageID: id})
		default:
			if peer == "" {
				fmt.Println("Primero elige un destinatario con /to <userId>.")
				continue
			}
			write(conn, domain.EventSendMessage, domain.SendMessageRequest{RecipientID: peer, Content: line})
		}
	}
}

// lastReceived guarda el id del último receive_message para /read sin argumentos.
var lastReceived atomic.Value

func readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		var ev struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		switch ev.Event {
		case domain.EventReceiveMessage, domain.EventMessageSent:
			var msg domain.MessagePayload
			if err := json.Unmarshal(ev.Data, &msg); err != nil {
				continue
			}
			ttl := ""
			if msg.SelfDestructTimer != nil {
				ttl = fmt.Sprintf(" (se destruye en %ds)", *msg.SelfDestructTimer)
			}
			if ev.Event == domain.EventReceiveMessage {
				lastReceived.Store(msg.ID)
				fmt.Printf("<< %s: %s%s [%s]\n", msg.SenderID, msg.Content, ttl, msg.ID)
			} else {
				fmt.Printf(">> enviado a %s%s [%s]\n", msg.RecipientID, ttl, msg.ID)
			}
		default:
			fmt.Printf("· %s %s\n", ev.Event, string(ev.Data))
		}
	}
}

func write(conn *websocket.Conn, name string, data any) {
	if err := conn.WriteJSON(domain.NewEvent(name, data)); err != nil {
		fmt.Printf("error enviando %s: %v\n", name, err)
	}
}

func resolveToken() (token, userID string, err error) {
	if token = strings.TrimSpace(os.Getenv("CHAT_TOKEN")); token != "" {
		return token, "(token)", nil
	}
	userID = strings.TrimSpace(os.Getenv("CHAT_USER_ID"))
	secret := os.Getenv("JWT_SECRET")
	if userID == "" || secret == "" {
		return "", "", fmt.Errorf("set CHAT_TOKEN or CHAT_USER_ID and JWT_SECRET")
	}
	jwtSvc := service.NewJWTService(secret, 12*time.Hour)
	token, err = jwtSvc.GenerateAccessToken(domain.User{ID: userID})
	return token, userID, err
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func printHelp() {
	fmt.Println("Comandos: /to <userId>, /typing, /read [messageId], /help, /quit")
	fmt.Println("Cualquier otra línea se envía como mensaje al destinatario actual.")
}
