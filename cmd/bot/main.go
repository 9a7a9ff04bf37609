// Command bot is a minimal gateway client: it says HELLO, sends one
// command, and prints the reply. Useful for poking a running server.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"commoncoin.gg/internal/protocol"
)

func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		account = flag.String("account", "", "account id (required)")
		name    = flag.String("name", "", "display name")
		command = flag.String("cmd", "balance", "command to send")
		target  = flag.String("target", "", "target account id")
		amount  = flag.Float64("amount", 0, "amount")
		reason  = flag.String("reason", "", "pay reason")
		faction = flag.String("faction", "", "faction tag")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	if *account == "" {
		logger.Fatalf("missing -account")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AccountID:       *account,
		DisplayName:     *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		logger.Fatalf("read WELCOME: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil {
		logger.Fatalf("decode WELCOME: %v", err)
	}
	logger.Printf("WELCOME session=%s account=%s", welcome.SessionID, welcome.AccountID)

	cmd := protocol.CommandMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ID:              "c1",
		Command:         *command,
		Target:          *target,
		Amount:          *amount,
		Reason:          *reason,
		Faction:         *faction,
	}
	if err := conn.WriteJSON(cmd); err != nil {
		logger.Fatalf("send CMD: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	_, msg, err = conn.ReadMessage()
	if err != nil {
		logger.Fatalf("read REPLY: %v", err)
	}
	var reply protocol.ReplyMsg
	if err := json.Unmarshal(msg, &reply); err != nil {
		logger.Fatalf("decode REPLY: %v", err)
	}
	if reply.Headline != "" {
		logger.Printf("%s", reply.Headline)
	}
	logger.Printf("ok=%v code=%s", reply.OK, reply.Code)
	logger.Printf("%s", reply.Body)
}
