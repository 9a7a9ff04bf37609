// Package ws is the command gateway: it upgrades connections, validates
// inbound messages against the wire schemas, and hands normalized
// invocations to the processor. The core never sees raw payloads.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"commoncoin.gg/internal/ledger"
	"commoncoin.gg/internal/protocol"
)

type Server struct {
	proc      *ledger.Processor
	validator *protocol.Validator
	params    protocol.LedgerParams
	log       *log.Logger

	// onTerminate is invoked once after a terminate command's reply is
	// written; the run loop stops after flushing.
	onTerminate func()

	upgrader websocket.Upgrader
}

func NewServer(proc *ledger.Processor, validator *protocol.Validator, params protocol.LedgerParams, onTerminate func(), logger *log.Logger) *Server {
	return &Server{
		proc:        proc,
		validator:   validator,
		params:      params,
		log:         logger,
		onTerminate: onTerminate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler(ctx context.Context) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		accountID, displayName := s.handshake(conn)
		if accountID == "" {
			return
		}

		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeCmd {
				continue
			}
			if base.ProtocolVersion != protocol.Version {
				continue
			}

			if err := s.validator.ValidateCmd(msg); err != nil {
				s.writeReply(conn, protocol.ReplyMsg{
					Type:            protocol.TypeReply,
					ProtocolVersion: protocol.Version,
					OK:              false,
					Code:            protocol.ErrProtoBadRequest,
					Body:            "Malformed command message.",
					Private:         true,
				})
				continue
			}
			var cmd protocol.CommandMsg
			if err := json.Unmarshal(msg, &cmd); err != nil {
				continue
			}

			res := s.proc.Execute(ctx, ledger.Invocation{
				Command:    cmd.Command,
				Actor:      accountID,
				ActorName:  displayName,
				Target:     cmd.Target,
				TargetName: cmd.TargetName,
				Amount:     cmd.Amount,
				Reason:     cmd.Reason,
				Faction:    cmd.Faction,
			})
			s.writeReply(conn, protocol.ReplyMsg{
				Type:            protocol.TypeReply,
				ProtocolVersion: protocol.Version,
				ID:              cmd.ID,
				OK:              res.OK,
				Code:            res.Code,
				Headline:        res.Reply.Headline,
				Body:            res.Reply.Body,
				Private:         res.Reply.Private,
			})
			if res.Terminate && s.onTerminate != nil {
				s.onTerminate()
				return
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (accountID, displayName string) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", ""
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", ""
	}
	if base.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", ""
	}
	if err := s.validator.ValidateHello(msg); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad HELLO"), time.Now().Add(time.Second))
		return "", ""
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", ""
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		AccountID:       hello.AccountID,
		Params:          s.params,
	}
	b, err := json.Marshal(welcome)
	if err != nil {
		return "", ""
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return "", ""
	}
	return hello.AccountID, hello.DisplayName
}

func (s *Server) writeReply(conn *websocket.Conn, reply protocol.ReplyMsg) {
	b, err := json.Marshal(reply)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		s.log.Printf("write reply: %v", err)
	}
}
