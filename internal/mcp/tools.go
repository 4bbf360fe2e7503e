package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mwhitfield/rtchat/internal/api"
	"github.com/mwhitfield/rtchat/internal/protocol"
	"github.com/mwhitfield/rtchat/internal/session"
)

// prop is a shorthand for building a JSON Schema property.
func prop(typ, desc string) any {
	return map[string]any{
		"type":        typ,
		"description": desc,
	}
}

// RegisterTools adds all chat tools to the MCP server.
func RegisterTools(srv *mcpserver.MCPServer, client *api.Client, cfg Config) {
	// 1. send_message
	srv.AddTool(mcplib.Tool{
		Name:        "send_message",
		Description: "Send a message to a chat room. Omit `room_id` to use the configured default room.",
		InputSchema: mcplib.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"content": prop("string", "The message text to send"),
				"room_id": prop("string", "Optional: target room id (defaults to the configured room)"),
			},
			Required: []string{"content"},
		},
	}, makeSendMessageHandler(client, cfg))

	// 2. get_messages
	srv.AddTool(mcplib.Tool{
		Name:        "get_messages",
		Description: "Read recent messages from a chat room.",
		InputSchema: mcplib.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"room_id": prop("string", "Optional: room id (defaults to the configured room)"),
				"latest":  prop("number", "Get the last N messages (default: 20)"),
			},
		},
	}, makeGetMessagesHandler(client, cfg))

	// 3. list_rooms
	srv.AddTool(mcplib.Tool{
		Name:        "list_rooms",
		Description: "List the rooms the user created or joined.",
		InputSchema: mcplib.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}, makeListRoomsHandler(client))

	// 4. react
	srv.AddTool(mcplib.Tool{
		Name:        "react",
		Description: "Add or remove an emoji reaction on a message.",
		InputSchema: mcplib.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"message_id": prop("string", "The message to react to"),
				"emoji":      prop("string", "The emoji, e.g. 👍"),
				"remove":     prop("boolean", "Set true to remove the reaction instead of adding it"),
				"room_id":    prop("string", "Optional: room id (defaults to the configured room)"),
			},
			Required: []string{"message_id", "emoji"},
		},
	}, makeReactHandler(client, cfg))
}

func makeSendMessageHandler(client *api.Client, cfg Config) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		content := request.GetString("content", "")
		roomID := request.GetString("room_id", cfg.Room)
		if content == "" {
			return mcplib.NewToolResultError("content is required"), nil
		}
		if roomID == "" {
			return mcplib.NewToolResultError("room_id is required (no default room configured)"), nil
		}

		msg, err := client.SendMessage(ctx, roomID, content)
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("failed to send: %v", err)), nil
		}
		return mcplib.NewToolResultText(fmt.Sprintf("Message sent (id %s)", msg.ID)), nil
	}
}

func makeGetMessagesHandler(client *api.Client, cfg Config) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		roomID := request.GetString("room_id", cfg.Room)
		latest := request.GetInt("latest", 20)
		if roomID == "" {
			return mcplib.NewToolResultError("room_id is required (no default room configured)"), nil
		}

		msgs, err := client.RoomMessages(ctx, roomID)
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("failed to get messages: %v", err)), nil
		}
		if latest > 0 && len(msgs) > latest {
			msgs = msgs[len(msgs)-latest:]
		}
		if len(msgs) == 0 {
			return mcplib.NewToolResultText("No messages found."), nil
		}

		var sb strings.Builder
		for _, msg := range msgs {
			ts := msg.CreatedAt.Local().Format("15:04:05")
			fmt.Fprintf(&sb, "[%s %s] %s", msg.ID, ts, msg.UserName)
			if kind, url, ok := protocol.ParseMedia(msg.Content); ok {
				fmt.Fprintf(&sb, " shared %s: %s", kind, url)
			} else {
				fmt.Fprintf(&sb, ": %s", msg.Content)
			}
			for _, r := range msg.Reactions {
				fmt.Fprintf(&sb, " %s×%d", r.Emoji, r.Count)
			}
			sb.WriteString("\n")
		}
		return mcplib.NewToolResultText(sb.String()), nil
	}
}

func makeListRoomsHandler(client *api.Client) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		rooms, err := client.Rooms(ctx)
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("failed to list rooms: %v", err)), nil
		}
		if len(rooms) == 0 {
			return mcplib.NewToolResultText("No rooms."), nil
		}

		var sb strings.Builder
		for _, r := range rooms {
			fmt.Fprintf(&sb, "%s (id %s, code %s, %d user(s)", r.Name, r.ID, r.RoomCode, r.UserCount)
			if r.IsProtected {
				sb.WriteString(", protected")
			}
			sb.WriteString(")\n")
		}
		return mcplib.NewToolResultText(sb.String()), nil
	}
}

// makeReactHandler opens a short-lived real-time connection: reactions are
// a WebSocket-only operation on this server.
func makeReactHandler(client *api.Client, cfg Config) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		messageID := request.GetString("message_id", "")
		emoji := request.GetString("emoji", "")
		remove := request.GetBool("remove", false)
		roomID := request.GetString("room_id", cfg.Room)
		if messageID == "" || emoji == "" {
			return mcplib.NewToolResultError("message_id and emoji are required"), nil
		}
		if roomID == "" {
			return mcplib.NewToolResultError("room_id is required (no default room configured)"), nil
		}

		if err := reactOverSession(cfg, client, roomID, messageID, emoji, !remove); err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("failed to react: %v", err)), nil
		}
		verb := "added"
		if remove {
			verb = "removed"
		}
		return mcplib.NewToolResultText(fmt.Sprintf("Reaction %s %s on message %s", emoji, verb, messageID)), nil
	}
}

func reactOverSession(cfg Config, client *api.Client, roomID, messageID, emoji string, add bool) error {
	sess := session.New(session.Config{
		ServerURL: cfg.ServerURL,
		Token:     cfg.Token,
		UserID:    cfg.UserID,
		UserName:  cfg.Name,
		History:   client,
	})
	defer sess.Close()

	sess.Connect()
	sess.SwitchRoom(roomID)

	// Wait for the connection and the history (the reaction projection
	// needs the target message loaded before it will transmit).
	deadline := time.After(15 * time.Second)
	connected, loaded := false, false
	for !connected || !loaded {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return fmt.Errorf("session closed")
			}
			switch ev.Kind {
			case session.EventState:
				switch ev.State {
				case session.StateConnected:
					connected = true
				case session.StateFailed:
					if ev.Err != nil {
						return fmt.Errorf("connection failed: %w", ev.Err)
					}
					return fmt.Errorf("connection failed")
				}
			case session.EventHistory:
				if ev.Err != nil {
					return fmt.Errorf("history fetch failed: %w", ev.Err)
				}
				loaded = true
			}
		case <-deadline:
			return fmt.Errorf("timed out connecting")
		}
	}

	sess.ToggleReaction(messageID, emoji, add)

	// Give the frame a moment to flush before tearing down.
	time.Sleep(250 * time.Millisecond)
	sess.Disconnect()
	return nil
}
