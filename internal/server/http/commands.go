package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/chinuno-usami/server-tan/internal/errs"
	"github.com/chinuno-usami/server-tan/internal/wechat"
)

// handleInbound processes a verified webhook POST: subscription events and
// the text-command grammar. Replies are XML text messages; the platform
// shows their body to the user, so directory errors map to their error text
// rather than an HTTP status.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	msg, err := wechat.ParseInbound(body)
	if err != nil {
		s.logger.Warn("undecodable webhook payload", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch msg.MsgType {
	case "text":
		s.replyText(w, msg, s.dispatchCommand(r.Context(), msg))
	case "event":
		if msg.Event == "subscribe" {
			s.handleFollow(r.Context(), msg)
			s.replyText(w, msg, s.cfg.WelcomeText)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) replyText(w http.ResponseWriter, msg wechat.InboundMessage, content string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	fmt.Fprint(w, wechat.TextReply(msg, content))
}

// handleFollow registers a first-time follower. A user who re-follows
// already exists; that is not an error worth reporting to anyone.
func (s *Server) handleFollow(ctx context.Context, msg wechat.InboundMessage) {
	err := s.svcs.Users.Add(ctx, msg.From)
	if err != nil && !errors.Is(err, errs.ErrAlreadyExists) {
		s.logger.Error("follower registration failed", zap.String("user", msg.From), zap.Error(err))
	}
}

// dispatchCommand interprets the text-command grammar and returns the reply
// body. Unknown text is echoed back.
func (s *Server) dispatchCommand(ctx context.Context, msg wechat.InboundMessage) string {
	content := strings.TrimSpace(msg.Content)
	sender := msg.From
	switch {
	case content == "help":
		return s.cfg.HelpText
	case strings.HasPrefix(content, "show channel"):
		return s.cmdShowChannels(sender)
	case strings.HasPrefix(content, "show subscribe"):
		return s.cmdShowSubscriptions(sender)
	case strings.HasPrefix(content, "create channel"):
		return s.cmdCreateChannel(ctx, sender, content)
	case strings.HasPrefix(content, "del channel"):
		return s.cmdDeleteChannel(ctx, sender, content)
	case strings.HasPrefix(content, "unsubscribe"):
		return s.cmdUnsubscribe(ctx, sender, content)
	case strings.HasPrefix(content, "subscribe"):
		return s.cmdSubscribe(ctx, sender, content)
	default:
		return content
	}
}

// replyError renders a directory error as reply text. Storage faults get a
// generic line so internals stay out of chat.
func replyError(err error) string {
	if errors.Is(err, errs.ErrStorage) {
		return "service trouble, try again later"
	}
	return err.Error()
}

func (s *Server) cmdShowChannels(sender string) string {
	channels, err := s.svcs.Channels.GetByOwner(sender)
	if err != nil {
		return replyError(err)
	}
	if len(channels) == 0 {
		return "no channels created"
	}
	var b strings.Builder
	for _, ch := range channels {
		var subs strings.Builder
		users, err := s.svcs.Channels.Subscribers(ch.ID)
		if err == nil {
			for _, u := range users {
				fmt.Fprintf(&subs, "%s(%s) ", u.Name, u.ID)
			}
		}
		fmt.Fprintf(&b, "name: %s\nid: %s\nsendkey: %s\nsubscribers: %s\n", ch.Name, ch.ID, ch.SendKey, subs.String())
	}
	return b.String()
}

func (s *Server) cmdShowSubscriptions(sender string) string {
	u, err := s.svcs.Users.Get(sender)
	if err != nil {
		return replyError(err)
	}
	if len(u.Subscribes) == 0 {
		return "no subscriptions"
	}
	var b strings.Builder
	for _, id := range u.Subscribes {
		ch, err := s.svcs.Channels.GetByID(id)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "name: %s\nid: %s\n", ch.Name, ch.ID)
	}
	return b.String()
}

func (s *Server) cmdCreateChannel(ctx context.Context, sender, content string) string {
	parts := strings.SplitN(content, " ", 3)
	if len(parts) != 3 || parts[2] == "" {
		return "usage: create channel <name>"
	}
	id, err := s.svcs.Channels.Create(ctx, parts[2], sender)
	if err != nil {
		return replyError(err)
	}
	return "done, channel id: " + id
}

func (s *Server) cmdDeleteChannel(ctx context.Context, sender, content string) string {
	parts := strings.SplitN(content, " ", 3)
	if len(parts) != 3 || parts[2] == "" {
		return "usage: del channel <id>"
	}
	if err := s.svcs.Channels.Delete(ctx, parts[2], sender); err != nil {
		return replyError(err)
	}
	return "done"
}

func (s *Server) cmdSubscribe(ctx context.Context, sender, content string) string {
	parts := strings.SplitN(content, " ", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "usage: subscribe <id>"
	}
	if err := s.svcs.Channels.Subscribe(ctx, parts[1], sender); err != nil {
		return replyError(err)
	}
	return "done"
}

func (s *Server) cmdUnsubscribe(ctx context.Context, sender, content string) string {
	parts := strings.SplitN(content, " ", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "usage: unsubscribe <id>"
	}
	if err := s.svcs.Channels.Unsubscribe(ctx, parts[1], sender); err != nil {
		return replyError(err)
	}
	return "done"
}
