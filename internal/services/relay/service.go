package relaysvc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	channelsvc "github.com/chinuno-usami/server-tan/internal/services/channels"
	contentsvc "github.com/chinuno-usami/server-tan/internal/services/contents"
	"github.com/chinuno-usami/server-tan/internal/wechat"
)

// Pusher delivers one templated notification to one recipient.
type Pusher interface {
	SendTemplate(ctx context.Context, userID, templateID string, data wechat.TemplateData, linkURL string) error
}

// Service orchestrates a publish: send-key authorization, body persistence,
// and best-effort fan-out to every subscriber.
type Service struct {
	channels   *channelsvc.Service
	contents   *contentsvc.Service
	pusher     Pusher
	templateID string
	host       string
	logger     *zap.Logger

	now func() time.Time // test hook
}

// New creates the relay service. host is the external base URL used to
// build content permalinks.
func New(channels *channelsvc.Service, contents *contentsvc.Service, pusher Pusher, templateID, host string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		channels:   channels,
		contents:   contents,
		pusher:     pusher,
		templateID: templateID,
		host:       host,
		logger:     logger,
		now:        time.Now,
	}
}

// Result reports what a publish did.
type Result struct {
	ChannelID   string
	ContentID   string
	Subscribers int
	Delivered   int
}

// Publish authorizes via sendKey, persists the body, and pushes a
// notification to every subscriber. Fan-out is best effort: per-recipient
// delivery failures are logged and skipped, they never fail the publish.
// An expiry sweep runs opportunistically first.
func (s *Service) Publish(ctx context.Context, sendKey, title, body string) (Result, error) {
	if err := s.contents.CleanExpired(); err != nil {
		// sweep trouble should not block message delivery
		s.logger.Warn("expiry sweep failed", zap.Error(err))
	}

	ch, err := s.channels.GetByPublishKey(sendKey)
	if err != nil {
		return Result{}, err
	}

	contentID, err := s.contents.Add(body)
	if err != nil {
		return Result{}, err
	}

	subscribers, err := s.channels.Subscribers(ch.ID)
	if err != nil {
		return Result{}, err
	}

	data := wechat.TemplateData{
		Title:       title,
		ChannelName: ch.Name,
		Time:        s.now().Format("2006-01-02 15:04:05"),
		Body:        body,
	}
	link := fmt.Sprintf("%s/content/%s", s.host, contentID)

	delivered := 0
	for _, u := range subscribers {
		if err := s.pusher.SendTemplate(ctx, u.ID, s.templateID, data, link); err != nil {
			s.logger.Warn("push delivery failed",
				zap.String("channel", ch.ID),
				zap.String("user", u.ID),
				zap.Error(err))
			continue
		}
		delivered++
	}
	s.logger.Info("published",
		zap.String("channel", ch.ID),
		zap.String("content", contentID),
		zap.Int("subscribers", len(subscribers)),
		zap.Int("delivered", delivered))
	return Result{ChannelID: ch.ID, ContentID: contentID, Subscribers: len(subscribers), Delivered: delivered}, nil
}
