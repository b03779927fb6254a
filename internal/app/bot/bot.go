// Package bot wires the transport event stream to the catalog and workflow
// services: one dispatch table keyed by chat role and event kind.
package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/webxdc/storebot/internal/app/domain/chatroom"
	"github.com/webxdc/storebot/internal/app/metrics"
	"github.com/webxdc/storebot/internal/app/services/sync"
	"github.com/webxdc/storebot/internal/app/services/workflow"
	"github.com/webxdc/storebot/internal/app/storage"
	"github.com/webxdc/storebot/internal/app/transport"
	"github.com/webxdc/storebot/pkg/logger"
)

// Config carries the bot's runtime settings.
type Config struct {
	// TagName is the front-end tag this bot serves; the compatibility gate
	// compares client envelopes against it.
	TagName string
	// CompatibleTags lists older tags still accepted. Clients on one of
	// these receive a non-critical outdated notice and are served anyway.
	CompatibleTags []string
	// GenesisChatID is the operator chat; its role is fixed and never stored.
	GenesisChatID int64
	// ShopBundle is the store front-end bundle posted into 1:1 chats.
	ShopBundle string
}

// Bot consumes transport events and routes them by chat role.
type Bot struct {
	messenger transport.Messenger
	store     storage.Store
	diff      *sync.Engine
	workflow  *workflow.Service
	metrics   *metrics.Metrics
	cfg       Config
	log       *logger.Logger
}

// New constructs the bot.
func New(messenger transport.Messenger, store storage.Store, diff *sync.Engine,
	wf *workflow.Service, m *metrics.Metrics, cfg Config, log *logger.Logger) *Bot {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logger.NewDefault("bot")
	}
	return &Bot{
		messenger: messenger,
		store:     store,
		diff:      diff,
		workflow:  wf,
		metrics:   m,
		cfg:       cfg,
		log:       log,
	}
}

// Run consumes the event stream until ctx is cancelled or the stream closes.
// Events are handled sequentially; ordering within a chat is the transport's
// delivery order.
func (b *Bot) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-b.messenger.Events():
			if !ok {
				return nil
			}
			if err := b.Dispatch(ctx, ev); err != nil {
				b.log.WithError(err).
					WithField("chat_id", ev.ChatID).
					WithField("kind", ev.Kind.String()).
					Error("event handling failed")
			}
		}
	}
}

// Dispatch routes one event to its (role, kind) handler.
func (b *Bot) Dispatch(ctx context.Context, ev transport.Event) error {
	role, err := b.resolveRole(ctx, ev.ChatID)
	if err != nil {
		return fmt.Errorf("resolve role of chat %d: %w", ev.ChatID, err)
	}
	b.metrics.EventsTotal.WithLabelValues(ev.Kind.String(), string(role)).Inc()

	switch ev.Kind {
	case transport.EventStatusUpdate:
		return b.handleStatusUpdate(ctx, ev, role)
	case transport.EventMessage:
		switch role {
		case chatroom.RoleGenesis:
			return b.handleGenesisMessage(ctx, ev)
		case chatroom.RoleShop:
			return b.handleShopMessage(ctx, ev)
		case chatroom.RoleSubmit:
			return b.handleSubmitMessage(ctx, ev)
		case chatroom.RoleReview:
			return b.handleReviewMessage(ctx, ev)
		case chatroom.RoleTesterPool, chatroom.RoleReviewerPool:
			return b.handlePoolMessage(ctx, ev, role)
		case chatroom.RoleRelease:
			// Finished review chats stay readable but take no commands.
			return nil
		}
		b.log.Debugf("ignoring message in chat %d with role %s", ev.ChatID, role)
		return nil
	}
	return nil
}

// resolveRole returns the chat's stored role. The genesis chat is matched by
// id; chats never seen before become shop chats on first contact.
func (b *Bot) resolveRole(ctx context.Context, chatID int64) (chatroom.Role, error) {
	if b.cfg.GenesisChatID != 0 && chatID == b.cfg.GenesisChatID {
		return chatroom.RoleGenesis, nil
	}
	role, err := b.store.GetChatRole(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return chatroom.RoleShop, nil
	}
	if err != nil {
		return "", err
	}
	return role, nil
}
