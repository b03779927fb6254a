package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/webxdc/storebot/internal/app/domain/chatroom"
	"github.com/webxdc/storebot/internal/app/services/ingest"
	"github.com/webxdc/storebot/internal/app/services/sync"
	"github.com/webxdc/storebot/internal/app/services/workflow"
	"github.com/webxdc/storebot/internal/app/storage"
	"github.com/webxdc/storebot/internal/app/transport"
)

// handleStatusUpdate decodes a front-end envelope, applies the compatibility
// gate and routes the payload. Malformed updates are counted and dropped
// without a reply; they may be the bot's own echoed updates.
func (b *Bot) handleStatusUpdate(ctx context.Context, ev transport.Event, role chatroom.Role) error {
	req, err := sync.DecodeRequest(ev.Payload)
	if err != nil {
		b.metrics.MalformedTotal.Inc()
		b.log.WithError(err).Debugf("dropping malformed update in chat %d", ev.ChatID)
		return nil
	}
	if req.Type == sync.PayloadUnknown {
		b.log.Debugf("dropping update with unknown payload type in chat %d", ev.ChatID)
		return nil
	}

	// UpdateReceived is exempt from the gate: replying to an acknowledgement
	// would loop with an outdated client.
	if req.Type != sync.PayloadUpdateReceived && req.TagName != b.cfg.TagName {
		critical := !b.tagCompatible(req.TagName)
		if err := b.reply(ctx, ev.MessageID, sync.NewFrontendOutdated(b.cfg.TagName, critical)); err != nil {
			return err
		}
		if critical {
			return nil
		}
	}

	switch req.Type {
	case sync.PayloadUpdateRequest:
		return b.serveUpdate(ctx, ev, *req.UpdateRequest)
	case sync.PayloadDownload:
		return b.serveDownload(ctx, ev, *req.Download)
	case sync.PayloadSubmit:
		return b.finalizeSubmission(ctx, ev, role, *req.Submit)
	case sync.PayloadUpdateReceived:
		b.log.Debugf("chat %d acknowledged serial %d", ev.ChatID, req.UpdateReceived.Serial)
		return nil
	}
	return nil
}

func (b *Bot) serveUpdate(ctx context.Context, ev transport.Event, req sync.UpdateRequest) error {
	upd, err := b.diff.ComputeUpdate(ctx, req.Serial, req.Apps)
	if err != nil {
		return fmt.Errorf("compute update for chat %d: %w", ev.ChatID, err)
	}
	if err := b.reply(ctx, ev.MessageID, upd); err != nil {
		return err
	}
	b.metrics.UpdatesServed.Inc()
	b.metrics.CatalogSerial.Set(float64(upd.Serial))
	return nil
}

func (b *Bot) serveDownload(ctx context.Context, ev transport.Event, req sync.Download) error {
	data, name, err := b.diff.LoadBundle(ctx, req.AppID)
	if err != nil {
		b.metrics.DownloadsTotal.WithLabelValues("error").Inc()
		b.log.WithError(err).Warnf("download of %s failed", req.AppID)
		return b.reply(ctx, ev.MessageID, sync.NewDownloadError(req.AppID, err))
	}
	b.metrics.DownloadsTotal.WithLabelValues("ok").Inc()
	return b.reply(ctx, ev.MessageID, sync.NewDownloadOkay(req.AppID, name, data))
}

// finalizeSubmission merges the helper's edited fields into the draft and
// moves the submission to review. Gate failures keep the draft intact and are
// reported, not escalated.
func (b *Bot) finalizeSubmission(ctx context.Context, ev transport.Event, role chatroom.Role, req sync.Submit) error {
	if role != chatroom.RoleSubmit {
		b.log.Debugf("ignoring submit payload in chat %d with role %s", ev.ChatID, role)
		return nil
	}
	submitChat, err := b.store.GetSubmitChat(ctx, ev.ChatID)
	if err != nil {
		return fmt.Errorf("load submit chat %d: %w", ev.ChatID, err)
	}

	if req.Description != "" || req.SubmitterURI != "" {
		entry, err := b.store.GetApp(ctx, submitChat.EntryID)
		if err != nil {
			return fmt.Errorf("load draft %s: %w", submitChat.EntryID, err)
		}
		if req.Description != "" {
			entry.Description = req.Description
		}
		if req.SubmitterURI != "" {
			entry.SubmitterURI = req.SubmitterURI
		}
		if _, err := b.store.UpdateApp(ctx, entry); err != nil {
			return fmt.Errorf("persist draft %s: %w", submitChat.EntryID, err)
		}
	}

	_, err = b.workflow.SubmitForReview(ctx, submitChat)
	if workflow.IsGateError(err) {
		b.workflow.NotifyGateFailure(ctx, submitChat.ChatID, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("submit chat %d for review: %w", ev.ChatID, err)
	}

	b.metrics.SubmissionsOpen.Dec()
	return b.messenger.SendText(ctx, submitChat.ChatID,
		"Your app has been handed to a review team. You will hear back here.")
}

// handleShopMessage greets new 1:1 chats with the store front-end and turns
// bundle uploads into submission sessions.
func (b *Bot) handleShopMessage(ctx context.Context, ev transport.Event) error {
	if ev.BundlePath != "" {
		return b.openSubmission(ctx, ev)
	}

	_, err := b.store.GetChatRole(ctx, ev.ChatID)
	if errors.Is(err, storage.ErrNotFound) {
		if err := b.store.SetChatRole(ctx, ev.ChatID, chatroom.RoleShop); err != nil {
			return fmt.Errorf("mark chat %d as shop: %w", ev.ChatID, err)
		}
		if err := b.messenger.SendText(ctx, ev.ChatID, msgShopGreeting); err != nil {
			return err
		}
		_, err = b.messenger.SendBundle(ctx, ev.ChatID, b.cfg.ShopBundle, "")
		return err
	}
	if err != nil {
		return err
	}
	return b.messenger.SendText(ctx, ev.ChatID, msgShopHelp)
}

func (b *Bot) openSubmission(ctx context.Context, ev transport.Event) error {
	_, err := b.workflow.OpenSubmitSession(ctx, ev.ChatID, ev.Contact, ev.BundlePath)
	if errors.Is(err, ingest.ErrArchiveCorrupt) {
		return b.messenger.SendText(ctx, ev.ChatID,
			"That bundle could not be read. Make sure it is a valid app archive and try again.")
	}
	if err != nil {
		return fmt.Errorf("open submission in chat %d: %w", ev.ChatID, err)
	}
	b.metrics.SubmissionsOpen.Inc()
	return nil
}

// handleGenesisMessage executes operator commands. The genesis chat's role is
// fixed; commands affect pool membership and pool chat creation.
func (b *Bot) handleGenesisMessage(ctx context.Context, ev transport.Event) error {
	switch strings.TrimSpace(ev.Text) {
	case "/join tester":
		if err := b.workflow.Join(ctx, ev.Contact, chatroom.PoolTesters); err != nil {
			return err
		}
		return b.messenger.SendText(ctx, ev.ChatID, msgJoinedTesters)
	case "/join publisher":
		if err := b.workflow.Join(ctx, ev.Contact, chatroom.PoolPublishers); err != nil {
			return err
		}
		return b.messenger.SendText(ctx, ev.ChatID, msgJoinedPublishers)
	case "/new tester-pool":
		return b.createPoolChat(ctx, ev, chatroom.RoleTesterPool, "Tester pool")
	case "/new reviewer-pool":
		return b.createPoolChat(ctx, ev, chatroom.RoleReviewerPool, "Reviewer pool")
	default:
		return b.messenger.SendText(ctx, ev.ChatID, msgGenesisHelp)
	}
}

// createPoolChat opens a standing group chat whose members enroll in a pool
// with /join. The requesting operator is added as the first member.
func (b *Bot) createPoolChat(ctx context.Context, ev transport.Event, role chatroom.Role, title string) error {
	chatID, err := b.messenger.CreateGroupChat(ctx, true, title)
	if err != nil {
		return fmt.Errorf("create pool chat: %w", err)
	}
	if err := b.store.SetChatRole(ctx, chatID, role); err != nil {
		return fmt.Errorf("mark pool chat %d: %w", chatID, err)
	}
	if err := b.messenger.AddMember(ctx, chatID, ev.Contact); err != nil {
		return fmt.Errorf("add operator to pool chat: %w", err)
	}
	return b.messenger.SendText(ctx, chatID, msgPoolChatIntro)
}

// handlePoolMessage enrolls members of a pool chat on /join.
func (b *Bot) handlePoolMessage(ctx context.Context, ev transport.Event, role chatroom.Role) error {
	if strings.TrimSpace(ev.Text) != "/join" {
		return nil
	}
	pool := chatroom.PoolTesters
	reply := msgJoinedTesters
	if role == chatroom.RoleReviewerPool {
		pool = chatroom.PoolPublishers
		reply = msgJoinedPublishers
	}
	if err := b.workflow.Join(ctx, ev.Contact, pool); err != nil {
		return err
	}
	return b.messenger.SendText(ctx, ev.ChatID, reply)
}

// handleSubmitMessage folds bundle re-uploads into the bound draft.
func (b *Bot) handleSubmitMessage(ctx context.Context, ev transport.Event) error {
	if ev.BundlePath == "" {
		return b.messenger.SendText(ctx, ev.ChatID, msgSubmitHelp)
	}
	submitChat, err := b.store.GetSubmitChat(ctx, ev.ChatID)
	if err != nil {
		return fmt.Errorf("load submit chat %d: %w", ev.ChatID, err)
	}
	return b.updateDraft(ctx, ev, submitChat.EntryID)
}

// handleReviewMessage folds bundle uploads into the entry under review and
// executes the publisher's release command.
func (b *Bot) handleReviewMessage(ctx context.Context, ev transport.Event) error {
	reviewChat, err := b.store.GetReviewChat(ctx, ev.ChatID)
	if err != nil {
		return fmt.Errorf("load review chat %d: %w", ev.ChatID, err)
	}

	if ev.BundlePath != "" {
		return b.updateDraft(ctx, ev, reviewChat.EntryID)
	}

	if strings.TrimSpace(ev.Text) != "/release" {
		return nil
	}
	if ev.Contact != reviewChat.Publisher {
		return b.messenger.SendText(ctx, ev.ChatID, msgReleaseNotPublisher)
	}

	entry, err := b.workflow.Release(ctx, reviewChat)
	var missing *workflow.MissingRequiredFieldsError
	if errors.As(err, &missing) {
		return b.messenger.SendText(ctx, ev.ChatID, "Cannot release yet. "+missing.Error())
	}
	if err != nil {
		return fmt.Errorf("release entry of chat %d: %w", ev.ChatID, err)
	}

	b.metrics.ReleasesTotal.Inc()
	b.metrics.CatalogSerial.Set(float64(entry.Serial))
	if err := b.messenger.SendText(ctx, ev.ChatID, msgReleased); err != nil {
		return err
	}
	return b.messenger.SendText(ctx, reviewChat.SubmitChatID,
		fmt.Sprintf("%s has been published to the store.", entry.Name))
}

func (b *Bot) updateDraft(ctx context.Context, ev transport.Event, entryID string) error {
	_, err := b.workflow.UpdateDraft(ctx, entryID, ev.ChatID, ev.BundlePath)
	if errors.Is(err, ingest.ErrArchiveCorrupt) {
		return b.messenger.SendText(ctx, ev.ChatID,
			"That bundle could not be read, the previous draft is unchanged.")
	}
	if err != nil {
		return fmt.Errorf("update draft %s: %w", entryID, err)
	}
	return nil
}

// tagCompatible reports whether an older front-end tag is still serveable.
func (b *Bot) tagCompatible(tag string) bool {
	for _, t := range b.cfg.CompatibleTags {
		if t == tag {
			return true
		}
	}
	return false
}

// reply sends an encoded payload as a status update addressed to the helper
// message the request came from.
func (b *Bot) reply(ctx context.Context, msgID int64, payload any) error {
	raw, err := sync.EncodeResponse(payload)
	if err != nil {
		return fmt.Errorf("encode %T: %w", payload, err)
	}
	return b.messenger.SendStatusUpdate(ctx, msgID, raw)
}
