// Package workflow implements the chat-role state machine that moves a
// candidate application from draft to published: pool membership, submission
// sessions, review group creation and the release gate.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/webxdc/storebot/internal/app/domain/catalog"
	"github.com/webxdc/storebot/internal/app/domain/chatroom"
	"github.com/webxdc/storebot/internal/app/services/ingest"
	"github.com/webxdc/storebot/internal/app/storage"
	"github.com/webxdc/storebot/internal/app/transport"
	"github.com/webxdc/storebot/pkg/logger"
)

// Config carries the workflow's operator settings.
type Config struct {
	// GenesisChatID is the operator chat that receives workflow failure
	// notices and join commands.
	GenesisChatID int64
	// HelperBundle is the front-end bundle posted into submit and review
	// chats so participants can edit the draft.
	HelperBundle string
	// TesterCount is how many testers are drawn into a review chat.
	TesterCount int
}

// Service executes the state machine transitions. It performs no locking:
// the store arbitrates row atomicity and serial assignment.
type Service struct {
	store     storage.Store
	messenger transport.Messenger
	ingest    *ingest.Service
	cfg       Config
	log       *logger.Logger
}

// New constructs the workflow service.
func New(store storage.Store, messenger transport.Messenger, ingestSvc *ingest.Service, cfg Config, log *logger.Logger) *Service {
	if cfg.TesterCount <= 0 {
		cfg.TesterCount = 3
	}
	if log == nil {
		log = logger.NewDefault("workflow")
	}
	return &Service{store: store, messenger: messenger, ingest: ingestSvc, cfg: cfg, log: log}
}

// Join records a contact's membership in a pool. Issued in the genesis chat;
// the genesis chat's own role never changes.
func (s *Service) Join(ctx context.Context, contact string, pool chatroom.Pool) error {
	switch pool {
	case chatroom.PoolTesters, chatroom.PoolPublishers:
	default:
		return fmt.Errorf("unknown pool %q", pool)
	}
	if err := s.store.AddMember(ctx, pool, contact); err != nil {
		return fmt.Errorf("add %s to %s pool: %w", contact, pool, err)
	}
	s.log.Infof("contact %s joined %s pool", contact, pool)
	return nil
}

// OpenSubmitSession turns a chat into a submission session: a draft entry is
// created from the uploaded bundle, the chat takes the submit role, and the
// helper front-end is posted so the submitter can edit the draft.
func (s *Service) OpenSubmitSession(ctx context.Context, chatID int64, contact, bundlePath string) (chatroom.SubmitChat, error) {
	res, err := s.ingest.Ingest(ctx, catalog.AppEntry{OriginatorChat: chatID}, bundlePath)
	if err != nil {
		return chatroom.SubmitChat{}, err
	}

	entry, err := s.store.CreateApp(ctx, res.Entry)
	if err != nil {
		return chatroom.SubmitChat{}, fmt.Errorf("create draft: %w", err)
	}

	helperID, err := s.messenger.SendBundle(ctx, chatID, s.cfg.HelperBundle,
		"Here is your submission helper. I will keep it updated while you edit your app.")
	if err != nil {
		return chatroom.SubmitChat{}, fmt.Errorf("send submit helper: %w", err)
	}

	chat := chatroom.SubmitChat{
		ChatID:      chatID,
		HelperMsgID: helperID,
		EntryID:     entry.ID,
		Creator:     contact,
	}
	if err := s.store.CreateSubmitChat(ctx, chat); err != nil {
		return chatroom.SubmitChat{}, fmt.Errorf("persist submit chat: %w", err)
	}

	s.notifyMissing(ctx, chatID, entry)
	return chat, nil
}

// UpdateDraft re-runs ingestion for a new bundle upload against the draft
// bound to a submit or review chat and persists the merged entry. A bundle
// naming a different app_id starts a new draft and rebinds the chat to it.
func (s *Service) UpdateDraft(ctx context.Context, entryID string, chatID int64, bundlePath string) (catalog.AppEntry, error) {
	entry, err := s.store.GetApp(ctx, entryID)
	if err != nil {
		return catalog.AppEntry{}, fmt.Errorf("load draft %s: %w", entryID, err)
	}

	res, err := s.ingest.Ingest(ctx, entry, bundlePath)
	var idChanged *ingest.AppIDChangedError
	if errors.As(err, &idChanged) {
		return s.replaceDraft(ctx, entry, chatID, bundlePath)
	}
	if err != nil {
		return catalog.AppEntry{}, err
	}
	if !res.Changed {
		return entry, nil
	}

	updated, err := s.store.UpdateApp(ctx, res.Entry)
	if err != nil {
		return catalog.AppEntry{}, fmt.Errorf("persist draft %s: %w", entryID, err)
	}

	s.notifyMissing(ctx, chatID, updated)
	return updated, nil
}

// replaceDraft handles a re-uploaded bundle whose manifest names a different
// application. app_id is immutable, so a fresh entry is created from the
// bundle and the chat binding is repointed at it. The old draft keeps its
// entry row and stays inactive.
func (s *Service) replaceDraft(ctx context.Context, old catalog.AppEntry, chatID int64, bundlePath string) (catalog.AppEntry, error) {
	res, err := s.ingest.Ingest(ctx, catalog.AppEntry{OriginatorChat: old.OriginatorChat}, bundlePath)
	if err != nil {
		return catalog.AppEntry{}, err
	}

	created, err := s.store.CreateApp(ctx, res.Entry)
	if err != nil {
		return catalog.AppEntry{}, fmt.Errorf("create replacement draft: %w", err)
	}
	if err := s.store.SetChatEntry(ctx, chatID, created.ID); err != nil {
		return catalog.AppEntry{}, fmt.Errorf("rebind chat %d to %s: %w", chatID, created.ID, err)
	}

	s.log.WithField("old_entry", old.ID).
		WithField("new_entry", created.ID).
		Infof("bundle named app %q, started a new draft", created.AppID)
	_ = s.messenger.SendText(ctx, chatID,
		"That bundle is a different application, so I started a new draft for it.")
	s.notifyMissing(ctx, chatID, created)
	return created, nil
}

// notifyMissing posts the release-gate status into the chat.
func (s *Service) notifyMissing(ctx context.Context, chatID int64, entry catalog.AppEntry) {
	if missing := entry.MissingFields(); len(missing) > 0 {
		_ = s.messenger.SendText(ctx, chatID,
			"Missing fields: "+strings.Join(missing, ", "))
	} else {
		_ = s.messenger.SendText(ctx, chatID,
			"I have all the information I need. Send the submit command when you want it reviewed.")
	}
}

// SubmitForReview promotes a submission session to a review chat.
//
// Gates: at least one publisher and a non-empty tester set must be available.
// On a gate failure the draft and the submit binding stay intact for retry;
// callers route the failure to the genesis chat and the submitter.
func (s *Service) SubmitForReview(ctx context.Context, submitChat chatroom.SubmitChat) (chatroom.ReviewChat, error) {
	entry, err := s.store.GetApp(ctx, submitChat.EntryID)
	if err != nil {
		return chatroom.ReviewChat{}, fmt.Errorf("load draft %s: %w", submitChat.EntryID, err)
	}

	publisher, err := s.store.RandomPublisher(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return chatroom.ReviewChat{}, ErrNotEnoughPublishers
	}
	if err != nil {
		return chatroom.ReviewChat{}, fmt.Errorf("pick publisher: %w", err)
	}

	testers, err := s.store.RandomTesters(ctx, s.cfg.TesterCount)
	if err != nil {
		return chatroom.ReviewChat{}, fmt.Errorf("pick testers: %w", err)
	}
	if len(testers) == 0 {
		return chatroom.ReviewChat{}, ErrNotEnoughTesters
	}

	title := "Testing: " + entry.Name
	if entry.Name == "" {
		title = "Testing a new submission"
	}
	reviewChatID, err := s.messenger.CreateGroupChat(ctx, true, title)
	if err != nil {
		return chatroom.ReviewChat{}, fmt.Errorf("create review chat: %w", err)
	}
	// From here on a failure leaves a group chat with no persisted binding;
	// abandon marks it so members know it is dead, and the submit chat stays
	// intact for retry.
	for _, tester := range testers {
		if err := s.messenger.AddMember(ctx, reviewChatID, tester); err != nil {
			return s.abandonReviewChat(ctx, reviewChatID, fmt.Errorf("add tester %s: %w", tester, err))
		}
	}
	if err := s.messenger.AddMember(ctx, reviewChatID, publisher); err != nil {
		return s.abandonReviewChat(ctx, reviewChatID, fmt.Errorf("add publisher %s: %w", publisher, err))
	}

	if err := s.messenger.SendText(ctx, reviewChatID, reviewIntro(publisher, testers)); err != nil {
		return s.abandonReviewChat(ctx, reviewChatID, fmt.Errorf("post review intro: %w", err))
	}

	helperID, err := s.messenger.SendBundle(ctx, reviewChatID, s.cfg.HelperBundle,
		"Use this helper to inspect and edit the submission under review.")
	if err != nil {
		return s.abandonReviewChat(ctx, reviewChatID, fmt.Errorf("send review helper: %w", err))
	}

	reviewChat := chatroom.ReviewChat{
		ChatID:            reviewChatID,
		HelperMsgID:       helperID,
		SubmitChatID:      submitChat.ChatID,
		SubmitHelperMsgID: submitChat.HelperMsgID,
		Publisher:         publisher,
		Testers:           testers,
		EntryID:           submitChat.EntryID,
	}
	if err := s.store.UpgradeToReviewChat(ctx, reviewChat); err != nil {
		return s.abandonReviewChat(ctx, reviewChatID, fmt.Errorf("persist review chat: %w", err))
	}

	s.log.WithField("entry_id", entry.ID).
		WithField("review_chat", reviewChatID).
		Info("submission moved to review")
	return reviewChat, nil
}

// abandonReviewChat marks a half-built review group chat as dead after a
// setup step failed. The chat itself cannot be removed through the messenger,
// so it gets a notice and a warn log entry instead.
func (s *Service) abandonReviewChat(ctx context.Context, reviewChatID int64, cause error) (chatroom.ReviewChat, error) {
	s.log.WithError(cause).
		WithField("review_chat", reviewChatID).
		Warn("abandoning half-built review chat")
	_ = s.messenger.SendText(ctx, reviewChatID,
		"Setting up this review chat failed. It will not be used; the submission stays open.")
	return chatroom.ReviewChat{}, cause
}

// Release publishes the entry bound to a review chat.
//
// The gate rejects the release with the list of missing required fields and
// makes no state change. On success active flips to true, never back, the
// entry becomes visible to the diff engine and the review chat moves to the
// release role.
func (s *Service) Release(ctx context.Context, reviewChat chatroom.ReviewChat) (catalog.AppEntry, error) {
	entry, err := s.store.GetApp(ctx, reviewChat.EntryID)
	if err != nil {
		return catalog.AppEntry{}, fmt.Errorf("load entry %s: %w", reviewChat.EntryID, err)
	}

	if missing := entry.MissingFields(); len(missing) > 0 {
		return catalog.AppEntry{}, &MissingRequiredFieldsError{Fields: missing}
	}
	if entry.Active {
		return entry, nil
	}

	entry.Active = true
	entry.Date = time.Now().UTC()
	published, err := s.store.UpdateApp(ctx, entry)
	if err != nil {
		return catalog.AppEntry{}, fmt.Errorf("publish entry %s: %w", entry.ID, err)
	}

	if err := s.store.SetChatRole(ctx, reviewChat.ChatID, chatroom.RoleRelease); err != nil {
		return catalog.AppEntry{}, fmt.Errorf("advance chat role: %w", err)
	}

	s.log.WithField("app_id", published.AppID).
		WithField("serial", published.Serial).
		Info("application published")
	return published, nil
}

// NotifyGateFailure routes a workflow gate failure: a human-readable notice
// to the genesis chat for operator visibility and a short explanation to the
// submitter's chat.
func (s *Service) NotifyGateFailure(ctx context.Context, submitChatID int64, gateErr error) {
	if s.cfg.GenesisChatID != 0 {
		_ = s.messenger.SendText(ctx, s.cfg.GenesisChatID,
			"Could not create a review chat: "+gateErr.Error())
	}
	_ = s.messenger.SendText(ctx, submitChatID,
		"There was a problem creating your review chat, the operators have been notified. Your draft is kept, try again later.")
}

func reviewIntro(publisher string, testers []string) string {
	return fmt.Sprintf("Publisher: %s\nTesters: %s\nTest the app and edit its metadata; the publisher releases it with /release once everything is present.",
		publisher, strings.Join(testers, ", "))
}
