package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/webxdc/storebot/internal/app/domain/catalog"
	"github.com/webxdc/storebot/internal/app/domain/chatroom"
	"github.com/webxdc/storebot/internal/app/services/ingest"
	"github.com/webxdc/storebot/internal/app/storage"
	"github.com/webxdc/storebot/internal/app/transport"
)

// stubReader feeds ingestion without real archives.
type stubReader struct {
	manifest ingest.Manifest
	icon     []byte
	err      error
}

func (r stubReader) Open(string) (ingest.Manifest, []byte, error) {
	return r.manifest, r.icon, r.err
}

func newService(store storage.Store, messenger transport.Messenger, reader ingest.Reader) *Service {
	return New(store, messenger, ingest.New(reader, nil), Config{
		GenesisChatID: 1,
		HelperBundle:  "helper.xdc",
		TesterCount:   2,
	}, nil)
}

func completeManifest() ingest.Manifest {
	return ingest.Manifest{
		AppID:         "com.example.calc",
		Version:       "1.0",
		Name:          "Calc",
		Description:   "A calculator",
		SourceCodeURL: "https://example.org",
	}
}

func TestJoinRejectsUnknownPool(t *testing.T) {
	svc := newService(storage.NewMemory(), transport.NewFake(), stubReader{})
	if err := svc.Join(context.Background(), "alice", chatroom.Pool("gardeners")); err == nil {
		t.Fatal("unknown pool must be rejected")
	}
}

func TestOpenSubmitSession(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	fake := transport.NewFake()
	svc := newService(store, fake, stubReader{manifest: completeManifest(), icon: []byte("icon")})

	chat, err := svc.OpenSubmitSession(ctx, 10, "alice", "calc.xdc")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if chat.ChatID != 10 || chat.Creator != "alice" || chat.EntryID == "" {
		t.Fatalf("chat = %+v", chat)
	}
	if chat.HelperMsgID == 0 {
		t.Fatal("the helper bundle message must be recorded")
	}

	entry, err := store.GetApp(ctx, chat.EntryID)
	if err != nil {
		t.Fatalf("draft missing: %v", err)
	}
	if entry.Active {
		t.Fatal("drafts must start unpublished")
	}
	if entry.AppID != "com.example.calc" {
		t.Fatalf("entry = %+v", entry)
	}

	if role, _ := store.GetChatRole(ctx, 10); role != chatroom.RoleSubmit {
		t.Fatalf("chat role = %v, want submit", role)
	}
	if len(fake.Bundles) != 1 || fake.Bundles[0].Path != "helper.xdc" {
		t.Fatalf("bundles = %+v, want the helper posted", fake.Bundles)
	}
}

// switchReader lets a test swap the manifest between uploads.
type switchReader struct {
	r ingest.Reader
}

func (s *switchReader) Open(path string) (ingest.Manifest, []byte, error) {
	return s.r.Open(path)
}

func TestUpdateDraftChangedAppIDStartsNewDraft(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	fake := transport.NewFake()
	reader := &switchReader{r: stubReader{manifest: completeManifest()}}
	svc := newService(store, fake, reader)

	chat, err := svc.OpenSubmitSession(ctx, 10, "alice", "calc.xdc")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	reader.r = stubReader{manifest: ingest.Manifest{
		AppID: "com.example.other", Version: "0.1", Name: "Other",
	}}
	replacement, err := svc.UpdateDraft(ctx, chat.EntryID, 10, "other.xdc")
	if err != nil {
		t.Fatalf("update with changed app_id: %v", err)
	}
	if replacement.ID == chat.EntryID {
		t.Fatal("a changed app_id must produce a new entry, not mutate the old one")
	}
	if replacement.AppID != "com.example.other" {
		t.Fatalf("replacement = %+v", replacement)
	}

	if _, err := store.GetAppByAppID(ctx, "com.example.other"); err != nil {
		t.Fatalf("new entry not cataloged: %v", err)
	}
	old, err := store.GetApp(ctx, chat.EntryID)
	if err != nil {
		t.Fatalf("old draft must survive: %v", err)
	}
	if old.AppID != "com.example.calc" || old.Active {
		t.Fatalf("old draft = %+v", old)
	}

	rebound, err := store.GetSubmitChat(ctx, 10)
	if err != nil {
		t.Fatalf("submit binding lost: %v", err)
	}
	if rebound.EntryID != replacement.ID {
		t.Fatalf("chat bound to %s, want %s", rebound.EntryID, replacement.ID)
	}
}

func TestSubmitForReviewGates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	fake := transport.NewFake()
	svc := newService(store, fake, stubReader{manifest: completeManifest()})

	entry, err := store.CreateApp(ctx, catalog.AppEntry{AppID: "com.example.calc"})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	submitChat := chatroom.SubmitChat{ChatID: 10, HelperMsgID: 100, EntryID: entry.ID}

	if _, err := svc.SubmitForReview(ctx, submitChat); !errors.Is(err, ErrNotEnoughPublishers) {
		t.Fatalf("want ErrNotEnoughPublishers, got %v", err)
	}

	if err := store.AddMember(ctx, chatroom.PoolPublishers, "bob"); err != nil {
		t.Fatalf("add publisher: %v", err)
	}
	if _, err := svc.SubmitForReview(ctx, submitChat); !errors.Is(err, ErrNotEnoughTesters) {
		t.Fatalf("want ErrNotEnoughTesters, got %v", err)
	}

	// The draft and binding survive gate failures for a later retry.
	if _, err := store.GetApp(ctx, entry.ID); err != nil {
		t.Fatalf("draft must survive gate failures: %v", err)
	}
}

func TestSubmitForReviewCreatesReviewChat(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	fake := transport.NewFake()
	svc := newService(store, fake, stubReader{manifest: completeManifest()})

	entry, err := store.CreateApp(ctx, catalog.AppEntry{AppID: "com.example.calc", Name: "Calc"})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	submitChat := chatroom.SubmitChat{ChatID: 10, HelperMsgID: 100, EntryID: entry.ID, Creator: "alice"}
	if err := store.CreateSubmitChat(ctx, submitChat); err != nil {
		t.Fatalf("bind submit chat: %v", err)
	}
	store.AddMember(ctx, chatroom.PoolPublishers, "bob")
	store.AddMember(ctx, chatroom.PoolTesters, "t1")
	store.AddMember(ctx, chatroom.PoolTesters, "t2")
	store.AddMember(ctx, chatroom.PoolTesters, "t3")

	reviewChat, err := svc.SubmitForReview(ctx, submitChat)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if reviewChat.Publisher != "bob" {
		t.Fatalf("publisher = %q", reviewChat.Publisher)
	}
	if len(reviewChat.Testers) != 2 {
		t.Fatalf("testers = %v, want the configured count", reviewChat.Testers)
	}
	if reviewChat.SubmitChatID != 10 || reviewChat.EntryID != entry.ID {
		t.Fatalf("review chat = %+v", reviewChat)
	}

	if len(fake.Chats) != 1 || !fake.Chats[0].Protected {
		t.Fatalf("chats = %+v, want one protected group", fake.Chats)
	}
	if got := len(fake.Chats[0].Members); got != 3 {
		t.Fatalf("members = %d, want publisher plus testers", got)
	}
	if !strings.Contains(fake.Chats[0].Title, "Calc") {
		t.Fatalf("title = %q", fake.Chats[0].Title)
	}

	if _, err := store.GetSubmitChat(ctx, 10); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("the submit binding must be consumed by the upgrade")
	}
	if role, _ := store.GetChatRole(ctx, reviewChat.ChatID); role != chatroom.RoleReview {
		t.Fatalf("review chat role = %v", role)
	}
}

// failingMessenger rejects member additions to simulate a provider failure
// after the group chat already exists.
type failingMessenger struct {
	*transport.Fake
}

func (f *failingMessenger) AddMember(context.Context, int64, string) error {
	return errors.New("member add rejected")
}

func TestSubmitForReviewAbandonsChatOnSetupFailure(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	fake := &failingMessenger{Fake: transport.NewFake()}
	svc := newService(store, fake, stubReader{manifest: completeManifest()})

	entry, err := store.CreateApp(ctx, catalog.AppEntry{AppID: "com.example.calc", Name: "Calc"})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	submitChat := chatroom.SubmitChat{ChatID: 10, HelperMsgID: 100, EntryID: entry.ID}
	if err := store.CreateSubmitChat(ctx, submitChat); err != nil {
		t.Fatalf("bind submit chat: %v", err)
	}
	store.AddMember(ctx, chatroom.PoolPublishers, "bob")
	store.AddMember(ctx, chatroom.PoolTesters, "t1")

	if _, err := svc.SubmitForReview(ctx, submitChat); err == nil {
		t.Fatal("the setup failure must surface")
	}

	if len(fake.Chats) != 1 {
		t.Fatalf("chats = %+v", fake.Chats)
	}
	orphan := fake.Chats[0].ChatID
	if _, err := store.GetReviewChat(ctx, orphan); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("no review binding may be persisted for the dead chat")
	}
	texts := fake.TextsTo(orphan)
	if len(texts) == 0 || !strings.Contains(texts[len(texts)-1], "will not be used") {
		t.Fatalf("texts = %v, want the abandonment notice", texts)
	}

	// The submission survives for a retry.
	if _, err := store.GetSubmitChat(ctx, 10); err != nil {
		t.Fatalf("submit binding lost: %v", err)
	}
}

func TestReleaseGateRejectsIncompleteEntries(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	svc := newService(store, transport.NewFake(), stubReader{})

	entry, err := store.CreateApp(ctx, catalog.AppEntry{AppID: "com.example.calc", Version: "1.0"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.Release(ctx, chatroom.ReviewChat{ChatID: 20, EntryID: entry.ID})
	var missing *MissingRequiredFieldsError
	if !errors.As(err, &missing) {
		t.Fatalf("want MissingRequiredFieldsError, got %v", err)
	}
	if len(missing.Fields) == 0 {
		t.Fatal("the error must name the missing fields")
	}

	got, _ := store.GetApp(ctx, entry.ID)
	if got.Active || got.Serial != entry.Serial {
		t.Fatal("a rejected release must not change state")
	}
}

func TestReleasePublishesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	svc := newService(store, transport.NewFake(), stubReader{})

	entry, err := store.CreateApp(ctx, catalog.AppEntry{
		AppID: "com.example.calc", Version: "1.0", Name: "Calc",
		Description: "A calculator", SourceCodeURL: "https://example.org",
		Image: "aWNvbg==",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	reviewChat := chatroom.ReviewChat{ChatID: 20, EntryID: entry.ID, Publisher: "bob"}

	published, err := svc.Release(ctx, reviewChat)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !published.Active || published.Date.IsZero() {
		t.Fatalf("published = %+v", published)
	}
	if role, _ := store.GetChatRole(ctx, 20); role != chatroom.RoleRelease {
		t.Fatalf("chat role = %v, want release", role)
	}

	// Releasing again is a no-op, not a new serial.
	again, err := svc.Release(ctx, reviewChat)
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if again.Serial != published.Serial {
		t.Fatal("a repeated release must not write a new revision")
	}
}

func TestGateErrorsAreRecognized(t *testing.T) {
	if !IsGateError(ErrNotEnoughTesters) || !IsGateError(ErrNotEnoughPublishers) {
		t.Fatal("pool gates are gate errors")
	}
	if !IsGateError(&MissingRequiredFieldsError{Fields: []string{"name"}}) {
		t.Fatal("the release gate is a gate error")
	}
	if IsGateError(errors.New("boom")) {
		t.Fatal("operational failures are not gate errors")
	}
}
