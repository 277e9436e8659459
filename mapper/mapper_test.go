package mapper

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"wagrambridge/database"
	"wagrambridge/vault"
)

func testDB(t *testing.T) *database.Database {
	t.Helper()
	// Busy timeout because the concurrency tests write from several
	// goroutines at once.
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if _, err := database.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return database.New(gdb)
}

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New("mapper-test-secret", zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build vault: %v", err)
	}
	return v
}

// stubTopics hands out sequential thread ids and counts calls. An optional
// delay widens the race window for the concurrency test.
type stubTopics struct {
	calls int64
	delay time.Duration
}

func (s *stubTopics) CreateTopic(title string) (int64, error) {
	n := atomic.AddInt64(&s.calls, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return 1000 + n, nil
}

type failingTopics struct{}

func (failingTopics) CreateTopic(string) (int64, error) {
	return 0, fmt.Errorf("topic quota exhausted")
}

func TestTopicForCreatesOnce(t *testing.T) {
	topics := &stubTopics{}
	m := NewContactMapper(testDB(t), topics, zap.NewNop())

	first, err := m.TopicFor("5511999@s.whatsapp.net", database.ContactHints{PlatformName: "Ana"})
	if err != nil {
		t.Fatalf("TopicFor failed: %v", err)
	}
	second, err := m.TopicFor("5511999@s.whatsapp.net", database.ContactHints{})
	if err != nil {
		t.Fatalf("TopicFor failed on reuse: %v", err)
	}

	if first != second {
		t.Fatalf("expected the same thread id, got %d and %d", first, second)
	}
	if topics.calls != 1 {
		t.Fatalf("expected one topic creation, got %d", topics.calls)
	}
}

func TestTopicForConcurrentCallersShareOneTopic(t *testing.T) {
	topics := &stubTopics{delay: 50 * time.Millisecond}
	m := NewContactMapper(testDB(t), topics, zap.NewNop())

	const workers = 8
	results := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.TopicFor("5511000@s.whatsapp.net", database.ContactHints{})
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			results[i] = id
		}(i)
	}
	wg.Wait()

	if topics.calls != 1 {
		t.Fatalf("expected one topic creation across %d workers, got %d", workers, topics.calls)
	}
	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("worker %d saw thread %d, worker 0 saw %d", i, results[i], results[0])
		}
	}
}

func TestTopicForDistinctIdentities(t *testing.T) {
	topics := &stubTopics{}
	m := NewContactMapper(testDB(t), topics, zap.NewNop())

	a, err := m.TopicFor("a@s.whatsapp.net", database.ContactHints{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.TopicFor("b@s.whatsapp.net", database.ContactHints{})
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("distinct identities should not share a topic, both got %d", a)
	}
}

func TestTopicForFailureLeavesContactUnassigned(t *testing.T) {
	db := testDB(t)
	m := NewContactMapper(db, failingTopics{}, zap.NewNop())

	if _, err := m.TopicFor("x@s.whatsapp.net", database.ContactHints{}); err == nil {
		t.Fatal("expected topic creation error")
	}

	contact, err := db.ContactByIdentity("x@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if contact == nil || contact.ThreadID != 0 {
		t.Fatalf("contact should exist without a thread id, got %+v", contact)
	}
}

func TestResolveKeepsKnownFields(t *testing.T) {
	m := NewContactMapper(testDB(t), &stubTopics{}, zap.NewNop())

	if _, err := m.Resolve("c@s.whatsapp.net", database.ContactHints{
		PlatformName: "Carlos", Phone: "5511888",
	}); err != nil {
		t.Fatal(err)
	}
	contact, err := m.Resolve("c@s.whatsapp.net", database.ContactHints{SavedName: "Carlos Silva"})
	if err != nil {
		t.Fatal(err)
	}

	if contact.PlatformName != "Carlos" || contact.Phone != "5511888" {
		t.Fatalf("partial upsert clobbered earlier fields: %+v", contact)
	}
	if contact.SavedName != "Carlos Silva" {
		t.Fatalf("new hint was not applied: %+v", contact)
	}
}

func TestDisplayNamePrecedence(t *testing.T) {
	m := NewContactMapper(testDB(t), &stubTopics{}, zap.NewNop())

	contact := &database.Contact{
		Identity:     "d@s.whatsapp.net",
		Phone:        "5511777",
		PlatformName: "push",
		SavedName:    "saved",
		Alias:        "alias",
	}
	if got := m.DisplayName(contact); got != "alias" {
		t.Fatalf("expected alias, got %q", got)
	}
	contact.Alias = ""
	if got := m.DisplayName(contact); got != "saved" {
		t.Fatalf("expected saved name, got %q", got)
	}
	contact.SavedName = ""
	if got := m.DisplayName(contact); got != "push" {
		t.Fatalf("expected platform name, got %q", got)
	}
	contact.PlatformName = ""
	if got := m.DisplayName(contact); got != "5511777" {
		t.Fatalf("expected phone, got %q", got)
	}
	contact.Phone = ""
	if got := m.DisplayName(contact); got != "d@s.whatsapp.net" {
		t.Fatalf("expected identity, got %q", got)
	}
	if got := m.DisplayName(nil); got != "Unknown" {
		t.Fatalf("expected Unknown for nil contact, got %q", got)
	}
}

func TestTopicTitleFormat(t *testing.T) {
	m := NewContactMapper(testDB(t), &stubTopics{}, zap.NewNop())

	person := &database.Contact{Identity: "e@s.whatsapp.net", SavedName: "Erin", Phone: "5511666"}
	if got := m.TopicTitle(person); got != "Erin (5511666)" {
		t.Fatalf("expected phone suffix, got %q", got)
	}
	// No duplicate suffix when the phone is already the display name.
	person.SavedName = ""
	if got := m.TopicTitle(person); got != "5511666" {
		t.Fatalf("expected bare phone, got %q", got)
	}
	group := &database.Contact{Identity: "g@g.us", GroupName: "Family", IsGroup: true}
	if got := m.TopicTitle(group); got != "👥 Family" {
		t.Fatalf("expected group prefix, got %q", got)
	}
}

func TestRecordAndLookupRoundTrip(t *testing.T) {
	db := testDB(t)
	m := NewMessageMapper(db, testVault(t), zap.NewNop())

	err := m.Record(database.MessageMap{
		PrimaryMsgID:    "3EB0ABCDEF",
		SecondaryMsgID:  42,
		SecondaryChatID: -100123,
		ThreadID:        7,
		ContactID:       "c@s.whatsapp.net",
		Direction:       "wa_to_tg",
		MessageKind:     "text",
		Content:         "meet at noon",
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	byWa, err := m.ByWaID("3EB0ABCDEF")
	if err != nil || byWa == nil {
		t.Fatalf("ByWaID failed: %v, %v", byWa, err)
	}
	if byWa.Content != "meet at noon" {
		t.Fatalf("content should decrypt on read, got %q", byWa.Content)
	}

	byTg, err := m.ByTelegramID(42, -100123)
	if err != nil || byTg == nil {
		t.Fatalf("ByTelegramID failed: %v, %v", byTg, err)
	}
	if byTg.PrimaryMsgID != "3EB0ABCDEF" {
		t.Fatalf("wrong mapping: %+v", byTg)
	}

	// Same message id in a different chat must not match.
	other, err := m.ByTelegramID(42, -100999)
	if err != nil {
		t.Fatal(err)
	}
	if other != nil {
		t.Fatalf("secondary lookup matched across chats: %+v", other)
	}
}

func TestRecordContentIsEncryptedAtRest(t *testing.T) {
	db := testDB(t)
	v := testVault(t)
	m := NewMessageMapper(db, v, zap.NewNop())

	if err := m.Record(database.MessageMap{
		PrimaryMsgID: "3EB0RAW", SecondaryMsgID: 1, SecondaryChatID: -1,
		Content: "secret plans",
	}); err != nil {
		t.Fatal(err)
	}

	raw, err := db.MessageMapByPrimary("3EB0RAW")
	if err != nil || raw == nil {
		t.Fatalf("raw lookup failed: %v, %v", raw, err)
	}
	if raw.Content == "secret plans" {
		t.Fatal("content stored in plaintext")
	}
	if !v.LooksEncrypted(raw.Content) {
		t.Fatalf("stored content does not look like an envelope: %q", raw.Content)
	}
}

func TestRecordKeepsFirstContent(t *testing.T) {
	m := NewMessageMapper(testDB(t), testVault(t), zap.NewNop())

	base := database.MessageMap{
		PrimaryMsgID: "3EB0FIRST", SecondaryMsgID: 5, SecondaryChatID: -5,
		Content: "original",
	}
	if err := m.Record(base); err != nil {
		t.Fatal(err)
	}

	// Re-record with fresh routing and no content: routing moves, text stays.
	if err := m.Record(database.MessageMap{
		PrimaryMsgID: "3EB0FIRST", SecondaryMsgID: 6, SecondaryChatID: -5,
	}); err != nil {
		t.Fatal(err)
	}
	got, err := m.ByWaID("3EB0FIRST")
	if err != nil {
		t.Fatal(err)
	}
	if got.SecondaryMsgID != 6 {
		t.Fatalf("routing should take the latest value, got %d", got.SecondaryMsgID)
	}
	if got.Content != "original" {
		t.Fatalf("empty re-record cleared content: %q", got.Content)
	}

	// A second non-empty body must not replace the first.
	base.Content = "rewritten"
	if err := m.Record(base); err != nil {
		t.Fatal(err)
	}
	got, err = m.ByWaID("3EB0FIRST")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "original" {
		t.Fatalf("content should be first-write-wins, got %q", got.Content)
	}
}

func TestSearchContentScansDecrypted(t *testing.T) {
	m := NewMessageMapper(testDB(t), testVault(t), zap.NewNop())

	bodies := []string{"groceries for tonight", "Flight lands at 9", "call grandma"}
	for i, body := range bodies {
		if err := m.Record(database.MessageMap{
			PrimaryMsgID:    fmt.Sprintf("3EB0S%d", i),
			SecondaryMsgID:  int64(100 + i),
			SecondaryChatID: -1,
			Content:         body,
		}); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := m.SearchContent("FLIGHT", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Content != "Flight lands at 9" {
		t.Fatalf("unexpected search hits: %+v", hits)
	}

	hits, err = m.SearchContent("gr", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("limit not honored, got %d hits", len(hits))
	}
}

func TestReactionReplacesPrevious(t *testing.T) {
	m := NewMessageMapper(testDB(t), testVault(t), zap.NewNop())

	add := func(emoji string) {
		t.Helper()
		if err := m.RecordReaction(database.ReactionMap{
			PrimaryMsgID: "3EB0R", SecondaryMsgID: 9, SecondaryChatID: -9,
			Emoji: emoji, ReactorIdentity: "r@s.whatsapp.net",
		}); err != nil {
			t.Fatal(err)
		}
	}

	add("👍")
	add("❤️")

	reactions, err := m.Reactions("3EB0R")
	if err != nil {
		t.Fatal(err)
	}
	if len(reactions) != 1 || reactions[0].Emoji != "❤️" {
		t.Fatalf("expected one replaced reaction, got %+v", reactions)
	}

	if err := m.RemoveReaction("3EB0R", "r@s.whatsapp.net"); err != nil {
		t.Fatal(err)
	}
	reactions, err = m.Reactions("3EB0R")
	if err != nil {
		t.Fatal(err)
	}
	if len(reactions) != 0 {
		t.Fatalf("reaction should be gone, got %+v", reactions)
	}
}
