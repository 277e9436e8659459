package scheduler

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"wagrambridge/database"
)

func testDB(t *testing.T) *database.Database {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
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

type capture struct {
	sent     []string
	failNext bool
	notified []bool
}

func (c *capture) send(target, body string) error {
	if c.failNext {
		c.failNext = false
		return fmt.Errorf("network down")
	}
	c.sent = append(c.sent, target+": "+body)
	return nil
}

func (c *capture) notify(msg database.ScheduledMessage, delivered bool) {
	c.notified = append(c.notified, delivered)
}

func testScheduler(t *testing.T) (*Scheduler, *capture, *time.Time) {
	t.Helper()
	c := &capture{}
	s := New(testDB(t), c.send, c.notify, 30, zap.NewNop())
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return now }
	return s, c, &now
}

func TestSchedulePastDueDeliversOnNextSweep(t *testing.T) {
	s, c, now := testScheduler(t)

	msg, err := s.Schedule("a@s.whatsapp.net", "A", "hi", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("scheduling in the past should be allowed: %v", err)
	}
	if msg.Status != database.ScheduleStatusPending {
		t.Fatalf("expected pending, got %q", msg.Status)
	}

	s.ProcessDue()
	if len(c.sent) != 1 || c.sent[0] != "a@s.whatsapp.net: hi" {
		t.Fatalf("past-due message should go out on the first sweep, got %v", c.sent)
	}
}

func TestProcessDueSendsInOrder(t *testing.T) {
	s, c, now := testScheduler(t)

	// Queued out of order; delivery must follow dueAt ascending.
	if _, err := s.Schedule("b@s.whatsapp.net", "B", "second", now.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Schedule("a@s.whatsapp.net", "A", "first", now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Schedule("c@s.whatsapp.net", "C", "later", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	*now = now.Add(5 * time.Minute)
	s.ProcessDue()

	want := []string{"a@s.whatsapp.net: first", "b@s.whatsapp.net: second"}
	if len(c.sent) != len(want) {
		t.Fatalf("expected %d deliveries, got %v", len(want), c.sent)
	}
	for i := range want {
		if c.sent[i] != want[i] {
			t.Fatalf("delivery %d: got %q, want %q", i, c.sent[i], want[i])
		}
	}

	upcoming, err := s.Upcoming()
	if err != nil {
		t.Fatal(err)
	}
	if len(upcoming) != 1 || upcoming[0].Body != "later" {
		t.Fatalf("unexpected upcoming set: %+v", upcoming)
	}
}

func TestProcessDueIsIdempotent(t *testing.T) {
	s, c, now := testScheduler(t)

	if _, err := s.Schedule("a@s.whatsapp.net", "A", "once", now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(time.Minute)

	s.ProcessDue()
	s.ProcessDue()

	if len(c.sent) != 1 {
		t.Fatalf("sent row should not be re-delivered, got %v", c.sent)
	}
}

func TestProcessDueFailureDoesNotStopSweep(t *testing.T) {
	s, c, now := testScheduler(t)
	c.failNext = true

	first, err := s.Schedule("a@s.whatsapp.net", "A", "will fail", now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Schedule("b@s.whatsapp.net", "B", "will send", now.Add(2*time.Second)); err != nil {
		t.Fatal(err)
	}

	*now = now.Add(time.Minute)
	s.ProcessDue()

	if len(c.sent) != 1 || c.sent[0] != "b@s.whatsapp.net: will send" {
		t.Fatalf("second message should still deliver, got %v", c.sent)
	}
	if len(c.notified) != 2 || c.notified[0] || !c.notified[1] {
		t.Fatalf("unexpected notifications: %v", c.notified)
	}

	rows, err := s.List(10)
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		if row.ID == first.ID && row.Status != database.ScheduleStatusFailed {
			t.Fatalf("failed row has status %q", row.Status)
		}
	}
}

func TestCancelOnlyPending(t *testing.T) {
	s, c, now := testScheduler(t)

	msg, err := s.Schedule("a@s.whatsapp.net", "A", "bye", now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.Cancel(msg.ID)
	if err != nil || !ok {
		t.Fatalf("cancel of pending message: ok=%v err=%v", ok, err)
	}

	// Second cancel, cancel after terminal state, cancel of unknown id.
	ok, err = s.Cancel(msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("cancel of a cancelled message should report false")
	}
	ok, err = s.Cancel(99999)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("cancel of an unknown id should report false")
	}

	*now = now.Add(2 * time.Minute)
	s.ProcessDue()
	if len(c.sent) != 0 {
		t.Fatalf("cancelled message was delivered: %v", c.sent)
	}
}
