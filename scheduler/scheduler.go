// Package scheduler delivers messages whose send time was set in advance.
// Rows live in the scheduled_messages table; a periodic tick drains the due
// ones in order.
package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"wagrambridge/database"
)

// SendFunc delivers one due message to its WhatsApp target.
type SendFunc func(targetIdentity, body string) error

// NotifyFunc tells the operator what happened to a scheduled message.
type NotifyFunc func(msg database.ScheduledMessage, delivered bool)

type Scheduler struct {
	db      *database.Database
	send    SendFunc
	notify  NotifyFunc
	logger  *zap.Logger
	cron    *gocron.Scheduler
	tick    time.Duration
	nowFunc func() time.Time
}

func New(db *database.Database, send SendFunc, notify NotifyFunc, tickSeconds int, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		db:      db,
		send:    send,
		notify:  notify,
		logger:  logger,
		tick:    time.Duration(tickSeconds) * time.Second,
		nowFunc: time.Now,
	}
}

// Start begins the periodic due-message sweep. Non-blocking.
func (s *Scheduler) Start() error {
	s.cron = gocron.NewScheduler(time.UTC)
	if _, err := s.cron.Every(s.tick).Do(s.ProcessDue); err != nil {
		return fmt.Errorf("failed to register scheduler tick: %w", err)
	}
	s.cron.StartAsync()
	s.logger.Info("scheduler started", zap.Duration("tick", s.tick))
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Schedule queues body for delivery to targetIdentity at dueAt. A dueAt in
// the past is allowed; the message becomes eligible on the next sweep.
func (s *Scheduler) Schedule(targetIdentity, targetDisplay, body string, dueAt time.Time) (*database.ScheduledMessage, error) {
	msg := &database.ScheduledMessage{
		TargetIdentity: targetIdentity,
		TargetDisplay:  targetDisplay,
		Body:           body,
		DueAt:          dueAt.UTC(),
		Status:         database.ScheduleStatusPending,
	}
	if err := s.db.ScheduledCreate(msg); err != nil {
		return nil, fmt.Errorf("failed to queue scheduled message: %w", err)
	}
	s.logger.Info("message scheduled",
		zap.Uint("id", msg.ID),
		zap.String("target", targetIdentity),
		zap.Time("due_at", msg.DueAt),
	)
	return msg, nil
}

// Cancel flips a still-pending message to cancelled. Returns false when the
// message was already sent, failed, cancelled, or never existed.
func (s *Scheduler) Cancel(id uint) (bool, error) {
	return s.db.ScheduledCancel(id)
}

func (s *Scheduler) List(limit int) ([]database.ScheduledMessage, error) {
	return s.db.ScheduledList(limit)
}

func (s *Scheduler) Upcoming() ([]database.ScheduledMessage, error) {
	return s.db.ScheduledUpcoming(s.nowFunc())
}

// ProcessDue sends every pending message whose time has come, oldest due
// first. One failed delivery marks that row failed and moves on; it does
// not stop the sweep.
func (s *Scheduler) ProcessDue() {
	now := s.nowFunc()
	due, err := s.db.ScheduledDue(now)
	if err != nil {
		s.logger.Error("failed to load due scheduled messages", zap.Error(err))
		return
	}

	for _, msg := range due {
		if err := s.send(msg.TargetIdentity, msg.Body); err != nil {
			s.logger.Error("scheduled delivery failed",
				zap.Uint("id", msg.ID),
				zap.String("target", msg.TargetIdentity),
				zap.Error(err),
			)
			if dbErr := s.db.ScheduledMarkFailed(msg.ID); dbErr != nil {
				s.logger.Error("failed to mark scheduled message failed",
					zap.Uint("id", msg.ID), zap.Error(dbErr))
			}
			if s.notify != nil {
				s.notify(msg, false)
			}
			continue
		}

		if err := s.db.ScheduledMarkSent(msg.ID, now); err != nil {
			s.logger.Error("failed to mark scheduled message sent",
				zap.Uint("id", msg.ID), zap.Error(err))
		}
		s.logger.Info("scheduled message delivered",
			zap.Uint("id", msg.ID),
			zap.String("target", msg.TargetIdentity),
		)
		if s.notify != nil {
			s.notify(msg, true)
		}
	}
}
