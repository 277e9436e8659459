// Package mapper ties remote WhatsApp identities and bridged messages to
// their Telegram side: forum topics for contacts, message id pairs for
// individual messages.
package mapper

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.uber.org/zap"

	"wagrambridge/database"
)

// TopicCreator creates a forum topic on the Telegram side and returns its
// thread id. The Telegram client implements it.
type TopicCreator interface {
	CreateTopic(title string) (int64, error)
}

type ContactMapper struct {
	db     *database.Database
	topics TopicCreator
	logger *zap.Logger

	mu       sync.Mutex
	creating map[string]*topicCreation
}

// topicCreation is the in-flight marker for one identity. Waiters block on
// done, then re-read the contact row instead of creating a second topic.
type topicCreation struct {
	done chan struct{}
}

func NewContactMapper(db *database.Database, topics TopicCreator, logger *zap.Logger) *ContactMapper {
	return &ContactMapper{
		db:       db,
		topics:   topics,
		logger:   logger,
		creating: make(map[string]*topicCreation),
	}
}

// Resolve upserts the contact row for identity and returns it. Hints only
// overwrite what they carry; see database.ContactUpsert.
func (m *ContactMapper) Resolve(identity string, hints database.ContactHints) (*database.Contact, error) {
	contact, err := m.db.ContactUpsert(identity, hints)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert contact %s: %w", identity, err)
	}
	return contact, nil
}

// TopicFor returns the Telegram thread id for identity, creating the forum
// topic on first use. Concurrent callers for the same identity wait for the
// first creation instead of racing; distinct identities proceed in parallel.
func (m *ContactMapper) TopicFor(identity string, hints database.ContactHints) (int64, error) {
	for {
		contact, err := m.Resolve(identity, hints)
		if err != nil {
			return 0, err
		}
		if contact.ThreadID != 0 {
			return contact.ThreadID, nil
		}

		m.mu.Lock()
		if inflight, ok := m.creating[identity]; ok {
			m.mu.Unlock()
			<-inflight.done
			// Re-read; the owner either persisted a thread id or failed.
			continue
		}
		creation := &topicCreation{done: make(chan struct{})}
		m.creating[identity] = creation
		m.mu.Unlock()

		threadID, err := m.createTopic(identity, contact)

		m.mu.Lock()
		delete(m.creating, identity)
		m.mu.Unlock()
		close(creation.done)

		if err != nil {
			return 0, err
		}
		return threadID, nil
	}
}

func (m *ContactMapper) createTopic(identity string, contact *database.Contact) (int64, error) {
	title := m.TopicTitle(contact)

	threadID, err := m.topics.CreateTopic(title)
	if err != nil {
		return 0, fmt.Errorf("failed to create topic for %s: %w", identity, err)
	}

	if err := m.db.ContactSetThreadID(identity, threadID); err != nil {
		return 0, fmt.Errorf("failed to store thread id for %s: %w", identity, err)
	}

	m.logger.Info("created topic for contact",
		zap.String("identity", identity),
		zap.String("title", title),
		zap.Int64("thread_id", threadID),
	)
	return threadID, nil
}

// ByThreadID returns the contact owning a Telegram topic, or nil when the
// topic is not bridged.
func (m *ContactMapper) ByThreadID(threadID int64) (*database.Contact, error) {
	return m.db.ContactByThreadID(threadID)
}

func (m *ContactMapper) ByIdentity(identity string) (*database.Contact, error) {
	return m.db.ContactByIdentity(identity)
}

func (m *ContactMapper) SetAlias(identity, alias string) error {
	return m.db.ContactSetAlias(identity, alias)
}

func (m *ContactMapper) SetMuted(identity string, muted bool) error {
	return m.db.ContactSetMuted(identity, muted)
}

func (m *ContactMapper) SetArchived(identity string, archived bool) error {
	return m.db.ContactSetArchived(identity, archived)
}

// Search matches query against every name field, ranking fuzzy matches on
// the display name above plain substring hits from the database.
func (m *ContactMapper) Search(query string) ([]database.Contact, error) {
	contacts, err := m.db.ContactSearch(query)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		contact database.Contact
		rank    int
	}
	results := make([]ranked, 0, len(contacts))
	for _, c := range contacts {
		rank := fuzzy.RankMatchNormalizedFold(query, m.DisplayName(&c))
		if rank < 0 {
			// Substring hit on a non-display field only; sort those last.
			rank = 1 << 20
		}
		results = append(results, ranked{contact: c, rank: rank})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].rank < results[j].rank })

	out := make([]database.Contact, 0, len(results))
	for _, r := range results {
		out = append(out, r.contact)
	}
	return out, nil
}

// TopicTitle builds the forum topic title for a contact. Groups get a 👥
// prefix, individuals get their phone number appended when the display
// name does not already show it.
func (m *ContactMapper) TopicTitle(contact *database.Contact) string {
	display := m.DisplayName(contact)
	if contact.IsGroup {
		return "👥 " + display
	}
	if contact.Phone != "" && contact.Phone != display {
		return fmt.Sprintf("%s (%s)", display, contact.Phone)
	}
	return display
}

// DisplayName picks the best human label for a contact:
// alias, then saved name, then push/group name, then phone, then identity.
func (m *ContactMapper) DisplayName(contact *database.Contact) string {
	if contact == nil {
		return "Unknown"
	}
	candidates := []string{contact.Alias, contact.SavedName}
	if contact.IsGroup {
		candidates = append(candidates, contact.GroupName)
	}
	candidates = append(candidates, contact.PlatformName, contact.Phone, contact.Identity)
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return "Unknown"
}
