package database

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Database wraps the gorm handle with the bridge's store operations. All
// operations are single-row lookups or upserts; callers that need
// cross-call atomicity (topic creation) bring their own lock.
type Database struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Database {
	return &Database{db: db}
}

// ContactUpsert creates or partially updates the contact for identity.
// Empty hint fields keep the stored value; the activity timestamp is
// always refreshed. Muted/archived flags are only defaulted on creation.
func (d *Database) ContactUpsert(identity string, hints ContactHints) (*Contact, error) {
	var contact Contact
	res := d.db.Where("identity = ?", identity).Find(&contact)
	if res.Error != nil {
		return nil, res.Error
	}

	now := time.Now().UTC()

	if contact.Identity == identity {
		if hints.Phone != "" {
			contact.Phone = hints.Phone
		}
		if hints.PlatformName != "" {
			contact.PlatformName = hints.PlatformName
		}
		if hints.SavedName != "" {
			contact.SavedName = hints.SavedName
		}
		if hints.GroupName != "" {
			contact.GroupName = hints.GroupName
		}
		contact.IsGroup = contact.IsGroup || hints.IsGroup
		contact.LastActiveAt = now
		res = d.db.Save(&contact)
		return &contact, res.Error
	}

	contact = Contact{
		Identity:     identity,
		Phone:        hints.Phone,
		PlatformName: hints.PlatformName,
		SavedName:    hints.SavedName,
		IsGroup:      hints.IsGroup,
		GroupName:    hints.GroupName,
		LastActiveAt: now,
	}
	res = d.db.Create(&contact)
	return &contact, res.Error
}

func (d *Database) ContactByIdentity(identity string) (*Contact, error) {
	var contact Contact
	res := d.db.Where("identity = ?", identity).Find(&contact)
	if res.Error != nil {
		return nil, res.Error
	}
	if contact.Identity != identity {
		return nil, nil
	}
	return &contact, nil
}

func (d *Database) ContactByThreadID(threadID int64) (*Contact, error) {
	if threadID == 0 {
		return nil, nil
	}

	var contact Contact
	res := d.db.Where("thread_id = ?", threadID).Find(&contact)
	if res.Error != nil {
		return nil, res.Error
	}
	if contact.ThreadID != threadID {
		return nil, nil
	}
	return &contact, nil
}

func (d *Database) ContactSetThreadID(identity string, threadID int64) error {
	return d.contactPointUpdate(identity, "thread_id", threadID)
}

func (d *Database) ContactSetAlias(identity, alias string) error {
	return d.contactPointUpdate(identity, "alias", alias)
}

func (d *Database) ContactSetMuted(identity string, muted bool) error {
	return d.contactPointUpdate(identity, "is_muted", muted)
}

func (d *Database) ContactSetArchived(identity string, archived bool) error {
	return d.contactPointUpdate(identity, "is_archived", archived)
}

func (d *Database) contactPointUpdate(identity, column string, value any) error {
	res := d.db.Model(&Contact{}).Where("identity = ?", identity).
		Updates(map[string]any{column: value, "updated_at": time.Now().UTC()})
	return res.Error
}

// ContactSearch matches the query case-insensitively against every name
// field, the phone and the identity. Archived contacts are excluded.
func (d *Database) ContactSearch(query string) ([]Contact, error) {
	q := "%" + strings.ToLower(query) + "%"

	var contacts []Contact
	res := d.db.Where(
		`(LOWER(platform_name) LIKE ? OR LOWER(saved_name) LIKE ? OR LOWER(alias) LIKE ?
			OR LOWER(phone) LIKE ? OR LOWER(identity) LIKE ?) AND is_archived = ?`,
		q, q, q, q, q, false,
	).Order("updated_at DESC").Find(&contacts)

	return contacts, res.Error
}

func (d *Database) ContactsAll(includeArchived bool) ([]Contact, error) {
	var contacts []Contact
	tx := d.db.Order("updated_at DESC")
	if !includeArchived {
		tx = tx.Where("is_archived = ?", false)
	}
	res := tx.Find(&contacts)
	return contacts, res.Error
}

// MessageMapUpsert is the idempotent insert keyed by the primary network's
// message id. Routing fields are last-write-wins; content is kept from the
// first write that supplied one.
func (d *Database) MessageMapUpsert(mapping MessageMap) error {
	var existing MessageMap
	res := d.db.Where("primary_msg_id = ?", mapping.PrimaryMsgID).Find(&existing)
	if res.Error != nil {
		return res.Error
	}

	if existing.PrimaryMsgID == mapping.PrimaryMsgID {
		existing.SecondaryMsgID = mapping.SecondaryMsgID
		existing.SecondaryChatID = mapping.SecondaryChatID
		existing.ThreadID = mapping.ThreadID
		if existing.ContactID == "" {
			existing.ContactID = mapping.ContactID
		}
		if existing.SenderJID == "" {
			existing.SenderJID = mapping.SenderJID
		}
		if existing.Content == "" && mapping.Content != "" {
			existing.Content = mapping.Content
		}
		res = d.db.Save(&existing)
		return res.Error
	}

	res = d.db.Create(&mapping)
	return res.Error
}

func (d *Database) MessageMapByPrimary(primaryMsgID string) (*MessageMap, error) {
	var mapping MessageMap
	res := d.db.Where("primary_msg_id = ?", primaryMsgID).Find(&mapping)
	if res.Error != nil {
		return nil, res.Error
	}
	if mapping.PrimaryMsgID != primaryMsgID {
		return nil, nil
	}
	return &mapping, nil
}

// MessageMapBySecondary needs the chat id as well, secondary message ids
// are only unique within one chat.
func (d *Database) MessageMapBySecondary(secondaryMsgID, secondaryChatID int64) (*MessageMap, error) {
	var mapping MessageMap
	res := d.db.Where("secondary_msg_id = ? AND secondary_chat_id = ?",
		secondaryMsgID, secondaryChatID).Find(&mapping)
	if res.Error != nil {
		return nil, res.Error
	}
	if mapping.SecondaryMsgID != secondaryMsgID || mapping.SecondaryChatID != secondaryChatID {
		return nil, nil
	}
	return &mapping, nil
}

// MessageMapWithContent returns every mapping that has stored content,
// newest first. Content search decrypts each candidate client-side, so
// this is the full O(rows) candidate set rather than an index lookup.
func (d *Database) MessageMapWithContent() ([]MessageMap, error) {
	var mappings []MessageMap
	res := d.db.Where("content <> ''").Order("created_at DESC").Find(&mappings)
	return mappings, res.Error
}

func (d *Database) MessageMapByContact(contactID string, limit int) ([]MessageMap, error) {
	var mappings []MessageMap
	res := d.db.Where("contact_id = ?", contactID).
		Order("created_at DESC").Limit(limit).Find(&mappings)
	return mappings, res.Error
}

func (d *Database) MessageMapDropAll() error {
	res := d.db.Where("1 = 1").Delete(&MessageMap{})
	return res.Error
}

func (d *Database) ReactionAdd(reaction ReactionMap) error {
	// One row per (message, reactor): replace a previous emoji.
	if err := d.ReactionRemove(reaction.PrimaryMsgID, reaction.ReactorIdentity); err != nil {
		return err
	}
	res := d.db.Create(&reaction)
	return res.Error
}

func (d *Database) ReactionRemove(primaryMsgID, reactorIdentity string) error {
	res := d.db.Where("primary_msg_id = ? AND reactor_identity = ?",
		primaryMsgID, reactorIdentity).Delete(&ReactionMap{})
	return res.Error
}

func (d *Database) ReactionsByPrimary(primaryMsgID string) ([]ReactionMap, error) {
	var reactions []ReactionMap
	res := d.db.Where("primary_msg_id = ?", primaryMsgID).Find(&reactions)
	return reactions, res.Error
}

func (d *Database) ScheduledCreate(msg *ScheduledMessage) error {
	msg.Status = ScheduleStatusPending
	res := d.db.Create(msg)
	return res.Error
}

// ScheduledDue returns pending messages whose due time has elapsed,
// earliest due first.
func (d *Database) ScheduledDue(now time.Time) ([]ScheduledMessage, error) {
	var msgs []ScheduledMessage
	res := d.db.Where("status = ? AND due_at <= ?", ScheduleStatusPending, now).
		Order("due_at ASC").Find(&msgs)
	return msgs, res.Error
}

func (d *Database) ScheduledMarkSent(id uint, sentAt time.Time) error {
	res := d.db.Model(&ScheduledMessage{}).Where("id = ?", id).
		Updates(map[string]any{"status": ScheduleStatusSent, "sent_at": sentAt})
	return res.Error
}

func (d *Database) ScheduledMarkFailed(id uint) error {
	res := d.db.Model(&ScheduledMessage{}).Where("id = ?", id).
		Update("status", ScheduleStatusFailed)
	return res.Error
}

// ScheduledCancel is a compare-and-set against the pending status. It
// reports whether this call performed the cancellation.
func (d *Database) ScheduledCancel(id uint) (bool, error) {
	res := d.db.Model(&ScheduledMessage{}).
		Where("id = ? AND status = ?", id, ScheduleStatusPending).
		Update("status", ScheduleStatusCancelled)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (d *Database) ScheduledList(limit int) ([]ScheduledMessage, error) {
	var msgs []ScheduledMessage
	res := d.db.Order("due_at DESC").Limit(limit).Find(&msgs)
	return msgs, res.Error
}

func (d *Database) ScheduledUpcoming(now time.Time) ([]ScheduledMessage, error) {
	var msgs []ScheduledMessage
	res := d.db.Where("status = ? AND due_at > ?", ScheduleStatusPending, now).
		Order("due_at ASC").Find(&msgs)
	return msgs, res.Error
}

func (d *Database) CallRecordAdd(record *CallRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	res := d.db.Create(record)
	return res.Error
}

func (d *Database) CallRecordSetSecondaryMsg(id uint, secondaryMsgID int64) error {
	res := d.db.Model(&CallRecord{}).Where("id = ?", id).
		Update("secondary_msg_id", secondaryMsgID)
	return res.Error
}

func (d *Database) CallRecordsRecent(limit int) ([]CallRecord, error) {
	var records []CallRecord
	res := d.db.Order("timestamp DESC").Limit(limit).Find(&records)
	return records, res.Error
}

func (d *Database) AppStateGet(key string) (string, bool, error) {
	var row AppState
	res := d.db.Where("key = ?", key).Find(&row)
	if res.Error != nil {
		return "", false, res.Error
	}
	if row.Key != key {
		return "", false, nil
	}
	return row.Value, true, nil
}

func (d *Database) AppStateSet(key, value string) error {
	var row AppState
	res := d.db.Where("key = ?", key).Find(&row)
	if res.Error != nil {
		return res.Error
	}

	row.Key = key
	row.Value = value
	row.UpdatedAt = time.Now().UTC()
	res = d.db.Save(&row)
	return res.Error
}
