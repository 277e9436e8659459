package mapper

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"wagrambridge/database"
	"wagrambridge/vault"
)

// MessageMapper correlates bridged messages by their WhatsApp id and keeps
// searchable (encrypted-at-rest) copies of text content.
type MessageMapper struct {
	db     *database.Database
	vault  *vault.Vault
	logger *zap.Logger
}

func NewMessageMapper(db *database.Database, v *vault.Vault, logger *zap.Logger) *MessageMapper {
	return &MessageMapper{db: db, vault: v, logger: logger}
}

// Record stores or refreshes the mapping for one message. Routing fields
// take the new values; content set by an earlier call is never replaced.
func (m *MessageMapper) Record(mapping database.MessageMap) error {
	if mapping.PrimaryMsgID == "" {
		return fmt.Errorf("cannot record mapping without a primary message id")
	}
	if mapping.Content != "" {
		mapping.Content = m.vault.Encrypt(mapping.Content)
	}
	if err := m.db.MessageMapUpsert(mapping); err != nil {
		return fmt.Errorf("failed to upsert message mapping %s: %w", mapping.PrimaryMsgID, err)
	}
	return nil
}

// ByWaID looks a mapping up by its WhatsApp message id, with content
// decrypted. Returns nil when unmapped.
func (m *MessageMapper) ByWaID(primaryMsgID string) (*database.MessageMap, error) {
	mapping, err := m.db.MessageMapByPrimary(primaryMsgID)
	if err != nil || mapping == nil {
		return mapping, err
	}
	mapping.Content = m.vault.Decrypt(mapping.Content)
	return mapping, nil
}

// ByTelegramID looks a mapping up by Telegram message id. The chat id is
// part of the key: Telegram message ids repeat across chats.
func (m *MessageMapper) ByTelegramID(msgID, chatID int64) (*database.MessageMap, error) {
	mapping, err := m.db.MessageMapBySecondary(msgID, chatID)
	if err != nil || mapping == nil {
		return mapping, err
	}
	mapping.Content = m.vault.Decrypt(mapping.Content)
	return mapping, nil
}

// SearchContent scans every stored message body for a case-insensitive
// substring match, newest first. Content is encrypted at rest, so each row
// is decrypted before matching; there is no index to lean on.
func (m *MessageMapper) SearchContent(query string, limit int) ([]database.MessageMap, error) {
	rows, err := m.db.MessageMapWithContent()
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	matches := make([]database.MessageMap, 0, limit)
	for _, row := range rows {
		row.Content = m.vault.Decrypt(row.Content)
		if strings.Contains(strings.ToLower(row.Content), needle) {
			matches = append(matches, row)
			if limit > 0 && len(matches) >= limit {
				break
			}
		}
	}
	return matches, nil
}

// History returns the latest mappings for one contact, content decrypted.
func (m *MessageMapper) History(contactID string, limit int) ([]database.MessageMap, error) {
	rows, err := m.db.MessageMapByContact(contactID, limit)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Content = m.vault.Decrypt(rows[i].Content)
	}
	return rows, nil
}

// RecordReaction replaces the reactor's previous reaction on the message,
// if any, with the new emoji.
func (m *MessageMapper) RecordReaction(reaction database.ReactionMap) error {
	if err := m.db.ReactionAdd(reaction); err != nil {
		return fmt.Errorf("failed to store reaction on %s: %w", reaction.PrimaryMsgID, err)
	}
	return nil
}

// RemoveReaction drops the reactor's reaction on the message. Removing a
// reaction that was never stored is not an error.
func (m *MessageMapper) RemoveReaction(primaryMsgID, reactorIdentity string) error {
	return m.db.ReactionRemove(primaryMsgID, reactorIdentity)
}

func (m *MessageMapper) Reactions(primaryMsgID string) ([]database.ReactionMap, error) {
	return m.db.ReactionsByPrimary(primaryMsgID)
}

// Purge deletes every stored mapping. Used on logout, when WhatsApp message
// ids stop meaning anything.
func (m *MessageMapper) Purge() error {
	if err := m.db.MessageMapDropAll(); err != nil {
		return err
	}
	m.logger.Warn("dropped all message mappings")
	return nil
}
