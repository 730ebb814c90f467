package storage

import (
	"encoding"
	"encoding/binary"

	"mealchat/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBConversation struct {
	ID               string `msgpack:"id"`
	ResponderEnabled bool   `msgpack:"responderEnabled"`
	StaffID          string `msgpack:"staffId"`
	LastSeq          int64  `msgpack:"lastSeq"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.ID)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

func (c *DBConversation) toModel() models.Conversation {
	return models.Conversation{
		ID:               c.ID,
		ResponderEnabled: c.ResponderEnabled,
		StaffID:          c.StaffID,
		LastSeq:          c.LastSeq,
	}
}

type DBMessage struct {
	Seq            int64  `msgpack:"seq"`
	Timestamp      int64  `msgpack:"timestamp"`
	ConversationID string `msgpack:"conversationId"`
	SenderID       string `msgpack:"senderId"`
	SenderRole     string `msgpack:"senderRole"`
	Body           string `msgpack:"body"`
	Read           bool   `msgpack:"read"`
}

func seqKey(seq int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(seq))
	return key
}

func (m *DBMessage) Key() []byte {
	return seqKey(m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func newDBMessage(m models.Message) *DBMessage {
	return &DBMessage{
		Seq:            m.Seq,
		Timestamp:      m.Timestamp,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderRole:     string(m.SenderRole),
		Body:           m.Body,
		Read:           m.Read,
	}
}

func (m *DBMessage) toModel() models.Message {
	return models.Message{
		Seq:            m.Seq,
		Timestamp:      m.Timestamp,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderRole:     models.Role(m.SenderRole),
		Body:           m.Body,
		Read:           m.Read,
	}
}

type DBPushSubscription struct {
	ParticipantID string `msgpack:"participantId"`
	Endpoint      string `msgpack:"endpoint"`
	Auth          string `msgpack:"auth"`
	P256dh        string `msgpack:"p256dh"`
}

func (s *DBPushSubscription) Key() []byte {
	return []byte(s.Endpoint)
}

func (s *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}
