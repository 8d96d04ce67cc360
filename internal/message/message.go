// Package message stores the cluster's message board: broadcasts visible to
// every identity in a cluster and directed messages visible to their two
// parties.
package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alecgard/famledger/internal/apperr"
	"github.com/alecgard/famledger/internal/authz"
	"github.com/alecgard/famledger/internal/identity"
	"github.com/alecgard/famledger/internal/session"
	"github.com/alecgard/famledger/internal/store"
	"github.com/google/uuid"
)

// Broadcast is the recipient id addressing a whole cluster.
const Broadcast = "cluster"

// Message is an append-only board entry. IsRead is the only mutable field.
type Message struct {
	ID        string       `json:"id"`
	ClusterID string       `json:"cluster_id"`
	FromID    string       `json:"from_id"`
	FromRole  session.Role `json:"from_role"`
	ToID      string       `json:"to_id"`
	Text      string       `json:"text"`
	Timestamp time.Time    `json:"timestamp"`
	IsRead    bool         `json:"is_read"`
	ReplyToID string       `json:"reply_to_id,omitempty"`
}

func (m Message) RecordID() string { return m.ID }

// VisibleTo reports whether the holder of sess may read m.
func (m Message) VisibleTo(sess *session.Session) bool {
	if m.ClusterID != sess.ClusterID {
		return false
	}
	return m.ToID == Broadcast || m.ToID == sess.IdentityID || m.FromID == sess.IdentityID
}

// Draft is the input to Send. An empty ToID broadcasts.
type Draft struct {
	ToID      string `json:"to_id"`
	Text      string `json:"text" validate:"required,max=2000"`
	ReplyToID string `json:"reply_to_id"`
}

var (
	errRecipientNotFound = fmt.Errorf("recipient: %w", apperr.ErrNotFound)
	errMessageNotFound   = fmt.Errorf("message: %w", apperr.ErrNotFound)
)

// Service sends and lists messages.
type Service struct {
	store    *store.Store
	gate     *authz.Gate
	validate *apperr.Validator
	now      func() time.Time
}

// NewService creates a message service over s.
func NewService(s *store.Store, gate *authz.Gate) *Service {
	return &Service{
		store:    s,
		gate:     gate,
		validate: apperr.NewValidator(),
		now:      time.Now,
	}
}

// SetClock replaces the service's time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Send appends a message from the caller. Directed messages must target an
// identity in the caller's cluster; replies must reference a message the
// caller can see.
func (s *Service) Send(ctx context.Context, sess *session.Session, d Draft) (Message, error) {
	if err := s.gate.Authorize(sess, authz.SendMessage, authz.Target{ClusterID: sess.ClusterIDOrEmpty()}); err != nil {
		return Message{}, err
	}
	d.Text = strings.TrimSpace(d.Text)
	d.ToID = strings.TrimSpace(d.ToID)
	if d.ToID == "" {
		d.ToID = Broadcast
	}
	if err := s.validate.Struct(d); err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:        uuid.NewString(),
		ClusterID: sess.ClusterID,
		FromID:    sess.IdentityID,
		FromRole:  sess.Role,
		ToID:      d.ToID,
		Text:      d.Text,
		Timestamp: s.now().UTC(),
		ReplyToID: d.ReplyToID,
	}

	err := s.store.Update(ctx, func(tx *store.Tx) error {
		if msg.ToID != Broadcast {
			to, err := store.Find[identity.Identity](tx, store.Identities, msg.ToID)
			if errors.Is(err, apperr.ErrNotFound) {
				return errRecipientNotFound
			}
			if err != nil {
				return err
			}
			if err := s.gate.Authorize(sess, authz.SendMessage, authz.Target{IdentityID: to.ID, ClusterID: to.ClusterID}); err != nil {
				return err
			}
		}
		if msg.ReplyToID != "" {
			parent, err := store.Find[Message](tx, store.Messages, msg.ReplyToID)
			if err != nil || !parent.VisibleTo(sess) {
				return errMessageNotFound
			}
		}
		return store.Append(tx, store.Messages, msg)
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// List returns the messages visible to the caller in the order they were sent.
func (s *Service) List(ctx context.Context, sess *session.Session) ([]Message, error) {
	if err := s.gate.Require(sess); err != nil {
		return nil, err
	}
	all, err := store.ReadAll[Message](ctx, s.store, store.Messages)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(all))
	for _, m := range all {
		if m.VisibleTo(sess) {
			out = append(out, m)
		}
	}
	return out, nil
}

// MarkRead flags a directed message as read. Only its recipient may do so.
func (s *Service) MarkRead(ctx context.Context, sess *session.Session, id string) (Message, error) {
	if err := s.gate.Require(sess); err != nil {
		return Message{}, err
	}
	var updated Message
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		updated, err = store.UpdateRecord(tx, store.Messages, id, func(m *Message) error {
			if !m.VisibleTo(sess) {
				return errMessageNotFound
			}
			if err := s.gate.Authorize(sess, authz.MarkMessageRead, authz.Target{IdentityID: m.ToID}); err != nil {
				return err
			}
			m.IsRead = true
			return nil
		})
		if errors.Is(err, apperr.ErrNotFound) {
			return errMessageNotFound
		}
		return err
	})
	if err != nil {
		return Message{}, err
	}
	return updated, nil
}
