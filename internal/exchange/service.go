package exchange

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trustmesh/go-backend/internal/contentstore"
	"trustmesh/go-backend/internal/ledger"
	"trustmesh/go-backend/internal/vccrypto"
	"trustmesh/go-backend/pkg/models"
)

var (
	ErrRecipientNotFound  = errors.New("recipient identity is not registered")
	ErrRecipientInactive  = errors.New("recipient identity is deactivated")
	ErrIllegalTransition  = errors.New("notification state transition is not allowed")
	ErrNotIncomingPending = errors.New("only pending incoming notifications can be responded to")
)

// Service runs the credential exchange protocol: it encrypts offers and
// verification requests for their recipient, delivers them through the
// content store, and keeps each party's mailbox consistent with what
// the other side did.
type Service struct {
	crypto   *vccrypto.Engine
	keys     *vccrypto.KeyStore
	content  *contentstore.Service
	mail     *MailboxStore
	registry ledger.Registry
	hub      *subscriberHub
	logger   *slog.Logger

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	lastSync map[string]time.Time
}

func NewService(crypto *vccrypto.Engine, keys *vccrypto.KeyStore, content *contentstore.Service, mail *MailboxStore, registry ledger.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		crypto:   crypto,
		keys:     keys,
		content:  content,
		mail:     mail,
		registry: registry,
		hub:      newSubscriberHub(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		lastSync: make(map[string]time.Time),
	}
}

// offerPayload is the encrypted body of an offer or request envelope.
type offerPayload struct {
	Credential map[string]any `json:"credential,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// responsePayload is the encrypted body of a response envelope; it
// tells the original sender how their pending record resolved. An
// accepted offer echoes the credential content back so the sender's
// completed record is self-contained.
type responsePayload struct {
	OriginalID  string                      `json:"original_id"`
	Status      string                      `json:"status"`
	RespondedAt time.Time                   `json:"responded_at"`
	Credential  map[string]any              `json:"credential,omitempty"`
	Outcome     *models.VerificationOutcome `json:"outcome,omitempty"`
}

// SendOffer encrypts a credential offer for the recipient, delivers it
// through the content store and records the sender's outgoing copy.
func (s *Service) SendOffer(ctx context.Context, fromID, toID string, credential map[string]any, message string) (models.Notification, error) {
	return s.send(ctx, fromID, toID, models.NotificationCredentialOffer, credential, message)
}

// SendVerificationRequest asks the recipient to verify the sender's
// standing; it carries a message but no credential payload.
func (s *Service) SendVerificationRequest(ctx context.Context, fromID, toID, message string) (models.Notification, error) {
	return s.send(ctx, fromID, toID, models.NotificationVerificationRequest, nil, message)
}

func (s *Service) send(ctx context.Context, fromID, toID, kind string, credential map[string]any, message string) (models.Notification, error) {
	recipientKey, err := s.resolveRecipientKey(ctx, toID)
	if err != nil {
		return models.Notification{}, err
	}

	pkg, err := s.crypto.Encrypt(offerPayload{Credential: credential, Message: message}, recipientKey)
	if err != nil {
		return models.Notification{}, fmt.Errorf("encrypt %s payload: %w", kind, err)
	}
	if pkg.Fallback {
		s.logger.Warn("payload delivered without encryption", "type", kind, "to", toID)
	}

	now := s.now()
	id := s.newID()
	outgoing := models.Notification{
		ID:           id,
		Type:         kind,
		Direction:    models.DirectionOutgoing,
		Status:       models.StatusPending,
		FromIdentity: fromID,
		ToIdentity:   toID,
		Credential:   credential,
		Message:      message,
		Timestamp:    now,
		Read:         true,
	}
	incoming := models.Notification{
		ID:               id,
		Type:             kind,
		Direction:        models.DirectionIncoming,
		Status:           models.StatusPending,
		FromIdentity:     fromID,
		ToIdentity:       toID,
		EncryptedPackage: &pkg,
		Timestamp:        now,
	}

	ref := credentialRef(fromID, kind, credential)
	if err := s.deliver(ctx, toID, incoming, ref, credentialSubject(credential, toID)); err != nil {
		return models.Notification{}, err
	}
	if err := s.mail.Upsert(fromID, outgoing); err != nil {
		return models.Notification{}, fmt.Errorf("record outgoing notification: %w", err)
	}

	s.hub.Publish(Event{Account: fromID, Kind: EventCreated, Notification: outgoing})
	s.logger.Info("notification sent", "type", kind, "from", fromID, "to", toID, "id", id)
	return outgoing, nil
}

// RespondToRequest resolves a pending incoming notification. The local
// mailbox commits first; the ledger write and the response delivery to
// the sender happen after and are never retried. When the acceptance
// write fails the local answer stands but the response record is
// withheld, so the sender stays pending until a later re-sync. An
// optional outcome travels with the response record.
func (s *Service) RespondToRequest(ctx context.Context, account, notificationID string, accept bool, outcome *models.VerificationOutcome) (models.Notification, error) {
	current, ok := s.mail.Get(account, notificationID)
	if !ok {
		return models.Notification{}, ErrNotificationNotFound
	}
	if current.Direction != models.DirectionIncoming || current.Status != models.StatusPending {
		return models.Notification{}, fmt.Errorf("%w: %s/%s", ErrNotIncomingPending, current.Direction, current.Status)
	}

	status := models.StatusRefused
	if accept {
		status = models.StatusAccepted
	}
	now := s.now()
	updated, err := s.mail.Update(account, notificationID, func(n *models.Notification) error {
		if n.Status != models.StatusPending {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, n.Status, status)
		}
		n.Status = status
		n.RespondedAt = now
		n.Read = true
		return nil
	})
	if err != nil {
		return models.Notification{}, err
	}
	s.hub.Publish(Event{Account: account, Kind: EventUpdated, Notification: updated})

	if accept {
		if err := s.recordAcceptance(ctx, updated, account); err != nil {
			return updated, nil
		}
	}
	s.sendResponse(ctx, updated, account, status, now, outcome)
	return updated, nil
}

func (s *Service) recordAcceptance(ctx context.Context, n models.Notification, account string) error {
	var err error
	switch n.Type {
	case models.NotificationCredentialOffer:
		hash := ""
		if len(n.Credential) > 0 {
			if raw, marshalErr := json.Marshal(n.Credential); marshalErr == nil {
				hash = contentstore.Address(raw)
			}
		}
		err = s.registry.RecordCredentialOfferAcceptance(ctx, n.FromIdentity, account, hash)
	default:
		err = s.registry.RecordCredentialAcceptance(ctx, n.FromIdentity, account)
	}
	if err != nil {
		s.logger.Warn("ledger acceptance write failed", "id", n.ID, "from", n.FromIdentity, "to", account, "reason", err.Error())
	}
	return err
}

// sendResponse delivers a completed response record back to the
// original sender. Losing it leaves the sender pending until re-sync,
// so failures are logged rather than surfaced to the responder.
func (s *Service) sendResponse(ctx context.Context, original models.Notification, account, status string, respondedAt time.Time, outcome *models.VerificationOutcome) {
	senderKey, err := s.resolveRecipientKey(ctx, original.FromIdentity)
	if err != nil {
		s.logger.Warn("response delivery skipped", "id", original.ID, "to", original.FromIdentity, "reason", err.Error())
		return
	}

	payload := responsePayload{
		OriginalID:  original.ID,
		Status:      status,
		RespondedAt: respondedAt,
		Outcome:     outcome,
	}
	if status == models.StatusAccepted && original.Type == models.NotificationCredentialOffer {
		payload.Credential = original.Credential
	}
	if payload.Outcome == nil && original.Type == models.NotificationVerificationRequest {
		payload.Outcome = &models.VerificationOutcome{Verified: status == models.StatusAccepted}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("response payload marshal failed", "id", original.ID, "reason", err.Error())
		return
	}
	pkg, err := s.crypto.Encrypt(json.RawMessage(raw), senderKey)
	if err != nil {
		s.logger.Warn("response encrypt failed", "id", original.ID, "reason", err.Error())
		return
	}

	response := models.Notification{
		ID:               s.newID(),
		Type:             models.NotificationVerificationResponse,
		Direction:        models.DirectionIncoming,
		Status:           models.StatusCompleted,
		FromIdentity:     account,
		ToIdentity:       original.FromIdentity,
		EncryptedPackage: &pkg,
		OriginalID:       original.ID,
		Timestamp:        respondedAt,
	}
	if err := s.deliver(ctx, original.FromIdentity, response, nil, credentialSubject(original.Credential, account)); err != nil {
		s.logger.Warn("response delivery failed", "id", original.ID, "to", original.FromIdentity, "reason", err.Error())
	}
}

func (s *Service) deliver(ctx context.Context, recipient string, n models.Notification, ref *models.VCReference, subject string) error {
	envelope := models.CredentialEnvelope{
		PinnedContent: models.PinnedContent{
			Notification: n,
			Metadata: models.EnvelopeMetadata{
				Recipient: recipient,
				Issuer:    n.FromIdentity,
				Type:      n.Type,
				Subject:   subject,
				Timestamp: n.Timestamp,
				Version:   models.EnvelopeFormatVersion,
			},
		},
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := s.content.Store(ctx, recipient, data, ref); err != nil {
		return fmt.Errorf("deliver to %s: %w", recipient, err)
	}
	return nil
}

func (s *Service) resolveRecipientKey(ctx context.Context, id string) (*rsa.PublicKey, error) {
	doc, err := s.registry.GetDIDDocument(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRecipientNotFound, id)
		}
		return nil, fmt.Errorf("resolve %s: %w", id, err)
	}
	if !doc.Active {
		return nil, fmt.Errorf("%w: %s", ErrRecipientInactive, id)
	}
	key, err := vccrypto.ImportPublicKey(doc.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("registered key for %s: %w", id, err)
	}
	return key, nil
}

// SyncMailbox pulls the account's deliveries from the content store,
// decrypts them and folds them into the mailbox. Response records also
// resolve the matching outgoing record. Bad envelopes are logged and
// skipped so one malformed delivery cannot wedge the sync loop.
func (s *Service) SyncMailbox(ctx context.Context, account string) ([]models.Notification, error) {
	priv, err := s.keys.Lookup(account)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	since := s.lastSync[accountKey(account)]
	s.mu.Unlock()

	items := s.content.FetchInbox(ctx, account, since)
	fresh := make([]models.Notification, 0)
	for _, item := range items {
		n, ok := s.ingest(item.Data, account, priv)
		if !ok {
			continue
		}
		fresh = append(fresh, n)
	}

	s.mu.Lock()
	s.lastSync[accountKey(account)] = s.now()
	s.mu.Unlock()
	return fresh, nil
}

func (s *Service) ingest(data []byte, account string, priv *rsa.PrivateKey) (models.Notification, bool) {
	var envelope models.CredentialEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Warn("inbox envelope unmarshal failed", "account", account, "reason", err.Error())
		return models.Notification{}, false
	}
	meta := envelope.PinnedContent.Metadata
	if meta.Version != models.EnvelopeFormatVersion {
		s.logger.Warn("inbox envelope version mismatch", "account", account, "version", meta.Version)
		return models.Notification{}, false
	}
	if !strings.EqualFold(meta.Recipient, account) {
		return models.Notification{}, false
	}

	n := envelope.PinnedContent.Notification
	n.Direction = models.DirectionIncoming
	if n.Type == models.NotificationVerificationResponse {
		return s.ingestResponse(n, account, priv)
	}
	if n.EncryptedPackage != nil {
		var payload offerPayload
		if err := s.crypto.DecryptInto(*n.EncryptedPackage, priv, &payload); err != nil {
			s.logger.Warn("inbox payload decrypt failed", "account", account, "id", n.ID, "reason", err.Error())
			return models.Notification{}, false
		}
		if payload.Credential != nil {
			n.Credential = payload.Credential
		}
		if payload.Message != "" {
			n.Message = payload.Message
		}
	}

	// Re-delivered envelopes must not reset local state.
	if _, exists := s.mail.Get(account, n.ID); exists {
		return models.Notification{}, false
	}
	if err := s.mail.Upsert(account, n); err != nil {
		s.logger.Warn("mailbox write failed", "account", account, "id", n.ID, "reason", err.Error())
		return models.Notification{}, false
	}
	s.hub.Publish(Event{Account: account, Kind: EventCreated, Notification: n})
	return n, true
}

// ingestResponse applies a response record to the original outgoing
// notification and stores the record itself.
func (s *Service) ingestResponse(n models.Notification, account string, priv *rsa.PrivateKey) (models.Notification, bool) {
	if _, exists := s.mail.Get(account, n.ID); exists {
		return models.Notification{}, false
	}

	var payload responsePayload
	if n.EncryptedPackage != nil {
		if err := s.crypto.DecryptInto(*n.EncryptedPackage, priv, &payload); err != nil {
			s.logger.Warn("response payload decrypt failed", "account", account, "id", n.ID, "reason", err.Error())
			return models.Notification{}, false
		}
	}
	if payload.OriginalID == "" {
		payload.OriginalID = n.OriginalID
	}
	if payload.Status != models.StatusAccepted && payload.Status != models.StatusRefused {
		s.logger.Warn("response carries unknown status", "account", account, "id", n.ID, "status", payload.Status)
		return models.Notification{}, false
	}
	if payload.Credential != nil {
		n.Credential = payload.Credential
	}
	if payload.Outcome != nil {
		n.Verification = payload.Outcome
	}

	original, err := s.mail.Update(account, payload.OriginalID, func(o *models.Notification) error {
		if o.Direction != models.DirectionOutgoing {
			return fmt.Errorf("%w: response targets %s record", ErrIllegalTransition, o.Direction)
		}
		if o.Status != models.StatusPending {
			return nil // already resolved, keep first answer
		}
		o.Status = payload.Status
		o.RespondedAt = payload.RespondedAt
		return nil
	})
	if err != nil {
		s.logger.Warn("response could not resolve original", "account", account, "original_id", payload.OriginalID, "reason", err.Error())
	} else {
		s.hub.Publish(Event{Account: account, Kind: EventUpdated, Notification: original})
	}

	if err := s.mail.Upsert(account, n); err != nil {
		s.logger.Warn("mailbox write failed", "account", account, "id", n.ID, "reason", err.Error())
		return models.Notification{}, false
	}
	s.hub.Publish(Event{Account: account, Kind: EventCreated, Notification: n})
	return n, true
}

// Notifications lists the account's mailbox, newest first.
func (s *Service) Notifications(account string) []models.Notification {
	return s.mail.List(account)
}

func (s *Service) UnreadCount(account string) int {
	count := 0
	for _, n := range s.mail.List(account) {
		if !n.Read {
			count++
		}
	}
	return count
}

func (s *Service) MarkAsRead(account, id string) (models.Notification, error) {
	updated, err := s.mail.Update(account, id, func(n *models.Notification) error {
		n.Read = true
		return nil
	})
	if err != nil {
		return models.Notification{}, err
	}
	s.hub.Publish(Event{Account: account, Kind: EventUpdated, Notification: updated})
	return updated, nil
}

func (s *Service) MarkAllAsRead(account string) (int, error) {
	changed, err := s.mail.UpdateAll(account, func(n *models.Notification) bool {
		if n.Read {
			return false
		}
		n.Read = true
		return true
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		s.hub.Publish(Event{Account: account, Kind: EventUpdated})
	}
	return changed, nil
}

// Delete removes one record from the account's mailbox. The other
// party's copy is untouched.
func (s *Service) Delete(account, id string) error {
	n, ok := s.mail.Get(account, id)
	if !ok {
		return ErrNotificationNotFound
	}
	if err := s.mail.Delete(account, id); err != nil {
		return err
	}
	s.hub.Publish(Event{Account: account, Kind: EventDeleted, Notification: n})
	return nil
}

func (s *Service) ClearAll(account string) error {
	if err := s.mail.Clear(account); err != nil {
		return err
	}
	s.hub.Publish(Event{Account: account, Kind: EventCleared})
	return nil
}

// Subscribe streams the account's mailbox and connectivity events.
func (s *Service) Subscribe(account string) (<-chan Event, func()) {
	return s.hub.Subscribe(account)
}

// ConnectionStatus reports the content network's connectivity.
func (s *Service) ConnectionStatus() models.NetworkStatus {
	return s.content.ConnectionStatus()
}

func (s *Service) publishStatus(status models.NetworkStatus) {
	s.hub.Broadcast(Event{Kind: EventStatus, Status: &status})
}

func credentialRef(issuer, kind string, credential map[string]any) *models.VCReference {
	if kind != models.NotificationCredentialOffer || len(credential) == 0 {
		return nil
	}
	credType := "VerifiableCredential"
	if t, ok := credential["type"].(string); ok && t != "" {
		credType = t
	}
	return &models.VCReference{Type: credType, Issuer: issuer}
}

// credentialSubject pulls the subject identity out of a credential,
// falling back to the given identity when the credential names none.
func credentialSubject(credential map[string]any, fallback string) string {
	if s, ok := credential["subject"].(string); ok && s != "" {
		return s
	}
	if cs, ok := credential["credentialSubject"].(map[string]any); ok {
		if id, ok := cs["id"].(string); ok && id != "" {
			return id
		}
	}
	return fallback
}
