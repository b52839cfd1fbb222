package models

import "time"

const (
	AlgorithmHybrid      = "aes-gcm-rsa-oaep"
	AlgorithmPlainBase64 = "base64"

	EnvelopeFormatVersion = "1.0"
)

const (
	NotificationCredentialOffer      = "credential_offer"
	NotificationVerificationRequest  = "verification_request"
	NotificationVerificationResponse = "verification_response"

	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"

	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusRefused   = "refused"
	StatusCompleted = "completed"
)

// EncryptedPackage carries an end-to-end encrypted credential payload.
// It is a tagged union selected by Algorithm: the hybrid variant wraps a
// fresh AES-256-GCM content key under the recipient's RSA-OAEP public
// key; the base64 variant is a degraded plaintext fallback with no
// confidentiality, so callers must check Fallback before treating the
// payload as protected.
type EncryptedPackage struct {
	Algorithm  string `json:"algorithm"`
	CipherText []byte `json:"cipher_text,omitempty"`
	WrappedKey []byte `json:"wrapped_key,omitempty"`
	IV         []byte `json:"iv,omitempty"`
	Payload    string `json:"payload,omitempty"`
	Fallback   bool   `json:"fallback,omitempty"`
}

// ContentLocator records where a stored blob can be retrieved from.
// Fallback locators point at the local degraded store, not the network.
type ContentLocator struct {
	Address       string       `json:"address"`
	OwnerIdentity string       `json:"owner_identity"`
	CreatedAt     time.Time    `json:"created_at"`
	Fallback      bool         `json:"fallback,omitempty"`
	CredentialRef *VCReference `json:"credential_ref,omitempty"`
}

// VCReference is archive metadata for a stored verifiable credential.
type VCReference struct {
	Type   string `json:"type"`
	Issuer string `json:"issuer"`
}

type VerificationOutcome struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

// Notification is one mailbox record. Sender and recipient each own an
// independent copy; there is no shared server-side object.
type Notification struct {
	ID               string               `json:"id"`
	Type             string               `json:"type"`
	Direction        string               `json:"direction"`
	Status           string               `json:"status"`
	FromIdentity     string               `json:"from_identity"`
	ToIdentity       string               `json:"to_identity"`
	Credential       map[string]any       `json:"credential,omitempty"`
	Message          string               `json:"message,omitempty"`
	EncryptedPackage *EncryptedPackage    `json:"encrypted_package,omitempty"`
	Verification     *VerificationOutcome `json:"verification,omitempty"`
	OriginalID       string               `json:"original_id,omitempty"`
	Timestamp        time.Time            `json:"timestamp"`
	RespondedAt      time.Time            `json:"responded_at,omitempty"`
	Read             bool                 `json:"read"`
}

// CredentialEnvelope is the network storage wire format.
type CredentialEnvelope struct {
	PinnedContent PinnedContent `json:"pinnedContent"`
}

type PinnedContent struct {
	Notification Notification     `json:"notification"`
	Metadata     EnvelopeMetadata `json:"metadata"`
}

type EnvelopeMetadata struct {
	Recipient string    `json:"recipient"`
	Issuer    string    `json:"issuer"`
	Type      string    `json:"type"`
	Subject   string    `json:"subject,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type NetworkStatus struct {
	Connected bool      `json:"connected"`
	PeerCount int       `json:"peer_count"`
	LastSync  time.Time `json:"last_sync"`
}

type TrustScore struct {
	Score      int     `json:"score"`
	Rank       float64 `json:"rank"`
	IsTrusted  bool    `json:"is_trusted"`
	AcceptedBy int     `json:"accepted_by"`
	Accepted   int     `json:"accepted"`
}

type TrustRanking struct {
	Position   int    `json:"position"`
	IdentityID string `json:"identity_id"`
	TrustScore
}

type GraphStats struct {
	TotalNodes       int     `json:"total_nodes"`
	TotalEdges       int     `json:"total_edges"`
	TrustedNodes     int     `json:"trusted_nodes"`
	IsolatedNodes    int     `json:"isolated_nodes"`
	AverageOutDegree float64 `json:"average_out_degree"`
	NetworkDensity   float64 `json:"network_density"`
}
