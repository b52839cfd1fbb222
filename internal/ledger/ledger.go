// Package ledger defines the port to the external DID registry contract.
// The registry itself lives on chain and is out of scope; the exchange
// and trust layers only depend on this interface.
package ledger

import (
	"context"
	"errors"
)

var (
	ErrNotFound         = errors.New("identity not found on ledger")
	ErrLedgerCallFailed = errors.New("ledger call failed")
)

type Registry interface {
	// GetDIDDocument resolves an identity to its controller account and
	// public key. Inactive identities resolve with Active=false.
	GetDIDDocument(ctx context.Context, id string) (DIDDocument, error)
	GetAllDIDs(ctx context.Context) ([]string, error)
	// GetAcceptedByList returns the identities that accepted a credential
	// issued by issuerID.
	GetAcceptedByList(ctx context.Context, issuerID string) ([]string, error)
	IsTrustedIssuer(ctx context.Context, id string) (bool, error)
	// RecordCredentialAcceptance binds an accepted relation into the trust
	// graph. State-changing calls are never retried: a duplicate write is
	// worse than a missed one that the next acceptance re-records.
	RecordCredentialAcceptance(ctx context.Context, fromID, toID string) error
	RecordCredentialOfferAcceptance(ctx context.Context, fromID, toID, contentHash string) error
}

type DIDDocument struct {
	ID            string
	Controller    string
	PublicKey     string
	Active        bool
	TrustedIssuer bool
}
