package ledger

import (
	"context"
	"errors"
	"fmt"
)

// RetryingRegistry wraps a Registry and retries read calls at most once.
// Writes pass through untouched to avoid duplicate ledger records.
type RetryingRegistry struct {
	inner Registry
}

func WithReadRetry(inner Registry) *RetryingRegistry {
	return &RetryingRegistry{inner: inner}
}

func (r *RetryingRegistry) GetDIDDocument(ctx context.Context, id string) (DIDDocument, error) {
	doc, err := r.inner.GetDIDDocument(ctx, id)
	if err == nil || isTerminal(ctx, err) {
		return doc, err
	}
	doc, err = r.inner.GetDIDDocument(ctx, id)
	if err != nil && !isTerminal(ctx, err) {
		return DIDDocument{}, fmt.Errorf("%w: %v", ErrLedgerCallFailed, err)
	}
	return doc, err
}

func (r *RetryingRegistry) GetAllDIDs(ctx context.Context) ([]string, error) {
	ids, err := r.inner.GetAllDIDs(ctx)
	if err == nil || isTerminal(ctx, err) {
		return ids, err
	}
	ids, err = r.inner.GetAllDIDs(ctx)
	if err != nil && !isTerminal(ctx, err) {
		return nil, fmt.Errorf("%w: %v", ErrLedgerCallFailed, err)
	}
	return ids, err
}

func (r *RetryingRegistry) GetAcceptedByList(ctx context.Context, issuerID string) ([]string, error) {
	ids, err := r.inner.GetAcceptedByList(ctx, issuerID)
	if err == nil || isTerminal(ctx, err) {
		return ids, err
	}
	ids, err = r.inner.GetAcceptedByList(ctx, issuerID)
	if err != nil && !isTerminal(ctx, err) {
		return nil, fmt.Errorf("%w: %v", ErrLedgerCallFailed, err)
	}
	return ids, err
}

func (r *RetryingRegistry) IsTrustedIssuer(ctx context.Context, id string) (bool, error) {
	trusted, err := r.inner.IsTrustedIssuer(ctx, id)
	if err == nil || isTerminal(ctx, err) {
		return trusted, err
	}
	trusted, err = r.inner.IsTrustedIssuer(ctx, id)
	if err != nil && !isTerminal(ctx, err) {
		return false, fmt.Errorf("%w: %v", ErrLedgerCallFailed, err)
	}
	return trusted, err
}

func (r *RetryingRegistry) RecordCredentialAcceptance(ctx context.Context, fromID, toID string) error {
	return r.inner.RecordCredentialAcceptance(ctx, fromID, toID)
}

func (r *RetryingRegistry) RecordCredentialOfferAcceptance(ctx context.Context, fromID, toID, contentHash string) error {
	return r.inner.RecordCredentialOfferAcceptance(ctx, fromID, toID, contentHash)
}

// isTerminal reports errors that a retry cannot fix.
func isTerminal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, ErrNotFound)
}
