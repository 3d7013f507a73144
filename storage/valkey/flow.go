package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/onimsha/airtable-mcp-server-oauth/internal/util"
	"github.com/onimsha/airtable-mcp-server-oauth/storage"
)

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveState stores record under its state token with the remaining state lifetime as TTL.
func (s *Store) SaveState(ctx context.Context, record *storage.StateRecord) (err error) {
	ctx, span := s.startSpan(ctx, "save_state")
	defer s.finishSpan(ctx, span, "save_state", time.Now(), &err)

	if record == nil {
		return fmt.Errorf("invalid state record")
	}
	if err := validateKey(record.State, "state"); err != nil {
		return err
	}

	cp := *record
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	ttl := s.remainingTTL(cp.CreatedAt, s.stateTTL)
	if ttl <= 0 {
		return fmt.Errorf("authorization state already expired")
	}

	data, err := s.encode(&cp)
	if err != nil {
		return err
	}
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.stateKey(cp.State)).Value(data).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save authorization state: %w", err)
	}

	s.logger.Debug("Saved authorization state", "state", util.SafeTruncate(cp.State, keyLogLength))
	return nil
}

// ConsumeState atomically pops the state record.
func (s *Store) ConsumeState(ctx context.Context, state string) (_ *storage.StateRecord, err error) {
	ctx, span := s.startSpan(ctx, "consume_state")
	defer s.finishSpan(ctx, span, "consume_state", time.Now(), &err)

	if state == "" || len(state) > MaxKeyLength {
		return nil, storage.ErrStateNotFound
	}

	data, found, err := s.consume(ctx, s.stateKey(state))
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization state: %w", err)
	}
	if !found {
		return nil, storage.ErrStateNotFound
	}

	var record storage.StateRecord
	if err := s.decode(data, &record); err != nil {
		return nil, err
	}
	if s.now().Sub(record.CreatedAt) > s.stateTTL {
		s.logger.Debug("Rejected expired authorization state", "state", util.SafeTruncate(state, keyLogLength))
		return nil, storage.ErrStateExpired
	}
	return &record, nil
}

// SaveCode stores record under its code with the remaining code lifetime as TTL.
func (s *Store) SaveCode(ctx context.Context, record *storage.CodeRecord) (err error) {
	ctx, span := s.startSpan(ctx, "save_code")
	defer s.finishSpan(ctx, span, "save_code", time.Now(), &err)

	if record == nil {
		return fmt.Errorf("invalid authorization code record")
	}
	if err := validateKey(record.Code, "code"); err != nil {
		return err
	}

	cp := *record
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	ttl := s.remainingTTL(cp.CreatedAt, s.codeTTL)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	data, err := s.encode(&cp)
	if err != nil {
		return err
	}
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.codeKey(cp.Code)).Value(data).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(cp.Code, keyLogLength))
	return nil
}

// ConsumeCode atomically pops the authorization code record.
func (s *Store) ConsumeCode(ctx context.Context, code string) (_ *storage.CodeRecord, err error) {
	ctx, span := s.startSpan(ctx, "consume_code")
	defer s.finishSpan(ctx, span, "consume_code", time.Now(), &err)

	if code == "" || len(code) > MaxKeyLength {
		return nil, storage.ErrCodeNotFound
	}

	data, found, err := s.consume(ctx, s.codeKey(code))
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if !found {
		return nil, storage.ErrCodeNotFound
	}

	var record storage.CodeRecord
	if err := s.decode(data, &record); err != nil {
		return nil, err
	}
	if s.now().Sub(record.CreatedAt) > s.codeTTL {
		return nil, storage.ErrCodeExpired
	}
	return &record, nil
}

// Sweep is a no-op: Valkey drops expired keys through their TTL.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	return 0, nil
}
