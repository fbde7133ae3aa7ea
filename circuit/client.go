package circuit

import (
	"context"

	"sheetbatch"
)

// Ensure GuardedClient implements sheetbatch.RemoteClient
var _ sheetbatch.RemoteClient = (*GuardedClient)(nil)

// GuardedClient wraps a RemoteClient with per-target circuit breaking.
// Calls against a target whose breaker is open fail fast with
// ErrCircuitOpen instead of reaching the remote API. Metadata reads
// share the target's breaker with its mutations; the quota they draw
// from is the same.
type GuardedClient struct {
	client   sheetbatch.RemoteClient
	breakers Breaker
}

// NewGuardedClient wraps the given client with the given breaker.
func NewGuardedClient(client sheetbatch.RemoteClient, breakers Breaker) *GuardedClient {
	return &GuardedClient{
		client:   client,
		breakers: breakers,
	}
}

// WriteValues writes value ranges through the target's breaker.
func (g *GuardedClient) WriteValues(ctx context.Context, target string, items []sheetbatch.ValueWrite) ([]sheetbatch.WriteResult, error) {
	var results []sheetbatch.WriteResult
	err := g.breakers.Get(target).Execute(ctx, func() error {
		var callErr error
		results, callErr = g.client.WriteValues(ctx, target, items)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ClearRanges clears ranges through the target's breaker.
func (g *GuardedClient) ClearRanges(ctx context.Context, target string, ranges []string) (*sheetbatch.ClearResult, error) {
	var result *sheetbatch.ClearResult
	err := g.breakers.Get(target).Execute(ctx, func() error {
		var callErr error
		result, callErr = g.client.ClearRanges(ctx, target, ranges)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyStructural applies structural requests through the target's breaker.
func (g *GuardedClient) ApplyStructural(ctx context.Context, target string, requests []map[string]any) ([]map[string]any, error) {
	var replies []map[string]any
	err := g.breakers.Get(target).Execute(ctx, func() error {
		var callErr error
		replies, callErr = g.client.ApplyStructural(ctx, target, requests)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return replies, nil
}

// GetMetadata fetches target metadata through the target's breaker.
func (g *GuardedClient) GetMetadata(ctx context.Context, target string, structureOnly bool) (*sheetbatch.TargetMetadata, error) {
	var meta *sheetbatch.TargetMetadata
	err := g.breakers.Get(target).Execute(ctx, func() error {
		var callErr error
		meta, callErr = g.client.GetMetadata(ctx, target, structureOnly)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// ResolveSheetID resolves a sheet title through the target's breaker.
func (g *GuardedClient) ResolveSheetID(ctx context.Context, target string, sheet string) (int64, error) {
	var id int64
	err := g.breakers.Get(target).Execute(ctx, func() error {
		var callErr error
		id, callErr = g.client.ResolveSheetID(ctx, target, sheet)
		return callErr
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}
