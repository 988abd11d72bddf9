package booksync

import (
	"context"
	"fmt"

	"relaycore/pkg/urlnorm"
)

// Service is the sync facade: every public method opens a remote client
// via the factory, health-checks it, and does no further work on
// health-check failure.
type Service struct {
	Repo           Repository
	ClientFactory  RemoteClientFactory
	Executor       *Executor
	Tags           TagNames
	BSRToRemote    *BSRToRemoteSyncer
	RemoteToBSR    *RemoteToBSRSyncer
	StatusReconciler *StatusReconciler
}

// NewService wires O, P, Q, and the retry executor into a facade.
func NewService(repo Repository, factory RemoteClientFactory, tags TagNames, policy RetryPolicy) *Service {
	exec := NewExecutor(policy)
	return &Service{
		Repo:             repo,
		ClientFactory:    factory,
		Executor:         exec,
		Tags:             tags,
		BSRToRemote:      NewBSRToRemoteSyncer(repo, exec, tags),
		RemoteToBSR:      NewRemoteToBSRSyncer(repo),
		StatusReconciler: NewStatusReconciler(repo, exec, tags),
	}
}

func (s *Service) openHealthy(ctx context.Context) (RemoteClient, error) {
	client, err := s.ClientFactory(ctx)
	if err != nil {
		return nil, fmt.Errorf("booksync: open remote client: %w", err)
	}
	if err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("booksync: remote health check failed: %w", err)
	}
	return client, nil
}

func healthCheckFailureResult(dir Direction, err error) *SyncResult {
	r := &SyncResult{Direction: dir}
	r.addError(err.Error(), true)
	return r
}

// SyncBSRToRemote runs §4.O.
func (s *Service) SyncBSRToRemote(ctx context.Context, userID string, limit int, force bool) (*SyncResult, error) {
	client, err := s.openHealthy(ctx)
	if err != nil {
		return healthCheckFailureResult(DirectionBSRToRemote, err), nil
	}
	defer client.Close()

	cache := NewCache(client)
	var result *SyncResult
	scopeErr := cache.Scope(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.BSRToRemote.Sync(ctx, client, cache, userID, limit, force)
		return err
	})
	return result, scopeErr
}

// SyncRemoteToBSR runs §4.P. A missing userID reports the skip rather
// than erroring, matching run_full_sync's "only when user is supplied"
// behavior.
func (s *Service) SyncRemoteToBSR(ctx context.Context, userID string, limit int) (*SyncResult, error) {
	if userID == "" {
		r := &SyncResult{Direction: DirectionRemoteToBSR}
		r.addError("skipped: no user supplied", false)
		return r, nil
	}

	client, err := s.openHealthy(ctx)
	if err != nil {
		return healthCheckFailureResult(DirectionRemoteToBSR, err), nil
	}
	defer client.Close()

	cache := NewCache(client)
	var result *SyncResult
	scopeErr := cache.Scope(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.RemoteToBSR.Sync(ctx, cache, userID, limit)
		return err
	})
	return result, scopeErr
}

// FullSyncResult bundles the three-stage run_full_sync outcome.
type FullSyncResult struct {
	BSRToRemote *SyncResult
	RemoteToBSR *SyncResult
	Status      *StatusResult
}

// RunFullSync enters one cache scope and sequentially runs O, then P
// (only when userID is non-empty), then Q.
func (s *Service) RunFullSync(ctx context.Context, userID string, limit int, force bool) (*FullSyncResult, error) {
	client, err := s.openHealthy(ctx)
	if err != nil {
		return &FullSyncResult{BSRToRemote: healthCheckFailureResult(DirectionBSRToRemote, err)}, nil
	}
	defer client.Close()

	out := &FullSyncResult{}
	cache := NewCache(client)
	scopeErr := cache.Scope(ctx, func(ctx context.Context) error {
		bsrResult, err := s.BSRToRemote.Sync(ctx, client, cache, userID, limit, force)
		if err != nil {
			return err
		}
		out.BSRToRemote = bsrResult

		if userID != "" {
			remoteResult, err := s.RemoteToBSR.Sync(ctx, cache, userID, limit)
			if err != nil {
				return err
			}
			out.RemoteToBSR = remoteResult
		} else {
			skip := &SyncResult{Direction: DirectionRemoteToBSR}
			skip.addError("skipped: no user supplied", false)
			out.RemoteToBSR = skip
		}

		statusResult, err := s.StatusReconciler.Reconcile(ctx, client)
		if err != nil {
			return err
		}
		out.Status = statusResult
		return nil
	})
	return out, scopeErr
}

// PreviewResult mirrors SyncResult's decision logic without mutating
// state.
type PreviewResult struct {
	Direction           Direction
	WouldSync           int
	WouldSkip           int
	AlreadyExistsInTarget int
}

// PreviewSync runs the BSR -> remote (O) decision logic without writes.
// The remote -> BSR direction (P) is not previewed.
func (s *Service) PreviewSync(ctx context.Context, userID string, limit int) ([]PreviewResult, error) {
	client, err := s.openHealthy(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	cache := NewCache(client)
	var previews []PreviewResult
	scopeErr := cache.Scope(ctx, func(ctx context.Context) error {
		bsrPreview, err := s.previewBSRToRemote(ctx, cache, userID, limit)
		if err != nil {
			return err
		}
		previews = append(previews, bsrPreview)
		return nil
	})
	return previews, scopeErr
}

func (s *Service) previewBSRToRemote(ctx context.Context, cache *Cache, userID string, limit int) (PreviewResult, error) {
	p := PreviewResult{Direction: DirectionBSRToRemote}

	index, err := cache.GetURLIndex(ctx)
	if err != nil {
		return p, err
	}
	synced, err := s.Repo.GetSyncedHashesByDirection(ctx, DirectionBSRToRemote)
	if err != nil {
		return p, err
	}
	summaries, err := s.Repo.GetSummariesForSync(ctx, userID)
	if err != nil {
		return p, err
	}

	for _, summary := range summaries {
		if limit > 0 && p.WouldSync >= limit {
			break
		}
		if summary.NormURL == "" {
			p.WouldSkip++
			continue
		}
		hash := urlnorm.HashSHA256(summary.NormURL)
		if urlnorm.InHashSet(hash, synced) {
			p.WouldSkip++
			continue
		}
		if _, exists := index[summary.NormURL]; exists {
			p.AlreadyExistsInTarget++
			continue
		}
		p.WouldSync++
	}
	return p, nil
}

// SyncStatusUpdates runs only Q.
func (s *Service) SyncStatusUpdates(ctx context.Context) (*StatusResult, error) {
	client, err := s.openHealthy(ctx)
	if err != nil {
		r := &StatusResult{}
		r.Errors = append(r.Errors, metadataError{Message: err.Error(), Retryable: true})
		return r, nil
	}
	defer client.Close()
	return s.StatusReconciler.Reconcile(ctx, client)
}

// GetSyncStatus reports the persisted sync stats (counts per direction,
// last-sync timestamps) without contacting the remote service.
func (s *Service) GetSyncStatus(ctx context.Context) (map[string]int, error) {
	return s.Repo.GetSyncStats(ctx)
}
