package deploy

import (
	"context"
	"sync"
)

type repoSlot struct {
	ch   chan struct{}
	refs int
}

// RepoQueue serializes builds per repository name so two requests for the
// same <task>-round<n> never clone and push concurrently. A slot is dropped
// once no caller holds or waits on it.
type RepoQueue struct {
	mu    sync.Mutex
	repos map[string]*repoSlot
}

// NewRepoQueue creates a new RepoQueue.
func NewRepoQueue() *RepoQueue {
	return &RepoQueue{
		repos: make(map[string]*repoSlot),
	}
}

// Acquire blocks until the repo slot is available or ctx is done.
func (q *RepoQueue) Acquire(ctx context.Context, repo string) error {
	q.mu.Lock()
	slot, ok := q.repos[repo]
	if !ok {
		slot = &repoSlot{ch: make(chan struct{}, 1)}
		q.repos[repo] = slot
	}
	slot.refs++
	q.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		q.unref(repo, slot)
		return ctx.Err()
	}
}

// Release frees the repo slot so the next request can proceed.
func (q *RepoQueue) Release(repo string) {
	q.mu.Lock()
	slot, ok := q.repos[repo]
	q.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-slot.ch:
		q.unref(repo, slot)
	default:
	}
}

// Busy reports whether a build currently holds the repo slot.
func (q *RepoQueue) Busy(repo string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	slot, ok := q.repos[repo]
	return ok && len(slot.ch) > 0
}

// Len returns the number of repos with a holder or waiter.
func (q *RepoQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.repos)
}

func (q *RepoQueue) unref(repo string, slot *repoSlot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	slot.refs--
	if slot.refs == 0 && q.repos[repo] == slot {
		delete(q.repos, repo)
	}
}
