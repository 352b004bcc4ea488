package usecases

import (
	"context"
	"fmt"
	"sync"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

// VoteFunc sends a vote to the backend.
type VoteFunc func(ctx context.Context, id string, dir domain.VoteDirection) (domain.VoteTally, error)

// Ballot is one client's optimistic vote on one item. The displayed count
// changes before the backend answers and is restored if the call fails.
// Only one vote is accepted per ballot.
type Ballot struct {
	id   string
	vote VoteFunc

	mu       sync.Mutex
	count    int
	voted    bool
	voting   bool
	onChange func(count int, voted bool)
}

// NewBallot creates a ballot showing count.
func NewBallot(id string, count int, vote VoteFunc) *Ballot {
	return &Ballot{id: id, count: count, vote: vote}
}

// Count returns the displayed vote count.
func (b *Ballot) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// OnChange registers fn to see every displayed change: the optimistic one,
// then the confirmation or the rollback.
func (b *Ballot) OnChange(fn func(count int, voted bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Voted reports whether a vote has been accepted.
func (b *Ballot) Voted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.voted
}

// Cast applies the vote locally, then sends it. An upvote adds one; a
// downvote removes one but never goes below zero. On failure the previous
// count is restored and ErrVoteConflict is returned.
func (b *Ballot) Cast(ctx context.Context, dir domain.VoteDirection) (int, error) {
	b.mu.Lock()
	if b.voted || b.voting {
		count := b.count
		b.mu.Unlock()
		return count, domain.ErrAlreadyVoted
	}
	prev := b.count
	switch dir {
	case domain.VoteUp:
		b.count++
	case domain.VoteDown:
		b.count = max(0, b.count-1)
	default:
		b.mu.Unlock()
		return prev, fmt.Errorf("vote direction %q: %w", dir, domain.ErrInvalidInput)
	}
	b.voting = true
	optimistic, notify := b.count, b.onChange
	b.mu.Unlock()
	if notify != nil {
		notify(optimistic, false)
	}

	_, err := b.vote(ctx, b.id, dir)

	b.mu.Lock()
	b.voting = false
	if err != nil {
		b.count = prev
	} else {
		b.voted = true
	}
	count, voted := b.count, b.voted
	b.mu.Unlock()
	if notify != nil {
		notify(count, voted)
	}

	if err != nil {
		return count, fmt.Errorf("vote %s on %s: %w: %w", dir, b.id, domain.ErrVoteConflict, err)
	}
	return count, nil
}
