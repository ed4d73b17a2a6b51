package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
)

// MemoryQueueRepository 프로세스 내 대기열 (개발/테스트용)
type MemoryQueueRepository struct {
	mu      sync.Mutex
	entries map[string]models.QueueEntry
}

func NewMemoryQueueRepository() *MemoryQueueRepository {
	return &MemoryQueueRepository{entries: make(map[string]models.QueueEntry)}
}

func (r *MemoryQueueRepository) Upsert(_ context.Context, entry *models.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[entry.PlayerID] = *entry
	return nil
}

func (r *MemoryQueueRepository) Restore(_ context.Context, entry *models.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[entry.PlayerID]; !exists {
		r.entries[entry.PlayerID] = *entry
	}
	return nil
}

func (r *MemoryQueueRepository) Get(_ context.Context, playerID string) (*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[playerID]
	if !exists {
		return nil, nil
	}
	return &entry, nil
}

func (r *MemoryQueueRepository) Delete(_ context.Context, playerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[playerID]; !exists {
		return false, nil
	}
	delete(r.entries, playerID)
	return true, nil
}

func (r *MemoryQueueRepository) Claim(_ context.Context, observed *models.QueueEntry) (*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[observed.PlayerID]
	if !exists || entry.Score != observed.Score || !entry.JoinedAt.Equal(observed.JoinedAt) {
		return nil, nil
	}
	delete(r.entries, observed.PlayerID)
	return &entry, nil
}

func (r *MemoryQueueRepository) FindOpponent(_ context.Context, playerID string, score, window int) (*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *models.QueueEntry
	for id, entry := range r.entries {
		if id == playerID || entry.Status != models.QueueStatusWaiting {
			continue
		}
		if abs(entry.Score-score) > window {
			continue
		}
		if best == nil || opponentLess(entry, *best, score) {
			candidate := entry
			best = &candidate
		}
	}
	return best, nil
}

func (r *MemoryQueueRepository) CountJoinedBefore(_ context.Context, t time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, entry := range r.entries {
		if entry.JoinedAt.Before(t) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryQueueRepository) Stats(_ context.Context) (*models.QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &models.QueueStats{}
	total := 0
	for _, entry := range r.entries {
		if entry.Status != models.QueueStatusWaiting {
			continue
		}
		stats.TotalPlayers++
		total += entry.Score
	}
	if stats.TotalPlayers > 0 {
		stats.AverageScore = float64(total) / float64(stats.TotalPlayers)
	}
	return stats, nil
}

func (r *MemoryQueueRepository) DeleteJoinedBefore(_ context.Context, cutoff time.Time) ([]*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*models.QueueEntry
	for id, entry := range r.entries {
		if entry.JoinedAt.Before(cutoff) {
			e := entry
			removed = append(removed, &e)
			delete(r.entries, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool {
		return removed[i].JoinedAt.Before(removed[j].JoinedAt)
	})
	return removed, nil
}

// MemoryMatchRepository 프로세스 내 매치 저장소
type MemoryMatchRepository struct {
	mu      sync.RWMutex
	matches map[string]models.Match
}

func NewMemoryMatchRepository() *MemoryMatchRepository {
	return &MemoryMatchRepository{matches: make(map[string]models.Match)}
}

func (r *MemoryMatchRepository) Create(_ context.Context, match *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.matches[match.ID] = *match
	return nil
}

func (r *MemoryMatchRepository) FindByID(_ context.Context, id string) (*models.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	match, exists := r.matches[id]
	if !exists {
		return nil, nil
	}
	return &match, nil
}

func (r *MemoryMatchRepository) FindActiveByPlayer(_ context.Context, playerID string) (*models.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *models.Match
	for _, match := range r.matches {
		if match.Status != models.MatchStatusActive || !match.HasPlayer(playerID) {
			continue
		}
		if latest == nil || match.CreatedAt.After(latest.CreatedAt) {
			m := match
			latest = &m
		}
	}
	return latest, nil
}

func (r *MemoryMatchRepository) Cancel(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	match, exists := r.matches[id]
	if !exists || match.Status != models.MatchStatusActive {
		return false, nil
	}
	match.Status = models.MatchStatusCancelled
	match.CancelledAt = &at
	r.matches[id] = match
	return true, nil
}

// All 저장된 모든 매치 (테스트 검증용)
func (r *MemoryMatchRepository) All() []*models.Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := make([]*models.Match, 0, len(r.matches))
	for _, match := range r.matches {
		m := match
		matches = append(matches, &m)
	}
	return matches
}

// opponentLess 점수 차이 → joined_at → player_id 순 비교
func opponentLess(a, b models.QueueEntry, score int) bool {
	da, db := abs(a.Score-score), abs(b.Score-score)
	if da != db {
		return da < db
	}
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.PlayerID < b.PlayerID
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
