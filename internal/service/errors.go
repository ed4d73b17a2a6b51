package service

import (
	"errors"
	"fmt"

	"github.com/rl-arena/rl-arena-matchmaker/internal/repository"
)

// Common service errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("resource not found")
	ErrForbidden    = errors.New("forbidden")
)

// Queue errors
var (
	ErrAlreadyQueued   = errors.New("player already in queue")
	ErrNegativeScore   = errors.New("score must not be negative")
	ErrScoreTooLarge   = errors.New("score exceeds maximum")
	ErrEmptyPlayerID   = errors.New("player id is required")
	ErrPlayerNotQueued = errors.New("player not found in queue")
)

// Match errors
var (
	ErrMatchNotFound  = errors.New("match not found")
	ErrNotParticipant = errors.New("not authorized to cancel this match")
)

// ValidationError 저장소 변경 전에 거부된 요청
type ValidationError struct {
	PlayerID string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid queue entry for %q: %v", e.PlayerID, e.Err)
}

func (e *ValidationError) Unwrap() []error { return []error{ErrInvalidInput, e.Err} }

// NotFoundError 대기열의 플레이어 또는 매치가 없음
type NotFoundError struct {
	Resource string
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Resource, e.ID, e.Err)
}

func (e *NotFoundError) Unwrap() []error { return []error{ErrNotFound, e.Err} }

// AuthorizationError 매치 참가자가 아닌 플레이어의 요청
type AuthorizationError struct {
	MatchID     string
	RequesterID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("player %q may not modify match %q", e.RequesterID, e.MatchID)
}

func (e *AuthorizationError) Unwrap() []error { return []error{ErrForbidden, ErrNotParticipant} }

// Outcome 저장소 에러 발생 시 변경 작업의 수행 여부
type Outcome int

const (
	// OutcomeNotPerformed 변경이 일어나지 않았음이 확실함
	OutcomeNotPerformed Outcome = iota
	// OutcomeUnknown 변경이 반영됐을 수도 있음 (재시도 전 상태 확인 필요)
	OutcomeUnknown
)

func (o Outcome) String() string {
	if o == OutcomeUnknown {
		return "unknown"
	}
	return "not_performed"
}

// StoreError 저장소 실패
type StoreError struct {
	Op      string
	Outcome Outcome
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed (%s): %v", e.Op, e.Outcome, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// readError 조회 실패는 항상 NotPerformed
func readError(op string, err error) *StoreError {
	return &StoreError{Op: op, Outcome: OutcomeNotPerformed, Err: err}
}

// writeError 변경 작업 실패 분류
func writeError(op string, err error) *StoreError {
	outcome := OutcomeUnknown
	if repository.NotAttempted(err) {
		outcome = OutcomeNotPerformed
	}
	return &StoreError{Op: op, Outcome: outcome, Err: err}
}
