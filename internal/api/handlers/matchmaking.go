package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/rl-arena-matchmaker/internal/models"
	"github.com/rl-arena/rl-arena-matchmaker/internal/service"
)

type MatchmakingHandler struct {
	matchmakingService *service.MatchmakingService
	reaperService      *service.ReaperService
}

func NewMatchmakingHandler(matchmakingService *service.MatchmakingService, reaperService *service.ReaperService) *MatchmakingHandler {
	return &MatchmakingHandler{
		matchmakingService: matchmakingService,
		reaperService:      reaperService,
	}
}

// JoinQueueRequest 쿼리 파라미터 또는 JSON body
type JoinQueueRequest struct {
	PlayerID string `json:"player_id" form:"player_id"`
	Score    *int   `json:"score" form:"score"`
}

func now() time.Time {
	return time.Now().UTC()
}

// JoinQueue 대기열 참가 및 즉시 매칭 시도
func (h *MatchmakingHandler) JoinQueue(c *gin.Context) {
	var req JoinQueueRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters", "timestamp": now()})
		return
	}
	if req.PlayerID == "" && req.Score == nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "timestamp": now()})
			return
		}
	}
	if req.Score == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "score is required", "timestamp": now()})
		return
	}

	result, err := h.matchmakingService.Join(c.Request.Context(), req.PlayerID, *req.Score)
	if err != nil {
		respondError(c, err)
		return
	}

	if result.Status == models.JoinStatusMatched {
		c.JSON(http.StatusOK, gin.H{
			"status":      result.Status,
			"match_id":    result.MatchID,
			"opponent_id": result.OpponentID,
			"timestamp":   now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    result.Status,
		"position":  result.Position,
		"timestamp": now(),
	})
}

// LeaveQueue 대기열 탈퇴
func (h *MatchmakingHandler) LeaveQueue(c *gin.Context) {
	playerID := c.Param("playerId")

	if err := h.matchmakingService.Leave(c.Request.Context(), playerID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Successfully left queue",
		"timestamp": now(),
	})
}

// QueueStatus 대기 순번 조회
func (h *MatchmakingHandler) QueueStatus(c *gin.Context) {
	info, err := h.matchmakingService.QueueStatus(c.Request.Context(), c.Param("playerId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"player_id":  info.PlayerID,
		"position":   info.Position,
		"queue_size": info.QueueSize,
		"timestamp":  now(),
	})
}

// QueueStats 대기열 통계
func (h *MatchmakingHandler) QueueStats(c *gin.Context) {
	stats, err := h.matchmakingService.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_players": stats.TotalPlayers,
		"average_score": stats.AverageScore,
		"timestamp":     now(),
	})
}

// MatchInfo 매치 조회
func (h *MatchmakingHandler) MatchInfo(c *gin.Context) {
	match, err := h.matchmakingService.MatchDetails(c.Request.Context(), c.Param("matchId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, match)
}

// CancelMatch 참가자의 매치 취소 요청
func (h *MatchmakingHandler) CancelMatch(c *gin.Context) {
	playerID := c.Query("player_id")
	if playerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "player_id is required", "timestamp": now()})
		return
	}

	result, err := h.matchmakingService.Cancel(c.Request.Context(), c.Param("matchId"), playerID)
	if err != nil {
		respondError(c, err)
		return
	}

	message := "Match cancelled successfully"
	if result.AlreadyCancelled {
		message = "Match already cancelled"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   message,
		"timestamp": now(),
	})
}

// Cleanup 오래된 대기열 엔트리 정리 (timeout_minutes 생략 시 기본값)
func (h *MatchmakingHandler) Cleanup(c *gin.Context) {
	var timeout time.Duration
	if raw := c.Query("timeout_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timeout_minutes must be a positive integer", "timestamp": now()})
			return
		}
		timeout = time.Duration(minutes) * time.Minute
	}

	cleaned, err := h.reaperService.Sweep(c.Request.Context(), timeout)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"cleaned_entries": cleaned,
		"timestamp":       now(),
	})
}

// respondError 서비스 에러를 HTTP 상태로 변환
func respondError(c *gin.Context, err error) {
	var storeErr *service.StoreError

	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "timestamp": now()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized to cancel this match", "timestamp": now()})
	case errors.Is(err, service.ErrMatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Match not found", "timestamp": now()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Player not found in queue", "timestamp": now()})
	case errors.As(err, &storeErr):
		body := gin.H{"error": "Internal server error", "timestamp": now()}
		if storeErr.Outcome == service.OutcomeUnknown {
			body["outcome"] = storeErr.Outcome.String()
		}
		c.JSON(http.StatusInternalServerError, body)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "timestamp": now()})
	}
}
