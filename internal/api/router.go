package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rl-arena/rl-arena-matchmaker/internal/api/handlers"
	"github.com/rl-arena/rl-arena-matchmaker/internal/api/middleware"
	"github.com/rl-arena/rl-arena-matchmaker/internal/service"
	"github.com/rl-arena/rl-arena-matchmaker/internal/websocket"
	"github.com/rl-arena/rl-arena-matchmaker/pkg/ratelimit"
)

// Dependencies 라우터가 사용하는 서비스 모음
type Dependencies struct {
	Env          string
	Matchmaking  *service.MatchmakingService
	Reaper       *service.ReaperService
	Hub          *websocket.Hub
	QueueLimiter ratelimit.Limiter // nil 이면 제한 없음
	HealthChecks map[string]handlers.Pinger
}

// SetupRouter API 라우터 설정
func SetupRouter(deps Dependencies) *gin.Engine {
	if deps.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 전역 미들웨어
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())

	mmHandler := handlers.NewMatchmakingHandler(deps.Matchmaking, deps.Reaper)
	healthHandler := handlers.NewHealthHandler(deps.HealthChecks)

	router.GET("/health", healthHandler.HealthCheck)

	limited := []gin.HandlerFunc{}
	if deps.QueueLimiter != nil {
		limited = append(limited, middleware.RateLimit(deps.QueueLimiter))
	}

	v1 := router.Group("/api/v1")
	{
		mm := v1.Group("/matchmaking")
		{
			mm.POST("/queue", append(limited, mmHandler.JoinQueue)...)
			mm.DELETE("/queue/:playerId", append(limited, mmHandler.LeaveQueue)...)
			mm.GET("/queue/status/:playerId", mmHandler.QueueStatus)
			mm.GET("/queue/stats", mmHandler.QueueStats)
			mm.GET("/queue/cleanup", mmHandler.Cleanup)
			mm.POST("/queue/cleanup", mmHandler.Cleanup)

			mm.GET("/match/:matchId", mmHandler.MatchInfo)
			mm.POST("/match/:matchId/cancel", append(limited, mmHandler.CancelMatch)...)

			if deps.Hub != nil {
				wsHandler := handlers.NewWebSocketHandler(deps.Hub)
				mm.GET("/ws", wsHandler.HandleWebSocket)
			}
		}
	}

	return router
}
