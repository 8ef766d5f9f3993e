package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/LJTian/TrendsRealtime/internal/storage"
	"github.com/gin-gonic/gin"
)

// StatusSource 提供各数据源最近一轮的状态
type StatusSource interface {
	Status() []storage.PassStatus
}

// StatusCache 进程刚启动、内存中尚无状态时，从 Redis 读取上一进程留下的状态
type StatusCache interface {
	LoadStatus(ctx context.Context, source string) (storage.PassStatus, bool, error)
}

type Server struct {
	status  StatusSource
	cache   StatusCache
	sources []string
}

func NewServer(status StatusSource) *Server {
	return &Server{status: status}
}

// WithCache 设置回退用的状态缓存及要读取的数据源
func (s *Server) WithCache(cache StatusCache, sources ...string) *Server {
	s.cache = cache
	s.sources = sources
	return s
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", s.listStatus)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listStatus(c *gin.Context) {
	data := s.status.Status()
	if len(data) == 0 && s.cache != nil {
		data = s.cachedStatus(c.Request.Context())
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    data,
	})
}

func (s *Server) cachedStatus(ctx context.Context) []storage.PassStatus {
	out := make([]storage.PassStatus, 0, len(s.sources))
	for _, src := range s.sources {
		st, ok, err := s.cache.LoadStatus(ctx, src)
		if err != nil {
			slog.Warn("status cache read failed", "source", src, "error", err)
			continue
		}
		if ok {
			out = append(out, st)
		}
	}
	return out
}
