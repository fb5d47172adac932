package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Server struct {
	Addr   string
	Engine *gin.Engine

	httpSrv *http.Server
}

func NewServer(addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		Addr:   addr,
		Engine: gin.Default(),
	}
}

func (s *Server) Run() error {
	s.httpSrv = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
