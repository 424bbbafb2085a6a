package web

import (
	"context"
	"crypto/tls"
	"fmt"
	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
	"net/http"
	"t7stream/pkg/generic"
)

type Server struct {
	*generic.Server
	*Config
}

func NewServer(router *gin.Engine, config *Config) (*Server, error) {
	if config.Monitor == nil {
		return nil, fmt.Errorf("web server needs a session monitor")
	}
	s := &generic.Server{
		Router:  router,
		Port:    config.Port,
		Methods: []string{http.MethodGet},
	}

	server := &Server{
		Server: s,
		Config: config,
	}

	server.InstallHandlers()

	return server, nil
}

func (s *Server) InstallHandlers() {
	s.Router.Use(generic.AllowMethods(s.Methods...))
	v1 := s.Router.Group("/api/v1")
	InstallHandler(v1, s.Config)
}

// Serve starts listening in the background and returns the shutdown func.
func (s *Server) Serve() (func(ctx context.Context), error) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", s.Server.Port),
		Handler: s.Router,
	}
	if len(s.CertFile) != 0 && len(s.KeyFile) != 0 {
		x509KeyPair, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
		if err != nil {
			return nil, err
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{x509KeyPair},
		}
		go func() {
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				klog.ErrorS(err, "Failed to serve https", "port", s.Server.Port)
			}
		}()
	} else {
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				klog.ErrorS(err, "Failed to serve http", "port", s.Server.Port)
			}
		}()
	}

	return func(ctx context.Context) {
		srv.SetKeepAlivesEnabled(false)
		if s.Hub != nil {
			if err := s.Hub.Close(); err != nil {
				klog.Error(err)
			}
		}
		if err := srv.Shutdown(ctx); err != nil {
			klog.Error(err)
		}
	}, nil
}
