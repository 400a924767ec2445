package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/pkg/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

// NewEngine builds the gin engine with the standard middleware chain and the
// node routes registered.
func NewEngine(env config.Env, components *Components) *gin.Engine {
	if env.AppEnv == "prod" || env.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(recovery(), requestID(), accessLog(), cors.New(corsConfig(env.CORSAllowedOrigins)))
	components.Handler.Register(engine)
	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AddAllowHeaders(idempotencyHeaderName, requestIDHeader)
	cfg.AddExposeHeaders(requestIDHeader, "X-Idempotent-Replay")
	return cfg
}

type Server struct {
	httpServer *http.Server
	components *Components
}

func NewServer(port int, handler http.Handler, components *Components) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + strconv.Itoa(port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		components: components,
	}
}

// Run serves until SIGTERM or SIGINT, then drains in-flight requests, stops
// the sweeper and closes backend connections.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer s.components.Close()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		s.components.Sweeper.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("node lease manager listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(stop)

	var err error
	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = s.httpServer.Shutdown(shutdownCtx)
		shutdownCancel()
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}
	cancel()
	<-sweepDone
	return err
}
