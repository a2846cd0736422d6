package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admin-auth-service/internal/config"
	"admin-auth-service/internal/factory"
	"admin-auth-service/internal/handler"
	"admin-auth-service/internal/util"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	f, err := factory.NewFactory(ctx, cfg)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	router := setupRouter(f)

	servers, err := buildServers(f, router)
	if err != nil {
		util.Fatal("Failed to configure servers", util.ErrorField(err))
	}

	if err := run(ctx, servers); err != nil {
		util.Error("Server stopped with error", util.ErrorField(err))
		f.Close()
		util.Sync()
		os.Exit(1)
	}
}

func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	authService := f.ServiceFactory().AdminAuthService()
	adminHandler := handler.NewAdminHandler(authService, handler.NewCookieAdapter(cfg), util.Named("http"))
	return handler.NewRouter(adminHandler, f, cfg, util.Get())
}

type server struct {
	srv *http.Server
	tls bool
}

// buildServers returns the API server plus, for production AutoCert, the
// port 80 listener that answers ACME challenges and redirects.
func buildServers(f *factory.Factory, router http.Handler) ([]server, error) {
	cfg := f.Config()

	api := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if !cfg.Server.EnableTLS {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
		return []server{{srv: api}}, nil
	}

	tlsManager := f.TLSManager()
	api.Addr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	api.TLSConfig = tlsManager.GetTLSConfig()
	servers := []server{{srv: api, tls: true}}

	if cfg.IsProduction() && cfg.Server.AutoCert {
		autoCertManager := tlsManager.GetAutocertManager()
		if autoCertManager == nil {
			return nil, errors.New("autocert manager is not available in production")
		}
		api.Addr = ":443"
		servers = append(servers, server{srv: &http.Server{
			Addr:              ":80",
			Handler:           autoCertManager.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}})
	}

	util.Info("Starting HTTPS server",
		util.String("environment", cfg.Environment),
		util.String("address", api.Addr),
		util.Bool("auto_cert", cfg.Server.AutoCert),
	)
	return servers, nil
}

// run serves until ctx is cancelled or a listener fails, then shuts every
// server down.
func run(ctx context.Context, servers []server) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, s := range servers {
		g.Go(func() error {
			var err error
			if s.tls {
				// Certificates come from TLSConfig.GetCertificate.
				err = s.srv.ListenAndServeTLS("", "")
			} else {
				err = s.srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s: %w", s.srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		util.Info("Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var errs []error
		for _, s := range servers {
			if err := s.srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
