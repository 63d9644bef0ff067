package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"promptmarket-rewards/pkg/config"
)

// ProvideHTTPServer constructs an *http.Server configured from the application config.
func ProvideHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

// Run wires the HTTP server lifecycle to the fx application.
func Run(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config, srv *http.Server) {
	var reloader *certReloader

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.TLS.Enable {
				r, err := newCertReloader(cfg.TLS.CertPath, cfg.TLS.KeyPath, logger)
				if err != nil {
					return err
				}
				reloader = r
				srv.TLSConfig = &tls.Config{GetCertificate: r.GetCertificate}
			}

			go func() {
				logger.Info("Starting HTTP server...", zap.String("addr", cfg.Server.Addr), zap.Bool("tls_enabled", cfg.TLS.Enable))
				var err error
				if cfg.TLS.Enable {
					// Cert and key paths are empty: GetCertificate serves the
					// watched pair instead.
					err = srv.ListenAndServeTLS("", "")
				} else {
					err = srv.ListenAndServe()
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("HTTP server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...", zap.String("addr", cfg.Server.Addr))
			if reloader != nil {
				reloader.Close()
			}
			return srv.Shutdown(ctx)
		},
	})
}

// certReloader serves the current certificate pair and swaps it in place when
// the files on disk change, so cert rotation needs no restart.
type certReloader struct {
	mu       sync.RWMutex
	cert     *tls.Certificate
	certPath string
	keyPath  string
	watcher  *watcher
	logger   *zap.Logger
}

func newCertReloader(certPath, keyPath string, logger *zap.Logger) (*certReloader, error) {
	r := &certReloader{
		certPath: certPath,
		keyPath:  keyPath,
		logger:   logger,
	}

	if err := r.reload(); err != nil {
		return nil, err
	}

	w, err := newWatcher([]string{certPath, keyPath}, func() {
		if err := r.reload(); err != nil {
			logger.Error("failed to reload TLS certificate", zap.Error(err))
			return
		}
		logger.Info("TLS certificate reloaded", zap.String("cert_path", certPath))
	}, logger)
	if err != nil {
		return nil, err
	}
	r.watcher = w

	return r, nil
}

func (r *certReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

func (r *certReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

func (r *certReloader) Close() {
	if r.watcher != nil {
		r.watcher.Close()
	}
}

var Module = fx.Module("server",
	fx.Provide(ProvideHTTPServer),
	fx.Invoke(Run),
)
