package lmtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/driftmail/keel/db"
	"github.com/driftmail/keel/server"
)

type LMTPServerBackend struct {
	addr          string
	hostname      string
	db            *db.Database
	handler       *server.MessageHandler
	appCtx        context.Context
	server        *smtp.Server
	externalRelay string
	tlsConfig     *tls.Config
}

type Options struct {
	Debug          bool
	TLSCertFile    string
	TLSKeyFile     string
	ExternalRelay  string
	MaxMessageSize int64
}

func New(appCtx context.Context, hostname, addr string, database *db.Database, handler *server.MessageHandler, options Options) (*LMTPServerBackend, error) {
	backend := &LMTPServerBackend{
		addr:          addr,
		appCtx:        appCtx,
		hostname:      hostname,
		db:            database,
		handler:       handler,
		externalRelay: options.ExternalRelay,
	}

	if options.TLSCertFile != "" && options.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(options.TLSCertFile, options.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		backend.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	s := smtp.NewServer(backend)
	s.Addr = addr
	s.Domain = hostname
	s.LMTP = true
	s.Network = "tcp"
	s.TLSConfig = backend.tlsConfig
	if options.MaxMessageSize > 0 {
		s.MaxMessageBytes = options.MaxMessageSize
	}
	if options.Debug {
		s.Debug = os.Stdout
	}
	backend.server = s

	return backend, nil
}

func (b *LMTPServerBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	sessionCtx, sessionCancel := context.WithCancel(b.appCtx)
	s := &LMTPSession{
		backend: b,
		conn:    c,
		ctx:     sessionCtx,
		cancel:  sessionCancel,
	}
	s.RemoteIP = server.ClientIP(c.Conn().RemoteAddr())
	s.Id = uuid.New().String()
	s.HostName = b.hostname
	s.Protocol = "LMTP"

	s.Log("New session")
	return s, nil
}

func (b *LMTPServerBackend) Start(errChan chan error) {
	log.Printf("LMTP listening on %s", b.addr)
	if err := b.server.ListenAndServe(); err != nil {
		if b.appCtx.Err() == nil {
			errChan <- fmt.Errorf("LMTP server error: %w", err)
		}
	}
}

func (b *LMTPServerBackend) Close() error {
	if b.server != nil {
		return b.server.Close()
	}
	return nil
}
