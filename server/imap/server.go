package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/exaring/ja4plus"
	"github.com/google/uuid"

	"github.com/driftmail/keel/cache"
	"github.com/driftmail/keel/db"
	"github.com/driftmail/keel/server"
	"github.com/driftmail/keel/server/uploader"
	"github.com/driftmail/keel/storage"
)

type IMAPServer struct {
	addr        string
	hostname    string
	db          *db.Database
	s3          *storage.S3Storage
	cache       *cache.Cache
	uploader    *uploader.UploadWorker
	handler     *server.MessageHandler
	limiter     *server.LoginLimiter
	appCtx      context.Context
	server      *imapserver.Server
	caps        imap.CapSet
	tlsConfig   *tls.Config
	tokenSecret string
	idData      imap.IDData
}

type Options struct {
	Debug        bool
	TLS          bool
	TLSCertFile  string
	TLSKeyFile   string
	InsecureAuth bool
	TokenSecret  string

	// LoginLimit and LoginWindow bound failed authentication attempts
	// per user and address; zero values use the package defaults.
	LoginLimit  int
	LoginWindow time.Duration

	// ID is what the server advertises in the ID exchange (RFC 2971).
	ID imap.IDData
}

func New(appCtx context.Context, hostname, addr string, s3 *storage.S3Storage, database *db.Database, uploadWorker *uploader.UploadWorker, blobCache *cache.Cache, handler *server.MessageHandler, options Options) (*IMAPServer, error) {
	loginLimit := options.LoginLimit
	if loginLimit <= 0 {
		loginLimit = server.DefaultLoginLimit
	}
	loginWindow := options.LoginWindow
	if loginWindow <= 0 {
		loginWindow = server.DefaultLoginWindow
	}

	s := &IMAPServer{
		addr:        addr,
		hostname:    hostname,
		db:          database,
		s3:          s3,
		cache:       blobCache,
		uploader:    uploadWorker,
		handler:     handler,
		limiter:     server.NewLoginLimiter(loginLimit, loginWindow),
		appCtx:      appCtx,
		tokenSecret: options.TokenSecret,
		idData:      options.ID,
		caps: imap.CapSet{
			imap.CapIMAP4rev1:   {},
			imap.CapLiteralPlus: {},
			imap.CapIdle:        {},
			imap.CapMove:        {},
			imap.CapUIDPlus:     {},
			imap.CapCondStore:   {},
			imap.CapUnselect:    {},
			imap.CapNamespace:   {},
			imap.CapSpecialUse:  {},
			imap.CapID:          {},
		},
	}
	if s.idData.Name == "" {
		s.idData.Name = "keel"
	}
	s.limiter.StartJanitor(appCtx)

	if options.TLS {
		cert, err := tls.LoadX509KeyPair(options.TLSCertFile, options.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		s.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
			// Log the JA4 fingerprint of every handshake; abusive
			// clients cluster by fingerprint regardless of source IP.
			GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
				log.Printf("TLS handshake remote=%s ja4=%s", hello.Conn.RemoteAddr(), ja4plus.JA4(hello))
				return nil, nil
			},
		}
	}

	var debugWriter *os.File
	serverOptions := &imapserver.Options{
		NewSession: func(conn *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return s.newSession(conn)
		},
		Caps:         s.caps,
		TLSConfig:    s.tlsConfig,
		InsecureAuth: options.InsecureAuth,
	}
	if options.Debug {
		debugWriter = os.Stdout
		serverOptions.DebugWriter = debugWriter
	}

	s.server = imapserver.New(serverOptions)
	return s, nil
}

func (s *IMAPServer) newSession(conn *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
	sessionCtx, sessionCancel := context.WithCancel(s.appCtx)
	session := &IMAPSession{
		server: s,
		conn:   conn,
		ctx:    sessionCtx,
		cancel: sessionCancel,
	}
	session.RemoteIP = server.ClientIP(conn.NetConn().RemoteAddr())
	session.Id = uuid.New().String()
	session.HostName = s.hostname
	session.Protocol = "IMAP"

	session.Log("New session")
	return session, &imapserver.GreetingData{PreAuth: false}, nil
}

func (s *IMAPServer) Start(errChan chan error) {
	var listener net.Listener
	var err error
	if s.tlsConfig != nil {
		listener, err = tls.Listen("tcp", s.addr, s.tlsConfig)
	} else {
		listener, err = net.Listen("tcp", s.addr)
	}
	if err != nil {
		errChan <- fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		return
	}

	log.Printf("IMAP listening on %s", s.addr)
	if err := s.server.Serve(listener); err != nil {
		if s.appCtx.Err() == nil {
			errChan <- fmt.Errorf("IMAP server error: %w", err)
		}
	}
}

func (s *IMAPServer) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
