package main

import (
	"context"
	"flag"
	"log"
	"log/syslog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	imapapi "github.com/emersion/go-imap/v2"

	"github.com/driftmail/keel/cache"
	"github.com/driftmail/keel/db"
	"github.com/driftmail/keel/metrics"
	"github.com/driftmail/keel/server"
	"github.com/driftmail/keel/server/cleaner"
	"github.com/driftmail/keel/server/imap"
	"github.com/driftmail/keel/server/lmtp"
	"github.com/driftmail/keel/server/uploader"
	"github.com/driftmail/keel/storage"
)

func main() {
	configPath := flag.String("config", "/etc/keel/config.toml", "Path to the TOML configuration file")
	debug := flag.Bool("debug", false, "Print all commands and responses")
	flag.Parse()

	config := newDefaultConfig()
	if _, err := toml.DecodeFile(*configPath, &config); err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Failed to read configuration %s: %v", *configPath, err)
		}
		log.Printf("Configuration %s not found, using defaults", *configPath)
	}
	if *debug {
		config.Database.Debug = true
		config.IMAP.Debug = true
		config.LMTP.Debug = true
	}
	if err := config.validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	setupLogging(config.LogOutput)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		log.Printf("Received signal %s, shutting down", sig)
		cancel()
	}()

	log.Printf("Connecting to S3 endpoint %s, bucket %s", config.S3.Endpoint, config.S3.Bucket)
	s3storage, err := storage.New(config.S3.Endpoint, config.S3.AccessKey, config.S3.SecretKey, config.S3.Bucket, config.S3.UseTLS)
	if err != nil {
		log.Fatalf("Failed to initialize S3 storage: %v", err)
	}

	log.Printf("Connecting to database at %s:%s as %s, using database %s",
		config.Database.Host, config.Database.Port, config.Database.User, config.Database.Name)
	database, err := db.NewDatabase(ctx, config.Database.Host, config.Database.Port,
		config.Database.User, config.Database.Password, config.Database.Name,
		config.Database.TLSMode, config.Database.Debug)
	if err != nil {
		log.Fatalf("Failed to connect to the database: %v", err)
	}
	defer database.Close()

	cacheCapacity, err := config.Cache.GetCapacity()
	if err != nil {
		log.Fatalf("Invalid cache capacity: %v", err)
	}
	cacheMaxObject, err := config.Cache.GetMaxObjectSize()
	if err != nil {
		log.Fatalf("Invalid cache max object size: %v", err)
	}
	cachePurgeInterval, err := config.Cache.GetPurgeInterval()
	if err != nil {
		log.Fatalf("Invalid cache purge interval: %v", err)
	}
	blobCache, err := cache.New(config.Cache.Path, cacheCapacity, database, cache.Options{
		MaxObjectSize: cacheMaxObject,
		PurgeInterval: cachePurgeInterval,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer blobCache.Close()
	if err := blobCache.SyncFromDisk(); err != nil {
		log.Fatalf("Failed to sync cache from disk: %v", err)
	}
	blobCache.StartPurgeLoop(ctx)

	hostname, _ := os.Hostname()

	uploaderRetry, err := config.Uploader.GetRetryInterval()
	if err != nil {
		log.Fatalf("Invalid uploader retry interval: %v", err)
	}
	uploadWorker, err := uploader.New(config.Uploader.Path, hostname, database, s3storage, blobCache, uploader.Options{
		BatchSize:     config.Uploader.BatchSize,
		Concurrency:   config.Uploader.Concurrency,
		RetryInterval: uploaderRetry,
	})
	if err != nil {
		log.Fatalf("Failed to create upload worker: %v", err)
	}
	uploadWorker.Start(ctx)

	cleanerInterval, err := config.Cleaner.GetInterval()
	if err != nil {
		log.Fatalf("Invalid cleaner interval: %v", err)
	}
	gracePeriod, err := config.Cleaner.GetGracePeriod()
	if err != nil {
		log.Fatalf("Invalid cleaner grace period: %v", err)
	}
	journalRetention, err := config.Cleaner.GetJournalRetention()
	if err != nil {
		log.Fatalf("Invalid journal retention: %v", err)
	}
	cleaner.New(database, s3storage, blobCache, cleanerInterval, gracePeriod, journalRetention).Start(ctx)

	maxMessageSize, err := config.IMAP.GetMaxMessageSize()
	if err != nil {
		log.Fatalf("Invalid max message size: %v", err)
	}
	defaultQuota, err := config.IMAP.GetMaxStorage()
	if err != nil {
		log.Fatalf("Invalid max storage: %v", err)
	}
	handler := &server.MessageHandler{
		DB:             database,
		Uploader:       uploadWorker,
		MaxMessageSize: maxMessageSize,
		DefaultQuota:   defaultQuota,
	}

	errChan := make(chan error, 1)

	if config.IMAP.Start {
		loginWindow, err := config.Auth.GetLoginWindow()
		if err != nil {
			log.Fatalf("Invalid login window: %v", err)
		}
		imapServer, err := imap.New(ctx, hostname, config.IMAP.Addr(), s3storage, database, uploadWorker, blobCache, handler, imap.Options{
			Debug:        config.IMAP.Debug,
			TLS:          config.IMAP.TLS,
			TLSCertFile:  config.IMAP.TLSCertFile,
			TLSKeyFile:   config.IMAP.TLSKeyFile,
			InsecureAuth: config.IMAP.InsecureAuth,
			TokenSecret:  config.Auth.TokenSecret,
			LoginLimit:   config.Auth.LoginLimit,
			LoginWindow:  loginWindow,
			ID: imapapi.IDData{
				Name:       config.IMAP.ID.Name,
				Version:    config.IMAP.ID.Version,
				Vendor:     config.IMAP.ID.Vendor,
				SupportURL: config.IMAP.ID.SupportURL,
			},
		})
		if err != nil {
			log.Fatalf("Failed to create IMAP server: %v", err)
		}
		go func() {
			<-ctx.Done()
			log.Println("Shutting down IMAP server")
			imapServer.Close()
		}()
		go imapServer.Start(errChan)
	}

	if config.LMTP.Start {
		lmtpServer, err := lmtp.New(ctx, hostname, config.LMTP.Addr(), database, handler, lmtp.Options{
			Debug:          config.LMTP.Debug,
			TLSCertFile:    config.LMTP.TLSCertFile,
			TLSKeyFile:     config.LMTP.TLSKeyFile,
			ExternalRelay:  config.LMTP.ExternalRelay,
			MaxMessageSize: maxMessageSize,
		})
		if err != nil {
			log.Fatalf("Failed to create LMTP server: %v", err)
		}
		go func() {
			<-ctx.Done()
			log.Println("Shutting down LMTP server")
			lmtpServer.Close()
		}()
		go lmtpServer.Start(errChan)
	}

	if config.Metrics.Start {
		go metrics.Serve(ctx, config.Metrics.Addr())
	}

	select {
	case <-ctx.Done():
		log.Println("Shutting down")
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}

// setupLogging points the standard logger at the configured sink:
// "stderr", "syslog" or a file path.
func setupLogging(output string) {
	switch output {
	case "", "stderr":
	case "syslog":
		w, err := syslog.New(syslog.LOG_MAIL|syslog.LOG_INFO, "keel")
		if err != nil {
			log.Printf("Failed to connect to syslog, staying on stderr: %v", err)
			return
		}
		log.SetOutput(w)
		log.SetFlags(0)
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Printf("Failed to open log file %s, staying on stderr: %v", output, err)
			return
		}
		log.SetOutput(f)
	}
}
