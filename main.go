package main

import (
	"context"
	"crypto/tls"
	"log"
	"os"
	"os/signal"
)

func main() {
	app := buildApp(run)
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("[server] %v", err)
	}
}

func run(cfg Config) error {
	srv, err := NewServer(cfg)
	if err != nil {
		return err
	}

	var adminTLS *tls.Config
	if cfg.AdminAddr != "" && cfg.AdminTLS {
		conf, fingerprint, err := generateTLSConfig(cfg.CertValidity, "")
		if err != nil {
			return err
		}
		log.Printf("[admin] TLS certificate fingerprint: %s", fingerprint)
		adminTLS = conf
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	log.Printf("[server] stream listening on %s, datagram on %s", cfg.StreamAddr, cfg.DatagramAddr)
	if cfg.AdminAddr != "" {
		log.Printf("[admin] listening on %s", cfg.AdminAddr)
	}

	return srv.Start(ctx, adminTLS)
}
