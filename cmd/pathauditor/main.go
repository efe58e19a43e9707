// Command pathauditor is a reference daemon demonstrating the path auditor
// core end to end: it watches a directory (or reads a synthetic event feed
// for remote-pid auditing) and logs every filesystem access whose path
// resolution could have been influenced by an unprivileged local user.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/pathauditor/config"
	"github.com/google/pathauditor/daemon"
)

func main() {
	configPath := flag.String("config", "/etc/pathauditor/pathauditor.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		log.Fatalf("initializing daemon: %v", err)
	}

	if err := d.Start(); err != nil {
		log.Fatalf("starting daemon: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("shutting down")
	d.Stop()
}
