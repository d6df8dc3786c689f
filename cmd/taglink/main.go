// Taglink - FDI gateway daemon
//
// Serves the FDI tag protocol to filling-line clients and republishes
// tag data to MQTT, Valkey, and Kafka. A REST admin API manages the tag
// registry at runtime.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"taglink/api"
	"taglink/config"
	"taglink/engine"
	"taglink/logging"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "taglink.yaml", "path to config file")
	debugLog := flag.String("log-debug", "", "enable debug logging to taglink-debug.log for the listed subsystems (comma separated); use -debug for all")
	debugEnabled := flag.Bool("debug", false, "enable debug logging for all subsystems")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("taglink %s\n", Version)
		return
	}

	if *debugEnabled || *debugLog != "" {
		logger, err := logging.NewDebugLogger("taglink-debug.log")
		if err != nil {
			log.Fatalf("debug log: %v", err)
		}
		logger.SetFilter(*debugLog)
		logging.SetGlobal(logger)
		defer logger.Close()
	}

	cfg, err := loadOrCreateConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		LogFunc:    log.Printf,
	})
	if err := eng.Start(); err != nil {
		log.Fatalf("engine: %v", err)
	}
	defer eng.Stop()

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.NewServer(&cfg.API, eng)
		if err := apiSrv.Start(); err != nil {
			log.Fatalf("api: %v", err)
		}
		defer apiSrv.Stop()
		log.Printf("Admin API listening on %s:%d", cfg.API.Host, cfg.API.Port)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Printf("Received %v, shutting down", s)
}

// loadOrCreateConfig loads the config file, writing a default one on
// first run so operators have a template to edit.
func loadOrCreateConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.Default()
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		log.Printf("Created default config at %s", path)
		return cfg, nil
	}
	return config.Load(path)
}
