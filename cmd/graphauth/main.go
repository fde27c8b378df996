package main

import (
	"flag"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/mgraph-tools/graphauth/internal/cmd"
	"github.com/mgraph-tools/graphauth/internal/config"
	"github.com/mgraph-tools/graphauth/internal/logging"
)

func main() {
	var (
		login      bool
		noBrowser  bool
		token      bool
		list       bool
		clear      bool
		tenantID   string
		clientID   string
		configPath string
	)

	flag.BoolVar(&login, "login", false, "Run the interactive browser login and store the credentials")
	flag.BoolVar(&noBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	flag.BoolVar(&token, "token", false, "Print a currently valid access token")
	flag.BoolVar(&list, "list", false, "List stored credential files")
	flag.BoolVar(&clear, "clear", false, "Delete stored credential files")
	flag.StringVar(&tenantID, "tenant", "", "Tenant ID override for -clear")
	flag.StringVar(&clientID, "client", "", "Client ID override for -clear")
	flag.StringVar(&configPath, "config", "", "Configuration file path")

	flag.Parse()

	logging.SetupBaseLogger()

	cfg := loadConfig(configPath)
	logging.SetLogLevel(cfg.Debug)
	if err := logging.ConfigureLogOutput(cfg.LogToFile); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}

	switch {
	case login:
		cmd.DoLogin(cfg, noBrowser)
	case token:
		cmd.DoToken(cfg)
	case list:
		cmd.DoList(cfg)
	case clear:
		if tenantID == "" {
			tenantID = cfg.TenantID
		}
		if clientID == "" {
			clientID = cfg.ClientID
		}
		cmd.DoClear(cfg, tenantID, clientID)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// loadConfig reads the YAML configuration, defaulting to config.yaml in the
// working directory. A missing default file yields an empty configuration
// so store-only commands still work.
func loadConfig(configPath string) *config.Config {
	if configPath != "" {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		return cfg
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to get working directory: %v", err)
	}
	defaultPath := filepath.Join(wd, "config.yaml")
	if _, errStat := os.Stat(defaultPath); os.IsNotExist(errStat) {
		return &config.Config{}
	}
	cfg, err := config.LoadConfig(defaultPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
