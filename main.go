package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/slighter12/jsonrpc-entrypoint/auth"
	"github.com/slighter12/jsonrpc-entrypoint/config"
	"github.com/slighter12/jsonrpc-entrypoint/jsonrpc"
	"github.com/slighter12/jsonrpc-entrypoint/logger"
	"github.com/slighter12/jsonrpc-entrypoint/methods"
	"github.com/slighter12/jsonrpc-entrypoint/store"
	"github.com/slighter12/jsonrpc-entrypoint/transport/http"
)

func main() {
	configFlag := flag.String("config", "", "path to the configuration file (JSON or TOML)")
	issueToken := flag.String("issue-token", "", "print a bearer token for the given subject and exit")
	tokenRoles := flag.String("roles", "", "comma separated roles for -issue-token")
	flag.Parse()

	// Load configuration
	configPath := *configFlag
	if configPath == "" {
		resolved, err := config.ResolveConfigPath()
		if err != nil {
			log.Fatalf("Failed to resolve config path: %+v", err)
		}
		configPath = resolved
	}
	if err := config.EnsureDefaultConfig(configPath); err != nil {
		log.Fatalf("Failed to create default configuration: %+v", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %+v", err)
	}

	if *issueToken != "" {
		printToken(cfg, *issueToken, *tokenRoles)
		return
	}

	// Initialize logger
	if err := logger.Init(logger.GetLevelFromString(cfg.Logging.Level), logger.Format(cfg.Logging.Format), cfg.Logging.Path); err != nil {
		log.Fatalf("Failed to initialize logger: %+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		logger.Error("Failed to open store", "path", cfg.Storage.DBPath, "error", err)
		os.Exit(1)
	}
	defer kv.Close()
	if err := kv.Init(ctx); err != nil {
		logger.Error("Failed to initialize store", "path", kv.Path(), "error", err)
		os.Exit(1)
	}

	entrypoints, err := buildEntrypoints(cfg, kv)
	if err != nil {
		logger.Error("Failed to build entrypoints", "error", err)
		os.Exit(1)
	}

	go func() {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			logger.SetDefaultLevel(logger.GetLevelFromString(next.Logging.Level))
			logger.Info("Configuration reloaded", "path", configPath, "log_level", next.Logging.Level)
		})
		if err != nil {
			logger.Warn("Configuration watcher stopped", "error", err)
		}
	}()

	// Create and start server
	server := http.NewServer(cfg, entrypoints...)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		timeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", "error", err)
		}
	}
}

func buildEntrypoints(cfg *config.Config, kv *store.Store) ([]*jsonrpc.Entrypoint, error) {
	resolvers := []jsonrpc.ContextResolver{kv.Resolver()}
	if cfg.Auth.Enabled {
		resolvers = append(resolvers, auth.NewResolver(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.Required))
	}
	resolver := jsonrpc.ChainResolvers(resolvers...)

	entrypoints := make([]*jsonrpc.Entrypoint, 0, len(cfg.Entrypoints))
	for _, epCfg := range cfg.Entrypoints {
		ep := jsonrpc.NewEntrypoint(epCfg.Path,
			jsonrpc.WithName(epCfg.Name),
			jsonrpc.WithResolver(resolver),
			jsonrpc.WithSchedulerFactory(jsonrpc.PoolSchedulerFactory(cfg.Scheduler.MaxWorkers)),
		)
		if err := methods.Register(ep); err != nil {
			return nil, err
		}
		logger.Info("Entrypoint registered", "name", ep.Name(), "path", ep.Path(), "methods", len(ep.Methods()))
		entrypoints = append(entrypoints, ep)
	}
	return entrypoints, nil
}

func printToken(cfg *config.Config, subject, roles string) {
	if cfg.Auth.Secret == "" {
		log.Fatal("auth.secret is not configured")
	}
	var roleList []string
	for _, role := range strings.Split(roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roleList = append(roleList, role)
		}
	}
	ttl := time.Duration(cfg.Auth.TTLSeconds) * time.Second
	token, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, ttl).Issue(subject, "", roleList...)
	if err != nil {
		log.Fatalf("Failed to issue token: %+v", err)
	}
	fmt.Println(token)
}
