// Command skillhost serves Agent Skills over the Model Context Protocol's
// streamable HTTP transport, with bearer-token authentication in front.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentskills/skillhost/auth"
	"github.com/agentskills/skillhost/auth/authtest"
	"github.com/agentskills/skillhost/internal/config"
	"github.com/agentskills/skillhost/internal/jwtauth"
	"github.com/agentskills/skillhost/internal/logctx"
	"github.com/agentskills/skillhost/internal/oauthproxy"
	"github.com/agentskills/skillhost/internal/sessionstore"
	"github.com/agentskills/skillhost/llm"
	"github.com/agentskills/skillhost/mcp"
	"github.com/agentskills/skillhost/mcphttp"
	"github.com/agentskills/skillhost/mcpservice"
	"github.com/agentskills/skillhost/skills"
	"github.com/agentskills/skillhost/skills/semantic"
)

const serverVersion = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})})
	slog.SetDefault(log)

	index, err := buildIndex(cfg, log)
	if err != nil {
		return err
	}

	mgr, err := skills.NewManager(skills.ManagerConfig{
		Dir:            cfg.SkillsDirectory,
		AdditionalDirs: cfg.SplitAdditionalSkillsDirs(),
		ManagedUser:    cfg.ManagedSkillsUser,
		Index:          index,
		SearchLimit:    cfg.SemanticSearchLimit,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	if index != nil {
		if err := mgr.RefreshIndex(ctx); err != nil {
			log.Warn("initial semantic index build failed", slog.String("err", err.Error()))
		}
		watcher, err := skills.NewWatcher(mgr, 0)
		if err != nil {
			log.Warn("skills watcher unavailable", slog.String("err", err.Error()))
		} else {
			go func() {
				if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("skills watcher stopped", slog.String("err", err.Error()))
				}
			}()
		}
	}

	client := llm.NewClient(llm.Config{
		DefaultModel:       cfg.DefaultModel,
		AnthropicAPIKey:    cfg.AnthropicAPIKey,
		AWSAccessKeyID:     cfg.AWSAccessKeyID,
		AWSSecretAccessKey: cfg.AWSSecretAccessKey,
		AWSRegion:          cfg.AWSRegion,
		VertexAIProject:    cfg.VertexAIProject,
		VertexAILocation:   cfg.VertexAILocation,
		Logger:             log,
	})

	tools := mcpservice.NewToolsContainer(newSkillTools(mgr, client)...)

	provider, err := buildAuthProvider(ctx, cfg, log)
	if err != nil {
		return err
	}

	store, err := buildSessionStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	handler, err := mcphttp.New(cfg.PublicEndpoint, store, tools, provider,
		mcphttp.WithServerInfo(mcp.ImplementationInfo{Name: "skillhost", Version: serverVersion}),
		mcphttp.WithInstructions("Use skills_search to discover Agent Skills, skills_describe to read one, and skills_execute to run one against an LLM."),
		mcphttp.WithRealm("mcp"),
		mcphttp.WithLogger(log),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", slog.String("addr", cfg.ListenAddr), slog.String("endpoint", cfg.PublicEndpoint))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildIndex assembles the semantic search index, or returns nil when
// semantic search is disabled or unconfigured.
func buildIndex(cfg *config.Config, log *slog.Logger) (skills.Index, error) {
	if !cfg.SemanticSearchEnabled || cfg.EmbeddingEndpoint == "" {
		return nil, nil
	}

	var embOpts []semantic.HTTPEmbedderOption
	if cfg.EmbeddingAPIKey != "" {
		embOpts = append(embOpts, semantic.WithAPIKey(cfg.EmbeddingAPIKey))
	}
	var emb semantic.Embedder
	emb, err := semantic.NewHTTPEmbedder(cfg.EmbeddingEndpoint, cfg.EmbeddingModel, embOpts...)
	if err != nil {
		return nil, err
	}

	if cfg.RedisAddr != "" {
		cache, err := semantic.NewRedisVectorCache(cfg.RedisAddr, 0)
		if err != nil {
			return nil, err
		}
		emb = semantic.NewCachingEmbedder(emb, cache, cfg.EmbeddingModel, log)
	}

	return semantic.NewIndex(emb,
		semantic.WithLimit(cfg.SemanticSearchLimit),
		semantic.WithThreshold(cfg.SemanticSearchThreshold),
		semantic.WithIndexLogger(log),
	), nil
}

// buildAuthProvider assembles the dual-path authenticator: an opaque-token
// verifier when an introspection endpoint is known, backed by either the
// built-in OAuth proxy or verify-only JWT validation against the issuer.
func buildAuthProvider(ctx context.Context, cfg *config.Config, log *slog.Logger) (auth.Provider, error) {
	var opaque auth.TokenVerifier
	if url := cfg.ResolveTokeninfoURL(); url != "" && cfg.OAuthClientID != "" {
		opts := []auth.OpaqueVerifierOption{
			auth.WithRequiredScopes(cfg.SplitRequiredScopes()...),
			auth.WithLogger(log),
		}
		var err error
		if url == auth.GoogleTokeninfoURL {
			opaque, err = auth.NewGoogleVerifier(cfg.OAuthClientID, opts...)
		} else {
			opaque, err = auth.NewOpaqueVerifier(url, cfg.OAuthClientID, opts...)
		}
		if err != nil {
			return nil, err
		}
		log.Info("opaque token verification enabled", slog.String("endpoint", url))
	}

	var provider auth.Provider
	switch {
	case cfg.OAuthIssuer != "" && cfg.OAuthClientSecret != "":
		p, err := oauthproxy.New(ctx, oauthproxy.Config{
			PublicURL:       cfg.PublicEndpoint,
			UpstreamIssuer:  cfg.OAuthIssuer,
			ClientID:        cfg.OAuthClientID,
			ClientSecret:    cfg.OAuthClientSecret,
			RequiredScopes:  cfg.SplitRequiredScopes(),
			ExtraAuthParams: cfg.SplitExtraAuthParams(),
			Logger:          log,
		})
		if err != nil {
			return nil, fmt.Errorf("configure oauth proxy: %w", err)
		}
		provider = p
		log.Info("oauth proxy enabled", slog.String("upstream", cfg.OAuthIssuer))

	case cfg.OAuthIssuer != "":
		jcfg := jwtauth.DefaultConfig()
		jcfg.Issuer = cfg.OAuthIssuer
		jcfg.ExpectedAudiences = []string{cfg.PublicEndpoint}
		jcfg.RequiredScopes = cfg.SplitRequiredScopes()
		a, err := jwtauth.NewFromDiscovery(ctx, jcfg)
		if err != nil {
			return nil, fmt.Errorf("configure jwt validation: %w", err)
		}
		provider = a
		log.Info("external issuer validation enabled", slog.String("issuer", cfg.OAuthIssuer))

	default:
		log.Warn("authentication disabled; accepting any bearer token")
		provider = &authtest.UnsecuredProvider{}
	}

	var bearerOpts []auth.BearerOption
	bearerOpts = append(bearerOpts, auth.WithBearerLogger(log))
	return auth.NewBearerAuthenticator(opaque, provider, bearerOpts...), nil
}

func buildSessionStore(cfg *config.Config) (sessionstore.Store, error) {
	if cfg.RedisAddr == "" {
		return sessionstore.NewMemoryStore(0), nil
	}
	return sessionstore.NewRedisStore(sessionstore.RedisConfig{
		Client: redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
	})
}
