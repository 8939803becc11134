package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/radicle-collab/heartwood/pkg/cob"
	"github.com/radicle-collab/heartwood/pkg/config"
	"github.com/radicle-collab/heartwood/pkg/identity"
	"github.com/radicle-collab/heartwood/pkg/policy"
	"github.com/radicle-collab/heartwood/pkg/radcrypto"
	"github.com/radicle-collab/heartwood/pkg/rpc"
	"github.com/radicle-collab/heartwood/pkg/sigrefs"
	"github.com/radicle-collab/heartwood/pkg/store"
)

// HealthStatus tracks the health of the node's optional components for
// the /health endpoint.
type HealthStatus struct {
	Status      string `json:"status"`
	Storage     string `json:"storage"`
	Policy      string `json:"policy"`
	UptimeSecs  int64  `json:"uptimeSeconds"`
	startTime   time.Time
	mu          sync.RWMutex
}

var healthStatus = &HealthStatus{
	Status:    "starting",
	Storage:   "unknown",
	Policy:    "unknown",
	startTime: time.Now(),
}

func (h *HealthStatus) setPolicy(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Policy = status
	h.recompute()
}

func (h *HealthStatus) recompute() {
	if h.Storage == "connected" {
		h.Status = "ok"
	} else {
		h.Status = "degraded"
	}
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting heartwood node")

	var (
		listenAddr = flag.String("listen", "", "HTTP read-API address (overrides HEARTWOOD_LISTEN_ADDR)")
		showHelp   = flag.Bool("help", false, "show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	log.Printf("configuration loaded: listen=%s metrics=%s kv=%s scope=%s", cfg.ListenAddr, cfg.MetricsAddr, cfg.KVBackend, cfg.ReplicationScope)

	signer, err := loadOrGenerateKeypair(cfg)
	if err != nil {
		log.Fatalf("load node keypair: %v", err)
	}
	log.Printf("node identity: %s", signer.NID.String())

	db, err := openKV(cfg)
	if err != nil {
		log.Fatalf("open key-value store: %v", err)
	}
	healthStatus.Storage = "connected"
	s := store.New(db)
	log.Printf("ref+object store open (backend=%s dir=%s)", cfg.KVBackend, cfg.DataDir)

	registry := identity.NewRegistry()
	engine := cob.NewEngine(s, registry)
	idSvc := identity.NewService(s, registry)

	var policyClient *policy.Client
	if cfg.PolicyDatabaseURL != "" {
		policyClient, err = policy.NewClient(cfg)
		if err != nil {
			if cfg.PolicyRequired {
				log.Fatalf("policy database required but unreachable: %v", err)
			}
			log.Printf("policy database unreachable, running without follow/seed overrides: %v", err)
			healthStatus.setPolicy("disconnected")
		} else {
			if err := policyClient.MigrateUp(context.Background()); err != nil {
				log.Printf("policy database migration failed: %v", err)
			}
			healthStatus.setPolicy("connected")
			log.Printf("policy database connected and migrated")
		}
	} else {
		log.Printf("no policy database configured, replication policy is config-only")
		healthStatus.setPolicy("disabled")
	}

	followed := followedSet(cfg.Followed)
	if policyClient != nil {
		if peers, err := policyClient.FollowedPeers(context.Background(), signer.NID.String()); err != nil {
			log.Printf("load followed peers from policy database: %v", err)
		} else {
			for _, p := range peers {
				followed[p] = true
			}
			log.Printf("loaded %d followed peer(s) from policy database", len(peers))
		}
	}

	replicationPolicy := sigrefs.Policy{
		Scope:      sigrefs.Scope(cfg.ReplicationScope),
		Local:      signer.NID,
		Followed:   followed,
		IsDelegate: func(radcrypto.NID) bool { return false },
	}
	repos, err := s.ListRepositories()
	if err != nil {
		log.Printf("list repositories for startup prune: %v", err)
	}
	for _, rid := range repos {
		if err := sigrefs.Clean(s, rid, replicationPolicy); err != nil {
			log.Printf("prune namespaces for %s: %v", rid, err)
		}
	}
	log.Printf("startup namespace prune complete (%d repositories)", len(repos))

	logger := log.New(log.Writer(), "[rpc] ", log.LstdFlags)
	handlers := rpc.NewHandlers(s, engine, idSvc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/repos/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/log"):
			handlers.HandleCobLog(w, r)
		case strings.Contains(path, "/cobs/"):
			handlers.HandleCobShow(w, r)
		case strings.HasSuffix(path, "/identity"):
			handlers.HandleIdentityShow(w, r)
		case strings.HasSuffix(path, "/refs"):
			handlers.HandleRefs(w, r)
		case strings.HasSuffix(path, "/head"):
			handlers.HandleCanonicalHead(w, r)
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthStatus.mu.Lock()
		healthStatus.UptimeSecs = int64(time.Since(healthStatus.startTime).Seconds())
		status := healthStatus.Status
		healthStatus.mu.Unlock()
		if status != "ok" {
			w.WriteHeader(http.StatusOK)
		}
		fmt.Fprintf(w, `{"status":%q,"storage":%q,"policy":%q}`, status, healthStatus.Storage, healthStatus.Policy)
	})

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: rpc.MetricsHandler()}

	go func() {
		log.Printf("read API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("read API server: %v", err)
		}
	}()
	go func() {
		log.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	log.Printf("heartwood node ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("read API shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics shutdown error: %v", err)
	}
	if policyClient != nil {
		if err := policyClient.Close(); err != nil {
			log.Printf("policy database close error: %v", err)
		}
	}
	log.Printf("heartwood node stopped")
}

func openKV(cfg *config.Config) (dbm.DB, error) {
	switch cfg.KVBackend {
	case "memdb":
		return dbm.NewMemDB(), nil
	case "goleveldb", "":
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
		}
		return dbm.NewGoLevelDB("heartwood", cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown HEARTWOOD_KV_BACKEND %q", cfg.KVBackend)
	}
}

// loadOrGenerateKeypair loads the node's Ed25519 seed from cfg.KeyPath,
// generating and persisting a new one on first run.
func loadOrGenerateKeypair(cfg *config.Config) (radcrypto.Keypair, error) {
	keyPath := cfg.KeyPath
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "identity.key")
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return radcrypto.Keypair{}, fmt.Errorf("create key directory: %w", err)
	}

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		kp, err := radcrypto.GenerateKeypair()
		if err != nil {
			return radcrypto.Keypair{}, fmt.Errorf("generate keypair: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(kp.Private.Seed())), 0600); err != nil {
			return radcrypto.Keypair{}, fmt.Errorf("save keypair: %w", err)
		}
		log.Printf("generated new node identity, saved to %s", keyPath)
		return kp, nil
	}

	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return radcrypto.Keypair{}, fmt.Errorf("read keypair from %s: %w", keyPath, err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return radcrypto.Keypair{}, fmt.Errorf("decode keypair from %s: %w", keyPath, err)
	}
	return radcrypto.KeypairFromSeed(seed)
}

func followedSet(nids []string) map[string]bool {
	out := make(map[string]bool, len(nids))
	for _, n := range nids {
		out[n] = true
	}
	return out
}

func printHelp() {
	fmt.Println(`heartwoodd - sovereign code-collaboration node

Usage:
  heartwoodd [-listen addr] [-help]

Environment:
  HEARTWOOD_KEY_PATH            path to the node's Ed25519 seed file
  HEARTWOOD_DATA_DIR            base directory for the ref/object store
  HEARTWOOD_LISTEN_ADDR         read-API listen address
  HEARTWOOD_METRICS_ADDR        Prometheus /metrics listen address
  HEARTWOOD_KV_BACKEND          goleveldb | memdb
  HEARTWOOD_POLICY_DATABASE_URL Postgres connection string for follow/seed policy
  HEARTWOOD_POLICY_REQUIRED     fail startup if the policy database is unreachable
  HEARTWOOD_REPLICATION_SCOPE   all | followed | delegates
  HEARTWOOD_FOLLOWED            comma-separated NIDs to follow under "followed" scope
  HEARTWOOD_CONFIG_FILE         optional YAML overlay for the above
`)
}
