// Command p2pplay starts the messaging substrate core: loads (or
// generates) the node's identity, loads its configuration, opens the
// SQLite store, and runs the swarm event loop until interrupted.
//
// Grounded on the teacher's main.go CLI-peer path (runCLIPeer): resolve a
// data directory, load config, print a banner, install signal handling,
// and run — generalized from goop2's Wails-desktop-or-CLI split into a
// CLI-only entrypoint, since a terminal/desktop front end is out of scope
// here.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bhagdave/p2pplay/internal/applog"
	"github.com/bhagdave/p2pplay/internal/bootstrap"
	"github.com/bhagdave/p2pplay/internal/circuit"
	"github.com/bhagdave/p2pplay/internal/config"
	"github.com/bhagdave/p2pplay/internal/cryptoengine"
	"github.com/bhagdave/p2pplay/internal/identity"
	"github.com/bhagdave/p2pplay/internal/relay"
	"github.com/bhagdave/p2pplay/internal/storage"
	"github.com/bhagdave/p2pplay/internal/swarmnode"
	"github.com/bhagdave/p2pplay/internal/util"
)

var (
	dataDir = flag.String("data-dir", "data", "directory holding identity key, config, and database")
	alias   = flag.String("alias", "", "display name advertised to peers (defaults to the peer id)")
)

func main() {
	flag.Parse()

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatalf("resolve working directory: %v", err)
	}
	absDir := util.ResolvePath(cwd, *dataDir)
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("create data directory: %v", err)
	}

	cfg, err := config.Ensure(absDir)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	id, isNew, err := identity.LoadOrCreate(filepath.Join(absDir, filepath.Base(cfg.Identity.KeyFile)))
	if err != nil {
		log.Fatalf("load identity: %v", err)
	}

	displayAlias := id.ID.String()
	if *alias != "" {
		validated, err := util.ValidatePeerName(*alias)
		if err != nil {
			log.Fatalf("invalid -alias: %v", err)
		}
		displayAlias = validated
	}

	crypto, err := cryptoengine.New(id)
	if err != nil {
		log.Fatalf("init crypto engine: %v", err)
	}

	db, err := storage.Open(absDir)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	logs, err := applog.OpenSet(filepath.Join(absDir, "logs"))
	if err != nil {
		log.Fatalf("open logs: %v", err)
	}
	defer logs.Close()

	fabric := circuit.New(circuit.Config{
		FailureThreshold: cfg.CircuitBreakers.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreakers.SuccessThreshold,
		Timeout:          secondsToDuration(cfg.CircuitBreakers.TimeoutSeconds),
		OperationTimeout: secondsToDuration(cfg.CircuitBreakers.OperationTimeoutSeconds),
		Enabled:          cfg.CircuitBreakers.Enabled,
	})
	for _, name := range []string{
		swarmnode.CircuitPeerConnection,
		swarmnode.CircuitMessageBroadcast,
		swarmnode.CircuitDirectMessage,
		swarmnode.CircuitStoryPublish,
		swarmnode.CircuitDHTBootstrap,
	} {
		fabric.WithCircuit(name, circuit.Config{
			FailureThreshold: cfg.CircuitBreakers.FailureThreshold,
			SuccessThreshold: cfg.CircuitBreakers.SuccessThreshold,
			Timeout:          secondsToDuration(cfg.CircuitBreakers.TimeoutSeconds),
			OperationTimeout: secondsToDuration(cfg.CircuitBreakers.OperationTimeoutSeconds),
			Enabled:          cfg.CircuitBreakers.Enabled,
		})
	}

	relayEngine := relay.New(relay.Config{
		MaxHops:          uint32(cfg.Relay.MaxHops),
		MaxMessageSize:   cfg.Relay.MaxMessageSize,
		RelayTimeout:     secondsToDuration(cfg.Relay.RelayTimeoutSecs),
		MaxPendingRelays: cfg.Relay.MaxPendingRelays,
		ForwardFanout:    3,
	}, crypto, id.ID)

	bootCtl := bootstrap.New(bootstrap.Config{
		Peers:             cfg.Bootstrap.Peers,
		RetryInterval:     secondsToDuration(cfg.Bootstrap.RetryIntervalSecs),
		MaxRetries:        cfg.Bootstrap.MaxRetries,
		InitialDelay:      secondsToDuration(cfg.Bootstrap.InitialDelaySecs),
		BackoffMultiplier: cfg.Bootstrap.BackoffMultiplier,
		Enabled:           cfg.Bootstrap.Enabled,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		cancel()
	}()

	node, err := swarmnode.New(ctx, swarmnode.Deps{
		Identity: id,
		Alias:    displayAlias,
		Config:   cfg,
		Crypto:   crypto,
		Circuit:  fabric,
		Relay:    relayEngine,
		Bootctl:  bootCtl,
		DB:       db,
		Logs:     logs,
	})
	if err != nil {
		log.Fatalf("start swarm node: %v", err)
	}
	defer node.Close()

	printBanner(absDir, node, displayAlias, isNew)

	go logEvents(node, logs)

	node.Run(ctx)
}

// logEvents drains the swarm event loop and writes a one-line summary per
// event to the general log, standing in for the out-of-scope UI layer.
func logEvents(node *swarmnode.Node, logs *applog.Set) {
	for evt := range node.Events() {
		logs.General.Logf("EVENT", "%+v", evt)
	}
}

func secondsToDuration(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}

func printBanner(dataDir string, node *swarmnode.Node, alias string, isNewIdentity bool) {
	fmt.Println("p2pplay")
	fmt.Println("=======")
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Printf("Peer ID:        %s\n", node.ID())
	fmt.Printf("Alias:          %s\n", alias)
	if isNewIdentity {
		fmt.Println("Generated a new identity key.")
	}
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}
