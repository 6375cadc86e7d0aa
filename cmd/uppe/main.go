package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/multiformats/go-multiaddr"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/skip2/go-qrcode"
	"golang.org/x/term"

	"github.com/uppe-net/uppe/internal/config"
	"github.com/uppe-net/uppe/internal/crypto"
	"github.com/uppe-net/uppe/internal/netlog"
	"github.com/uppe-net/uppe/internal/orchestrator"
	"github.com/uppe-net/uppe/internal/p2p"
	"github.com/uppe-net/uppe/internal/storage/sqlite"
	"github.com/uppe-net/uppe/internal/trust"
)

// version is the build identifier printed by `uppe version`/`-V`.
const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "--version", "-V", "version":
		fmt.Println("uppe " + version)
	case "daemon":
		cmdDaemon(args)
	case "keygen":
		cmdKeygen(args)
	case "init":
		cmdInit(args)
	case "peer-qr":
		cmdPeerQR(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`uppe - decentralized uptime-monitoring peer

Usage: uppe <command> [options]

Commands:
  daemon   Start the monitoring daemon (p2p node + orchestrator)
  keygen   Generate a new identity keypair
  init     Create a default config file (and keypair, if absent)
  peer-qr  Print this node's peer ID as a scannable QR code
  version  Print version and exit

Flags:
  --config <path>   TOML config file for daemon, init and peer-qr (default: $XDG_CONFIG_HOME/uppe/config.toml)
  --version, -V     Print version and exit (given in place of a command)

keygen flags:
  --path <path>     keypair file location (default: <config dir>/identity.key)
  --protect         encrypt the keypair file under a passphrase read from the terminal

Environment:
  BIND, PORT                         override the configured listen address/port
  PEERUP_MIN_PORT, PEERUP_MAX_PORT   listen port range
  PEERUP_KEYPAIR_PATH                keypair file (default: <config dir>/identity.key)
  PEERUP_KEYPAIR_PASSPHRASE          passphrase for a --protect'd keypair (else prompted)
  PEERUP_BOOTSTRAP_PEERS             comma-separated bootstrap multiaddrs`)
}

// flagValue does a simple linear scan for "--name value" in args, the
// same manual-scan idiom vaultd's main.go uses for --data rather than
// threading every subcommand through a shared flag.FlagSet.
func flagValue(args []string, name string) (string, bool) {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

// readPassphrase reads a passphrase from the terminal without echoing
// it, confirming by re-entry when confirm is set (keygen's first write).
func readPassphrase(confirm bool) ([]byte, error) {
	fmt.Fprint(os.Stderr, "Passphrase: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		again, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		if string(again) != string(pass) {
			return nil, errors.New("passphrases did not match")
		}
	}
	return pass, nil
}

// loadKeypair loads the keypair at path, prompting for a passphrase on
// the terminal (or reading PEERUP_KEYPAIR_PASSPHRASE, for non-interactive
// daemon/qr invocations) when the file was written with keygen --protect.
func loadKeypair(path string) (*crypto.KeyPair, error) {
	protected, err := crypto.IsProtected(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil && protected {
		if pass := os.Getenv("PEERUP_KEYPAIR_PASSPHRASE"); pass != "" {
			return crypto.LoadProtected(path, []byte(pass))
		}
		pass, err := readPassphrase(false)
		if err != nil {
			return nil, err
		}
		return crypto.LoadProtected(path, pass)
	}
	return crypto.LoadOrGenerate(path)
}

func keypairPath(dataDir string) string {
	if p := os.Getenv("PEERUP_KEYPAIR_PATH"); p != "" {
		return p
	}
	return filepath.Join(dataDir, "identity.key")
}

func configDir() string {
	if path, err := config.DefaultPath(); err == nil {
		return filepath.Dir(path)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "uppe")
}

func cmdKeygen(args []string) {
	path, ok := flagValue(args, "--path")
	if !ok {
		path = keypairPath(configDir())
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "keypair already exists at %s (refusing to overwrite)\n", path)
		os.Exit(1)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "create keypair dir: %v\n", err)
			os.Exit(1)
		}
	}

	protect := false
	for _, a := range args {
		if a == "--protect" {
			protect = true
		}
	}

	var kp *crypto.KeyPair
	var err error
	if protect {
		pass, perr := readPassphrase(true)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "%v\n", perr)
			os.Exit(1)
		}
		kp, err = crypto.LoadOrGenerateProtected(path, pass)
	} else {
		kp, err = crypto.LoadOrGenerate(path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate keypair: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated keypair at %s\n", path)
	fmt.Printf("Peer ID: %s\n", kp.PeerID())
}

func cmdInit(args []string) {
	cfgPath, _ := flagValue(args, "--config")
	if _, err := config.Load(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	resolvedPath := cfgPath
	if resolvedPath == "" {
		resolvedPath, _ = config.DefaultPath()
	}
	fmt.Printf("Config ready at %s\n", resolvedPath)

	kpPath := keypairPath(filepath.Dir(resolvedPath))
	if _, err := os.Stat(kpPath); err == nil {
		fmt.Printf("Keypair already present at %s\n", kpPath)
	} else {
		kp, err := crypto.LoadOrGenerate(kpPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate keypair: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated keypair at %s\n", kpPath)
		fmt.Printf("Peer ID: %s\n", kp.PeerID())
	}
}

func cmdPeerQR(args []string) {
	cfgPath, _ := flagValue(args, "--config")
	resolvedPath := cfgPath
	if resolvedPath == "" {
		resolvedPath, _ = config.DefaultPath()
	}
	kp, err := loadKeypair(keypairPath(filepath.Dir(resolvedPath)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load keypair: %v\n", err)
		os.Exit(1)
	}

	listenAddr := os.Getenv("BIND")
	if listenAddr == "" {
		listenAddr = "0.0.0.0"
	}
	payload := fmt.Sprintf("uppe://%s@%s", kp.PeerID(), listenAddr)

	qr, err := qrcode.New(payload, qrcode.Low)
	if err != nil {
		fmt.Fprintf(os.Stderr, "render qr code: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(qr.ToSmallString(false))
	fmt.Printf("Peer ID: %s\n", kp.PeerID())
}

// portRange reads PEERUP_MIN_PORT/PEERUP_MAX_PORT, returning (0, 0) if
// either is absent or malformed, meaning "let the OS pick".
func portRange() (int, int) {
	minStr := os.Getenv("PEERUP_MIN_PORT")
	maxStr := os.Getenv("PEERUP_MAX_PORT")
	min, err1 := strconv.Atoi(minStr)
	max, err2 := strconv.Atoi(maxStr)
	if err1 != nil || err2 != nil || min <= 0 || max < min {
		return 0, 0
	}
	return min, max
}

func resolveListenAddrs(cfg config.Config) []string {
	bind := cfg.ZeroMQ.Bind
	if b := os.Getenv("BIND"); b != "" {
		bind = b
	}
	if bind == "" || bind == "*" {
		bind = "0.0.0.0"
	}

	port := int(cfg.ZeroMQ.Port)
	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	if port == 0 {
		if min, _ := portRange(); min > 0 {
			port = min // 0 otherwise, which libp2p treats as "pick a random port"
		}
	}
	return []string{fmt.Sprintf("/ip4/%s/tcp/%d", bind, port)}
}

func resolveBootstrapPeers() []peer.AddrInfo {
	raw := os.Getenv("PEERUP_BOOTSTRAP_PEERS")
	if raw == "" {
		return p2p.GetDefaultBootstrapPeers()
	}
	var out []peer.AddrInfo
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			log.Printf("uppe: skipping invalid bootstrap addr %q: %v", s, err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			log.Printf("uppe: skipping unresolvable bootstrap addr %q: %v", s, err)
			continue
		}
		out = append(out, *pi)
	}
	return out
}

func cmdDaemon(args []string) {
	cfgPath, _ := flagValue(args, "--config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("uppe: load config: %v", err)
	}
	resolvedPath := cfgPath
	if resolvedPath == "" {
		resolvedPath, _ = config.DefaultPath()
	}
	dataDir := filepath.Dir(resolvedPath)

	logger := netlog.NewStd()

	kp, err := loadKeypair(keypairPath(dataDir))
	if err != nil {
		log.Fatalf("uppe: load keypair: %v", err)
	}
	log.Printf("uppe: peer id %s", kp.PeerID())

	store, err := sqlite.New(filepath.Join(dataDir, "uppe.db"))
	if err != nil {
		log.Fatalf("uppe: open storage: %v", err)
	}

	trustMgr := trust.NewManager(logger)

	nodeCfg := p2p.Config{
		ListenAddrs:    resolveListenAddrs(cfg),
		BootstrapPeers: resolveBootstrapPeers(),
		EnableMDNS:     true,
		EnableDHT:      true,
		Logger:         logger,
	}

	node, err := p2p.New(kp, nodeCfg)
	if err != nil {
		log.Fatalf("uppe: create p2p node: %v", err)
	}

	eng, err := orchestrator.New(orchestrator.Config{
		KeyPair:    kp,
		Store:      store,
		Node:       node,
		Trust:      trustMgr,
		Logger:     logger,
		NodeConfig: nodeCfg,
	})
	if err != nil {
		log.Fatalf("uppe: build engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("uppe: start engine: %v", err)
	}
	log.Printf("uppe: daemon running, data dir %s", dataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("uppe: shutting down")
	cancel()
	if err := eng.Stop(); err != nil {
		log.Printf("uppe: shutdown error: %v", err)
	}
}
