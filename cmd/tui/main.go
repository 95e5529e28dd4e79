package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	ossignal "os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"prediction-pulse/internal/config"
	"prediction-pulse/internal/db"
	"prediction-pulse/internal/repository"
	"prediction-pulse/internal/service"
	"prediction-pulse/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/activeterm"
	bm "github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	gossh "golang.org/x/crypto/ssh"
)

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	initPostgresFunc = db.InitPostgres
	readFile         = os.ReadFile
	runProgramFunc   = func(m tea.Model) error {
		_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
		return err
	}
	listenSSHFunc     = func(s *ssh.Server) error { return s.ListenAndServe() }
	shutdownSSHFunc   = func(s *ssh.Server, ctx context.Context) error { return s.Shutdown(ctx) }
	setupSignalNotify = ossignal.Notify
	waitForSignalFunc = func(quit <-chan os.Signal) { <-quit }
)

type options struct {
	ssh          bool
	addViewer    string
	keyPath      string
	revokeViewer string
}

type viewerStore interface {
	AddViewer(ctx context.Context, username, publicKey, fingerprint string) (int64, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*repository.Viewer, error)
	TouchLastSeen(ctx context.Context, id int64) error
	RevokeViewer(ctx context.Context, username string) (int64, error)
}

func main() {
	loadEnvFunc()
	cfg := loadConfigFunc()

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		log.Fatalf("parse options: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	initPostgresFunc(ctx)
	defer db.Close()
	if db.Pool == nil {
		log.Fatal("DATABASE_URL is required")
	}

	tracer := trace.NewNoopTracerProvider().Tracer("tui")
	priceRepo := repository.NewPriceRepository(db.Pool, tracer)
	marketRepo := repository.NewMarketRepository(db.Pool, tracer)
	signalRepo := repository.NewSignalRepository(db.Pool, tracer)
	viewerRepo := repository.NewViewerRepository(db.Pool, tracer)
	if err := db.Migrate(ctx, viewerRepo); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	svc := tui.Services{
		Signals:  service.NewSignalService(tracer, priceRepo, marketRepo, signalRepo, nil),
		Markets:  service.NewTrackingService(tracer, marketRepo, nil, nil),
		Username: os.Getenv("USER"),
	}

	if err := run(ctx, opts, cfg, svc, viewerRepo); err != nil {
		log.Fatalf("tui: %v", err)
	}
}

func parseOptions(args []string) (options, error) {
	fs := flag.NewFlagSet("tui", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	sshMode := fs.Bool("ssh", false, "serve the TUI over SSH instead of the local terminal")
	addViewer := fs.String("add-viewer", "", "grant SSH access to this username (requires --key)")
	keyPath := fs.String("key", "", "public key file for --add-viewer")
	revokeViewer := fs.String("revoke-viewer", "", "revoke every SSH key of this username")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	opts := options{
		ssh:          *sshMode,
		addViewer:    strings.TrimSpace(*addViewer),
		keyPath:      strings.TrimSpace(*keyPath),
		revokeViewer: strings.TrimSpace(*revokeViewer),
	}
	if opts.addViewer != "" && opts.keyPath == "" {
		return options{}, fmt.Errorf("--add-viewer requires --key")
	}
	if opts.addViewer != "" && opts.revokeViewer != "" {
		return options{}, fmt.Errorf("--add-viewer and --revoke-viewer are exclusive")
	}
	return opts, nil
}

func run(ctx context.Context, opts options, cfg *config.Config, svc tui.Services, viewers viewerStore) error {
	switch {
	case opts.addViewer != "":
		return grantViewer(ctx, viewers, opts.addViewer, opts.keyPath)
	case opts.revokeViewer != "":
		n, err := viewers.RevokeViewer(ctx, opts.revokeViewer)
		if err != nil {
			return fmt.Errorf("revoke viewer: %w", err)
		}
		log.Printf("revoked %d keys for %s", n, opts.revokeViewer)
		return nil
	case !opts.ssh:
		return runProgramFunc(tui.NewAppModel(svc))
	}

	srv, err := newSSHServer(cfg, svc, viewers)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := listenSSHFunc(srv); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Printf("SSH TUI listening on %s", srv.Addr)

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down SSH server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdownSSHFunc(srv, shutdownCtx); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
		return fmt.Errorf("shutdown ssh server: %w", err)
	}
	return <-errCh
}

func grantViewer(ctx context.Context, viewers viewerStore, username, keyPath string) error {
	raw, err := readFile(keyPath)
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	keys, err := parseAuthorizedKeys(raw)
	if err != nil {
		return err
	}
	if len(keys) != 1 {
		return fmt.Errorf("key file %s must hold exactly one key, found %d", keyPath, len(keys))
	}
	key := keys[0]
	fingerprint := gossh.FingerprintSHA256(key)
	publicKey := strings.TrimSpace(string(gossh.MarshalAuthorizedKey(key)))
	if _, err := viewers.AddViewer(ctx, username, publicKey, fingerprint); err != nil {
		return fmt.Errorf("add viewer: %w", err)
	}
	log.Printf("granted %s access with key %s", username, fingerprint)
	return nil
}

// newSSHServer accepts keys from SSH_AUTHORIZED_KEYS and from the viewer store; either may be absent.
func newSSHServer(cfg *config.Config, svc tui.Services, viewers viewerStore) (*ssh.Server, error) {
	var keys []ssh.PublicKey
	if path := strings.TrimSpace(cfg.SSHAuthorizedKeys); path != "" {
		raw, err := readFile(path)
		if err != nil {
			return nil, fmt.Errorf("read authorized keys: %w", err)
		}
		keys, err = parseAuthorizedKeys(raw)
		if err != nil {
			return nil, err
		}
	}
	if len(keys) == 0 && viewers == nil {
		return nil, fmt.Errorf("SSH_AUTHORIZED_KEYS or a viewer store is required in --ssh mode")
	}

	return wish.NewServer(
		wish.WithAddress(net.JoinHostPort(cfg.SSHBind, strconv.Itoa(cfg.SSHPort))),
		wish.WithHostKeyPath(cfg.SSHHostKeyPath),
		wish.WithPublicKeyAuth(authorizer(keys, viewers)),
		wish.WithMiddleware(
			bm.Middleware(sessionHandler(svc, viewers)),
			activeterm.Middleware(),
			logging.Middleware(),
		),
	)
}

// parseAuthorizedKeys reads an OpenSSH authorized_keys file. Blank lines and comments are skipped.
func parseAuthorizedKeys(raw []byte) ([]ssh.PublicKey, error) {
	var keys []ssh.PublicKey
	for i, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, _, _, _, err := gossh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("authorized keys line %d: %w", i+1, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func authorizer(keys []ssh.PublicKey, viewers viewerStore) ssh.PublicKeyHandler {
	return func(ctx ssh.Context, key ssh.PublicKey) bool {
		for _, k := range keys {
			if ssh.KeysEqual(k, key) {
				return true
			}
		}
		if viewers == nil {
			return false
		}
		v, err := viewers.FindByFingerprint(ctx, gossh.FingerprintSHA256(key))
		if err != nil {
			log.Printf("ssh auth lookup failed: %v", err)
			return false
		}
		if v == nil {
			return false
		}
		if err := viewers.TouchLastSeen(ctx, v.ID); err != nil {
			log.Printf("ssh auth: record last seen for %s: %v", v.Username, err)
		}
		return true
	}
}

func sessionHandler(svc tui.Services, viewers viewerStore) bm.Handler {
	return func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
		user := s.User()
		if viewers != nil && s.PublicKey() != nil {
			if v, err := viewers.FindByFingerprint(s.Context(), gossh.FingerprintSHA256(s.PublicKey())); err == nil && v != nil {
				user = v.Username
			}
		}
		return tui.NewAppModel(sessionServices(svc, user)), []tea.ProgramOption{tea.WithAltScreen()}
	}
}

func sessionServices(svc tui.Services, user string) tui.Services {
	svc.Username = user
	return svc
}
