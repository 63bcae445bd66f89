package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jaxxstorm/conndiag/internal/diag"
	"github.com/jaxxstorm/conndiag/internal/history"
	"github.com/jaxxstorm/conndiag/internal/model"
	"github.com/jaxxstorm/conndiag/internal/output"
	"github.com/jaxxstorm/conndiag/internal/probe"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var Version = "dev"

type CLI struct {
	Check   CheckCmd   `cmd:"" default:"withargs" help:"Run connection diagnostics against a host (default)."`
	History HistoryCmd `cmd:"" help:"Browse stored diagnostic runs."`
	Version VersionCmd `cmd:"" help:"Print version."`
}

type CheckCmd struct {
	Host     string `arg:"" help:"Target hostname or address."`
	Protocol string `default:"ssh" help:"Protocol tag (ssh, http, https, rdp, vnc, ...)."`
	Port     int    `help:"Explicit port; derived from the protocol when unset."`
	Proxy    bool   `help:"Target routes through a configured proxy or connection chain."`

	Username  string `help:"Username for the protocol deep diagnosis."`
	Password  string `help:"Password for the protocol deep diagnosis."`
	Key       string `type:"path" help:"Private key path for the SSH diagnosis."`
	RDPDomain string `name:"rdp-domain" help:"Windows domain for the RDP diagnosis."`
	HTTPPath  string `name:"http-path" default:"/" help:"Request path for the HTTP diagnosis."`
	VerifyTLS bool   `name:"verify-tls" help:"Verify certificates during the HTTP diagnosis."`

	PingCount    int           `default:"5" help:"Length of the sequential ping series."`
	PingInterval time.Duration `default:"500ms" help:"Spacing between ping attempts."`
	MaxHops      int           `default:"30" help:"Traceroute hop limit."`
	Timeout      time.Duration `default:"5s" help:"Per-probe timeout hint."`

	Backend string `env:"CONNDIAG_BACKEND" help:"Websocket URL of the native probe backend."`
	Local   bool   `help:"Force the in-process fallback transport."`
	Output  string `enum:"pretty,json,text" default:"pretty" help:"Output format."`
	NoSave  bool   `name:"no-save" help:"Do not archive this run."`
	DB      string `env:"CONNDIAG_DB" type:"path" help:"History database path."`
	Verbose bool   `help:"Enable verbose logging."`
	Debug   bool   `help:"Enable debug logging."`
}

type HistoryCmd struct {
	List HistoryListCmd `cmd:"" default:"withargs" help:"List stored runs."`
	Show HistoryShowCmd `cmd:"" help:"Print one stored run."`
}

type HistoryListCmd struct {
	Limit int    `default:"20" help:"Number of runs to list."`
	DB    string `env:"CONNDIAG_DB" type:"path" help:"History database path."`
}

type HistoryShowCmd struct {
	ID     int64  `arg:"" help:"Run id."`
	Output string `enum:"text,json" default:"text" help:"Output format."`
	DB     string `env:"CONNDIAG_DB" type:"path" help:"History database path."`
}

type VersionCmd struct{}

func (VersionCmd) Run() error {
	fmt.Println(Version)
	return nil
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("conndiag"),
		kong.Description("Diagnose remote-connection problems: DNS, reachability, port, TLS, routing and protocol-level checks."),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

func (c *CheckCmd) Run() error {
	logger, err := newLogger(c.Verbose, c.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var transport probe.Transport
	switch {
	case c.Local || c.Backend == "":
		logger.Info("no backend configured, using in-process probes")
		transport = probe.NewLocalTransport(logger)
	default:
		ws, err := probe.NewWSTransport(c.Backend, logger)
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()
		transport = ws
	}

	client := probe.New(transport, probe.Options{Timeout: c.Timeout, Logger: logger})
	session := diag.NewSession(client, diag.Config{
		PingCount:    c.PingCount,
		PingInterval: c.PingInterval,
		MaxHops:      c.MaxHops,
		ProbeTimeout: c.Timeout,
		Logger:       logger,
	})

	target := model.Target{
		Host:           c.Host,
		Port:           c.Port,
		Protocol:       c.Protocol,
		ViaProxy:       c.Proxy,
		Username:       c.Username,
		Password:       c.Password,
		PrivateKeyPath: c.Key,
		Domain:         c.RDPDomain,
		HTTPPath:       c.HTTPPath,
		VerifyTLS:      c.VerifyTLS,
	}

	report := session.Run(context.Background(), target)

	if !c.NoSave {
		if err := archive(c.DB, report); err != nil {
			logger.Warn("could not archive run", zap.Error(err))
		}
	}

	var rendered string
	switch c.Output {
	case "json":
		rendered, err = output.RenderJSON(report)
		if err != nil {
			return err
		}
	case "text":
		rendered = output.Format(report)
	default:
		rendered = output.RenderPretty(report)
	}
	fmt.Println(rendered)

	if report.State == model.RunFailed {
		return fmt.Errorf("diagnostic run failed: %s", report.RunError)
	}
	if model.Reachability(report.TargetPing) == model.ReachNo {
		os.Exit(2)
	}
	return nil
}

func archive(dbPath string, report model.Report) error {
	store, err := history.Open(resolveDBPath(dbPath))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = store.Save(ctx, report, output.Format(report))
	return err
}

func (c *HistoryListCmd) Run() error {
	store, err := history.Open(resolveDBPath(c.DB))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries, err := store.List(ctx, c.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no stored runs")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%4d  %s  %-9s %-6s port %-5d %s\n",
			e.ID, e.StartedAt.Format("2006-01-02 15:04:05"), e.State, e.Protocol, e.Port, e.Host)
	}
	return nil
}

func (c *HistoryShowCmd) Run() error {
	store, err := history.Open(resolveDBPath(c.DB))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, text, err := store.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	if c.Output == "json" {
		rendered, err := output.RenderJSON(report)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	}
	fmt.Println(text)
	return nil
}

func resolveDBPath(configured string) string {
	if configured != "" {
		return configured
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "conndiag-history.db"
	}
	return filepath.Join(home, ".conndiag", "history.db")
}

func newLogger(verbose bool, debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}
