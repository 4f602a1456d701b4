package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/shadowprobe/internal/app"
	"github.com/JakeFAU/shadowprobe/internal/output"
)

type probeOptions struct {
	username string
	sites    []string
	noColor  bool
}

func newProbeCmd(root *rootOptions) *cobra.Command {
	opts := &probeOptions{}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe every catalog site for a username",
		Long: `Probes each site in the catalog for the given username and prints one
line per site. The report is saved to --output; a .csv extension selects CSV,
anything else JSON. When --username is omitted it is read from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProbe(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.username, "username", "u", "", "username to look up")
	f.StringP("output", "o", "results.json", "report path (.json or .csv)")
	f.IntP("concurrency", "c", 20, "maximum probes in flight")
	f.Float64P("timeout", "t", 10, "per-request timeout in seconds")
	f.Bool("respect-robots", false, "skip sites whose robots.txt disallows the profile URL")
	f.String("catalog", "", "catalog file (yaml or json); default is the built-in list")
	f.String("user-agent", "full-social-osint/1.0", "User-Agent header sent with every request")
	f.String("proxy", "", "proxy URL, e.g. socks5://127.0.0.1:9050")
	f.StringSliceVar(&opts.sites, "sites", nil, "limit the run to these site names")
	f.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	return cmd
}

func runProbe(cmd *cobra.Command, root *rootOptions, opts *probeOptions) error {
	cfg, logger, err := setup(cmd, root)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	username := strings.TrimSpace(opts.username)
	if username == "" {
		username, err = promptUsername(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			logger.Warn("close app failed", zap.Error(cerr))
		}
	}()

	res, err := a.Run(ctx, app.RunRequest{
		Username:   username,
		Sites:      opts.sites,
		OutputPath: cfg.Output.Path,
	})
	if res == nil {
		return fmt.Errorf("probe %s: %w", username, err)
	}

	out := cmd.OutOrStdout()
	output.NewPrinter(out, opts.noColor).Report(res.Report)
	if res.ArtifactURI != "" {
		fmt.Fprintf(out, "results saved to %s\n", res.ArtifactURI)
	}
	if err != nil {
		logger.Warn("some result sinks failed", zap.Error(err))
	}
	return nil
}

// promptUsername reads one line from in. An empty answer is an error.
func promptUsername(in io.Reader, prompt io.Writer) (string, error) {
	fmt.Fprint(prompt, "Username: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read username: %w", err)
	}
	username := strings.TrimSpace(line)
	if username == "" {
		return "", fmt.Errorf("%w: username is required", app.ErrInvalidRequest)
	}
	return username, nil
}
