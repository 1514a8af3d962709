// Command evidencectl runs simulated collection scenarios and tamper drills
// against a configured evidence pipeline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/config"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/evidencevault"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/kms/credentials"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/report"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

const (
	runDemo   = "demo"
	runTamper = "tamper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	devices    int
	events     int
	hashChain  bool
	mode       string
	summary    bool
	exportDir  string
	configPath string
	seed       int64
	fraction   float64
	sealSecret string
	fresh      bool
}

// run executes the command and returns the exit code:
//
//	0 = success
//	2 = usage or runtime error
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("evidencectl", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var opts options
	cmd.IntVar(&opts.devices, "devices", 10, "Number of simulated devices")
	cmd.IntVar(&opts.events, "events", 5, "Events per device")
	cmd.BoolVar(&opts.hashChain, "hashchain", false, "Enable hash chaining")
	cmd.StringVar(&opts.mode, "run", runDemo, "Action: demo or tamper")
	cmd.BoolVar(&opts.summary, "summary", false, "Show verification results in a summary table")
	cmd.StringVar(&opts.exportDir, "export-dir", ".", "Directory for timeline, summaries and the audit log")
	cmd.StringVar(&opts.configPath, "config", "", "Optional YAML configuration file")
	cmd.Int64Var(&opts.seed, "seed", 0, "Seed for device categories and tamper selection")
	cmd.Float64Var(&opts.fraction, "fraction", 0.1, "Fraction of records to tamper")
	cmd.BoolVar(&opts.fresh, "fresh", false, "Discard records left in the configured store by an earlier run")
	cmd.StringVar(&opts.sealSecret, "seal-secret", "", "Print the ENC[...] form of a KMS credential under "+config.EnvPrefix+"CREDENTIALS_KEY and exit")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if opts.sealSecret != "" {
		return sealSecret(opts.sealSecret, stdout, stderr)
	}
	if opts.mode != runDemo && opts.mode != runTamper {
		_, _ = fmt.Fprintf(stderr, "Error: -run must be %q or %q\n", runDemo, runTamper)
		return 2
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if opts.hashChain {
		cfg.HashChain = true
	}
	if opts.mode == runTamper && cfg.RunLogPath == "" {
		cfg.RunLogPath = filepath.Join(opts.exportDir, "audit_log.txt")
	}

	zerolog.SetGlobalLevel(cfg.Level())
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	if err := execute(ctx, cfg, opts, stdout); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func sealSecret(secret string, stdout, stderr io.Writer) int {
	sealer, err := credentials.NewSealerFromBase64(os.Getenv(config.EnvPrefix + "CREDENTIALS_KEY"))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	sealed, err := sealer.Seal(secret)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, sealed)
	return 0
}

func execute(ctx context.Context, cfg config.Config, opts options, stdout io.Writer) (err error) {
	if err := os.MkdirAll(opts.exportDir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	if opts.fresh {
		if err := evidencevault.ResetStorage(ctx, cfg.Storage); err != nil {
			return err
		}
	}

	v, err := evidencevault.New(ctx, cfg)
	if errors.Is(err, evidencevault.ErrStoreNotEmpty) {
		return fmt.Errorf("%w; rerun with -fresh to start from an empty store", err)
	}
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if closeErr := v.Close(closeCtx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	res, err := v.RunScenario(ctx, evidencevault.ScenarioOptions{
		Devices:         opts.devices,
		EventsPerDevice: opts.events,
		Seed:            opts.seed,
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, "Scenario finished.")
	if err := writeJSON(stdout, res.Summary()); err != nil {
		return err
	}

	if err := writeFile(filepath.Join(opts.exportDir, "timeline.csv"), func(w io.Writer) error {
		return report.WriteTimelineCSV(w, res.Timeline)
	}); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, "Saved timeline.csv")

	if opts.mode != runTamper {
		return nil
	}

	_, _ = fmt.Fprintln(stdout, "Simulating tamper and verifying...")
	var rng *rand.Rand
	if opts.seed != 0 {
		rng = rand.New(rand.NewPCG(uint64(opts.seed), 2))
	}
	out, err := v.TamperAndVerify(ctx, opts.fraction, rng)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, "Tampered IDs:", out.TamperedIDs)

	if opts.summary {
		if err := report.WriteTable(stdout, out.Report); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprint(stdout, "Verify summary: ")
		if err := writeJSON(stdout, out.Report); err != nil {
			return err
		}
	}

	if err := exportSummaries(opts.exportDir, out.Report); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, "Saved verify_summary.csv and verify_summary.txt")
	_, _ = fmt.Fprintf(stdout, "Appended results to %s\n", filepath.Base(cfg.RunLogPath))
	return nil
}

func exportSummaries(dir string, r *types.VerificationReport) error {
	if err := writeFile(filepath.Join(dir, "verify_summary.csv"), func(w io.Writer) error {
		return report.WriteCSV(w, r)
	}); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, "verify_summary.txt"), func(w io.Writer) error {
		return report.WriteText(w, r)
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
