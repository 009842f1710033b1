package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"qacli/internal/config"
	"qacli/internal/infrastructure"
	"qacli/internal/license"
	"qacli/internal/services"
)

const usage = `qacli - QA Assist CLI

Usage:
  qacli license activate -key <key> [-email <email>]
  qacli license status [-json]
  qacli license deactivate
  qacli pre-push [-repo <id>]
  qacli deps [-repo <id>]
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "qacli: %v\n", err)
		return 1
	}

	if _, err := infrastructure.InitializeLogger(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "qacli: failed to initialize logging: %v\n", err)
		return 1
	}
	defer infrastructure.CloseLogger()

	svc, err := services.NewLicenseService(cfg)
	if err != nil {
		slog.Error("Failed to initialize license service", "error", err)
		fmt.Fprintf(os.Stderr, "qacli: %v\n", err)
		return 1
	}

	ctx := infrastructure.EnsureTraceID(context.Background())

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	switch args[0] {
	case "license":
		return runLicense(ctx, svc, args[1:])
	case "pre-push":
		return runGuarded(ctx, svc, license.OpPrePush, license.FeaturePrePush, args[1:])
	case "deps":
		return runGuarded(ctx, svc, license.OpDependencyPR, license.FeatureDependencyPRs, args[1:])
	case "help", "-h", "--help":
		fmt.Print(usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "qacli: unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}

func runLicense(ctx context.Context, svc services.LicenseService, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	switch args[0] {
	case "activate":
		fs := flag.NewFlagSet("activate", flag.ContinueOnError)
		key := fs.String("key", "", "license key (QAA-XXXX-XXXX-XXXX-XXXX)")
		email := fs.String("email", "", "email the license was issued to")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if *key == "" && fs.NArg() > 0 {
			*key = fs.Arg(0)
		}

		result := svc.Activate(ctx, *key, *email)
		if !result.Success {
			fmt.Fprintf(os.Stderr, "Activation failed: %s\n", result.Message)
			return 1
		}
		fmt.Println(result.Message)
		return 0

	case "status":
		fs := flag.NewFlagSet("status", flag.ContinueOnError)
		asJSON := fs.Bool("json", false, "print status as JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}

		status := svc.Status(ctx)
		if *asJSON {
			data, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "qacli: %v\n", err)
				return 1
			}
			fmt.Println(string(data))
			return 0
		}

		printStatus(status)
		return 0

	case "deactivate":
		if err := svc.Deactivate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Deactivation failed: %v\n", err)
			return 1
		}
		fmt.Println("License deactivated")
		return 0

	default:
		fmt.Fprintf(os.Stderr, "qacli: unknown license command %q\n\n%s", args[0], usage)
		return 2
	}
}

func printStatus(status *services.StatusResult) {
	fmt.Printf("Tier: %s\n", status.Info.Tier)
	if status.Info.LicenseKey != "" {
		fmt.Printf("Key:  %s\n", license.MaskLicenseKey(status.Info.LicenseKey))
	}
	if status.Info.Error != "" {
		fmt.Printf("Note: %s\n", status.Info.Error)
	}
	if status.DeveloperMode {
		fmt.Println("Developer mode: active")
	}
	if status.Usage != nil {
		fmt.Printf("Usage this month: %d/%d pre-push runs, %d/%d dependency PRs, %d/%d repos\n",
			status.Usage.Usage.PrePushRuns, status.Usage.Caps.MaxPrePushRunsPerMonth,
			status.Usage.Usage.DependencyPRs, status.Usage.Caps.MaxDependencyPRsPerMonth,
			len(status.Usage.Usage.Repos), status.Usage.Caps.MaxRepos)
	}
}

// runGuarded is the shared gate for quota-limited operations: feature check,
// quota check, the operation itself, then usage recording. The repo
// registration counts against the FREE-tier repo set.
func runGuarded(ctx context.Context, svc services.LicenseService, op license.Operation, feature string, args []string) int {
	fs := flag.NewFlagSet(string(op), flag.ContinueOnError)
	repo := fs.String("repo", "", "repository identifier")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if !svc.CheckFeature(ctx, feature) {
		fmt.Fprintf(os.Stderr, "Your tier does not include %s\n", feature)
		return 1
	}

	if *repo != "" {
		// Membership-aware: repos already in the set pass the gate even
		// once the cap is reached.
		if check := svc.CheckRepoQuota(ctx, *repo); !check.Allowed {
			fmt.Fprintf(os.Stderr, "Quota exceeded: %s\n", check.Reason)
			return 1
		}
		svc.RecordUsage(ctx, license.OpRepo, 1, *repo)
	}

	check := svc.CheckQuota(ctx, op)
	if !check.Allowed {
		fmt.Fprintf(os.Stderr, "Quota exceeded: %s\n", check.Reason)
		return 1
	}

	// The analysis engines hook in here; licensing only decides whether the
	// run may proceed.
	fmt.Printf("%s: allowed\n", op)

	svc.RecordUsage(ctx, op, 1, "")
	return 0
}
