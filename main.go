package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"subaru/internal/subaru"
)

func usage() {
	fmt.Println(`Usage: subaru <command> [options]

Commands:
  bootstrap [--stage host|target]   run the bootstrap sequence for one stage
  status    [--stage host|target]   show phase/step completion state
  clear     <step-id> [--stage ...] clear a step marker so it re-runs
  unmount                           unmount the pseudo filesystems from the target root
  version                           print version information

The target stage is run manually from inside the target root after the
host stage has completed and the operator has chrooted in.`)
}

// parseStage extracts --stage from args, defaulting to host.
func parseStage(args []string) (subaru.EnvKind, []string, error) {
	stage := subaru.EnvHost
	rest := []string{}
	for i := 0; i < len(args); i++ {
		if args[i] == "--stage" {
			if i+1 >= len(args) {
				return stage, nil, fmt.Errorf("--stage requires a value (host or target)")
			}
			switch args[i+1] {
			case "host":
				stage = subaru.EnvHost
			case "target":
				stage = subaru.EnvTarget
			default:
				return stage, nil, fmt.Errorf("unknown stage %q (want host or target)", args[i+1])
			}
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	return stage, rest, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 1
	}
	cmd := args[0]

	if cmd == "version" {
		fmt.Println(subaru.VersionString())
		return 0
	}

	cfg, err := subaru.LoadConfig(subaru.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	subaru.InitConfig(cfg)

	stage, rest, err := parseStage(args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Cancel outstanding build actions on SIGINT/SIGTERM; the next
	// invocation resumes from the first step without a marker.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "bootstrap":
		if err := subaru.ValidateConfig(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if err := subaru.RequireRoot(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		execCtx := subaru.NewExecutor(ctx)
		execCtx.ShouldRunAsRoot = true
		orch, err := subaru.NewOrchestrator(stage, cfg, execCtx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if err := orch.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0

	case "status":
		orch, err := subaru.NewOrchestrator(stage, cfg, subaru.NewExecutor(ctx))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if err := subaru.ShowStatus(orch); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0

	case "unmount":
		if err := subaru.RequireRoot(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		execCtx := subaru.NewExecutor(ctx)
		execCtx.ShouldRunAsRoot = true
		if err := subaru.UnmountPseudoFS(execCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0

	case "clear":
		if len(rest) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: subaru clear <step-id> [--stage host|target]")
			return 1
		}
		if err := subaru.RequireRoot(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		store := subaru.NewFSStore(subaru.MarkerBase, string(stage))
		if err := store.Clear(rest[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Cleared marker %s (%s stage)\n", rest[0], stage)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		return 1
	}
}
