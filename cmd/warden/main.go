package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/hollandt/warden/internal/engine"
	"github.com/hollandt/warden/internal/model"
	"github.com/hollandt/warden/internal/report"
	"github.com/hollandt/warden/internal/rules"
	"github.com/hollandt/warden/internal/session"
	"github.com/hollandt/warden/internal/setup"
	"github.com/hollandt/warden/internal/watch"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "session":
		runSession(os.Args[2:])
	case "task":
		runTask(os.Args[2:])
	case "dep":
		runDep(os.Args[2:])
	case "event":
		runEvent(os.Args[2:])
	case "summary":
		runSummary(os.Args[2:])
	case "compliance":
		runCompliance(os.Args[2:])
	case "reconcile":
		runReconcile(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "verify-audit":
		runVerifyAudit(os.Args[2:])
	case "version":
		fmt.Printf("warden %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runSetup(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: warden setup <project_dir> [--name <project_name>]")
		os.Exit(1)
	}

	dir := args[0]
	name := ""
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--name":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			name = rest[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: warden setup <project_dir> [--name <project_name>]\n", rest[i])
			os.Exit(1)
		}
	}

	if err := setup.Run(dir, name); err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(dir)
	fmt.Printf("Initialized .warden/ in %s\n", absDir)
}

func runSession(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: warden session <run|kinds> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "run":
		runSessionRun(args[1:])
	case "kinds":
		for _, k := range rules.Kinds() {
			fmt.Println(k)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown session subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: warden session <run|kinds> [options]")
		os.Exit(1)
	}
}

// runSessionRun executes a complete operation session in one invocation:
// start, track the given artifacts, then close. The engine holds the
// enforcer lock for the whole invocation, so a session cannot span
// processes.
func runSessionRun(args []string) {
	var kind, taskID, errMsg string
	var created, modified []string
	jsonOutput := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--kind":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--kind requires a value")
				os.Exit(1)
			}
			i++
			kind = args[i]
		case "--task":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--task requires a value")
				os.Exit(1)
			}
			i++
			taskID = args[i]
		case "--created":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--created requires a value")
				os.Exit(1)
			}
			i++
			created = append(created, args[i])
		case "--modified":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--modified requires a value")
				os.Exit(1)
			}
			i++
			modified = append(modified, args[i])
		case "--error":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--error requires a value")
				os.Exit(1)
			}
			i++
			errMsg = args[i]
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			fmt.Fprintln(os.Stderr, "usage: warden session run --kind <kind> [--task <id>] [--created <path>]... [--modified <path>]... [--error <msg>] [--json]")
			os.Exit(1)
		}
	}

	if kind == "" {
		fmt.Fprintln(os.Stderr, "--kind is required (see 'warden session kinds')")
		os.Exit(1)
	}

	eng := mustOpen()
	defer eng.Close()

	sess, err := eng.StartSession(model.OperationKind(kind), taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session start: %v\n", err)
		os.Exit(1)
	}

	// A rejected path poisons the session; keep going so the close still
	// records the breach as a violation.
	breached := false
	track := func(p string, created bool) {
		err := eng.TrackArtifact(sess, p, created)
		if err == nil {
			return
		}
		fmt.Fprintf(os.Stderr, "track %s: %v\n", p, err)
		if errors.Is(err, session.ErrPathOutsideSandbox) {
			breached = true
			return
		}
		os.Exit(1)
	}
	for _, p := range created {
		track(p, true)
	}
	for _, p := range modified {
		track(p, false)
	}

	result, err := eng.EndSession(sess, errMsg == "", errMsg)
	if err != nil && !errors.Is(err, session.ErrComplianceViolation) {
		fmt.Fprintf(os.Stderr, "session end: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Printf("Session %s (%s) closed\n", result.SessionID, result.Kind)
		fmt.Printf("Compliance: %.2f (%d checks, %d violations)\n", result.Score, result.Checks, len(result.Violations))
		for _, v := range result.Violations {
			fmt.Printf("  [%s] %s\n", v.Severity, v.Description)
		}
	}

	// Strict mode: the outcome is fully recorded, but a non-compliant
	// close still fails the invocation.
	if errors.Is(err, session.ErrComplianceViolation) {
		fmt.Fprintf(os.Stderr, "session end: %v\n", err)
		os.Exit(2)
	}
	if breached {
		os.Exit(1)
	}
}

func runTask(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: warden task <register|update|status> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "register":
		runTaskRegister(args[1:])
	case "update":
		runTaskUpdate(args[1:])
	case "status":
		runTaskStatus(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown task subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: warden task <register|update|status> [options]")
		os.Exit(1)
	}
}

func runTaskRegister(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: warden task register <task_id> [--justification <text>]")
		os.Exit(1)
	}

	taskID := args[0]
	justification := parseJustification(args[1:], "warden task register <task_id> [--justification <text>]")
	if justification == "" {
		justification = "registered via cli"
	}

	eng := mustOpen()
	defer eng.Close()

	if err := eng.RegisterTask(taskID, justification); err != nil {
		fmt.Fprintf(os.Stderr, "task register: %v\n", err)
		os.Exit(1)
	}
	rec, err := eng.GetStatus(taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "task register: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Registered %s (status: %s)\n", taskID, rec.Status)
}

func runTaskUpdate(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: warden task update <task_id> <status> [--justification <text>]")
		os.Exit(1)
	}

	taskID := args[0]
	newStatus := model.Status(args[1])
	justification := parseJustification(args[2:], "warden task update <task_id> <status> [--justification <text>]")
	if justification == "" {
		justification = "updated via cli"
	}

	eng := mustOpen()
	defer eng.Close()

	if err := eng.UpdateStatus(taskID, newStatus, justification); err != nil {
		fmt.Fprintf(os.Stderr, "task update: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s → %s\n", taskID, newStatus)
}

func runTaskStatus(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: warden task status <task_id> [--json]")
		os.Exit(1)
	}

	taskID := args[0]
	jsonOutput := false
	for _, a := range args[1:] {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: warden task status <task_id> [--json]\n", a)
			os.Exit(1)
		}
	}

	eng := mustOpen()
	defer eng.Close()

	lc, err := eng.GetLifecycleStatus(taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "task status: %v\n", err)
		os.Exit(1)
	}
	if err := report.RenderTask(os.Stdout, lc, jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "task status: %v\n", err)
		os.Exit(1)
	}
}

func runDep(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: warden dep <add|lint> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "add":
		runDepAdd(args[1:])
	case "lint":
		runDepLint(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown dep subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: warden dep <add|lint> [options]")
		os.Exit(1)
	}
}

func runDepAdd(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: warden dep add <task_id> <depends_on> [--kind <completion|success|start>] [--description <text>]")
		os.Exit(1)
	}

	taskID := args[0]
	dependsOn := args[1]
	kind := model.DependencyCompletion
	description := ""
	rest := args[2:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--kind":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--kind requires a value")
				os.Exit(1)
			}
			i++
			kind = model.DependencyKind(rest[i])
		case "--description":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--description requires a value")
				os.Exit(1)
			}
			i++
			description = rest[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			fmt.Fprintln(os.Stderr, "usage: warden dep add <task_id> <depends_on> [--kind <completion|success|start>] [--description <text>]")
			os.Exit(1)
		}
	}

	eng := mustOpen()
	defer eng.Close()

	if err := eng.AddDependency(taskID, dependsOn, kind, description); err != nil {
		fmt.Fprintf(os.Stderr, "dep add: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s depends on %s (%s)\n", taskID, dependsOn, kind)
}

func runDepLint(args []string) {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "usage: warden dep lint")
		os.Exit(1)
	}

	eng := mustOpen()
	defer eng.Close()

	problems, err := eng.LintDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dep lint: %v\n", err)
		os.Exit(1)
	}
	if len(problems) == 0 {
		fmt.Println("dependency graph clean")
		return
	}
	for _, p := range problems {
		fmt.Println(p)
	}
	os.Exit(1)
}

func runEvent(args []string) {
	if len(args) < 1 || args[0] != "record" {
		fmt.Fprintln(os.Stderr, "usage: warden event record <task_id> <event> [--trigger <trigger>] [--description <text>]")
		os.Exit(1)
	}
	rest := args[1:]
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "usage: warden event record <task_id> <event> [--trigger <trigger>] [--description <text>]")
		os.Exit(1)
	}

	evt := model.LifecycleEvent{
		TaskID:  rest[0],
		Event:   model.EventType(rest[1]),
		Trigger: model.TriggerManual,
	}
	opts := rest[2:]
	for i := 0; i < len(opts); i++ {
		switch opts[i] {
		case "--trigger":
			if i+1 >= len(opts) {
				fmt.Fprintln(os.Stderr, "--trigger requires a value")
				os.Exit(1)
			}
			i++
			evt.Trigger = model.Trigger(opts[i])
		case "--description":
			if i+1 >= len(opts) {
				fmt.Fprintln(os.Stderr, "--description requires a value")
				os.Exit(1)
			}
			i++
			evt.Description = opts[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", opts[i])
			fmt.Fprintln(os.Stderr, "usage: warden event record <task_id> <event> [--trigger <trigger>] [--description <text>]")
			os.Exit(1)
		}
	}

	eng := mustOpen()
	defer eng.Close()

	if err := eng.RecordEvent(evt); err != nil {
		fmt.Fprintf(os.Stderr, "event record: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("recorded %s for %s\n", evt.Event, evt.TaskID)
}

func runSummary(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: warden summary [--json]\n", a)
			os.Exit(1)
		}
	}

	eng := mustOpen()
	defer eng.Close()

	s, err := eng.GetLifecycleSummary()
	if err != nil {
		fmt.Fprintf(os.Stderr, "summary: %v\n", err)
		os.Exit(1)
	}
	if err := report.RenderSummary(os.Stdout, s, jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "summary: %v\n", err)
		os.Exit(1)
	}
}

func runCompliance(args []string) {
	if len(args) < 1 || args[0] != "score" {
		fmt.Fprintln(os.Stderr, "usage: warden compliance score")
		os.Exit(1)
	}

	eng := mustOpen()
	defer eng.Close()

	score, err := eng.GetComplianceScore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "compliance score: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%.2f\n", score)
}

func runReconcile(args []string) {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "usage: warden reconcile")
		os.Exit(1)
	}

	eng := mustOpen()
	defer eng.Close()

	if err := eng.Reconcile(); err != nil {
		fmt.Fprintf(os.Stderr, "reconcile: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("reconcile complete")
}

func runWatch(args []string) {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "usage: warden watch")
		os.Exit(1)
	}

	root := findProjectRoot()
	if root == "" {
		fmt.Fprintln(os.Stderr, "error: .warden/ directory not found. Run 'warden setup <dir>' first.")
		os.Exit(1)
	}

	eng, err := engine.Open(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	logger := log.New(os.Stderr, "warden: ", log.LstdFlags)
	w := watch.New(setup.Layout(root).StateDir, eng, eng.Config(), logger)
	if err := w.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		os.Exit(1)
	}
}

func runVerifyAudit(args []string) {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "usage: warden verify-audit")
		os.Exit(1)
	}

	eng := mustOpen()
	defer eng.Close()

	total, valid, err := eng.VerifyAuditLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify-audit: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d/%d audit entries valid\n", valid, total)
	if valid != total {
		os.Exit(1)
	}
}

func parseJustification(args []string, usage string) string {
	justification := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--justification":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--justification requires a value")
				os.Exit(1)
			}
			i++
			justification = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: %s\n", args[i], usage)
			os.Exit(1)
		}
	}
	return justification
}

func mustOpen() *engine.Engine {
	root := findProjectRoot()
	if root == "" {
		fmt.Fprintln(os.Stderr, "error: .warden/ directory not found. Run 'warden setup <dir>' first.")
		os.Exit(1)
	}
	eng, err := engine.Open(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	return eng
}

// findProjectRoot searches for .warden/ in the current directory and
// ancestors, returning the directory that contains it.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".warden")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `warden %s — Task lifecycle and compliance engine

Usage: warden <command> [options]

Project:
  setup <dir> [--name <n>]   Initialize .warden/ directory
  summary [--json]           Project-wide lifecycle summary
  reconcile                  Run automation rules against current state
  watch                      Watch state files and reconcile continuously
  verify-audit               Verify audit log hash chain

Sessions:
  session run --kind <kind> [--task <id>] [--created <p>]... [--modified <p>]... [--error <msg>] [--json]
  session kinds              List operation kinds

Tasks:
  task register <id> [--justification <text>]
  task update <id> <status> [--justification <text>]
  task status <id> [--json]

Dependencies:
  dep add <id> <depends_on> [--kind <completion|success|start>] [--description <text>]
  dep lint

Events:
  event record <id> <event> [--trigger <trigger>] [--description <text>]

Utilities:
  version           Show version
  help              Show this help

`, version)
}
