// Package main is the entry point for the a2actl binary.
// a2actl is the operator CLI for an a2a server: it submits tasks, inspects
// and cancels them, lists agents, and tails the live progress stream.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Scarmonit/a2a/internal/a2actl/client"
	apperrors "github.com/Scarmonit/a2a/internal/common/errors"
	"github.com/Scarmonit/a2a/internal/common/logger"
	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
	"github.com/Scarmonit/a2a/pkg/stream"
)

const usage = `Usage: a2actl [flags] <command> [command flags] [args]

Commands:
  submit    Submit a task (natural-language description or plan file)
  get       Show a task by ID
  cancel    Cancel an active task
  tasks     List active tasks (or recent history with -history)
  watch     Tail the progress stream, optionally for a single task
  agents    List registered agents

Flags:
  -server URL   Server base URL (default http://localhost:8080, env A2A_SERVER)
  -token TOKEN  Stream auth token (env A2A_STREAM_TOKEN)

Exit codes: 0 task completed, 1 failed, 2 cancelled, 3 rejected.
`

func main() {
	server := envOr("A2A_SERVER", "http://localhost:8080")
	token := os.Getenv("A2A_STREAM_TOKEN")

	global := flag.NewFlagSet("a2actl", flag.ExitOnError)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	global.StringVar(&server, "server", server, "server base URL")
	global.StringVar(&token, "token", token, "stream auth token")
	_ = global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(3)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "text",
		OutputPath: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Ctrl-C cancels in-flight requests and open watches.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cl := client.NewClient(server, token, log)

	var runErr error
	switch args[0] {
	case "submit":
		runErr = cmdSubmit(ctx, cl, args[1:])
	case "get":
		runErr = cmdGet(ctx, cl, args[1:])
	case "cancel":
		runErr = cmdCancel(ctx, cl, args[1:])
	case "tasks":
		runErr = cmdTasks(ctx, cl, args[1:])
	case "watch":
		runErr = cmdWatch(ctx, cl, args[1:])
	case "agents":
		runErr = cmdAgents(ctx, cl, args[1:])
	case "help", "-h", "--help":
		global.Usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		global.Usage()
		os.Exit(3)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "a2actl: %v\n", runErr)
		code := apperrors.ExitCode(apperrors.KindOf(runErr))
		if code == 0 {
			code = 1
		}
		os.Exit(code)
	}
}

// exitForOutcome turns a terminal task outcome into the error main maps to
// an exit code: nil for completed, a kinded error otherwise.
func exitForOutcome(kind apperrors.Kind) error {
	if kind == "" {
		return nil
	}
	return apperrors.New(kind, "task did not complete")
}

func cmdSubmit(ctx context.Context, cl *client.Client, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	description := fs.String("d", "", "natural-language task description")
	planFile := fs.String("plan", "", "path to a JSON execution plan ('-' for stdin)")
	watch := fs.Bool("watch", false, "stream progress and wait for the terminal state")
	timeoutMs := fs.Int("timeout-ms", 0, "overall task deadline in milliseconds")
	maxAgents := fs.Int("max-agents", 0, "cap on agents selected during planning")
	minConfidence := fs.Float64("min-confidence", 0, "planning confidence floor (0 uses the server default)")
	requireApproval := fs.Bool("require-approval", false, "hold the plan until approved")
	approvalToken := fs.String("approval-token", "", "token presented for approval")
	var contextPairs stringList
	fs.Var(&contextPairs, "context", "initial context entry key=value (repeatable)")
	_ = fs.Parse(args)

	req := &v1.TaskRequest{
		Description: *description,
		Options: v1.SubmitOptions{
			TimeoutMs:       *timeoutMs,
			MaxAgents:       *maxAgents,
			MinConfidence:   *minConfidence,
			RequireApproval: *requireApproval,
			ApprovalToken:   *approvalToken,
		},
	}

	if *planFile != "" {
		data, err := readFileOrStdin(*planFile)
		if err != nil {
			return apperrors.Wrap(apperrors.KindInvalid, "failed to read plan file", err)
		}
		var plan v1.ExecutionPlan
		if err := json.Unmarshal(data, &plan); err != nil {
			return apperrors.Wrap(apperrors.KindInvalid, "failed to parse plan file", err)
		}
		req.Plan = &plan
	}
	if req.Description == "" && req.Plan == nil {
		return apperrors.Invalid("either -d or -plan is required")
	}

	if len(contextPairs) > 0 {
		req.Context = make(map[string]interface{}, len(contextPairs))
		for _, pair := range contextPairs {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				return apperrors.Newf(apperrors.KindInvalid, "malformed -context entry %q, want key=value", pair)
			}
			req.Context[key] = value
		}
	}

	resp, err := cl.SubmitTask(ctx, req)
	if err != nil {
		return err
	}

	if !*watch {
		return printJSON(resp)
	}

	fmt.Fprintf(os.Stderr, "task %s submitted, watching...\n", resp.TaskID)
	kind, err := cl.Watch(ctx, resp.TaskID, nil, printFrame)
	if err != nil {
		return err
	}
	return exitForOutcome(kind)
}

func cmdGet(ctx context.Context, cl *client.Client, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return apperrors.Invalid("usage: a2actl get <task-id>")
	}
	exec, err := cl.GetTask(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return printJSON(exec)
}

func cmdCancel(ctx context.Context, cl *client.Client, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return apperrors.Invalid("usage: a2actl cancel <task-id>")
	}
	resp, err := cl.CancelTask(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func cmdTasks(ctx context.Context, cl *client.Client, args []string) error {
	fs := flag.NewFlagSet("tasks", flag.ExitOnError)
	history := fs.Bool("history", false, "list recent terminal tasks instead of active ones")
	n := fs.Int("n", 20, "history entries to return")
	_ = fs.Parse(args)
	tasks, err := cl.ListTasks(ctx, *history, *n)
	if err != nil {
		return err
	}
	return printJSON(tasks)
}

func cmdWatch(ctx context.Context, cl *client.Client, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	channels := fs.String("channels", "", "comma-separated channels (tasks,steps,system)")
	forever := fs.Bool("forever", false, "keep streaming after tasks finish")
	_ = fs.Parse(args)

	taskID := ""
	if fs.NArg() > 0 {
		taskID = fs.Arg(0)
	}
	if taskID == "" && !*forever {
		*forever = true
	}

	var chs []string
	if *channels != "" {
		chs = strings.Split(*channels, ",")
	}

	for {
		kind, err := cl.Watch(ctx, taskID, chs, printFrame)
		if err != nil {
			return err
		}
		if !*forever {
			return exitForOutcome(kind)
		}
	}
}

func cmdAgents(ctx context.Context, cl *client.Client, args []string) error {
	fs := flag.NewFlagSet("agents", flag.ExitOnError)
	filter := v1.AgentFilter{}
	fs.StringVar(&filter.Category, "category", "", "filter by category")
	fs.StringVar(&filter.Tag, "tag", "", "filter by tag")
	fs.StringVar(&filter.Query, "q", "", "free-text filter on id/name")
	fs.BoolVar(&filter.EnabledOnly, "enabled", false, "only enabled agents")
	_ = fs.Parse(args)

	agents, err := cl.ListAgents(ctx, filter)
	if err != nil {
		return err
	}
	return printJSON(agents)
}

// printFrame writes one stream frame as a JSON line, skipping heartbeats.
func printFrame(frame *stream.Frame) {
	if frame.Type == stream.TypeHeartbeat || frame.Type == stream.TypeInit {
		return
	}
	line, err := json.Marshal(frame)
	if err != nil {
		return
	}
	fmt.Println(string(line))
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func readFileOrStdin(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// stringList collects repeated flag values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
