// Command codexmem is the thin CLI wrapper around the memory service
// facade: it parses a command string, executes it, and prints the
// resulting JSON envelope (or a human-readable rendering with
// --human).
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/codex-extra-memory/internal/memcmd"
	"github.com/untoldecay/codex-extra-memory/internal/memsvc"
	"github.com/untoldecay/codex-extra-memory/internal/memui"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var human bool
	var workspace string

	exitCode := 0
	root := &cobra.Command{
		Use:           "codexmem [command text...]",
		Short:         "Persistent memory service for a coding assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			code, err := executeAndPrint(cmd, strings.Join(cmdArgs, " "), workspace, human)
			exitCode = code
			return err
		},
	}
	root.Flags().BoolVar(&human, "human", false, "render output for a terminal instead of JSON")
	root.Flags().StringVar(&workspace, "workspace", "", "workspace directory (defaults to the current directory)")
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}

func executeAndPrint(cmd *cobra.Command, raw, workspace string, human bool) (int, error) {
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return 1, fmt.Errorf("determine working directory: %w", err)
		}
		workspace = wd
	}

	svc, err := memsvc.New(workspace)
	if err != nil {
		return 1, fmt.Errorf("open memory service: %w", err)
	}
	defer svc.Close()

	parsed, err := memcmd.Parse(raw)
	if err != nil {
		envelope := memsvc.Envelope{OK: false, Action: "parse", Error: err.Error()}
		printEnvelope(cmd, envelope, human)
		return 1, nil
	}

	envelope := svc.Execute(parsed)
	printEnvelope(cmd, envelope, human)

	if !envelope.OK {
		return 1, nil
	}
	return 0, nil
}

func printEnvelope(cmd *cobra.Command, envelope memsvc.Envelope, human bool) {
	out := cmd.OutOrStdout()
	if human {
		fmt.Fprint(out, memui.Render(envelope))
		return
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		fmt.Fprintf(out, `{"ok":false,"action":%q,"error":%q}`+"\n", envelope.Action, err.Error())
		return
	}
	fmt.Fprintln(out, string(raw))
}
