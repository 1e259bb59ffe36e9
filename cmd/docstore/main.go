// Command docstore is an operator tool for a docstore data directory.
//
// Usage:
//
//	docstore --data DIR snapshot [--class manual] [--desc TEXT]
//	docstore --data DIR ls
//	docstore --data DIR verify NAME
//	docstore --data DIR restore NAME
//	docstore --data DIR partial-restore NAME PATTERN...
//	docstore --data DIR rotate
//	docstore --data DIR get DOC KEYPATH
//	docstore --data DIR set DOC KEYPATH JSON
//	docstore --data DIR quarantine-log
//	docstore --data DIR history
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/davrell/docstore/pkg/docstore"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := pflag.NewFlagSet("docstore", pflag.ContinueOnError)
	global.SetInterspersed(false)

	dataDir := global.String("data", "data", "data root directory")
	configPath := global.String("config", docstore.ConfigFileName, "store config file")
	verbose := global.BoolP("verbose", "v", false, "log diagnostics to stderr")

	parseErr := global.Parse(args)
	if parseErr != nil {
		return parseErr
	}

	rest := global.Args()
	if len(rest) == 0 {
		return errors.New(usage())
	}

	opts, optsErr := docstore.LoadOptionsFile(*configPath)
	if optsErr != nil {
		return optsErr
	}

	if *verbose {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	store, storeErr := docstore.New(*dataDir, opts)
	if storeErr != nil {
		return storeErr
	}

	cmd, cmdArgs := rest[0], rest[1:]

	switch cmd {
	case "snapshot":
		return cmdSnapshot(store, cmdArgs)
	case "ls", "list":
		return cmdList(store)
	case "verify":
		return cmdVerify(store, cmdArgs)
	case "restore":
		return cmdRestore(store, cmdArgs)
	case "partial-restore":
		return cmdPartialRestore(store, cmdArgs)
	case "rotate":
		return store.Rotate()
	case "get":
		return cmdGet(store, cmdArgs)
	case "set":
		return cmdSet(store, cmdArgs)
	case "quarantine-log":
		return cmdQuarantineLog(store)
	case "history":
		return cmdHistory(store)
	case "help", "-h", "--help":
		fmt.Println(usage())

		return nil
	default:
		return fmt.Errorf("unknown command: %s\n%s", cmd, usage())
	}
}

func usage() string {
	return `usage: docstore [--data DIR] [--config FILE] [-v] COMMAND

commands:
  snapshot [--class CLASS] [--desc TEXT]   create a snapshot (then rotate)
  ls                                       list snapshots, newest first
  verify NAME                              check archive integrity
  restore NAME                             full restore (takes a safety snapshot first)
  partial-restore NAME PATTERN...          restore matching documents only
  rotate                                   apply the retention policy
  get DOC KEYPATH                          print a value from a document
  set DOC KEYPATH JSON                     set a value in a document
  quarantine-log                           print recorded corruption events
  history                                  print the restore audit log`
}

func cmdSnapshot(store *docstore.Store, args []string) error {
	flags := pflag.NewFlagSet("snapshot", pflag.ContinueOnError)
	class := flags.String("class", docstore.ClassManual, "snapshot classification")
	desc := flags.String("desc", "", "snapshot description")

	parseErr := flags.Parse(args)
	if parseErr != nil {
		return parseErr
	}

	ref, err := store.CreateSnapshot(*class, *desc)
	if err != nil {
		return err
	}

	fmt.Printf("%s  (%d documents, %d bytes)\n", ref.Name, len(ref.Members), ref.SizeBytes)

	return nil
}

func cmdList(store *docstore.Store) error {
	refs, err := store.ListSnapshots()
	if err != nil {
		return err
	}

	for _, ref := range refs {
		fmt.Printf("%-45s %-12s %s  %d bytes\n",
			ref.Name, ref.Classification, ref.CreatedAt.Format("2006-01-02 15:04:05"), ref.SizeBytes)
	}

	return nil
}

func cmdVerify(store *docstore.Store, args []string) error {
	if len(args) != 1 {
		return errors.New("verify requires a snapshot name")
	}

	err := store.Verify(args[0])
	if err != nil {
		return err
	}

	fmt.Println("ok")

	return nil
}

func cmdRestore(store *docstore.Store, args []string) error {
	if len(args) != 1 {
		return errors.New("restore requires a snapshot name")
	}

	result, err := store.Restore(args[0])
	if err != nil {
		return err
	}

	printRestoreResult(result)

	return nil
}

func cmdPartialRestore(store *docstore.Store, args []string) error {
	if len(args) < 2 {
		return errors.New("partial-restore requires a snapshot name and at least one pattern")
	}

	result, err := store.PartialRestore(args[0], args[1:])
	if err != nil {
		return err
	}

	printRestoreResult(result)

	return nil
}

func printRestoreResult(result *docstore.RestoreResult) {
	fmt.Printf("restored %d documents from %s\n", len(result.Restored), result.Snapshot)

	if result.SafetySnapshot != "" {
		fmt.Printf("safety snapshot: %s\n", result.SafetySnapshot)
	}

	for _, failure := range result.ConsistencyFailures {
		fmt.Printf("consistency failure: %s\n", failure)
	}
}

func cmdGet(store *docstore.Store, args []string) error {
	if len(args) != 2 {
		return errors.New("get requires DOC and KEYPATH")
	}

	value, err := store.GetKeyPath(args[0], args[1], nil)
	if err != nil {
		return err
	}

	return printJSON(value)
}

func cmdSet(store *docstore.Store, args []string) error {
	if len(args) != 3 {
		return errors.New("set requires DOC, KEYPATH, and a JSON value")
	}

	var value any

	unmarshalErr := json.Unmarshal([]byte(args[2]), &value)
	if unmarshalErr != nil {
		return fmt.Errorf("value is not valid JSON: %w", unmarshalErr)
	}

	return store.SetKeyPath(args[0], args[1], value)
}

func cmdQuarantineLog(store *docstore.Store) error {
	records, err := store.CorruptionLog()
	if err != nil {
		return err
	}

	for _, record := range records {
		fmt.Printf("%s  %-30s %s (copy: %s)\n",
			record.Time.Format("2006-01-02 15:04:05"), record.Path, record.Reason, record.QuarantineCopy)
	}

	return nil
}

func cmdHistory(store *docstore.Store) error {
	records, err := store.RestoreHistory()
	if err != nil {
		return err
	}

	return printJSON(records)
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(raw))

	return nil
}
