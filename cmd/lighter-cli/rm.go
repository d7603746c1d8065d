package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quaydock/lighter"
)

var rmRecursive bool

var rmCmd = &cobra.Command{
	Use:   "rm <remote-key> [remote-key...]",
	Short: "Delete objects",
	Long: `Delete one or more objects from the backend.

With -r a folder and everything under it is removed; deletion keeps
going past individual failures and reports what could not be removed.

Examples:
  lighter-cli rm notes/old.txt
  lighter-cli rm temp/a.txt temp/b.txt
  lighter-cli rm -r photos/2019/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRm,
}

func init() {
	rmCmd.Flags().BoolVarP(&rmRecursive, "recursive", "r", false, "delete folders and their contents")
}

func runRm(_ *cobra.Command, args []string) error {
	_, client, err := getClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var total lighter.BulkResult
	for _, key := range args {
		if rmRecursive {
			folder := lighter.NewFolder(client)
			res, err := folder.RemoveAll(ctx, key)
			total.Completed += res.Completed
			total.Failed += res.Failed
			total.Errors = append(total.Errors, res.Errors...)
			if err != nil {
				total.Failed++
				total.Errors = append(total.Errors, fmt.Errorf("remove %s: %w", key, err))
			}
			continue
		}
		if err := client.Delete(ctx, key); err != nil {
			total.Failed++
			total.Errors = append(total.Errors, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		total.Completed++
	}

	if err := getFormatter().FormatBulk(os.Stdout, "Deleted", total); err != nil {
		return err
	}
	if total.Failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}
