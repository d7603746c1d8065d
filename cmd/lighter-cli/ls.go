package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quaydock/lighter"
)

var (
	lsMaxKeys int
	lsToken   string
	lsAll     bool
)

var lsCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List objects under a prefix",
	Long: `List objects and folders under a prefix.

Examples:
  lighter-cli ls
  lighter-cli ls photos/2026/
  lighter-cli ls --max 50 --token "eyJwYXRoIjoi..."
  lighter-cli ls --all videos/`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

func init() {
	lsCmd.Flags().IntVar(&lsMaxKeys, "max", 0, "max results per page (max: 1000)")
	lsCmd.Flags().StringVar(&lsToken, "token", "", "continuation token from a previous page")
	lsCmd.Flags().BoolVar(&lsAll, "all", false, "fetch all pages")
}

func runLs(_ *cobra.Command, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}

	_, client, err := getClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	query := lighter.ListQuery{
		Prefix:            prefix,
		MaxKeys:           lsMaxKeys,
		ContinuationToken: lsToken,
	}

	result, err := client.List(ctx, query)
	if err != nil {
		_ = getFormatter().FormatError(os.Stderr, err)
		return &exitError{code: 1}
	}

	for lsAll && result.IsTruncated && result.ContinuationToken != "" {
		query.ContinuationToken = result.ContinuationToken
		page, err := client.List(ctx, query)
		if err != nil {
			_ = getFormatter().FormatError(os.Stderr, err)
			return &exitError{code: 1}
		}
		result.Objects = append(result.Objects, page.Objects...)
		result.Prefixes = append(result.Prefixes, page.Prefixes...)
		result.IsTruncated = page.IsTruncated
		result.ContinuationToken = page.ContinuationToken
	}

	return getFormatter().FormatList(os.Stdout, prefix, &result)
}
