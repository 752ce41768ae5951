package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/couchbase/gocbanalytics"
	"github.com/couchbase/gocbanalytics/internal/cliconfig"
)

type queryOptions struct {
	timeout  time.Duration
	readonly bool
	insecure bool
}

// NewQueryCommand builds the query subcommand. It resolves the named (or
// current) connection from cfg, opens a Cluster, and streams the given
// statement's rows to stdout as newline-delimited JSON. cfg is a pointer
// populated by the root command's PersistentPreRunE before RunE fires.
func NewQueryCommand(cfg *cliconfig.Config, global *globalOptions) *cobra.Command {
	opts := queryOptions{}

	cmd := &cobra.Command{
		Use:   "query <statement>",
		Short: "Run a SQL++ Analytics statement and stream its result rows as JSON lines.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cfg, global.connection, args[0], opts)
		},
	}

	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Query timeout. (default is the cluster default)")
	cmd.Flags().BoolVar(&opts.readonly, "readonly", false, "Reject statements that could mutate data.")
	cmd.Flags().BoolVar(&opts.insecure, "insecure", false, "Skip TLS certificate verification.")

	return cmd
}

func runQuery(ctx context.Context, cfg *cliconfig.Config, connectionName, statement string, opts queryOptions) error {
	conn, err := cfg.Resolve(connectionName)
	if err != nil {
		return err
	}

	cred, err := credentialFor(conn)
	if err != nil {
		return fmt.Errorf("build credential: %w", err)
	}

	clusterOpts := gocbanalytics.NewClusterOptions()
	if opts.insecure {
		clusterOpts = clusterOpts.WithTrustSource(gocbanalytics.InsecureTrustSource())
	}

	connStr := conn.ConnectionString
	if conn.TrustOnlyNonProd && !opts.insecure {
		sep := "?"
		if strings.Contains(connStr, "?") {
			sep = "&"
		}
		connStr += sep + "security.trust_only_non_prod=true"
	}

	cluster, err := gocbanalytics.Connect(connStr, cred, clusterOpts)
	if err != nil {
		return fmt.Errorf("connect to cluster: %w", err)
	}
	defer cluster.Close()

	queryOpts := gocbanalytics.NewQueryOptions().WithReadonly(opts.readonly)
	if opts.timeout > 0 {
		queryOpts = queryOpts.WithTimeout(opts.timeout)
	}

	// A signal-watcher goroutine and the query dispatch race under one
	// errgroup-derived context: Ctrl-C cancels dispatch the same way
	// Cluster.Close does, rather than leaving the process to rely on the
	// HTTP client's own timeout.
	group, groupCtx := errgroup.WithContext(ctx)
	signalCtx, stop := signal.NotifyContext(groupCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	encoder := json.NewEncoder(os.Stdout)

	var metadata *gocbanalytics.QueryMetadata
	group.Go(func() error {
		md, err := cluster.ExecuteStreamingQuery(signalCtx, statement, func(row gocbanalytics.Row) error {
			return encoder.Encode(json.RawMessage(row.Bytes()))
		}, queryOpts)
		metadata = md
		return err
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("execute query: %w", err)
	}

	if metadata != nil {
		fmt.Fprintf(os.Stderr, "status=%s elapsed=%s result_count=%d\n",
			metadata.Status(), metadata.Metrics().ElapsedTime(), metadata.Metrics().ResultCount())
	}

	return nil
}

func credentialFor(conn *cliconfig.Connection) (gocbanalytics.Credential, error) {
	if conn.CertFile != "" || conn.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(conn.CertFile, conn.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}

		return gocbanalytics.CertificateCredential{Certificate: cert}, nil
	}

	return gocbanalytics.PasswordCredential{Username: conn.Username, Password: conn.Password}, nil
}
