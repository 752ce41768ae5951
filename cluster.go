// Package gocbanalytics is a client for the Couchbase Analytics service: it
// submits SQL++ analytical queries over HTTPS and returns result rows and
// metadata. See Cluster for the entry point.
package gocbanalytics

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/couchbase/gocbanalytics/internal/queryengine"
	"github.com/couchbase/gocbanalytics/internal/queryengine/qlog"
)

// Queryable is implemented by Cluster, Database, and Scope: each knows how
// to run a query, differing only in what query_context (if any) they send.
type Queryable interface {
	ExecuteQuery(ctx context.Context, statement string, opts *QueryOptionsBuilder) (*QueryResult, error)
	ExecuteStreamingQuery(
		ctx context.Context, statement string, rowCallback func(Row) error, opts *QueryOptionsBuilder,
	) (*QueryMetadata, error)
}

// Cluster is the client's entry point: it owns one query execution engine
// and one HTTP transport. Closing a Cluster terminates in-flight dispatch
// and releases pooled connections.
type Cluster struct {
	executor  *queryengine.Executor
	transport queryengine.HttpTransport
	cred      *credentialBox
	options   *ClusterOptions

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// Connect builds a Cluster from a connection string and credential. opts
// may be nil to accept every ClusterOptionsBuilder default.
func Connect(connStr string, cred Credential, opts *ClusterOptionsBuilder) (*Cluster, error) {
	cs, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}

	if opts == nil {
		opts = NewClusterOptions()
	}
	if err := cs.ApplyTo(opts); err != nil {
		return nil, err
	}

	return newCluster(cs.Endpoint(), cred, opts)
}

func newCluster(endpoint string, cred Credential, opts *ClusterOptionsBuilder) (*Cluster, error) {
	if cred == nil {
		return nil, fmt.Errorf("gocbanalytics: credential must not be nil")
	}

	snapshot := opts.Build()
	credBox := newCredentialBox(cred)

	transport, err := queryengine.NewDefaultTransport(func() (*tls.Config, error) {
		cfg, err := snapshot.trustSource.TLSConfig()
		if err != nil {
			return nil, err
		}

		// Certificate credentials authenticate via mutual TLS: the client
		// certificates are baked into the pool's TLS config at construction,
		// which is exactly why RotateCredential rejects a change of variant.
		if certs, ok := credBox.get().ClientCertificates(); ok {
			cfg.Certificates = certs
		}

		return cfg, nil
	})
	if err != nil {
		return nil, fmt.Errorf("gocbanalytics: build transport: %w", err)
	}

	userAgent := queryengine.BuildUserAgent(snapshot.userAgentProduct, snapshot.userAgentVersion)

	logger := snapshot.logger
	if logger == nil {
		logger = qlog.NewFromEnv(os.LookupEnv, os.Stderr)
	}

	executor := queryengine.NewExecutor(
		transport,
		endpoint,
		func() queryengine.Credential { return credBox.get() },
		userAgent,
		nil,
		logger,
	)

	return &Cluster{
		executor:  executor,
		transport: transport,
		cred:      credBox,
		options:   snapshot,
		done:      make(chan struct{}),
	}, nil
}

// Close cancels in-flight dispatch and releases pooled connections. Close
// is idempotent.
func (c *Cluster) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	close(c.done)
	c.transport.EvictAll()

	return nil
}

// RotateCredential atomically swaps the active credential. It rejects a
// change of credential variant (e.g. password -> client certificate),
// since that would require renegotiating TLS key material already
// established in the connection pool; construct a new Cluster instead.
func (c *Cluster) RotateCredential(newCred Credential) error {
	return c.cred.rotate(newCred)
}

// Database returns a handle scoped to the named database. It owns no new
// resources; it shares the Cluster's executor and transport.
func (c *Cluster) Database(name string) Database {
	return Database{cluster: c, name: name}
}

// ExecuteQuery runs statement and buffers every row into memory, returning
// a QueryResult. No query_context is sent.
func (c *Cluster) ExecuteQuery(ctx context.Context, statement string, opts *QueryOptionsBuilder) (*QueryResult, error) {
	return executeQuery(ctx, c, "", statement, opts)
}

// ExecuteStreamingQuery runs statement and forwards each row to
// rowCallback synchronously, in wire order, as it arrives. No
// query_context is sent.
func (c *Cluster) ExecuteStreamingQuery(
	ctx context.Context, statement string, rowCallback func(Row) error, opts *QueryOptionsBuilder,
) (*QueryMetadata, error) {
	return executeStreamingQuery(ctx, c, "", statement, rowCallback, opts)
}

// Database is a handle scoped to one database name; it owns no resources
// of its own.
type Database struct {
	cluster *Cluster
	name    string
}

// Scope returns a handle scoped to (database, scopeName).
func (d Database) Scope(scopeName string) Scope {
	return Scope{cluster: d.cluster, database: d.name, scope: scopeName}
}

// ExecuteQuery runs statement with no query_context (Couchbase Analytics
// databases, unlike scopes, do not narrow unqualified identifiers).
func (d Database) ExecuteQuery(ctx context.Context, statement string, opts *QueryOptionsBuilder) (*QueryResult, error) {
	return executeQuery(ctx, d.cluster, "", statement, opts)
}

// ExecuteStreamingQuery streams statement with no query_context.
func (d Database) ExecuteStreamingQuery(
	ctx context.Context, statement string, rowCallback func(Row) error, opts *QueryOptionsBuilder,
) (*QueryMetadata, error) {
	return executeStreamingQuery(ctx, d.cluster, "", statement, rowCallback, opts)
}

// Scope is a handle scoped to one (database, scope) pair. Queries issued
// through it carry a query_context of `` default:`db`.`scope` ``, enabling
// unqualified identifiers in SQL++.
type Scope struct {
	cluster  *Cluster
	database string
	scope    string
}

// ExecuteQuery runs statement scoped to this Scope's query_context.
func (s Scope) ExecuteQuery(ctx context.Context, statement string, opts *QueryOptionsBuilder) (*QueryResult, error) {
	qc, err := s.queryContext()
	if err != nil {
		return nil, err
	}

	return executeQuery(ctx, s.cluster, qc, statement, opts)
}

// ExecuteStreamingQuery streams statement scoped to this Scope's
// query_context.
func (s Scope) ExecuteStreamingQuery(
	ctx context.Context, statement string, rowCallback func(Row) error, opts *QueryOptionsBuilder,
) (*QueryMetadata, error) {
	qc, err := s.queryContext()
	if err != nil {
		return nil, err
	}

	return executeStreamingQuery(ctx, s.cluster, qc, statement, rowCallback, opts)
}

func (s Scope) queryContext() (string, error) {
	if strings.Contains(s.database, "`") || strings.Contains(s.scope, "`") {
		return "", fmt.Errorf("gocbanalytics: database and scope names must not contain backticks")
	}

	return fmt.Sprintf("default:`%s`.`%s`", s.database, s.scope), nil
}

// executeQuery implements the buffered form of the Queryable facade: it
// runs the streaming form with a row callback that appends to a slice,
// then returns the fully materialized result.
func executeQuery(
	ctx context.Context, c *Cluster, queryContext, statement string, opts *QueryOptionsBuilder,
) (*QueryResult, error) {
	var rows []Row

	metadata, err := executeStreamingQuery(ctx, c, queryContext, statement, func(r Row) error {
		rows = append(rows, r)
		return nil
	}, opts)
	if err != nil {
		return nil, err
	}

	return &QueryResult{rows: rows, metadata: metadata}, nil
}

// executeStreamingQuery is the single choke point every Queryable
// implementation funnels through: it snapshots opts, resolves the
// deserializer and timeout defaults, and drives the shared executor.
func executeStreamingQuery(
	ctx context.Context, c *Cluster, queryContext, statement string,
	rowCallback func(Row) error, opts *QueryOptionsBuilder,
) (*QueryMetadata, error) {
	snap := opts.snapshot()

	deserializer := snap.deserializer
	if deserializer == nil {
		deserializer = c.options.deserializer
	}
	if deserializer == nil {
		deserializer = DefaultDeserializer()
	}

	timeout := snap.timeout
	if timeout <= 0 {
		timeout = c.options.timeout
	}

	attemptOpts := queryengine.QueryAttemptOptions{
		Statement:        statement,
		QueryContext:     queryContext,
		ClientContextID:  snap.clientContextID,
		ScanConsistency:  snap.scanConsistency,
		ScanWait:         snap.scanWait,
		PositionalParams: snap.positionalParams,
		NamedParams:      snap.namedParams,
		Readonly:         snap.readonly,
		Raw:              snap.raw,
		Timeout:          timeout,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	parsed, err := c.executor.ExecuteStreaming(ctx, attemptOpts, func(raw json.RawMessage) error {
		return rowCallback(queryengine.NewRow(raw, deserializer))
	})
	if err != nil {
		return nil, err
	}

	return newQueryMetadata(parsed), nil
}
