// Package gotds is the public entry point into the TDS client driver
// core: it wires internal/dsn, internal/connect, internal/tds, and
// internal/ae into a Connector whose surface is deliberately small —
// dial, run a batch against a set of row/column callbacks, close. The
// public database/sql result-set/statement surface those callbacks
// would feed (Rows, Stmt, driver.Value conversions) lives outside this
// module's scope; this package only specifies the contracts a caller
// above it invokes.
package gotds

import (
	"context"
	"time"

	"github.com/ulvii/go-tds/internal/ae"
	"github.com/ulvii/go-tds/internal/connect"
	"github.com/ulvii/go-tds/internal/driverlog"
	"github.com/ulvii/go-tds/internal/drivermetrics"
	"github.com/ulvii/go-tds/internal/dsn"
	"github.com/ulvii/go-tds/internal/fedauth"
	"github.com/ulvii/go-tds/internal/tds"
)

// Config bundles everything a Connector needs beyond the DSN text
// itself: the ambient logger and metrics sink, plus the
// pluggable-provider surfaces the core never implements concretely
// (key store providers, the enclave attestation handshake, a
// caller-supplied federated-auth token source).
type Config struct {
	ConnectionString string
	Defaults         dsn.Defaults

	Log             driverlog.Gated
	Metrics         *drivermetrics.Metrics
	AEProviders     *ae.ProviderRegistry
	FedAuthProvider fedauth.TokenProvider
	EnclaveProvider ae.EnclaveProvider
	AppName         string
	ClientHostname  string
}

// Connector is the driver-level dial factory: one per distinct
// connection string, reused across every Connect call the way
// database/sql.Connector is reused across pool members.
type Connector struct {
	cfg  *dsn.Config
	opts connect.Options
	met  *drivermetrics.Metrics
}

// NewConnector parses cfg.ConnectionString and returns a Connector
// ready to dial. Parsing errors surface immediately, before any I/O,
// per spec.md §7 "configuration errors are reported eagerly".
func NewConnector(cfg Config) (*Connector, error) {
	parsed, err := dsn.Parse(cfg.ConnectionString, cfg.Defaults)
	if err != nil {
		return nil, err
	}
	return &Connector{
		cfg: parsed,
		opts: connect.Options{
			Log:             cfg.Log,
			AEProviders:     cfg.AEProviders,
			FedAuthProvider: cfg.FedAuthProvider,
			EnclaveProvider: cfg.EnclaveProvider,
			AppName:         cfg.AppName,
			ClientHostname:  cfg.ClientHostname,
		},
		met: cfg.Metrics,
	}, nil
}

// Conn is one logged-in session, wrapping internal/connect.Conn with
// the retry envelope and instrumentation a caller above this package
// doesn't need to reimplement.
type Conn struct {
	connector *Connector
	inner     *connect.Conn
}

// Connect dials, negotiates encryption, logs in, and runs the
// engine-edition probe, per spec.md §4.4's full Connection Director
// sequence.
func (c *Connector) Connect(ctx context.Context) (*Conn, error) {
	start := timeNow()
	inner, err := connect.Connect(ctx, c.cfg, c.opts)
	if err != nil {
		c.met.ReconnectAttempt("failure")
		return nil, err
	}
	c.met.ObserveLoginLatency(timeNow().Sub(start).Seconds())
	c.met.ReconnectAttempt("success")
	return &Conn{connector: c, inner: inner}, nil
}

// timeNow is a seam so tests can avoid depending on wall-clock
// latency; production always calls time.Now.
var timeNow = time.Now

// Reconnect re-establishes the session after a lost connection,
// following spec.md §4.4's "Connection resiliency" retry envelope
// (connect_retry_count attempts, connect_retry_interval apart, each
// bounded by login_timeout). On success it replaces c's underlying
// session in place so callers holding this *Conn keep a valid handle.
func (c *Conn) Reconnect(ctx context.Context) error {
	plan := connect.RetryPlan{
		RetryCount:    c.connector.cfg.ConnectRetryCount,
		RetryInterval: c.connector.cfg.ConnectRetryInterval,
		LoginTimeout:  c.connector.cfg.LoginTimeout,
		QueryTimeout:  c.connector.cfg.QueryTimeout,
	}
	var next *connect.Conn
	err := connect.Reconnect(ctx, plan, func(ctx context.Context) error {
		c.connector.met.ReconnectAttempt("attempt")
		n, err := connect.Connect(ctx, c.connector.cfg, c.connector.opts)
		if err != nil {
			return err
		}
		next = n
		return nil
	})
	if err != nil {
		c.connector.met.ReconnectAttempt("exhausted")
		return err
	}
	old := c.inner
	c.inner = next
	c.connector.met.ReconnectAttempt("recovered")
	return old.Close()
}

// Close releases the underlying Channel.
func (c *Conn) Close() error { return c.inner.Close() }

// RowHandler receives the column schema once and every row of a
// single SQL batch's result set. Scan-back conversion to typed Go
// values is left to the caller above this package, matching spec.md's
// framing of the result-set surface as an external collaborator.
type RowHandler interface {
	OnColumns(columns []tds.Column)
	OnRow(row []interface{})
}

// ExecBatch sends query as a SQL_BATCH under the connection's current
// transaction descriptor and streams its result set to handler, if
// one is given. It returns the final row count and any server error.
func (c *Conn) ExecBatch(ctx context.Context, query string, handler RowHandler) (rowsAffected int64, err error) {
	if err := tds.WriteSQLBatch(c.inner.Buf(), c.inner.TxnDescriptor(), query); err != nil {
		return 0, err
	}

	aeEnabled := c.inner.ColumnEncryptionEnabled()
	tp := tds.NewTokenProcessor(ctx, c.inner.Buf(), aeEnabled, c.inner.Decryptor(), c.inner.Log())

	var onColumns func([]tds.Column)
	var onRow func([]interface{})
	if handler != nil {
		onColumns = handler.OnColumns
		onRow = handler.OnRow
	}
	if err := tp.Stream(onColumns, onRow); err != nil {
		return tp.RowCount, err
	}
	return tp.RowCount, nil
}

// EngineEdition reports the server's cached engine-edition probe
// result (spec.md §4.4), gating cloud-only/cloud-analytics-warehouse
// behaviors.
func (c *Conn) EngineEdition() (cloud bool, analyticsWarehouse bool) {
	return c.inner.IsCloudDatabase(), c.inner.IsCloudAnalyticsWarehouse()
}

// Database returns the currently active database name.
func (c *Conn) Database() string { return c.inner.Database() }
