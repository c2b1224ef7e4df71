package connect

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/ulvii/go-tds/internal/ae"
	"github.com/ulvii/go-tds/internal/channel"
	"github.com/ulvii/go-tds/internal/driverlog"
	"github.com/ulvii/go-tds/internal/dsn"
	"github.com/ulvii/go-tds/internal/fedauth"
	"github.com/ulvii/go-tds/internal/tds"
	"github.com/ulvii/go-tds/internal/tdserr"
)

const maxRedirects = 1
const clientLanguage = "us_english"
const fedAuthLibrarySecurityToken = 0x01

// Options carries the dependencies Connect wires in beyond the parsed
// dsn.Config: the ambient logger, the column-encryption engine's
// provider registry, and the federated-auth/enclave providers the
// embedding application configured. All are optional; Connect falls
// back to no-ops that fail clearly if a feature the config requests
// has no provider wired.
type Options struct {
	Log             driverlog.Gated
	AEProviders     *ae.ProviderRegistry
	FedAuthProvider fedauth.TokenProvider
	EnclaveProvider ae.EnclaveProvider
	AppName         string
	ClientHostname  string
}

// Conn is one logged-in TDS session: the Channel, its Buffer, and the
// session state the Connection Director must track across requests
// (spec.md §4.4, §5 "Shared-resource policy").
type Conn struct {
	mu sync.Mutex

	ch  *channel.Channel
	buf *tds.Buffer
	cfg *dsn.Config
	log driverlog.Gated

	aeRegistry *ae.ProviderRegistry
	aeEngine   *ae.Engine
	enclave    ae.EnclaveProvider

	database   string
	packetSize int

	isCloudDatabase           bool
	isCloudAnalyticsWarehouse bool

	sessionRecoveryEnabled bool
	recoverable            RecoverableState

	txnDescriptor uint64

	redirectTarget string
	redirectPort   int

	interruptOnce sync.Once
}

// Interrupt implements Interrupter: it queues an attention packet,
// idempotently, per spec.md §5 "Attention-ack drain must be
// idempotent".
func (c *Conn) Interrupt(reason string) {
	c.interruptOnce.Do(func() {
		c.log.ErrorsIf("command interrupt", tdserr.New(tdserr.KindQueryTimeout, reason))
		_ = tds.SendAttention(c.buf)
	})
}

// Close releases the underlying Channel.
func (c *Conn) Close() error {
	return c.ch.Close()
}

// IsCloudDatabase reports the cached engine-edition probe result, per
// spec.md §4.4 "Server engine edition probe".
func (c *Conn) IsCloudDatabase() bool { return c.isCloudDatabase }

// IsCloudAnalyticsWarehouse reports whether the connected engine is a
// cloud analytics warehouse (engine edition 6), which gates behaviors
// like disallowing RAISERROR WITH LOG.
func (c *Conn) IsCloudAnalyticsWarehouse() bool { return c.isCloudAnalyticsWarehouse }

// SessionRecoveryEnabled reports whether the server acknowledged the
// session-recovery feature extension during login.
func (c *Conn) SessionRecoveryEnabled() bool { return c.sessionRecoveryEnabled }

// Recoverable returns the server state a reconnect should restore.
func (c *Conn) Recoverable() RecoverableState { return c.recoverable }

// SetApplicationState records caller-tracked state (SET options, temp
// object definitions) that has no ENVCHANGE wire representation, so
// Recoverable() can surface it alongside the server-derived fields
// after a reconnect.
func (c *Conn) SetApplicationState(state []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recoverable.ApplicationState = state
}

// Database returns the currently active database name.
func (c *Conn) Database() string { return c.database }

// PacketSize returns the currently negotiated packet size in bytes.
func (c *Conn) PacketSize() int { return c.packetSize }

// Enclave returns the configured secure-enclave capability provider.
func (c *Conn) Enclave() ae.EnclaveProvider { return c.enclave }

// Buf returns the session's wire Buffer, for issuing requests beyond
// the ones this package builds itself (ad hoc SQL batches, RPCs).
func (c *Conn) Buf() *tds.Buffer { return c.buf }

// TxnDescriptor returns the transaction descriptor the ALL_HEADERS
// prefix of the next request must carry.
func (c *Conn) TxnDescriptor() uint64 { return c.txnDescriptor }

// ColumnEncryptionEnabled reports whether the connection string enabled
// Always Encrypted (columnEncryptionSetting=Enabled). It reflects the
// configuration only, not the server's feature-extension acknowledgement.
func (c *Conn) ColumnEncryptionEnabled() bool {
	return c.cfg.ColumnEncryptionSetting == dsn.ColumnEncryptionEnabled
}

// Decryptor returns the session's column-encryption engine, or nil if
// none is configured.
func (c *Conn) Decryptor() tds.Decryptor {
	if c.aeEngine == nil {
		return nil
	}
	return c.aeEngine
}

// Log returns the session's gated logger.
func (c *Conn) Log() driverlog.Gated { return c.log }

// Connect performs the full PRELOGIN/TLS/LOGIN7/federated-auth
// handshake against cfg, following a server redirect at most once.
func Connect(ctx context.Context, cfg *dsn.Config, opts Options) (*Conn, error) {
	return connectTo(ctx, cfg, opts, cfg.ServerName, cfg.PortNumber, 0)
}

func connectTo(ctx context.Context, cfg *dsn.Config, opts Options, host string, port int, redirectDepth int) (*Conn, error) {
	log := opts.Log
	if log.Logger == nil {
		log = driverlog.Gated{Logger: driverlog.NoOp(), Flags: driverlog.FlagErrors}
	}

	ch, err := channel.Open(ctx, channel.DialOptions{
		Host:               host,
		Port:               port,
		LoginTimeout:       cfg.LoginTimeout,
		UseParallel:        cfg.MultiSubnetFailover,
		UseTNIR:            cfg.TransparentNetworkIPResolution,
		IsTNIRFirstAttempt: true,
		FullTimeout:        cfg.LoginTimeout,
	})
	if err != nil {
		return nil, err
	}

	buf := tds.NewBuffer(ch, tds.PacketSizeInitial)

	wantEncrypt := tds.EncryptionLevel(cfg.Encrypt)
	serverOpts, err := exchangePreLogin(buf, wantEncrypt)
	if err != nil {
		ch.Close()
		return nil, err
	}

	negotiated, err := negotiateEncryption(wantEncrypt, serverOpts)
	if err != nil {
		ch.Close()
		return nil, err
	}
	if negotiated != tds.EncryptOff {
		policy := channel.TrustPolicy{
			Permissive:         cfg.TrustServerCertificate,
			HostNameOverride:   cfg.HostNameInCertificate,
			TrustStorePath:     cfg.TrustStore,
			TrustStorePassword: []byte(cfg.TrustStorePassword),
			TrustStoreType:     cfg.TrustStoreType,
		}
		if cfg.TrustStore != "" {
			raw, err := os.ReadFile(cfg.TrustStore)
			if err != nil {
				ch.Close()
				return nil, tdserr.Wrap(tdserr.KindCertValidationFailed, err)
			}
			pool, err := channel.LoadTrustStore(raw, policy.TrustStorePassword, cfg.TrustStoreType)
			if err != nil {
				ch.Close()
				return nil, err
			}
			policy.RootCAs = pool
		}
		if err := ch.EnableSSL(host, channel.EncryptionLevel(negotiated), policy); err != nil {
			ch.Close()
			return nil, err
		}
	}

	c := &Conn{
		ch:         ch,
		buf:        buf,
		cfg:        cfg,
		log:        log,
		aeRegistry: opts.AEProviders,
		enclave:    opts.EnclaveProvider,
		packetSize: tds.PacketSizeInitial,
		database:   cfg.DatabaseName,
	}
	if c.enclave == nil {
		c.enclave = ae.NoEnclaveProvider
	}
	if c.aeRegistry != nil {
		c.aeEngine = ae.NewEngine(c.aeRegistry, func(idx int, err error) {
			log.ErrorsIf("CEK provider failed", err, "blob", idx)
		})
	}

	features := loginFeatures(cfg, fedAuthRequired(serverOpts))
	if err := c.login(ctx, host, features, opts); err != nil {
		ch.Close()
		return nil, err
	}

	if c.redirectTarget != "" {
		target, targetPort := c.redirectTarget, c.redirectPort
		ch.Close()
		if redirectDepth >= maxRedirects {
			return nil, tdserr.Newf(tdserr.KindConnectionClosed, "server issued more than %d redirects", maxRedirects)
		}
		return connectTo(ctx, cfg, opts, target, targetPort, redirectDepth+1)
	}

	if err := c.probeEngineEdition(ctx); err != nil {
		ch.Close()
		return nil, err
	}
	return c, nil
}

func loginFeatures(cfg *dsn.Config, fedAuthRequired bool) []featureExt {
	var features []featureExt
	if cfg.ConnectRetryCount > 0 {
		features = append(features, sessionRecoveryFeature())
	}
	if fedAuthRequired || cfg.Authentication == dsn.AuthADPassword || cfg.Authentication == dsn.AuthADIntegrated || cfg.Authentication == dsn.AuthADMSI {
		features = append(features, fedAuthFeature(fedAuthLibrarySecurityToken, true))
	}
	if cfg.ColumnEncryptionSetting == dsn.ColumnEncryptionEnabled {
		features = append(features, columnEncryptionFeature())
	}
	return features
}

func exchangePreLogin(buf *tds.Buffer, wantEncrypt tds.EncryptionLevel) (map[byte][]byte, error) {
	buf.StartMessage(tds.PacketPrelogin)
	buf.WriteBytes(clientPreLogin(wantEncrypt))
	if err := buf.EndMessage(); err != nil {
		return nil, err
	}

	ptype, err := buf.BeginRead()
	if err != nil {
		return nil, err
	}
	if ptype != tds.PacketReply {
		return nil, tdserr.Newf(tdserr.KindInvalidTDSFraming, "unexpected packet type in PRELOGIN response: got %v", ptype)
	}
	payload, err := drainMessage(buf)
	if err != nil {
		return nil, err
	}
	return parsePreLogin(payload)
}

// drainMessage reads every remaining payload byte of the current
// response message, across packet boundaries, the way a caller
// consumes a message whose body isn't shaped as a token stream
// (PRELOGIN's response is raw option data, not tokens).
func drainMessage(buf *tds.Buffer) ([]byte, error) {
	var out []byte
	tmp := make([]byte, 4096)
	for {
		n, err := buf.Read(tmp)
		if n > 0 {
			out = append(out, tmp[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, tdserr.Wrap(tdserr.KindNetworkReadEOF, err)
		}
	}
}

func (c *Conn) login(ctx context.Context, host string, features []featureExt, opts Options) error {
	fields := login7Fields{
		hostname:   firstNonEmpty(opts.ClientHostname, "localhost"),
		username:   c.cfg.User,
		password:   c.cfg.Password,
		appname:    firstNonEmpty(opts.AppName, "go-tds"),
		servername: host,
		cltIntName: "go-tds",
		language:   clientLanguage,
		database:   c.cfg.DatabaseName,
	}
	body := buildLogin7(fields, c.packetSize, 0, features)

	c.buf.StartMessage(tds.PacketLogon70)
	c.buf.WriteBytes(body)
	if err := c.buf.EndMessage(); err != nil {
		return err
	}

	return c.readLoginResponse(ctx, opts)
}

func (c *Conn) readLoginResponse(ctx context.Context, opts Options) error {
	aeEnabled := c.ColumnEncryptionEnabled()

	for {
		tp := tds.NewTokenProcessor(ctx, c.buf, aeEnabled, c.aeEngine, c.log)
		gotLoginAck := false
		fedAuthPending := false

		for {
			tok, err := tp.Next()
			if err != nil {
				return err
			}
			if tok == nil {
				break
			}
			switch v := tok.(type) {
			case tds.FedAuthInfo:
				if err := c.respondFedAuth(ctx, v, opts); err != nil {
					return err
				}
				fedAuthPending = true
			case tds.LoginAck:
				gotLoginAck = true
			case tds.FeatureExtAck:
				c.sessionRecoveryEnabled = v.SessionRecovery
			case []tds.EnvChange:
				c.applyEnvChanges(v)
			}
		}
		if tp.FirstError != nil {
			return tp.FirstError
		}
		if fedAuthPending {
			// The server sent FEDAUTHINFO and closed this response;
			// the FEDAUTH_TOKEN reply triggers a second response
			// carrying the actual LOGINACK.
			continue
		}
		if c.redirectTarget != "" {
			return nil
		}
		if !gotLoginAck {
			return tdserr.New(tdserr.KindLoginFailed, "server closed the login response without a LOGINACK")
		}
		return nil
	}
}

func (c *Conn) respondFedAuth(ctx context.Context, info tds.FedAuthInfo, opts Options) error {
	if opts.FedAuthProvider == nil {
		return tdserr.New(tdserr.KindFedAuthTokenFailed, "server requires federated authentication but no token provider is configured")
	}
	token, err := fedauth.BuildToken(ctx, opts.FedAuthProvider, info.STSURL, info.ServerSPN)
	if err != nil {
		return err
	}
	c.buf.StartMessage(tds.PacketFedAuthTok)
	c.buf.WriteBytes(token)
	return c.buf.EndMessage()
}

// applyEnvChanges folds ENVCHANGE sub-messages into session state.
// EnvRouting sets redirectTarget/redirectPort; connectTo checks them
// after login completes (a redirect arrives as an ordinary ENVCHANGE,
// followed by the server closing the connection).
func (c *Conn) applyEnvChanges(changes []tds.EnvChange) {
	for _, ec := range changes {
		switch ec.Type {
		case tds.EnvDatabase:
			c.database = ec.NewValue
			c.recoverable.Database = ec.NewValue
		case tds.EnvPacketSize:
			c.packetSize = ec.PacketSize
			c.buf.ResizeBuffer(ec.PacketSize)
			c.recoverable.PacketSize = ec.PacketSize
		case tds.EnvLanguage:
			c.recoverable.Language = ec.NewValue
		case tds.EnvSQLCollation:
			c.recoverable.Collation = ec.Collation
		case tds.EnvBeginTran:
			c.txnDescriptor = ec.TranID
			c.recoverable.TransactionDescriptor = ec.TranID
		case tds.EnvCommitTran, tds.EnvRollbackTran:
			c.txnDescriptor = 0
			c.recoverable.TransactionDescriptor = 0
		case tds.EnvRouting:
			c.redirectTarget = ec.RoutingServer
			c.redirectPort = int(ec.RoutingPort)
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// probeEngineEdition runs spec.md §4.4's one-time engine-edition
// probe and caches the cloud gates it feeds.
func (c *Conn) probeEngineEdition(ctx context.Context) error {
	const query = "SELECT CAST(SERVERPROPERTY('EngineEdition') AS INT)"

	if err := tds.WriteSQLBatch(c.buf, c.txnDescriptor, query); err != nil {
		return err
	}

	tp := tds.NewTokenProcessor(ctx, c.buf, false, nil, c.log)
	if err := tp.IterateResponse(); err != nil {
		return err
	}
	if len(tp.LastRow) == 0 {
		return tdserr.New(tdserr.KindUnexpectedServerSchema, "engine edition probe returned no rows")
	}
	edition, ok := tp.LastRow[0].(int32)
	if !ok {
		return tdserr.New(tdserr.KindUnexpectedServerSchema, "engine edition probe returned a non-integer value")
	}
	c.isCloudDatabase = edition == 5
	c.isCloudAnalyticsWarehouse = edition == 6
	return nil
}

