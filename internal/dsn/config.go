// Package dsn parses and validates the driver's connection string
// surface (spec.md §6) into a Config, and layers a YAML-formatted
// side-config of static defaults underneath it, mirroring how this
// corpus's connection-pooling proxy layers a YAML config file under
// per-request overrides (internal/config.Config.applyDefaults).
package dsn

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ulvii/go-tds/internal/tdserr"
	"gopkg.in/yaml.v3"
)

// AuthenticationScheme selects the wire-level login mechanism.
type AuthenticationScheme int

const (
	AuthSQLPassword AuthenticationScheme = iota
	AuthADPassword
	AuthADIntegrated
	AuthADMSI
	AuthNTLM
	AuthJavaKerberos
)

// ColumnEncryptionSetting selects whether Always Encrypted is requested.
type ColumnEncryptionSetting int

const (
	ColumnEncryptionDisabled ColumnEncryptionSetting = iota
	ColumnEncryptionEnabled
)

// EncryptionLevel mirrors the PRELOGIN ENCRYPTION option values.
type EncryptionLevel byte

const (
	EncryptOff EncryptionLevel = iota
	EncryptOn
	EncryptNotSup
	EncryptReq
)

// Config is the fully validated, defaulted set of connection
// properties. Every keyword in spec.md §6 has a field here.
type Config struct {
	ServerName   string
	PortNumber   int
	InstanceName string
	DatabaseName string

	User     string
	Password string
	Domain   string

	IntegratedSecurity    bool
	Authentication        AuthenticationScheme
	AuthenticationScheme  string

	Encrypt                EncryptionLevel
	TrustServerCertificate bool
	HostNameInCertificate  string
	SSLProtocol            string
	TrustStore             string
	TrustStorePassword     string
	TrustStoreType         string
	FIPS                   bool
	TrustManagerClass      string
	TrustManagerCtorArg    string

	ColumnEncryptionSetting  ColumnEncryptionSetting
	EnclaveAttestationURL    string
	EnclaveAttestationProto  string

	StatementPoolingCacheSize uint32
	DisableStatementPooling   bool

	CancelQueryTimeout time.Duration
	QueryTimeout       time.Duration
	LoginTimeout       time.Duration

	ConnectRetryCount    int
	ConnectRetryInterval time.Duration

	MultiSubnetFailover              bool
	TransparentNetworkIPResolution   bool
	UseBulkCopyForBatchInsert        bool
}

// Defaults is the YAML-loadable set of static fallbacks applied before
// DSN keywords are parsed, the way the corpus's proxy applies
// applyDefaults() after loading its YAML file. PacketSize is parsed but
// not copied into Config, and MinTLSProtocol only fills
// Config.SSLProtocol, which the TLS handshake does not read.
type Defaults struct {
	PacketSize           int           `yaml:"packet_size"`
	LoginTimeout         time.Duration `yaml:"login_timeout"`
	ConnectRetryCount    int           `yaml:"connect_retry_count"`
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval"`
	MinTLSProtocol       string        `yaml:"min_tls_protocol"`
}

// LoadDefaults parses a YAML document into Defaults, applying the
// driver's own baseline where the document is silent.
func LoadDefaults(yamlDoc []byte) (Defaults, error) {
	d := Defaults{
		PacketSize:           4096,
		LoginTimeout:         15 * time.Second,
		ConnectRetryCount:    1,
		ConnectRetryInterval: 10 * time.Second,
		MinTLSProtocol:       "TLSv1.2",
	}
	if len(yamlDoc) == 0 {
		return d, nil
	}
	if err := yaml.Unmarshal(yamlDoc, &d); err != nil {
		return Defaults{}, tdserr.Wrap(tdserr.KindInvalidConnectionString, err)
	}
	return d, nil
}

func newConfig(d Defaults) *Config {
	return &Config{
		PortNumber:           1433,
		LoginTimeout:         d.LoginTimeout,
		QueryTimeout:         30 * time.Second,
		CancelQueryTimeout:   5 * time.Second,
		ConnectRetryCount:    d.ConnectRetryCount,
		ConnectRetryInterval: d.ConnectRetryInterval,
		SSLProtocol:          d.MinTLSProtocol,
	}
}

// Parse parses an ODBC-style `key=value;key=value` connection string
// (also accepting a `sqlserver://` URL form) against the supplied
// Defaults, validating every keyword in spec.md §6. Configuration
// errors are returned eagerly, before any I/O, per spec.md §7.
func Parse(connStr string, d Defaults) (*Config, error) {
	cfg := newConfig(d)

	kv, err := splitKeywords(connStr)
	if err != nil {
		return nil, err
	}

	for key, val := range kv {
		if err := cfg.apply(strings.ToLower(key), val); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitKeywords(connStr string) (map[string]string, error) {
	connStr = strings.TrimSpace(connStr)
	out := map[string]string{}

	if strings.HasPrefix(strings.ToLower(connStr), "sqlserver://") {
		u, err := url.Parse(connStr)
		if err != nil {
			return nil, tdserr.Wrap(tdserr.KindInvalidConnectionString, err)
		}
		if u.User != nil {
			out["user"] = u.User.Username()
			if p, ok := u.User.Password(); ok {
				out["password"] = p
			}
		}
		host := u.Hostname()
		if host != "" {
			out["serverName"] = host
		}
		if u.Port() != "" {
			out["portNumber"] = u.Port()
		}
		if db := strings.TrimPrefix(u.Path, "/"); db != "" {
			out["databaseName"] = db
		}
		for k, v := range u.Query() {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
		return out, nil
	}

	for _, part := range strings.Split(connStr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, tdserr.Newf(tdserr.KindInvalidConnectionString, "malformed connection string segment: %q", part)
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

func parseBool(key, val string) (bool, error) {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, tdserr.Newf(tdserr.KindInvalidConnectionString, "%s must be a boolean: %q", key, val)
	}
	return b, nil
}

func parseInt(key, val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, tdserr.Newf(tdserr.KindInvalidConnectionString, "%s must be an integer: %q", key, val)
	}
	return n, nil
}

func (c *Config) apply(key, val string) error {
	switch key {
	case "servername", "server":
		c.ServerName = val
	case "portnumber", "port":
		n, err := parseInt(key, val)
		if err != nil {
			return err
		}
		c.PortNumber = n
	case "instancename":
		c.InstanceName = val
	case "databasename", "database":
		c.DatabaseName = val
	case "user", "user id", "uid":
		c.User = val
	case "password", "pwd":
		c.Password = val
	case "domain":
		c.Domain = val
	case "integratedsecurity":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		c.IntegratedSecurity = b
	case "authentication":
		c.Authentication = parseAuthentication(val)
	case "authenticationscheme":
		c.AuthenticationScheme = val
	case "encrypt":
		c.Encrypt = parseEncryptionLevel(val)
	case "trustservercertificate":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		c.TrustServerCertificate = b
	case "hostnameincertificate":
		c.HostNameInCertificate = val
	case "sslprotocol":
		c.SSLProtocol = val
	case "truststore":
		c.TrustStore = val
	case "truststorepassword":
		c.TrustStorePassword = val
	case "truststoretype":
		c.TrustStoreType = val
	case "columnencryptionsetting":
		if strings.EqualFold(val, "enabled") {
			c.ColumnEncryptionSetting = ColumnEncryptionEnabled
		} else {
			c.ColumnEncryptionSetting = ColumnEncryptionDisabled
		}
	case "enclaveattestationurl":
		c.EnclaveAttestationURL = val
	case "enclaveattestationprotocol":
		c.EnclaveAttestationProto = val
	case "statementpoolingcachesize":
		n, err := parseInt(key, val)
		if err != nil {
			return err
		}
		c.StatementPoolingCacheSize = uint32(n)
	case "disablestatementpooling":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		c.DisableStatementPooling = b
	case "cancelquerytimeout":
		n, err := parseInt(key, val)
		if err != nil {
			return err
		}
		c.CancelQueryTimeout = time.Duration(n) * time.Second
	case "querytimeout":
		n, err := parseInt(key, val)
		if err != nil {
			return err
		}
		c.QueryTimeout = time.Duration(n) * time.Second
	case "logintimeout":
		n, err := parseInt(key, val)
		if err != nil {
			return err
		}
		c.LoginTimeout = time.Duration(n) * time.Second
	case "connectretrycount":
		n, err := parseInt(key, val)
		if err != nil {
			return err
		}
		c.ConnectRetryCount = n
	case "connectretryinterval":
		n, err := parseInt(key, val)
		if err != nil {
			return err
		}
		c.ConnectRetryInterval = time.Duration(n) * time.Second
	case "multisubnetfailover":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		c.MultiSubnetFailover = b
	case "transparentnetworkipresolution":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		c.TransparentNetworkIPResolution = b
	case "usebulkcopyforbatchinsert":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		c.UseBulkCopyForBatchInsert = b
	case "fips":
		b, err := parseBool(key, val)
		if err != nil {
			return err
		}
		c.FIPS = b
	case "trustmanagerclass":
		c.TrustManagerClass = val
	case "trustmanagerconstructorarg":
		c.TrustManagerCtorArg = val
	default:
		// Unknown keywords are ignored, matching the teacher driver
		// family's tolerance of forward-compatible connection strings.
	}
	return nil
}

func parseAuthentication(val string) AuthenticationScheme {
	switch strings.ToLower(val) {
	case "activedirectorypassword":
		return AuthADPassword
	case "activedirectoryintegrated":
		return AuthADIntegrated
	case "activedirectorymsi", "activedirectorymanagedidentity":
		return AuthADMSI
	default:
		return AuthSQLPassword
	}
}

func parseEncryptionLevel(val string) EncryptionLevel {
	switch strings.ToLower(val) {
	case "true", "yes", "on", "mandatory":
		return EncryptOn
	case "strict", "required", "req":
		return EncryptReq
	case "false", "no", "off", "optional":
		return EncryptOff
	default:
		return EncryptOff
	}
}

// validate enforces spec.md §4.4/§6's configuration invariants:
// retry count/interval ranges and FIPS consistency. Out-of-range
// values fail here, at config validation, before any I/O.
func (c *Config) validate() error {
	if c.ConnectRetryCount < 0 || c.ConnectRetryCount > 255 {
		return tdserr.Newf(tdserr.KindInvalidRetryConfig, "connectRetryCount must be in [0,255], got %d", c.ConnectRetryCount)
	}
	if c.ConnectRetryCount > 0 {
		secs := int(c.ConnectRetryInterval / time.Second)
		if secs < 1 || secs > 60 {
			return tdserr.Newf(tdserr.KindInvalidRetryConfig, "connectRetryInterval must be in [1,60] seconds, got %d", secs)
		}
	}
	if c.FIPS {
		if c.Encrypt != EncryptOn && c.Encrypt != EncryptReq {
			return tdserr.New(tdserr.KindConflictingFipsConfig, "fips requires encrypt=true")
		}
		if c.TrustServerCertificate {
			return tdserr.New(tdserr.KindConflictingFipsConfig, "fips requires trustServerCertificate=false")
		}
		if c.TrustStore != "" && c.TrustStoreType == "" {
			return tdserr.New(tdserr.KindConflictingFipsConfig, "fips with a trust store path also requires trustStoreType")
		}
	}
	if c.ServerName == "" {
		return tdserr.New(tdserr.KindInvalidConnectionString, "serverName is required")
	}
	return nil
}

// String renders a redacted summary suitable for logging: password and
// trust-store-password are never included.
func (c *Config) String() string {
	return fmt.Sprintf("server=%s port=%d database=%s user=%s encrypt=%v ae=%v",
		c.ServerName, c.PortNumber, c.DatabaseName, c.User, c.Encrypt, c.ColumnEncryptionSetting == ColumnEncryptionEnabled)
}
