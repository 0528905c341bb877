// Package config holds the YAML-deserializable configuration tree for the
// daemon. Exported (capitalized) members are defined directly in the YAML
// file; unexported members are derived from them by Load (via postprocess).
package config

import (
	"fmt"
	"io/ioutil"
	"net"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"

	"github.com/embercd/embercd/irc/class"
	"github.com/embercd/embercd/irc/logger"
)

// ListenerConfig is one bind address this daemon accepts client or server
// connections on.
type ListenerConfig struct {
	TLSCert string `yaml:"tls-cert"`
	TLSKey  string `yaml:"tls-key"`
	Proxy   bool
}

// ClassConfig is the YAML form of a connection class (spec 4.E); Load
// turns each entry into a *class.Class.
type ClassConfig struct {
	MaxTotal         int    `yaml:"max-total"`
	MaxLocalPerIP    int    `yaml:"max-local-per-ip"`
	MaxGlobalPerIP   int    `yaml:"max-global-per-ip"`
	MaxPerIdent      int    `yaml:"max-per-ident"`
	MaxSendQ         string `yaml:"max-sendq"`
	ConnectFrequency string `yaml:"connect-frequency"`
	PingFrequency    string `yaml:"ping-frequency"`
	CIDRBitsV4       int    `yaml:"cidr-bits-ipv4"`
	CIDRBitsV6       int    `yaml:"cidr-bits-ipv6"`
	CIDRAmount       int    `yaml:"cidr-amount"`

	maxSendQBytes    uint64
	connectFrequency time.Duration
	pingFrequency    time.Duration
}

// AuthBlockConfig is one auth{} (I-line) entry (spec 4.B).
type AuthBlockConfig struct {
	User             string
	Host             string
	Password         string
	Encrypted        bool
	Class            string
	RequireTLS       bool `yaml:"require-tls"`
	RequireSASL      bool `yaml:"require-sasl"`
	RequireIdent     bool `yaml:"require-ident"`
	NoTilde          bool `yaml:"no-tilde"`
	ExemptLimits     bool `yaml:"exempt-limits"`
	KlineExempt      bool `yaml:"kline-exempt"`
	RedirectServer   string `yaml:"redirect-server"`
	RedirectPort     int    `yaml:"redirect-port"`
	SpoofHost        string `yaml:"spoof-host"`
}

// ServerLinkConfig is one configured server-link peer (spec 4.F).
type ServerLinkConfig struct {
	Name        string
	Host        string
	Port        int
	VHost       string
	SendPass    string `yaml:"send-password"`
	ReceivePass string `yaml:"receive-password"`
	Class       string
	Hub         bool
	Leaf        bool
	AutoConnect bool `yaml:"autoconnect"`
	TLS         bool
}

// DNSBLConfigYAML is one configured DNS blacklist (spec 4.D).
type DNSBLConfigYAML struct {
	Host       string
	Filters    []string
	Reason     string
	FamilyV4   bool `yaml:"family-ipv4"`
	FamilyV6   bool `yaml:"family-ipv6"`
	Exempt     bool
}

// NetworkConfig describes this daemon's identity on the mesh (spec 4.C,
// 6).
type NetworkConfig struct {
	Name string
	SID  string
	Info string
}

// LimitsConfig bounds protocol-level sizes referenced throughout spec 3/6.
type LimitsConfig struct {
	NickLen    int `yaml:"nick-len"`
	ChannelLen int `yaml:"channel-len"`
	DotsInIdent int `yaml:"dots-in-ident"`
}

// Config is the top-level YAML document.
type Config struct {
	Network   NetworkConfig
	Listeners map[string]ListenerConfig
	Classes   map[string]ClassConfig
	Auth      []AuthBlockConfig
	Servers   []ServerLinkConfig
	DNSBLs    []DNSBLConfigYAML `yaml:"dnsbls"`
	Limits    LimitsConfig
	Log       logger.Config
	Datastore struct {
		Path string
	}

	PidFile string `yaml:"pid-file"`
	MOTD    string `yaml:"motd-file"`

	filename string
}

// Load reads and parses filename, applying defaults and deriving the
// unexported fields every *Config*-derived subsystem needs (mirrors the
// teacher's LoadConfig: YAML fields are taken as-is, then postprocessed).
func Load(filename string) (*Config, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}
	cfg.filename = filename
	if err := cfg.postprocess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) postprocess() error {
	if c.Limits.NickLen == 0 {
		c.Limits.NickLen = 32
	}
	if c.Limits.ChannelLen == 0 {
		c.Limits.ChannelLen = 64
	}
	for name, cc := range c.Classes {
		if cc.MaxSendQ != "" {
			n, err := bytefmt.ToBytes(cc.MaxSendQ)
			if err != nil {
				return fmt.Errorf("config: class %s: bad max-sendq %q: %w", name, cc.MaxSendQ, err)
			}
			cc.maxSendQBytes = n
		}
		if cc.ConnectFrequency != "" {
			d, err := time.ParseDuration(cc.ConnectFrequency)
			if err != nil {
				return fmt.Errorf("config: class %s: bad connect-frequency: %w", name, err)
			}
			cc.connectFrequency = d
		}
		if cc.PingFrequency != "" {
			d, err := time.ParseDuration(cc.PingFrequency)
			if err != nil {
				return fmt.Errorf("config: class %s: bad ping-frequency: %w", name, err)
			}
			cc.pingFrequency = d
		} else {
			cc.pingFrequency = 2 * time.Minute
		}
		c.Classes[name] = cc
	}
	return nil
}

// BuildClasses materializes the YAML class table into live *class.Class
// objects for the class manager (spec 4.E).
func (c *Config) BuildClasses() *class.Manager {
	mgr := class.NewManager()
	for name, cc := range c.Classes {
		cls := class.New(name)
		cls.MaxTotal = cc.MaxTotal
		cls.MaxLocalPerIP = cc.MaxLocalPerIP
		cls.MaxGlobalPerIP = cc.MaxGlobalPerIP
		cls.MaxPerIdent = cc.MaxPerIdent
		cls.MaxSendQ = int64(cc.maxSendQBytes)
		cls.ConnectFrequency = cc.connectFrequency
		cls.PingFrequency = cc.pingFrequency
		cls.CIDRBitsV4 = cc.CIDRBitsV4
		cls.CIDRBitsV6 = cc.CIDRBitsV6
		cls.CIDRAmount = cc.CIDRAmount
		mgr.Put(cls)
	}
	return mgr
}

// ParsedFilters parses the configured reply-code filters into net.IPs
// usable by irc/pipeline's RunDNSBLQueries.
func (d DNSBLConfigYAML) ParsedFilters() []net.IP {
	out := make([]net.IP, 0, len(d.Filters))
	for _, f := range d.Filters {
		if ip := net.ParseIP(f); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}

// Filename returns the path Load was called with, for rehash logging.
func (c *Config) Filename() string { return c.filename }
