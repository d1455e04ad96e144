// Package config provides inventory file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/esxi-control/internal/models"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// DefaultPath is the inventory location used when none is given.
const DefaultPath = "conf/conf.json"

// Defaults applied when the inventory file leaves a setting out.
const (
	DefaultSettleDuration = 20 * time.Second
	DefaultParallelism    = 1
	DefaultSSHPort        = 22
	DefaultConnectTimeout = 10 * time.Second
	DefaultCommandTimeout = 30 * time.Second
	DefaultPingCount      = 2
	DefaultPingTimeout    = 3 * time.Second
)

var (
	// ErrNotFound is returned when the inventory file does not exist.
	ErrNotFound = errors.New("inventory file not found")
	// ErrMalformed is returned when the inventory file cannot be parsed or misses required fields.
	ErrMalformed = errors.New("malformed inventory")
)

// Parser handles inventory file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new inventory parser.
func NewParser() *Parser {
	return &Parser{v: viper.New()}
}

// LoadFile loads the inventory from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("checking inventory file: %w", err)
	}

	p.v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		p.v.SetConfigType("json")
	}

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrMalformed, path, err)
	}

	return p.parse()
}

// LoadReader loads the inventory from a string (useful for testing).
// format is any type viper understands, usually "json" or "yaml".
func (p *Parser) LoadReader(content, format string) (*models.Config, error) {
	p.v.SetConfigType(format)
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return p.parse()
}

//nolint:gocognit // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}
	var errs *multierror.Error

	duration := func(key string, def time.Duration) time.Duration {
		d, err := p.seconds(key, def)
		if err != nil {
			errs = multierror.Append(errs, err)
			return def
		}
		return d
	}

	cfg.Settings = models.Settings{
		SettleDuration: duration("settle_duration", DefaultSettleDuration),
		Parallelism:    p.v.GetInt("parallelism"),
		SSH: models.SSHSettings{
			Port:           p.v.GetInt("ssh.port"),
			ConnectTimeout: duration("ssh.connect_timeout", DefaultConnectTimeout),
			CommandTimeout: duration("ssh.command_timeout", DefaultCommandTimeout),
		},
		Ping: models.PingSettings{
			Count:      p.v.GetInt("ping.count"),
			Timeout:    duration("ping.timeout", DefaultPingTimeout),
			Privileged: true,
		},
	}

	if cfg.Settings.Parallelism == 0 {
		cfg.Settings.Parallelism = DefaultParallelism
	}
	if cfg.Settings.SSH.Port == 0 {
		cfg.Settings.SSH.Port = DefaultSSHPort
	}
	if cfg.Settings.SSH.ConnectTimeout == 0 {
		cfg.Settings.SSH.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Settings.SSH.CommandTimeout == 0 {
		cfg.Settings.SSH.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Settings.Ping.Count == 0 {
		cfg.Settings.Ping.Count = DefaultPingCount
	}
	if cfg.Settings.Ping.Timeout == 0 {
		cfg.Settings.Ping.Timeout = DefaultPingTimeout
	}
	if p.v.IsSet("ping.privileged") {
		cfg.Settings.Ping.Privileged = p.v.GetBool("ping.privileged")
	}

	hosts, hostErrs := p.parseHosts(cfg.Settings.SSH.Port)
	errs = multierror.Append(errs, hostErrs...)
	cfg.Inventory = models.Inventory{Hosts: hosts}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			errs = multierror.Append(errs, fmt.Errorf("telegram.bot_token is required when telegram is configured"))
		}
		if cfg.Telegram.ChatID == "" {
			errs = multierror.Append(errs, fmt.Errorf("telegram.chat_id is required when telegram is configured"))
		}
	}

	// Parse optional metrics config.
	if p.v.IsSet("metrics") {
		cfg.Metrics = &models.MetricsConfig{
			Textfile: p.expandEnv(p.v.GetString("metrics.textfile")),
		}
		if cfg.Metrics.Textfile == "" {
			errs = multierror.Append(errs, fmt.Errorf("metrics.textfile is required when metrics is configured"))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return cfg, nil
}

func (p *Parser) parseHosts(defaultPort int) ([]models.HypervisorHost, []error) {
	raw := p.v.Get("esxi_servers")
	if raw == nil {
		return nil, nil
	}

	entries, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, []error{fmt.Errorf("esxi_servers must be a list")}
	}

	var errs []error
	hosts := make([]models.HypervisorHost, 0, len(entries))
	for i, entry := range entries {
		scope := fmt.Sprintf("esxi_servers[%d]", i)
		fields, err := cast.ToStringMapE(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s must be an object", scope))
			continue
		}

		e := entryReader{scope: scope, fields: fields, expand: p.expandEnv}
		host := models.HypervisorHost{
			Name:     e.required("name"),
			Address:  e.required("ip"),
			Username: e.required("username"),
			Password: e.required("password"),
			Port:     e.port(defaultPort),
		}

		if rawVMs, ok := fields["vms"]; ok && rawVMs != nil {
			vms, err := cast.ToSliceE(rawVMs)
			if err != nil {
				e.errs = append(e.errs, fmt.Errorf("%s.vms must be a list", scope))
			}
			for j, rawVM := range vms {
				vmScope := fmt.Sprintf("%s.vms[%d]", scope, j)
				vmFields, err := cast.ToStringMapE(rawVM)
				if err != nil {
					e.errs = append(e.errs, fmt.Errorf("%s must be an object", vmScope))
					continue
				}

				ve := entryReader{scope: vmScope, fields: vmFields, expand: p.expandEnv}
				host.VMs = append(host.VMs, models.GuestVM{
					Name:     ve.required("name"),
					Address:  ve.required("ip"),
					Username: ve.required("username"),
					Password: ve.required("password"),
					Port:     ve.port(defaultPort),
				})
				e.errs = append(e.errs, ve.errs...)
			}
		}

		errs = append(errs, e.errs...)
		hosts = append(hosts, host)
	}

	return hosts, errs
}

// seconds reads a duration that may be written as "20s" or as a bare number of seconds.
func (p *Parser) seconds(key string, def time.Duration) (time.Duration, error) {
	if !p.v.IsSet(key) {
		return def, nil
	}

	raw := p.v.Get(key)
	switch v := raw.(type) {
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %q", key, v)
		}
		return d, nil
	case bool, nil:
		return 0, fmt.Errorf("%s: invalid duration %v", key, raw)
	default:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %v", key, raw)
		}
		return time.Duration(f * float64(time.Second)), nil
	}
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// entryReader pulls fields out of one host or VM entry and remembers what was missing.
type entryReader struct {
	scope  string
	fields map[string]interface{}
	expand func(string) string
	errs   []error
}

func (e *entryReader) required(key string) string {
	raw, ok := e.fields[key]
	if !ok || raw == nil {
		e.errs = append(e.errs, fmt.Errorf("%s.%s is required", e.scope, key))
		return ""
	}

	s, err := cast.ToStringE(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s.%s must be a string", e.scope, key))
		return ""
	}

	return e.expand(s)
}

func (e *entryReader) port(def int) int {
	raw, ok := e.fields["port"]
	if !ok || raw == nil {
		return def
	}

	port, err := cast.ToIntE(raw)
	if err != nil || port <= 0 || port > 65535 {
		e.errs = append(e.errs, fmt.Errorf("%s.port must be between 1 and 65535", e.scope))
		return def
	}

	return port
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Settings.SettleDuration < 0 {
		return fmt.Errorf("settle_duration must not be negative")
	}

	if cfg.Settings.SSH.ConnectTimeout < 0 {
		return fmt.Errorf("ssh.connect_timeout must not be negative")
	}

	if cfg.Settings.SSH.CommandTimeout < 0 {
		return fmt.Errorf("ssh.command_timeout must not be negative")
	}

	if cfg.Settings.Ping.Timeout < 0 {
		return fmt.Errorf("ping.timeout must not be negative")
	}

	if cfg.Settings.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1")
	}

	if cfg.Settings.Ping.Count < 1 {
		return fmt.Errorf("ping.count must be at least 1")
	}

	for _, h := range cfg.Inventory.Hosts {
		if h.Name == "" {
			return fmt.Errorf("host at %s has no name", h.Address)
		}
		if h.Address == "" {
			return fmt.Errorf("host %s has no ip", h.Name)
		}
		for _, vm := range h.VMs {
			if vm.Address == "" {
				return fmt.Errorf("vm %s on host %s has no ip", vm.Name, h.Name)
			}
		}
	}

	return nil
}

// Load parses and validates the inventory at path.
func Load(path string) (*models.Config, error) {
	cfg, err := NewParser().LoadFile(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return cfg, nil
}
