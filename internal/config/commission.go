package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CommissionRate is the flat per-enrollment commission for one plan tier and
// coverage type, in minor currency units.
type CommissionRate struct {
	Tier     string `mapstructure:"tier" yaml:"tier"`
	Coverage string `mapstructure:"coverage" yaml:"coverage"`
	Amount   int64  `mapstructure:"amount" yaml:"amount"`
}

type CommissionTable struct {
	Currency string           `mapstructure:"currency" yaml:"currency"`
	Rates    []CommissionRate `mapstructure:"rates" yaml:"rates"`
}

func DefaultCommissionTable() CommissionTable {
	return CommissionTable{
		Currency: "USD",
		Rates: []CommissionRate{
			{Tier: "Base", Coverage: "Member Only", Amount: 900},
			{Tier: "Base", Coverage: "Member + Spouse", Amount: 1500},
			{Tier: "Base", Coverage: "Member + Child(ren)", Amount: 1300},
			{Tier: "Base", Coverage: "Family", Amount: 1700},
			{Tier: "Plus", Coverage: "Member Only", Amount: 1200},
			{Tier: "Plus", Coverage: "Member + Spouse", Amount: 1800},
			{Tier: "Plus", Coverage: "Member + Child(ren)", Amount: 1600},
			{Tier: "Plus", Coverage: "Family", Amount: 2100},
			{Tier: "Elite", Coverage: "Member Only", Amount: 1500},
			{Tier: "Elite", Coverage: "Member + Spouse", Amount: 2200},
			{Tier: "Elite", Coverage: "Member + Child(ren)", Amount: 2000},
			{Tier: "Elite", Coverage: "Family", Amount: 2500},
		},
	}
}

// CommissionTableHolder serves the current commission table snapshot. A
// reload swaps the whole snapshot; readers never observe a partial table.
type CommissionTableHolder struct {
	current atomic.Pointer[commissionSnapshot]
	version atomic.Uint64
}

type commissionSnapshot struct {
	table   CommissionTable
	version uint64
}

func NewCommissionTableHolder(log *zap.Logger) (*CommissionTableHolder, error) {
	return NewCommissionTableHolderFromPaths(log, true,
		"/var/lib/enrollment/config",
		"/etc/enrollment",
		".",
	)
}

func NewCommissionTableHolderFromPaths(log *zap.Logger, watch bool, paths ...string) (*CommissionTableHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("commission.config")

	v := viper.New()
	v.SetConfigName("commission")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix("ENROLLMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
		defaults := DefaultCommissionTable()
		v.SetDefault("commission.currency", defaults.Currency)
		v.SetDefault("commission.rates", defaults.Rates)
	}

	cfg, err := decodeCommissionTable(v)
	if err != nil {
		return nil, err
	}

	holder := &CommissionTableHolder{}
	holder.store(cfg)

	if watch && fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeCommissionTable(v)
			if err != nil {
				log.Warn("commission.config.reload_ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.store(updated)
			log.Info("commission.config.reloaded",
				zap.String("file", e.Name),
				zap.Int("rates", len(updated.Rates)),
			)
		})
	}

	return holder, nil
}

// NewStaticCommissionTableHolder pins a table without viper; used by tools and tests.
func NewStaticCommissionTableHolder(table CommissionTable) (*CommissionTableHolder, error) {
	if err := validateCommissionTable(table); err != nil {
		return nil, err
	}
	holder := &CommissionTableHolder{}
	holder.store(table)
	return holder, nil
}

// Replace validates and swaps in a new table, as a file reload would.
func (h *CommissionTableHolder) Replace(table CommissionTable) error {
	if err := validateCommissionTable(table); err != nil {
		return err
	}
	h.store(table)
	return nil
}

func (h *CommissionTableHolder) Get() CommissionTable {
	return h.current.Load().table
}

// Snapshot returns the current table with its version. The version changes
// on every swap.
func (h *CommissionTableHolder) Snapshot() (CommissionTable, uint64) {
	snap := h.current.Load()
	return snap.table, snap.version
}

func (h *CommissionTableHolder) store(table CommissionTable) {
	h.current.Store(&commissionSnapshot{table: table, version: h.version.Add(1)})
}

func decodeCommissionTable(v *viper.Viper) (CommissionTable, error) {
	var cfg CommissionTable
	if err := v.UnmarshalKey("commission", &cfg); err != nil {
		return CommissionTable{}, err
	}
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if err := validateCommissionTable(cfg); err != nil {
		return CommissionTable{}, err
	}
	return cfg, nil
}

func validateCommissionTable(cfg CommissionTable) error {
	if len(cfg.Rates) == 0 {
		return errors.New("commission.rates cannot be empty")
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		return errors.New("commission.currency is required")
	}
	seen := make(map[string]struct{}, len(cfg.Rates))
	for i, rate := range cfg.Rates {
		if strings.TrimSpace(rate.Tier) == "" || strings.TrimSpace(rate.Coverage) == "" {
			return fmt.Errorf("commission.rates[%d]: tier and coverage are required", i)
		}
		if rate.Amount <= 0 {
			return fmt.Errorf("commission.rates[%d]: amount must be positive", i)
		}
		key := strings.ToLower(strings.TrimSpace(rate.Tier)) + "|" + strings.ToLower(strings.TrimSpace(rate.Coverage))
		if _, ok := seen[key]; ok {
			return fmt.Errorf("commission.rates[%d]: duplicate %s / %s", i, rate.Tier, rate.Coverage)
		}
		seen[key] = struct{}{}
	}
	return nil
}
