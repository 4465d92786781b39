// Package config 提供服务端YAML配置的加载、默认值和校验。
package config

import (
	"time"
)

// Config 服务端配置（对外导出）
type Config struct {
	Hrflow struct {
		General struct {
			InstanceName string `yaml:"instance_name"`
			Env          string `yaml:"env"`
		} `yaml:"general"`
		Server struct {
			HTTPPort int    `yaml:"http_port"`
			Mode     string `yaml:"mode"` // debug/release
		} `yaml:"server"`
		Storage struct {
			Database struct {
				Type string `yaml:"type"` // sqlite/mysql/postgres
				DSN  string `yaml:"dsn"`
			} `yaml:"database"`
		} `yaml:"storage"`
		Engine struct {
			WorkerID           string        `yaml:"worker_id"`
			LeaseTTL           time.Duration `yaml:"lease_ttl"`
			DefaultMaxAttempts int           `yaml:"default_max_attempts"`
			RetryBase          time.Duration `yaml:"retry_base"`
		} `yaml:"engine"`
		Scheduler struct {
			SweepSpec string        `yaml:"sweep_spec"`
			ClaimTTL  time.Duration `yaml:"claim_ttl"`
			BatchSize int           `yaml:"batch_size"`
		} `yaml:"scheduler"`
		Notify struct {
			Email map[string]string `yaml:"email"` // SMTP参数，传给email插件Init
			Sms   map[string]string `yaml:"sms"`
		} `yaml:"notify"`
	} `yaml:"hrflow"`
}

// ApplyDefaults 应用默认值
func (c *Config) ApplyDefaults() {
	if c.Hrflow.General.InstanceName == "" {
		c.Hrflow.General.InstanceName = "hrflow"
	}
	if c.Hrflow.General.Env == "" {
		c.Hrflow.General.Env = "dev"
	}
	if c.Hrflow.Server.HTTPPort == 0 {
		c.Hrflow.Server.HTTPPort = 8080
	}
	if c.Hrflow.Server.Mode == "" {
		c.Hrflow.Server.Mode = "release"
	}
	if c.Hrflow.Storage.Database.Type == "" {
		c.Hrflow.Storage.Database.Type = "sqlite"
	}
	if c.Hrflow.Storage.Database.DSN == "" {
		c.Hrflow.Storage.Database.DSN = "hrflow.db"
	}
	if c.Hrflow.Engine.LeaseTTL <= 0 {
		c.Hrflow.Engine.LeaseTTL = 30 * time.Second
	}
	if c.Hrflow.Engine.DefaultMaxAttempts <= 0 {
		c.Hrflow.Engine.DefaultMaxAttempts = 3
	}
	if c.Hrflow.Engine.RetryBase <= 0 {
		c.Hrflow.Engine.RetryBase = 30 * time.Second
	}
	if c.Hrflow.Scheduler.SweepSpec == "" {
		c.Hrflow.Scheduler.SweepSpec = "*/5 * * * * *"
	}
	if c.Hrflow.Scheduler.ClaimTTL <= 0 {
		c.Hrflow.Scheduler.ClaimTTL = 2 * time.Minute
	}
	if c.Hrflow.Scheduler.BatchSize <= 0 {
		c.Hrflow.Scheduler.BatchSize = 50
	}
}

// GetDatabaseType 获取数据库类型
func (c *Config) GetDatabaseType() string {
	return c.Hrflow.Storage.Database.Type
}

// GetDatabaseDSN 获取数据库DSN
func (c *Config) GetDatabaseDSN() string {
	return c.Hrflow.Storage.Database.DSN
}
