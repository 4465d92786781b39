package config

import (
	"fmt"
)

// Validate 校验配置合法性
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("配置不能为空")
	}

	if cfg.Hrflow.General.InstanceName == "" {
		return fmt.Errorf("instance_name不能为空")
	}

	if cfg.Hrflow.Server.HTTPPort <= 0 || cfg.Hrflow.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port必须在1-65535之间")
	}
	if cfg.Hrflow.Server.Mode != "debug" && cfg.Hrflow.Server.Mode != "release" {
		return fmt.Errorf("server.mode必须是debug/release之一")
	}

	validDBTypes := map[string]bool{
		"sqlite":     true,
		"postgres":   true,
		"postgresql": true,
		"mysql":      true,
	}
	if !validDBTypes[cfg.Hrflow.Storage.Database.Type] {
		return fmt.Errorf("database.type必须是sqlite/postgres/mysql之一")
	}
	if cfg.Hrflow.Storage.Database.DSN == "" {
		return fmt.Errorf("database.dsn不能为空")
	}

	if cfg.Hrflow.Engine.DefaultMaxAttempts <= 0 {
		return fmt.Errorf("engine.default_max_attempts必须大于0")
	}
	if cfg.Hrflow.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size必须大于0")
	}

	return nil
}
