// Package models contains the data structures used throughout esxi-control.
package models

import "time"

// Config holds everything loaded from the inventory file.
type Config struct {
	Inventory Inventory
	Settings  Settings
	Telegram  *TelegramConfig // nil if not configured
	Metrics   *MetricsConfig  // nil if not configured
}

// Settings tunes a shutdown run.
type Settings struct {
	SettleDuration time.Duration // wait between guest and host phases
	Parallelism    int           // concurrent guest power-offs, 1 is sequential
	SSH            SSHSettings
	Ping           PingSettings
}

// MetricsConfig holds node_exporter textfile settings.
type MetricsConfig struct {
	Textfile string
}
