package db

import (
	"testing"

	"github.com/memohai/botsmith/internal/config"
)

func TestRunMigrateUnknownCommand(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "botsmith",
		Password: "secret",
		Database: "botsmith",
		SSLMode:  "disable",
	}
	err := RunMigrate(nil, cfg, nil, "invalid", nil)
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestParseMigrateCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		args    []string
		want    int
		wantErr bool
	}{
		{"up", "up", nil, 0, false},
		{"down", "down", nil, 0, false},
		{"version", "version", nil, 0, false},
		{"force with version", "force", []string{"3"}, 3, false},
		{"force without version", "force", nil, 0, true},
		{"steps negative", "steps", []string{"-1"}, -1, false},
		{"steps garbage", "steps", []string{"x"}, 0, true},
		{"unknown", "sideways", nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMigrateCommand(tt.command, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseMigrateCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseMigrateCommand() = %d, want %d", got, tt.want)
			}
		})
	}
}
