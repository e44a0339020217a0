package config

import (
	"strings"
	"testing"

	dperrors "github.com/ssw-net/vswitchd-core/pkg/errors"
)

func validConfig() *Config {
	cfg := &Config{
		Ports: []PortConfig{
			{Name: "eth0", Number: 1, DevType: "fake", NumaID: 0, PollMode: true, RxQueues: 1},
		},
	}
	applyDefaults(cfg)
	return cfg
}

func TestValidConfigPasses(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Fatalf("expected valid config to pass, got %v", err)
	}
}

func TestInvalidLogLevelFails(t *testing.T) {
	cfg := validConfig()
	cfg.App.LogLevel = "verbose"

	err := ValidateConfig(cfg)
	if err == nil {
		t.Fatal("expected validation error for bad log level")
	}
	if !strings.Contains(err.Error(), "log level") && !strings.Contains(err.Error(), "log_level") {
		t.Errorf("expected log level complaint, got %v", err)
	}
}

func TestInvalidCoreMaskFails(t *testing.T) {
	cfg := validConfig()
	cfg.Datapath.CoreMask = "not-hex"

	err := ValidateConfig(cfg)
	if err == nil {
		t.Fatal("expected validation error for bad core mask")
	}
	de, ok := dperrors.As(err)
	if !ok {
		t.Fatalf("expected a DatapathError, got %T", err)
	}
	if de.Kind != dperrors.KindInvalid {
		t.Errorf("expected KindInvalid, got %s", de.Kind)
	}
}

func TestZeroCapacityFieldsFail(t *testing.T) {
	cfg := validConfig()
	cfg.Datapath.FlowTableCapacity = 0

	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected validation error for zero flow table capacity")
	}
}

func TestDuplicatePortNameFails(t *testing.T) {
	cfg := validConfig()
	cfg.Ports = append(cfg.Ports, PortConfig{Name: "eth0", Number: 2, PollMode: true})

	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected validation error for duplicate port name")
	}
}

func TestDuplicatePortNumberFails(t *testing.T) {
	cfg := validConfig()
	cfg.Ports = append(cfg.Ports, PortConfig{Name: "eth1", Number: 1, PollMode: true})

	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected validation error for duplicate port number")
	}
}

func TestMgmtMetricsPortConflictFails(t *testing.T) {
	cfg := validConfig()
	cfg.Metrics.Port = cfg.Mgmt.Port

	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected validation error for mgmt/metrics port conflict")
	}
}

func TestMultipleErrorsAreJoined(t *testing.T) {
	cfg := validConfig()
	cfg.App.LogLevel = "bogus"
	cfg.Datapath.FlowTableCapacity = 0

	err := ValidateConfig(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "multiple validation errors") {
		t.Errorf("expected joined error message, got %v", err)
	}
}
