package config

import "testing"

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.App.Name != "vswitchd-core" {
		t.Errorf("expected default app name, got %s", cfg.App.Name)
	}
	if cfg.Datapath.MaxRecircDepth != 5 {
		t.Errorf("expected default max_recirc_depth 5, got %d", cfg.Datapath.MaxRecircDepth)
	}
	if cfg.Datapath.EMCShift != 13 {
		t.Errorf("expected default emc_shift 13, got %d", cfg.Datapath.EMCShift)
	}
	if cfg.Datapath.EMCSegs != 2 {
		t.Errorf("expected default emc_segs 2, got %d", cfg.Datapath.EMCSegs)
	}
	if cfg.Datapath.FlowTableCapacity != 65536 {
		t.Errorf("expected default flow_table_capacity 65536, got %d", cfg.Datapath.FlowTableCapacity)
	}
	if cfg.Mgmt.Port != 8401 {
		t.Errorf("expected default mgmt port 8401, got %d", cfg.Mgmt.Port)
	}
	if cfg.Metrics.Port != 8001 {
		t.Errorf("expected default metrics port 8001, got %d", cfg.Metrics.Port)
	}
	if cfg.HotReload.Enabled {
		t.Errorf("expected hot reload disabled when no core_mask_file is set")
	}
	if cfg.HotReload.WatchInterval.Seconds() != 5 {
		t.Errorf("expected default hot reload watch interval 5s, got %s", cfg.HotReload.WatchInterval)
	}
	if cfg.Tracing.Enabled {
		t.Errorf("expected tracing disabled by default")
	}
	if cfg.Tracing.ServiceName != "vswitchd-core" {
		t.Errorf("expected tracing service name to default to app name, got %s", cfg.Tracing.ServiceName)
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Errorf("expected default tracing sample rate 1.0, got %f", cfg.Tracing.SampleRate)
	}
}

func TestApplyDefaultsEnablesHotReloadWhenCoreMaskFileSet(t *testing.T) {
	cfg := &Config{Datapath: DatapathConfig{CoreMaskFile: "/etc/vswitchd/core_mask"}}
	applyDefaults(cfg)

	if !cfg.HotReload.Enabled {
		t.Errorf("expected hot reload enabled when core_mask_file is set")
	}
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Datapath: DatapathConfig{MaxRecircDepth: 9, EMCShift: 10},
		Mgmt:     MgmtConfig{Port: 9999},
	}
	applyDefaults(cfg)

	if cfg.Datapath.MaxRecircDepth != 9 {
		t.Errorf("explicit max_recirc_depth overwritten: %d", cfg.Datapath.MaxRecircDepth)
	}
	if cfg.Datapath.EMCShift != 10 {
		t.Errorf("explicit emc_shift overwritten: %d", cfg.Datapath.EMCShift)
	}
	if cfg.Mgmt.Port != 9999 {
		t.Errorf("explicit mgmt port overwritten: %d", cfg.Mgmt.Port)
	}
}

func TestApplyEnvironmentOverridesWinOverDefaults(t *testing.T) {
	t.Setenv("VSD_CORE_MASK", "0xf")
	t.Setenv("VSD_MGMT_PORT", "9100")

	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if cfg.Datapath.CoreMask != "0xf" {
		t.Errorf("expected core mask override 0xf, got %s", cfg.Datapath.CoreMask)
	}
	if cfg.Mgmt.Port != 9100 {
		t.Errorf("expected mgmt port override 9100, got %d", cfg.Mgmt.Port)
	}
}
