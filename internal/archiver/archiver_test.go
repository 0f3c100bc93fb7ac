package archiver

import "testing"

func TestMirrorErrNoopWhenDisabled(t *testing.T) {
	a := New(Config{Enabled: false}, nil)
	if err := a.MirrorErr("report-1", []byte(`{}`)); err != nil {
		t.Errorf("MirrorErr() on a disabled archiver = %v, want nil", err)
	}
}

func TestTestConnectionNoopWhenDisabled(t *testing.T) {
	a := New(Config{Enabled: false}, nil)
	if err := a.TestConnection(); err != nil {
		t.Errorf("TestConnection() on a disabled archiver = %v, want nil", err)
	}
}

func TestMirrorErrFailsToUnreachableHost(t *testing.T) {
	a := New(Config{
		Enabled:               true,
		Host:                  "127.0.0.1",
		Port:                  1,
		Username:              "u",
		Password:              "p",
		TimeoutConnectSeconds: 1,
	}, nil)
	if err := a.MirrorErr("report-1", []byte(`{}`)); err == nil {
		t.Error("expected a dial error against a closed port")
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}
	if c.port() != 22 {
		t.Errorf("port() = %d, want 22", c.port())
	}
	if c.timeout().Seconds() != 60 {
		t.Errorf("timeout() = %v, want 60s", c.timeout())
	}
}
