package connstr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParse_ServerWithPort(t *testing.T) {
	cfg, err := Parse("Server=db1,1433;Database=erp;User Id=admin;Password=secret")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := Config{Host: "db1", Port: 1433, Database: "erp", User: "admin", Password: "secret"}
	if cfg != want {
		t.Errorf("Parse = %+v, want %+v", cfg, want)
	}
}

func TestParse_KeyVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Config
	}{
		{
			name: "separate port key",
			raw:  "server=db2;port=14330;database=ledger;uid=svc;pwd=p@ss",
			want: Config{Host: "db2", Port: 14330, Database: "ledger", User: "svc", Password: "p@ss"},
		},
		{
			name: "default port",
			raw:  "SERVER=db3;DATABASE=erp;USER ID=u;PASSWORD=p",
			want: Config{Host: "db3", Port: DefaultPort, Database: "erp", User: "u", Password: "p"},
		},
		{
			name: "whitespace and trailing separator",
			raw:  " Server = db4 , 2000 ; Database = erp ; User Id = u ; Password = p ;",
			want: Config{Host: "db4", Port: 2000, Database: "erp", User: "u", Password: "p"},
		},
		{
			name: "value containing equals",
			raw:  "Server=db5;Database=erp;User Id=u;Password=a=b",
			want: Config{Host: "db5", Port: DefaultPort, Database: "erp", User: "u", Password: "a=b"},
		},
		{
			name: "encrypt passthrough",
			raw:  "Server=db6;Database=erp;User Id=u;Password=p;Encrypt=disable",
			want: Config{Host: "db6", Port: DefaultPort, Database: "erp", User: "u", Password: "p", Encrypt: "disable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if cfg != tt.want {
				t.Errorf("Parse = %+v, want %+v", cfg, tt.want)
			}
		})
	}
}

func TestParse_InvalidPortFallsBack(t *testing.T) {
	for _, raw := range []string{
		"Server=db1,abc;Database=erp;User Id=u;Password=p",
		"Server=db1;Port=notaport;Database=erp;User Id=u;Password=p",
		"Server=db1,70000;Database=erp;User Id=u;Password=p",
		"Server=db1,;Database=erp;User Id=u;Password=p",
	} {
		cfg, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", raw, err)
		}
		if cfg.Port != DefaultPort {
			t.Errorf("Parse(%q).Port = %d, want %d", raw, cfg.Port, DefaultPort)
		}
	}
}

func TestParse_ReportsAllMissingFields(t *testing.T) {
	_, err := Parse("Server=db1;User Id=admin")
	if err == nil {
		t.Fatal("expected error")
	}

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %T", err)
	}
	if len(cfgErr.Missing) != 2 {
		t.Errorf("Missing = %v, want database and password", cfgErr.Missing)
	}
	for _, field := range []string{FieldDatabase, FieldPassword} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not name %q", err.Error(), field)
		}
	}
}

func TestParse_EmptyString(t *testing.T) {
	_, err := Parse("")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
	want := []string{FieldHost, FieldDatabase, FieldUser, FieldPassword}
	if fmt.Sprint(cfgErr.Missing) != fmt.Sprint(want) {
		t.Errorf("Missing = %v, want %v", cfgErr.Missing, want)
	}
}

func TestConfig_Redaction(t *testing.T) {
	cfg := Config{Host: "db1", Port: 1433, Database: "erp", User: "admin", Password: "hunter2"}

	if s := cfg.String(); strings.Contains(s, "hunter2") {
		t.Errorf("String() leaked password: %s", s)
	}
	if s := cfg.LogValue().String(); strings.Contains(s, "hunter2") {
		t.Errorf("LogValue() leaked password: %s", s)
	}
	if s := fmt.Sprintf("%v", cfg); strings.Contains(s, "hunter2") {
		t.Errorf("%%v leaked password: %s", s)
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db1", Port: 1444, Database: "erp", User: "admin", Password: "p@ss;word", Encrypt: "disable"}

	dsn := cfg.DSN()
	if !strings.HasPrefix(dsn, "sqlserver://admin:") {
		t.Errorf("unexpected DSN prefix: %s", dsn)
	}
	if !strings.Contains(dsn, "@db1:1444?") {
		t.Errorf("DSN missing host:port: %s", dsn)
	}
	if !strings.Contains(dsn, "database=erp") || !strings.Contains(dsn, "encrypt=disable") {
		t.Errorf("DSN missing query params: %s", dsn)
	}
}
