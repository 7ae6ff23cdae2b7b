package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cta-engine/internal/config"
)

func TestRun_StartupErrors(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		catalog string
		wantErr string
	}{
		{"unknown driver", "mysql", "", `unknown storage driver "mysql"`},
		{"missing catalog", "file", "testdata/does-not-exist.yaml", "initial snapshot build"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg config.Config
			cfg.Storage.Driver = tt.driver
			cfg.Storage.CatalogPath = tt.catalog
			cfg.Server.Addr = "127.0.0.1:0"

			err := Run(cfg)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
