package cartruntime

import (
	"io"
	"strings"
	"testing"

	"github.com/angelmondragon/dualcart-backend/pkg/config"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
)

func TestNewRequiresClients(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "runtime-test", Output: io.Discard})
	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{"config", Params{}, "config"},
		{"logger", Params{Config: &config.Config{}}, "logger"},
		{"database", Params{Config: &config.Config{}, Logger: logg}, "database"},
	}
	for _, tt := range tests {
		_, err := New(tt.params)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: expected %q error, got %v", tt.name, tt.want, err)
		}
	}
}
