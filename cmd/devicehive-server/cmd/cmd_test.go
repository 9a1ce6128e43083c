package cmd

import (
	"bytes"
	"reflect"
	"testing"
	"text/template"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/devicehive/devicehive-server/internal/config"
)

func TestConfigTemplate(t *testing.T) {
	assert := require.New(t)

	var c config.Config
	c.Redis.Servers = []string{"redis-1:6379", "redis-2:6379"}
	c.API.Bind = "0.0.0.0:8080"
	c.Gateway.Backend.Type = "mqtt"

	tmpl, err := template.New("config").Parse(configTemplate)
	assert.NoError(err)

	var buf bytes.Buffer
	assert.NoError(tmpl.Execute(&buf, &c))

	out := buf.String()
	assert.Contains(out, `"redis-1:6379",`)
	assert.Contains(out, `bind="0.0.0.0:8080"`)
	assert.Contains(out, `type="mqtt"`)
	assert.Contains(out, "[gateway.backend.azure_service_bus]")
}

func TestViperDecodeJSONSlice(t *testing.T) {
	assert := require.New(t)

	out, err := viperDecodeJSONSlice(reflect.String, reflect.Slice, `[{"name": "a"}]`)
	assert.NoError(err)
	assert.Equal([]map[string]interface{}{{"name": "a"}}, out)

	out, err = viperDecodeJSONSlice(reflect.String, reflect.Slice, "a,b")
	assert.NoError(err)
	assert.Equal("a,b", out)
}

func TestViperBindEnvs(t *testing.T) {
	assert := require.New(t)

	t.Setenv("API__WEBSOCKET__BURST", "42")
	viperBindEnvs(config.Config{})

	assert.Equal("42", viper.GetString("api.websocket.burst"))
}
