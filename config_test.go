package cas

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigReset(t *testing.T) {
	config := &Config{}
	config.Reset()
	assert.Equal(t, 8443, config.HTTP.Port)
	assert.Equal(t, "127.0.0.1", config.HTTP.Bind)
	assert.Equal(t, 5, config.Ticket.ExpiryMinutes)
	assert.Equal(t, DefaultTicketRandLength, config.Ticket.RandLength)
	assert.Equal(t, 10, config.Callback.TimeoutSeconds)
	assert.Equal(t, "jasig", config.Authorization.AttributeFormat)
}

func TestConfigLoadFile(t *testing.T) {
	raw := `{
		"HTTP": {
			"Port": 9000
		},
		"Ticket": {
			"ExpiryMinutes": 2
		},
		"Authorization": {
			"AttributeFormat": "rubycas",
			"Services": [
				{"Pattern": "https://app.example.com/*", "AllowProxy": true, "Callbacks": ["user_attributes"]}
			]
		}
	}`
	filename := filepath.Join(t.TempDir(), "cas.json")
	assert.NoError(t, os.WriteFile(filename, []byte(raw), 0600))

	config := &Config{}
	assert.NoError(t, config.LoadFile(filename))
	assert.Equal(t, 9000, config.HTTP.Port)
	assert.Equal(t, 2, config.Ticket.ExpiryMinutes)
	assert.Equal(t, "rubycas", config.Authorization.AttributeFormat)
	if assert.Equal(t, 1, len(config.Authorization.Services)) {
		assert.Equal(t, "https://app.example.com/*", config.Authorization.Services[0].Pattern)
		assert.True(t, config.Authorization.Services[0].AllowProxy)
	}

	// Values absent from the file keep their Reset() defaults
	assert.Equal(t, "127.0.0.1", config.HTTP.Bind)
	assert.Equal(t, DefaultTicketRandLength, config.Ticket.RandLength)

	assert.Error(t, config.LoadFile(filepath.Join(t.TempDir(), "missing.json")))
}

func TestDBConnectionString(t *testing.T) {
	conx := &DBConnection{Host: "localhost", Database: "cas", User: "u", Password: "p"}
	assert.Equal(t, "postgres", conx.DriverName())
	assert.Equal(t, "host=localhost user=u password=p dbname=cas sslmode=disable", conx.ConnectionString())

	conx.SSL = true
	conx.Port = 6432
	assert.Equal(t, "host=localhost user=u password=p dbname=cas sslmode=require port=6432", conx.ConnectionString())
}
