package dbinspect

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretNeverPrints(t *testing.T) {
	secret := Secret("hunter2secret")

	for _, rendered := range []string{
		fmt.Sprint(secret),
		fmt.Sprintf("%s", secret),
		fmt.Sprintf("%v", secret),
		fmt.Sprintf("%+v", secret),
		fmt.Sprintf("%#v", secret),
	} {
		assert.NotContains(t, rendered, "hunter2secret")
		assert.Contains(t, rendered, "***")
	}
}

func TestSecretJSONRoundTrip(t *testing.T) {
	target := Target{
		DBType:   "postgres",
		Host:     "db1",
		Port:     5432,
		User:     "inspector",
		Password: "hunter2secret",
		Database: "inventory",
	}

	encoded, err := json.Marshal(target)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "hunter2secret")
	assert.Contains(t, string(encoded), `"password":"***"`)

	// Inbound requests still carry the real value.
	var decoded Target
	require.NoError(t, json.Unmarshal([]byte(`{"db_type":"mysql","password":"letmein"}`), &decoded))
	assert.Equal(t, "letmein", decoded.Password.ExposeSecret())
}

func TestSecretExposeSecret(t *testing.T) {
	assert.Equal(t, "hunter2secret", Secret("hunter2secret").ExposeSecret())
	assert.Equal(t, "", Secret("").ExposeSecret())
}
