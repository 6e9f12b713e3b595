package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TM_STRING", "  value ")
	t.Setenv("TM_BOOL", "true")
	t.Setenv("TM_BAD_BOOL", "maybe")
	t.Setenv("TM_INT", "42")
	t.Setenv("TM_UINT", "7")
	t.Setenv("TM_DURATION", "1m30s")

	assert.Equal(t, "value", GetEnvString("TM_STRING", "default"))
	assert.Equal(t, "default", GetEnvString("TM_MISSING", "default"))
	assert.True(t, GetEnvBool("TM_BOOL", false))
	assert.True(t, GetEnvBool("TM_BAD_BOOL", true))
	assert.Equal(t, 42, GetEnvInt("TM_INT", 0))
	assert.Equal(t, 5, GetEnvInt("TM_MISSING", 5))
	assert.Equal(t, uint64(7), GetEnvUint64("TM_UINT", 3))
	assert.Equal(t, 90*time.Second, GetEnvDuration("TM_DURATION", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("TM_MISSING", time.Second))
}

func TestValidators(t *testing.T) {
	assert.True(t, IsValidEthAddress("0x8256F235Ed6445fb9f8177a847183A8C8CD97cF1"))
	assert.False(t, IsValidEthAddress("8256F235Ed6445fb9f8177a847183A8C8CD97cF1"))

	key := "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	assert.True(t, IsValidPrivateKey(key))
	assert.True(t, IsValidPrivateKey("0x"+key))
	assert.False(t, IsValidPrivateKey(key[:10]))

	assert.True(t, IsValidPort("9010"))
	assert.False(t, IsValidPort("70000"))

	assert.True(t, IsValidRPCURL("https://testnet.hashio.io/api"))
	assert.True(t, IsValidRPCURL("ws://127.0.0.1:8546"))
	assert.False(t, IsValidRPCURL("testnet.hashio.io"))
	assert.True(t, IsEmpty("  "))
}
