package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadersMasksSensitiveKeys(t *testing.T) {
	in := map[string]string{
		"Authorization": "Bearer token",
		"Cookie":        "sid=1",
		"X-API-Key":     "k",
		"Accept":        "application/json",
	}
	out := Headers(in)
	assert.Equal(t, "***", out["Authorization"])
	assert.Equal(t, "***", out["Cookie"])
	assert.Equal(t, "***", out["X-API-Key"])
	assert.Equal(t, "application/json", out["Accept"])
	// input untouched
	assert.Equal(t, "Bearer token", in["Authorization"])
}

func TestHeadersNilPassthrough(t *testing.T) {
	assert.Nil(t, Headers(nil))
}

func TestJSONMasksNestedFields(t *testing.T) {
	in := `{"user":{"session":"abc","name":"jo"},"items":[{"access_token":"t"}]}`
	out := JSON(in)
	assert.JSONEq(t, `{"user":{"session":"***","name":"jo"},"items":[{"access_token":"***"}]}`, out)
}

func TestJSONInvalidInputUnchanged(t *testing.T) {
	assert.Equal(t, "{not json", JSON("{not json"))
}
