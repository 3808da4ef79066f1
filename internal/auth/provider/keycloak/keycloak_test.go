package keycloak

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublicAuthURL(t *testing.T) {
	got := publicAuthURL("http://keycloak:8080/realms/tapit", "http://localhost:8081/")
	assert.Equal(t, "http://localhost:8081/realms/tapit/protocol/openid-connect/auth", got)
}
