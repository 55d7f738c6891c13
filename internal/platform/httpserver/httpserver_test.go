package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	h := http.NotFoundHandler()
	srv := New(":8080", h)

	assert.Equal(t, ":8080", srv.Addr)
	assert.NotNil(t, srv.Handler)
	assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
	assert.Positive(t, srv.WriteTimeout)
	assert.Greater(t, srv.IdleTimeout, srv.ReadTimeout)
}
