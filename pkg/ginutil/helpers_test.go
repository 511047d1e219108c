package ginutil

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryInt(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?limit=25&page=abc", nil)

	assert.Equal(t, 25, QueryInt(c, "limit", 10))
	assert.Equal(t, 1, QueryInt(c, "page", 1))
	assert.Equal(t, 7, QueryInt(c, "missing", 7))
}

func TestParamUint64(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Params = gin.Params{{Key: "id", Value: "42"}, {Key: "zero", Value: "0"}, {Key: "neg", Value: "-1"}}

	id, err := ParamUint64(c, "id")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	_, err = ParamUint64(c, "zero")
	assert.Error(t, err)
	_, err = ParamUint64(c, "neg")
	assert.Error(t, err)
}
