package store

import (
	"errors"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"200", "404", "500"},
		sortedKeys(map[string]int{"500": 2, "200": 4, "404": 1}))
	assert.Empty(t, sortedKeys(nil))
}

func TestMapJSON(t *testing.T) {
	data, err := mapJSON(nil)
	assert.NoError(t, err)
	assert.Equal(t, []byte("{}"), data)

	data, err = mapJSON(map[string]int{"script": 3})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"script":3}`, string(data))
}

func TestNullStr(t *testing.T) {
	assert.Nil(t, nullStr(""))
	v := nullStr("x")
	assert.NotNil(t, v)
	assert.Equal(t, "x", *v)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))

	assert.True(t, isForeignKeyViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isForeignKeyViolation(&pgconn.PgError{Code: "23505"}))

	assert.True(t, isConnectionError(&pgconn.PgError{Code: "08006"}))
	assert.True(t, isConnectionError(&pgconn.PgError{Code: "57P01"}))
	assert.True(t, isConnectionError(&net.OpError{Op: "read", Err: errors.New("reset")}))
	assert.False(t, isConnectionError(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isConnectionError(nil))
}
