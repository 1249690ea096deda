package all

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"elt/internal/storage"
)

func TestAllBackendsRegistered(t *testing.T) {
	assert.Equal(t, []string{"mssql", "postgres", "sqlite"}, storage.Kinds())
}
