package gotds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulvii/go-tds/internal/dsn"
	"github.com/ulvii/go-tds/internal/tds"
)

func TestNewConnectorParsesConnectionString(t *testing.T) {
	c, err := NewConnector(Config{ConnectionString: "server=db1;database=orders"})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "db1", c.cfg.ServerName)
	assert.Equal(t, "orders", c.cfg.DatabaseName)
}

func TestNewConnectorRejectsInvalidConnectionString(t *testing.T) {
	_, err := NewConnector(Config{ConnectionString: "database=orders"})
	assert.Error(t, err)
}

func TestNewConnectorCarriesOptionsThrough(t *testing.T) {
	c, err := NewConnector(Config{
		ConnectionString: "server=db1",
		AppName:          "tdsping",
		ClientHostname:   "myhost",
	})
	require.NoError(t, err)
	assert.Equal(t, "tdsping", c.opts.AppName)
	assert.Equal(t, "myhost", c.opts.ClientHostname)
}

func TestNewConnectorAppliesSuppliedDefaults(t *testing.T) {
	d, err := dsn.LoadDefaults([]byte("connect_retry_count: 3\n"))
	require.NoError(t, err)

	c, err := NewConnector(Config{ConnectionString: "server=db1", Defaults: d})
	require.NoError(t, err)
	assert.Equal(t, 3, c.cfg.ConnectRetryCount)
}

// recordingHandler pins the RowHandler shape against a concrete
// implementation. ExecBatch itself is exercised only against a live
// server connection (internal/connect.Conn has no exported constructor
// outside of a real Connect call), so this just locks the callback
// contract a caller above this package must implement.
type recordingHandler struct {
	columns []tds.Column
	rows    [][]interface{}
}

func (h *recordingHandler) OnColumns(columns []tds.Column) { h.columns = columns }
func (h *recordingHandler) OnRow(row []interface{})        { h.rows = append(h.rows, row) }

func TestRowHandlerInterfaceIsSatisfiableByAStub(t *testing.T) {
	var _ RowHandler = (*recordingHandler)(nil)

	h := &recordingHandler{}
	h.OnColumns([]tds.Column{{Name: "id"}})
	h.OnRow([]interface{}{int32(1)})

	assert.Len(t, h.columns, 1)
	assert.Equal(t, []interface{}{int32(1)}, h.rows[0])
}
