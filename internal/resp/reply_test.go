package resp_test

import (
	"testing"

	"github.com/akashmaji/goredis/internal/resp"
	"github.com/stretchr/testify/require"
)

func TestSimpleStrings(t *testing.T) {
	require.Equal(t, "+OK\r\n", string(resp.OK.Bytes()))
	require.Equal(t, "+PONG\r\n", string(resp.Pong.Bytes()))
}

func TestError(t *testing.T) {
	require.Equal(t, "-ERR boom\r\n", string(resp.Error("ERR boom").Bytes()))
	require.Equal(t, "-ERR unknown command 'BOGUS'\r\n", string(resp.NewErrorf("unknown command '%s'", "BOGUS").Bytes()))
}

func TestInteger(t *testing.T) {
	require.Equal(t, ":42\r\n", string(resp.Integer(42).Bytes()))
	require.Equal(t, ":-1\r\n", string(resp.Integer(-1).Bytes()))
}

func TestBulk(t *testing.T) {
	require.Equal(t, "$3\r\nbar\r\n", string(resp.Bulk("bar").Bytes()))
	require.Equal(t, "$0\r\n\r\n", string(resp.Bulk("").Bytes()))
	require.Equal(t, "$11\r\nhello world\r\n", string(resp.Bulk("hello world").Bytes()))
}

func TestNull(t *testing.T) {
	require.Equal(t, "$-1\r\n", string(resp.Null.Bytes()))
}

func TestArray(t *testing.T) {
	require.Equal(t, "*0\r\n", string(resp.Array{}.Bytes()))

	arr := resp.BulkArray("a", "b", "c")
	require.Equal(t, "*3\r\n$1\r\na\r\n$1\r\nb\r\n$1\r\nc\r\n", string(arr.Bytes()))

	nested := resp.Array{resp.Integer(1), resp.Null, resp.Bulk("x")}
	require.Equal(t, "*3\r\n:1\r\n$-1\r\n$1\r\nx\r\n", string(nested.Bytes()))
}
