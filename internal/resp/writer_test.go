package resp_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		in   resp.Value
		want string
	}{
		{"integer", resp.MakeInteger(100), ":100\r\n"},
		{"negative integer", resp.MakeInteger(-42), ":-42\r\n"},
		{"ok", resp.MakeOK(), "+OK\r\n"},
		{"error", resp.MakeError("ERR boom"), "-ERR boom\r\n"},
		{"error with line break", resp.MakeError("ERR bad\r\nthing"), "-ERR bad  thing\r\n"},
		{"arity error", resp.MakeErrorWrongNumberOfArguments("GET"), "-ERR wrong number of arguments for 'get' command\r\n"},
		{"bulk", resp.MakeBulkString("hello"), "$5\r\nhello\r\n"},
		{"empty bulk", resp.MakeBulkString(""), "$0\r\n\r\n"},
		{"binary bulk", resp.MakeBulkBytes([]byte("a\r\nb")), "$4\r\na\r\nb\r\n"},
		{"nil bulk", resp.MakeNilBulkString(), "$-1\r\n"},
		{"bool", resp.MakeBool(true), ":1\r\n"},
		{"bulk array", resp.MakeBulkArray([][]byte{[]byte("fff"), []byte("ttt")}), "*2\r\n$3\r\nfff\r\n$3\r\nttt\r\n"},
		{"nil array", resp.MakeNilArray(), "*-1\r\n"},
		{"empty array", resp.MakeArray([]resp.Value{}), "*0\r\n"},
		{
			"nested array",
			resp.MakeArray([]resp.Value{
				resp.MakeInteger(1),
				resp.MakeArray([]resp.Value{resp.MakeSimpleString("inner"), resp.MakeNilBulkString()}),
			}),
			"*2\r\n:1\r\n*2\r\n+inner\r\n$-1\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resp.Encode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))

			var buf bytes.Buffer
			enc := resp.NewEncoder(&buf)
			require.NoError(t, enc.Write(tt.in))
			assert.Zero(t, buf.Len(), "nothing is sent before Flush")
			require.NoError(t, enc.Flush())
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestEncoder_Pipeline(t *testing.T) {
	var buf bytes.Buffer
	enc := resp.NewEncoder(&buf)

	for i := 0; i < 3; i++ {
		require.NoError(t, enc.Write(resp.MakeInteger(int64(i))))
	}
	require.NoError(t, enc.Flush())

	assert.Equal(t, ":0\r\n:1\r\n:2\r\n", buf.String())
}

func TestEncoder_FlushError(t *testing.T) {
	enc := resp.NewEncoder(failingWriter{})

	require.NoError(t, enc.Write(resp.MakeSimpleString("test")))
	assert.ErrorIs(t, enc.Flush(), io.ErrClosedPipe)
}

func TestEncoder_UnknownType(t *testing.T) {
	enc := resp.NewEncoder(io.Discard)
	assert.ErrorIs(t, enc.Write(resp.Value{Type: '?'}), resp.ErrUnknownType)

	_, err := resp.Encode(resp.MakeArray([]resp.Value{resp.MakeInteger(1), {Type: '?'}}))
	assert.ErrorIs(t, err, resp.ErrUnknownType)
}

func TestSerializeCommand(t *testing.T) {
	cmd := resp.Command{
		Name: "SET",
		Args: [][]byte{[]byte("k"), []byte("v")},
	}

	raw := resp.SerializeCommand(cmd)
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n", string(raw))

	decoded, n, err := resp.DecodeCommand(raw)
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	assert.Equal(t, cmd, decoded)
}

type failingWriter struct{}

func (failingWriter) Write(_ []byte) (int, error) {
	return 0, io.ErrClosedPipe
}
