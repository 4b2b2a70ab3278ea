package metrics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeKeyspace struct {
	keys    int
	expired uint64
}

func (f fakeKeyspace) Len() int        { return f.keys }
func (f fakeKeyspace) Expired() uint64 { return f.expired }

func TestRegistry(t *testing.T) {
	r := New()
	defer r.Stop()

	r.RegisterKeyspace(fakeKeyspace{keys: 3, expired: 7})

	r.ClientConnected()
	r.ClientConnected()
	r.ClientDisconnected()

	r.Command("GET")
	r.Command("GET")
	r.Command("SET")
	r.CommandError("SET")
	r.UnknownCommand()

	assert.Equal(t, int64(1), r.ConnectedClients())
	assert.Equal(t, uint64(2), r.TotalConnections())
	assert.Equal(t, int64(4), r.TotalCommands())

	var buf bytes.Buffer
	r.WritePrometheus(&buf)
	out := buf.String()

	assert.Contains(t, out, `moonkv_commands_total{cmd="get"} 2`)
	assert.Contains(t, out, `moonkv_commands_total{cmd="set"} 1`)
	assert.Contains(t, out, `moonkv_command_errors_total{cmd="set"} 1`)
	assert.Contains(t, out, `moonkv_unknown_commands_total 1`)
	assert.Contains(t, out, `moonkv_connected_clients 1`)
	assert.Contains(t, out, `moonkv_keys 3`)
	assert.Contains(t, out, `moonkv_expired_keys_total 7`)
}

func TestRegistries_AreIndependent(t *testing.T) {
	a, b := New(), New()
	defer a.Stop()
	defer b.Stop()

	a.RegisterKeyspace(fakeKeyspace{})
	b.RegisterKeyspace(fakeKeyspace{})

	a.Command("PING")
	assert.Equal(t, int64(1), a.TotalCommands())
	assert.Equal(t, int64(0), b.TotalCommands())
}
