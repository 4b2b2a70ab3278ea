package server

import (
	"slices"
	"strings"

	"github.com/eternalApril/moonkv/internal/resp"
)

type commandMetadata struct {
	arity    int      // Arity includes the command name itself, negative means at least -arity
	flags    []string // read, write, fast, denyoom, etc
	firstKey int      // 1-based index of the first key
	lastKey  int      // 1-based index of the last key
	step     int      // Step count for finding keys
}

var (
	flagsRead      = []string{"readonly", "fast"}
	flagsReadSlow  = []string{"readonly"}
	flagsWrite     = []string{"write", "fast"}
	flagsWriteOOM  = []string{"write", "denyoom", "fast"}
	flagsWriteSlow = []string{"write"}
)

var (
	commandRegistry = map[string]commandMetadata{
		// connection
		"PING":    {-1, []string{"fast", "stale"}, 0, 0, 0},
		"ECHO":    {2, []string{"fast"}, 0, 0, 0},
		"QUIT":    {-1, []string{"fast", "stale"}, 0, 0, 0},
		"COMMAND": {-1, []string{"random", "loading", "stale"}, 0, 0, 0},

		// generic
		"DEL":       {-2, flagsWriteSlow, 1, -1, 1},
		"EXISTS":    {-2, flagsRead, 1, -1, 1},
		"EXPIRE":    {3, flagsWrite, 1, 1, 1},
		"PEXPIRE":   {3, flagsWrite, 1, 1, 1},
		"EXPIREAT":  {3, flagsWrite, 1, 1, 1},
		"PEXPIREAT": {3, flagsWrite, 1, 1, 1},
		"PERSIST":   {2, flagsWrite, 1, 1, 1},
		"TTL":       {2, flagsRead, 1, 1, 1},
		"PTTL":      {2, flagsRead, 1, 1, 1},
		"TYPE":      {2, flagsRead, 1, 1, 1},
		"KEYS":      {2, flagsReadSlow, 0, 0, 0},
		"DBSIZE":    {1, flagsRead, 0, 0, 0},
		"FLUSHALL":  {-1, flagsWriteSlow, 0, 0, 0},

		// string
		"GET":    {2, flagsRead, 1, 1, 1},
		"SET":    {-3, []string{"write", "denyoom"}, 1, 1, 1},
		"INCR":   {2, flagsWriteOOM, 1, 1, 1},
		"DECR":   {2, flagsWriteOOM, 1, 1, 1},
		"INCRBY": {3, flagsWriteOOM, 1, 1, 1},
		"DECRBY": {3, flagsWriteOOM, 1, 1, 1},
		"APPEND": {3, flagsWriteOOM, 1, 1, 1},
		"STRLEN": {2, flagsRead, 1, 1, 1},
		"MGET":   {-2, flagsRead, 1, -1, 1},
		"MSET":   {-3, []string{"write", "denyoom"}, 1, -1, 2},

		// list
		"LPUSH":  {-3, flagsWriteOOM, 1, 1, 1},
		"RPUSH":  {-3, flagsWriteOOM, 1, 1, 1},
		"LPOP":   {-2, flagsWrite, 1, 1, 1},
		"RPOP":   {-2, flagsWrite, 1, 1, 1},
		"LRANGE": {4, flagsReadSlow, 1, 1, 1},
		"LLEN":   {2, flagsRead, 1, 1, 1},
		"LINDEX": {3, flagsReadSlow, 1, 1, 1},

		// set
		"SADD":      {-3, flagsWriteOOM, 1, 1, 1},
		"SREM":      {-3, flagsWrite, 1, 1, 1},
		"SMEMBERS":  {2, flagsReadSlow, 1, 1, 1},
		"SISMEMBER": {3, flagsRead, 1, 1, 1},
		"SCARD":     {2, flagsRead, 1, 1, 1},

		// hash
		"HSET":    {-4, flagsWriteOOM, 1, 1, 1},
		"HGET":    {3, flagsRead, 1, 1, 1},
		"HDEL":    {-3, flagsWrite, 1, 1, 1},
		"HGETALL": {2, flagsReadSlow, 1, 1, 1},
		"HEXISTS": {3, flagsRead, 1, 1, 1},
		"HLEN":    {2, flagsRead, 1, 1, 1},
		"HKEYS":   {2, flagsReadSlow, 1, 1, 1},
		"HVALS":   {2, flagsReadSlow, 1, 1, 1},

		// server
		"INFO":   {-1, []string{"random", "loading", "stale"}, 0, 0, 0},
		"SAVE":   {1, []string{"admin", "noscript"}, 0, 0, 0},
		"BGSAVE": {-1, []string{"admin", "noscript"}, 0, 0, 0},
	}
)

// isWrite reports whether the command changes the keyspace and must reach the AOF
func (m commandMetadata) isWrite() bool {
	return slices.Contains(m.flags, "write")
}

// checkArity validates the number of arguments, the command name excluded
func (m commandMetadata) checkArity(argc int) bool {
	n := argc + 1
	if m.arity >= 0 {
		return n == m.arity
	}
	return n >= -m.arity
}

// commandDoc stores a description for the command
type commandDoc struct {
	summary    string
	complexity string
	group      string
	since      string
}

// commandDocsRegistry documentation registry
var commandDocsRegistry = map[string]commandDoc{
	"PING":    {"Ping the server.", "O(1)", "connection", "1.0.0"},
	"ECHO":    {"Echo the given string.", "O(1)", "connection", "1.0.0"},
	"QUIT":    {"Close the connection.", "O(1)", "connection", "1.0.0"},
	"COMMAND": {"Get array of command details.", "O(N) where N is the number of commands to look up.", "server", "1.0.0"},

	"DEL":       {"Delete a key.", "O(N) where N is the number of keys that will be removed.", "generic", "1.0.0"},
	"EXISTS":    {"Determine if a key exists.", "O(N) where N is the number of keys to check.", "generic", "1.0.0"},
	"EXPIRE":    {"Set a key's time to live in seconds.", "O(1)", "generic", "1.0.0"},
	"PEXPIRE":   {"Set a key's time to live in milliseconds.", "O(1)", "generic", "1.0.0"},
	"EXPIREAT":  {"Set the expiration for a key as a UNIX timestamp.", "O(1)", "generic", "1.0.0"},
	"PEXPIREAT": {"Set the expiration for a key as a UNIX timestamp specified in milliseconds.", "O(1)", "generic", "1.0.0"},
	"PERSIST":   {"Remove the expiration from a key.", "O(1)", "generic", "1.0.0"},
	"TTL":       {"Get the time to live for a key in seconds.", "O(1)", "generic", "1.0.0"},
	"PTTL":      {"Get the time to live for a key in milliseconds.", "O(1)", "generic", "1.0.0"},
	"TYPE":      {"Determine the type stored at key.", "O(1)", "generic", "1.0.0"},
	"KEYS":      {"Find all keys matching the given pattern.", "O(N) with N being the number of keys in the database.", "generic", "1.0.0"},
	"DBSIZE":    {"Return the number of keys in the database.", "O(N) where N is the number of shards.", "server", "1.0.0"},
	"FLUSHALL":  {"Remove all keys.", "O(N) where N is the total number of keys.", "server", "1.0.0"},

	"GET":    {"Get the value of a key.", "O(1)", "string", "1.0.0"},
	"SET":    {"Set the string value of a key.", "O(1)", "string", "1.0.0"},
	"INCR":   {"Increment the integer value of a key by one.", "O(1)", "string", "1.0.0"},
	"DECR":   {"Decrement the integer value of a key by one.", "O(1)", "string", "1.0.0"},
	"INCRBY": {"Increment the integer value of a key by the given amount.", "O(1)", "string", "1.0.0"},
	"DECRBY": {"Decrement the integer value of a key by the given number.", "O(1)", "string", "1.0.0"},
	"APPEND": {"Append a value to a key.", "O(1)", "string", "1.0.0"},
	"STRLEN": {"Get the length of the value stored in a key.", "O(1)", "string", "1.0.0"},
	"MGET":   {"Get the values of all the given keys.", "O(N) where N is the number of keys to retrieve.", "string", "1.0.0"},
	"MSET":   {"Set multiple keys to multiple values.", "O(N) where N is the number of keys to set.", "string", "1.0.0"},

	"LPUSH":  {"Prepend one or multiple elements to a list.", "O(N) where N is the number of elements pushed.", "list", "1.0.0"},
	"RPUSH":  {"Append one or multiple elements to a list.", "O(N) where N is the number of elements pushed.", "list", "1.0.0"},
	"LPOP":   {"Remove and get the first elements in a list.", "O(N) where N is the number of elements returned.", "list", "1.0.0"},
	"RPOP":   {"Remove and get the last elements in a list.", "O(N) where N is the number of elements returned.", "list", "1.0.0"},
	"LRANGE": {"Get a range of elements from a list.", "O(S+N) where S is the start offset and N is the number of elements.", "list", "1.0.0"},
	"LLEN":   {"Get the length of a list.", "O(1)", "list", "1.0.0"},
	"LINDEX": {"Get an element from a list by its index.", "O(1)", "list", "1.0.0"},

	"SADD":      {"Add one or more members to a set.", "O(N) where N is the number of members to be added.", "set", "1.0.0"},
	"SREM":      {"Remove one or more members from a set.", "O(N) where N is the number of members to be removed.", "set", "1.0.0"},
	"SMEMBERS":  {"Get all the members in a set.", "O(N) where N is the set cardinality.", "set", "1.0.0"},
	"SISMEMBER": {"Determine if a given value is a member of a set.", "O(1)", "set", "1.0.0"},
	"SCARD":     {"Get the number of members in a set.", "O(1)", "set", "1.0.0"},

	"HSET":    {"Set the string value of a hash field.", "O(N) where N is the number of field/value pairs.", "hash", "1.0.0"},
	"HGET":    {"Get the value of a hash field.", "O(1)", "hash", "1.0.0"},
	"HDEL":    {"Delete one or more hash fields.", "O(N) where N is the number of fields to be removed.", "hash", "1.0.0"},
	"HGETALL": {"Get all the fields and values in a hash.", "O(N) where N is the size of the hash.", "hash", "1.0.0"},
	"HEXISTS": {"Determine if a hash field exists.", "O(1)", "hash", "1.0.0"},
	"HLEN":    {"Get the number of fields in a hash.", "O(1)", "hash", "1.0.0"},
	"HKEYS":   {"Get all the fields in a hash.", "O(N) where N is the size of the hash.", "hash", "1.0.0"},
	"HVALS":   {"Get all the values in a hash.", "O(N) where N is the size of the hash.", "hash", "1.0.0"},

	"INFO":   {"Get information and statistics about the server.", "O(1)", "server", "1.0.0"},
	"SAVE":   {"Synchronously save the dataset to disk.", "O(N) where N is the total number of keys.", "server", "1.0.0"},
	"BGSAVE": {"Asynchronously save the dataset to disk.", "O(1)", "server", "1.0.0"},
}

func makeFlagsArray(flags []string) resp.Value {
	vals := make([]resp.Value, len(flags))
	for i, f := range flags {
		vals[i] = resp.MakeSimpleString(f)
	}
	return resp.MakeArray(vals)
}

func makeInfoCmdArray(name string) []resp.Value {
	meta := commandRegistry[name]
	return []resp.Value{
		resp.MakeBulkString(strings.ToLower(name)),
		resp.MakeInteger(int64(meta.arity)),
		makeFlagsArray(meta.flags),
		resp.MakeInteger(int64(meta.firstKey)),
		resp.MakeInteger(int64(meta.lastKey)),
		resp.MakeInteger(int64(meta.step)),
	}
}

// sortedCommandNames returns registered names in a stable order
func sortedCommandNames() []string {
	names := make([]string, 0, len(commandRegistry))
	for name := range commandRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func getAllCommands() resp.Value {
	names := sortedCommandNames()
	cmdArray := make([]resp.Value, 0, len(names))
	for _, name := range names {
		cmdArray = append(cmdArray, resp.MakeArray(makeInfoCmdArray(name)))
	}
	return resp.MakeArray(cmdArray)
}

// getCommandsInfo returns details of the named commands, nil for unknown ones
func getCommandsInfo(args [][]byte) resp.Value {
	if len(args) == 0 {
		return getAllCommands()
	}

	result := make([]resp.Value, 0, len(args))
	for _, arg := range args {
		name := strings.ToUpper(string(arg))
		if _, ok := commandRegistry[name]; !ok {
			result = append(result, resp.MakeNilArray())
			continue
		}
		result = append(result, resp.MakeArray(makeInfoCmdArray(name)))
	}
	return resp.MakeArray(result)
}

// getCommandsDocs returns documentation for specified commands or all commands
// Format: [Name, [Summary, val, Since, val...], Name, [...]]
func getCommandsDocs(args [][]byte) resp.Value {
	var targets []string

	if len(args) == 0 {
		targets = sortedCommandNames()
	} else {
		targets = make([]string, 0, len(args))
		for _, arg := range args {
			targets = append(targets, strings.ToUpper(string(arg)))
		}
	}

	result := make([]resp.Value, 0, len(targets)*2)

	for _, name := range targets {
		doc, ok := commandDocsRegistry[name]
		if !ok {
			continue
		}

		result = append(result, resp.MakeBulkString(strings.ToLower(name)))

		props := []resp.Value{
			resp.MakeBulkString("summary"),
			resp.MakeBulkString(doc.summary),
			resp.MakeBulkString("since"),
			resp.MakeBulkString(doc.since),
			resp.MakeBulkString("group"),
			resp.MakeBulkString(doc.group),
			resp.MakeBulkString("complexity"),
			resp.MakeBulkString(doc.complexity),
		}

		result = append(result, resp.MakeArray(props))
	}

	return resp.MakeArray(result)
}
