package resp

// SerializeCommand converts a command to its request wire form
func SerializeCommand(cmd Command) []byte {
	return AppendCommand(nil, cmd.Name, cmd.Args)
}
