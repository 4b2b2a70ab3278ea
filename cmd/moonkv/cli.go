package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var cliCmd = &cobra.Command{
	Use:   "cli COMMAND [ARG...]",
	Short: "Send one command to a running server and print the reply",
	Example: `  moonkv cli SET greeting hello EX 60
  moonkv cli --addr 127.0.0.1:6380 LRANGE queue 0 -1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCLI,
}

func init() {
	cliCmd.Flags().String("addr", "127.0.0.1:6380", wrapString("Address of the moonkv server"))
	cliCmd.Flags().Duration("timeout", 5*time.Second, wrapString("Timeout of the request"))
}

func runCLI(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Protocol: 2,
		// the server has no CLIENT SETINFO
		DisableIdentity: true,
	})
	defer client.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cmdArgs := make([]any, len(args))
	for i, arg := range args {
		cmdArgs[i] = arg
	}

	reply, err := client.Do(ctx, cmdArgs...).Result()

	var redisErr redis.Error
	switch {
	case errors.Is(err, redis.Nil):
		reply = nil
	case errors.As(err, &redisErr):
		fmt.Fprintf(cmd.OutOrStdout(), "(error) %s\n", redisErr.Error())
		return nil
	case err != nil:
		return err
	}

	printReply(cmd.OutOrStdout(), reply, "")
	return nil
}

// printReply renders a reply the way redis-cli does
func printReply(w io.Writer, reply any, indent string) {
	switch v := reply.(type) {
	case nil:
		fmt.Fprintln(w, "(nil)")
	case int64:
		fmt.Fprintf(w, "(integer) %d\n", v)
	case string:
		if strings.ContainsAny(v, "\r\n") {
			fmt.Fprintln(w, v)
			return
		}
		fmt.Fprintf(w, "%q\n", v)
	case []any:
		if len(v) == 0 {
			fmt.Fprintln(w, "(empty array)")
			return
		}
		width := len(fmt.Sprint(len(v)))
		for i, el := range v {
			prefix := fmt.Sprintf("%*d) ", width, i+1)
			if i > 0 {
				fmt.Fprint(w, indent)
			}
			fmt.Fprint(w, prefix)
			printReply(w, el, indent+strings.Repeat(" ", len(prefix)))
		}
	case map[any]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, fmt.Sprint(k))
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%s%s: ", indent, k)
			printReply(w, v[k], indent+"  ")
		}
	default:
		fmt.Fprintln(w, v)
	}
}
