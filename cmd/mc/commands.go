package mc

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/mcmw/lib/mcclient"
	"github.com/spf13/cobra"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value] [flags]",
		Short: "Stores the value for a key on every backend",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var flags uint64
			if len(args) == 3 {
				var err error
				if flags, err = strconv.ParseUint(args[2], 10, 32); err != nil {
					return fmt.Errorf("flags must be a 32 bit number: %w", err)
				}
			}
			if err := client.Set(args[0], uint32(flags), []byte(args[1])); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "stored")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]...",
		Short: "Gets the values for one or more keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client.Get(args...)
			if err != nil {
				return err
			}
			printItems(cmd.OutOrStdout(), args, items, false)
			return nil
		},
	}
	getsCmd = &cobra.Command{
		Use:   "gets [key]...",
		Short: "Gets the values and cas ids for one or more keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client.Gets(args...)
			if err != nil {
				return err
			}
			printItems(cmd.OutOrStdout(), args, items, true)
			return nil
		},
	}
	rawCmd = &cobra.Command{
		Use:   "raw [command]",
		Short: "Sends a raw command line and prints the reply (\\r\\n is appended, use \\n for line breaks inside)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := strings.ReplaceAll(args[0], `\n`, "\r\n") + "\r\n"
			reply, err := client.Do([]byte(line))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(reply)
			return err
		},
	}
)

// printItems prints the items in the order the keys were asked for
func printItems(w io.Writer, keys []string, items map[string]*mcclient.Item, cas bool) {
	seen := make(map[string]bool, len(keys))
	ordered := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			ordered = append(ordered, k)
		}
	}
	// keys the server returned without being asked
	var extra []string
	for k := range items {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)

	for _, k := range append(ordered, extra...) {
		it, ok := items[k]
		if !ok {
			fmt.Fprintf(w, "%s: not found\n", k)
			continue
		}
		if cas {
			fmt.Fprintf(w, "%s (flags %d, cas %d): %s\n", k, it.Flags, it.Cas, it.Value)
		} else {
			fmt.Fprintf(w, "%s (flags %d): %s\n", k, it.Flags, it.Value)
		}
	}
}
