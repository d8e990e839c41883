// Command client is a minimal reference client for manual testing against a
// running replica cluster: it is not part of the replicated state machine
// itself, only a convenience for driving get/put over the wire contract by
// hand.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kimberlypn/CS3700/raft/clientlib"
)

func main() {
	root := &cobra.Command{Use: "client"}

	var target string
	var basePort int
	root.PersistentFlags().StringVar(&target, "replica", "", "4-hex-digit ID of a replica to contact first")
	root.PersistentFlags().IntVar(&basePort, "base-port", 30000, "UDP port offset a 4-hex-digit ID is added to")

	root.AddCommand(&cobra.Command{
		Use:  "get <key>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientlib.New(target, basePort, uuid.NewString, 2*time.Second)
			value, err := c.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:  "put <key> <value>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientlib.New(target, basePort, uuid.NewString, 2*time.Second)
			return c.Put(args[0], args[1])
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
