// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/luxfi/zledger/journal"
	"github.com/luxfi/zledger/payload"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "zledgerctl",
	Short: "Confidential ledger engine CLI",
	Long: `zledgerctl operates a confidential ledger engine: records with
encrypted fields, grant-gated disclosure, threshold vote sessions, and an
assignment lifecycle decided by encrypted comparisons.

The engine never stores or logs plaintext values; every disclosure passes
through the access ledger and is recorded in the journal.`,
	Version: fmt.Sprintf("%s (built %s)", version, buildDate),
}

func init() {
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(versionCmd)
	journalCmd.AddCommand(dumpCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("zledgerctl %s (built %s)\n", version, buildDate)
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the event journal",
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print every journal entry",
	Long:  `Dump walks the journal in sequence order and prints each entry's event.`,
	Run: func(cmd *cobra.Command, args []string) {
		dir, _ := cmd.Flags().GetString("dir")

		j, err := journal.Open(dir, nil, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
			os.Exit(1)
		}
		defer j.Close()

		count := 0
		err = j.Replay(context.Background(), func(entry journal.Entry, ev payload.Event) error {
			signed := ""
			if len(entry.Signature) > 0 {
				signed = " signed"
			}
			fmt.Printf("%6d  %s%s  %s\n",
				entry.Seq,
				time.Unix(0, int64(entry.Time)).UTC().Format(time.RFC3339), //nolint:gosec
				signed,
				describeEvent(ev),
			)
			count++
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read journal: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%d entries\n", count)
	},
}

func init() {
	dumpCmd.Flags().StringP("dir", "d", "", "Journal directory")
	dumpCmd.MarkFlagRequired("dir")

	demoCmd.Flags().StringP("config", "c", "", "Config file (yaml)")
	demoCmd.Flags().StringP("backend", "b", "", "Backend kind (memory, lattice)")
	demoCmd.Flags().StringP("profile", "p", "", "Lattice parameter profile (test, secure)")
	demoCmd.Flags().Int("custodians", 0, "Number of key custodians")
	demoCmd.Flags().Int("threshold", 0, "Custodian shares needed per disclosure")
	demoCmd.Flags().String("journal-dir", "", "Persist the journal to this directory")
	demoCmd.Flags().Bool("sign", false, "Sign journal entries and receipts")
}

func describeEvent(ev payload.Event) string {
	switch ev := ev.(type) {
	case *payload.RecordCreated:
		return fmt.Sprintf("record %d created by %x (%d fields)", ev.Record, ev.Creator, len(ev.Fields))
	case *payload.ValuePut:
		return fmt.Sprintf("record %d field %q written (handle %s)", ev.Record, ev.Field, ev.Handle)
	case *payload.GrantIssued:
		return fmt.Sprintf("grant %s issued on slot %s to %x", ev.Grant, ev.Slot, ev.Grantee)
	case *payload.GrantRevoked:
		return fmt.Sprintf("grant revoked on slot %s from %x", ev.Slot, ev.Grantee)
	case *payload.DisclosureRequested:
		return fmt.Sprintf("disclosure %s requested on slot %s (threshold %d)", ev.Request, ev.Slot, ev.Threshold)
	case *payload.VoteCast:
		return fmt.Sprintf("vote on request %s by %x", ev.Request, ev.Voter)
	case *payload.Disclosed:
		return fmt.Sprintf("slot %s disclosed to %x", ev.Slot, ev.Principal)
	case *payload.RecordAssigned:
		return fmt.Sprintf("record %d assigned to %x", ev.Record, ev.Assignee)
	case *payload.RecordCompleted:
		return fmt.Sprintf("record %d completed by %x", ev.Record, ev.Assignee)
	case *payload.RecordCancelled:
		return fmt.Sprintf("record %d cancelled by %x", ev.Record, ev.By)
	case *payload.TransferIssued:
		return fmt.Sprintf("transfer of %d to %x for record %d", ev.Amount, ev.To, ev.Record)
	case *payload.AggregateCreated:
		return fmt.Sprintf("aggregate %q created by %x", ev.Subject, ev.Owner)
	case *payload.Accumulated:
		return fmt.Sprintf("aggregate %q accumulated by %x", ev.Subject, ev.Contributor)
	default:
		return fmt.Sprintf("unknown event kind %d", ev.Kind())
	}
}
