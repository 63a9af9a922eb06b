// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"

	"github.com/luxfi/zledger"
	"github.com/luxfi/zledger/acl"
	"github.com/luxfi/zledger/aggregate"
	"github.com/luxfi/zledger/broker"
	"github.com/luxfi/zledger/config"
	"github.com/luxfi/zledger/fhe"
	"github.com/luxfi/zledger/fhe/lattice"
	"github.com/luxfi/zledger/journal"
	"github.com/luxfi/zledger/store"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the delivery workflow end to end",
	Long: `Demo drives the full confidential delivery workflow: a warehouse
creates a record with an encrypted reward and postal code, a courier proves
the record routes to it without seeing the destination, completes the
delivery, and is paid the disclosed reward. Auditors then re-disclose the
reward through a threshold vote, and an analyst reads the average of blind
rating contributions.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := demoConfig(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(1)
		}

		if err := runDemo(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Demo failed: %v\n", err)
			os.Exit(1)
		}
	},
}

// demoConfig resolves the demo configuration: the config file when given,
// overlaid with any explicit flags.
func demoConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}

	if cmd.Flags().Changed("backend") {
		cfg.Backend.Kind, _ = cmd.Flags().GetString("backend")
	}
	if cmd.Flags().Changed("profile") {
		cfg.Backend.Profile, _ = cmd.Flags().GetString("profile")
	}
	if cmd.Flags().Changed("custodians") {
		cfg.Backend.Custodians, _ = cmd.Flags().GetInt("custodians")
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Backend.Threshold, _ = cmd.Flags().GetInt("threshold")
	}
	if cmd.Flags().Changed("journal-dir") {
		cfg.Journal.Dir, _ = cmd.Flags().GetString("journal-dir")
	}
	if cmd.Flags().Changed("sign") {
		cfg.Journal.Sign, _ = cmd.Flags().GetBool("sign")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func buildBackend(cfg config.Config) (fhe.Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendMemory:
		return fhe.NewMemoryBackend(), nil
	case config.BackendLattice:
		profile := lattice.ProfileTest
		if cfg.Backend.Profile == config.ProfileSecure {
			profile = lattice.ProfileSecure
		}
		return lattice.New(lattice.Config{
			Profile:    profile,
			Custodians: cfg.Backend.Custodians,
			Threshold:  cfg.Backend.Threshold,
		})
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

// principal derives a stable demo identity from a name.
func principal(name string) ids.NodeID {
	h := sha256.Sum256([]byte(name))
	id, err := ids.ToNodeID(h[:20])
	if err != nil {
		panic(err)
	}
	return id
}

func runDemo(cfg config.Config) error {
	ctx := context.Background()

	backend, err := buildBackend(cfg)
	if err != nil {
		return err
	}

	var signer journal.Signer
	if cfg.Journal.Sign {
		sk, err := bls.NewSecretKey()
		if err != nil {
			return fmt.Errorf("generating signing key: %w", err)
		}
		signer = journal.NewLocalSigner(sk)
	}

	var j *journal.Journal
	if cfg.Journal.Dir != "" {
		j, err = journal.Open(cfg.Journal.Dir, signer, nil)
	} else {
		j, err = journal.OpenInMemory(signer, nil)
	}
	if err != nil {
		return err
	}
	defer j.Close()

	engine, err := zledger.New(zledger.Config{
		Backend:      backend,
		Journal:      j,
		Signer:       signer,
		RoutingField: cfg.RoutingField,
		RewardField:  cfg.RewardField,
	})
	if err != nil {
		return err
	}

	if prior := j.LastSeq(); prior > 0 {
		if err := engine.Replay(ctx); err != nil {
			return err
		}
		fmt.Printf("Replayed %d journal entries\n\n", prior)
	}

	warehouse := principal("warehouse")
	courier := principal("courier")

	fmt.Printf("Delivery workflow (%s backend)\n\n", cfg.Backend.Kind)

	recordID, err := engine.CreateRecord(ctx, warehouse, store.Schema{
		"reward": fhe.TypeUint64,
		"postal": fhe.TypeUint64,
	})
	if err != nil {
		return err
	}
	if _, err := engine.PutValue(ctx, warehouse, recordID, "reward", 100); err != nil {
		return err
	}
	if _, err := engine.PutValue(ctx, warehouse, recordID, "postal", 12345); err != nil {
		return err
	}
	fmt.Printf("Record created:\n")
	fmt.Printf("  ID: %d\n", recordID)
	fmt.Printf("  Creator: %s\n", warehouse)
	fmt.Printf("  Encrypted fields: reward, postal\n")

	postalSlot := store.SlotID(recordID, "postal")
	if _, err := engine.Grant(ctx, warehouse, courier, postalSlot, acl.KindComputeOnly, false); err != nil {
		return err
	}
	if err := engine.Assign(ctx, courier, recordID, 15000); err != nil {
		return err
	}
	rec, err := engine.GetRecord(recordID)
	if err != nil {
		return err
	}
	fmt.Printf("\nAssignment:\n")
	fmt.Printf("  Courier %s serves postal codes up to 15000\n", courier)
	fmt.Printf("  Routing predicate disclosed true, record is %s\n", rec.State)

	reward, receipt, err := engine.Complete(ctx, courier, recordID)
	if err != nil {
		return err
	}
	balance, _ := engine.Balance(courier)
	fmt.Printf("\nCompletion:\n")
	fmt.Printf("  Disclosed reward: %d\n", reward)
	fmt.Printf("  Courier balance after transfer: %d\n", balance)
	fmt.Printf("  Receipt: record %d, journal seq %d", receipt.UnsignedReceipt.Record, receipt.UnsignedReceipt.Seq)
	if bits := fhe.CustodianBits(receipt.UnsignedReceipt.Custodians); bits.Len() > 0 {
		fmt.Printf(", custodians %s", bits)
	}
	if len(receipt.Signature) > 0 {
		fmt.Printf(", signed")
	}
	fmt.Println()

	// The record is terminal now; read grants for audit remain issuable.
	auditors := []ids.NodeID{
		principal("auditor-1"),
		principal("auditor-2"),
		principal("auditor-3"),
	}
	rewardSlot := store.SlotID(recordID, "reward")
	for _, auditor := range auditors {
		if _, err := engine.Grant(ctx, warehouse, auditor, rewardSlot, acl.KindReadPersistent, false); err != nil {
			return err
		}
	}

	requestID, err := engine.RequestDisclosure(ctx, auditors[0], rewardSlot, 3)
	if err != nil {
		return err
	}
	fmt.Printf("\nThreshold audit (3-of-3 vote):\n")
	for i, auditor := range auditors {
		state, err := engine.Vote(ctx, auditor, requestID)
		if err != nil {
			return err
		}
		fmt.Printf("  Vote %d: session %s\n", i+1, state)
	}
	var last broker.Disclosure
	for _, auditor := range auditors {
		d, err := engine.Result(ctx, auditor, requestID)
		if err != nil {
			return err
		}
		last = d
	}
	fmt.Printf("  Reward disclosed to all voters: %d\n", last.Value)

	attestation, err := engine.AttestDisclosure(last)
	if err != nil {
		return err
	}
	marker := ""
	if len(attestation.Signature) > 0 {
		marker = ", signed"
	}
	fmt.Printf("  Disclosure attested: receipt %s (journal seq %d%s)\n",
		attestation.ID(), attestation.UnsignedDisclosureReceipt.Seq, marker)

	platform := principal("platform")
	analyst := principal("analyst")
	const subject = "courier-rating"

	// A replayed journal may already carry the subject from a prior run.
	if err := engine.CreateAggregate(ctx, platform, subject, fhe.TypeUint64); err != nil &&
		!errors.Is(err, aggregate.ErrAlreadyExists) {
		return err
	}
	for i, rating := range []uint64{5, 4, 3} {
		customer := principal(fmt.Sprintf("customer-%d", i+1))
		if err := engine.Accumulate(ctx, customer, subject, rating); err != nil {
			return err
		}
	}
	if _, err := engine.Grant(ctx, platform, analyst, aggregate.TotalSlot(subject), acl.KindReadPersistent, false); err != nil {
		return err
	}
	if _, err := engine.Grant(ctx, platform, analyst, aggregate.CountSlot(subject), acl.KindReadPersistent, false); err != nil {
		return err
	}
	avg, err := engine.Average(ctx, analyst, subject)
	if err != nil {
		return err
	}
	fmt.Printf("\nBlind aggregation:\n")
	fmt.Printf("  3 customers rated the courier without revealing individual scores\n")
	fmt.Printf("  Average rating disclosed to analyst: %d\n", avg)

	fmt.Printf("\nJournal recorded %d entries\n", j.LastSeq())
	if cfg.Journal.Dir != "" {
		fmt.Printf("Inspect them with: zledgerctl journal dump --dir %s\n", cfg.Journal.Dir)
	}
	return nil
}
