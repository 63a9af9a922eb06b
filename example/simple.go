// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/luxfi/ids"

	"github.com/luxfi/zledger"
	"github.com/luxfi/zledger/acl"
	"github.com/luxfi/zledger/fhe"
	"github.com/luxfi/zledger/store"
)

func main() {
	ctx := context.Background()

	engine, err := zledger.New(zledger.Config{Backend: fhe.NewMemoryBackend()})
	if err != nil {
		log.Fatal(err)
	}

	warehouse := ids.NodeID{0xAA}
	courier := ids.NodeID{0xBB}

	// A delivery record with an encrypted reward and destination.
	recordID, err := engine.CreateRecord(ctx, warehouse, store.Schema{
		"reward": fhe.TypeUint64,
		"postal": fhe.TypeUint64,
	})
	if err != nil {
		log.Fatal(err)
	}
	if _, err := engine.PutValue(ctx, warehouse, recordID, "reward", 100); err != nil {
		log.Fatal(err)
	}
	if _, err := engine.PutValue(ctx, warehouse, recordID, "postal", 12345); err != nil {
		log.Fatal(err)
	}

	// The courier may compute over the destination but never read it.
	postalSlot := store.SlotID(recordID, "postal")
	if _, err := engine.Grant(ctx, warehouse, courier, postalSlot, acl.KindComputeOnly, false); err != nil {
		log.Fatal(err)
	}

	// The routing predicate (postal <= 15000) is evaluated on ciphertexts;
	// only its boolean outcome is ever disclosed.
	if err := engine.Assign(ctx, courier, recordID, 15000); err != nil {
		log.Fatal(err)
	}

	reward, receipt, err := engine.Complete(ctx, courier, recordID)
	if err != nil {
		log.Fatal(err)
	}
	balance, _ := engine.Balance(courier)

	fmt.Printf("Record %d completed\n", recordID)
	fmt.Printf("Disclosed reward: %d\n", reward)
	fmt.Printf("Courier balance: %d\n", balance)
	fmt.Printf("Receipt sequence: %d\n", receipt.UnsignedReceipt.Seq)
}
