package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/procci/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_GetCodeByLabel demonstrates registering and looking up a code.
func ExampleSQLiteStore_GetCodeByLabel() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	_ = store.UpsertComputer(ctx, &stores.Computer{
		Name:      "localhost",
		Hostname:  "localhost",
		Transport: "local",
		WorkDir:   "/tmp/procci",
		CreatedAt: time.Now(),
	})
	_ = store.CreateCode(ctx, &stores.Code{
		ID:          "3f1c",
		Label:       "doubler",
		Computer:    "localhost",
		ExecTarget:  "/tmp/singularity-images/giovannipizzi-singularity-doubler-latest.simg",
		InputPlugin: "templatereplacer",
		Metadata:    "{}",
		CreatedAt:   time.Now(),
	})

	code, err := store.GetCodeByLabel(ctx, "doubler", "localhost")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(code.Label, code.InputPlugin)
	// Output: doubler templatereplacer
}
