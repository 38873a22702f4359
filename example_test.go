package parley_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/adapters/static"
	"github.com/aretw0/parley/pkg/session"
)

// ExampleService_Chat demonstrates a synchronous turn over in-memory storage.
func ExampleService_Chat() {
	svc, err := parley.New(memory.NewStore(), memory.NewRunStore(), static.Client{})
	if err != nil {
		log.Fatal(err)
	}
	defer svc.Close()

	ctx := context.Background()
	reply, err := svc.Chat(ctx, "demo", "hello")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(reply.Reply)

	hist, _ := svc.History(ctx, "demo")
	fmt.Println(len(hist), hist[0].User)

	// Output:
	// You said: hello
	// 1 hello
}

// ExampleService_StartWorkflow shows a durable turn: the run id comes back
// immediately and the reply is read from the finished run.
func ExampleService_StartWorkflow() {
	svc, err := parley.New(memory.NewStore(), memory.NewRunStore(), static.Client{Reply: "pong"})
	if err != nil {
		log.Fatal(err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runID, err := svc.StartWorkflow(ctx, "demo", "ping")
	if err != nil {
		log.Fatal(err)
	}

	run, err := svc.Workflows().Wait(ctx, runID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(run.Status, run.Result.Reply)

	// Output:
	// completed pong
}

// ExampleWithSessionOptions bounds history to three turns.
func ExampleWithSessionOptions() {
	svc, err := parley.New(memory.NewStore(), memory.NewRunStore(), static.Client{},
		parley.WithSessionOptions(session.WithLimit(3)),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer svc.Close()

	ctx := context.Background()
	for _, msg := range []string{"one", "two", "three", "four"} {
		if _, err := svc.Chat(ctx, "demo", msg); err != nil {
			log.Fatal(err)
		}
	}

	hist, _ := svc.History(ctx, "demo")
	for _, t := range hist {
		fmt.Println(t.User)
	}

	// Output:
	// two
	// three
	// four
}
