/*
Package parley is a small chat backend with bounded per-session memory and
durable, resumable chat turns.

Each session owns a History of at most ten turns. Appends to one session are
serialized; the oldest turn is evicted first. A chat turn can run
synchronously (Chat) or as a durable two-step workflow (StartWorkflow): the
"llm" step asks the inference client for a reply, the "persist" step appends
the exchange to the session. Step results are checkpointed, so an
interrupted run resumes at its first incomplete step without repeating the
model call.

# Usage

	svc, err := parley.New(memory.NewStore(), memory.NewRunStore(), static.Client{})
	if err != nil {
		log.Fatal(err)
	}
	defer svc.Close()

	reply, err := svc.Chat(ctx, "alice", "hello")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(reply.Reply)

	runID, _ := svc.StartWorkflow(ctx, "alice", "and again")
	run, _ := svc.Workflows().Wait(ctx, runID)
	fmt.Println(run.Result.Reply)

Storage backends live in pkg/adapters (memory, file, redis, dynamo), as do
the inference providers (anthropic, workersai, static) and the HTTP and MCP
surfaces.
*/
package parley
