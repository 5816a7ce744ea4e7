// Command writeups builds a searchable index of CTF write-ups.
//
// Architecture overview:
//   - Fetch: a bounded in-memory queue feeds a fixed pool of workers (config fetch.mode and fetch.workers).
//     Each worker fetches {fetch.base_url}/{id} through the Colly-based fetcher, retries transient statuses
//     (503 by default) with bounded backoff, paces requests through a shared token bucket and writes the raw
//     page to the payload store (local, memory, gcs or badger). A Postgres ledger row is upserted per
//     identifier when ledger.dsn is set.
//   - Build: every stored page is parsed with goquery against a selector table. Invalid pages (empty body,
//     the upstream's 404 placeholder) are skipped and counted. Records are written as one JSON array to
//     corpus.output.
//   - Load: the collection is split into batches of load.batch_size and submitted to the search index
//     (Marqo over HTTP, or Valkey with OpenAI-compatible embeddings). Rejected documents and failed batches
//     are counted without aborting the load.
//   - Search: one sample query verifies the index and its top hit is reported.
//
// Operational notes:
//   - Configuration comes from an optional config file, WRITEUPS_* environment variables and flags, in
//     increasing order of precedence.
//   - The final run summary is printed as JSON and published to Pub/Sub when pubsub.project_id and
//     pubsub.topic are set.
//   - With --ops-addr the process serves /healthz, /readyz, /metrics and /v1/status while a run is active.
//   - SIGINT and SIGTERM stop dispatch of new work; in-flight fetches finish and persist.
//
// Quick checklist:
//   - Fetch a small range: writeups fetch --start 1 --end 100 --mode pooled --workers 4
//   - Build the collection: writeups build --output writeups.json
//   - Load into Marqo: writeups load --index marqo --batch-size 4
//   - Query: writeups search "What to do if variable names are jumbled (java)?"
package main
