// Package learnstore persists learning sessions and their subscribers in a single JSON file.
//
// Invariants:
// - Every operation reads the whole document from disk; nothing is cached between calls.
// - Mutations rewrite the whole document through a temp file and rename.
// - Reads of absent sessions return defaults; only DeleteSession and Lookup report absence as an error.
// - Subscribe/unsubscribe no-ops are reported as a Result, never as an error.
//
// Usage:
//
//	store, _ := learnstore.New(learnstore.DefaultOptions("/var/lib/learnstate/store.json"))
//	_ = store.SetInfo("run-42", "epoch 3/10")
//	res, _ := store.AddSubscriber("run-42", "123456")
//	fmt.Println(res.Message())
package learnstore
