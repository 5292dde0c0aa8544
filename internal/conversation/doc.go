// Package conversation keeps the bounded question/answer history of each
// chat session.
//
// A session is opened through the Manager, which hands out one writer at a
// time per session ID:
//
//	sess, err := mgr.Open(ctx, sessionID)
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	recent, err := sess.Recent(ctx, 0)
//	// ... build a prompt, call the model ...
//	err = sess.Record(ctx, question, answer)
//
// History lives in a Backend. MemoryBackend keeps it for the life of the
// process; RedisBackend stores each session as a Redis list so several ragd
// instances can share it.
package conversation
