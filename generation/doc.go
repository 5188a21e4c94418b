// Package generation produces synthetic, incrementally revealed output for a
// query. It stands in for a real inference backend: the text is random, but
// the pacing and shape of the stream match what clients of a streaming
// generation API observe.
//
// A Generator is a pull-based state machine. Each call to Next advances it by
// exactly one step, waits for the configured pacing delay, and returns the
// next Partial item. Once every step is spent it returns a single Final item
// carrying the whole output, then io.EOF.
//
//	pending(cursor, remaining) --Next--> pending(cursor', remaining-1)
//	pending(_, 0)              --Next--> final
//	final                      --Next--> done (io.EOF)
//
// Partials concatenate to the output minus its last character; the Final item
// carries the complete output. A Partial may be empty; callers that forward
// partials to a wire format are expected to drop those.
//
// Nothing runs in the background. A Generator only does work while a caller
// is inside Next, so abandoning one never leaves orphaned work behind. Close
// runs the registered cleanup exactly once whether the sequence was drained
// or cut short.
//
// Example:
//
//	gen := generation.New("hi", generation.WithDelay(500*time.Millisecond))
//	defer gen.Close()
//	for {
//	    it, err := gen.Next(ctx)
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(it.Text)
//	}
package generation
