package firewatch

// latestValue drains any values that are already buffered on the channel and returns
// the most recent one, so that a burst of trigger events arriving close together is
// handled with a single re-attach instead of one per event.
func latestValue[V any](value V, ch <-chan V) V {
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return value
			}
			value = v
		default:
			return value
		}
	}
}

// drainTriggers empties any buffered notifications from a unit trigger channel.
func drainTriggers(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
