package realtime

import "testing"

func TestActionQueue_DrainsInOrder(t *testing.T) {
	var q actionQueue
	var got []int
	for i := 0; i < 5; i++ {
		q.push(func() { got = append(got, i) })
	}

	if n := q.drain(); n != 5 {
		t.Fatalf("drain ran %d actions, want 5", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("action %d ran as %d: %v", i, v, got)
		}
	}
	if q.len() != 0 {
		t.Errorf("queue not empty after drain: %d", q.len())
	}
}

func TestActionQueue_PushDuringDrainRunsInSamePass(t *testing.T) {
	var q actionQueue
	var got []string
	q.push(func() {
		got = append(got, "a")
		q.push(func() { got = append(got, "c") })
	})
	q.push(func() { got = append(got, "b") })

	q.drain()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("got %v, want [a b c]", got)
	}
}

func TestActionQueue_Reset(t *testing.T) {
	var q actionQueue
	ran := false
	q.push(func() { ran = true })
	q.reset()

	if q.drain() != 0 || ran {
		t.Error("reset should drop queued actions")
	}
}

func TestGateState_String(t *testing.T) {
	if gateIdle.String() != "idle" || gateAwaitingTranscript.String() != "awaiting_transcript" {
		t.Error("unexpected gate names")
	}
}
