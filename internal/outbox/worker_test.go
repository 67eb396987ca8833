package outbox

import (
	"errors"
	"testing"
	"time"

	"github.com/hkdb/mailengine/internal/smtpclient"
)

func TestBackoffForDoublesUntilCap(t *testing.T) {
	if got := backoffFor(0); got < backoffStart-time.Second || got > backoffStart+time.Second {
		t.Fatalf("expected first backoff near %v, got %v", backoffStart, got)
	}
	if got := backoffFor(20); got > backoffCap+time.Second {
		t.Fatalf("expected backoff to stay at or below the cap, got %v", got)
	}
}

func TestJitterStaysWithinTwentyPercent(t *testing.T) {
	base := 10 * time.Second
	for i := 0; i < 50; i++ {
		got := jitter(base)
		lo := base - base/5
		hi := base + base/5
		if got < lo || got > hi {
			t.Fatalf("jitter(%v) = %v, want within [%v, %v]", base, got, lo, hi)
		}
	}
}

func TestPermanentClassifiesPermanentError(t *testing.T) {
	perr := &smtpclient.PermanentError{Msg: "550 no such user"}
	if !permanent(perr) {
		t.Fatalf("expected a PermanentError to classify as permanent")
	}
	if permanent(errors.New("connection reset")) {
		t.Fatalf("expected a plain error to classify as transient")
	}
}
