package sync

import (
	"testing"
	"time"

	"github.com/hkdb/mailengine/internal/cache"
)

func TestFindInboxReturnsInboxFolder(t *testing.T) {
	folders := []*cache.Folder{
		{Path: "Archive", Type: cache.FolderArchive},
		{Path: "INBOX", Type: cache.FolderInbox},
		{Path: "Sent", Type: cache.FolderSent},
	}
	got := findInbox(folders)
	if got == nil || got.Path != "INBOX" {
		t.Fatalf("findInbox = %v, want the INBOX folder", got)
	}
}

func TestFindInboxNoneConfigured(t *testing.T) {
	folders := []*cache.Folder{{Path: "Archive", Type: cache.FolderArchive}}
	if got := findInbox(folders); got != nil {
		t.Fatalf("findInbox = %v, want nil when no folder is classified as inbox", got)
	}
}

func TestMinDur(t *testing.T) {
	if got := minDur(5*time.Second, 10*time.Second); got != 5*time.Second {
		t.Fatalf("minDur = %v, want 5s", got)
	}
	if got := minDur(20*time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("minDur = %v, want 10s", got)
	}
}

func TestJitterStaysWithinTwentyPercentOfBase(t *testing.T) {
	base := 5 * time.Second
	for i := 0; i < 50; i++ {
		got := jitter(base)
		lo := base - base/5
		hi := base + base/5
		if got < lo || got > hi {
			t.Fatalf("jitter(%v) = %v, want within [%v, %v]", base, got, lo, hi)
		}
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:          "idle",
		StateConnecting:    "connecting",
		StateAuthenticated: "authenticated",
		StateFoldersKnown:  "folders_known",
		StateSyncing:       "syncing",
		StateIdling:        "idling",
		StateBackoff:       "backoff",
		StateOffline:       "offline",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
