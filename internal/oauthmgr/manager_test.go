package oauthmgr

import "testing"

func TestIsConfiguredReportsKnownProviders(t *testing.T) {
	m := New(nil, nil, map[string]ProviderConfig{"gmail": {}})
	if !m.IsConfigured("gmail") {
		t.Fatalf("expected gmail to be configured")
	}
	if m.IsConfigured("outlook") {
		t.Fatalf("expected outlook to be unconfigured")
	}
}

func TestLockForReturnsSameMutexForSamePair(t *testing.T) {
	m := New(nil, nil, nil)
	a := m.lockFor("acc1", "gmail")
	b := m.lockFor("acc1", "gmail")
	if a != b {
		t.Fatalf("expected lockFor to return the same mutex for the same (account, provider) pair")
	}
	c := m.lockFor("acc2", "gmail")
	if a == c {
		t.Fatalf("expected lockFor to return distinct mutexes for distinct accounts")
	}
}
