package smtpclient

import "testing"

func TestClassifyProtocolErrorTransientVsPermanent(t *testing.T) {
	if !IsTransient(classifyProtocolError(errString("421 too busy"))) {
		t.Fatalf("expected 421 to classify transient")
	}
	err := classifyProtocolError(errString("550 mailbox unavailable"))
	if IsTransient(err) {
		t.Fatalf("expected 550 to classify permanent, got %v", err)
	}
	var perm *PermanentError
	if !isPermanent(err, &perm) {
		t.Fatalf("expected *PermanentError, got %T", err)
	}
}

func TestClassifyProtocolErrorDefaultsTransient(t *testing.T) {
	err := classifyProtocolError(errString("connection reset by peer"))
	if !IsTransient(err) {
		t.Fatalf("expected unrecognized errors to default transient")
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func isPermanent(err error, target **PermanentError) bool {
	p, ok := err.(*PermanentError)
	if !ok {
		return false
	}
	*target = p
	return true
}
