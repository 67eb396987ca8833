package pop3client

import "testing"

func TestNewClientIsDisconnected(t *testing.T) {
	c := New(Config{Host: "pop.example.com", Port: 995})
	if c.conn != nil || c.tp != nil {
		t.Fatalf("expected New to return a disconnected client")
	}
}
