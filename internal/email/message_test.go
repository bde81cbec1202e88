package email

import "testing"

func TestRoutingAddresses_Order(t *testing.T) {
	t.Parallel()

	env := &Envelope{
		Recipients:  []string{"rcpt@example.com"},
		ToAddresses: []string{"to1@example.com", "to2@example.com"},
	}

	got := env.RoutingAddresses()
	want := []string{"rcpt@example.com", "to1@example.com", "to2@example.com"}

	if len(got) != len(want) {
		t.Fatalf("RoutingAddresses: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("RoutingAddresses[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRoutingAddresses_Empty(t *testing.T) {
	t.Parallel()

	env := &Envelope{}
	if got := env.RoutingAddresses(); len(got) != 0 {
		t.Errorf("RoutingAddresses: got %v, want empty", got)
	}
}
