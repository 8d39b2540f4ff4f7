package version

import "testing"

func TestGet(t *testing.T) {
	if got := Get(); got != "0.1.0" {
		t.Errorf("Get() = %q, want embedded 0.1.0", got)
	}

	override = " v9.9.9\n"
	defer func() { override = "" }()
	if got := Get(); got != "v9.9.9" {
		t.Errorf("Get() with override = %q", got)
	}
}
