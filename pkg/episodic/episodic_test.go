package episodic

import "testing"

func TestParseHelpers(t *testing.T) {
	if parseInt64("12345") != 12345 {
		t.Fatal("expected parseInt64 round-trip")
	}
	if parseFloat("7.5") != 7.5 {
		t.Fatal("expected parseFloat round-trip")
	}
}
