package app

import "testing"

func TestVerifyPIN(t *testing.T) {
	modern := mustHashPIN(t, "1234")
	legacy := legacyPINHash("1234")

	tests := []struct {
		name        string
		hash        string
		pin         string
		wantOK      bool
		wantUpgrade bool
	}{
		{name: "bcrypt match", hash: modern, pin: "1234", wantOK: true},
		{name: "bcrypt mismatch", hash: modern, pin: "4321"},
		{name: "legacy match", hash: legacy, pin: "1234", wantOK: true, wantUpgrade: true},
		{name: "legacy mismatch", hash: legacy, pin: "12345"},
		{name: "no pin set", hash: "", pin: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ok, upgrade := VerifyPIN(tc.hash, tc.pin)
			if ok != tc.wantOK || upgrade != tc.wantUpgrade {
				t.Fatalf("expected ok=%v upgrade=%v, got ok=%v upgrade=%v", tc.wantOK, tc.wantUpgrade, ok, upgrade)
			}
		})
	}
}

func TestHashPINSalts(t *testing.T) {
	first := mustHashPIN(t, "1234")
	second := mustHashPIN(t, "1234")
	if first == second {
		t.Fatalf("expected distinct hashes for the same pin")
	}
}
