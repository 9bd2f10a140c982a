package addr

import "testing"

func TestParseRoundTrip(t *testing.T) {
	cases := []string{
		"I0.0", "Q0.3", "M10.5",
		"IB0", "QB1", "MB2",
		"IW96", "QW96", "MW10",
		"ID100", "QD4", "MD20",
		"DB1.DBW0", "DB2.DBD10", "DB3.DBX5.0",
		"T1", "C10",
		"ns=2;s=Tag1", "ns=2;i=1001", "i=42", "BareTag",
	}

	for _, c := range cases {
		t.Run(c, func(t *testing.T) {
			a, err := Parse(c)
			if err != nil {
				t.Fatalf("Parse(%q): %v", c, err)
			}
			again, err := Parse(a.String())
			if err != nil {
				t.Fatalf("re-parse of %q: %v", a.String(), err)
			}
			if again != a {
				t.Fatalf("round trip mismatch: %+v (re-emitted %q) != %+v", a, a.String(), again)
			}
		})
	}
}

func TestParseRejectsBadBit(t *testing.T) {
	if _, err := Parse("I0.9"); err == nil {
		t.Fatal("expected AddressError for bit out of [0,7]")
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected AddressError for empty address")
	}
}

func TestPEIsReadOnly(t *testing.T) {
	a, err := Parse("I0.0")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Area.ReadOnly() {
		t.Fatal("PE must be read-only (boundary behavior: writing I0.0 is rejected)")
	}
}
