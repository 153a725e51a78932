package wire

import "testing"

func TestParseTagValid(t *testing.T) {
	tag, err := ParseTag([]byte{0x01, 0xff})
	if err != nil {
		t.Fatalf("ParseTag(0x01): %v", err)
	}
	if tag != TagTunnel {
		t.Fatalf("expected TagTunnel, got %v", tag)
	}

	tag, err = ParseTag([]byte{0x02})
	if err != nil {
		t.Fatalf("ParseTag(0x02): %v", err)
	}
	if tag != TagContext {
		t.Fatalf("expected TagContext, got %v", tag)
	}
}

func TestParseTagInvalid(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xff},
		{0x03},
	}
	for _, c := range cases {
		if _, err := ParseTag(c); err == nil {
			t.Fatalf("ParseTag(%v): expected error, got nil", c)
		}
	}
}
